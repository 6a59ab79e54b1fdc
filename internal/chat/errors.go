package chat

import "errors"

// Unavailable wraps a Presence-Store or Persistence transport failure on the
// hot path (§4.1.3). Clients may retry.
var Unavailable = errors.New("chat: unavailable")

// JoinError carries a policy or transport reason a Join failed.
type JoinError struct{ Reason string }

func (e *JoinError) Error() string { return "chat: join failed: " + e.Reason }

// LeaveError carries a reason a Leave failed.
type LeaveError struct{ Reason string }

func (e *LeaveError) Error() string { return "chat: leave failed: " + e.Reason }

// MessageError carries a reason a SendMessage failed.
type MessageError struct{ Reason string }

func (e *MessageError) Error() string { return "chat: message failed: " + e.Reason }

package planner

import "errors"

// ErrNotImplemented is returned for the broadcast path (no recipient): the
// spec places broadcast-to-all sends out of scope for this layer.
var ErrNotImplemented = errors.New("planner: broadcast send not implemented")

// ErrNoChannelIntersection is returned when a user's configured channels for
// the notification type share nothing with the requested channels.
var ErrNoChannelIntersection = errors.New("planner: no intersection between requested and configured channels")

// ErrDoNotDisturb is returned, without enqueueing anything, when the
// recipient is currently inside their do-not-disturb window. The message
// is surfaced verbatim to API callers (§4.3.4 step 3), so it carries no
// "planner:" prefix.
var ErrDoNotDisturb = errors.New("User is in do not disturb mode, notification will be sent later")

// Package presence implements the Presence Store: the shared Redis-backed
// key/value bus holding per-user session descriptors, per-room active-user
// sets, and the pending-updates cache, plus the room:{C} pub/sub channel
// chat router instances use to propagate messages cross-process.
package presence

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"relaycore/internal/observability"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable is returned when the shared client is nil (Redis never
// connected). Callers surface this as Unavailable per spec §4.1.
var ErrRedisUnavailable = errors.New("presence: redis unavailable")

// Session is the per-connection descriptor stored in user:{U}:sessions.
type Session struct {
	ActiveRoom string `json:"active_room"`
}

// Store is the Presence Store. All keys follow the exact schema:
//
//	user:{U}                 hash {status}
//	user:{U}:sessions        hash {conn_id -> json(Session)}
//	online_users             set {U}
//	room:{C}:active_users    set {U}
//	room:{C}                 hash {last_active}
//	pending_updates          hash {conv_id -> message_id}
//	room:{C}                 pub/sub channel, serialized chat envelopes
type Store struct {
	rdb *redis.Client
}

// New returns a Store backed by rdb. rdb may be nil, in which case every
// operation fails with ErrRedisUnavailable.
func New(rdb *redis.Client) *Store {
	return &Store{rdb: rdb}
}

func userKey(userID string) string            { return "user:" + userID }
func sessionsKey(userID string) string         { return "user:" + userID + ":sessions" }
func roomActiveUsersKey(convID string) string  { return "room:" + convID + ":active_users" }
func roomKey(convID string) string             { return "room:" + convID }
func roomChannel(convID string) string         { return "room:" + convID }
const onlineUsersKey = "online_users"
const pendingUpdatesKey = "pending_updates"

// SetOnline marks U online, adds it to online_users, and records the new
// session under user:{U}:sessions[connID]. Part of Connect (§4.1).
func (s *Store) SetOnline(ctx context.Context, userID, connID string) error {
	if s.rdb == nil {
		return ErrRedisUnavailable
	}
	payload, err := json.Marshal(Session{ActiveRoom: ""})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, userKey(userID), "status", "online")
	pipe.SAdd(ctx, onlineUsersKey, userID)
	pipe.HSet(ctx, sessionsKey(userID), connID, payload)
	_, err = pipe.Exec(ctx)
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_set_online").Inc()
		return err
	}
	return nil
}

// RemoveSession removes connID from user:{U}:sessions. If the sessions hash
// becomes empty, the user is marked offline and removed from online_users.
// Idempotent — part of Disconnect (§4.1).
func (s *Store) RemoveSession(ctx context.Context, userID, connID string) error {
	if s.rdb == nil {
		return ErrRedisUnavailable
	}
	if err := s.rdb.HDel(ctx, sessionsKey(userID), connID).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_remove_session").Inc()
		return err
	}
	remaining, err := s.rdb.HLen(ctx, sessionsKey(userID)).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_remove_session").Inc()
		return err
	}
	if remaining == 0 {
		pipe := s.rdb.TxPipeline()
		pipe.HSet(ctx, userKey(userID), "status", "offline")
		pipe.SRem(ctx, onlineUsersKey, userID)
		if _, err := pipe.Exec(ctx); err != nil {
			observability.RedisErrorRate.WithLabelValues("presence_remove_session").Inc()
			return err
		}
	}
	return nil
}

// SessionsFor returns every session descriptor currently recorded for U,
// keyed by conn_id.
func (s *Store) SessionsFor(ctx context.Context, userID string) (map[string]Session, error) {
	if s.rdb == nil {
		return nil, ErrRedisUnavailable
	}
	raw, err := s.rdb.HGetAll(ctx, sessionsKey(userID)).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_sessions_for").Inc()
		return nil, err
	}
	out := make(map[string]Session, len(raw))
	for connID, payload := range raw {
		var sess Session
		if err := json.Unmarshal([]byte(payload), &sess); err != nil {
			continue
		}
		out[connID] = sess
	}
	return out, nil
}

// IsOnline reports whether U is a member of online_users.
func (s *Store) IsOnline(ctx context.Context, userID string) (bool, error) {
	if s.rdb == nil {
		return false, ErrRedisUnavailable
	}
	ok, err := s.rdb.SIsMember(ctx, onlineUsersKey, userID).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_is_online").Inc()
		return false, err
	}
	return ok, nil
}

// JoinRoom sets this session's active_room to convID, adds U to
// room:{C}:active_users, and stamps room:{C}.last_active. Part of Join
// (§4.1).
func (s *Store) JoinRoom(ctx context.Context, userID, connID, convID string) error {
	if s.rdb == nil {
		return ErrRedisUnavailable
	}
	payload, err := json.Marshal(Session{ActiveRoom: convID})
	if err != nil {
		return fmt.Errorf("marshal session: %w", err)
	}
	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, sessionsKey(userID), connID, payload)
	pipe.SAdd(ctx, roomActiveUsersKey(convID), userID)
	pipe.HSet(ctx, roomKey(convID), "last_active", strconv.FormatInt(time.Now().Unix(), 10))
	_, err = pipe.Exec(ctx)
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_join_room").Inc()
		return err
	}
	return nil
}

// LeaveRoom clears this session's active_room. It only removes U from
// room:{C}:active_users when none of U's remaining sessions still reference
// C, per spec §4.1 Leave. Returns whether room:{C}:active_users is now empty
// cluster-wide, so callers know to unsubscribe (§4.1.1).
func (s *Store) LeaveRoom(ctx context.Context, userID, connID, convID string) (roomEmpty bool, err error) {
	if s.rdb == nil {
		return false, ErrRedisUnavailable
	}
	payload, merr := json.Marshal(Session{ActiveRoom: ""})
	if merr != nil {
		return false, fmt.Errorf("marshal session: %w", merr)
	}
	if err = s.rdb.HSet(ctx, sessionsKey(userID), connID, payload).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_leave_room").Inc()
		return false, err
	}

	sessions, serr := s.SessionsFor(ctx, userID)
	if serr != nil {
		return false, serr
	}
	stillInRoom := false
	for _, sess := range sessions {
		if sess.ActiveRoom == convID {
			stillInRoom = true
			break
		}
	}
	if !stillInRoom {
		if err = s.rdb.SRem(ctx, roomActiveUsersKey(convID), userID).Err(); err != nil {
			observability.RedisErrorRate.WithLabelValues("presence_leave_room").Inc()
			return false, err
		}
	}

	count, cerr := s.rdb.SCard(ctx, roomActiveUsersKey(convID)).Result()
	if cerr != nil {
		observability.RedisErrorRate.WithLabelValues("presence_leave_room").Inc()
		return false, cerr
	}
	return count == 0, nil
}

// ActiveUsers returns the members of room:{C}:active_users.
func (s *Store) ActiveUsers(ctx context.Context, convID string) ([]string, error) {
	if s.rdb == nil {
		return nil, ErrRedisUnavailable
	}
	users, err := s.rdb.SMembers(ctx, roomActiveUsersKey(convID)).Result()
	if err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_active_users").Inc()
		return nil, err
	}
	return users, nil
}

// TouchRoom stamps room:{C}.last_active to now, without altering membership.
func (s *Store) TouchRoom(ctx context.Context, convID string) error {
	if s.rdb == nil {
		return ErrRedisUnavailable
	}
	if err := s.rdb.HSet(ctx, roomKey(convID), "last_active", strconv.FormatInt(time.Now().Unix(), 10)).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_touch_room").Inc()
		return err
	}
	return nil
}

// StagePendingUpdate records that convID's latest message pointer needs an
// eventual update_latest_message call, per §4.1.2. Last writer for a given
// conv_id wins — that is the point, the flusher only needs the newest id.
func (s *Store) StagePendingUpdate(ctx context.Context, convID string, messageID int64) error {
	if s.rdb == nil {
		return ErrRedisUnavailable
	}
	if err := s.rdb.HSet(ctx, pendingUpdatesKey, convID, strconv.FormatInt(messageID, 10)).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_stage_pending").Inc()
		return err
	}
	return nil
}

// DrainPending atomically reads and deletes the entire pending_updates hash,
// returning conv_id -> message_id. Used by the 20s flusher (§4.1.2).
func (s *Store) DrainPending(ctx context.Context) (map[string]int64, error) {
	if s.rdb == nil {
		return nil, ErrRedisUnavailable
	}
	script := redis.NewScript(`
local all = redis.call('HGETALL', KEYS[1])
if #all > 0 then redis.call('DEL', KEYS[1]) end
return all
`)
	raw, err := script.Run(ctx, s.rdb, []string{pendingUpdatesKey}).StringSlice()
	if err != nil && !errors.Is(err, redis.Nil) {
		observability.RedisErrorRate.WithLabelValues("presence_drain_pending").Inc()
		return nil, err
	}
	out := make(map[string]int64, len(raw)/2)
	for i := 0; i+1 < len(raw); i += 2 {
		id, perr := strconv.ParseInt(raw[i+1], 10, 64)
		if perr != nil {
			continue
		}
		out[raw[i]] = id
	}
	return out, nil
}

// Publish sends payload (a serialized chat envelope) on room:{C}.
func (s *Store) Publish(ctx context.Context, convID string, payload []byte) error {
	if s.rdb == nil {
		return ErrRedisUnavailable
	}
	if err := s.rdb.Publish(ctx, roomChannel(convID), payload).Err(); err != nil {
		observability.RedisErrorRate.WithLabelValues("presence_publish").Inc()
		return err
	}
	return nil
}

// Subscribe opens a subscription to room:{C} and returns the underlying
// *redis.PubSub so the caller (the chat router's per-room subscriber task,
// §4.1.1) owns its lifecycle and can Close it once the room empties
// cluster-wide.
func (s *Store) Subscribe(ctx context.Context, convID string) (*redis.PubSub, error) {
	if s.rdb == nil {
		return nil, ErrRedisUnavailable
	}
	return s.rdb.Subscribe(ctx, roomChannel(convID)), nil
}

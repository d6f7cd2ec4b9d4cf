package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour

	// Status constants for the session state machine.
	StatusIdle   = "idle"
	StatusInHall = "in_hall"
)

// Session represents a connection's state stored in Redis. Identity fields
// (UserID, Nickname, CharIndex) are set once at join and are immutable for
// the lifetime of the hall session; a non-positive UserID denotes a guest.
type Session struct {
	ID         string  `redis:"id"`
	Status     string  `redis:"status"`      // idle | in_hall
	UserID     int64   `redis:"user_id"`     // <= 0 for anonymous guests
	Nickname   string  `redis:"nickname"`    //
	CharIndex  int     `redis:"char_index"`  // avatar variant
	HallID     int64   `redis:"hall_id"`     // 0 if not in a hall
	BoothID    int64   `redis:"booth_id"`    // 0 if not in a booth room
	LastX      float64 `redis:"last_x"`      // last published position
	LastY      float64 `redis:"last_y"`      //
	Server     string  `redis:"server"`      // which relay instance
	CreatedAt  int64   `redis:"created_at"`  // unix timestamp
	LastActive int64   `redis:"last_active"` // unix timestamp
}

// InHall reports whether the session currently belongs to a hall.
func (s *Session) InHall() bool {
	return s.Status == StatusInHall && s.HallID != 0
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this relay instance
}

// NewStore creates a new session store connected to Redis.
func NewStore(redisAddr string, serverName string) (*Store, error) {
	client := redis.NewClient(&redis.Options{
		Addr: redisAddr,
	})

	// Verify connection.
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}

	return &Store{client: client, serverName: serverName}, nil
}

// Create stores a new session in Redis with idle status and 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          sessionID,
		"status":      StatusIdle,
		"user_id":     0,
		"nickname":    "",
		"char_index":  0,
		"hall_id":     0,
		"booth_id":    0,
		"last_x":      0,
		"last_y":      0,
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// JoinHall records the connection's declared identity and hall scope, marks
// the session in_hall, and refreshes the TTL.
func (s *Store) JoinHall(ctx context.Context, sessionID string, hallID int64, userID int64, nickname string, charIndex int, x, y float64) error {
	key := SessionPrefix + sessionID
	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"status", StatusInHall,
		"user_id", userID,
		"nickname", nickname,
		"char_index", charIndex,
		"hall_id", hallID,
		"last_x", x,
		"last_y", y,
		"last_active", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// UpdatePosition records the session's last published position.
func (s *Store) UpdatePosition(ctx context.Context, sessionID string, x, y float64) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "last_x", x, "last_y", y, "last_active", time.Now().Unix()).Err()
}

// LeaveHall clears the hall scope and resets the session to idle. Identity
// fields are kept so a subsequent join_booth can reuse them.
func (s *Store) LeaveHall(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "hall_id", 0, "status", StatusIdle, "last_active", time.Now().Unix()).Err()
}

// JoinBooth records the session's booth chat scope.
func (s *Store) JoinBooth(ctx context.Context, sessionID string, boothID int64, userID int64, nickname string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key,
		"booth_id", boothID,
		"user_id", userID,
		"nickname", nickname,
		"last_active", time.Now().Unix(),
	).Err()
}

// LeaveBooth clears the booth chat scope.
func (s *Store) LeaveBooth(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.HSet(ctx, key, "booth_id", 0, "last_active", time.Now().Unix()).Err()
}

// RefreshTTL extends the session's TTL.
func (s *Store) RefreshTTL(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Expire(ctx, key, SessionTTL).Err()
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key).Err()
}

// Close closes the Redis connection.
func (s *Store) Close() error {
	return s.client.Close()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}

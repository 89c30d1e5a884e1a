package mfa

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// State is the challenge lifecycle. Terminal states never resurrect.
type State string

const (
	StateCreated   State = "created"
	StateVerified  State = "verified"
	StateExpired   State = "expired"
	StateExhausted State = "exhausted"
)

// Purpose records why a challenge was issued; the verifier refuses a
// challenge presented for a different purpose.
type Purpose string

const (
	PurposeLogin         Purpose = "login"
	PurposeEnroll        Purpose = "enroll"
	PurposeEmailVerify   Purpose = "email_verify"
	PurposePasswordReset Purpose = "password_reset"
)

// Challenge is one time-boxed verification attempt bound to one enrolled
// method. Only the code hash is stored; the plaintext code exists solely in
// the dispatch channel.
type Challenge struct {
	ID          string
	MethodID    string
	PrincipalID string
	OrgScope    string
	Type        MethodType
	Purpose     Purpose
	CodeHash    [32]byte
	CreatedAt   time.Time
	ExpiresAt   time.Time
	Attempts    int
	State       State
}

var (
	ErrChallengeNotFound  = errors.New("challenge not found")
	ErrChallengeExpired   = errors.New("challenge expired")
	ErrChallengeExhausted = errors.New("challenge attempts exhausted")
	ErrChallengeConsumed  = errors.New("challenge already resolved")
	ErrRedisUnavailable   = errors.New("redis unavailable")
)

// beginVerifyScript burns one attempt atomically before any code
// comparison happens, so two parallel guesses can never both consume the
// last attempt. Expiry is evaluated lazily here, at read time.
const beginVerifyScript = `
local f = redis.call("HMGET", KEYS[1], "state", "expires_at")
if not f[1] then
  return {"missing"}
end
if f[1] ~= "created" then
  return {f[1]}
end
if tonumber(f[2]) <= tonumber(ARGV[1]) then
  redis.call("HSET", KEYS[1], "state", "expired")
  return {"expired"}
end
local left = redis.call("HINCRBY", KEYS[1], "attempts", -1)
if left < 0 then
  redis.call("HSET", KEYS[1], "state", "exhausted", "attempts", "0")
  return {"exhausted"}
end
return {"ok", left, redis.call("HGET", KEYS[1], "code_hash")}
`

var beginVerifyLua = redis.NewScript(beginVerifyScript)

// resolveScript is the created→terminal transition guard: exactly one
// caller wins the flip, which keeps success single-shot under races.
const resolveScript = `
local st = redis.call("HGET", KEYS[1], "state")
if st == "created" then
  redis.call("HSET", KEYS[1], "state", ARGV[1])
  return 1
end
return 0
`

var resolveLua = redis.NewScript(resolveScript)

// ChallengeStore keeps challenges in Redis with a TTL slightly past their
// logical expiry so terminal states remain observable.
type ChallengeStore struct {
	redis  redis.UniversalClient
	prefix string
}

func NewChallengeStore(client redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "ias"
	}
	return &ChallengeStore{redis: client, prefix: prefix}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":chal:" + id
}

// Create persists a fresh challenge. The TTL is derived from the caller's
// clock, matching the lazy expiry checks in BeginVerify.
func (s *ChallengeStore) Create(ctx context.Context, ch Challenge, now time.Time) error {
	ttl := ch.ExpiresAt.Sub(now)
	if ttl <= 0 {
		return ErrChallengeExpired
	}

	err := s.redis.HSet(ctx, s.key(ch.ID), map[string]interface{}{
		"method_id":    ch.MethodID,
		"principal_id": ch.PrincipalID,
		"org_scope":    ch.OrgScope,
		"type":         string(ch.Type),
		"purpose":      string(ch.Purpose),
		"code_hash":    hex.EncodeToString(ch.CodeHash[:]),
		"created_at":   ch.CreatedAt.Unix(),
		"expires_at":   ch.ExpiresAt.Unix(),
		"attempts":     ch.Attempts,
		"state":        string(StateCreated),
	}).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Keep the row around after logical expiry so callers observe
	// "expired" instead of "not found".
	if err := s.redis.PExpire(ctx, s.key(ch.ID), 2*ttl+time.Minute).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads a challenge without consuming an attempt.
func (s *ChallengeStore) Get(ctx context.Context, id string) (*Challenge, error) {
	fields, err := s.redis.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrChallengeNotFound
	}

	ch := &Challenge{
		ID:          id,
		MethodID:    fields["method_id"],
		PrincipalID: fields["principal_id"],
		OrgScope:    fields["org_scope"],
		Type:        MethodType(fields["type"]),
		Purpose:     Purpose(fields["purpose"]),
		State:       State(fields["state"]),
		CreatedAt:   unixField(fields["created_at"]),
		ExpiresAt:   unixField(fields["expires_at"]),
	}
	fmt.Sscanf(fields["attempts"], "%d", &ch.Attempts)
	if raw, err := hex.DecodeString(fields["code_hash"]); err == nil && len(raw) == 32 {
		copy(ch.CodeHash[:], raw)
	}

	return ch, nil
}

// BeginVerify consumes one attempt and returns the remaining budget plus
// the stored code hash for constant-time comparison by the caller.
func (s *ChallengeStore) BeginVerify(ctx context.Context, id string, now time.Time) (int, [32]byte, error) {
	var codeHash [32]byte

	res, err := beginVerifyLua.Run(ctx, s.redis, []string{s.key(id)}, now.Unix()).Result()
	if err != nil {
		return 0, codeHash, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reply, ok := res.([]interface{})
	if !ok || len(reply) == 0 {
		return 0, codeHash, fmt.Errorf("%w: unexpected verify reply", ErrRedisUnavailable)
	}

	switch reply[0] {
	case "ok":
		remaining, _ := reply[1].(int64)
		encoded, _ := reply[2].(string)
		raw, err := hex.DecodeString(encoded)
		if err != nil || len(raw) != 32 {
			return 0, codeHash, fmt.Errorf("%w: corrupt code hash", ErrRedisUnavailable)
		}
		copy(codeHash[:], raw)
		return int(remaining), codeHash, nil
	case "missing":
		return 0, codeHash, ErrChallengeNotFound
	case string(StateExpired):
		return 0, codeHash, ErrChallengeExpired
	case string(StateExhausted):
		return 0, codeHash, ErrChallengeExhausted
	default:
		return 0, codeHash, ErrChallengeConsumed
	}
}

// Complete flips created→verified; false means another caller resolved the
// challenge first.
func (s *ChallengeStore) Complete(ctx context.Context, id string) (bool, error) {
	return s.resolve(ctx, id, StateVerified)
}

// Exhaust flips created→exhausted after the final failed attempt.
func (s *ChallengeStore) Exhaust(ctx context.Context, id string) (bool, error) {
	return s.resolve(ctx, id, StateExhausted)
}

func (s *ChallengeStore) resolve(ctx context.Context, id string, terminal State) (bool, error) {
	res, err := resolveLua.Run(ctx, s.redis, []string{s.key(id)}, string(terminal)).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

func unixField(v string) time.Time {
	var n int64
	if _, err := fmt.Sscanf(v, "%d", &n); err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

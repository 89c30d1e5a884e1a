package session

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no registry row exists for a family.
	ErrNotFound = errors.New("session family not found")
	// ErrFamilyRevoked is returned when the family is already inactive.
	ErrFamilyRevoked = errors.New("session family revoked")
	// ErrFamilyExpired is returned when the family is past its expiry.
	ErrFamilyExpired = errors.New("session family expired")
	// ErrReuseDetected is returned when a rotation presents a refresh hash
	// that the family has already advanced past. The script has revoked the
	// whole family by the time callers observe this.
	ErrReuseDetected = errors.New("refresh token reuse detected")
	// ErrRedisUnavailable wraps transport-level failures.
	ErrRedisUnavailable = errors.New("redis unavailable")
)

const (
	rotateNotFound int64 = 0
	rotateRevoked  int64 = 1
	rotateExpired  int64 = 2
	rotateReuse    int64 = 3
	rotateOK       int64 = 4
)

// rotateScript serializes rotation per family: the first caller whose
// provided hash matches wins and advances the stored hash; any other
// concurrent caller observes a mismatch, which deactivates the family.
// A race between two legitimate refreshes and a replay of a stolen token
// are indistinguishable here, and both take the revoke path.
const rotateScript = `
local fields = redis.call("HMGET", KEYS[1], "refresh_hash", "active", "expires_at")
if not fields[1] then
  return {0}
end
if fields[2] ~= "1" then
  return {1}
end
if tonumber(fields[3]) <= tonumber(ARGV[3]) then
  redis.call("HSET", KEYS[1], "active", "0")
  return {2}
end
if fields[1] ~= ARGV[1] then
  redis.call("HSET", KEYS[1], "active", "0")
  return {3}
end
redis.call("HSET", KEYS[1],
  "refresh_hash", ARGV[2],
  "last_activity", ARGV[3],
  "expires_at", ARGV[4])
redis.call("HINCRBY", KEYS[1], "rotations", 1)
redis.call("PEXPIRE", KEYS[1], ARGV[5])
return {4}
`

var rotateLua = redis.NewScript(rotateScript)

// revokeScript flips active off without touching expiry; repeat calls are
// no-ops so revocation stays idempotent.
const revokeScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
redis.call("HSET", KEYS[1], "active", "0")
return 1
`

var revokeLua = redis.NewScript(revokeScript)

// Store is the Redis-backed session registry. One hash per family plus a
// per-principal index set for self-service listing.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

func NewStore(client redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "ias"
	}
	return &Store{redis: client, prefix: prefix}
}

func (s *Store) familyKey(familyID string) string {
	return s.prefix + ":fam:" + familyID
}

func (s *Store) principalKey(principalID string) string {
	return s.prefix + ":idx:" + principalID
}

// Save registers a new family. The index set outlives individual families
// slightly; List prunes members whose hash is gone.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	key := s.familyKey(sess.FamilyID)

	_, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key, map[string]interface{}{
			"principal_id":  sess.PrincipalID,
			"org_scope":     sess.OrgScope,
			"device":        sess.Device,
			"ip":            sess.IP,
			"user_agent":    sess.UserAgent,
			"refresh_hash":  hex.EncodeToString(sess.RefreshHash[:]),
			"created_at":    sess.CreatedAt.Unix(),
			"last_activity": sess.LastActivity.Unix(),
			"expires_at":    sess.ExpiresAt.Unix(),
			"active":        boolField(sess.Active),
			"rotations":     sess.Rotations,
		})
		pipe.PExpire(ctx, key, ttl)
		pipe.SAdd(ctx, s.principalKey(sess.PrincipalID), sess.FamilyID)
		pipe.PExpire(ctx, s.principalKey(sess.PrincipalID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	return nil
}

// Get loads one family. Expiry is evaluated lazily: a row past expires_at
// is reported as ErrFamilyExpired even before Redis reclaims it.
func (s *Store) Get(ctx context.Context, familyID string, now time.Time) (*Session, error) {
	fields, err := s.redis.HGetAll(ctx, s.familyKey(familyID)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	sess, err := sessionFromFields(familyID, fields)
	if err != nil {
		return nil, err
	}
	if sess.Expired(now) {
		return nil, ErrFamilyExpired
	}

	return sess, nil
}

// Rotate performs the single-winner refresh-hash swap. On hash mismatch the
// family has been revoked server-side and ErrReuseDetected is returned.
func (s *Store) Rotate(ctx context.Context, familyID string, providedHash, nextHash [32]byte, now time.Time, extendTo time.Time) error {
	ttl := extendTo.Sub(now)
	if ttl <= 0 {
		return ErrFamilyExpired
	}

	res, err := rotateLua.Run(ctx, s.redis,
		[]string{s.familyKey(familyID)},
		hex.EncodeToString(providedHash[:]),
		hex.EncodeToString(nextHash[:]),
		now.Unix(),
		extendTo.Unix(),
		ttl.Milliseconds(),
	).Result()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	status, ok := res.([]interface{})
	if !ok || len(status) == 0 {
		return fmt.Errorf("%w: unexpected rotate reply", ErrRedisUnavailable)
	}

	switch status[0] {
	case rotateOK:
		return nil
	case rotateNotFound:
		return ErrNotFound
	case rotateRevoked:
		return ErrFamilyRevoked
	case rotateExpired:
		return ErrFamilyExpired
	case rotateReuse:
		return ErrReuseDetected
	default:
		return fmt.Errorf("%w: unexpected rotate status %v", ErrRedisUnavailable, status[0])
	}
}

// Revoke deactivates a family. Idempotent; the bool reports whether the
// family existed.
func (s *Store) Revoke(ctx context.Context, familyID string) (bool, error) {
	res, err := revokeLua.Run(ctx, s.redis, []string{s.familyKey(familyID)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return res == 1, nil
}

// RevokeAll deactivates every family of a principal and returns how many
// were still active.
func (s *Store) RevokeAll(ctx context.Context, principalID string) (int, error) {
	familyIDs, err := s.redis.SMembers(ctx, s.principalKey(principalID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	revoked := 0
	for _, familyID := range familyIDs {
		sess, err := s.Get(ctx, familyID, time.Now())
		if err != nil {
			if errors.Is(err, ErrRedisUnavailable) {
				return revoked, err
			}
			continue
		}
		if !sess.Active {
			continue
		}
		if _, err := s.Revoke(ctx, familyID); err != nil {
			return revoked, err
		}
		revoked++
	}

	return revoked, nil
}

// List returns the active, unexpired sessions of a principal for
// self-service review, pruning index members whose rows are gone.
func (s *Store) List(ctx context.Context, principalID string, now time.Time) ([]*Session, error) {
	indexKey := s.principalKey(principalID)
	familyIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	var out []*Session
	for _, familyID := range familyIDs {
		sess, err := s.Get(ctx, familyID, now)
		switch {
		case err == nil:
			if sess.Active {
				out = append(out, sess)
			}
		case errors.Is(err, ErrNotFound):
			_ = s.redis.SRem(ctx, indexKey, familyID).Err()
		case errors.Is(err, ErrFamilyExpired):
			// Leave reclamation to Redis TTL.
		default:
			return nil, err
		}
	}

	return out, nil
}

// SweepExpired deletes expired family rows and prunes dead index members
// for one principal. Lazy expiry keeps the registry correct without it;
// this is storage hygiene only, returning how many entries were reclaimed.
func (s *Store) SweepExpired(ctx context.Context, principalID string, now time.Time) (int, error) {
	indexKey := s.principalKey(principalID)
	familyIDs, err := s.redis.SMembers(ctx, indexKey).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	reclaimed := 0
	for _, familyID := range familyIDs {
		_, err := s.Get(ctx, familyID, now)
		switch {
		case err == nil:
			continue
		case errors.Is(err, ErrNotFound):
			if err := s.redis.SRem(ctx, indexKey, familyID).Err(); err != nil {
				return reclaimed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			reclaimed++
		case errors.Is(err, ErrFamilyExpired):
			if _, err := s.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
				pipe.Del(ctx, s.familyKey(familyID))
				pipe.SRem(ctx, indexKey, familyID)
				return nil
			}); err != nil {
				return reclaimed, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
			}
			reclaimed++
		default:
			return reclaimed, err
		}
	}

	return reclaimed, nil
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

func sessionFromFields(familyID string, fields map[string]string) (*Session, error) {
	rawHash, err := hex.DecodeString(fields["refresh_hash"])
	if err != nil || len(rawHash) != 32 {
		return nil, fmt.Errorf("%w: corrupt refresh hash", ErrRedisUnavailable)
	}

	sess := &Session{
		FamilyID:    familyID,
		PrincipalID: fields["principal_id"],
		OrgScope:    fields["org_scope"],
		Device:      fields["device"],
		IP:          fields["ip"],
		UserAgent:   fields["user_agent"],
		Active:      fields["active"] == "1",
	}
	copy(sess.RefreshHash[:], rawHash)

	sess.CreatedAt = unixField(fields["created_at"])
	sess.LastActivity = unixField(fields["last_activity"])
	sess.ExpiresAt = unixField(fields["expires_at"])
	sess.Rotations, _ = strconv.ParseInt(fields["rotations"], 10, 64)

	return sess, nil
}

func unixField(v string) time.Time {
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}
	}
	return time.Unix(n, 0)
}

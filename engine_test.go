package authcore

import (
	"context"
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base32"
	"encoding/binary"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/stef9github/ReactDjango-Hub-sub008/authz"
	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
)

// testClock is an adjustable engine clock.
type testClock struct {
	mu sync.Mutex
	t  time.Time
}

func newTestClock() *testClock {
	return &testClock{t: time.Now()}
}

func (c *testClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.t
}

func (c *testClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.t = c.t.Add(d)
}

// memoryDirectory is an in-memory PrincipalDirectory.
type memoryDirectory struct {
	mu      sync.Mutex
	records map[string]PrincipalRecord
}

func newMemoryDirectory() *memoryDirectory {
	return &memoryDirectory{records: map[string]PrincipalRecord{}}
}

func (d *memoryDirectory) CreatePrincipal(_ context.Context, record PrincipalRecord) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, existing := range d.records {
		if existing.Identifier == record.Identifier && existing.OrgScope == record.OrgScope {
			return ErrPrincipalExists
		}
	}
	d.records[record.ID] = record
	return nil
}

func (d *memoryDirectory) GetPrincipal(_ context.Context, id string) (PrincipalRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.records[id]
	if !ok {
		return PrincipalRecord{}, ErrPrincipalNotFound
	}
	return record, nil
}

func (d *memoryDirectory) FindByIdentifier(_ context.Context, identifier, orgScope string) (PrincipalRecord, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	for _, record := range d.records {
		if record.Identifier == identifier && record.OrgScope == orgScope {
			return record, nil
		}
	}
	return PrincipalRecord{}, ErrPrincipalNotFound
}

func (d *memoryDirectory) UpdatePasswordHash(_ context.Context, id, hash string) error {
	return d.update(id, func(r *PrincipalRecord) { r.PasswordHash = hash })
}

func (d *memoryDirectory) SetStatus(_ context.Context, id string, status PrincipalStatus) error {
	return d.update(id, func(r *PrincipalRecord) { r.Status = status })
}

func (d *memoryDirectory) RecordLoginFailure(_ context.Context, id string) (int, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.records[id]
	if !ok {
		return 0, ErrPrincipalNotFound
	}
	record.FailedLogins++
	d.records[id] = record
	return record.FailedLogins, nil
}

func (d *memoryDirectory) ClearLoginFailures(_ context.Context, id string) error {
	return d.update(id, func(r *PrincipalRecord) { r.FailedLogins = 0 })
}

func (d *memoryDirectory) SetLockout(_ context.Context, id string, until time.Time) error {
	return d.update(id, func(r *PrincipalRecord) {
		r.Status = StatusLocked
		r.LockedUntil = until
	})
}

func (d *memoryDirectory) ClearLockout(_ context.Context, id string) error {
	return d.update(id, func(r *PrincipalRecord) {
		r.Status = StatusActive
		r.LockedUntil = time.Time{}
		r.FailedLogins = 0
	})
}

func (d *memoryDirectory) update(id string, fn func(*PrincipalRecord)) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	record, ok := d.records[id]
	if !ok {
		return ErrPrincipalNotFound
	}
	fn(&record)
	d.records[id] = record
	return nil
}

// memoryMethods is an in-memory mfa.MethodStore.
type memoryMethods struct {
	mu       sync.Mutex
	methods  map[string]mfa.Method
	backup   map[string][]mfa.BackupCode
	counters map[string]int64
}

func newMemoryMethods() *memoryMethods {
	return &memoryMethods{
		methods:  map[string]mfa.Method{},
		backup:   map[string][]mfa.BackupCode{},
		counters: map[string]int64{},
	}
}

func (s *memoryMethods) CreateMethod(_ context.Context, m mfa.Method) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.methods[m.ID] = m
	return nil
}

func (s *memoryMethods) GetMethod(_ context.Context, methodID string) (mfa.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[methodID]
	if !ok {
		return mfa.Method{}, mfa.ErrMethodNotFound
	}
	return m, nil
}

func (s *memoryMethods) ListMethods(_ context.Context, principalID string) ([]mfa.Method, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []mfa.Method
	for _, m := range s.methods {
		if m.PrincipalID == principalID {
			out = append(out, m)
		}
	}
	return out, nil
}

func (s *memoryMethods) MarkMethodVerified(_ context.Context, methodID string) error {
	return s.updateMethod(methodID, func(m *mfa.Method) { m.Verified = true })
}

func (s *memoryMethods) SetPrimaryMethod(_ context.Context, principalID, methodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	target, ok := s.methods[methodID]
	if !ok || target.PrincipalID != principalID {
		return mfa.ErrMethodNotFound
	}
	for id, m := range s.methods {
		if m.PrincipalID == principalID {
			m.Primary = id == methodID
			s.methods[id] = m
		}
	}
	return nil
}

func (s *memoryMethods) DeleteMethod(_ context.Context, methodID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[methodID]; !ok {
		return mfa.ErrMethodNotFound
	}
	delete(s.methods, methodID)
	return nil
}

func (s *memoryMethods) ReplaceBackupCodes(_ context.Context, principalID string, codes []mfa.BackupCode) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.backup[principalID] = append([]mfa.BackupCode(nil), codes...)
	return nil
}

func (s *memoryMethods) ConsumeBackupCode(_ context.Context, principalID string, hash [32]byte) (int, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	codes := s.backup[principalID]
	consumed := false
	for i := range codes {
		if !codes[i].Used && codes[i].Hash == hash {
			codes[i].Used = true
			consumed = true
			break
		}
	}
	remaining := 0
	for _, code := range codes {
		if !code.Used {
			remaining++
		}
	}
	return remaining, consumed, nil
}

func (s *memoryMethods) UpdateTOTPCounter(_ context.Context, methodID string, counter int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[methodID]; !ok {
		return mfa.ErrMethodNotFound
	}
	s.counters[methodID] = counter
	return nil
}

func (s *memoryMethods) GetTOTPCounter(_ context.Context, methodID string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.methods[methodID]; !ok {
		return 0, mfa.ErrMethodNotFound
	}
	return s.counters[methodID], nil
}

func (s *memoryMethods) updateMethod(methodID string, fn func(*mfa.Method)) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	m, ok := s.methods[methodID]
	if !ok {
		return mfa.ErrMethodNotFound
	}
	fn(&m)
	s.methods[methodID] = m
	return nil
}

// captureSender records dispatched codes instead of delivering them.
type captureSender struct {
	mu           sync.Mutex
	destinations []string
	codes        []string
}

func (s *captureSender) Send(_ context.Context, destination, code string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.destinations = append(s.destinations, destination)
	s.codes = append(s.codes, code)
	return nil
}

func (s *captureSender) lastCode(t *testing.T) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.codes) == 0 {
		t.Fatal("no code dispatched")
	}
	return s.codes[len(s.codes)-1]
}

// staticAssignments serves role assignments from a mutable map.
type staticAssignments struct {
	mu          sync.Mutex
	byPrincipal map[string][]authz.Assignment
}

func newStaticAssignments() *staticAssignments {
	return &staticAssignments{byPrincipal: map[string][]authz.Assignment{}}
}

func (s *staticAssignments) set(principalID string, assignments ...authz.Assignment) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.byPrincipal[principalID] = assignments
}

func (s *staticAssignments) AssignmentsFor(_ context.Context, principalID, orgScope string) ([]authz.Assignment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []authz.Assignment
	for _, a := range s.byPrincipal[principalID] {
		if a.OrgScope == orgScope {
			out = append(out, a)
		}
	}
	return out, nil
}

func engineTestConfig() Config {
	cfg := DefaultConfig()
	cfg.JWT.SigningMethod = "hs256"
	cfg.JWT.HS256Key = []byte("engine-test-secret-0123456789abcdef")
	cfg.Password.Memory = 8 * 1024
	cfg.Password.Time = 1
	cfg.Password.Parallelism = 1
	cfg.Audit.Enabled = false
	cfg.Metrics.Enabled = false
	return cfg
}

type engineFixture struct {
	engine      *Engine
	directory   *memoryDirectory
	methods     *memoryMethods
	sender      *captureSender
	assignments *staticAssignments
	clock       *testClock
}

func newTestRedisClient(t *testing.T) *redis.Client {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })
	return rdb
}

func newTestEngine(t *testing.T, cfg Config) *engineFixture {
	t.Helper()

	rdb := newTestRedisClient(t)

	directory := newMemoryDirectory()
	methods := newMemoryMethods()
	sender := &captureSender{}
	assignments := newStaticAssignments()

	engine, err := New().
		WithConfig(cfg).
		WithRedis(rdb).
		WithDirectory(directory).
		WithMethodStore(methods).
		WithAssignments(assignments).
		WithSender(sender).
		WithPermissions([]string{"billing:read", "billing:write", "users:read"}).
		WithRoles(map[string][]string{
			"viewer": {"billing:read"},
			"editor": {"billing:read", "billing:write"},
			"writer": {"billing:write"},
		}).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	t.Cleanup(engine.Close)

	clock := newTestClock()
	engine.now = clock.Now

	return &engineFixture{
		engine:      engine,
		directory:   directory,
		methods:     methods,
		sender:      sender,
		assignments: assignments,
		clock:       clock,
	}
}

// registerActive creates and activates a principal, returning its id.
func (f *engineFixture) registerActive(t *testing.T, identifier, password, orgScope string) string {
	t.Helper()
	ctx := context.Background()

	reg, err := f.engine.Register(ctx, RegisterParams{
		Identifier: identifier,
		Password:   password,
		OrgScope:   orgScope,
	})
	if err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if err := f.engine.VerifyEmail(ctx, reg.ChallengeID, f.sender.lastCode(t)); err != nil {
		t.Fatalf("VerifyEmail failed: %v", err)
	}
	return reg.PrincipalID
}

// totpCode derives the RFC 6238 value for the provisioning secret at now.
func totpCode(t *testing.T, secretBase32 string, now time.Time) string {
	t.Helper()

	key, err := base32.StdEncoding.WithPadding(base32.NoPadding).DecodeString(secretBase32)
	if err != nil {
		t.Fatalf("decode totp secret: %v", err)
	}

	var msg [8]byte
	binary.BigEndian.PutUint64(msg[:], uint64(now.Unix()/30))

	mac := hmac.New(sha1.New, key)
	_, _ = mac.Write(msg[:])
	sum := mac.Sum(nil)

	offset := sum[len(sum)-1] & 0x0f
	bin := (int(sum[offset])&0x7f)<<24 |
		(int(sum[offset+1])&0xff)<<16 |
		(int(sum[offset+2])&0xff)<<8 |
		(int(sum[offset+3]) & 0xff)

	return fmt.Sprintf("%06d", bin%1000000)
}

package authcore

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"errors"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/stef9github/ReactDjango-Hub-sub008/authz"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/audit"
	internalrate "github.com/stef9github/ReactDjango-Hub-sub008/internal/rate"
	"github.com/stef9github/ReactDjango-Hub-sub008/internal/secrets"
	"github.com/stef9github/ReactDjango-Hub-sub008/jwt"
	"github.com/stef9github/ReactDjango-Hub-sub008/mfa"
	"github.com/stef9github/ReactDjango-Hub-sub008/password"
	"github.com/stef9github/ReactDjango-Hub-sub008/session"
)

// Builder assembles an Engine. Configure, wire dependencies, then call
// Build exactly once.
type Builder struct {
	config Config

	redis       redis.UniversalClient
	directory   PrincipalDirectory
	methods     mfa.MethodStore
	assignments authz.AssignmentSource
	sender      mfa.Sender

	auditSink     AuditSink
	auditFallback AuditSink
	registerer    prometheus.Registerer

	permissions []string
	roles       map[string][]string

	built bool
}

// New returns a builder preloaded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithDirectory wires the durable credential store.
func (b *Builder) WithDirectory(dir PrincipalDirectory) *Builder {
	b.directory = dir
	return b
}

// WithMethodStore wires MFA method persistence. Optional; without it all
// MFA operations return ErrMFANotConfigured.
func (b *Builder) WithMethodStore(store mfa.MethodStore) *Builder {
	b.methods = store
	return b
}

// WithAssignments wires the role assignment source. Optional; without it
// every principal resolves to an empty permission set.
func (b *Builder) WithAssignments(source authz.AssignmentSource) *Builder {
	b.assignments = source
	return b
}

// WithSender wires the external notification channel for email/sms codes.
func (b *Builder) WithSender(sender mfa.Sender) *Builder {
	b.sender = sender
	return b
}

// WithAuditSink wires the primary audit sink.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithAuditFallback wires the durable fallback sink used when the primary
// sink fails.
func (b *Builder) WithAuditFallback(sink AuditSink) *Builder {
	b.auditFallback = sink
	return b
}

// WithMetricsRegisterer overrides the Prometheus registry; nil means the
// default registry.
func (b *Builder) WithMetricsRegisterer(registerer prometheus.Registerer) *Builder {
	b.registerer = registerer
	return b
}

// WithPermissions declares the permission vocabulary ("resource:action").
func (b *Builder) WithPermissions(perms []string) *Builder {
	b.permissions = perms
	return b
}

// WithRoles declares role → permission bindings.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

// Build validates configuration and wiring, freezes the role catalog, and
// returns the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.redis == nil {
		return nil, errors.New("redis client required")
	}
	if b.directory == nil {
		return nil, errors.New("principal directory required")
	}
	if len(b.permissions) == 0 {
		return nil, errors.New("permissions must be provided")
	}
	if len(b.roles) == 0 {
		return nil, errors.New("roles must be provided")
	}

	catalog := authz.NewCatalog()
	for _, perm := range b.permissions {
		if err := catalog.RegisterPermission(perm); err != nil {
			return nil, err
		}
	}
	for name, perms := range b.roles {
		if err := catalog.RegisterRole(name, perms); err != nil {
			return nil, err
		}
	}
	catalog.Freeze()

	assignments := b.assignments
	if assignments == nil {
		assignments = authz.AssignmentSourceFunc(
			func(context.Context, string, string) ([]authz.Assignment, error) { return nil, nil },
		)
	}

	resolver, err := authz.NewResolver(catalog, assignments, authz.ResolverConfig{
		DenyOverride: cfg.Authz.DenyOverride,
		CacheTTL:     cfg.Authz.CacheTTL,
	})
	if err != nil {
		return nil, err
	}

	jwtCfg := jwt.Config{
		AccessTTL:     cfg.JWT.AccessTTL,
		SigningMethod: jwt.SigningMethod(cfg.JWT.SigningMethod),
		Issuer:        cfg.JWT.Issuer,
		Audience:      cfg.JWT.Audience,
		Leeway:        cfg.JWT.Leeway,
		KeyID:         cfg.JWT.KeyID,
	}
	switch jwtCfg.SigningMethod {
	case jwt.MethodHS256:
		jwtCfg.PrivateKey = cfg.JWT.HS256Key
	case jwt.MethodEd25519:
		jwtCfg.PrivateKey = cfg.JWT.PrivateKey
		jwtCfg.PublicKey = cfg.JWT.PublicKey
		if len(jwtCfg.PrivateKey) == 0 {
			// Ephemeral pair: tokens do not survive restarts. Fine for
			// tests, wrong for production.
			pub, priv, err := ed25519.GenerateKey(rand.Reader)
			if err != nil {
				return nil, err
			}
			jwtCfg.PrivateKey = priv
			jwtCfg.PublicKey = pub
		}
	}
	jwtManager, err := jwt.NewManager(jwtCfg)
	if err != nil {
		return nil, err
	}

	hasher, err := password.NewHasher(password.Params{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	var sealer *secrets.Sealer
	if len(cfg.MFA.SealKey) == 32 {
		sealer, err = secrets.NewSealer(cfg.MFA.SealKey)
		if err != nil {
			return nil, err
		}
	}

	decoyHash, err := hasher.Hash(secretDecoy())
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics(cfg.Metrics, b.registerer)

	dispatcher := audit.NewDispatcher(audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
	}, b.auditSink, b.auditFallback)
	metrics.registerAuditDropped(b.registerer, cfg.Metrics.Namespace, dispatcher.Dropped)

	engine := &Engine{
		config:     cfg,
		directory:  b.directory,
		methods:    b.methods,
		sessions:   session.NewStore(b.redis, cfg.RedisPrefix),
		challenges: mfa.NewChallengeStore(b.redis, cfg.RedisPrefix),
		limiter:    internalrate.New(b.redis, cfg.RedisPrefix),
		jwtManager: jwtManager,
		hasher:     hasher,
		totp: mfa.NewTOTP(mfa.TOTPConfig{
			Issuer: cfg.MFA.TOTPIssuer,
			Digits: cfg.MFA.CodeDigits,
			Skew:   cfg.MFA.TOTPSkew,
		}),
		sealer:    sealer,
		catalog:   catalog,
		resolver:  resolver,
		sender:    b.sender,
		audit:     dispatcher,
		metrics:   metrics,
		decoyHash: decoyHash,
		now:       time.Now,
	}

	b.built = true
	return engine, nil
}

func secretDecoy() string {
	code, err := secrets.AlphaCode(24)
	if err != nil {
		return "decoy-credential-fallback"
	}
	return code
}

package sentinel

import (
	"errors"

	"github.com/redis/go-redis/v9"

	"github.com/sentinelkit/sentinel/jwt"
	"github.com/sentinelkit/sentinel/password"
	"github.com/sentinelkit/sentinel/store"
)

// Builder assembles an [Engine]. Storage comes either from a Redis client,
// which backs both the token and device stores, or from explicit store
// implementations; explicit stores win when both are given.
type Builder struct {
	config Config

	redis       redis.UniversalClient
	redisPrefix string

	tokenStore   store.RefreshTokenStore
	deviceStore  store.TrustedDeviceStore
	userProvider UserProvider
	auditSink    AuditSink
	clock        Clock

	built bool
}

// New returns a Builder preloaded with default configuration.
func New() *Builder {
	return &Builder{
		config: defaultConfig(),
	}
}

// WithConfig replaces the builder's configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs the token and device stores with the given client. The
// prefix namespaces all keys; empty means "sentinel".
func (b *Builder) WithRedis(client redis.UniversalClient, prefix string) *Builder {
	b.redis = client
	b.redisPrefix = prefix
	return b
}

// WithTokenStore supplies a refresh-token store directly.
func (b *Builder) WithTokenStore(s store.RefreshTokenStore) *Builder {
	b.tokenStore = s
	return b
}

// WithDeviceStore supplies a trusted-device store directly.
func (b *Builder) WithDeviceStore(s store.TrustedDeviceStore) *Builder {
	b.deviceStore = s
	return b
}

// WithUserProvider wires the caller's user database. Required.
func (b *Builder) WithUserProvider(up UserProvider) *Builder {
	b.userProvider = up
	return b
}

// WithAuditSink sets the destination for audit events. Events are only
// emitted when Audit.Enabled is set in the config.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithClock overrides the engine's time source. Intended for tests; the
// default is the system clock.
func (b *Builder) WithClock(clock Clock) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration, wires all collaborators, and returns
// the Engine. A Builder is single-use.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	tokens := b.tokenStore
	if tokens == nil {
		if b.redis == nil {
			return nil, errors.New("token store required: use WithRedis or WithTokenStore")
		}
		tokens = store.NewRedisTokenStore(b.redis, b.redisPrefix)
	}

	devices := b.deviceStore
	if devices == nil && b.redis != nil {
		devices = store.NewRedisDeviceStore(b.redis, b.redisPrefix)
	}
	if devices == nil && cfg.TrustedDevice.Enabled {
		return nil, errors.New("device store required: use WithRedis, WithDeviceStore, or disable TrustedDevice")
	}

	clock := b.clock
	if clock == nil {
		clock = SystemClock()
	}

	hasher, err := password.NewHasher(password.Config{
		Memory:      cfg.Password.Memory,
		Time:        cfg.Password.Time,
		Parallelism: cfg.Password.Parallelism,
		SaltLength:  cfg.Password.SaltLength,
		KeyLength:   cfg.Password.KeyLength,
	})
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		AccessTTL:  cfg.JWT.AccessTTL,
		SigningKey: cloneBytes(cfg.JWT.SigningKey),
		Issuer:     cfg.JWT.Issuer,
		Leeway:     cfg.JWT.Leeway,
	})
	if err != nil {
		return nil, err
	}
	jwtManager.WithClock(clock.Now)

	engine := &Engine{
		config:     cfg,
		clock:      clock,
		hasher:     hasher,
		jwtManager: jwtManager,
		tokens:     tokens,
		devices:    devices,
		users:      b.userProvider,
		totp:       newTOTPManager(cfg.TOTP),
		exchange:   newOAuthExchange(cfg.OAuthExchange, clock),
		audit:      newAuditDispatcher(cfg.Audit, b.auditSink),
		metrics:    NewMetrics(cfg.Metrics),
	}

	b.built = true

	return engine, nil
}

package goGuard

import (
	"errors"

	"github.com/MrEthical07/goGuard/clock"
	"github.com/MrEthical07/goGuard/credential"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/blocklist"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/risk"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
	"github.com/MrEthical07/goGuard/store"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Builder assembles a Guard. A Builder is single use.
type Builder struct {
	config    Config
	store     store.Store
	redis     redis.UniversalClient
	clock     clock.Clock
	logger    zerolog.Logger
	auditSink AuditSink
	metrics   *Metrics

	// Toggles set through With* helpers survive a later WithConfig.
	metricsEnabled    *bool
	latencyHistograms *bool

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
		logger: zerolog.Nop(),
	}
}

// WithConfig replaces the configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the credential store. It takes precedence over WithRedis
// for record storage.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithRedis backs the store, and the rate limiter when RateLimit.Shared is
// set, with client.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithClock injects the time source. Tests pass a *clock.Fake.
func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

// WithLogger sets the structured logger. The default discards output.
func (b *Builder) WithLogger(logger zerolog.Logger) *Builder {
	b.logger = logger
	return b
}

// WithAuditSink sets the audit sink. A non-nil sink turns auditing on at
// Build regardless of Config.Audit.Enabled.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithMetrics shares an existing metric set, e.g. across several guards.
func (b *Builder) WithMetrics(m *Metrics) *Builder {
	b.metrics = m
	return b
}

// WithMetricsEnabled toggles counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.metricsEnabled = &enabled
	return b
}

// WithLatencyHistograms toggles the gate latency histogram.
func (b *Builder) WithLatencyHistograms(enabled bool) *Builder {
	b.latencyHistograms = &enabled
	return b
}

// Build validates the configuration and wires every component. Without a
// store or Redis client the guard keeps all state in process memory.
func (b *Builder) Build() (*Guard, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if b.auditSink != nil {
		cfg.Audit.Enabled = true
	}
	if b.metricsEnabled != nil {
		cfg.Metrics.Enabled = *b.metricsEnabled
	}
	if b.latencyHistograms != nil {
		cfg.Metrics.EnableLatencyHistograms = *b.latencyHistograms
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := clock.OrSystem(b.clock)
	logger := b.logger

	st := b.store
	switch {
	case st != nil:
	case b.redis != nil:
		st = store.NewRedis(b.redis, cfg.Store.Namespace, cfg.Store.Timeout)
	default:
		st = store.NewMemory(c)
	}

	codec, err := jwt.New(cfg.jwtConfig(), c)
	if err != nil {
		return nil, err
	}
	creds, err := credential.NewManager(cfg.credentialConfig(), codec, st, c, logger.With().Str("component", "credential").Logger())
	if err != nil {
		return nil, err
	}
	hasher, err := password.New(cfg.passwordConfig())
	if err != nil {
		return nil, err
	}

	var backend rate.Backend
	if b.redis != nil && cfg.RateLimit.Shared {
		backend = rate.NewRedis(b.redis, cfg.Store.Timeout)
	}
	limiter, err := rate.New(cfg.rateConfig(), backend, c)
	if err != nil {
		return nil, err
	}

	locks, err := lockout.New(cfg.lockoutConfig(), st, c, logger.With().Str("component", "lockout").Logger())
	if err != nil {
		return nil, err
	}
	blocks, err := blocklist.New(cfg.blocklistConfig(), st, c, logger.With().Str("component", "blocklist").Logger())
	if err != nil {
		return nil, err
	}

	metrics := b.metrics
	if metrics == nil {
		metrics = NewMetrics(cfg.Metrics)
	}

	g := &Guard{
		cfg:     cfg,
		clock:   c,
		logger:  logger.With().Str("component", "guard").Logger(),
		store:   st,
		creds:   creds,
		hasher:  hasher,
		limiter: limiter,
		locks:   locks,
		blocks:  blocks,
		history: risk.NewHistory(cfg.Risk.HistoryDepth, cfg.Risk.HistoryRetention),
		riskCfg: cfg.riskConfig(),
		metrics: metrics,
	}

	sink := b.auditSink
	if sink == nil {
		sink = audit.NoOpSink{}
	}
	g.audit = audit.NewDispatcher(cfg.auditConfig(func(ev audit.Event) {
		g.metricInc(MetricAuditDropped)
		g.logger.Debug().Str("event_type", ev.EventType).Msg("audit event dropped")
	}), sink)

	b.built = true
	return g, nil
}

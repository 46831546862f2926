package goGuard

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/credential"
	"github.com/MrEthical07/goGuard/internal/audit"
	"github.com/MrEthical07/goGuard/internal/blocklist"
	"github.com/MrEthical07/goGuard/internal/lockout"
	"github.com/MrEthical07/goGuard/internal/rate"
	"github.com/MrEthical07/goGuard/internal/risk"
	"github.com/MrEthical07/goGuard/jwt"
	"github.com/MrEthical07/goGuard/password"
)

// Config is the full coordinator configuration. Start from DefaultConfig
// and override fields; Build validates the result.
type Config struct {
	JWT         JWTConfig
	Credentials CredentialConfig
	Password    PasswordConfig
	RateLimit   RateLimitConfig
	Lockout     LockoutConfig
	Blocklist   BlocklistConfig
	Risk        RiskConfig
	Violation   ViolationConfig
	Store       StoreConfig
	Audit       AuditConfig
	Metrics     MetricsConfig
}

/*
====================================
JWT CONFIG
====================================
*/

// JWTConfig holds token signing keys.
type JWTConfig struct {
	SigningMethod string // "ed25519" (default), "hs256" optional
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Audience      string
	Leeway        time.Duration
	KeyID         string
	VerifyKeys    map[string][]byte
}

/*
====================================
CREDENTIAL CONFIG
====================================
*/

// CredentialConfig controls token lifetimes and record retention.
type CredentialConfig struct {
	AccessTTL        time.Duration
	RefreshTTL       time.Duration
	ExpiryGrace      time.Duration
	RevokedRetention time.Duration
	MaxIdle          time.Duration
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordConfig holds Argon2id parameters. Memory is in KiB.
type PasswordConfig struct {
	Memory         uint32
	Time           uint32
	Parallelism    uint8
	SaltLength     uint32
	KeyLength      uint32
	MaxSecretBytes int
}

/*
====================================
RATE LIMIT CONFIG
====================================
*/

// RateWindow is at most Limit attempts in any trailing Size.
type RateWindow struct {
	Size  time.Duration
	Limit int
}

// RateTier maps a violation ratio floor to a block duration.
type RateTier struct {
	MinRatio float64
	Block    time.Duration
}

// RateLimitConfig holds the sliding-window budgets.
//
// MaxPer* apply to every action without an entry in Actions. The login
// action has its own budget in LoginMaxPer*.
type RateLimitConfig struct {
	MaxPerMinute int
	MaxPerHour   int
	MaxPerDay    int

	LoginMaxPerMinute int
	LoginMaxPerHour   int
	LoginMaxPerDay    int

	// Actions overrides the windows of named actions, login included.
	Actions map[string][]RateWindow
	Tiers   []RateTier
	// CapToWindow limits a violation block to the violated window size.
	CapToWindow bool
	// LimitByAddress checks the address as its own key next to the identifier.
	LimitByAddress bool
	// Shared uses the Redis backend when the builder has a Redis client.
	Shared bool
}

/*
====================================
LOCKOUT CONFIG
====================================
*/

// LockoutConfig controls account locks and automatic lockout.
type LockoutConfig struct {
	DefaultDuration  time.Duration
	MaxDuration      time.Duration
	FailureThreshold int
	FailureWindow    time.Duration
	// AutoLockout turns a reached failure threshold into a brute_force violation.
	AutoLockout bool
}

/*
====================================
BLOCKLIST CONFIG
====================================
*/

// BlocklistConfig controls address blocks.
type BlocklistConfig struct {
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	RangeCap        int
}

/*
====================================
RISK CONFIG
====================================
*/

// RiskConfig holds the tunable risk thresholds. Point values are fixed.
type RiskConfig struct {
	Enabled bool
	// SuspiciousHourStart and SuspiciousHourEnd bound a [start, end) band.
	SuspiciousHourStart    int
	SuspiciousHourEnd      int
	RapidAttemptThreshold  int
	FailedAttemptThreshold int
	TimeZone               *time.Location
	HistoryDepth           int
	HistoryRetention       time.Duration
	// EscalateCritical responds to critical risk with a suspicious_activity violation.
	EscalateCritical bool
}

/*
====================================
VIOLATION CONFIG
====================================
*/

// ViolationConfig controls automatic responses.
type ViolationConfig struct {
	// RevokeAllOnReplay treats a replayed refresh token as a token_replay violation.
	RevokeAllOnReplay bool
	ReplaySeverity    Severity
	// SweepOnResponse runs the sweeps after every violation response.
	SweepOnResponse bool
}

/*
====================================
STORE CONFIG
====================================
*/

// StoreConfig applies to the Redis store built by WithRedis.
type StoreConfig struct {
	Namespace string
	Timeout   time.Duration
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
METRICS CONFIG
====================================
*/

// MetricsConfig toggles counters and the latency histogram.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// DefaultConfig returns production defaults. JWT keys must still be set.
func DefaultConfig() Config {
	cred := credential.DefaultConfig()
	pw := password.DefaultConfig()
	lock := lockout.DefaultConfig()
	block := blocklist.DefaultConfig()
	rc := risk.DefaultConfig()

	return Config{
		JWT: JWTConfig{
			SigningMethod: string(jwt.MethodEd25519),
			Issuer:        "goguard",
		},
		Credentials: CredentialConfig{
			AccessTTL:        cred.AccessTTL,
			RefreshTTL:       cred.RefreshTTL,
			ExpiryGrace:      cred.ExpiryGrace,
			RevokedRetention: cred.RevokedRetention,
			MaxIdle:          cred.MaxIdle,
		},
		Password: PasswordConfig{
			Memory:      pw.Memory,
			Time:        pw.Time,
			Parallelism: pw.Parallelism,
			SaltLength:  pw.SaltLength,
			KeyLength:   pw.KeyLength,
		},
		RateLimit: RateLimitConfig{
			MaxPerMinute:      60,
			MaxPerHour:        1000,
			MaxPerDay:         10000,
			LoginMaxPerMinute: 5,
			LoginMaxPerHour:   100,
			LoginMaxPerDay:    1000,
			Tiers: []RateTier{
				{MinRatio: 2.0, Block: time.Hour},
				{MinRatio: 1.5, Block: 30 * time.Minute},
				{MinRatio: 0, Block: 5 * time.Minute},
			},
			CapToWindow:    true,
			LimitByAddress: true,
			Shared:         true,
		},
		Lockout: LockoutConfig{
			DefaultDuration:  lock.DefaultDuration,
			MaxDuration:      lock.MaxDuration,
			FailureThreshold: lock.FailureThreshold,
			FailureWindow:    lock.FailureWindow,
			AutoLockout:      true,
		},
		Blocklist: BlocklistConfig{
			DefaultDuration: block.DefaultDuration,
			MaxDuration:     block.MaxDuration,
			RangeCap:        block.RangeCap,
		},
		Risk: RiskConfig{
			Enabled:                true,
			SuspiciousHourStart:    rc.SuspiciousHourStart,
			SuspiciousHourEnd:      rc.SuspiciousHourEnd,
			RapidAttemptThreshold:  rc.VelocityThreshold,
			FailedAttemptThreshold: rc.FrequencyThreshold,
			TimeZone:               time.UTC,
			HistoryDepth:           256,
			HistoryRetention:       24 * time.Hour,
			EscalateCritical:       true,
		},
		Violation: ViolationConfig{
			RevokeAllOnReplay: true,
			ReplaySeverity:    SeverityLow,
			SweepOnResponse:   true,
		},
		Store: StoreConfig{
			Namespace: "gg",
			Timeout:   250 * time.Millisecond,
		},
		Audit: AuditConfig{
			Enabled:    false,
			BufferSize: 1024,
			DropIfFull: true,
		},
		Metrics: MetricsConfig{
			Enabled:                 true,
			EnableLatencyHistograms: false,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	if cfg.RateLimit.Actions != nil {
		out.RateLimit.Actions = make(map[string][]RateWindow, len(cfg.RateLimit.Actions))
		for action, ws := range cfg.RateLimit.Actions {
			out.RateLimit.Actions[action] = append([]RateWindow(nil), ws...)
		}
	}
	out.RateLimit.Tiers = append([]RateTier(nil), cfg.RateLimit.Tiers...)
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

/*
====================================
VALIDATION
====================================
*/

// Validate reports every invalid section, joined.
func (c *Config) Validate() error {
	var errs []error
	add := func(section string, err error) {
		if err != nil {
			errs = append(errs, fmt.Errorf("%w: %s: %v", ErrInvalidConfig, section, err))
		}
	}

	switch jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)) {
	case jwt.MethodEd25519, jwt.MethodHS256:
	default:
		add("jwt", fmt.Errorf("unsupported signing method %q", c.JWT.SigningMethod))
	}
	if len(c.JWT.PrivateKey) == 0 {
		add("jwt", errors.New("private key is required"))
	}
	add("credentials", c.credentialConfig().Validate())
	add("password", c.passwordConfig().Validate())
	add("rate_limit", c.rateConfig().Validate())
	add("lockout", c.lockoutConfig().Validate())
	add("blocklist", c.blocklistConfig().Validate())

	r := c.Risk
	if r.SuspiciousHourStart < 0 || r.SuspiciousHourStart > 23 || r.SuspiciousHourEnd < 0 || r.SuspiciousHourEnd > 24 || r.SuspiciousHourStart > r.SuspiciousHourEnd {
		add("risk", errors.New("suspicious hour band must satisfy 0 <= start <= end <= 24"))
	}
	if r.RapidAttemptThreshold <= 0 || r.FailedAttemptThreshold <= 0 {
		add("risk", errors.New("attempt thresholds must be > 0"))
	}
	if r.HistoryDepth <= 0 || r.HistoryRetention <= 0 {
		add("risk", errors.New("history depth and retention must be > 0"))
	}
	if _, ok := severityRank[c.Violation.ReplaySeverity]; !ok {
		add("violation", fmt.Errorf("unknown replay severity %q", c.Violation.ReplaySeverity))
	}
	if c.Store.Timeout < 0 {
		add("store", errors.New("timeout must be >= 0"))
	}
	if c.Audit.Enabled && c.Audit.BufferSize <= 0 {
		add("audit", errors.New("buffer size must be > 0"))
	}
	return errors.Join(errs...)
}

/*
====================================
COMPONENT MAPPING
====================================
*/

func (c *Config) jwtConfig() jwt.Config {
	return jwt.Config{
		SigningMethod: jwt.SigningMethod(strings.ToLower(c.JWT.SigningMethod)),
		PrivateKey:    c.JWT.PrivateKey,
		PublicKey:     c.JWT.PublicKey,
		Issuer:        c.JWT.Issuer,
		Audience:      c.JWT.Audience,
		Leeway:        c.JWT.Leeway,
		KeyID:         c.JWT.KeyID,
		VerifyKeys:    c.JWT.VerifyKeys,
	}
}

func (c *Config) credentialConfig() credential.Config {
	return credential.Config{
		AccessTTL:        c.Credentials.AccessTTL,
		RefreshTTL:       c.Credentials.RefreshTTL,
		ExpiryGrace:      c.Credentials.ExpiryGrace,
		RevokedRetention: c.Credentials.RevokedRetention,
		MaxIdle:          c.Credentials.MaxIdle,
	}
}

func (c *Config) passwordConfig() password.Config {
	return password.Config{
		Memory:         c.Password.Memory,
		Time:           c.Password.Time,
		Parallelism:    c.Password.Parallelism,
		SaltLength:     c.Password.SaltLength,
		KeyLength:      c.Password.KeyLength,
		MaxSecretBytes: c.Password.MaxSecretBytes,
	}
}

func (c *Config) rateConfig() rate.Config {
	rl := c.RateLimit
	windows := func(minute, hour, day int) []rate.Window {
		return []rate.Window{
			{Size: time.Minute, Limit: minute},
			{Size: time.Hour, Limit: hour},
			{Size: 24 * time.Hour, Limit: day},
		}
	}

	out := rate.Config{
		Actions: map[string][]rate.Window{
			ActionLogin: windows(rl.LoginMaxPerMinute, rl.LoginMaxPerHour, rl.LoginMaxPerDay),
			ActionAPI:   windows(rl.MaxPerMinute, rl.MaxPerHour, rl.MaxPerDay),
		},
		Default:     windows(rl.MaxPerMinute, rl.MaxPerHour, rl.MaxPerDay),
		CapToWindow: rl.CapToWindow,
	}
	for action, ws := range rl.Actions {
		converted := make([]rate.Window, 0, len(ws))
		for _, w := range ws {
			converted = append(converted, rate.Window{Size: w.Size, Limit: w.Limit})
		}
		out.Actions[action] = converted
	}
	for _, t := range rl.Tiers {
		out.Tiers = append(out.Tiers, rate.Tier{MinRatio: t.MinRatio, Block: t.Block})
	}
	return out
}

func (c *Config) lockoutConfig() lockout.Config {
	return lockout.Config{
		DefaultDuration:  c.Lockout.DefaultDuration,
		MaxDuration:      c.Lockout.MaxDuration,
		FailureThreshold: c.Lockout.FailureThreshold,
		FailureWindow:    c.Lockout.FailureWindow,
	}
}

func (c *Config) blocklistConfig() blocklist.Config {
	return blocklist.Config{
		DefaultDuration: c.Blocklist.DefaultDuration,
		MaxDuration:     c.Blocklist.MaxDuration,
		RangeCap:        c.Blocklist.RangeCap,
	}
}

func (c *Config) riskConfig() risk.Config {
	out := risk.DefaultConfig()
	out.SuspiciousHourStart = c.Risk.SuspiciousHourStart
	out.SuspiciousHourEnd = c.Risk.SuspiciousHourEnd
	out.VelocityThreshold = c.Risk.RapidAttemptThreshold
	out.FrequencyThreshold = c.Risk.FailedAttemptThreshold
	if c.Risk.TimeZone != nil {
		out.TimeZone = c.Risk.TimeZone
	}
	return out
}

func (c *Config) auditConfig(onDrop func(audit.Event)) audit.Config {
	return audit.Config{
		Enabled:    c.Audit.Enabled,
		BufferSize: c.Audit.BufferSize,
		DropIfFull: c.Audit.DropIfFull,
		OnDrop:     onDrop,
	}
}

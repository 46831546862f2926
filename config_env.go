package goGuard

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/viper"
)

// Recognised keys. Environment variables are the upper-case key with the
// prefix and an underscore in front, e.g. GOGUARD_ACCESS_TTL.
const (
	envJWTSigningMethod      = "jwt_signing_method"
	envJWTPrivateKey         = "jwt_private_key"
	envJWTPublicKey          = "jwt_public_key"
	envJWTIssuer             = "jwt_issuer"
	envJWTAudience           = "jwt_audience"
	envAccessTTL             = "access_ttl"
	envRefreshTTL            = "refresh_ttl"
	envMaxPerMinute          = "max_per_minute"
	envMaxPerHour            = "max_per_hour"
	envMaxPerDay             = "max_per_day"
	envLoginMaxPerMinute     = "login_max_per_minute"
	envLoginMaxPerHour       = "login_max_per_hour"
	envLoginMaxPerDay        = "login_max_per_day"
	envDefaultLockDuration   = "default_lock_duration"
	envMaxLockDuration       = "max_lock_duration"
	envDefaultBlockDuration  = "default_block_duration"
	envMaxBlockDuration      = "max_block_duration"
	envSuspiciousHourBand    = "suspicious_hour_band"
	envRapidAttemptThreshold = "rapid_attempt_threshold"
	envStoreNamespace        = "store_namespace"
	envStoreTimeout          = "store_timeout"
	envAuditEnabled          = "audit_enabled"
	envMetricsEnabled        = "metrics_enabled"
)

// ConfigFromEnv returns DefaultConfig overridden by environment variables
// carrying prefix. An empty prefix defaults to "GOGUARD".
func ConfigFromEnv(prefix string) (Config, error) {
	return LoadConfig("", prefix)
}

// LoadConfig reads file (any format viper understands, skipped when empty)
// and then the environment. Environment values win over the file.
func LoadConfig(file, prefix string) (Config, error) {
	if prefix == "" {
		prefix = "GOGUARD"
	}
	cfg := DefaultConfig()

	v := viper.New()
	v.SetEnvPrefix(prefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	v.SetDefault(envJWTSigningMethod, cfg.JWT.SigningMethod)
	v.SetDefault(envJWTPrivateKey, "")
	v.SetDefault(envJWTPublicKey, "")
	v.SetDefault(envJWTIssuer, cfg.JWT.Issuer)
	v.SetDefault(envJWTAudience, cfg.JWT.Audience)
	v.SetDefault(envAccessTTL, cfg.Credentials.AccessTTL)
	v.SetDefault(envRefreshTTL, cfg.Credentials.RefreshTTL)
	v.SetDefault(envMaxPerMinute, cfg.RateLimit.MaxPerMinute)
	v.SetDefault(envMaxPerHour, cfg.RateLimit.MaxPerHour)
	v.SetDefault(envMaxPerDay, cfg.RateLimit.MaxPerDay)
	v.SetDefault(envLoginMaxPerMinute, cfg.RateLimit.LoginMaxPerMinute)
	v.SetDefault(envLoginMaxPerHour, cfg.RateLimit.LoginMaxPerHour)
	v.SetDefault(envLoginMaxPerDay, cfg.RateLimit.LoginMaxPerDay)
	v.SetDefault(envDefaultLockDuration, cfg.Lockout.DefaultDuration)
	v.SetDefault(envMaxLockDuration, cfg.Lockout.MaxDuration)
	v.SetDefault(envDefaultBlockDuration, cfg.Blocklist.DefaultDuration)
	v.SetDefault(envMaxBlockDuration, cfg.Blocklist.MaxDuration)
	v.SetDefault(envSuspiciousHourBand, fmt.Sprintf("%d-%d", cfg.Risk.SuspiciousHourStart, cfg.Risk.SuspiciousHourEnd))
	v.SetDefault(envRapidAttemptThreshold, cfg.Risk.RapidAttemptThreshold)
	v.SetDefault(envStoreNamespace, cfg.Store.Namespace)
	v.SetDefault(envStoreTimeout, cfg.Store.Timeout)
	v.SetDefault(envAuditEnabled, cfg.Audit.Enabled)
	v.SetDefault(envMetricsEnabled, cfg.Metrics.Enabled)

	if file != "" {
		v.SetConfigFile(file)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("%w: read %s: %v", ErrInvalidConfig, file, err)
		}
	}

	cfg.JWT.SigningMethod = v.GetString(envJWTSigningMethod)
	if key := v.GetString(envJWTPrivateKey); key != "" {
		cfg.JWT.PrivateKey = []byte(key)
	}
	if key := v.GetString(envJWTPublicKey); key != "" {
		cfg.JWT.PublicKey = []byte(key)
	}
	cfg.JWT.Issuer = v.GetString(envJWTIssuer)
	cfg.JWT.Audience = v.GetString(envJWTAudience)
	cfg.Credentials.AccessTTL = v.GetDuration(envAccessTTL)
	cfg.Credentials.RefreshTTL = v.GetDuration(envRefreshTTL)
	cfg.RateLimit.MaxPerMinute = v.GetInt(envMaxPerMinute)
	cfg.RateLimit.MaxPerHour = v.GetInt(envMaxPerHour)
	cfg.RateLimit.MaxPerDay = v.GetInt(envMaxPerDay)
	cfg.RateLimit.LoginMaxPerMinute = v.GetInt(envLoginMaxPerMinute)
	cfg.RateLimit.LoginMaxPerHour = v.GetInt(envLoginMaxPerHour)
	cfg.RateLimit.LoginMaxPerDay = v.GetInt(envLoginMaxPerDay)
	cfg.Lockout.DefaultDuration = v.GetDuration(envDefaultLockDuration)
	cfg.Lockout.MaxDuration = v.GetDuration(envMaxLockDuration)
	cfg.Blocklist.DefaultDuration = v.GetDuration(envDefaultBlockDuration)
	cfg.Blocklist.MaxDuration = v.GetDuration(envMaxBlockDuration)
	cfg.Risk.RapidAttemptThreshold = v.GetInt(envRapidAttemptThreshold)
	cfg.Store.Namespace = v.GetString(envStoreNamespace)
	cfg.Store.Timeout = v.GetDuration(envStoreTimeout)
	cfg.Audit.Enabled = v.GetBool(envAuditEnabled)
	cfg.Metrics.Enabled = v.GetBool(envMetricsEnabled)

	start, end, err := parseHourBand(v.GetString(envSuspiciousHourBand))
	if err != nil {
		return Config{}, err
	}
	cfg.Risk.SuspiciousHourStart = start
	cfg.Risk.SuspiciousHourEnd = end

	return cfg, nil
}

// parseHourBand reads "start-end" as a [start, end) hour band.
func parseHourBand(s string) (int, int, error) {
	lo, hi, ok := strings.Cut(strings.TrimSpace(s), "-")
	if !ok {
		return 0, 0, invalid(envSuspiciousHourBand, "expected start-end")
	}
	start, err := strconv.Atoi(strings.TrimSpace(lo))
	if err != nil {
		return 0, 0, invalid(envSuspiciousHourBand, "start is not a number")
	}
	end, err := strconv.Atoi(strings.TrimSpace(hi))
	if err != nil {
		return 0, 0, invalid(envSuspiciousHourBand, "end is not a number")
	}
	if start < 0 || end > 24 || start > end {
		return 0, 0, invalid(envSuspiciousHourBand, "band must satisfy 0 <= start <= end <= 24")
	}
	return start, end, nil
}

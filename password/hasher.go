package password

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

const (
	// MinSecretBytes is the shortest secret Hash accepts.
	MinSecretBytes = 8
	// DefaultMaxSecretBytes caps secret length when Config.MaxSecretBytes is 0.
	DefaultMaxSecretBytes = 1024

	minMemoryKB   uint32 = 8 * 1024
	minSaltLength uint32 = 16
	minKeyLength  uint32 = 16
	algorithm            = "argon2id"
)

var (
	// ErrWeakSecret is returned by Hash for secrets shorter than MinSecretBytes.
	ErrWeakSecret = errors.New("password: secret too short")
	// ErrSecretTooLong is returned for secrets above the configured maximum.
	ErrSecretTooLong = errors.New("password: secret too long")
	// ErrMalformedDigest is returned when a stored digest cannot be parsed.
	ErrMalformedDigest = errors.New("password: malformed digest")
	// ErrInvalidConfig is returned by New for parameters below the safe floor.
	ErrInvalidConfig = errors.New("password: invalid config")
)

var enc = base64.RawStdEncoding

// Config holds Argon2id cost parameters. Memory is in KiB.
type Config struct {
	Memory      uint32
	Time        uint32
	Parallelism uint8
	SaltLength  uint32
	KeyLength   uint32

	// MaxSecretBytes bounds the input fed to Argon2. 0 means DefaultMaxSecretBytes.
	MaxSecretBytes int
}

// DefaultConfig returns interactive-login parameters (64 MiB, t=3, p=2).
func DefaultConfig() Config {
	return Config{
		Memory:      64 * 1024,
		Time:        3,
		Parallelism: 2,
		SaltLength:  16,
		KeyLength:   32,
	}
}

// Validate checks that every parameter meets the safe floor.
func (c Config) Validate() error {
	switch {
	case c.Memory < minMemoryKB:
		return fmt.Errorf("%w: memory must be >= %d KiB", ErrInvalidConfig, minMemoryKB)
	case c.Time < 1:
		return fmt.Errorf("%w: time must be >= 1", ErrInvalidConfig)
	case c.Parallelism < 1:
		return fmt.Errorf("%w: parallelism must be >= 1", ErrInvalidConfig)
	case c.SaltLength < minSaltLength:
		return fmt.Errorf("%w: salt length must be >= %d", ErrInvalidConfig, minSaltLength)
	case c.KeyLength < minKeyLength:
		return fmt.Errorf("%w: key length must be >= %d", ErrInvalidConfig, minKeyLength)
	case c.MaxSecretBytes < 0 || (c.MaxSecretBytes > 0 && c.MaxSecretBytes < MinSecretBytes):
		return fmt.Errorf("%w: max secret bytes must be 0 or >= %d", ErrInvalidConfig, MinSecretBytes)
	}
	return nil
}

// Hasher is safe for concurrent use.
type Hasher struct {
	cfg  Config
	rand io.Reader
}

// New validates cfg and returns a Hasher.
func New(cfg Config) (*Hasher, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.MaxSecretBytes == 0 {
		cfg.MaxSecretBytes = DefaultMaxSecretBytes
	}
	return &Hasher{cfg: cfg, rand: rand.Reader}, nil
}

// Hash derives a PHC digest for secret. Secrets are hashed as raw bytes with
// no Unicode normalization.
func (h *Hasher) Hash(secret string) (string, error) {
	if len(secret) < MinSecretBytes {
		return "", ErrWeakSecret
	}
	if len(secret) > h.cfg.MaxSecretBytes {
		return "", ErrSecretTooLong
	}

	salt := make([]byte, h.cfg.SaltLength)
	if _, err := io.ReadFull(h.rand, salt); err != nil {
		return "", fmt.Errorf("password: read salt: %w", err)
	}
	key := argon2.IDKey([]byte(secret), salt, h.cfg.Time, h.cfg.Memory, h.cfg.Parallelism, h.cfg.KeyLength)

	return digest{
		memory:      h.cfg.Memory,
		time:        h.cfg.Time,
		parallelism: h.cfg.Parallelism,
		salt:        salt,
		key:         key,
	}.String(), nil
}

// Verify reports whether secret matches encoded. A false result with nil
// error means a well-formed digest that did not match.
func (h *Hasher) Verify(secret, encoded string) (bool, error) {
	if len(secret) > h.cfg.MaxSecretBytes {
		return false, ErrSecretTooLong
	}
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	key := argon2.IDKey([]byte(secret), d.salt, d.time, d.memory, d.parallelism, uint32(len(d.key)))
	return subtle.ConstantTimeCompare(key, d.key) == 1, nil
}

// NeedsUpgrade reports whether encoded was produced with parameters weaker
// than the Hasher's current config.
func (h *Hasher) NeedsUpgrade(encoded string) (bool, error) {
	d, err := parseDigest(encoded)
	if err != nil {
		return false, err
	}
	return h.cfg.Memory > d.memory ||
		h.cfg.Time > d.time ||
		h.cfg.Parallelism > d.parallelism ||
		h.cfg.KeyLength != uint32(len(d.key)), nil
}

type digest struct {
	memory      uint32
	time        uint32
	parallelism uint8
	salt        []byte
	key         []byte
}

func (d digest) String() string {
	return fmt.Sprintf("$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		algorithm, argon2.Version,
		d.memory, d.time, d.parallelism,
		enc.EncodeToString(d.salt), enc.EncodeToString(d.key))
}

func malformed(reason string) error {
	return fmt.Errorf("%w: %s", ErrMalformedDigest, reason)
}

func parseDigest(encoded string) (digest, error) {
	var d digest

	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" {
		return d, malformed("expected 5 fields")
	}
	if parts[1] != algorithm {
		return d, malformed("unsupported algorithm " + strconv.Quote(parts[1]))
	}
	if parts[2] != "v="+strconv.Itoa(argon2.Version) {
		return d, malformed("unsupported version")
	}

	seen := 0
	for _, pair := range strings.Split(parts[3], ",") {
		name, raw, ok := strings.Cut(pair, "=")
		if !ok {
			return d, malformed("bad parameter " + strconv.Quote(pair))
		}
		switch name {
		case "m":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || uint32(v) < minMemoryKB {
				return d, malformed("bad memory")
			}
			d.memory = uint32(v)
		case "t":
			v, err := strconv.ParseUint(raw, 10, 32)
			if err != nil || v < 1 {
				return d, malformed("bad time")
			}
			d.time = uint32(v)
		case "p":
			v, err := strconv.ParseUint(raw, 10, 8)
			if err != nil || v < 1 {
				return d, malformed("bad parallelism")
			}
			d.parallelism = uint8(v)
		default:
			return d, malformed("unknown parameter " + strconv.Quote(name))
		}
		seen++
	}
	if seen != 3 || d.memory == 0 || d.time == 0 || d.parallelism == 0 {
		return d, malformed("missing parameters")
	}

	var err error
	if d.salt, err = enc.DecodeString(parts[4]); err != nil || uint32(len(d.salt)) < minSaltLength {
		return d, malformed("bad salt")
	}
	if d.key, err = enc.DecodeString(parts[5]); err != nil || len(d.key) == 0 {
		return d, malformed("bad hash")
	}
	return d, nil
}

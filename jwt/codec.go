package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/goGuard/clock"
	"github.com/golang-jwt/jwt/v5"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodEd25519 SigningMethod = "ed25519"
	MethodHS256   SigningMethod = "hs256"
)

// Kind is the typ claim. A token of one kind never verifies as the other.
type Kind string

const (
	KindAccess  Kind = "access"
	KindRefresh Kind = "refresh"
)

var (
	// ErrInvalid covers bad signatures, malformed tokens and kind mismatches.
	ErrInvalid = errors.New("jwt: invalid token")
	// ErrExpired is returned for well-signed tokens past exp.
	ErrExpired = errors.New("jwt: token expired")
	// ErrConfig is returned by New for unusable key material.
	ErrConfig = errors.New("jwt: invalid config")
)

const minHMACKeyBytes = 32

// Config holds key material and validation options.
type Config struct {
	SigningMethod SigningMethod
	// PrivateKey is the HMAC secret for hs256, or an ed25519 key (raw or PEM).
	PrivateKey []byte
	PublicKey  []byte
	Issuer     string
	Audience   string
	Leeway     time.Duration
	KeyID      string
	// VerifyKeys maps kid to verification key for key rotation.
	VerifyKeys map[string][]byte
}

// Claims is the payload carried by both token kinds.
type Claims struct {
	Kind  Kind           `json:"typ"`
	Extra map[string]any `json:"ext,omitempty"`
	jwt.RegisteredClaims
}

// Codec signs and parses tokens. It is immutable after New.
type Codec struct {
	cfg       Config
	method    jwt.SigningMethod
	signKey   any
	verifyKey any
	verifyBy  map[string]any
	clock     clock.Clock
}

// New validates cfg and prepares keys. A nil clock uses wall time.
func New(cfg Config, c clock.Clock) (*Codec, error) {
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, fmt.Errorf("%w: leeway must be within [0, 2m]", ErrConfig)
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)
	codec := &Codec{cfg: cfg, clock: clock.OrSystem(c)}

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("%w: hs256 secret must be at least %d bytes", ErrConfig, minHMACKeyBytes)
		}
		codec.method = jwt.SigningMethodHS256
		codec.signKey = cfg.PrivateKey
		codec.verifyKey = cfg.PrivateKey
	case MethodEd25519:
		codec.method = jwt.SigningMethodEdDSA
		priv, err := parseEdPrivateKey(cfg.PrivateKey)
		if err != nil {
			return nil, err
		}
		codec.signKey = priv
		switch {
		case len(cfg.PublicKey) > 0:
			pub, err := parseEdPublicKey(cfg.PublicKey)
			if err != nil {
				return nil, err
			}
			codec.verifyKey = pub
		default:
			codec.verifyKey = priv.Public()
		}
	default:
		return nil, fmt.Errorf("%w: unsupported signing method %q", ErrConfig, cfg.SigningMethod)
	}

	if len(cfg.VerifyKeys) > 0 {
		codec.verifyBy = make(map[string]any, len(cfg.VerifyKeys))
		for kid, raw := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, fmt.Errorf("%w: verify key map contains empty kid", ErrConfig)
			}
			key, err := codec.verifyKeyFromBytes(raw)
			if err != nil {
				return nil, fmt.Errorf("%w: verify key %q: %v", ErrConfig, kid, err)
			}
			codec.verifyBy[kid] = key
		}
		if cfg.KeyID != "" {
			if _, ok := codec.verifyBy[cfg.KeyID]; !ok {
				return nil, fmt.Errorf("%w: KeyID is not present in VerifyKeys", ErrConfig)
			}
		}
	}
	return codec, nil
}

// Sign serializes claims. Issuer and audience from Config are applied when
// the claims leave them empty.
func (c *Codec) Sign(claims Claims) (string, error) {
	if claims.Issuer == "" {
		claims.Issuer = c.cfg.Issuer
	}
	if len(claims.Audience) == 0 && c.cfg.Audience != "" {
		claims.Audience = jwt.ClaimStrings{c.cfg.Audience}
	}

	token := jwt.NewWithClaims(c.method, claims)
	if c.cfg.KeyID != "" {
		token.Header["kid"] = c.cfg.KeyID
	}
	signed, err := token.SignedString(c.signKey)
	if err != nil {
		return "", fmt.Errorf("jwt: sign: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, kind and time claims.
func (c *Codec) Parse(raw string, kind Kind) (*Claims, error) {
	return c.parse(raw, kind, true)
}

// ParseIgnoringExpiry verifies signature and kind but accepts expired tokens.
// Used for revocation, which must work on tokens that have already lapsed.
func (c *Codec) ParseIgnoringExpiry(raw string, kind Kind) (*Claims, error) {
	return c.parse(raw, kind, false)
}

func (c *Codec) parse(raw string, kind Kind, validateTime bool) (*Claims, error) {
	options := []jwt.ParserOption{
		jwt.WithValidMethods([]string{c.method.Alg()}),
		jwt.WithTimeFunc(c.clock.Now),
	}
	if validateTime {
		options = append(options, jwt.WithExpirationRequired(), jwt.WithIssuedAt())
		if c.cfg.Leeway > 0 {
			options = append(options, jwt.WithLeeway(c.cfg.Leeway))
		}
		if c.cfg.Issuer != "" {
			options = append(options, jwt.WithIssuer(c.cfg.Issuer))
		}
		if c.cfg.Audience != "" {
			options = append(options, jwt.WithAudience(c.cfg.Audience))
		}
	} else {
		options = append(options, jwt.WithoutClaimsValidation())
	}

	token, err := jwt.NewParser(options...).ParseWithClaims(raw, &Claims{}, c.keyFunc)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, fmt.Errorf("%w: %v", ErrExpired, err)
		}
		return nil, fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok || !token.Valid {
		return nil, ErrInvalid
	}
	if claims.Kind != kind {
		return nil, fmt.Errorf("%w: expected %s token", ErrInvalid, kind)
	}
	if claims.Subject == "" || claims.ID == "" {
		return nil, fmt.Errorf("%w: missing sub or jti", ErrInvalid)
	}
	if !validateTime && c.cfg.Issuer != "" && claims.Issuer != c.cfg.Issuer {
		return nil, fmt.Errorf("%w: issuer mismatch", ErrInvalid)
	}
	return claims, nil
}

func (c *Codec) keyFunc(t *jwt.Token) (any, error) {
	if t.Method.Alg() != c.method.Alg() {
		return nil, fmt.Errorf("unexpected signing algorithm: %s", t.Method.Alg())
	}
	kid, _ := t.Header["kid"].(string)
	if len(c.verifyBy) > 0 {
		key, ok := c.verifyBy[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return key, nil
	}
	if c.cfg.KeyID != "" && kid != c.cfg.KeyID {
		return nil, errors.New("unknown kid")
	}
	return c.verifyKey, nil
}

func (c *Codec) verifyKeyFromBytes(key []byte) (any, error) {
	if c.method == jwt.SigningMethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 private key", ErrConfig)
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 private key type", ErrConfig)
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, fmt.Errorf("%w: invalid ed25519 public key", ErrConfig)
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, fmt.Errorf("%w: invalid ed25519 public key type", ErrConfig)
	}
	return edKey, nil
}

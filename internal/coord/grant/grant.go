// Package grant mints and verifies participant grants: short-lived Ed25519
// JWTs binding a (session, participant, role) triple. The house mints a grant
// when a participant joins; the ingress requires one before accepting ready
// signals or envelope publishes.
package grant

import (
	"crypto/ed25519"
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/openparlor/parlor/internal/coord/policy"
	apperrors "github.com/openparlor/parlor/internal/platform/errors"
)

// DefaultTTL bounds how long a minted grant stays valid.
const DefaultTTL = 15 * time.Minute

// grantEnv holds raw env values before post-parse validation.
type grantEnv struct {
	Issuer     string `env:"PARLOR_GRANT_ISSUER"`
	Audience   string `env:"PARLOR_GRANT_AUDIENCE"`
	PrivateKey string `env:"PARLOR_GRANT_PRIVATE_KEY"`
}

// Config defines how grants are minted and verified.
type Config struct {
	Issuer   string
	Audience string
	Private  ed25519.PrivateKey
	Public   ed25519.PublicKey
	TTL      time.Duration
	Now      func() time.Time
}

// Expectation defines the identity a grant must carry.
type Expectation struct {
	SessionID     string
	ParticipantID string
}

// Claims captures a validated grant.
type Claims struct {
	Issuer        string
	Audience      []string
	ExpiresAt     time.Time
	IssuedAt      time.Time
	JWTID         string
	SessionID     string
	ParticipantID string
	Role          policy.Role
}

// grantClaims is the internal claims type used for JWT parsing.
type grantClaims struct {
	jwt.RegisteredClaims
	SessionID     string `json:"session_id"`
	ParticipantID string `json:"participant_id"`
	Role          string `json:"role"`
}

// LoadConfigFromEnv reads grant signing configuration. The private key is a
// base64-encoded Ed25519 seed or full private key; the public half is derived.
func LoadConfigFromEnv(now func() time.Time) (Config, error) {
	var raw grantEnv
	if err := env.Parse(&raw); err != nil {
		return Config{}, fmt.Errorf("parse grant env: %w", err)
	}
	issuer := strings.TrimSpace(raw.Issuer)
	audience := strings.TrimSpace(raw.Audience)
	privateKey := strings.TrimSpace(raw.PrivateKey)
	if issuer == "" {
		return Config{}, fmt.Errorf("PARLOR_GRANT_ISSUER is required")
	}
	if audience == "" {
		return Config{}, fmt.Errorf("PARLOR_GRANT_AUDIENCE is required")
	}
	if privateKey == "" {
		return Config{}, fmt.Errorf("PARLOR_GRANT_PRIVATE_KEY is required")
	}
	keyBytes, err := decodeBase64(privateKey)
	if err != nil {
		return Config{}, fmt.Errorf("decode grant private key: %w", err)
	}
	var private ed25519.PrivateKey
	switch len(keyBytes) {
	case ed25519.SeedSize:
		private = ed25519.NewKeyFromSeed(keyBytes)
	case ed25519.PrivateKeySize:
		private = ed25519.PrivateKey(keyBytes)
	default:
		return Config{}, fmt.Errorf("grant private key must be %d or %d bytes",
			ed25519.SeedSize, ed25519.PrivateKeySize)
	}
	if now == nil {
		now = time.Now
	}
	return Config{
		Issuer:   issuer,
		Audience: audience,
		Private:  private,
		Public:   private.Public().(ed25519.PublicKey),
		TTL:      DefaultTTL,
		Now:      now,
	}, nil
}

// Mint signs a grant binding sessionID, participantID, and role.
func Mint(sessionID, participantID string, role policy.Role, cfg Config) (string, error) {
	if len(cfg.Private) != ed25519.PrivateKeySize {
		return "", errors.New("grant signer is not configured")
	}
	now := time.Now
	if cfg.Now != nil {
		now = cfg.Now
	}
	ttl := cfg.TTL
	if ttl <= 0 {
		ttl = DefaultTTL
	}

	issued := now().UTC()
	claims := grantClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    cfg.Issuer,
			Audience:  jwt.ClaimStrings{cfg.Audience},
			IssuedAt:  jwt.NewNumericDate(issued),
			ExpiresAt: jwt.NewNumericDate(issued.Add(ttl)),
			ID:        uuid.NewString(),
		},
		SessionID:     sessionID,
		ParticipantID: participantID,
		Role:          string(role),
	}
	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	signed, err := token.SignedString(cfg.Private)
	if err != nil {
		return "", fmt.Errorf("sign grant: %w", err)
	}
	return signed, nil
}

// Validate verifies a grant token and checks it against the expected identity.
func Validate(token string, expected Expectation, cfg Config) (Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant is required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.Issuer == "" || cfg.Audience == "" || len(cfg.Public) != ed25519.PublicKeySize {
		return Claims{}, errors.New("grant verifier is not configured")
	}

	var parsed grantClaims
	_, err := jwt.ParseWithClaims(token, &parsed, func(token *jwt.Token) (any, error) {
		return cfg.Public, nil
	},
		jwt.WithValidMethods([]string{"EdDSA"}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, mapJWTError(err)
	}

	if parsed.Issuer == "" || parsed.Issuer != cfg.Issuer {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeGrantMismatch,
			"grant issuer mismatch", map[string]string{"Field": "issuer"})
	}
	if !audienceContains(parsed.Audience, cfg.Audience) {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeGrantMismatch,
			"grant audience mismatch", map[string]string{"Field": "audience"})
	}
	if parsed.ID == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant jti is required")
	}
	if parsed.ExpiresAt == nil {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant exp is required")
	}

	now := cfg.Now().UTC()
	exp := parsed.ExpiresAt.Time.UTC()
	if !exp.After(now) {
		return Claims{}, apperrors.New(apperrors.CodeGrantExpired, "grant is expired")
	}
	if parsed.NotBefore != nil && now.Before(parsed.NotBefore.Time.UTC()) {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant not active yet")
	}

	if strings.TrimSpace(parsed.SessionID) == "" || parsed.SessionID != expected.SessionID {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeGrantMismatch,
			"grant session mismatch", map[string]string{"Field": "session_id"})
	}
	if strings.TrimSpace(parsed.ParticipantID) == "" {
		return Claims{}, apperrors.New(apperrors.CodeGrantInvalid, "grant participant is required")
	}
	// An empty expected participant means the caller identifies the
	// participant from the grant itself.
	if expected.ParticipantID != "" && parsed.ParticipantID != expected.ParticipantID {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeGrantMismatch,
			"grant participant mismatch", map[string]string{"Field": "participant_id"})
	}
	role, err := policy.ParseRole(parsed.Role)
	if err != nil {
		return Claims{}, apperrors.WithMetadata(apperrors.CodeGrantInvalid,
			"grant role is invalid", map[string]string{"Role": parsed.Role})
	}

	claims := Claims{
		Issuer:        parsed.Issuer,
		Audience:      []string(parsed.Audience),
		ExpiresAt:     exp,
		JWTID:         parsed.ID,
		SessionID:     parsed.SessionID,
		ParticipantID: parsed.ParticipantID,
		Role:          role,
	}
	if parsed.IssuedAt != nil {
		claims.IssuedAt = parsed.IssuedAt.Time.UTC()
	}
	return claims, nil
}

// mapJWTError translates jwt library errors to application errors.
func mapJWTError(err error) error {
	if errors.Is(err, jwt.ErrTokenSignatureInvalid) || errors.Is(err, jwt.ErrEd25519Verification) {
		return apperrors.New(apperrors.CodeGrantInvalid, "grant signature is invalid")
	}
	if errors.Is(err, jwt.ErrTokenUnverifiable) {
		return apperrors.New(apperrors.CodeGrantInvalid, "grant alg is invalid")
	}
	return apperrors.New(apperrors.CodeGrantInvalid, "grant is invalid")
}

// audienceContains reports whether the audience list contains the given value.
func audienceContains(aud jwt.ClaimStrings, value string) bool {
	for _, item := range aud {
		if item == value {
			return true
		}
	}
	return false
}

func decodeBase64(value string) ([]byte, error) {
	if value == "" {
		return nil, errors.New("empty base64 value")
	}
	decoded, err := base64.RawStdEncoding.DecodeString(value)
	if err == nil {
		return decoded, nil
	}
	return base64.StdEncoding.DecodeString(value)
}

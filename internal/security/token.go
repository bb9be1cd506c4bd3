package security

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/surveyforge/surveyforge-backend/internal/domain"
)

var (
	ErrInvalidDuration = errors.New("invalid duration string")
	ErrExpired         = errors.New("token expired")
	ErrMalformed       = errors.New("token malformed")
)

// Claims is the signed payload embedded in every credential.
type Claims struct {
	Email string                `json:"email"`
	Role  domain.Role           `json:"role"`
	Kind  domain.CredentialKind `json:"kind"`
	jwt.RegisteredClaims
}

// OwnerID parses the subject back into the owning account id.
func (c *Claims) OwnerID() (uint, error) {
	id, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject %q: %w", c.Subject, ErrMalformed)
	}
	return uint(id), nil
}

// TokenCodec produces and validates signed credential strings over a shared
// HS256 secret. It never touches the credential store; revocation checks live
// a layer up in the session service.
type TokenCodec struct {
	issuer string
	secret []byte
}

func NewTokenCodec(issuer, secret string) *TokenCodec {
	return &TokenCodec{issuer: issuer, secret: []byte(secret)}
}

// Issue signs a credential for the owner. ttl uses the <N><unit> grammar
// accepted by ParseTTL.
func (c *TokenCodec) Issue(ownerID uint, email string, role domain.Role, kind domain.CredentialKind, ttl string) (string, time.Time, error) {
	d, err := ParseTTL(ttl)
	if err != nil {
		return "", time.Time{}, err
	}
	now := time.Now()
	expiresAt := now.Add(d)
	claims := Claims{
		Email: email,
		Role:  role,
		Kind:  kind,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   strconv.FormatUint(uint64(ownerID), 10),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(c.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign credential: %w", err)
	}
	return signed, expiresAt, nil
}

// Verify checks signature, structure and the embedded expiry. It reports
// ErrExpired for structurally sound but stale tokens and ErrMalformed for
// everything else.
func (c *TokenCodec) Verify(raw string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return c.secret, nil
	}, jwt.WithIssuer(c.issuer))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrExpired
		}
		return nil, ErrMalformed
	}
	if !tok.Valid {
		return nil, ErrMalformed
	}
	return claims, nil
}

// Peek decodes claims without validating signature or expiry. Inspection
// only; a Peek result must never grant access.
func (c *TokenCodec) Peek(raw string) *Claims {
	claims := &Claims{}
	parser := jwt.NewParser()
	if _, _, err := parser.ParseUnverified(raw, claims); err != nil {
		return nil
	}
	return claims
}

// HashCredential is the store lookup key: a hex SHA-256 of the full signed
// string, so raw bearer secrets are never persisted.
func HashCredential(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// TruncateForDisplay keeps the trailing characters of a credential for
// operator-facing listings.
func TruncateForDisplay(raw string, n int) string {
	if n <= 0 || len(raw) <= n {
		return raw
	}
	return raw[len(raw)-n:]
}

// ExtractBearer pulls the credential out of an Authorization header value.
// Returns "" unless the value is exactly "Bearer <credential>".
func ExtractBearer(header string) string {
	parts := strings.SplitN(header, " ", 3)
	if len(parts) != 2 || parts[0] != "Bearer" || parts[1] == "" {
		return ""
	}
	return parts[1]
}

// ParseTTL parses the <N><unit> duration grammar the configuration surface
// uses, where unit is one of s, m, h, d.
func ParseTTL(s string) (time.Duration, error) {
	if len(s) < 2 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	value, unit := s[:len(s)-1], s[len(s)-1]
	n, err := strconv.ParseInt(value, 10, 64)
	if err != nil || n <= 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	default:
		return 0, fmt.Errorf("%w: %q", ErrInvalidDuration, s)
	}
}

package utils

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	accessTokenType   = "access"
	resetGrantPurpose = "password_reset"
	challengePurpose  = "two_factor_challenge"

	DefaultChallengeTTL = 15 * time.Minute
)

var ErrInvalidToken = errors.New("invalid or expired token")

type Claims struct {
	TokenType string `json:"typ"`
	UserID    string `json:"user_id"`
	RoleID    int    `json:"role_id"`
	jwt.RegisteredClaims
}

// ResetGrantClaims prove a successful password_reset verification.
// PasswordVersion pins the grant to the password hash it was minted
// against, so the grant dies once the password changes.
type ResetGrantClaims struct {
	Purpose         string `json:"purpose"`
	PasswordVersion string `json:"pwv"`
	jwt.RegisteredClaims
}

// ChallengeClaims are handed out by a password login that still needs the
// second factor. Only the 2FA endpoints accept them.
type ChallengeClaims struct {
	Purpose string `json:"purpose"`
	jwt.RegisteredClaims
}

type TokenIssuer struct {
	key          []byte
	accessTTL    time.Duration
	grantTTL     time.Duration
	challengeTTL time.Duration
	now          func() time.Time
}

func NewTokenIssuer(secret string, accessTTL, grantTTL time.Duration) *TokenIssuer {
	return &TokenIssuer{
		key:          []byte(secret),
		accessTTL:    accessTTL,
		grantTTL:     grantTTL,
		challengeTTL: DefaultChallengeTTL,
		now:          time.Now,
	}
}

func (t *TokenIssuer) WithChallengeTTL(d time.Duration) *TokenIssuer {
	cp := *t
	if d > 0 {
		cp.challengeTTL = d
	}
	return &cp
}

// WithClock is used by tests to pin "now".
func (t *TokenIssuer) WithClock(now func() time.Time) *TokenIssuer {
	cp := *t
	cp.now = now
	return &cp
}

func (t *TokenIssuer) IssueAccess(userID string, roleID int) (string, time.Time, error) {
	exp := t.now().Add(t.accessTTL)
	claims := &Claims{
		TokenType: accessTokenType,
		UserID:    userID,
		RoleID:    roleID,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(t.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign access token: %w", err)
	}
	return s, exp, nil
}

func (t *TokenIssuer) ParseAccess(token string) (*Claims, error) {
	claims := &Claims{}
	if err := t.parse(token, claims); err != nil {
		return nil, err
	}
	// reset grants and challenges share the key but never pass as access
	if claims.TokenType != accessTokenType || claims.UserID == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) IssueChallenge(userID string) (string, time.Time, error) {
	exp := t.now().Add(t.challengeTTL)
	claims := &ChallengeClaims{
		Purpose: challengePurpose,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(t.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign challenge: %w", err)
	}
	return s, exp, nil
}

func (t *TokenIssuer) ParseChallenge(token string) (*ChallengeClaims, error) {
	claims := &ChallengeClaims{}
	if err := t.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != challengePurpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) IssueResetGrant(userID, passwordHash string) (string, time.Time, error) {
	exp := t.now().Add(t.grantTTL)
	claims := &ResetGrantClaims{
		Purpose:         resetGrantPurpose,
		PasswordVersion: PasswordVersion(passwordHash),
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(t.now()),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign reset grant: %w", err)
	}
	return s, exp, nil
}

func (t *TokenIssuer) ParseResetGrant(token string) (*ResetGrantClaims, error) {
	claims := &ResetGrantClaims{}
	if err := t.parse(token, claims); err != nil {
		return nil, err
	}
	if claims.Purpose != resetGrantPurpose || claims.Subject == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}

func (t *TokenIssuer) parse(token string, claims jwt.Claims) error {
	parsed, err := jwt.ParseWithClaims(token, claims, func(token *jwt.Token) (interface{}, error) {
		// принимаем только HMAC
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, jwt.ErrTokenSignatureInvalid
		}
		return t.key, nil
	}, jwt.WithTimeFunc(t.now), jwt.WithExpirationRequired())
	if err != nil || !parsed.Valid {
		return ErrInvalidToken
	}
	return nil
}

// PasswordVersion is a short fingerprint of a password hash.
func PasswordVersion(passwordHash string) string {
	sum := sha256.Sum256([]byte(passwordHash))
	return hex.EncodeToString(sum[:8])
}

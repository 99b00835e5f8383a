package security

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

var (
	// ErrTokenInvalid is returned when a token is malformed, forged, or carries the wrong iss/aud.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired is returned for a well-formed, correctly signed token past its expiry.
	// The claims are still returned alongside it so callers can drive a transparent refresh.
	ErrTokenExpired = errors.New("token expired")
)

// AccessClaims holds JWT claims for the access token.
type AccessClaims struct {
	jwt.RegisteredClaims
	UserID       int64  `json:"user_id"`
	SessionID    string `json:"session_id"`
	Role         string `json:"role"`
	TokenVersion int    `json:"token_version"`
}

// TokenProvider issues and validates HS256 access tokens signed with a server-held secret.
// Refresh tokens are opaque values (NewRefreshTokenValue), not JWTs.
type TokenProvider struct {
	secret    []byte
	issuer    string
	audience  string
	accessTTL time.Duration
}

// NewTokenProvider returns a TokenProvider signing with secret.
// issuer and audience are set on claims and validated on decode.
func NewTokenProvider(secret []byte, issuer, audience string, accessTTL time.Duration) *TokenProvider {
	return &TokenProvider{
		secret:    secret,
		issuer:    issuer,
		audience:  audience,
		accessTTL: accessTTL,
	}
}

// AccessTTL returns the configured access token lifetime.
func (p *TokenProvider) AccessTTL() time.Duration { return p.accessTTL }

// IssueAccess issues a short-lived access JWT for the given user, session, role,
// and the token version current at issuance. Returns the token string and its expiry.
func (p *TokenProvider) IssueAccess(userID int64, sessionID, role string, tokenVersion int) (token string, expiresAt time.Time, err error) {
	now := time.Now().UTC()
	expiresAt = now.Add(p.accessTTL)
	claims := AccessClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.New().String(),
			Issuer:    p.issuer,
			Audience:  jwt.ClaimStrings{p.audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
		},
		UserID:       userID,
		SessionID:    sessionID,
		Role:         role,
		TokenVersion: tokenVersion,
	}
	t := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	token, err = t.SignedString(p.secret)
	return token, expiresAt, err
}

// Decode parses and validates an access token (signature, exp, iss, aud).
// Well-formed and current: returns (claims, nil).
// Well-formed but expired: returns (claims, ErrTokenExpired); the signature was
// verified, so the claims are trustworthy even though the token is stale.
// Malformed, forged, or wrong iss/aud: returns (nil, ErrTokenInvalid).
func (p *TokenProvider) Decode(tokenString string) (*AccessClaims, error) {
	claims := &AccessClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrTokenInvalid
		}
		return p.secret, nil
	})
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) && p.claimsTrusted(claims) {
			return claims, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !p.claimsTrusted(claims) {
		return nil, ErrTokenInvalid
	}
	return claims, nil
}

// claimsTrusted checks iss/aud and that identity claims are present.
func (p *TokenProvider) claimsTrusted(claims *AccessClaims) bool {
	if claims.Issuer != p.issuer {
		return false
	}
	audOK := false
	for _, a := range claims.Audience {
		if a == p.audience {
			audOK = true
			break
		}
	}
	if !audOK {
		return false
	}
	return claims.UserID != 0 && claims.SessionID != ""
}

// NewRefreshTokenValue returns a fresh opaque refresh token value.
// The value is the bearer secret for one user+device pair and is stored server-side.
func NewRefreshTokenValue() string {
	return uuid.New().String()
}

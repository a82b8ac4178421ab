package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/fidelio/fidelio/internal/apperr"
	"github.com/fidelio/fidelio/internal/clock"
	"github.com/fidelio/fidelio/internal/identity"
)

const (
	audienceAccess  = "access"
	audienceRefresh = "refresh"

	DefaultAccessTTL  = 15 * time.Minute
	DefaultRefreshTTL = 30 * 24 * time.Hour
)

// Claims is the session token payload: subject is the account id, role and
// token version are custom claims.
type Claims struct {
	Role    identity.Role `json:"role"`
	Version int           `json:"ver"`
	jwt.RegisteredClaims
}

// IssuerOptions configures token signing. RefreshSecret falls back to
// AccessSecret when empty.
type IssuerOptions struct {
	Name          string
	AccessSecret  string
	RefreshSecret string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
}

// Issuer mints and parses HS256 session tokens.
type Issuer struct {
	opts  IssuerOptions
	clock clock.Clock
}

func NewIssuer(opts IssuerOptions, clk clock.Clock) (*Issuer, error) {
	if opts.AccessSecret == "" {
		return nil, errors.New("access token secret must be set")
	}
	if opts.RefreshSecret == "" {
		opts.RefreshSecret = opts.AccessSecret
	}
	if opts.AccessTTL <= 0 {
		opts.AccessTTL = DefaultAccessTTL
	}
	if opts.RefreshTTL <= 0 {
		opts.RefreshTTL = DefaultRefreshTTL
	}
	if opts.Name == "" {
		opts.Name = "fidelio"
	}
	return &Issuer{opts: opts, clock: clock.OrReal(clk)}, nil
}

// Mint signs an access and refresh token pair for account.
func (i *Issuer) Mint(account identity.Account) (identity.Session, error) {
	now := i.clock.Now().UTC().Truncate(time.Second)
	access, err := i.sign(account, audienceAccess, i.opts.AccessSecret, now, i.opts.AccessTTL)
	if err != nil {
		return identity.Session{}, err
	}
	refresh, err := i.sign(account, audienceRefresh, i.opts.RefreshSecret, now, i.opts.RefreshTTL)
	if err != nil {
		return identity.Session{}, err
	}
	return identity.Session{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    now.Add(i.opts.AccessTTL),
		ExpiresIn:    int64(i.opts.AccessTTL.Seconds()),
	}, nil
}

func (i *Issuer) sign(account identity.Account, audience, secret string, now time.Time, ttl time.Duration) (string, error) {
	claims := Claims{
		Role:    account.Role,
		Version: account.TokenVersion,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    i.opts.Name,
			Subject:   account.ID,
			Audience:  jwt.ClaimStrings{audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// ParseAccess verifies an access token's signature, expiry and audience.
func (i *Issuer) ParseAccess(token string) (Claims, error) {
	return i.parse(token, audienceAccess, i.opts.AccessSecret)
}

func (i *Issuer) ParseRefresh(token string) (Claims, error) {
	return i.parse(token, audienceRefresh, i.opts.RefreshSecret)
}

func (i *Issuer) parse(token, audience, secret string) (Claims, error) {
	var claims Claims
	_, err := jwt.ParseWithClaims(token, &claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithAudience(audience),
		jwt.WithIssuer(i.opts.Name),
		jwt.WithExpirationRequired(),
		jwt.WithTimeFunc(i.clock.Now),
	)
	if err != nil {
		return Claims{}, fmt.Errorf("%s token: %w", audience, apperr.ErrInvalidCredentials)
	}
	if claims.Subject == "" {
		return Claims{}, fmt.Errorf("%s token has no subject: %w", audience, apperr.ErrInvalidCredentials)
	}
	return claims, nil
}

// Package auth issues and verifies the bearer tokens used by the API.
package auth

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"cafe-system/internal/collab"
	"cafe-system/internal/common/config"
	"cafe-system/internal/domain"
)

const (
	typeAccess  = "access"
	typeRefresh = "refresh"
)

// Claims carry the user id in Subject. Role is informational; the API
// reloads the user on every request.
type Claims struct {
	Type string      `json:"typ"`
	Role domain.Role `json:"role,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (int64, error) {
	id, err := strconv.ParseInt(c.Subject, 10, 64)
	if err != nil || id <= 0 {
		return 0, domain.Unauthenticatedf("token has no valid subject")
	}
	return id, nil
}

type UserSource interface {
	GetUser(ctx context.Context, id int64) (domain.User, error)
}

// Provider is an HS256 AuthProvider.
type Provider struct {
	secret     []byte
	issuer     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	users      UserSource

	// Now is the token clock; tests replace it.
	Now func() time.Time
}

var _ collab.AuthProvider = (*Provider)(nil)

func New(cfg config.Auth, users UserSource) *Provider {
	if cfg.AccessTTL <= 0 {
		cfg.AccessTTL = 15 * time.Minute
	}
	if cfg.RefreshTTL <= 0 {
		cfg.RefreshTTL = 30 * 24 * time.Hour
	}
	return &Provider{
		secret:     []byte(cfg.Secret),
		issuer:     cfg.Issuer,
		accessTTL:  cfg.AccessTTL,
		refreshTTL: cfg.RefreshTTL,
		users:      users,
		Now:        time.Now,
	}
}

func (p *Provider) sign(u domain.User, typ string, ttl time.Duration) (string, time.Time, error) {
	now := p.Now()
	exp := now.Add(ttl)
	claims := &Claims{
		Type: typ,
		Role: u.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Issuer:    p.issuer,
			Subject:   strconv.FormatInt(u.ID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(p.secret)
	return s, exp, err
}

func (p *Provider) IssueTokens(ctx context.Context, userID int64) (collab.Tokens, error) {
	u, err := p.users.GetUser(ctx, userID)
	if err != nil {
		return collab.Tokens{}, err
	}
	access, accessExp, err := p.sign(u, typeAccess, p.accessTTL)
	if err != nil {
		return collab.Tokens{}, domain.Internal(err)
	}
	refresh, refreshExp, err := p.sign(u, typeRefresh, p.refreshTTL)
	if err != nil {
		return collab.Tokens{}, domain.Internal(err)
	}
	return collab.Tokens{Access: access, Refresh: refresh, AccessExpiresAt: accessExp, RefreshExpiresAt: refreshExp}, nil
}

// Parse verifies signature, issuer, expiry and token type.
func (p *Provider) Parse(token, typ string) (*Claims, error) {
	claims := &Claims{}
	opts := []jwt.ParserOption{
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(p.Now),
	}
	if p.issuer != "" {
		opts = append(opts, jwt.WithIssuer(p.issuer))
	}
	_, err := jwt.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) { return p.secret, nil }, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, domain.Unauthenticatedf("token expired")
		}
		return nil, domain.Unauthenticatedf("invalid token")
	}
	if claims.Type != typ {
		return nil, domain.Unauthenticatedf("expected %s token", typ)
	}
	return claims, nil
}

// ParseAccess verifies an access token.
func (p *Provider) ParseAccess(token string) (*Claims, error) { return p.Parse(token, typeAccess) }

func (p *Provider) UserOf(_ context.Context, token string) (int64, error) {
	c, err := p.ParseAccess(token)
	if err != nil {
		return 0, err
	}
	return c.UserID()
}

// Refresh trades a valid refresh token for a fresh pair.
func (p *Provider) Refresh(ctx context.Context, refreshToken string) (collab.Tokens, error) {
	c, err := p.Parse(refreshToken, typeRefresh)
	if err != nil {
		return collab.Tokens{}, err
	}
	id, err := c.UserID()
	if err != nil {
		return collab.Tokens{}, err
	}
	return p.IssueTokens(ctx, id)
}

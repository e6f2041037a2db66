// Package auth resolves the calling user from a bearer token. Users are
// provisioned on first sight, keyed by the token subject.
package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/wheelhousehq/wheelhouse/internal/apperrors"
	"github.com/wheelhousehq/wheelhouse/internal/store"
	"github.com/wheelhousehq/wheelhouse/pkg/models"
)

var (
	// ErrUnauthorized is returned when no valid credential accompanies
	// the request.
	ErrUnauthorized apperrors.Error = apperrors.New("unauthorized").SetStatusCode(http.StatusUnauthorized)
)

// Provider resolves the authenticated user for one request.
type Provider interface {
	CurrentUser(r *http.Request) (*models.User, error)
}

// Claims are the JWT claims the service understands. Subject identifies
// the user at the external identity provider.
type Claims struct {
	Email string `json:"email,omitempty"`
	Admin bool   `json:"admin,omitempty"`
	jwt.RegisteredClaims
}

// JWT validates HS256 bearer tokens and provisions a user record for
// each new subject.
type JWT struct {
	secret []byte
	store  store.Store
}

func NewJWT(secret string, st store.Store) *JWT {
	return &JWT{secret: []byte(secret), store: st}
}

func (j *JWT) CurrentUser(r *http.Request) (*models.User, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return nil, err
	}

	claims := &Claims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return nil, ErrUnauthorized.Msg("invalid token").Err(err)
	}
	if claims.Subject == "" {
		return nil, ErrUnauthorized.Msg("token has no subject")
	}

	return getOrCreateUser(r.Context(), j.store, claims.Subject, claims.Email, claims.Admin)
}

// DevToken accepts a single static token, for local development where no
// identity provider is running. Every request maps to one dev user.
type DevToken struct {
	token string
	store store.Store
}

func NewDevToken(token string, st store.Store) *DevToken {
	return &DevToken{token: token, store: st}
}

func (d *DevToken) CurrentUser(r *http.Request) (*models.User, error) {
	raw, err := bearerToken(r)
	if err != nil {
		return nil, err
	}
	if raw != d.token {
		return nil, ErrUnauthorized.Msg("invalid token")
	}
	return getOrCreateUser(r.Context(), d.store, "dev", "dev@localhost", true)
}

// Chain tries each provider in order, returning the first success. Used
// to accept both JWT and dev tokens when both are configured.
type Chain []Provider

func (c Chain) CurrentUser(r *http.Request) (*models.User, error) {
	var lastErr error
	for _, p := range c {
		u, err := p.CurrentUser(r)
		if err == nil {
			return u, nil
		}
		lastErr = err
	}
	if lastErr == nil {
		lastErr = ErrUnauthorized
	}
	return nil, lastErr
}

func getOrCreateUser(ctx context.Context, st store.Store, externalID, email string, admin bool) (*models.User, error) {
	u, err := st.GetUserByExternalID(ctx, externalID)
	if err == nil {
		return u, nil
	}
	if !errors.Is(err, store.ErrNotFound) {
		return nil, err
	}

	u = &models.User{
		ID:         uuid.New().String(),
		ExternalID: externalID,
		Email:      email,
		IsAdmin:    admin,
		CreatedAt:  time.Now().UTC(),
	}
	if err := st.CreateUser(ctx, u); err != nil {
		// lost a provisioning race; the row exists now
		if errors.Is(err, store.ErrConflict) {
			return st.GetUserByExternalID(ctx, externalID)
		}
		return nil, err
	}
	return u, nil
}

func bearerToken(r *http.Request) (string, error) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrUnauthorized.Msg("missing Authorization header")
	}
	parts := strings.SplitN(header, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return "", ErrUnauthorized.Msg("malformed Authorization header")
	}
	return strings.TrimSpace(parts[1]), nil
}

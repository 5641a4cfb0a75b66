// Package auth verifies bearer tokens and resolves them to directory users.
package auth

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/vedran77/stratchat/internal/domain"
	"github.com/vedran77/stratchat/internal/repository"
)

var (
	ErrInvalidToken = errors.New("invalid or expired token")
	ErrUnknownUser  = errors.New("token subject is not a known user")
)

type Authenticator struct {
	secret []byte
	users  repository.UserRepository
}

func NewAuthenticator(secret string, users repository.UserRepository) *Authenticator {
	return &Authenticator{secret: []byte(secret), users: users}
}

// Authenticate verifies tokenStr and looks its subject up in the directory.
func (a *Authenticator) Authenticate(ctx context.Context, tokenStr string) (domain.AuthenticatedUser, error) {
	userID, err := a.UserID(tokenStr)
	if err != nil {
		return domain.AuthenticatedUser{}, err
	}

	u, err := a.users.GetByID(ctx, userID)
	if err != nil {
		return domain.AuthenticatedUser{}, fmt.Errorf("looking up user: %w", err)
	}
	if u == nil {
		return domain.AuthenticatedUser{}, ErrUnknownUser
	}
	return domain.AuthenticatedUser{ID: u.ID, Name: u.Name}, nil
}

// UserID returns the user id carried by an HS256 token, read from the
// "sub" claim or the older numeric "user_id" claim.
func (a *Authenticator) UserID(tokenStr string) (int64, error) {
	token, err := jwt.Parse(tokenStr, func(t *jwt.Token) (any, error) {
		return a.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid {
		return 0, ErrInvalidToken
	}

	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return 0, ErrInvalidToken
	}

	if sub, _ := claims.GetSubject(); sub != "" {
		id, err := strconv.ParseInt(sub, 10, 64)
		if err != nil || id <= 0 {
			return 0, ErrInvalidToken
		}
		return id, nil
	}

	// jwt decodes JSON numbers as float64.
	if raw, ok := claims["user_id"].(float64); ok && raw > 0 && raw == float64(int64(raw)) {
		return int64(raw), nil
	}
	return 0, ErrInvalidToken
}

// NewToken signs a token for userID. ttl <= 0 means no expiry.
func NewToken(secret string, userID int64, ttl time.Duration) (string, error) {
	claims := jwt.RegisteredClaims{
		Subject:  strconv.FormatInt(userID, 10),
		IssuedAt: jwt.NewNumericDate(time.Now()),
	}
	if ttl > 0 {
		claims.ExpiresAt = jwt.NewNumericDate(time.Now().Add(ttl))
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

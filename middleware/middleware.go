package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"emporium/apperr"
	"emporium/globals"
	"emporium/utils"

	"github.com/golang-jwt/jwt/v5"
	"github.com/julienschmidt/httprouter"
)

// JWT claims
type Claims struct {
	UserID string `json:"userId"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// JWT signs and verifies bearer tokens with a shared HS256 secret.
type JWT struct {
	secret []byte
	ttl    time.Duration
}

func NewJWT(secret string, ttl time.Duration) *JWT {
	return &JWT{secret: []byte(secret), ttl: ttl}
}

// Issue returns a signed token for userID carrying role.
func (j *JWT) Issue(userID, role string) (string, error) {
	now := time.Now()
	claims := Claims{
		UserID: userID,
		Role:   role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   userID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(j.ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(j.secret)
}

// Parse validates a raw token (without the Bearer prefix).
func (j *JWT) Parse(tokenString string) (*Claims, error) {
	if tokenString == "" {
		return nil, errors.New("empty token")
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return j.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, fmt.Errorf("unauthorized: %w", err)
	}
	if !token.Valid || claims.UserID == "" {
		return nil, errors.New("unauthorized: invalid claims")
	}
	return claims, nil
}

// WithClaims stores the caller identity in ctx.
func WithClaims(ctx context.Context, c *Claims) context.Context {
	ctx = context.WithValue(ctx, globals.UserIDKey, c.UserID)
	return context.WithValue(ctx, globals.RoleKey, c.Role)
}

func (j *JWT) Authenticate(next httprouter.Handle) httprouter.Handle {
	return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
		header := r.Header.Get("Authorization")
		if header == "" {
			utils.RespondWithError(w, apperr.Unauthorized("Missing token"))
			return
		}
		tokenString, ok := strings.CutPrefix(header, "Bearer ")
		if !ok {
			utils.RespondWithError(w, apperr.Unauthorized("Invalid token format"))
			return
		}

		claims, err := j.Parse(tokenString)
		if err != nil {
			utils.RespondWithError(w, apperr.Wrap(apperr.KindUnauthorized, "Invalid token", err))
			return
		}

		next(w, r.WithContext(WithClaims(r.Context(), claims)), ps)
	}
}

// RequireRoles lets the request through only if the caller has one of roles.
// It must run after Authenticate.
func RequireRoles(roles ...string) func(httprouter.Handle) httprouter.Handle {
	return func(next httprouter.Handle) httprouter.Handle {
		return func(w http.ResponseWriter, r *http.Request, ps httprouter.Params) {
			if !slices.Contains(roles, utils.GetRoleFromRequest(r)) {
				utils.RespondWithError(w, apperr.Forbidden("Access denied"))
				return
			}
			next(w, r, ps)
		}
	}
}

// Chain applies middlewares so the first one listed runs first.
func Chain(mws ...func(httprouter.Handle) httprouter.Handle) func(httprouter.Handle) httprouter.Handle {
	return func(h httprouter.Handle) httprouter.Handle {
		for i := len(mws) - 1; i >= 0; i-- {
			h = mws[i](h)
		}
		return h
	}
}

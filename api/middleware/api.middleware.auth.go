package middleware

import (
	"context"
	"encoding/json"
	stderrors "errors"
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v5"

	"github.com/farmflow/sensorhub/internal/errors"
	nuts "github.com/vaudience/go-nuts"
)

type contextKey string

const userContextKey contextKey = "user"

// Claims carried by access tokens.
type Claims struct {
	Role      string `json:"role"`
	UserPhone string `json:"userPhone"`
	jwt.RegisteredClaims
}

type UserContext struct {
	Role      string `json:"role"`
	UserPhone string `json:"userPhone"`
	Subject   string `json:"sub,omitempty"`
}

// JWTMiddleware verifies HS256 access tokens. With an empty secret every
// request passes through unauthenticated.
type JWTMiddleware struct {
	secret []byte
	parser *jwt.Parser
}

func NewJWTMiddleware(secret string) *JWTMiddleware {
	return &JWTMiddleware{
		secret: []byte(secret),
		parser: jwt.NewParser(jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})),
	}
}

// Enabled reports whether tokens are verified.
func (m *JWTMiddleware) Enabled() bool {
	return len(m.secret) > 0
}

// Authenticate validates the token and adds user info to context
func (m *JWTMiddleware) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if !m.Enabled() {
			next.ServeHTTP(w, r)
			return
		}
		token := extractToken(r)
		if token == "" {
			handleError(w, errors.NewAuthError("You are not authorized | No authorization token provided | Login first", nil))
			return
		}

		claims, err := m.Parse(token)
		if err != nil {
			msg := "Invalid token"
			if stderrors.Is(err, jwt.ErrTokenExpired) {
				msg = "Token has expired"
			}
			handleError(w, errors.NewAuthError(msg, err))
			return
		}

		user := &UserContext{Role: claims.Role, UserPhone: claims.UserPhone, Subject: claims.Subject}
		ctx := context.WithValue(r.Context(), userContextKey, user)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Parse verifies a token string and returns its claims.
func (m *JWTMiddleware) Parse(token string) (*Claims, error) {
	claims := &Claims{}
	parsed, err := m.parser.ParseWithClaims(token, claims, func(t *jwt.Token) (any, error) {
		return m.secret, nil
	})
	if err != nil {
		return nil, err
	}
	if !parsed.Valid {
		return nil, stderrors.New("token not valid")
	}
	return claims, nil
}

// RequireRoles middleware ensures user has required roles
func (m *JWTMiddleware) RequireRoles(roles ...string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !m.Enabled() {
				next.ServeHTTP(w, r)
				return
			}
			user, ok := UserFromContext(r.Context())
			if !ok {
				handleError(w, errors.NewAuthError("no user context found", nil))
				return
			}
			if !hasRequiredRole(user.Role, roles) {
				handleError(w, errors.NewAuthError("You are not permitted to do that", nil))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// UserFromContext returns the authenticated user, if any.
func UserFromContext(ctx context.Context) (*UserContext, bool) {
	user, ok := ctx.Value(userContextKey).(*UserContext)
	return user, ok
}

// extractToken accepts both "Bearer <token>" and a raw token.
func extractToken(r *http.Request) string {
	token := strings.TrimSpace(r.Header.Get("Authorization"))
	return strings.TrimSpace(strings.TrimPrefix(token, "Bearer "))
}

func hasRequiredRole(role string, required []string) bool {
	if len(required) == 0 {
		return true
	}
	for _, r := range required {
		if r == "*" || r == role {
			return true
		}
	}
	return false
}

func handleError(w http.ResponseWriter, err *errors.APIError) {
	err.WithRequestID(nuts.NID("req", 12))
	nuts.L.Warnf("[Auth] %s (request %s)", err.Error(), err.RequestID)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.Code)
	json.NewEncoder(w).Encode(map[string]any{
		"statusCode": err.Code,
		"success":    false,
		"message":    err.Message,
		"requestId":  err.RequestID,
	})
}

// Package middleware provides HTTP middleware for the service layer
package middleware

import (
	"context"
	"crypto/subtle"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/tipsterhub/service_layer/internal/errors"
	internalhttputil "github.com/tipsterhub/service_layer/internal/httputil"
	"github.com/tipsterhub/service_layer/pkg/logger"
)

// Roles carried in request context after authentication.
const (
	RoleAdmin = "admin"
	RoleCron  = "cron"
)

const tokenIssuer = "tipster"

// Claims represents admin JWT claims
type Claims struct {
	Role string `json:"role"`
	jwt.RegisteredClaims
}

// AuthConfig configures the authentication middleware.
type AuthConfig struct {
	// JWTSecret signs and verifies HS256 admin tokens.
	JWTSecret string
	// CronSecret is the static bearer token accepted on cron routes.
	CronSecret string
	TokenTTL   time.Duration
	Logger     *logger.Logger
}

// AuthMiddleware guards admin and cron routes.
type AuthMiddleware struct {
	secret     []byte
	cronSecret []byte
	ttl        time.Duration
	logger     *logger.Logger
	now        func() time.Time
}

// NewAuthMiddleware creates a new authentication middleware
func NewAuthMiddleware(cfg AuthConfig) *AuthMiddleware {
	ttl := cfg.TokenTTL
	if ttl <= 0 {
		ttl = 12 * time.Hour
	}
	log := cfg.Logger
	if log == nil {
		log = logger.NewDefault("auth")
	}
	return &AuthMiddleware{
		secret:     []byte(cfg.JWTSecret),
		cronSecret: []byte(cfg.CronSecret),
		ttl:        ttl,
		logger:     log,
		now:        time.Now,
	}
}

// IssueAdminToken signs an admin token for subject.
func (m *AuthMiddleware) IssueAdminToken(subject string) (string, time.Time, error) {
	if len(m.secret) == 0 {
		return "", time.Time{}, errors.Unavailable("admin authentication not configured")
	}
	now := m.now()
	expires := now.Add(m.ttl)
	claims := &Claims{
		Role: RoleAdmin,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   subject,
			Issuer:    tokenIssuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(m.secret)
	if err != nil {
		return "", time.Time{}, errors.Internal("sign token", err)
	}
	return signed, expires, nil
}

// RequireAdmin rejects requests without a valid admin token.
func (m *AuthMiddleware) RequireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			m.logger.WithContext(r.Context()).WithError(err).Warn("Token validation failed")
			m.respondError(w, r, err)
			return
		}

		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims.Subject, RoleAdmin)))
	})
}

// RequireCron accepts the cron secret or an admin token.
func (m *AuthMiddleware) RequireCron(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		token, err := bearerToken(r)
		if err != nil {
			m.respondError(w, r, err)
			return
		}

		if len(m.cronSecret) > 0 && subtle.ConstantTimeCompare([]byte(token), m.cronSecret) == 1 {
			next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), "cron", RoleCron)))
			return
		}

		claims, err := m.validateToken(token)
		if err != nil {
			m.logger.LogSecurityEvent(r.Context(), "cron_auth_rejected", map[string]interface{}{
				"path": r.URL.Path,
			})
			m.respondError(w, r, errors.Unauthorized("invalid cron credentials"))
			return
		}
		next.ServeHTTP(w, r.WithContext(withIdentity(r.Context(), claims.Subject, RoleAdmin)))
	})
}

func bearerToken(r *http.Request) (string, error) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return "", errors.Unauthorized("Missing Authorization header")
	}
	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") || strings.TrimSpace(parts[1]) == "" {
		return "", errors.Unauthorized("Invalid Authorization header format")
	}
	return strings.TrimSpace(parts[1]), nil
}

// validateToken validates a JWT token and returns claims
func (m *AuthMiddleware) validateToken(tokenString string) (*Claims, error) {
	if len(m.secret) == 0 {
		return nil, errors.Unauthorized("admin authentication not configured")
	}
	token, err := jwt.ParseWithClaims(tokenString, &Claims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, errors.InvalidToken(nil).WithDetails("method", token.Header["alg"])
		}
		return m.secret, nil
	}, jwt.WithIssuer(tokenIssuer), jwt.WithTimeFunc(m.now))
	if err != nil {
		return nil, errors.InvalidToken(err)
	}
	if !token.Valid {
		return nil, errors.InvalidToken(nil)
	}

	claims, ok := token.Claims.(*Claims)
	if !ok {
		return nil, errors.InvalidToken(nil).WithDetails("reason", "invalid claims type")
	}
	if claims.Role != RoleAdmin {
		return nil, errors.Forbidden("admin role required")
	}
	return claims, nil
}

// respondError sends an error response
func (m *AuthMiddleware) respondError(w http.ResponseWriter, r *http.Request, err error) {
	serviceErr := errors.GetServiceError(err)
	if serviceErr == nil {
		serviceErr = errors.Internal("Authentication failed", err)
	}

	internalhttputil.WriteErrorResponse(w, r, serviceErr.HTTPStatus, string(serviceErr.Code), serviceErr.Message, serviceErr.Details)

	m.logger.WithContext(r.Context()).WithError(err).WithFields(map[string]interface{}{
		"path":   r.URL.Path,
		"method": r.Method,
		"status": serviceErr.HTTPStatus,
	}).Warn("Authentication failed")
}

func withIdentity(ctx context.Context, userID, role string) context.Context {
	ctx = logger.WithUserID(ctx, userID)
	return logger.WithRole(ctx, role)
}

// GetUserID extracts user ID from context
func GetUserID(ctx context.Context) string {
	return logger.GetUserID(ctx)
}

// GetUserRole extracts user role from context
func GetUserRole(ctx context.Context) string {
	return logger.GetRole(ctx)
}

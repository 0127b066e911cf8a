package auth

import (
	"net/http"
	"strings"
	"time"

	apperrors "github.com/Digital-Creators-Team/slot-progressives/errors"
	"github.com/Digital-Creators-Team/slot-progressives/middleware"
	"github.com/Digital-Creators-Team/slot-progressives/types"
	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/rs/zerolog"
	"github.com/samber/lo"
)

// Context keys for operator information
const (
	OperatorIDKey = "operator_id"
	RoleKey       = "operator_role"
	ClaimsKey     = "claims"
)

// Operator roles. Operators view levels and clear faults; technicians also configure.
const (
	RoleOperator   = "operator"
	RoleTechnician = "technician"
)

// Issuer is stamped on and required of every operator token
const Issuer = "progressived"

var knownRoles = []string{RoleOperator, RoleTechnician}

// Claims are the operator token claims
type Claims struct {
	OperatorID string `json:"operator_id"`
	Role       string `json:"role"`
	jwt.RegisteredClaims
}

// JWTConfig holds JWT middleware configuration
type JWTConfig struct {
	Secret      string
	TokenPrefix string
	// Roles lists the accepted roles. Empty accepts any known role.
	Roles []string
}

// DefaultJWTConfig returns a bearer token configuration
func DefaultJWTConfig(secret string) JWTConfig {
	return JWTConfig{Secret: secret, TokenPrefix: "Bearer"}
}

// JWTMiddleware guards operator views: any operator role is accepted
func JWTMiddleware(secret string, logger zerolog.Logger) gin.HandlerFunc {
	return JWTMiddlewareWithConfig(DefaultJWTConfig(secret), logger)
}

// RequireRole guards operator mutations to the given roles
func RequireRole(secret string, logger zerolog.Logger, roles ...string) gin.HandlerFunc {
	cfg := DefaultJWTConfig(secret)
	cfg.Roles = roles
	return JWTMiddlewareWithConfig(cfg, logger)
}

// JWTMiddlewareWithConfig creates a JWT middleware with custom configuration
func JWTMiddlewareWithConfig(config JWTConfig, logger zerolog.Logger) gin.HandlerFunc {
	accepted := config.Roles
	if len(accepted) == 0 {
		accepted = knownRoles
	}

	return func(c *gin.Context) {
		log := requestLogger(c, logger)

		scheme, token, found := strings.Cut(c.GetHeader("Authorization"), " ")
		switch {
		case scheme == "" && !found:
			log.Warn().Msg("Missing Authorization header")
			abort(c, http.StatusUnauthorized, "Missing Authorization header")
			return
		case !found || scheme != config.TokenPrefix:
			log.Warn().Msg("Invalid Authorization header format")
			abort(c, http.StatusUnauthorized, "Invalid Authorization header format. Expected: Bearer <token>")
			return
		}

		claims, err := ParseToken(config.Secret, token)
		if err != nil {
			log.Warn().Err(err).Msg("Rejected operator token")
			abort(c, http.StatusUnauthorized, "Invalid or expired token")
			return
		}

		if !lo.Contains(accepted, claims.Role) {
			log.Warn().Str("operator_id", claims.OperatorID).Str("role", claims.Role).Msg("Operator role not permitted")
			abort(c, http.StatusForbidden, "Operator role not permitted")
			return
		}

		c.Set(OperatorIDKey, claims.OperatorID)
		c.Set(RoleKey, claims.Role)
		c.Set(ClaimsKey, claims)
		log.Debug().Str("operator_id", claims.OperatorID).Str("role", claims.Role).Msg("Operator authenticated")

		c.Next()
	}
}

// ParseToken validates an HS256 token issued by GenerateToken and returns its claims
func ParseToken(secret, tokenString string) (*Claims, error) {
	claims := &Claims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(*jwt.Token) (any, error) {
		return []byte(secret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}), jwt.WithIssuer(Issuer), jwt.WithExpirationRequired())
	if err != nil {
		return nil, err
	}
	return claims, nil
}

// GenerateToken signs an operator token valid for expiration
func GenerateToken(secret, operatorID, role string, expiration time.Duration) (string, error) {
	now := time.Now()
	claims := &Claims{
		OperatorID: operatorID,
		Role:       role,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    Issuer,
			Subject:   operatorID,
			ExpiresAt: jwt.NewNumericDate(now.Add(expiration)),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
}

// GetOperatorID returns the authenticated operator id
func GetOperatorID(c *gin.Context) (string, bool) {
	id := c.GetString(OperatorIDKey)
	return id, id != ""
}

// GetRole returns the authenticated operator role
func GetRole(c *gin.Context) (string, bool) {
	role := c.GetString(RoleKey)
	return role, role != ""
}

// GetClaims returns the full token claims
func GetClaims(c *gin.Context) (*Claims, bool) {
	v, exists := c.Get(ClaimsKey)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*Claims)
	return claims, ok
}

// requestLogger prefers the request logger installed by the logging middleware.
func requestLogger(c *gin.Context, fallback zerolog.Logger) *zerolog.Logger {
	if l := zerolog.Ctx(c.Request.Context()); l.GetLevel() != zerolog.Disabled {
		return l
	}
	return &fallback
}

func abort(c *gin.Context, status int, message string) {
	code := lo.Ternary(status == http.StatusForbidden, apperrors.ErrForbidden, apperrors.ErrUnauthorized)
	c.AbortWithStatusJSON(status, types.NewErrorResponse(status, c.Request.URL.Path, code, message, middleware.GetTraceID(c)))
}

package middleware

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"safemap/interfaces"
	"safemap/models"
	"safemap/utils"
)

// Context keys set by RequireAuth.
const (
	ContextUserID = "userID"
	ContextRole   = "userRole"
	ContextClaims = "claims"
)

// AuthMiddleware validates bearer tokens. Accounts are owned by an upstream
// identity service, so a valid signature is the whole check.
type AuthMiddleware struct {
	tokens interfaces.TokenValidator
}

func NewAuthMiddleware(tokens interfaces.TokenValidator) *AuthMiddleware {
	return &AuthMiddleware{tokens: tokens}
}

// RequireAuth validates the JWT and sets user context
func (am *AuthMiddleware) RequireAuth() gin.HandlerFunc {
	return func(c *gin.Context) {
		token := ExtractToken(c)
		if token == "" {
			abortWith(c, http.StatusUnauthorized, models.ErrorTypeAuthentication,
				"Authentication token required", models.CodeTokenRequired)
			return
		}

		claims, err := am.tokens.ValidateToken(token)
		if err != nil {
			logrus.Warnf("Invalid token: %v", err)
			abortWith(c, http.StatusUnauthorized, models.ErrorTypeAuthentication,
				"Invalid authentication token", models.CodeTokenInvalid)
			return
		}

		c.Set(ContextClaims, claims)
		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextRole, claims.Role)
		c.Next()
	}
}

// RequireRole must run after RequireAuth.
func (am *AuthMiddleware) RequireRole(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		abortWith(c, http.StatusForbidden, models.ErrorTypeAuthorization,
			"Insufficient permissions", models.CodeInsufficientRole)
	}
}

// Authenticate validates a raw token for the WebSocket upgrade, where the
// browser cannot set an Authorization header.
func (am *AuthMiddleware) Authenticate(token string) (*utils.Claims, error) {
	if token == "" {
		return nil, utils.NewUnauthorizedError("Authentication token required")
	}
	claims, err := am.tokens.ValidateToken(token)
	if err != nil {
		return nil, utils.NewUnauthorizedError("Invalid authentication token")
	}
	return claims, nil
}

// ExtractToken reads the bearer header, then the token query parameter.
func ExtractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && strings.EqualFold(parts[0], "bearer") {
			return strings.TrimSpace(parts[1])
		}
	}
	return c.Query("token")
}

// GetCurrentClaims returns the claims stored by RequireAuth.
func GetCurrentClaims(c *gin.Context) (*utils.Claims, bool) {
	v, exists := c.Get(ContextClaims)
	if !exists {
		return nil, false
	}
	claims, ok := v.(*utils.Claims)
	return claims, ok
}

func abortWith(c *gin.Context, status int, errorType, message, code string) {
	c.AbortWithStatusJSON(status, models.NewErrorResponse(errorType, message, code, c.GetString(ContextRequestID)))
}

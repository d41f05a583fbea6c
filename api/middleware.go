package api

import (
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/margindev/margin/internal/slogging"
)

// Permission is an operation a caller may hold on an annotation
type Permission string

const (
	// PermissionRead allows fetching an annotation
	PermissionRead Permission = "read"
	// PermissionUpdate allows modifying an annotation
	PermissionUpdate Permission = "update"
	// PermissionDelete allows deleting an annotation
	PermissionDelete Permission = "delete"
)

// contextKeyAnnotation is where the permission middleware stores the loaded annotation
const contextKeyAnnotation = "annotation"

// LoggerMiddleware attaches a request-scoped logger to the Gin context
func LoggerMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		logger := slogging.Get().WithContext(c)
		c.Set("logger", logger)

		c.Next()

		logger.Debug("%s %s -> %d (%s)", c.Request.Method, c.Request.URL.Path,
			c.Writer.Status(), time.Since(start))
	}
}

// JWTAuthMiddleware validates a bearer token and stores the caller's user id
// in the context. With required=false an absent header passes through
// anonymously; a present but invalid token is always rejected.
func JWTAuthMiddleware(secret string, required bool) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			if required {
				HandleRequestError(c, UnauthorizedError("Missing Authorization header"))
				c.Abort()
				return
			}
			c.Next()
			return
		}

		parts := strings.Split(authHeader, " ")
		if len(parts) != 2 || parts[0] != "Bearer" {
			HandleRequestError(c, UnauthorizedError("Invalid Authorization header format"))
			c.Abort()
			return
		}

		token, err := jwt.Parse(parts[1], func(token *jwt.Token) (interface{}, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, jwt.ErrSignatureInvalid
			}
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			HandleRequestError(c, UnauthorizedError("Invalid or expired token"))
			c.Abort()
			return
		}

		subject, err := token.Claims.GetSubject()
		if err != nil || subject == "" {
			HandleRequestError(c, UnauthorizedError("Token has no subject"))
			c.Abort()
			return
		}

		c.Set("userID", subject)
		c.Next()
	}
}

// ValidateAuthenticatedUser extracts the authenticated user id from the context
func ValidateAuthenticatedUser(c *gin.Context) (string, error) {
	userIDInterface, _ := c.Get("userID")
	userID, ok := userIDInterface.(string)
	if !ok || userID == "" {
		return "", UnauthorizedError("Authentication required")
	}
	return userID, nil
}

// UserFromContext returns the caller's user id, or "" for anonymous requests
func UserFromContext(c *gin.Context) string {
	if v, ok := c.Get("userID"); ok {
		if s, ok := v.(string); ok {
			return s
		}
	}
	return ""
}

// RequireAnnotationPermission loads the :id annotation, rejects the request
// unless the caller holds the given permission, and stores the annotation in
// the context for the handler. All authorization happens here, before any
// coordinator logic runs.
func RequireAnnotationPermission(store AnnotationStore, perm Permission) gin.HandlerFunc {
	return func(c *gin.Context) {
		logger := slogging.GetContextLogger(c)

		id, err := uuid.Parse(c.Param("id"))
		if err != nil {
			HandleRequestError(c, InvalidIDError("Invalid annotation ID format, must be a valid UUID"))
			c.Abort()
			return
		}

		userID, authErr := ValidateAuthenticatedUser(c)
		if authErr != nil {
			HandleRequestError(c, authErr)
			c.Abort()
			return
		}

		ann, err := store.Get(c.Request.Context(), id)
		if err != nil {
			logger.Error("Failed to load annotation %s: %v", id, err)
			HandleRequestError(c, ServerError("Failed to load annotation"))
			c.Abort()
			return
		}
		if ann == nil {
			HandleRequestError(c, NotFoundError("Annotation not found"))
			c.Abort()
			return
		}

		if !hasPermission(ann, userID, perm) {
			HandleRequestError(c, ForbiddenError("Insufficient permissions for this annotation"))
			c.Abort()
			return
		}

		c.Set(contextKeyAnnotation, ann)
		c.Next()
	}
}

// hasPermission evaluates the caller's rights on one annotation. Shared
// annotations are readable by any authenticated user; mutations are owner-only.
func hasPermission(ann *Annotation, userID string, perm Permission) bool {
	if ann.UserID == userID {
		return true
	}
	return perm == PermissionRead && ann.Shared
}

// AnnotationFromContext returns the annotation loaded by the permission middleware
func AnnotationFromContext(c *gin.Context) (*Annotation, bool) {
	v, ok := c.Get(contextKeyAnnotation)
	if !ok {
		return nil, false
	}
	ann, ok := v.(*Annotation)
	return ann, ok
}

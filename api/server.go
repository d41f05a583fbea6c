package api

import (
	"github.com/gin-gonic/gin"
)

// Server wires the annotation endpoints into a Gin router
type Server struct {
	annotationHandler *AnnotationHandler
	store             AnnotationStore
	jwtSecret         string
}

// NewServer creates a new API server instance
func NewServer(handler *AnnotationHandler, store AnnotationStore, jwtSecret string) *Server {
	return &Server{
		annotationHandler: handler,
		store:             store,
		jwtSecret:         jwtSecret,
	}
}

// RegisterRoutes registers the annotation API routes. Authorization is
// enforced per route: search accepts anonymous callers, reads require the
// read permission on the target annotation, mutations require ownership.
func (s *Server) RegisterRoutes(r *gin.Engine) {
	h := s.annotationHandler

	requireAuth := JWTAuthMiddleware(s.jwtSecret, true)
	optionalAuth := JWTAuthMiddleware(s.jwtSecret, false)

	apiGroup := r.Group("/api")

	apiGroup.GET("/search", optionalAuth, h.SearchAnnotations)

	annotations := apiGroup.Group("/annotations")
	annotations.POST("", requireAuth, h.CreateAnnotation)
	annotations.GET("/:id", requireAuth,
		RequireAnnotationPermission(s.store, PermissionRead), h.GetAnnotation)
	annotations.GET("/:id/jsonld", requireAuth,
		RequireAnnotationPermission(s.store, PermissionRead), h.GetAnnotationJSONLD)
	annotations.PATCH("/:id", requireAuth,
		RequireAnnotationPermission(s.store, PermissionUpdate), h.UpdateAnnotation)
	annotations.PUT("/:id", requireAuth,
		RequireAnnotationPermission(s.store, PermissionUpdate), h.UpdateAnnotation)
	annotations.DELETE("/:id", requireAuth,
		RequireAnnotationPermission(s.store, PermissionDelete), h.DeleteAnnotation)
	// Dev-only; the handler itself answers 404 outside dev mode
	annotations.POST("/:id/reindex", requireAuth, h.ReindexAnnotation)
}

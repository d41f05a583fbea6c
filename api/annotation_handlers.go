package api

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/margindev/margin/internal/slogging"
)

// AnnotationWriter is the mutation coordinator consumed by the handlers
type AnnotationWriter interface {
	Create(ctx context.Context, fields *AnnotationFields, userID string) (*Annotation, error)
	Update(ctx context.Context, existing *Annotation, fields *AnnotationFields) (*Annotation, error)
}

// AnnotationDeleter removes annotations from persistence and the search index
type AnnotationDeleter interface {
	Delete(ctx context.Context, ann *Annotation) error
}

// AnnotationHandler provides the annotation CRUD and search endpoints.
// Authorization runs in middleware before any of these handlers; mutation
// handlers delegate to the write/delete coordinators which own the
// transaction and event ordering.
type AnnotationHandler struct {
	writer    AnnotationWriter
	deleter   AnnotationDeleter
	store     AnnotationStore
	index     SearchIndex
	presenter *AnnotationJSONService
	devMode   bool
}

// NewAnnotationHandler creates the annotation endpoint handler
func NewAnnotationHandler(
	writer AnnotationWriter,
	deleter AnnotationDeleter,
	store AnnotationStore,
	index SearchIndex,
	presenter *AnnotationJSONService,
	devMode bool,
) *AnnotationHandler {
	return &AnnotationHandler{
		writer:    writer,
		deleter:   deleter,
		store:     store,
		index:     index,
		presenter: presenter,
		devMode:   devMode,
	}
}

// SearchAnnotationsResponse is the search result envelope. Replies is a
// pointer so the key is rendered only when reply separation was requested;
// its presence is part of the contract, distinct from an empty list.
type SearchAnnotationsResponse struct {
	Total   int                     `json:"total"`
	Rows    []*PresentedAnnotation  `json:"rows"`
	Replies *[]*PresentedAnnotation `json:"replies,omitempty"`
}

// DeleteAnnotationResponse acknowledges a deletion. Kept as a body instead of
// a 204 for compatibility with existing clients.
type DeleteAnnotationResponse struct {
	ID      string `json:"id"`
	Deleted bool   `json:"deleted"`
}

// ReindexAnnotationResponse acknowledges an on-demand reindex
type ReindexAnnotationResponse struct {
	ID      string `json:"id"`
	Indexed bool   `json:"indexed"`
}

// SearchAnnotations handles GET /api/search
func (h *AnnotationHandler) SearchAnnotations(c *gin.Context) {
	logger := slogging.GetContextLogger(c)

	schema := &SearchParamsSchema{}
	params, separateReplies, err := schema.Validate(c.Request.URL.Query())
	if err != nil {
		HandleRequestError(c, err)
		return
	}

	userID := UserFromContext(c)
	params.Viewer = userID

	result, err := h.index.Run(c.Request.Context(), params, separateReplies)
	if err != nil {
		logger.Error("Search failed: %v", err)
		HandleRequestError(c, ServerError("Search failed"))
		return
	}

	rows, err := h.presenter.PresentAllForUser(c.Request.Context(), result.AnnotationIDs, userID)
	if err != nil {
		logger.Error("Failed to present search results: %v", err)
		HandleRequestError(c, ServerError("Failed to present search results"))
		return
	}

	response := SearchAnnotationsResponse{
		Total: result.Total,
		Rows:  rows,
	}

	if separateReplies {
		replies, err := h.presenter.PresentAllForUser(c.Request.Context(), result.ReplyIDs, userID)
		if err != nil {
			logger.Error("Failed to present reply results: %v", err)
			HandleRequestError(c, ServerError("Failed to present search results"))
			return
		}
		response.Replies = &replies
	}

	logger.Debug("Search returned %d rows (total: %d, separate_replies: %t)",
		len(rows), result.Total, separateReplies)
	c.JSON(http.StatusOK, response)
}

// CreateAnnotation handles POST /api/annotations
func (h *AnnotationHandler) CreateAnnotation(c *gin.Context) {
	logger := slogging.GetContextLogger(c)

	userID, err := ValidateAuthenticatedUser(c)
	if err != nil {
		HandleRequestError(c, err)
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		HandleRequestError(c, InvalidInputError("Failed to read request body"))
		return
	}

	schema := &CreateAnnotationSchema{}
	fields, err := schema.Validate(raw)
	if err != nil {
		HandleRequestError(c, err)
		return
	}

	ann, err := h.writer.Create(c.Request.Context(), fields, userID)
	if err != nil {
		logger.Error("Failed to create annotation: %v", err)
		HandleRequestError(c, ServerError("Failed to create annotation"))
		return
	}

	c.JSON(http.StatusOK, h.presenter.PresentForUser(ann, userID))
}

// GetAnnotation handles GET /api/annotations/:id. Pure pass-through to the
// presenter; no event is raised.
func (h *AnnotationHandler) GetAnnotation(c *gin.Context) {
	ann, ok := AnnotationFromContext(c)
	if !ok {
		HandleRequestError(c, ServerError("Annotation missing from request context"))
		return
	}

	c.JSON(http.StatusOK, h.presenter.PresentForUser(ann, UserFromContext(c)))
}

// GetAnnotationJSONLD handles GET /api/annotations/:id/jsonld
func (h *AnnotationHandler) GetAnnotationJSONLD(c *gin.Context) {
	ann, ok := AnnotationFromContext(c)
	if !ok {
		HandleRequestError(c, ServerError("Annotation missing from request context"))
		return
	}

	c.Header("Content-Type", `application/ld+json; charset=UTF-8; profile="`+JSONLDContextURL+`"`)
	c.JSON(http.StatusOK, NewAnnotationJSONLDPresenter(ann).AsMap())
}

// UpdateAnnotation handles PATCH/PUT /api/annotations/:id
func (h *AnnotationHandler) UpdateAnnotation(c *gin.Context) {
	logger := slogging.GetContextLogger(c)

	ann, ok := AnnotationFromContext(c)
	if !ok {
		HandleRequestError(c, ServerError("Annotation missing from request context"))
		return
	}

	raw, err := c.GetRawData()
	if err != nil {
		HandleRequestError(c, InvalidInputError("Failed to read request body"))
		return
	}

	// The existing annotation scopes the schema: target and group are fixed,
	// omitted fields carry over
	schema := &UpdateAnnotationSchema{Existing: ann}
	fields, err := schema.Validate(raw)
	if err != nil {
		HandleRequestError(c, err)
		return
	}

	updated, err := h.writer.Update(c.Request.Context(), ann, fields)
	if err != nil {
		logger.Error("Failed to update annotation %s: %v", ann.ID, err)
		HandleRequestError(c, ServerError("Failed to update annotation"))
		return
	}

	c.JSON(http.StatusOK, h.presenter.PresentForUser(updated, UserFromContext(c)))
}

// DeleteAnnotation handles DELETE /api/annotations/:id
func (h *AnnotationHandler) DeleteAnnotation(c *gin.Context) {
	logger := slogging.GetContextLogger(c)

	ann, ok := AnnotationFromContext(c)
	if !ok {
		HandleRequestError(c, ServerError("Annotation missing from request context"))
		return
	}

	if err := h.deleter.Delete(c.Request.Context(), ann); err != nil {
		logger.Error("Failed to delete annotation %s: %v", ann.ID, err)
		HandleRequestError(c, ServerError("Failed to delete annotation"))
		return
	}

	c.JSON(http.StatusOK, DeleteAnnotationResponse{
		ID:      ann.ID.String(),
		Deleted: true,
	})
}

// ReindexAnnotation handles POST /api/annotations/:id/reindex. Outside dev
// mode it answers 404 before touching anything, indistinguishable from a
// missing route, so the endpoint's existence is not signalled in production.
func (h *AnnotationHandler) ReindexAnnotation(c *gin.Context) {
	logger := slogging.GetContextLogger(c)

	if !h.devMode {
		HandleRequestError(c, NotFoundError("Annotation not found"))
		return
	}

	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		HandleRequestError(c, InvalidIDError("Invalid annotation ID format, must be a valid UUID"))
		return
	}

	ann, err := h.store.Get(c.Request.Context(), id)
	if err != nil {
		logger.Error("Failed to load annotation %s for reindex: %v", id, err)
		HandleRequestError(c, ServerError("Failed to load annotation"))
		return
	}
	if ann == nil {
		HandleRequestError(c, NotFoundError("Annotation not found"))
		return
	}

	// Refresh-immediate: the index change is visible before we respond
	if err := h.index.AddAnnotation(c.Request.Context(), ann, true); err != nil {
		logger.Error("Failed to reindex annotation %s: %v", id, err)
		HandleRequestError(c, ServerError("Failed to reindex annotation"))
		return
	}

	c.JSON(http.StatusOK, ReindexAnnotationResponse{
		ID:      ann.ID.String(),
		Indexed: true,
	})
}

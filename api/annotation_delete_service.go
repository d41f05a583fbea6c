package api

import (
	"context"

	"github.com/margindev/margin/internal/slogging"
)

// AnnotationDeleteService removes annotations from both persistence and the
// search index. Deletions do not raise an AnnotationEvent in this flow.
type AnnotationDeleteService struct {
	store AnnotationStore
	index SearchIndex
}

// NewAnnotationDeleteService creates a delete coordinator
func NewAnnotationDeleteService(store AnnotationStore, index SearchIndex) *AnnotationDeleteService {
	return &AnnotationDeleteService{
		store: store,
		index: index,
	}
}

// Delete removes the annotation from storage and from the search index
func (s *AnnotationDeleteService) Delete(ctx context.Context, ann *Annotation) error {
	logger := slogging.Get()

	if err := s.store.Delete(ctx, ann.ID); err != nil {
		return err
	}

	// The row is gone; a stale index entry is recoverable via reindexing
	if err := s.index.DeleteAnnotation(ctx, ann.ID); err != nil {
		logger.Error("Failed to remove annotation %s from search index: %v", ann.ID, err)
	}

	logger.Debug("Deleted annotation %s", ann.ID)
	return nil
}

package api

import (
	"context"

	"github.com/margindev/margin/internal/slogging"
)

// AnnotationWriteService coordinates annotation mutations. Each mutation runs
// in one transaction; the matching AnnotationEvent is registered on the unit
// of work after the write succeeds, so it is delivered only if the
// transaction commits and never on a failure path.
type AnnotationWriteService struct {
	store AnnotationStore
	index SearchIndex
	tx    *TxManager
}

// NewAnnotationWriteService creates a write coordinator
func NewAnnotationWriteService(store AnnotationStore, index SearchIndex, tx *TxManager) *AnnotationWriteService {
	return &AnnotationWriteService{
		store: store,
		index: index,
		tx:    tx,
	}
}

// Create persists a new annotation from validated fields and schedules a
// create event for delivery after commit
func (s *AnnotationWriteService) Create(ctx context.Context, fields *AnnotationFields, userID string) (*Annotation, error) {
	logger := slogging.Get()

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}

	ann, err := s.store.CreateTx(ctx, uow.Tx(), fields, userID)
	if err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			logger.Error("Rollback failed after create error: %v", rbErr)
		}
		return nil, err
	}

	uow.NotifyAfterCommit(NewAnnotationEvent(ann.ID.String(), ActionCreate))

	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}

	s.indexAfterWrite(ctx, ann)

	logger.Debug("Created annotation %s for user %s", ann.ID, userID)
	return ann, nil
}

// Update applies validated fields to an existing annotation and schedules an
// update event for delivery after commit. The caller has already fetched the
// annotation and passed authorization.
func (s *AnnotationWriteService) Update(ctx context.Context, existing *Annotation, fields *AnnotationFields) (*Annotation, error) {
	logger := slogging.Get()

	uow, err := s.tx.Begin(ctx)
	if err != nil {
		return nil, err
	}

	ann, err := s.store.UpdateTx(ctx, uow.Tx(), existing, fields)
	if err != nil {
		if rbErr := uow.Rollback(); rbErr != nil {
			logger.Error("Rollback failed after update error: %v", rbErr)
		}
		return nil, err
	}

	uow.NotifyAfterCommit(NewAnnotationEvent(ann.ID.String(), ActionUpdate))

	if err := uow.Commit(ctx); err != nil {
		return nil, err
	}

	s.indexAfterWrite(ctx, ann)

	logger.Debug("Updated annotation %s", ann.ID)
	return ann, nil
}

// indexAfterWrite queues the committed annotation for indexing. The write has
// already landed, so an indexing failure is logged rather than surfaced.
func (s *AnnotationWriteService) indexAfterWrite(ctx context.Context, ann *Annotation) {
	if err := s.index.AddAnnotation(ctx, ann, false); err != nil {
		slogging.Get().Error("Failed to index annotation %s after write: %v", ann.ID, err)
	}
}

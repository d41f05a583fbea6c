package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/margindev/margin/internal/slogging"
)

// Annotation is a user-created note anchored to content at a target URI,
// scoped to a group. References holds the ancestor chain when the annotation
// is a reply to another annotation.
type Annotation struct {
	ID         uuid.UUID `json:"id"`
	UserID     string    `json:"user"`
	GroupID    string    `json:"group"`
	TargetURI  string    `json:"uri"`
	Text       string    `json:"text"`
	Tags       []string  `json:"tags"`
	References []string  `json:"references"`
	Shared     bool      `json:"shared"`
	CreatedAt  time.Time `json:"created"`
	UpdatedAt  time.Time `json:"updated"`
}

// IsReply reports whether the annotation targets another annotation
func (a *Annotation) IsReply() bool {
	return len(a.References) > 0
}

// AnnotationStore defines the persistence interface for annotations
type AnnotationStore interface {
	// Get returns the annotation or (nil, nil) when it does not exist
	Get(ctx context.Context, id uuid.UUID) (*Annotation, error)
	// GetMany returns the annotations for the given ids. Missing ids are
	// silently dropped; callers preserve their own ordering.
	GetMany(ctx context.Context, ids []uuid.UUID) ([]*Annotation, error)
	// CreateTx inserts a new annotation inside the caller's transaction
	CreateTx(ctx context.Context, tx *sql.Tx, fields *AnnotationFields, userID string) (*Annotation, error)
	// UpdateTx applies validated fields to an existing annotation inside the
	// caller's transaction
	UpdateTx(ctx context.Context, tx *sql.Tx, existing *Annotation, fields *AnnotationFields) (*Annotation, error)
	// Delete removes an annotation
	Delete(ctx context.Context, id uuid.UUID) error
}

// DatabaseAnnotationStore implements AnnotationStore with PostgreSQL persistence
type DatabaseAnnotationStore struct {
	db *sql.DB
}

// NewDatabaseAnnotationStore creates a new database-backed annotation store
func NewDatabaseAnnotationStore(db *sql.DB) *DatabaseAnnotationStore {
	return &DatabaseAnnotationStore{db: db}
}

const annotationColumns = `id, user_id, group_id, target_uri, text, tags, "references", shared, created_at, updated_at`

// Get retrieves an annotation by ID
func (s *DatabaseAnnotationStore) Get(ctx context.Context, id uuid.UUID) (*Annotation, error) {
	logger := slogging.Get()
	logger.Debug("Getting annotation: %s", id)

	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE id = $1`

	ann, err := scanAnnotation(s.db.QueryRowContext(ctx, query, id))
	if err != nil {
		if err == sql.ErrNoRows {
			return nil, nil
		}
		logger.Error("Failed to get annotation from database: %v", err)
		return nil, fmt.Errorf("failed to get annotation: %w", err)
	}

	return ann, nil
}

// GetMany retrieves annotations for a set of ids in one query
func (s *DatabaseAnnotationStore) GetMany(ctx context.Context, ids []uuid.UUID) ([]*Annotation, error) {
	logger := slogging.Get()

	if len(ids) == 0 {
		return []*Annotation{}, nil
	}

	placeholders := make([]string, len(ids))
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `SELECT ` + annotationColumns + ` FROM annotations WHERE id IN (` +
		strings.Join(placeholders, ", ") + `)`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("Failed to query annotations from database: %v", err)
		return nil, fmt.Errorf("failed to get annotations: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logger.Error("Failed to close rows: %v", closeErr)
		}
	}()

	annotations := make([]*Annotation, 0, len(ids))
	for rows.Next() {
		ann, err := scanAnnotation(rows)
		if err != nil {
			logger.Error("Failed to scan annotation row: %v", err)
			return nil, fmt.Errorf("failed to scan annotation: %w", err)
		}
		annotations = append(annotations, ann)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating annotations: %w", err)
	}

	return annotations, nil
}

// CreateTx inserts a new annotation within the given transaction
func (s *DatabaseAnnotationStore) CreateTx(ctx context.Context, tx *sql.Tx, fields *AnnotationFields, userID string) (*Annotation, error) {
	logger := slogging.Get()

	now := time.Now().UTC()
	ann := &Annotation{
		ID:         uuid.New(),
		UserID:     userID,
		GroupID:    fields.GroupID,
		TargetURI:  fields.TargetURI,
		Text:       fields.Text,
		Tags:       fields.Tags,
		References: fields.References,
		Shared:     fields.Shared,
		CreatedAt:  now,
		UpdatedAt:  now,
	}

	tagsJSON, refsJSON, err := marshalAnnotationLists(ann)
	if err != nil {
		return nil, err
	}

	query := `
		INSERT INTO annotations (
			id, user_id, group_id, target_uri, text, tags, "references", shared, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
	`

	_, err = tx.ExecContext(ctx, query,
		ann.ID,
		ann.UserID,
		ann.GroupID,
		ann.TargetURI,
		ann.Text,
		tagsJSON,
		refsJSON,
		ann.Shared,
		ann.CreatedAt,
		ann.UpdatedAt,
	)

	if err != nil {
		logger.Error("Failed to create annotation in database: %v", err)
		return nil, fmt.Errorf("failed to create annotation: %w", err)
	}

	logger.Debug("Successfully created annotation: %s", ann.ID)
	return ann, nil
}

// UpdateTx applies validated fields to an existing annotation within the given transaction
func (s *DatabaseAnnotationStore) UpdateTx(ctx context.Context, tx *sql.Tx, existing *Annotation, fields *AnnotationFields) (*Annotation, error) {
	logger := slogging.Get()

	updated := *existing
	updated.Text = fields.Text
	updated.Tags = fields.Tags
	updated.Shared = fields.Shared
	updated.UpdatedAt = time.Now().UTC()

	tagsJSON, _, err := marshalAnnotationLists(&updated)
	if err != nil {
		return nil, err
	}

	query := `
		UPDATE annotations SET
			text = $2, tags = $3, shared = $4, updated_at = $5
		WHERE id = $1
	`

	result, err := tx.ExecContext(ctx, query,
		updated.ID,
		updated.Text,
		tagsJSON,
		updated.Shared,
		updated.UpdatedAt,
	)

	if err != nil {
		logger.Error("Failed to update annotation in database: %v", err)
		return nil, fmt.Errorf("failed to update annotation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("failed to verify update: %w", err)
	}
	if rowsAffected == 0 {
		return nil, fmt.Errorf("annotation not found: %s", updated.ID)
	}

	logger.Debug("Successfully updated annotation: %s", updated.ID)
	return &updated, nil
}

// Delete removes an annotation by ID
func (s *DatabaseAnnotationStore) Delete(ctx context.Context, id uuid.UUID) error {
	logger := slogging.Get()
	logger.Debug("Deleting annotation: %s", id)

	result, err := s.db.ExecContext(ctx, `DELETE FROM annotations WHERE id = $1`, id)
	if err != nil {
		logger.Error("Failed to delete annotation from database: %v", err)
		return fmt.Errorf("failed to delete annotation: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to verify deletion: %w", err)
	}
	if rowsAffected == 0 {
		return fmt.Errorf("annotation not found: %s", id)
	}

	logger.Debug("Successfully deleted annotation: %s", id)
	return nil
}

// rowScanner abstracts *sql.Row and *sql.Rows for scanAnnotation
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanAnnotation(row rowScanner) (*Annotation, error) {
	var ann Annotation
	var tagsJSON, refsJSON []byte

	err := row.Scan(
		&ann.ID,
		&ann.UserID,
		&ann.GroupID,
		&ann.TargetURI,
		&ann.Text,
		&tagsJSON,
		&refsJSON,
		&ann.Shared,
		&ann.CreatedAt,
		&ann.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	if len(tagsJSON) > 0 {
		if err := json.Unmarshal(tagsJSON, &ann.Tags); err != nil {
			return nil, fmt.Errorf("failed to decode tags: %w", err)
		}
	}
	if len(refsJSON) > 0 {
		if err := json.Unmarshal(refsJSON, &ann.References); err != nil {
			return nil, fmt.Errorf("failed to decode references: %w", err)
		}
	}

	return &ann, nil
}

func marshalAnnotationLists(ann *Annotation) ([]byte, []byte, error) {
	tags := ann.Tags
	if tags == nil {
		tags = []string{}
	}
	refs := ann.References
	if refs == nil {
		refs = []string{}
	}

	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode tags: %w", err)
	}
	refsJSON, err := json.Marshal(refs)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode references: %w", err)
	}
	return tagsJSON, refsJSON, nil
}

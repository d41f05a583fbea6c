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

// SearchResult is what the search index returns for one query. ReplyIDs is
// only populated when reply separation was requested and is always disjoint
// from AnnotationIDs.
type SearchResult struct {
	Total         int
	AnnotationIDs []uuid.UUID
	ReplyIDs      []uuid.UUID
}

// SearchIndex defines the interface to the annotation search backend
type SearchIndex interface {
	// Run executes one search. With separateReplies the result partitions
	// matches into top-level annotations and their replies.
	Run(ctx context.Context, params *SearchParams, separateReplies bool) (*SearchResult, error)
	// AddAnnotation indexes a single annotation. With refresh the change is
	// visible to searches before the call returns; without it indexing may
	// complete asynchronously.
	AddAnnotation(ctx context.Context, ann *Annotation, refresh bool) error
	// DeleteAnnotation removes an annotation from the index
	DeleteAnnotation(ctx context.Context, id uuid.UUID) error
}

// PostgresSearchIndex implements SearchIndex on a tsvector-backed index table.
// Non-refresh writes go through a buffered queue drained by a background
// indexer; refresh writes upsert inline.
type PostgresSearchIndex struct {
	db    *sql.DB
	queue chan *Annotation
}

// NewPostgresSearchIndex creates a search index over the given database
func NewPostgresSearchIndex(db *sql.DB) *PostgresSearchIndex {
	return &PostgresSearchIndex{
		db:    db,
		queue: make(chan *Annotation, 256),
	}
}

// StartIndexer runs the background indexing loop until the context is
// cancelled. Call once from the server entrypoint.
func (s *PostgresSearchIndex) StartIndexer(ctx context.Context) {
	logger := slogging.Get()
	logger.Info("Starting background annotation indexer")

	for {
		select {
		case <-ctx.Done():
			logger.Info("Stopping background annotation indexer")
			return
		case ann := <-s.queue:
			// Fresh timeout per document; the request that queued it is gone
			indexCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := s.upsert(indexCtx, ann); err != nil {
				logger.Error("Background indexing failed for annotation %s: %v", ann.ID, err)
			}
			cancel()
		}
	}
}

// Run executes a search against the index table
func (s *PostgresSearchIndex) Run(ctx context.Context, params *SearchParams, separateReplies bool) (*SearchResult, error) {
	logger := slogging.Get()

	where, args := buildSearchFilters(params)
	if separateReplies {
		where = append(where, "NOT is_reply")
	}

	whereClause := ""
	if len(where) > 0 {
		whereClause = " WHERE " + strings.Join(where, " AND ")
	}

	countQuery := `SELECT COUNT(*) FROM annotation_index` + whereClause

	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		logger.Error("Failed to count search matches: %v", err)
		return nil, fmt.Errorf("failed to count search matches: %w", err)
	}

	orderClause := fmt.Sprintf(" ORDER BY %s %s", sortColumn(params.Sort), sortDirection(params.Order))
	limitArgs := append(args, params.Limit, params.Offset)
	idQuery := fmt.Sprintf(
		`SELECT annotation_id FROM annotation_index%s%s LIMIT $%d OFFSET $%d`,
		whereClause, orderClause, len(args)+1, len(args)+2,
	)

	ids, err := s.queryIDs(ctx, idQuery, limitArgs...)
	if err != nil {
		return nil, err
	}

	result := &SearchResult{
		Total:         total,
		AnnotationIDs: ids,
	}

	if separateReplies {
		replyIDs, err := s.queryReplies(ctx, ids, params.Viewer)
		if err != nil {
			return nil, err
		}
		result.ReplyIDs = replyIDs
		result.Total = total + len(replyIDs)
	}

	return result, nil
}

// queryReplies returns the ids of replies whose thread root is one of the
// given top-level annotations. Replies carry the same visibility rules as
// primaries, so the viewer filter applies here too.
func (s *PostgresSearchIndex) queryReplies(ctx context.Context, rootIDs []uuid.UUID, viewer string) ([]uuid.UUID, error) {
	if len(rootIDs) == 0 {
		return []uuid.UUID{}, nil
	}

	placeholders := make([]string, len(rootIDs))
	args := make([]interface{}, len(rootIDs))
	for i, id := range rootIDs {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = id
	}

	query := `SELECT annotation_id FROM annotation_index WHERE is_reply AND root_id IN (` +
		strings.Join(placeholders, ", ") + `)`
	if viewer != "" {
		args = append(args, viewer)
		query += fmt.Sprintf(` AND (shared OR user_id = $%d)`, len(args))
	} else {
		query += ` AND shared`
	}
	query += ` ORDER BY created_at ASC`

	return s.queryIDs(ctx, query, args...)
}

func (s *PostgresSearchIndex) queryIDs(ctx context.Context, query string, args ...interface{}) ([]uuid.UUID, error) {
	logger := slogging.Get()

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		logger.Error("Failed to query search index: %v", err)
		return nil, fmt.Errorf("failed to query search index: %w", err)
	}
	defer func() {
		if closeErr := rows.Close(); closeErr != nil {
			logger.Error("Failed to close rows: %v", closeErr)
		}
	}()

	ids := make([]uuid.UUID, 0)
	for rows.Next() {
		var id uuid.UUID
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan annotation id: %w", err)
		}
		ids = append(ids, id)
	}

	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating search matches: %w", err)
	}

	return ids, nil
}

// AddAnnotation indexes one annotation. refresh=true forces the synchronous
// path used by on-demand reindexing.
func (s *PostgresSearchIndex) AddAnnotation(ctx context.Context, ann *Annotation, refresh bool) error {
	if refresh {
		return s.upsert(ctx, ann)
	}

	select {
	case s.queue <- ann:
		return nil
	default:
		// Queue saturated; index inline rather than dropping the document
		slogging.Get().Warn("Indexing queue full, indexing annotation %s inline", ann.ID)
		return s.upsert(ctx, ann)
	}
}

// DeleteAnnotation removes an annotation from the index
func (s *PostgresSearchIndex) DeleteAnnotation(ctx context.Context, id uuid.UUID) error {
	logger := slogging.Get()

	if _, err := s.db.ExecContext(ctx, `DELETE FROM annotation_index WHERE annotation_id = $1`, id); err != nil {
		logger.Error("Failed to remove annotation %s from index: %v", id, err)
		return fmt.Errorf("failed to remove annotation from index: %w", err)
	}

	logger.Debug("Removed annotation %s from index", id)
	return nil
}

func (s *PostgresSearchIndex) upsert(ctx context.Context, ann *Annotation) error {
	logger := slogging.Get()

	tags := ann.Tags
	if tags == nil {
		tags = []string{}
	}
	tagsJSON, err := json.Marshal(tags)
	if err != nil {
		return fmt.Errorf("failed to encode tags: %w", err)
	}

	var rootID interface{}
	if ann.IsReply() {
		root, err := uuid.Parse(ann.References[0])
		if err != nil {
			return fmt.Errorf("invalid thread root reference: %w", err)
		}
		rootID = root
	}

	query := `
		INSERT INTO annotation_index (
			annotation_id, group_id, user_id, target_uri, tags, shared, is_reply,
			root_id, text_vector, created_at, updated_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, to_tsvector('english', $9), $10, $11
		)
		ON CONFLICT (annotation_id) DO UPDATE SET
			group_id = EXCLUDED.group_id,
			target_uri = EXCLUDED.target_uri,
			tags = EXCLUDED.tags,
			shared = EXCLUDED.shared,
			is_reply = EXCLUDED.is_reply,
			root_id = EXCLUDED.root_id,
			text_vector = EXCLUDED.text_vector,
			updated_at = EXCLUDED.updated_at
	`

	_, err = s.db.ExecContext(ctx, query,
		ann.ID,
		ann.GroupID,
		ann.UserID,
		ann.TargetURI,
		tagsJSON,
		ann.Shared,
		ann.IsReply(),
		rootID,
		ann.Text,
		ann.CreatedAt,
		ann.UpdatedAt,
	)

	if err != nil {
		logger.Error("Failed to index annotation %s: %v", ann.ID, err)
		return fmt.Errorf("failed to index annotation: %w", err)
	}

	logger.Debug("Indexed annotation %s", ann.ID)
	return nil
}

func buildSearchFilters(params *SearchParams) ([]string, []interface{}) {
	var where []string
	var args []interface{}

	add := func(clause string, value interface{}) {
		args = append(args, value)
		where = append(where, fmt.Sprintf(clause, len(args)))
	}

	if params.Query != "" {
		add("text_vector @@ websearch_to_tsquery('english', $%d)", params.Query)
	}
	if params.URI != "" {
		add("target_uri = $%d", params.URI)
	}
	if params.User != "" {
		add("user_id = $%d", params.User)
	}
	if params.Group != "" {
		add("group_id = $%d", params.Group)
	}
	if params.Tag != "" {
		add("tags @> jsonb_build_array($%d::text)", params.Tag)
	}

	// Read visibility: private annotations match only for their owner
	if params.Viewer != "" {
		add("(shared OR user_id = $%d)", params.Viewer)
	} else {
		where = append(where, "shared")
	}

	return where, args
}

func sortColumn(sort string) string {
	switch sort {
	case "created":
		return "created_at"
	case "id":
		return "annotation_id"
	default:
		return "updated_at"
	}
}

func sortDirection(order string) string {
	if order == "asc" {
		return "ASC"
	}
	return "DESC"
}

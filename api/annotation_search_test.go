package api

import (
	"context"
	"database/sql"
	"regexp"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Postgres Search Index
// =============================================================================

func setupSearchIndex(t *testing.T) (*PostgresSearchIndex, sqlmock.Sqlmock, *sql.DB) {
	t.Helper()

	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})

	return NewPostgresSearchIndex(db), mock, db
}

func idRows(ids ...uuid.UUID) *sqlmock.Rows {
	rows := sqlmock.NewRows([]string{"annotation_id"})
	for _, id := range ids {
		rows.AddRow(id.String())
	}
	return rows
}

func countRow(n int) *sqlmock.Rows {
	return sqlmock.NewRows([]string{"count"}).AddRow(n)
}

func TestSearchIndexRunReturnsMatchingIDs(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	first := uuid.New()
	second := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM annotation_index WHERE text_vector @@ websearch_to_tsquery('english', $1) AND shared`)).
		WithArgs("well-considered").
		WillReturnRows(countRow(2))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT annotation_id FROM annotation_index WHERE text_vector @@ websearch_to_tsquery('english', $1) AND shared ORDER BY updated_at DESC LIMIT $2 OFFSET $3`)).
		WithArgs("well-considered", 20, 0).
		WillReturnRows(idRows(first, second))

	params := &SearchParams{Query: "well-considered", Limit: 20, Sort: "updated", Order: "desc"}
	result, err := index.Run(context.Background(), params, false)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total)
	assert.Equal(t, []uuid.UUID{first, second}, result.AnnotationIDs)
	assert.Nil(t, result.ReplyIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexRunSeparateRepliesPartitionsAndRecountsTotal(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	primary := uuid.New()
	reply := uuid.New()

	// Top-level matching restricts to non-replies
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM annotation_index WHERE text_vector @@ websearch_to_tsquery('english', $1) AND shared AND NOT is_reply`)).
		WithArgs("foo").
		WillReturnRows(countRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`AND shared AND NOT is_reply ORDER BY updated_at DESC LIMIT $2 OFFSET $3`)).
		WithArgs("foo", 20, 0).
		WillReturnRows(idRows(primary))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE is_reply AND root_id IN ($1) AND shared ORDER BY created_at ASC`)).
		WithArgs(primary).
		WillReturnRows(idRows(reply))

	params := &SearchParams{Query: "foo", Limit: 20, Sort: "updated", Order: "desc"}
	result, err := index.Run(context.Background(), params, true)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Total, "total covers primaries plus their replies")
	assert.Equal(t, []uuid.UUID{primary}, result.AnnotationIDs)
	assert.Equal(t, []uuid.UUID{reply}, result.ReplyIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexRunSeparateRepliesWithNoPrimariesSkipsReplyQuery(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).
		WillReturnRows(countRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT annotation_id`)).
		WithArgs(20, 0).
		WillReturnRows(idRows())

	params := &SearchParams{Limit: 20, Sort: "updated", Order: "desc"}
	result, err := index.Run(context.Background(), params, true)
	require.NoError(t, err)

	assert.Equal(t, 0, result.Total)
	assert.Empty(t, result.AnnotationIDs)
	assert.NotNil(t, result.ReplyIDs)
	assert.Empty(t, result.ReplyIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexRunCombinesFilters(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta(`WHERE text_vector @@ websearch_to_tsquery('english', $1) AND target_uri = $2 AND user_id = $3 AND group_id = $4 AND tags @> jsonb_build_array($5::text) AND (shared OR user_id = $6)`)).
		WithArgs("q", "http://example.com", "acct:maria", "__world__", "physics", "acct:jun").
		WillReturnRows(countRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`ORDER BY created_at ASC LIMIT $7 OFFSET $8`)).
		WithArgs("q", "http://example.com", "acct:maria", "__world__", "physics", "acct:jun", 50, 10).
		WillReturnRows(idRows())

	params := &SearchParams{
		Query:  "q",
		URI:    "http://example.com",
		User:   "acct:maria",
		Group:  "__world__",
		Tag:    "physics",
		Limit:  50,
		Offset: 10,
		Sort:   "created",
		Order:  "asc",
		Viewer: "acct:jun",
	}
	_, err := index.Run(context.Background(), params, false)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexRunAnonymousViewerMatchesOnlyShared(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM annotation_index WHERE shared`)).
		WillReturnRows(countRow(0))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT annotation_id FROM annotation_index WHERE shared ORDER BY updated_at DESC LIMIT $1 OFFSET $2`)).
		WithArgs(20, 0).
		WillReturnRows(idRows())

	params := &SearchParams{Limit: 20, Sort: "updated", Order: "desc"}
	_, err := index.Run(context.Background(), params, false)
	require.NoError(t, err)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexRunViewerMatchesSharedAndOwnPrivate(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	own := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*) FROM annotation_index WHERE (shared OR user_id = $1)`)).
		WithArgs("acct:maria").
		WillReturnRows(countRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE (shared OR user_id = $1) ORDER BY updated_at DESC LIMIT $2 OFFSET $3`)).
		WithArgs("acct:maria", 20, 0).
		WillReturnRows(idRows(own))

	params := &SearchParams{Limit: 20, Sort: "updated", Order: "desc", Viewer: "acct:maria"}
	result, err := index.Run(context.Background(), params, false)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{own}, result.AnnotationIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexReplyQueryCarriesViewerFilter(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	primary := uuid.New()
	reply := uuid.New()

	mock.ExpectQuery(regexp.QuoteMeta(`SELECT COUNT(*)`)).
		WithArgs("acct:maria").
		WillReturnRows(countRow(1))
	mock.ExpectQuery(regexp.QuoteMeta(`SELECT annotation_id`)).
		WithArgs("acct:maria", 20, 0).
		WillReturnRows(idRows(primary))
	mock.ExpectQuery(regexp.QuoteMeta(`WHERE is_reply AND root_id IN ($1) AND (shared OR user_id = $2) ORDER BY created_at ASC`)).
		WithArgs(primary, "acct:maria").
		WillReturnRows(idRows(reply))

	params := &SearchParams{Limit: 20, Sort: "updated", Order: "desc", Viewer: "acct:maria"}
	result, err := index.Run(context.Background(), params, true)
	require.NoError(t, err)
	assert.Equal(t, []uuid.UUID{reply}, result.ReplyIDs)

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexAddAnnotationWithRefreshUpsertsInline(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	ann := testAnnotation("acct:maria", true)

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO annotation_index`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, index.AddAnnotation(context.Background(), ann, true))
	assert.Zero(t, len(index.queue), "refresh writes bypass the queue")

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexAddAnnotationWithoutRefreshQueues(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	ann := testAnnotation("acct:maria", true)

	require.NoError(t, index.AddAnnotation(context.Background(), ann, false))
	assert.Equal(t, 1, len(index.queue))

	// No SQL ran
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexAddAnnotationFallsBackInlineWhenQueueFull(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	filler := testAnnotation("acct:maria", true)
	for i := 0; i < cap(index.queue); i++ {
		require.NoError(t, index.AddAnnotation(context.Background(), filler, false))
	}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO annotation_index`)).
		WillReturnResult(sqlmock.NewResult(0, 1))

	overflow := testAnnotation("acct:jun", true)
	require.NoError(t, index.AddAnnotation(context.Background(), overflow, false))

	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexUpsertRecordsThreadRoot(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	root := uuid.New()
	reply := testAnnotation("acct:jun", true)
	reply.References = []string{root.String()}

	mock.ExpectExec(regexp.QuoteMeta(`INSERT INTO annotation_index`)).
		WithArgs(
			reply.ID, reply.GroupID, reply.UserID, reply.TargetURI,
			[]byte(`["example"]`), reply.Shared, true, root, reply.Text,
			reply.CreatedAt, reply.UpdatedAt,
		).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, index.AddAnnotation(context.Background(), reply, true))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSearchIndexUpsertRejectsMalformedThreadRoot(t *testing.T) {
	index, _, _ := setupSearchIndex(t)

	reply := testAnnotation("acct:jun", true)
	reply.References = []string{"not-a-uuid"}

	err := index.AddAnnotation(context.Background(), reply, true)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "thread root")
}

func TestSearchIndexDeleteAnnotation(t *testing.T) {
	index, mock, _ := setupSearchIndex(t)

	id := uuid.New()
	mock.ExpectExec(regexp.QuoteMeta(`DELETE FROM annotation_index WHERE annotation_id = $1`)).
		WithArgs(id).
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, index.DeleteAnnotation(context.Background(), id))
	require.NoError(t, mock.ExpectationsWereMet())
}

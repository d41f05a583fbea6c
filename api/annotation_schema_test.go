package api

import (
	"fmt"
	"net/url"
	"strings"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// =============================================================================
// Create Schema
// =============================================================================

func TestCreateSchemaAppliesDefaults(t *testing.T) {
	schema := &CreateAnnotationSchema{}

	fields, err := schema.Validate([]byte(`{"uri": "http://example.com/a"}`))
	require.NoError(t, err)

	assert.Equal(t, "http://example.com/a", fields.TargetURI)
	assert.Equal(t, WorldGroupID, fields.GroupID, "group defaults to the world group")
	assert.False(t, fields.Shared, "annotations default to private")
	assert.Empty(t, fields.Text)
	assert.Empty(t, fields.Tags)
}

func TestCreateSchemaAcceptsFullPayload(t *testing.T) {
	schema := &CreateAnnotationSchema{}
	root := uuid.NewString()

	payload := fmt.Sprintf(`{
		"uri": "http://example.com/a",
		"text": "a close reading",
		"tags": ["lit", "notes"],
		"group": "seminar-42",
		"references": [%q],
		"shared": true
	}`, root)

	fields, err := schema.Validate([]byte(payload))
	require.NoError(t, err)

	assert.Equal(t, "a close reading", fields.Text)
	assert.Equal(t, []string{"lit", "notes"}, fields.Tags)
	assert.Equal(t, "seminar-42", fields.GroupID)
	assert.Equal(t, []string{root}, fields.References)
	assert.True(t, fields.Shared)
}

func TestCreateSchemaRejectsBadPayloads(t *testing.T) {
	schema := &CreateAnnotationSchema{}

	longTag := strings.Repeat("x", MaxTagLength+1)
	longText := strings.Repeat("x", MaxTextLength+1)
	longURI := "http://example.com/" + strings.Repeat("x", MaxURILength)
	manyTags := `"` + strings.Repeat(`a","`, MaxTagCount) + `a"`

	tests := []struct {
		name    string
		payload string
	}{
		{"empty body", ``},
		{"invalid json", `{`},
		{"unknown field", `{"uri": "http://x", "color": "red"}`},
		{"missing uri", `{"text": "no target"}`},
		{"empty uri", `{"uri": ""}`},
		{"relative uri", `{"uri": "/just/a/path"}`},
		{"no host", `{"uri": "http://"}`},
		{"oversized uri", fmt.Sprintf(`{"uri": %q}`, longURI)},
		{"oversized text", fmt.Sprintf(`{"uri": "http://x", "text": %q}`, longText)},
		{"empty tag", `{"uri": "http://x", "tags": [""]}`},
		{"oversized tag", fmt.Sprintf(`{"uri": "http://x", "tags": [%q]}`, longTag)},
		{"too many tags", fmt.Sprintf(`{"uri": "http://x", "tags": [%s]}`, manyTags)},
		{"non-uuid reference", `{"uri": "http://x", "references": ["parent-1"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Validate([]byte(tt.payload))
			require.Error(t, err)

			var reqErr *RequestError
			require.ErrorAs(t, err, &reqErr)
			assert.Equal(t, 400, reqErr.Status)
		})
	}
}

// =============================================================================
// Update Schema
// =============================================================================

func TestUpdateSchemaAppliesTextAndTags(t *testing.T) {
	existing := testAnnotation("acct:maria", false)
	schema := &UpdateAnnotationSchema{Existing: existing}

	fields, err := schema.Validate([]byte(`{"text": "revised", "tags": ["new"], "shared": true}`))
	require.NoError(t, err)

	assert.Equal(t, "revised", fields.Text)
	assert.Equal(t, []string{"new"}, fields.Tags)
	assert.True(t, fields.Shared)
	assert.Equal(t, existing.TargetURI, fields.TargetURI, "target carries over unchanged")
	assert.Equal(t, existing.GroupID, fields.GroupID)
}

func TestUpdateSchemaPreservesOmittedFields(t *testing.T) {
	existing := testAnnotation("acct:maria", true)
	existing.Tags = []string{"keep", "these"}
	existing.References = []string{uuid.NewString()}
	schema := &UpdateAnnotationSchema{Existing: existing}

	fields, err := schema.Validate([]byte(`{"text": "revised"}`))
	require.NoError(t, err)

	assert.Equal(t, "revised", fields.Text)
	assert.Equal(t, []string{"keep", "these"}, fields.Tags, "omitted tags keep their value")
	assert.True(t, fields.Shared, "omitted shared keeps its value")
	assert.Equal(t, existing.References, fields.References)
}

func TestUpdateSchemaEmptyTagListClearsTags(t *testing.T) {
	existing := testAnnotation("acct:maria", false)
	existing.Tags = []string{"old"}
	schema := &UpdateAnnotationSchema{Existing: existing}

	fields, err := schema.Validate([]byte(`{"tags": []}`))
	require.NoError(t, err)

	assert.NotNil(t, fields.Tags)
	assert.Empty(t, fields.Tags, "an explicit empty list clears tags")
}

func TestUpdateSchemaAllowsRestatingCurrentTargetAndGroup(t *testing.T) {
	existing := testAnnotation("acct:maria", false)
	existing.GroupID = "seminar-42"
	schema := &UpdateAnnotationSchema{Existing: existing}

	_, err := schema.Validate([]byte(fmt.Sprintf(`{"uri": %q, "group": "seminar-42"}`, existing.TargetURI)))
	assert.NoError(t, err)
}

func TestUpdateSchemaRejectsImmutableFieldChanges(t *testing.T) {
	schema := &UpdateAnnotationSchema{Existing: testAnnotation("acct:maria", false)}

	tests := []struct {
		name    string
		payload string
	}{
		{"uri change", `{"uri": "http://example.com/other"}`},
		{"group change", `{"group": "another-group"}`},
		{"references change", fmt.Sprintf(`{"references": [%q]}`, uuid.NewString())},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := schema.Validate([]byte(tt.payload))
			assert.Error(t, err)
		})
	}
}

// =============================================================================
// Search Parameters
// =============================================================================

func TestSearchSchemaDefaults(t *testing.T) {
	schema := &SearchParamsSchema{}

	params, separateReplies, err := schema.Validate(url.Values{})
	require.NoError(t, err)

	assert.Equal(t, 20, params.Limit)
	assert.Equal(t, 0, params.Offset)
	assert.Equal(t, "updated", params.Sort)
	assert.Equal(t, "desc", params.Order)
	assert.False(t, separateReplies)
}

func TestSearchSchemaParsesAllParameters(t *testing.T) {
	schema := &SearchParamsSchema{}

	values := url.Values{
		"q":                 {"close reading"},
		"uri":               {"http://example.com/a"},
		"user":              {"acct:maria"},
		"group":             {"seminar-42"},
		"tag":               {"lit"},
		"limit":             {"50"},
		"offset":            {"100"},
		"sort":              {"created"},
		"order":             {"asc"},
		"_separate_replies": {"true"},
	}

	params, separateReplies, err := schema.Validate(values)
	require.NoError(t, err)

	assert.Equal(t, "close reading", params.Query)
	assert.Equal(t, "http://example.com/a", params.URI)
	assert.Equal(t, "acct:maria", params.User)
	assert.Equal(t, "seminar-42", params.Group)
	assert.Equal(t, "lit", params.Tag)
	assert.Equal(t, 50, params.Limit)
	assert.Equal(t, 100, params.Offset)
	assert.Equal(t, "created", params.Sort)
	assert.Equal(t, "asc", params.Order)
	assert.True(t, separateReplies)
}

func TestSearchSchemaRejectsInvalidParameters(t *testing.T) {
	schema := &SearchParamsSchema{}

	tests := []struct {
		name   string
		values url.Values
	}{
		{"unknown parameter", url.Values{"unexpected": {"1"}}},
		{"non-numeric limit", url.Values{"limit": {"many"}}},
		{"negative limit", url.Values{"limit": {"-1"}}},
		{"limit above maximum", url.Values{"limit": {fmt.Sprint(MaxSearchLimit + 1)}}},
		{"negative offset", url.Values{"offset": {"-5"}}},
		{"offset above maximum", url.Values{"offset": {fmt.Sprint(MaxSearchOffset + 1)}}},
		{"unsupported sort", url.Values{"sort": {"relevance"}}},
		{"unsupported order", url.Values{"order": {"sideways"}}},
		{"non-boolean separate replies", url.Values{"_separate_replies": {"maybe"}}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := schema.Validate(tt.values)
			assert.Error(t, err)
		})
	}
}

func TestSearchSchemaAcceptsBoundaryValues(t *testing.T) {
	schema := &SearchParamsSchema{}

	params, _, err := schema.Validate(url.Values{
		"limit":  {fmt.Sprint(MaxSearchLimit)},
		"offset": {fmt.Sprint(MaxSearchOffset)},
	})
	require.NoError(t, err)
	assert.Equal(t, MaxSearchLimit, params.Limit)
	assert.Equal(t, MaxSearchOffset, params.Offset)
}

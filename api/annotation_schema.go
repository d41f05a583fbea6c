package api

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"

	"github.com/google/uuid"
)

// WorldGroupID is the public group annotations land in when no group is given
const WorldGroupID = "__world__"

// Field limits enforced by the schemas
const (
	MaxTextLength = 100000
	MaxTagCount   = 100
	MaxTagLength  = 250
	MaxURILength  = 2048
)

// AnnotationFields is the normalized output of schema validation. Coordinators
// trust it blindly; all structural checks happen in the schemas.
type AnnotationFields struct {
	TargetURI  string
	Text       string
	Tags       []string
	GroupID    string
	References []string
	Shared     bool
}

// annotationPayload is the raw JSON shape accepted from clients
type annotationPayload struct {
	URI        *string  `json:"uri"`
	Text       *string  `json:"text"`
	Tags       []string `json:"tags"`
	Group      *string  `json:"group"`
	References []string `json:"references"`
	Shared     *bool    `json:"shared"`
}

func decodeAnnotationPayload(raw []byte) (*annotationPayload, error) {
	if len(raw) == 0 {
		return nil, InvalidInputError("Request body is empty")
	}
	if !json.Valid(raw) {
		return nil, InvalidInputError("Request body contains invalid JSON")
	}

	decoder := json.NewDecoder(strings.NewReader(string(raw)))
	decoder.DisallowUnknownFields()

	var payload annotationPayload
	if err := decoder.Decode(&payload); err != nil {
		return nil, InvalidInputError("Invalid annotation payload: " + err.Error())
	}
	return &payload, nil
}

func validateTargetURI(raw string) error {
	if raw == "" {
		return InvalidInputError("uri must not be empty")
	}
	if len(raw) > MaxURILength {
		return InvalidInputError(fmt.Sprintf("uri must not exceed %d characters", MaxURILength))
	}
	parsed, err := url.Parse(raw)
	if err != nil || !parsed.IsAbs() || parsed.Host == "" {
		return InvalidInputError("uri must be an absolute URL")
	}
	return nil
}

func validateTags(tags []string) error {
	if len(tags) > MaxTagCount {
		return InvalidInputError(fmt.Sprintf("no more than %d tags are allowed", MaxTagCount))
	}
	for _, tag := range tags {
		if tag == "" {
			return InvalidInputError("tags must not be empty")
		}
		if len(tag) > MaxTagLength {
			return InvalidInputError(fmt.Sprintf("tags must not exceed %d characters", MaxTagLength))
		}
	}
	return nil
}

func validateText(text string) error {
	if len(text) > MaxTextLength {
		return InvalidInputError(fmt.Sprintf("text must not exceed %d characters", MaxTextLength))
	}
	return nil
}

func validateReferences(refs []string) error {
	for _, ref := range refs {
		if _, err := uuid.Parse(ref); err != nil {
			return InvalidInputError("references must be annotation ids")
		}
	}
	return nil
}

// CreateAnnotationSchema validates the payload for creating an annotation
type CreateAnnotationSchema struct{}

// Validate turns a raw creation payload into normalized annotation fields
func (s *CreateAnnotationSchema) Validate(raw []byte) (*AnnotationFields, error) {
	payload, err := decodeAnnotationPayload(raw)
	if err != nil {
		return nil, err
	}

	fields := &AnnotationFields{
		GroupID: WorldGroupID,
		Shared:  false,
	}

	if payload.URI == nil {
		return nil, InvalidInputError("uri is required")
	}
	if err := validateTargetURI(*payload.URI); err != nil {
		return nil, err
	}
	fields.TargetURI = *payload.URI

	if payload.Text != nil {
		if err := validateText(*payload.Text); err != nil {
			return nil, err
		}
		fields.Text = *payload.Text
	}

	if err := validateTags(payload.Tags); err != nil {
		return nil, err
	}
	fields.Tags = payload.Tags

	if payload.Group != nil && *payload.Group != "" {
		fields.GroupID = *payload.Group
	}

	if err := validateReferences(payload.References); err != nil {
		return nil, err
	}
	fields.References = payload.References

	if payload.Shared != nil {
		fields.Shared = *payload.Shared
	}

	return fields, nil
}

// UpdateAnnotationSchema validates the payload for updating an annotation.
// The existing annotation scopes the update: target and group may not change,
// and fields absent from the payload keep their current values.
type UpdateAnnotationSchema struct {
	Existing *Annotation
}

// Validate overlays a raw partial update payload onto the existing
// annotation's fields
func (s *UpdateAnnotationSchema) Validate(raw []byte) (*AnnotationFields, error) {
	payload, err := decodeAnnotationPayload(raw)
	if err != nil {
		return nil, err
	}

	if payload.URI != nil && *payload.URI != s.Existing.TargetURI {
		return nil, InvalidInputError("uri of an existing annotation cannot be changed")
	}
	if payload.Group != nil && *payload.Group != s.Existing.GroupID {
		return nil, InvalidInputError("group of an existing annotation cannot be changed")
	}
	if payload.References != nil {
		return nil, InvalidInputError("references of an existing annotation cannot be changed")
	}

	fields := &AnnotationFields{
		TargetURI:  s.Existing.TargetURI,
		GroupID:    s.Existing.GroupID,
		Text:       s.Existing.Text,
		Tags:       s.Existing.Tags,
		References: s.Existing.References,
		Shared:     s.Existing.Shared,
	}

	if payload.Text != nil {
		if err := validateText(*payload.Text); err != nil {
			return nil, err
		}
		fields.Text = *payload.Text
	}

	if payload.Tags != nil {
		if err := validateTags(payload.Tags); err != nil {
			return nil, err
		}
		fields.Tags = payload.Tags
	}

	if payload.Shared != nil {
		fields.Shared = *payload.Shared
	}

	return fields, nil
}

// SearchParams are the validated query parameters forwarded to the search
// index. SeparateReplies is popped off before forwarding. Viewer is not a
// query parameter: the handler fills it from the authenticated caller, and
// the index restricts results to annotations that caller may read.
type SearchParams struct {
	Query  string
	URI    string
	User   string
	Group  string
	Tag    string
	Limit  int
	Offset int
	Sort   string
	Order  string
	Viewer string
}

// Search parameter bounds
const (
	MaxSearchLimit  = 200
	MaxSearchOffset = 9800
)

// separateRepliesParam requests reply-thread separation in search results
const separateRepliesParam = "_separate_replies"

var acceptedSearchParams = map[string]bool{
	"q":                  true,
	"uri":                true,
	"user":               true,
	"group":              true,
	"tag":                true,
	"limit":              true,
	"offset":             true,
	"sort":               true,
	"order":              true,
	separateRepliesParam: true,
}

var acceptedSortFields = map[string]bool{
	"created": true,
	"updated": true,
	"id":      true,
}

// SearchParamsSchema validates search query parameters against the fixed
// accepted-parameter set
type SearchParamsSchema struct{}

// Validate checks the raw query values and returns the normalized parameters
// together with the extracted separate-replies flag.
func (s *SearchParamsSchema) Validate(values url.Values) (*SearchParams, bool, error) {
	for key := range values {
		if !acceptedSearchParams[key] {
			return nil, false, InvalidInputError("unknown search parameter: " + key)
		}
	}

	params := &SearchParams{
		Limit: 20,
		Sort:  "updated",
		Order: "desc",
	}

	params.Query = values.Get("q")
	params.URI = values.Get("uri")
	params.User = values.Get("user")
	params.Group = values.Get("group")
	params.Tag = values.Get("tag")

	if raw := values.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit < 0 || limit > MaxSearchLimit {
			return nil, false, InvalidInputError(fmt.Sprintf("limit must be between 0 and %d", MaxSearchLimit))
		}
		params.Limit = limit
	}

	if raw := values.Get("offset"); raw != "" {
		offset, err := strconv.Atoi(raw)
		if err != nil || offset < 0 || offset > MaxSearchOffset {
			return nil, false, InvalidInputError(fmt.Sprintf("offset must be between 0 and %d", MaxSearchOffset))
		}
		params.Offset = offset
	}

	if raw := values.Get("sort"); raw != "" {
		if !acceptedSortFields[raw] {
			return nil, false, InvalidInputError("sort must be one of: created, updated, id")
		}
		params.Sort = raw
	}

	if raw := values.Get("order"); raw != "" {
		if raw != "asc" && raw != "desc" {
			return nil, false, InvalidInputError("order must be asc or desc")
		}
		params.Order = raw
	}

	separateReplies := false
	if raw := values.Get(separateRepliesParam); raw != "" {
		parsed, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, false, InvalidInputError("_separate_replies must be a boolean")
		}
		separateReplies = parsed
	}

	return params, separateReplies, nil
}

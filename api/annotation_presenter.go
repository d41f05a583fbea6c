package api

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// JSONLDContextURL is the fixed JSON-LD context for the linked-data view
const JSONLDContextURL = "http://www.w3.org/ns/anno.jsonld"

// PresentedAnnotation is the externally-shaped representation of an
// annotation after formatting for a specific viewing user
type PresentedAnnotation struct {
	ID          string              `json:"id"`
	Created     string              `json:"created"`
	Updated     string              `json:"updated"`
	User        string              `json:"user"`
	URI         string              `json:"uri"`
	Text        string              `json:"text"`
	Tags        []string            `json:"tags"`
	Group       string              `json:"group"`
	Shared      bool                `json:"shared"`
	References  []string            `json:"references,omitempty"`
	Permissions map[string][]string `json:"permissions"`
}

// AnnotationJSONService formats annotations for API responses
type AnnotationJSONService struct {
	store AnnotationStore
}

// NewAnnotationJSONService creates a presentation service over the given store
func NewAnnotationJSONService(store AnnotationStore) *AnnotationJSONService {
	return &AnnotationJSONService{store: store}
}

// PresentForUser returns the presented form of one annotation for a viewing
// user. Presentation is deterministic: the same annotation presents
// identically until it is mutated.
func (s *AnnotationJSONService) PresentForUser(ann *Annotation, userID string) *PresentedAnnotation {
	tags := ann.Tags
	if tags == nil {
		tags = []string{}
	}

	readPrincipals := []string{ann.UserID}
	if ann.Shared {
		readPrincipals = []string{"group:" + ann.GroupID}
	}

	return &PresentedAnnotation{
		ID:         ann.ID.String(),
		Created:    ann.CreatedAt.UTC().Format(time.RFC3339Nano),
		Updated:    ann.UpdatedAt.UTC().Format(time.RFC3339Nano),
		User:       ann.UserID,
		URI:        ann.TargetURI,
		Text:       ann.Text,
		Tags:       tags,
		Group:      ann.GroupID,
		Shared:     ann.Shared,
		References: ann.References,
		Permissions: map[string][]string{
			"read":   readPrincipals,
			"update": {ann.UserID},
			"delete": {ann.UserID},
		},
	}
}

// PresentAllForUser bulk-fetches and presents the annotations for the given
// ids, preserving the input ordering. One store round trip regardless of
// result size; ids that no longer resolve are dropped.
func (s *AnnotationJSONService) PresentAllForUser(ctx context.Context, ids []uuid.UUID, userID string) ([]*PresentedAnnotation, error) {
	annotations, err := s.store.GetMany(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load annotations for presentation: %w", err)
	}

	byID := make(map[uuid.UUID]*Annotation, len(annotations))
	for _, ann := range annotations {
		byID[ann.ID] = ann
	}

	presented := make([]*PresentedAnnotation, 0, len(ids))
	for _, id := range ids {
		if ann, ok := byID[id]; ok {
			presented = append(presented, s.PresentForUser(ann, userID))
		}
	}

	return presented, nil
}

// AnnotationJSONLDPresenter renders an annotation as a W3C Web Annotation
// linked-data document
type AnnotationJSONLDPresenter struct {
	annotation *Annotation
}

// NewAnnotationJSONLDPresenter creates a linked-data presenter for one annotation
func NewAnnotationJSONLDPresenter(ann *Annotation) *AnnotationJSONLDPresenter {
	return &AnnotationJSONLDPresenter{annotation: ann}
}

// AsMap returns the JSON-LD document
func (p *AnnotationJSONLDPresenter) AsMap() map[string]interface{} {
	ann := p.annotation

	return map[string]interface{}{
		"@context": JSONLDContextURL,
		"type":     "Annotation",
		"id":       ann.ID.String(),
		"created":  ann.CreatedAt.UTC().Format(time.RFC3339Nano),
		"modified": ann.UpdatedAt.UTC().Format(time.RFC3339Nano),
		"creator":  ann.UserID,
		"body": map[string]interface{}{
			"type":   "TextualBody",
			"format": "text/markdown",
			"value":  ann.Text,
		},
		"target": map[string]interface{}{
			"source": ann.TargetURI,
		},
	}
}

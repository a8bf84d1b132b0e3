package domain

import (
	"sort"
	"strings"
)

// Category names a model's task family as published by the catalog.
// The set is open-ended; these constants cover the families the ranker
// understands natively.
type Category string

const (
	CategoryTextToImage  Category = "text-to-image"
	CategoryImageToImage Category = "image-to-image"
	CategoryTextToVideo  Category = "text-to-video"
	CategoryImageToVideo Category = "image-to-video"
	CategoryTextToSpeech Category = "text-to-speech"
	CategoryImageTo3D    Category = "image-to-3d"
	CategoryUpscaling    Category = "upscaling"
)

// DefaultQualityScore is assumed for models absent from the curated table.
const DefaultQualityScore = 50

// ModelRecord is one catalog entry. Records are fetched fresh per query,
// immutable once returned, and never persisted beyond process memory.
type ModelRecord struct {
	ID               string   `json:"id"`
	Title            string   `json:"title"`
	Category         Category `json:"category"`
	Tags             []string `json:"tags,omitempty"`
	ShortDescription string   `json:"shortDescription,omitempty"`
	Thumbnail        string   `json:"thumbnailUrl,omitempty"`
	// QualityScore is the curated quality for this model, stamped by the
	// ranker from the curated table; DefaultQualityScore when uncurated.
	QualityScore int `json:"qualityScore,omitempty"`
	// RequiresImage marks models that cannot run without a prior image
	// input (image-to-image, image-to-video and kin).
	RequiresImage bool `json:"requiresImage,omitempty"`
	Deprecated    bool `json:"deprecated,omitempty"`
}

// SearchText returns the haystack the heuristic keyword match runs over.
func (m ModelRecord) SearchText() string {
	parts := []string{m.Title, m.ShortDescription, string(m.Category)}
	if len(m.Tags) > 0 {
		parts = append(parts, strings.Join(m.Tags, " "))
	}
	return strings.ToLower(strings.Join(parts, " "))
}

// RankedModel is a ModelRecord annotated with the heuristic score and the
// signals that produced it. The ranker's final ordering is best-first.
type RankedModel struct {
	ModelRecord
	Score   float64  `json:"score"`
	Reasons []string `json:"reasons,omitempty"`
}

// SpecInfo carries the human-facing metadata block of an OpenAPI document.
type SpecInfo struct {
	Title       string `json:"title,omitempty"`
	Description string `json:"description,omitempty"`
	Version     string `json:"version,omitempty"`
}

// SpecServer is one server entry of an OpenAPI document.
type SpecServer struct {
	URL string `json:"url"`
}

// SpecComponents holds the named component schemas, potentially self- or
// mutually-referential via $ref.
type SpecComponents struct {
	Schemas map[string]any `json:"schemas,omitempty"`
}

// SpecDocument is the raw OpenAPI specification for one model endpoint.
// It is owned transiently by tool synthesis and discarded afterwards.
type SpecDocument struct {
	OpenAPI    string                    `json:"openapi,omitempty"`
	Info       SpecInfo                  `json:"info,omitempty"`
	Servers    []SpecServer              `json:"servers,omitempty"`
	Paths      map[string]map[string]any `json:"paths,omitempty"`
	Components SpecComponents            `json:"components,omitempty"`
}

// ServerURL returns the document's first server URL, or "" when absent.
func (d *SpecDocument) ServerURL() string {
	if d == nil || len(d.Servers) == 0 {
		return ""
	}
	return d.Servers[0].URL
}

// PostPath returns the first path (in sorted order, for determinism)
// exposing a POST operation, or "" when the document declares none.
func (d *SpecDocument) PostPath() string {
	if d == nil || len(d.Paths) == 0 {
		return ""
	}
	paths := make([]string, 0, len(d.Paths))
	for path := range d.Paths {
		paths = append(paths, path)
	}
	sort.Strings(paths)
	for _, path := range paths {
		for method := range d.Paths[path] {
			if strings.EqualFold(method, "post") {
				return path
			}
		}
	}
	return ""
}

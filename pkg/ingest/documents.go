package ingest

import (
	"fmt"
	"strconv"

	"github.com/detbench/reviewoor/pkg/match"
)

// ValidationError reports a malformed upload document. The named field
// was missing or had the wrong shape; the upload is rejected before any
// row is written.
type ValidationError struct {
	Field string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("missing required field: %s", e.Field)
}

// RunResultDocument describes one detector run as uploaded.
type RunResultDocument struct {
	Project          string  `json:"project"`
	Version          string  `json:"version"`
	Detector         string  `json:"detector"`
	Result           string  `json:"result"`
	Runtime          float64 `json:"runtime"`
	NumberOfFindings int     `json:"number_of_findings"`
	PotentialHits    []Hit   `json:"potential_hits"`
}

// Hit is one raw reported finding: an arbitrary key/value map plus a
// few well-known entries (misuse, rank, target_snippets).
type Hit map[string]any

// hit keys consumed by the engine rather than stored as columns.
var reservedHitKeys = map[string]bool{
	"misuse":          true,
	"rank":            true,
	"target_snippets": true,
}

// Columns returns the detector-specific key/value pairs of the hit,
// stringified, with the engine-consumed keys stripped. Unknown keys
// pass through verbatim.
func (h Hit) Columns() map[string]string {
	cols := make(map[string]string, len(h))

	for key, value := range h {
		if reservedHitKeys[key] {
			continue
		}

		if value == nil {
			continue
		}

		cols[key] = stringify(value)
	}

	return cols
}

// TargetSnippets returns the code snippets shipped with the hit, in
// document order.
func (h Hit) TargetSnippets() []SnippetDocument {
	raw, ok := h["target_snippets"].([]any)
	if !ok {
		return nil
	}

	snippets := make([]SnippetDocument, 0, len(raw))

	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}

		var s SnippetDocument

		if line, ok := m["first_line_number"]; ok {
			s.FirstLineNumber = toInt(line)
		}

		if code, ok := m["code"].(string); ok {
			s.Code = code
		}

		snippets = append(snippets, s)
	}

	return snippets
}

// MisuseKey returns the catalog misuse key named by the hit itself,
// or "" when the hit names none.
func (h Hit) MisuseKey() string {
	switch v := h["misuse"].(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	default:
		return ""
	}
}

// Matches derives the hit-to-misuse mapping embedded in the document:
// one entry per hit, naming the misuse key the hit attaches to.
func (d *RunResultDocument) Matches() []match.HitMatch {
	matches := make([]match.HitMatch, len(d.PotentialHits))

	for i, hit := range d.PotentialHits {
		matches[i] = match.HitMatch{Misuse: hit.MisuseKey()}
	}

	return matches
}

// SnippetDocument is one code excerpt as uploaded.
type SnippetDocument struct {
	FirstLineNumber int    `json:"first_line_number"`
	Code            string `json:"code"`
}

// PatternDocument is one correctness pattern as uploaded.
type PatternDocument struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Line int    `json:"line"`
}

// MetadataDocument describes one catalog misuse as uploaded.
type MetadataDocument struct {
	Project        string            `json:"project"`
	Version        string            `json:"version"`
	Misuse         string            `json:"misuse"`
	Description    string            `json:"description"`
	FixDescription string            `json:"fix_description"`
	ViolationTypes []string          `json:"violation_types"`
	File           string            `json:"file"`
	Method         string            `json:"method"`
	DiffURL        string            `json:"diff_url"`
	Snippets       []SnippetDocument `json:"snippets"`
	Patterns       []PatternDocument `json:"patterns"`
}

// stringify renders a decoded JSON value as a column string.
func stringify(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(v)
	default:
		return fmt.Sprintf("%v", v)
	}
}

func toInt(value any) int {
	switch v := value.(type) {
	case float64:
		return int(v)
	case int:
		return v
	case string:
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}

	return 0
}

package query

import (
	"encoding/json"
	"strconv"
)

// RunView is the denormalized form of one run, with every misuse
// reachable from its findings fully hydrated.
type RunView struct {
	Experiment       string       `json:"exp"`
	Project          string       `json:"project"`
	Version          string       `json:"version"`
	Result           string       `json:"result"`
	Runtime          float64      `json:"runtime"`
	NumberOfFindings int          `json:"number_of_findings"`
	Detector         string       `json:"detector"`
	Misuses          []MisuseView `json:"misuses"`
}

// MisuseView hydrates a catalog misuse: descriptive metadata, ordered
// snippets and patterns, and the raw findings that matched it.
type MisuseView struct {
	Project        string        `json:"project"`
	Version        string        `json:"version"`
	Misuse         string        `json:"misuse"`
	Description    string        `json:"description,omitempty"`
	FixDescription string        `json:"fix_description,omitempty"`
	ViolationTypes []string      `json:"violation_types,omitempty"`
	File           string        `json:"file,omitempty"`
	Method         string        `json:"method,omitempty"`
	DiffURL        string        `json:"diff_url,omitempty"`
	Snippets       []SnippetView `json:"snippets"`
	Patterns       []PatternView `json:"patterns"`
	Findings       []FindingView `json:"potential_hits"`
}

// SnippetView is one ordered code excerpt of a misuse.
type SnippetView struct {
	Line    int    `json:"line"`
	Snippet string `json:"snippet"`
}

// PatternView is one ordered correctness pattern of a misuse.
type PatternView struct {
	Name string `json:"name"`
	Code string `json:"code"`
	Line int    `json:"line"`
}

// FindingView is one raw finding row attached to a misuse. The fixed
// fields identify the finding; Columns carries the detector-specific
// key/value pairs verbatim.
type FindingView struct {
	Experiment string            `json:"-"`
	Project    string            `json:"-"`
	Version    string            `json:"-"`
	Misuse     string            `json:"-"`
	Rank       int               `json:"-"`
	Columns    map[string]string `json:"-"`
}

// MarshalJSON flattens the detector-specific columns next to the fixed
// fields, the way detectors originally reported them. Fixed fields win
// on key collision.
func (f FindingView) MarshalJSON() ([]byte, error) {
	flat := make(map[string]string, len(f.Columns)+5)

	for k, v := range f.Columns {
		flat[k] = v
	}

	flat["exp"] = f.Experiment
	flat["project"] = f.Project
	flat["version"] = f.Version
	flat["misuse"] = f.Misuse
	flat["rank"] = strconv.Itoa(f.Rank)

	return json.Marshal(flat)
}

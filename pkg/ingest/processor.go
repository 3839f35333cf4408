package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/detbench/reviewoor/pkg/match"
	"github.com/detbench/reviewoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Processor normalizes uploaded run results and misuse metadata into
// store rows. It holds no state between calls; every upload is a
// self-contained unit of work.
type Processor struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewProcessor creates an upload processor writing through the given
// store.
func NewProcessor(log logrus.FieldLogger, st store.Store) *Processor {
	return &Processor{
		log:   log.WithField("component", "ingest"),
		store: st,
	}
}

// ProcessRunResult persists one uploaded run result. The run is
// upserted by its (experiment, detector, project, version) tuple and
// its findings are replaced wholesale, so re-uploading the same tuple
// never duplicates rows. The matches list parallels the document's
// hits by index; hits with a match are linked to the named catalog
// misuse, creating a placeholder row when none exists yet. Hits
// without a match stay valid standalone findings.
func (p *Processor) ProcessRunResult(
	ctx context.Context,
	experiment string,
	doc *RunResultDocument,
	matches []match.HitMatch,
) (*store.Run, error) {
	if err := validateRunResult(experiment, doc); err != nil {
		return nil, err
	}

	detector, err := p.store.EnsureDetector(ctx, doc.Detector)
	if err != nil {
		return nil, fmt.Errorf("ensuring detector %q: %w", doc.Detector, err)
	}

	run := &store.Run{
		Experiment:       experiment,
		DetectorID:       detector.ID,
		Project:          doc.Project,
		Version:          doc.Version,
		Result:           doc.Result,
		Runtime:          doc.Runtime,
		NumberOfFindings: doc.NumberOfFindings,
	}

	findings := make([]store.Finding, 0, len(doc.PotentialHits))

	// Snippets shipped with matched hits replace the misuse's
	// finding-sourced snippets, never the curated metadata ones. Every
	// matched misuse gets its list swapped, so a re-upload without
	// target snippets clears stale rows from a prior upload.
	var matchedOrder []uint

	snippetsByMisuse := make(map[uint][]store.Snippet)

	for i, hit := range doc.PotentialHits {
		cols, err := json.Marshal(hit.Columns())
		if err != nil {
			return nil, fmt.Errorf("encoding hit %d columns: %w", i, err)
		}

		finding := store.Finding{
			Rank:        match.Rank(hit, i),
			ColumnsJSON: string(cols),
		}

		if key, ok := match.ForHit(
			doc.Project, doc.Version, i, matches,
		); ok {
			misuse, err := p.store.EnsureMisuse(
				ctx, key.Project, key.Version, key.Misuse,
			)
			if err != nil {
				return nil, fmt.Errorf("ensuring misuse %s: %w", key, err)
			}

			misuseID := misuse.ID
			finding.MisuseID = &misuseID

			if _, seen := snippetsByMisuse[misuseID]; !seen {
				matchedOrder = append(matchedOrder, misuseID)
				snippetsByMisuse[misuseID] = nil
			}

			for _, s := range hit.TargetSnippets() {
				snippetsByMisuse[misuseID] = append(
					snippetsByMisuse[misuseID],
					store.Snippet{Line: s.FirstLineNumber, Code: s.Code},
				)
			}
		}

		findings = append(findings, finding)
	}

	if err := p.store.ReplaceRun(ctx, run, findings); err != nil {
		return nil, fmt.Errorf("storing run: %w", err)
	}

	for _, misuseID := range matchedOrder {
		if err := p.store.ReplaceFindingSnippets(
			ctx, misuseID, snippetsByMisuse[misuseID],
		); err != nil {
			return nil, fmt.Errorf("storing snippets: %w", err)
		}
	}

	p.log.WithFields(logrus.Fields{
		"experiment": experiment,
		"detector":   doc.Detector,
		"project":    doc.Project,
		"version":    doc.Version,
		"findings":   len(findings),
	}).Info("Run result stored")

	return run, nil
}

// ProcessMetadata upserts catalog misuses from a metadata upload. For
// each record the descriptive fields are updated and the snippet,
// pattern and violation-type lists are replaced in full, preserving
// document order.
func (p *Processor) ProcessMetadata(
	ctx context.Context, docs []MetadataDocument,
) error {
	for i := range docs {
		doc := &docs[i]

		if err := validateMetadata(doc); err != nil {
			return err
		}

		misuse := &store.Misuse{
			Project:        doc.Project,
			Version:        doc.Version,
			Key:            doc.Misuse,
			Description:    doc.Description,
			FixDescription: doc.FixDescription,
			File:           doc.File,
			Method:         doc.Method,
			DiffURL:        doc.DiffURL,
		}

		snippets := make([]store.Snippet, len(doc.Snippets))
		for j, s := range doc.Snippets {
			snippets[j] = store.Snippet{Line: s.FirstLineNumber, Code: s.Code}
		}

		patterns := make([]store.Pattern, len(doc.Patterns))
		for j, pat := range doc.Patterns {
			patterns[j] = store.Pattern{
				Name: pat.Name,
				Code: pat.Code,
				Line: pat.Line,
			}
		}

		if err := p.store.UpdateMisuseMetadata(
			ctx, misuse, snippets, patterns, doc.ViolationTypes,
		); err != nil {
			return fmt.Errorf("storing metadata for %s/%s/%s: %w",
				doc.Project, doc.Version, doc.Misuse, err)
		}
	}

	p.log.WithField("misuses", len(docs)).Info("Metadata stored")

	return nil
}

func validateRunResult(experiment string, doc *RunResultDocument) error {
	switch {
	case experiment == "":
		return &ValidationError{Field: "experiment"}
	case doc.Project == "":
		return &ValidationError{Field: "project"}
	case doc.Version == "":
		return &ValidationError{Field: "version"}
	case doc.Detector == "":
		return &ValidationError{Field: "detector"}
	case doc.Result == "":
		return &ValidationError{Field: "result"}
	}

	return nil
}

func validateMetadata(doc *MetadataDocument) error {
	switch {
	case doc.Project == "":
		return &ValidationError{Field: "project"}
	case doc.Version == "":
		return &ValidationError{Field: "version"}
	case doc.Misuse == "":
		return &ValidationError{Field: "misuse"}
	}

	return nil
}

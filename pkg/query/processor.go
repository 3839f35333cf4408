package query

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/detbench/reviewoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Processor reconstructs the denormalized run and misuse views from
// normalized store rows.
type Processor struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewProcessor creates a query processor reading through the given
// store.
func NewProcessor(log logrus.FieldLogger, st store.Store) *Processor {
	return &Processor{
		log:   log.WithField("component", "query"),
		store: st,
	}
}

// GetDetector looks up a detector by name.
func (p *Processor) GetDetector(
	ctx context.Context, name string,
) (*store.Detector, error) {
	return p.store.GetDetectorByName(ctx, name)
}

// GetRuns reconstructs the run views of a detector within an
// experiment, in upload order. Each view carries the fully hydrated
// misuses reachable from the run's findings; a run with no matched
// findings yields an empty misuses list.
func (p *Processor) GetRuns(
	ctx context.Context, detector *store.Detector, experiment string,
) ([]RunView, error) {
	runs, err := p.store.ListRuns(ctx, detector.ID, experiment)
	if err != nil {
		return nil, fmt.Errorf("listing runs: %w", err)
	}

	views := make([]RunView, 0, len(runs))

	for i := range runs {
		run := &runs[i]

		view := RunView{
			Experiment:       run.Experiment,
			Project:          run.Project,
			Version:          run.Version,
			Result:           run.Result,
			Runtime:          run.Runtime,
			NumberOfFindings: run.NumberOfFindings,
			Detector:         detector.Name,
			Misuses:          []MisuseView{},
		}

		findings, err := p.store.ListFindings(ctx, run.ID)
		if err != nil {
			return nil, fmt.Errorf("listing findings: %w", err)
		}

		// Group matched findings by misuse. Findings arrive in
		// ascending rank order, which fixes both the per-misuse
		// finding order and the order of the misuses themselves.
		var misuseOrder []uint

		byMisuse := make(map[uint][]store.Finding)

		for _, f := range findings {
			if f.MisuseID == nil {
				continue
			}

			id := *f.MisuseID
			if _, seen := byMisuse[id]; !seen {
				misuseOrder = append(misuseOrder, id)
			}

			byMisuse[id] = append(byMisuse[id], f)
		}

		for _, misuseID := range misuseOrder {
			misuse, err := p.store.GetMisuseByID(ctx, misuseID)
			if err != nil {
				return nil, fmt.Errorf("hydrating misuse: %w", err)
			}

			mv, err := buildMisuseView(misuse, run, byMisuse[misuseID])
			if err != nil {
				return nil, err
			}

			view.Misuses = append(view.Misuses, mv)
		}

		views = append(views, view)
	}

	return views, nil
}

// GetMisuse returns one fully hydrated misuse view scoped to the run
// identified by (experiment, detector, project, version). It fails
// with store.ErrNotFound when either the run or the misuse is absent.
func (p *Processor) GetMisuse(
	ctx context.Context,
	experiment string,
	detector *store.Detector,
	project, version, key string,
) (*MisuseView, error) {
	run, err := p.store.GetRun(ctx, experiment, detector.ID, project, version)
	if err != nil {
		return nil, fmt.Errorf("looking up run: %w", err)
	}

	misuse, err := p.store.GetMisuse(ctx, project, version, key)
	if err != nil {
		return nil, fmt.Errorf("looking up misuse: %w", err)
	}

	findings, err := p.store.ListFindingsForMisuse(ctx, run.ID, misuse.ID)
	if err != nil {
		return nil, fmt.Errorf("listing matched findings: %w", err)
	}

	view, err := buildMisuseView(misuse, run, findings)
	if err != nil {
		return nil, err
	}

	return &view, nil
}

// buildMisuseView assembles the view from the misuse row, its run
// context and the matched findings (already in ascending rank order).
func buildMisuseView(
	misuse *store.Misuse, run *store.Run, findings []store.Finding,
) (MisuseView, error) {
	view := MisuseView{
		Project:        misuse.Project,
		Version:        misuse.Version,
		Misuse:         misuse.Key,
		Description:    misuse.Description,
		FixDescription: misuse.FixDescription,
		File:           misuse.File,
		Method:         misuse.Method,
		DiffURL:        misuse.DiffURL,
		Snippets:       make([]SnippetView, 0, len(misuse.Snippets)),
		Patterns:       make([]PatternView, 0, len(misuse.Patterns)),
		Findings:       make([]FindingView, 0, len(findings)),
	}

	for _, vt := range misuse.ViolationTypes {
		view.ViolationTypes = append(view.ViolationTypes, vt.Name)
	}

	for _, s := range misuse.Snippets {
		view.Snippets = append(view.Snippets, SnippetView{
			Line:    s.Line,
			Snippet: s.Code,
		})
	}

	for _, pat := range misuse.Patterns {
		view.Patterns = append(view.Patterns, PatternView{
			Name: pat.Name,
			Code: pat.Code,
			Line: pat.Line,
		})
	}

	for _, f := range findings {
		var cols map[string]string
		if f.ColumnsJSON != "" {
			if err := json.Unmarshal([]byte(f.ColumnsJSON), &cols); err != nil {
				return MisuseView{}, fmt.Errorf(
					"decoding finding columns: %w", err)
			}
		}

		view.Findings = append(view.Findings, FindingView{
			Experiment: run.Experiment,
			Project:    run.Project,
			Version:    run.Version,
			Misuse:     misuse.Key,
			Rank:       f.Rank,
			Columns:    cols,
		})
	}

	return view, nil
}

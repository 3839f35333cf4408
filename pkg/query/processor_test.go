package query_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/detbench/reviewoor/pkg/config"
	"github.com/detbench/reviewoor/pkg/ingest"
	"github.com/detbench/reviewoor/pkg/query"
	"github.com/detbench/reviewoor/pkg/store"
)

const findingJSON = `{
	"project": "-p-",
	"version": "-v-",
	"detector": "-d-",
	"result": "success",
	"runtime": 42.1,
	"number_of_findings": 23,
	"potential_hits": [
		{
			"misuse": "0",
			"rank": "0",
			"target_snippets": [{"first_line_number": 5, "code": "-code-"}],
			"custom1": "-val1-",
			"custom2": "-val2-"
		}
	]
}`

const metadataJSON = `[{
	"project": "-p-",
	"version": "-v-",
	"misuse": "-m-",
	"description": "-desc-",
	"fix_description": "-fix-desc-",
	"violation_types": ["superfluous/condition/null_check"],
	"file": "-f-",
	"method": "-method-",
	"diff_url": "-diff-",
	"snippets": [{"first_line_number": 273, "code": "-code-"}],
	"patterns": [{"name": "-p-id-", "code": "-pattern-code-", "line": 1}]
}]`

func setupTest(t *testing.T) (*ingest.Processor, *query.Processor) {
	t.Helper()

	cfg := &config.DatabaseConfig{
		Driver: "sqlite",
		SQLite: config.SQLiteConfig{Path: ":memory:"},
	}

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	s := store.NewStore(log, cfg)
	require.NoError(t, s.Start(context.Background()))

	t.Cleanup(func() { _ = s.Stop() })

	return ingest.NewProcessor(log, s), query.NewProcessor(log, s)
}

func decodeRunResult(t *testing.T) *ingest.RunResultDocument {
	t.Helper()

	var doc ingest.RunResultDocument
	require.NoError(t, json.Unmarshal([]byte(findingJSON), &doc))

	return &doc
}

// A run uploaded without a hit mapping reconstructs with an empty
// misuses list; that is a valid result, not an error.
func TestGetRuns_NoMatchedFindings(t *testing.T) {
	ing, q := setupTest(t)
	ctx := context.Background()

	doc := decodeRunResult(t)

	_, err := ing.ProcessRunResult(ctx, "ex1", doc, nil)
	require.NoError(t, err)

	detector, err := q.GetDetector(ctx, "-d-")
	require.NoError(t, err)

	runs, err := q.GetRuns(ctx, detector, "ex1")
	require.NoError(t, err)
	require.Len(t, runs, 1)

	run := runs[0]
	assert.Equal(t, "ex1", run.Experiment)
	assert.Equal(t, "-p-", run.Project)
	assert.Equal(t, "-v-", run.Version)
	assert.Equal(t, "success", run.Result)
	assert.Equal(t, 42.1, run.Runtime)
	assert.Equal(t, 23, run.NumberOfFindings)
	assert.Equal(t, "-d-", run.Detector)
	assert.Empty(t, run.Misuses)
	assert.NotNil(t, run.Misuses, "misuses must be an empty list, not null")
}

// A matched finding hydrates its misuse into the run view, carrying
// the rank and the custom columns exactly as uploaded.
func TestGetRuns_MatchedFinding(t *testing.T) {
	ing, q := setupTest(t)
	ctx := context.Background()

	doc := decodeRunResult(t)

	_, err := ing.ProcessRunResult(ctx, "ex2", doc, doc.Matches())
	require.NoError(t, err)

	detector, err := q.GetDetector(ctx, "-d-")
	require.NoError(t, err)

	runs, err := q.GetRuns(ctx, detector, "ex2")
	require.NoError(t, err)
	require.Len(t, runs, 1)
	require.Len(t, runs[0].Misuses, 1)

	misuse := runs[0].Misuses[0]
	assert.Equal(t, "0", misuse.Misuse)

	require.Len(t, misuse.Snippets, 1)
	assert.Equal(t, 5, misuse.Snippets[0].Line)
	assert.Equal(t, "-code-", misuse.Snippets[0].Snippet)

	require.Len(t, misuse.Findings, 1)
	finding := misuse.Findings[0]
	assert.Equal(t, "ex2", finding.Experiment)
	assert.Equal(t, "-p-", finding.Project)
	assert.Equal(t, "-v-", finding.Version)
	assert.Equal(t, "0", finding.Misuse)
	assert.Equal(t, 0, finding.Rank)
	assert.Equal(t, "-val1-", finding.Columns["custom1"])
	assert.Equal(t, "-val2-", finding.Columns["custom2"])
}

// Runs are scoped per experiment: the same tuple uploaded under two
// experiments yields independent runs.
func TestGetRuns_ScopedByExperiment(t *testing.T) {
	ing, q := setupTest(t)
	ctx := context.Background()

	doc := decodeRunResult(t)

	_, err := ing.ProcessRunResult(ctx, "ex1", doc, nil)
	require.NoError(t, err)

	doc2 := decodeRunResult(t)

	_, err = ing.ProcessRunResult(ctx, "ex3", doc2, nil)
	require.NoError(t, err)

	detector, err := q.GetDetector(ctx, "-d-")
	require.NoError(t, err)

	for _, exp := range []string{"ex1", "ex3"} {
		runs, err := q.GetRuns(ctx, detector, exp)
		require.NoError(t, err)
		require.Len(t, runs, 1)
		assert.Equal(t, exp, runs[0].Experiment)
		assert.Empty(t, runs[0].Misuses)
	}
}

// GetMisuse returns the single hydrated view: catalog metadata from
// the metadata upload plus the matched finding from the run upload.
func TestGetMisuse(t *testing.T) {
	ing, q := setupTest(t)
	ctx := context.Background()

	doc := decodeRunResult(t)
	doc.PotentialHits[0]["misuse"] = "-m-"

	_, err := ing.ProcessRunResult(ctx, "ex1", doc, doc.Matches())
	require.NoError(t, err)

	var metadata []ingest.MetadataDocument
	require.NoError(t, json.Unmarshal([]byte(metadataJSON), &metadata))
	require.NoError(t, ing.ProcessMetadata(ctx, metadata))

	detector, err := q.GetDetector(ctx, "-d-")
	require.NoError(t, err)

	misuse, err := q.GetMisuse(ctx, "ex1", detector, "-p-", "-v-", "-m-")
	require.NoError(t, err)

	assert.Equal(t, "-p-", misuse.Project)
	assert.Equal(t, "-v-", misuse.Version)
	assert.Equal(t, "-m-", misuse.Misuse)
	assert.Equal(t, "-desc-", misuse.Description)
	assert.Equal(t, "-fix-desc-", misuse.FixDescription)
	assert.Equal(t, []string{"superfluous/condition/null_check"},
		misuse.ViolationTypes)
	assert.Equal(t, "-f-", misuse.File)
	assert.Equal(t, "-method-", misuse.Method)
	assert.Equal(t, "-diff-", misuse.DiffURL)

	// The curated metadata snippet wins over the one shipped with the
	// hit.
	require.Len(t, misuse.Snippets, 1)
	assert.Equal(t, 273, misuse.Snippets[0].Line)
	assert.Equal(t, "-code-", misuse.Snippets[0].Snippet)

	require.Len(t, misuse.Patterns, 1)
	assert.Equal(t, "-p-id-", misuse.Patterns[0].Name)
	assert.Equal(t, "-pattern-code-", misuse.Patterns[0].Code)
	assert.Equal(t, 1, misuse.Patterns[0].Line)

	require.Len(t, misuse.Findings, 1)
	assert.Equal(t, 0, misuse.Findings[0].Rank)
	assert.Equal(t, "-val1-", misuse.Findings[0].Columns["custom1"])
}

// A known run and a known misuse with no finding linking them is a
// valid combination: the view carries the catalog metadata and an
// empty potential_hits list.
func TestGetMisuse_NoLinkedFindings(t *testing.T) {
	ing, q := setupTest(t)
	ctx := context.Background()

	doc := decodeRunResult(t)

	_, err := ing.ProcessRunResult(ctx, "ex1", doc, nil)
	require.NoError(t, err)

	var metadata []ingest.MetadataDocument
	require.NoError(t, json.Unmarshal([]byte(metadataJSON), &metadata))
	require.NoError(t, ing.ProcessMetadata(ctx, metadata))

	detector, err := q.GetDetector(ctx, "-d-")
	require.NoError(t, err)

	misuse, err := q.GetMisuse(ctx, "ex1", detector, "-p-", "-v-", "-m-")
	require.NoError(t, err)
	assert.Equal(t, "-desc-", misuse.Description)
	assert.Empty(t, misuse.Findings)
	assert.NotNil(t, misuse.Findings)
}

func TestGetMisuse_NotFound(t *testing.T) {
	ing, q := setupTest(t)
	ctx := context.Background()

	doc := decodeRunResult(t)

	_, err := ing.ProcessRunResult(ctx, "ex1", doc, nil)
	require.NoError(t, err)

	detector, err := q.GetDetector(ctx, "-d-")
	require.NoError(t, err)

	// Unknown misuse key.
	_, err = q.GetMisuse(ctx, "ex1", detector, "-p-", "-v-", "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)

	// Unknown run scope.
	_, err = q.GetMisuse(ctx, "ex9", detector, "-p-", "-v-", "-m-")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestGetDetector_NotFound(t *testing.T) {
	_, q := setupTest(t)

	_, err := q.GetDetector(context.Background(), "missing")
	require.Error(t, err)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

// Findings attached to a misuse come back in ascending rank order and
// the flattened JSON form carries the custom columns inline.
func TestFindingViewMarshalJSON(t *testing.T) {
	view := query.FindingView{
		Experiment: "ex2",
		Project:    "-p-",
		Version:    "-v-",
		Misuse:     "0",
		Rank:       0,
		Columns:    map[string]string{"custom1": "-val1-"},
	}

	data, err := json.Marshal(view)
	require.NoError(t, err)

	var flat map[string]string
	require.NoError(t, json.Unmarshal(data, &flat))
	assert.Equal(t, "ex2", flat["exp"])
	assert.Equal(t, "0", flat["misuse"])
	assert.Equal(t, "0", flat["rank"])
	assert.Equal(t, "-val1-", flat["custom1"])
}

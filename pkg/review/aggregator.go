package review

import (
	"context"
	"fmt"

	"github.com/detbench/reviewoor/pkg/store"
	"github.com/sirupsen/logrus"
)

// Aggregator persists reviewer decisions and folds them into a single
// current review state per misuse per reviewer.
type Aggregator struct {
	log   logrus.FieldLogger
	store store.Store
}

// NewAggregator creates a review aggregator writing through the given
// store.
func NewAggregator(log logrus.FieldLogger, st store.Store) *Aggregator {
	return &Aggregator{
		log:   log.WithField("component", "review"),
		store: st,
	}
}

// HitDecision is one submitted per-hit judgment. Types names the
// violation-type ids tagged on the hit.
type HitDecision struct {
	Decision string `json:"hit"`
	Types    []uint `json:"types,omitempty"`
}

// ReviewView is the hydrated current review state for one
// (misuse, reviewer) pair.
type ReviewView struct {
	MisuseID uint      `json:"misuse_id"`
	Reviewer string    `json:"reviewer"`
	Comment  string    `json:"comment"`
	Hits     []HitView `json:"hits"`
	Decision Decision  `json:"decision"`
}

// HitView is one hydrated per-hit entry of a review.
type HitView struct {
	Decision Decision              `json:"hit"`
	Types    []store.ViolationType `json:"types,omitempty"`
}

// HitViolationTypes returns the violation types tagged on the hit
// entry at the given index, or nil when the review has no such entry.
func (v *ReviewView) HitViolationTypes(idx int) []store.ViolationType {
	if idx < 0 || idx >= len(v.Hits) {
		return nil
	}

	return v.Hits[idx].Types
}

// UpdateReview replaces the review for (misuse, reviewer) with the
// given comment and hit decisions and returns the consolidated
// decision. An unknown misuse or reviewer fails with
// store.ErrNotFound; a prior submission is replaced in full, never
// merged.
func (a *Aggregator) UpdateReview(
	ctx context.Context,
	misuseID, reviewerID uint,
	comment string,
	hits []HitDecision,
) (Decision, error) {
	misuse, err := a.store.GetMisuseByID(ctx, misuseID)
	if err != nil {
		return Unsure, fmt.Errorf("looking up misuse: %w", err)
	}

	reviewer, err := a.store.GetReviewer(ctx, reviewerID)
	if err != nil {
		return Unsure, fmt.Errorf("looking up reviewer: %w", err)
	}

	rev := &store.Review{
		MisuseID:   misuse.ID,
		ReviewerID: reviewer.ID,
		Comment:    comment,
		Hits:       make([]store.ReviewHit, 0, len(hits)),
	}

	decisions := make([]Decision, 0, len(hits))

	for i, hit := range hits {
		decision, err := ParseDecision(hit.Decision)
		if err != nil {
			return Unsure, fmt.Errorf("hit %d: %w", i, err)
		}

		decisions = append(decisions, decision)

		types, err := a.resolveTypes(ctx, hit.Types)
		if err != nil {
			return Unsure, fmt.Errorf("hit %d: %w", i, err)
		}

		rev.Hits = append(rev.Hits, store.ReviewHit{
			Decision: decision.String(),
			Types:    types,
		})
	}

	if err := a.store.SaveReview(ctx, rev); err != nil {
		return Unsure, fmt.Errorf("saving review: %w", err)
	}

	overall := Reduce(decisions)

	a.log.WithFields(logrus.Fields{
		"misuse":   misuse.Key,
		"reviewer": reviewer.Name,
		"hits":     len(hits),
		"decision": overall.String(),
	}).Info("Review stored")

	return overall, nil
}

// GetReview returns the current review state for (misuse, reviewer)
// with its consolidated decision.
func (a *Aggregator) GetReview(
	ctx context.Context, misuseID, reviewerID uint,
) (*ReviewView, error) {
	reviewer, err := a.store.GetReviewer(ctx, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("looking up reviewer: %w", err)
	}

	rev, err := a.store.GetReview(ctx, misuseID, reviewerID)
	if err != nil {
		return nil, fmt.Errorf("looking up review: %w", err)
	}

	view := &ReviewView{
		MisuseID: rev.MisuseID,
		Reviewer: reviewer.Name,
		Comment:  rev.Comment,
		Hits:     make([]HitView, 0, len(rev.Hits)),
	}

	decisions := make([]Decision, 0, len(rev.Hits))

	for _, hit := range rev.Hits {
		decision, err := ParseDecision(hit.Decision)
		if err != nil {
			return nil, fmt.Errorf("stored hit %d: %w", hit.Idx, err)
		}

		decisions = append(decisions, decision)

		view.Hits = append(view.Hits, HitView{
			Decision: decision,
			Types:    hit.Types,
		})
	}

	view.Decision = Reduce(decisions)

	return view, nil
}

// resolveTypes loads the violation types for the given ids, in
// submission order, failing with store.ErrNotFound when an id has no
// catalog entry. Duplicate ids collapse to one entry.
func (a *Aggregator) resolveTypes(
	ctx context.Context, ids []uint,
) ([]store.ViolationType, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	unique := make([]uint, 0, len(ids))
	seen := make(map[uint]bool, len(ids))

	for _, id := range ids {
		if !seen[id] {
			seen[id] = true
			unique = append(unique, id)
		}
	}

	types, err := a.store.GetViolationTypesByIDs(ctx, unique)
	if err != nil {
		return nil, fmt.Errorf("resolving violation types: %w", err)
	}

	byID := make(map[uint]store.ViolationType, len(types))
	for _, vt := range types {
		byID[vt.ID] = vt
	}

	resolved := make([]store.ViolationType, 0, len(unique))

	for _, id := range unique {
		vt, ok := byID[id]
		if !ok {
			return nil, fmt.Errorf(
				"resolving violation type %d: %w", id, store.ErrNotFound)
		}

		resolved = append(resolved, vt)
	}

	return resolved, nil
}

package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/detbench/reviewoor/pkg/config"
	"github.com/glebarez/sqlite"
	"github.com/sirupsen/logrus"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// Store provides persistence for runs, findings, misuses and reviews.
// All operations are parameterized; uniqueness and atomicity of
// multi-row writes are enforced here so callers stay stateless.
type Store interface {
	Start(ctx context.Context) error
	Stop() error

	// Detectors.
	EnsureDetector(ctx context.Context, name string) (*Detector, error)
	GetDetectorByName(ctx context.Context, name string) (*Detector, error)

	// Runs and findings. ReplaceRun upserts the run by its unique
	// (experiment, detector, project, version) tuple and swaps out all
	// of its findings in the same transaction.
	ReplaceRun(ctx context.Context, run *Run, findings []Finding) error
	ListRuns(
		ctx context.Context, detectorID uint, experiment string,
	) ([]Run, error)
	GetRun(
		ctx context.Context,
		experiment string,
		detectorID uint,
		project, version string,
	) (*Run, error)
	ListFindings(ctx context.Context, runID uint) ([]Finding, error)
	ListFindingsForMisuse(
		ctx context.Context, runID, misuseID uint,
	) ([]Finding, error)

	// Misuses.
	EnsureMisuse(
		ctx context.Context, project, version, key string,
	) (*Misuse, error)
	GetMisuse(
		ctx context.Context, project, version, key string,
	) (*Misuse, error)
	GetMisuseByID(ctx context.Context, id uint) (*Misuse, error)
	UpdateMisuseMetadata(
		ctx context.Context,
		m *Misuse,
		snippets []Snippet,
		patterns []Pattern,
		typeNames []string,
	) error
	ReplaceFindingSnippets(
		ctx context.Context, misuseID uint, snippets []Snippet,
	) error

	// Reviewers and reviews. SaveReview replaces the review for
	// (misuse, reviewer) in full, hits and tags included.
	EnsureReviewer(ctx context.Context, name string) (*Reviewer, error)
	GetReviewer(ctx context.Context, id uint) (*Reviewer, error)
	GetReviewerByName(ctx context.Context, name string) (*Reviewer, error)
	SaveReview(ctx context.Context, review *Review) error
	GetReview(
		ctx context.Context, misuseID, reviewerID uint,
	) (*Review, error)

	// Violation types.
	EnsureViolationType(
		ctx context.Context, name string,
	) (*ViolationType, error)
	ListViolationTypes(ctx context.Context) ([]ViolationType, error)
	GetViolationTypesByIDs(
		ctx context.Context, ids []uint,
	) ([]ViolationType, error)
	SeedViolationTypes(ctx context.Context, names []string) error
	SeedReviewers(ctx context.Context, names []string) error
}

// Compile-time interface check.
var _ Store = (*store)(nil)

type store struct {
	log logrus.FieldLogger
	cfg *config.DatabaseConfig
	db  *gorm.DB
}

// NewStore creates a new Store backed by the configured database driver.
func NewStore(
	log logrus.FieldLogger,
	cfg *config.DatabaseConfig,
) Store {
	return &store{
		log: log.WithField("component", "store"),
		cfg: cfg,
	}
}

// Start opens the database connection and runs migrations.
func (s *store) Start(ctx context.Context) error {
	var dialector gorm.Dialector

	gormCfg := &gorm.Config{
		Logger:         logger.Discard,
		TranslateError: true,
	}

	switch s.cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(s.cfg.SQLite.Path)
	case "postgres":
		dsn := fmt.Sprintf(
			"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
			s.cfg.Postgres.Host,
			s.cfg.Postgres.Port,
			s.cfg.Postgres.User,
			s.cfg.Postgres.Password,
			s.cfg.Postgres.Database,
			s.cfg.Postgres.SSLMode,
		)
		dialector = postgres.Open(dsn)
	default:
		return fmt.Errorf("unsupported database driver: %s", s.cfg.Driver)
	}

	db, err := gorm.Open(dialector, gormCfg)
	if err != nil {
		return fmt.Errorf("opening database: %w", err)
	}

	s.db = db

	if err := s.db.WithContext(ctx).AutoMigrate(
		&Detector{},
		&Run{},
		&Finding{},
		&Misuse{},
		&Snippet{},
		&Pattern{},
		&ViolationType{},
		&MisuseViolationType{},
		&Reviewer{},
		&Review{},
		&ReviewHit{},
		&ReviewHitType{},
	); err != nil {
		return fmt.Errorf("running migrations: %w", err)
	}

	s.log.WithField("driver", s.cfg.Driver).Info("Database connected")

	return nil
}

// Stop closes the underlying database connection.
func (s *store) Stop() error {
	if s.db == nil {
		return nil
	}

	sqlDB, err := s.db.DB()
	if err != nil {
		return fmt.Errorf("getting underlying db: %w", err)
	}

	return sqlDB.Close()
}

// --- Detectors ---

// EnsureDetector creates the detector on first reference.
func (s *store) EnsureDetector(
	ctx context.Context, name string,
) (*Detector, error) {
	detector := &Detector{Name: name}

	result := s.db.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(detector)
	if result.Error != nil {
		return nil, fmt.Errorf("ensuring detector: %w",
			translate(result.Error))
	}

	return detector, nil
}

func (s *store) GetDetectorByName(
	ctx context.Context, name string,
) (*Detector, error) {
	var detector Detector
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&detector).Error; err != nil {
		return nil, fmt.Errorf("getting detector: %w", translate(err))
	}

	return &detector, nil
}

// --- Runs and findings ---

// ReplaceRun upserts the run by its unique tuple and replaces all of
// its findings in one transaction. A failed write leaves no partial
// rows behind.
func (s *store) ReplaceRun(
	ctx context.Context, run *Run, findings []Finding,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := &Run{}

		result := tx.
			Where("experiment = ? AND detector_id = ? AND project = ? AND version = ?",
				run.Experiment, run.DetectorID, run.Project, run.Version).
			First(existing)

		switch {
		case result.Error == nil:
			run.ID = existing.ID
			run.CreatedAt = existing.CreatedAt

			if err := tx.Save(run).Error; err != nil {
				return fmt.Errorf("updating run: %w", err)
			}

			if err := tx.Where("run_id = ?", run.ID).
				Delete(&Finding{}).Error; err != nil {
				return fmt.Errorf("clearing findings: %w", err)
			}
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			if err := tx.Create(run).Error; err != nil {
				return fmt.Errorf("creating run: %w", err)
			}
		default:
			return fmt.Errorf("looking up run: %w", result.Error)
		}

		for i := range findings {
			findings[i].ID = 0
			findings[i].RunID = run.ID
		}

		if len(findings) > 0 {
			if err := tx.Create(&findings).Error; err != nil {
				return fmt.Errorf("inserting findings: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing run: %w", translate(err))
	}

	return nil
}

// ListRuns returns the runs of a detector within an experiment in
// upload order.
func (s *store) ListRuns(
	ctx context.Context, detectorID uint, experiment string,
) ([]Run, error) {
	var runs []Run
	if err := s.db.WithContext(ctx).
		Where("detector_id = ? AND experiment = ?", detectorID, experiment).
		Order("id ASC").
		Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("listing runs: %w", translate(err))
	}

	return runs, nil
}

func (s *store) GetRun(
	ctx context.Context,
	experiment string,
	detectorID uint,
	project, version string,
) (*Run, error) {
	var run Run
	if err := s.db.WithContext(ctx).
		Where("experiment = ? AND detector_id = ? AND project = ? AND version = ?",
			experiment, detectorID, project, version).
		First(&run).Error; err != nil {
		return nil, fmt.Errorf("getting run: %w", translate(err))
	}

	return &run, nil
}

// ListFindings returns a run's findings in ascending rank order.
func (s *store) ListFindings(
	ctx context.Context, runID uint,
) ([]Finding, error) {
	var findings []Finding
	if err := s.db.WithContext(ctx).
		Where("run_id = ?", runID).
		Order("rank ASC").
		Find(&findings).Error; err != nil {
		return nil, fmt.Errorf("listing findings: %w", translate(err))
	}

	return findings, nil
}

// ListFindingsForMisuse returns the run's findings linked to the given
// misuse in ascending rank order.
func (s *store) ListFindingsForMisuse(
	ctx context.Context, runID, misuseID uint,
) ([]Finding, error) {
	var findings []Finding
	if err := s.db.WithContext(ctx).
		Where("run_id = ? AND misuse_id = ?", runID, misuseID).
		Order("rank ASC").
		Find(&findings).Error; err != nil {
		return nil, fmt.Errorf("listing findings for misuse: %w",
			translate(err))
	}

	return findings, nil
}

// --- Misuses ---

// EnsureMisuse creates a placeholder misuse holding only the key
// fields when none exists yet.
func (s *store) EnsureMisuse(
	ctx context.Context, project, version, key string,
) (*Misuse, error) {
	misuse := &Misuse{Project: project, Version: version, Key: key}

	result := s.db.WithContext(ctx).
		Where("project = ? AND version = ? AND key = ?",
			project, version, key).
		FirstOrCreate(misuse)
	if result.Error != nil {
		return nil, fmt.Errorf("ensuring misuse: %w",
			translate(result.Error))
	}

	return misuse, nil
}

// GetMisuse returns the misuse with its ordered snippets, patterns and
// violation types hydrated.
func (s *store) GetMisuse(
	ctx context.Context, project, version, key string,
) (*Misuse, error) {
	var misuse Misuse
	if err := s.db.WithContext(ctx).
		Preload("Snippets", orderSnippets).
		Preload("Patterns", orderByIdx).
		Where("project = ? AND version = ? AND key = ?",
			project, version, key).
		First(&misuse).Error; err != nil {
		return nil, fmt.Errorf("getting misuse: %w", translate(err))
	}

	misuse.Snippets = effectiveSnippets(misuse.Snippets)

	if err := s.loadMisuseViolationTypes(ctx, &misuse); err != nil {
		return nil, err
	}

	return &misuse, nil
}

func (s *store) GetMisuseByID(
	ctx context.Context, id uint,
) (*Misuse, error) {
	var misuse Misuse
	if err := s.db.WithContext(ctx).
		Preload("Snippets", orderSnippets).
		Preload("Patterns", orderByIdx).
		First(&misuse, id).Error; err != nil {
		return nil, fmt.Errorf("getting misuse by id: %w", translate(err))
	}

	misuse.Snippets = effectiveSnippets(misuse.Snippets)

	if err := s.loadMisuseViolationTypes(ctx, &misuse); err != nil {
		return nil, err
	}

	return &misuse, nil
}

func orderByIdx(db *gorm.DB) *gorm.DB {
	return db.Order("idx ASC")
}

func orderSnippets(db *gorm.DB) *gorm.DB {
	return db.Order("from_finding ASC, idx ASC")
}

// effectiveSnippets picks the curated metadata snippets when any
// exist, falling back to the ones shipped with finding uploads.
func effectiveSnippets(snippets []Snippet) []Snippet {
	var metadata, findings []Snippet

	for _, snip := range snippets {
		if snip.FromFinding {
			findings = append(findings, snip)
		} else {
			metadata = append(metadata, snip)
		}
	}

	if len(metadata) > 0 {
		return metadata
	}

	return findings
}

func (s *store) loadMisuseViolationTypes(
	ctx context.Context, misuse *Misuse,
) error {
	var types []ViolationType
	if err := s.db.WithContext(ctx).
		Model(&ViolationType{}).
		Joins("JOIN misuse_violation_types mvt ON mvt.violation_type_id = violation_types.id").
		Where("mvt.misuse_id = ?", misuse.ID).
		Order("violation_types.id ASC").
		Find(&types).Error; err != nil {
		return fmt.Errorf("loading misuse violation types: %w",
			translate(err))
	}

	misuse.ViolationTypes = types

	return nil
}

// UpdateMisuseMetadata upserts the misuse's descriptive fields and
// wholesale-replaces its metadata snippets, patterns and
// violation-type tags in one transaction. Snippets collected from
// finding uploads are left alone. Unnamed violation types are created
// on first reference.
func (s *store) UpdateMisuseMetadata(
	ctx context.Context,
	m *Misuse,
	snippets []Snippet,
	patterns []Pattern,
	typeNames []string,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := &Misuse{}

		result := tx.
			Where("project = ? AND version = ? AND key = ?",
				m.Project, m.Version, m.Key).
			First(existing)
		if result.Error == nil {
			m.ID = existing.ID
		} else if !errors.Is(result.Error, gorm.ErrRecordNotFound) {
			return fmt.Errorf("looking up misuse: %w", result.Error)
		}

		if err := tx.Save(m).Error; err != nil {
			return fmt.Errorf("saving misuse: %w", err)
		}

		if err := tx.Where("misuse_id = ? AND from_finding = ?", m.ID, false).
			Delete(&Snippet{}).Error; err != nil {
			return fmt.Errorf("clearing metadata snippets: %w", err)
		}

		if err := tx.Where("misuse_id = ?", m.ID).
			Delete(&Pattern{}).Error; err != nil {
			return fmt.Errorf("clearing patterns: %w", err)
		}

		if err := tx.Where("misuse_id = ?", m.ID).
			Delete(&MisuseViolationType{}).Error; err != nil {
			return fmt.Errorf("clearing violation type tags: %w", err)
		}

		for i := range snippets {
			snippets[i].ID = 0
			snippets[i].MisuseID = m.ID
			snippets[i].Idx = i
		}

		if len(snippets) > 0 {
			if err := tx.Create(&snippets).Error; err != nil {
				return fmt.Errorf("inserting snippets: %w", err)
			}
		}

		for i := range patterns {
			patterns[i].ID = 0
			patterns[i].MisuseID = m.ID
			patterns[i].Idx = i
		}

		if len(patterns) > 0 {
			if err := tx.Create(&patterns).Error; err != nil {
				return fmt.Errorf("inserting patterns: %w", err)
			}
		}

		for _, name := range typeNames {
			vt := &ViolationType{Name: name}
			if err := tx.Where("name = ?", name).
				FirstOrCreate(vt).Error; err != nil {
				return fmt.Errorf("ensuring violation type %q: %w", name, err)
			}

			tag := &MisuseViolationType{
				MisuseID:        m.ID,
				ViolationTypeID: vt.ID,
			}
			if err := tx.Create(tag).Error; err != nil {
				return fmt.Errorf("tagging misuse: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("updating misuse metadata: %w", translate(err))
	}

	return nil
}

// ReplaceFindingSnippets swaps out the snippets a misuse collected
// from finding uploads, preserving the order given. Metadata snippets
// are untouched; an empty list clears any prior finding snippets.
func (s *store) ReplaceFindingSnippets(
	ctx context.Context, misuseID uint, snippets []Snippet,
) error {
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("misuse_id = ? AND from_finding = ?", misuseID, true).
			Delete(&Snippet{}).Error; err != nil {
			return fmt.Errorf("clearing finding snippets: %w", err)
		}

		for i := range snippets {
			snippets[i].ID = 0
			snippets[i].MisuseID = misuseID
			snippets[i].Idx = i
			snippets[i].FromFinding = true
		}

		if len(snippets) > 0 {
			if err := tx.Create(&snippets).Error; err != nil {
				return fmt.Errorf("inserting snippets: %w", err)
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("replacing finding snippets: %w", translate(err))
	}

	return nil
}

// --- Reviewers and reviews ---

func (s *store) EnsureReviewer(
	ctx context.Context, name string,
) (*Reviewer, error) {
	reviewer := &Reviewer{Name: name}

	result := s.db.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(reviewer)
	if result.Error != nil {
		return nil, fmt.Errorf("ensuring reviewer: %w",
			translate(result.Error))
	}

	return reviewer, nil
}

func (s *store) GetReviewer(
	ctx context.Context, id uint,
) (*Reviewer, error) {
	var reviewer Reviewer
	if err := s.db.WithContext(ctx).
		First(&reviewer, id).Error; err != nil {
		return nil, fmt.Errorf("getting reviewer: %w", translate(err))
	}

	return &reviewer, nil
}

func (s *store) GetReviewerByName(
	ctx context.Context, name string,
) (*Reviewer, error) {
	var reviewer Reviewer
	if err := s.db.WithContext(ctx).
		Where("name = ?", name).
		First(&reviewer).Error; err != nil {
		return nil, fmt.Errorf("getting reviewer by name: %w",
			translate(err))
	}

	return &reviewer, nil
}

// SaveReview replaces the review for (misuse, reviewer) in full:
// delete-then-insert within one transaction, so nothing survives from
// a prior submission.
func (s *store) SaveReview(ctx context.Context, review *Review) error {
	// Detach hits so Save/Create does not write them as associations;
	// they are inserted explicitly below with their order index.
	hits := review.Hits
	review.Hits = nil

	defer func() { review.Hits = hits }()

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		existing := &Review{}

		result := tx.
			Where("misuse_id = ? AND reviewer_id = ?",
				review.MisuseID, review.ReviewerID).
			First(existing)

		switch {
		case result.Error == nil:
			var hitIDs []uint
			if err := tx.Model(&ReviewHit{}).
				Where("review_id = ?", existing.ID).
				Pluck("id", &hitIDs).Error; err != nil {
				return fmt.Errorf("listing prior hits: %w", err)
			}

			if len(hitIDs) > 0 {
				if err := tx.Where("review_hit_id IN ?", hitIDs).
					Delete(&ReviewHitType{}).Error; err != nil {
					return fmt.Errorf("clearing hit tags: %w", err)
				}
			}

			if err := tx.Where("review_id = ?", existing.ID).
				Delete(&ReviewHit{}).Error; err != nil {
				return fmt.Errorf("clearing hits: %w", err)
			}

			review.ID = existing.ID
			review.CreatedAt = existing.CreatedAt

			if err := tx.Save(review).Error; err != nil {
				return fmt.Errorf("updating review: %w", err)
			}
		case errors.Is(result.Error, gorm.ErrRecordNotFound):
			if err := tx.Create(review).Error; err != nil {
				return fmt.Errorf("creating review: %w", err)
			}
		default:
			return fmt.Errorf("looking up review: %w", result.Error)
		}

		for i := range hits {
			hit := &hits[i]
			hit.ID = 0
			hit.ReviewID = review.ID
			hit.Idx = i

			if err := tx.Create(hit).Error; err != nil {
				return fmt.Errorf("inserting hit: %w", err)
			}

			for _, vt := range hit.Types {
				tag := &ReviewHitType{
					ReviewHitID:     hit.ID,
					ViolationTypeID: vt.ID,
				}
				if err := tx.Create(tag).Error; err != nil {
					return fmt.Errorf("tagging hit: %w", err)
				}
			}
		}

		return nil
	})
	if err != nil {
		return fmt.Errorf("saving review: %w", translate(err))
	}

	return nil
}

// GetReview returns the review for (misuse, reviewer) with its hit
// entries in submission order and their violation types resolved.
func (s *store) GetReview(
	ctx context.Context, misuseID, reviewerID uint,
) (*Review, error) {
	var review Review
	if err := s.db.WithContext(ctx).
		Preload("Hits", orderByIdx).
		Where("misuse_id = ? AND reviewer_id = ?", misuseID, reviewerID).
		First(&review).Error; err != nil {
		return nil, fmt.Errorf("getting review: %w", translate(err))
	}

	for i := range review.Hits {
		hit := &review.Hits[i]

		var types []ViolationType
		if err := s.db.WithContext(ctx).
			Model(&ViolationType{}).
			Joins("JOIN review_hit_types rht ON rht.violation_type_id = violation_types.id").
			Where("rht.review_hit_id = ?", hit.ID).
			Order("violation_types.id ASC").
			Find(&types).Error; err != nil {
			return nil, fmt.Errorf("loading hit violation types: %w",
				translate(err))
		}

		hit.Types = types
	}

	return &review, nil
}

// --- Violation types ---

func (s *store) EnsureViolationType(
	ctx context.Context, name string,
) (*ViolationType, error) {
	vt := &ViolationType{Name: name}

	result := s.db.WithContext(ctx).
		Where("name = ?", name).
		FirstOrCreate(vt)
	if result.Error != nil {
		return nil, fmt.Errorf("ensuring violation type: %w",
			translate(result.Error))
	}

	return vt, nil
}

func (s *store) ListViolationTypes(
	ctx context.Context,
) ([]ViolationType, error) {
	var types []ViolationType
	if err := s.db.WithContext(ctx).
		Order("id ASC").
		Find(&types).Error; err != nil {
		return nil, fmt.Errorf("listing violation types: %w",
			translate(err))
	}

	return types, nil
}

func (s *store) GetViolationTypesByIDs(
	ctx context.Context, ids []uint,
) ([]ViolationType, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	var types []ViolationType
	if err := s.db.WithContext(ctx).
		Where("id IN ?", ids).
		Order("id ASC").
		Find(&types).Error; err != nil {
		return nil, fmt.Errorf("getting violation types: %w",
			translate(err))
	}

	return types, nil
}

// SeedViolationTypes upserts the configured violation-type catalog.
func (s *store) SeedViolationTypes(
	ctx context.Context, names []string,
) error {
	for _, name := range names {
		if _, err := s.EnsureViolationType(ctx, name); err != nil {
			return fmt.Errorf("seeding violation type %q: %w", name, err)
		}
	}

	if len(names) > 0 {
		s.log.WithField("count", len(names)).
			Info("Seeded violation types from config")
	}

	return nil
}

// SeedReviewers upserts the configured reviewers.
func (s *store) SeedReviewers(ctx context.Context, names []string) error {
	for _, name := range names {
		if _, err := s.EnsureReviewer(ctx, name); err != nil {
			return fmt.Errorf("seeding reviewer %q: %w", name, err)
		}
	}

	if len(names) > 0 {
		s.log.WithField("count", len(names)).
			Info("Seeded reviewers from config")
	}

	return nil
}

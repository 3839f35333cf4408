package store

import "time"

// Detector represents one misuse detector, created on first upload.
type Detector struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// Run represents one execution of a detector against a project version
// within an experiment. The four-part key is unique; re-uploading the
// same tuple replaces the row and its findings.
type Run struct {
	ID               uint   `gorm:"primaryKey"`
	Experiment       string `gorm:"not null;uniqueIndex:idx_runs_exp_det_proj_ver"`
	DetectorID       uint   `gorm:"not null;uniqueIndex:idx_runs_exp_det_proj_ver"`
	Project          string `gorm:"not null;uniqueIndex:idx_runs_exp_det_proj_ver"`
	Version          string `gorm:"not null;uniqueIndex:idx_runs_exp_det_proj_ver"`
	Result           string
	Runtime          float64
	NumberOfFindings int

	CreatedAt time.Time
	UpdatedAt time.Time
}

// Finding is one reported hit of a Run. Rank preserves upload order.
// Detector-specific columns are carried verbatim as serialized JSON.
// MisuseID is set when the matching policy linked the finding to a
// catalog misuse; unmatched findings are valid standalone rows.
type Finding struct {
	ID          uint   `gorm:"primaryKey"`
	RunID       uint   `gorm:"not null;index"`
	Rank        int    `gorm:"not null"`
	MisuseID    *uint  `gorm:"index"`
	ColumnsJSON string `gorm:"type:text"`
}

// Misuse is a catalog entry keyed by (project, version, key). Rows may
// start as placeholders holding only the key fields and be enriched by
// a later metadata upload.
type Misuse struct {
	ID             uint   `gorm:"primaryKey"`
	Project        string `gorm:"not null;uniqueIndex:idx_misuses_proj_ver_key"`
	Version        string `gorm:"not null;uniqueIndex:idx_misuses_proj_ver_key"`
	Key            string `gorm:"not null;uniqueIndex:idx_misuses_proj_ver_key"`
	Description    string `gorm:"type:text"`
	FixDescription string `gorm:"type:text"`
	File           string
	Method         string
	DiffURL        string

	Snippets []Snippet `gorm:"foreignKey:MisuseID"`
	Patterns []Pattern `gorm:"foreignKey:MisuseID"`

	// Resolved from misuse_violation_types rows on read.
	ViolationTypes []ViolationType `gorm:"-"`
}

// MisuseViolationType tags a misuse with a defect category.
type MisuseViolationType struct {
	MisuseID        uint `gorm:"primaryKey;autoIncrement:false"`
	ViolationTypeID uint `gorm:"primaryKey;autoIncrement:false"`
}

// Snippet is an ordered code excerpt attached to a misuse. Curated
// metadata snippets and snippets shipped with finding uploads live in
// separate rows; FromFinding marks the latter, and metadata rows take
// precedence on read.
type Snippet struct {
	ID          uint `gorm:"primaryKey"`
	MisuseID    uint `gorm:"not null;index"`
	Idx         int  `gorm:"not null"`
	Line        int
	Code        string `gorm:"type:text"`
	FromFinding bool   `gorm:"not null;default:false"`
}

// Pattern is an ordered correctness pattern attached to a misuse.
type Pattern struct {
	ID       uint `gorm:"primaryKey"`
	MisuseID uint `gorm:"not null;index"`
	Idx      int  `gorm:"not null"`
	Name     string
	Code     string `gorm:"type:text"`
	Line     int
}

// ViolationType is a named defect category, referenced from misuse
// metadata and from review hit entries.
type ViolationType struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// Reviewer identifies a human reviewer.
type Reviewer struct {
	ID   uint   `gorm:"primaryKey" json:"id"`
	Name string `gorm:"uniqueIndex;not null" json:"name"`
}

// Review holds one reviewer's current judgment of one misuse.
// Resubmission replaces the row and all its hits in full.
type Review struct {
	ID         uint   `gorm:"primaryKey"`
	MisuseID   uint   `gorm:"not null;uniqueIndex:idx_reviews_misuse_reviewer"`
	ReviewerID uint   `gorm:"not null;uniqueIndex:idx_reviews_misuse_reviewer"`
	Comment    string `gorm:"type:text"`

	Hits []ReviewHit `gorm:"foreignKey:ReviewID"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

// ReviewHit is one per-candidate-hit decision entry of a Review.
// Idx preserves submission order.
type ReviewHit struct {
	ID       uint   `gorm:"primaryKey"`
	ReviewID uint   `gorm:"not null;index"`
	Idx      int    `gorm:"not null"`
	Decision string `gorm:"not null"`

	// Resolved from review_hit_types rows on read.
	Types []ViolationType `gorm:"-"`
}

// ReviewHitType tags a review hit entry with a defect category.
type ReviewHitType struct {
	ReviewHitID     uint `gorm:"primaryKey;autoIncrement:false"`
	ViolationTypeID uint `gorm:"primaryKey;autoIncrement:false"`
}

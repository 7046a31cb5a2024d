package model

import "time"

// EvidenceType is the study methodology of an evidence record.
type EvidenceType string

const (
	EvidenceAnecdotal       EvidenceType = "anecdotal"
	EvidenceCaseStudy       EvidenceType = "case-study"
	EvidenceCommunityLed    EvidenceType = "community-led-research"
	EvidenceEvaluation      EvidenceType = "evaluation-report"
	EvidenceLongitudinal    EvidenceType = "longitudinal"
	EvidenceQuasiExperiment EvidenceType = "quasi-experimental"
	EvidenceRCT             EvidenceType = "rct"
)

// rigorRanks is the fixed ordinal methodology ranking used by the
// evidence-strength signal. MaxRigor is the top of the scale.
var rigorRanks = map[EvidenceType]int{
	EvidenceAnecdotal:       1,
	EvidenceCaseStudy:       1,
	EvidenceCommunityLed:    2,
	EvidenceEvaluation:      2,
	EvidenceLongitudinal:    3,
	EvidenceQuasiExperiment: 4,
	EvidenceRCT:             5,
}

// MaxRigor is the highest methodology rigor rank.
const MaxRigor = 5

// Rigor returns the ordinal methodology rank for t, or 1 for unknown types.
func (t EvidenceType) Rigor() int {
	if r, ok := rigorRanks[t]; ok {
		return r
	}
	return 1
}

// Evidence is a study or report linked to zero or more interventions.
// Its consent level tightens only through the consent ledger (revocation
// or expiry); relaxation requires a new explicit grant, never an in-place
// edit, so the struct carries no setter for it.
type Evidence struct {
	ID           string       `json:"id"`
	Title        string       `json:"title"`
	Type         EvidenceType `json:"evidence_type"`
	Methodology  string       `json:"methodology,omitempty"`
	SampleSize   *int         `json:"sample_size,omitempty"`
	Findings     string       `json:"findings,omitempty"`
	ConsentLevel ConsentLevel `json:"consent_level"`

	// CulturalSafety holds free-text cultural safety notes from the
	// contributing community.
	CulturalSafety string `json:"cultural_safety,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Outcome is a named measurable result (e.g. "reduced recidivism") linked
// to interventions and evidence via join tables.
type Outcome struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	OutcomeType string    `json:"outcome_type"`
	Description string    `json:"description,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

package model

import "time"

// InterventionType categorizes a youth-justice intervention.
type InterventionType string

const (
	TypePrevention          InterventionType = "prevention"
	TypeEarlyIntervention   InterventionType = "early-intervention"
	TypeDiversion           InterventionType = "diversion"
	TypeRestorative         InterventionType = "restorative"
	TypeTherapeutic         InterventionType = "therapeutic"
	TypeWraparound          InterventionType = "wraparound"
	TypeFamilyStrengthening InterventionType = "family-strengthening"
	TypeCulturalConnection  InterventionType = "cultural-connection"
	TypeEducationEmployment InterventionType = "education-employment"
	TypeJusticeReinvestment InterventionType = "justice-reinvestment"
	TypeCustodialReform     InterventionType = "custodial-reform"
	TypeCommunityLed        InterventionType = "community-led"
)

// ReviewStatus tracks the curation workflow. Rejected interventions are
// archived, not deleted, and are excluded from scoring.
type ReviewStatus string

const (
	ReviewPending  ReviewStatus = "pending"
	ReviewApproved ReviewStatus = "approved"
	ReviewRejected ReviewStatus = "rejected"
)

// HarmRiskLevel is the curated harm classification for an intervention.
type HarmRiskLevel string

const (
	HarmLow            HarmRiskLevel = "low"
	HarmMedium         HarmRiskLevel = "medium"
	HarmHigh           HarmRiskLevel = "high"
	HarmCulturalReview HarmRiskLevel = "requires-cultural-review"
	HarmUnknown        HarmRiskLevel = ""
)

// ReplicationReadiness classifies how transferable an intervention is.
type ReplicationReadiness string

const (
	ReplicationNotReady         ReplicationReadiness = "not-ready"
	ReplicationWithSupport      ReplicationReadiness = "ready-with-support"
	ReplicationReady            ReplicationReadiness = "ready"
	ReplicationCommunityGated   ReplicationReadiness = "community-authority-required"
	ReplicationUnknown          ReplicationReadiness = ""
)

// FundingStatus tracks the intervention's current funding position. Used by
// the gap reporter: unfunded and at-risk interventions weigh heavier.
type FundingStatus string

const (
	FundingUnfunded       FundingStatus = "unfunded"
	FundingPilot          FundingStatus = "pilot"
	FundingEstablished    FundingStatus = "established"
	FundingOversubscribed FundingStatus = "oversubscribed"
	FundingAtRisk         FundingStatus = "at-risk"
	FundingUnknown        FundingStatus = ""
)

// Intervention is the scored entity. The five cached signal fields and
// PortfolioScore are derived columns owned by the scoring engine and are
// only ever written as a unit during a recompute; everything else is owned
// by the ingestion/curation workflow.
type Intervention struct {
	ID          string           `json:"id"`
	Name        string           `json:"name"`
	Type        InterventionType `json:"type"`
	Description string           `json:"description,omitempty"`

	Geography    []string `json:"geography"`
	TargetCohort []string `json:"target_cohort,omitempty"`

	ConsentLevel      ConsentLevel `json:"consent_level"`
	CulturalAuthority bool         `json:"cultural_authority"`
	ReviewStatus      ReviewStatus `json:"review_status"`

	Risks         string        `json:"risks,omitempty"`
	HarmRiskLevel HarmRiskLevel `json:"harm_risk_level,omitempty"`

	OperatingOrganization string               `json:"operating_organization,omitempty"`
	OrgVerified           bool                 `json:"org_verified"`
	YearsOperating        *int                 `json:"years_operating,omitempty"`
	ReplicationReadiness  ReplicationReadiness `json:"replication_readiness,omitempty"`
	FundingStatus         FundingStatus        `json:"funding_status,omitempty"`

	// Aggregate counts consumed from external collaborators. The engine
	// never reads their raw content.
	NegativeMediaCount   int `json:"negative_media_count"`
	VerifiedContributors int `json:"verified_contributors"`

	// Cached derived columns, nil until the first recompute.
	Signals        *Signals `json:"signals,omitempty"`
	PortfolioScore *float64 `json:"portfolio_score,omitempty"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Archived reports whether the intervention is excluded from scoring.
func (i *Intervention) Archived() bool {
	return i.ReviewStatus == ReviewRejected
}

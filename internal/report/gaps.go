// Package report holds the read-only consumers of the scored portfolio:
// the evidence-gap reporter, the side-by-side comparison reporter, and the
// consent-gated spreadsheet export. Everything here filters through the
// consent gate; a restricted entity is omitted, never an error.
package report

import (
	"context"
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/portfolio"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// CoverageGap is one under-served geography or intervention type.
type CoverageGap struct {
	Dimension string  `json:"dimension"` // "geography" or "type"
	Key       string  `json:"key"`
	Count     int     `json:"count"`
	Unfunded  int     `json:"unfunded"`
	GapScore  float64 `json:"gap_score"` // 0 = covered, 1 = nothing there
}

// GapCandidate is an intervention worth evidence investment: thin evidence
// base, non-trivial upside.
type GapCandidate struct {
	InterventionID   string                 `json:"intervention_id"`
	Name             string                 `json:"name"`
	Type             model.InterventionType `json:"type"`
	Geography        []string               `json:"geography"`
	EvidenceStrength float64                `json:"evidence_strength"`
	OptionValue      float64                `json:"option_value"`
	FundingStatus    model.FundingStatus    `json:"funding_status,omitempty"`
}

// GapReport is the output of one gap query.
type GapReport struct {
	Geography  []CoverageGap  `json:"geography"`
	Types      []CoverageGap  `json:"types"`
	Candidates []GapCandidate `json:"candidates"`

	GeneratedAt time.Time `json:"generated_at"`
}

// GapReporter ranks evidence gaps across the scored portfolio.
type GapReporter struct {
	store store.Store
	gate  *consent.Gate
	log   *zap.Logger

	// coverageTarget is the per-dimension intervention count at which a
	// gap score reaches zero. An unfunded or at-risk intervention covers
	// only half a unit, so a gap backed by unfunded work weighs double.
	coverageTarget   int
	optionValueFloor float64
}

// NewGapReporter returns a GapReporter.
func NewGapReporter(st store.Store, gate *consent.Gate, coverageTarget int, optionValueFloor float64, log *zap.Logger) *GapReporter {
	if coverageTarget <= 0 {
		coverageTarget = 10
	}
	return &GapReporter{
		store:            st,
		gate:             gate,
		log:              log.Named("gaps"),
		coverageTarget:   coverageTarget,
		optionValueFloor: optionValueFloor,
	}
}

// Find builds a gap report over the interventions the caller may read.
// Restricted interventions are excluded from both the coverage counts and
// the candidate list, so a public report never reflects embargoed data.
func (r *GapReporter) Find(ctx context.Context, caller model.Caller, f store.InterventionFilter) (*GapReport, error) {
	rows, err := r.store.CurrentScores(ctx, f)
	if err != nil {
		return nil, err
	}

	visible := make([]store.ScoreRow, 0, len(rows))
	for _, row := range rows {
		dec, err := r.gate.Check(ctx, caller, model.ActionRead, model.EntityIntervention, row.Intervention.ID)
		if err != nil {
			return nil, err
		}
		if dec.Allowed {
			visible = append(visible, row)
		}
	}

	rep := &GapReport{
		Geography:   r.coverage("geography", visible, func(iv *model.Intervention) []string { return iv.Geography }),
		Types:       r.coverage("type", visible, func(iv *model.Intervention) []string { return []string{string(iv.Type)} }),
		Candidates:  r.candidates(visible),
		GeneratedAt: time.Now().UTC(),
	}
	return rep, nil
}

func underfunded(s model.FundingStatus) bool {
	return s == model.FundingUnfunded || s == model.FundingAtRisk
}

func (r *GapReporter) coverage(dimension string, rows []store.ScoreRow, keys func(*model.Intervention) []string) []CoverageGap {
	type bucket struct{ count, unfunded int }
	buckets := map[string]*bucket{}

	for _, row := range rows {
		for _, k := range keys(&row.Intervention) {
			if k == "" {
				continue
			}
			b := buckets[k]
			if b == nil {
				b = &bucket{}
				buckets[k] = b
			}
			b.count++
			if underfunded(row.Intervention.FundingStatus) {
				b.unfunded++
			}
		}
	}

	out := make([]CoverageGap, 0, len(buckets))
	for k, b := range buckets {
		covered := float64(b.count-b.unfunded) + 0.5*float64(b.unfunded)
		gap := (float64(r.coverageTarget) - covered) / float64(r.coverageTarget)
		if gap < 0 {
			gap = 0
		}
		out = append(out, CoverageGap{
			Dimension: dimension,
			Key:       k,
			Count:     b.count,
			Unfunded:  b.unfunded,
			GapScore:  gap,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].GapScore != out[j].GapScore {
			return out[i].GapScore > out[j].GapScore
		}
		return out[i].Key < out[j].Key
	})
	return out
}

// candidates ranks scored interventions whose evidence is thin but whose
// option value clears the floor: the "fund an evaluation here" list.
func (r *GapReporter) candidates(rows []store.ScoreRow) []GapCandidate {
	var out []GapCandidate
	for _, row := range rows {
		if row.Score == nil {
			continue
		}
		s := row.Score.Signals
		if s.OptionValue < r.optionValueFloor {
			continue
		}
		out = append(out, GapCandidate{
			InterventionID:   row.Intervention.ID,
			Name:             row.Intervention.Name,
			Type:             row.Intervention.Type,
			Geography:        row.Intervention.Geography,
			EvidenceStrength: s.EvidenceStrength,
			OptionValue:      s.OptionValue,
			FundingStatus:    row.Intervention.FundingStatus,
		})
	}

	sort.Slice(out, func(i, j int) bool {
		if out[i].EvidenceStrength != out[j].EvidenceStrength {
			return out[i].EvidenceStrength < out[j].EvidenceStrength
		}
		return out[i].OptionValue > out[j].OptionValue
	})
	return out
}

// Overview builds the funder dashboard summary over the caller-visible
// portfolio.
func (r *GapReporter) Overview(ctx context.Context, caller model.Caller, f store.InterventionFilter) (*portfolio.Analysis, error) {
	rows, err := r.store.CurrentScores(ctx, f)
	if err != nil {
		return nil, err
	}

	visible := make([]store.ScoreRow, 0, len(rows))
	for _, row := range rows {
		dec, err := r.gate.Check(ctx, caller, model.ActionRead, model.EntityIntervention, row.Intervention.ID)
		if err != nil {
			return nil, err
		}
		if dec.Allowed {
			visible = append(visible, row)
		}
	}

	a := portfolio.Analyze(visible)
	return &a, nil
}

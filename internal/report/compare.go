package report

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/alerr"
	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// ComparisonRow is one intervention in a side-by-side comparison. For a
// restricted intervention only the ID and the denial reason are populated;
// under anonymous-only consent the attribution fields (name, operating
// organization) are blanked while the scores remain. Comparison is
// advisory, so partial rows are valid output, never an error.
type ComparisonRow struct {
	InterventionID string           `json:"intervention_id"`
	Restricted     bool             `json:"restricted,omitempty"`
	Reason         alerr.ReasonCode `json:"reason,omitempty"`

	Name                  string                 `json:"name,omitempty"`
	OperatingOrganization string                 `json:"operating_organization,omitempty"`
	Type                  model.InterventionType `json:"type,omitempty"`
	Geography             []string               `json:"geography,omitempty"`
	FundingStatus         model.FundingStatus    `json:"funding_status,omitempty"`

	Signals        *model.Signals       `json:"signals,omitempty"`
	Composite      *float64             `json:"composite,omitempty"`
	Recommendation model.Recommendation `json:"recommendation,omitempty"`
	EvidenceCount  int                  `json:"evidence_count,omitempty"`
	ScoredAt       *time.Time           `json:"scored_at,omitempty"`
}

// Comparer builds side-by-side comparisons of scored interventions.
type Comparer struct {
	store store.Store
	gate  *consent.Gate
	log   *zap.Logger
}

// NewComparer returns a Comparer.
func NewComparer(st store.Store, gate *consent.Gate, log *zap.Logger) *Comparer {
	return &Comparer{store: st, gate: gate, log: log.Named("compare")}
}

// Compare returns one row per requested ID, in request order. A caller
// without access to an intervention gets a restricted stub for it; an
// unknown ID gets the same stub, so the comparison cannot be used to probe
// for existence.
func (c *Comparer) Compare(ctx context.Context, caller model.Caller, ids []string) ([]ComparisonRow, error) {
	rows := make([]ComparisonRow, 0, len(ids))

	for _, id := range ids {
		dec, err := c.gate.Check(ctx, caller, model.ActionRead, model.EntityIntervention, id)
		if err != nil {
			return nil, err
		}
		if !dec.Allowed {
			rows = append(rows, ComparisonRow{
				InterventionID: id,
				Restricted:     true,
				Reason:         dec.Reason,
			})
			continue
		}

		iv, err := c.store.GetIntervention(ctx, id)
		if err != nil {
			if alerr.IsNotFound(err) {
				// Granted consent for a since-deleted row; same stub.
				rows = append(rows, ComparisonRow{
					InterventionID: id,
					Restricted:     true,
					Reason:         alerr.ReasonNoConsent,
				})
				continue
			}
			return nil, err
		}

		row := ComparisonRow{
			InterventionID: id,
			Type:           iv.Type,
			Geography:      iv.Geography,
			FundingStatus:  iv.FundingStatus,
		}
		if dec.Record == nil || dec.Record.Level != model.ConsentAnonymousOnly {
			row.Name = iv.Name
			row.OperatingOrganization = iv.OperatingOrganization
		}

		score, err := c.store.CurrentScore(ctx, id)
		if err != nil && !alerr.IsNotFound(err) {
			return nil, err
		}
		if score != nil {
			row.Signals = &score.Signals
			row.Composite = &score.Composite
			row.Recommendation = score.Recommendation
			row.EvidenceCount = score.EvidenceCount
			t := score.ScoredAt
			row.ScoredAt = &t
		}

		rows = append(rows, row)
	}

	return rows, nil
}

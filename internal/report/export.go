package report

import (
	"context"
	"io"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"
	"go.uber.org/zap"

	"github.com/justicehub-au/alma-engine/internal/consent"
	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

// Exporter writes the scored portfolio to a spreadsheet. Export is a
// distinct consent action from read: an entity readable by the caller may
// still be excluded here if its consent does not permit export.
type Exporter struct {
	store store.Store
	gate  *consent.Gate
	log   *zap.Logger
}

// NewExporter returns an Exporter.
func NewExporter(st store.Store, gate *consent.Gate, log *zap.Logger) *Exporter {
	return &Exporter{store: st, gate: gate, log: log.Named("export")}
}

var exportHeader = []string{
	"intervention_id", "name", "type", "geography", "funding_status",
	"evidence_strength", "harm_risk", "implementation_capability",
	"community_authority", "option_value", "composite", "recommendation",
	"evidence_count", "outcome_count", "scored_at",
}

// Portfolio writes one sheet of export-permitted interventions to w in
// xlsx format and returns how many rows were written.
func (e *Exporter) Portfolio(ctx context.Context, caller model.Caller, f store.InterventionFilter, w io.Writer) (int, error) {
	rows, err := e.store.CurrentScores(ctx, f)
	if err != nil {
		return 0, err
	}

	file := xlsx.NewFile()
	sheet, err := file.AddSheet("Portfolio")
	if err != nil {
		return 0, eris.Wrap(err, "export: add sheet")
	}

	hr := sheet.AddRow()
	for _, h := range exportHeader {
		hr.AddCell().Value = h
	}

	written := 0
	skipped := 0
	for _, row := range rows {
		dec, err := e.gate.Check(ctx, caller, model.ActionExport, model.EntityIntervention, row.Intervention.ID)
		if err != nil {
			return 0, err
		}
		if !dec.Allowed {
			skipped++
			continue
		}

		name := row.Intervention.Name
		if dec.Record != nil && dec.Record.Level == model.ConsentAnonymousOnly {
			name = ""
		}

		xr := sheet.AddRow()
		xr.AddCell().Value = row.Intervention.ID
		xr.AddCell().Value = name
		xr.AddCell().Value = string(row.Intervention.Type)
		xr.AddCell().Value = strings.Join(row.Intervention.Geography, ", ")
		xr.AddCell().Value = string(row.Intervention.FundingStatus)

		if row.Score != nil {
			s := row.Score.Signals
			xr.AddCell().SetFloat(s.EvidenceStrength)
			xr.AddCell().SetFloat(s.HarmRisk)
			xr.AddCell().SetFloat(s.ImplementationCapability)
			xr.AddCell().SetFloat(s.CommunityAuthority)
			xr.AddCell().SetFloat(s.OptionValue)
			xr.AddCell().SetFloat(row.Score.Composite)
			xr.AddCell().Value = string(row.Score.Recommendation)
			xr.AddCell().SetInt(row.Score.EvidenceCount)
			xr.AddCell().SetInt(row.Score.OutcomeCount)
			xr.AddCell().Value = row.Score.ScoredAt.UTC().Format("2006-01-02 15:04:05")
		}
		written++
	}

	if err := file.Write(w); err != nil {
		return 0, eris.Wrap(err, "export: write workbook")
	}

	e.log.Info("portfolio exported",
		zap.Int("rows", written),
		zap.Int("skipped", skipped),
		zap.String("actor", caller.Actor))
	return written, nil
}

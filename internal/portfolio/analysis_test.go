package portfolio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/justicehub-au/alma-engine/internal/model"
	"github.com/justicehub-au/alma-engine/internal/store"
)

func row(id, name string, score *model.PortfolioScore) store.ScoreRow {
	return store.ScoreRow{
		Intervention: model.Intervention{ID: id, Name: name},
		Score:        score,
	}
}

func TestRankOrdersByCompositeThenAuthorityThenRecency(t *testing.T) {
	earlier := time.Now().Add(-time.Hour)
	later := time.Now()

	rows := []store.ScoreRow{
		row("iv-low", "Low", &model.PortfolioScore{Composite: 0.3, ScoredAt: later}),
		row("iv-unscored-b", "Beta", nil),
		row("iv-tie-old", "Tie Old", &model.PortfolioScore{
			Composite: 0.7,
			Signals:   model.Signals{CommunityAuthority: 0.5},
			ScoredAt:  earlier,
		}),
		row("iv-tie-new", "Tie New", &model.PortfolioScore{
			Composite: 0.7,
			Signals:   model.Signals{CommunityAuthority: 0.5},
			ScoredAt:  later,
		}),
		row("iv-tie-authority", "Tie Authority", &model.PortfolioScore{
			Composite: 0.7,
			Signals:   model.Signals{CommunityAuthority: 0.9},
			ScoredAt:  earlier,
		}),
		row("iv-unscored-a", "Alpha", nil),
	}

	Rank(rows)

	var order []string
	for _, r := range rows {
		order = append(order, r.Intervention.ID)
	}
	assert.Equal(t, []string{
		"iv-tie-authority", "iv-tie-new", "iv-tie-old",
		"iv-low", "iv-unscored-a", "iv-unscored-b",
	}, order)
}

func TestAnalyzeBucketsPortfolio(t *testing.T) {
	scoredAt := time.Now()

	rows := []store.ScoreRow{
		{
			Intervention: model.Intervention{ID: "iv-scale", FundingStatus: model.FundingEstablished},
			Score: &model.PortfolioScore{
				Composite:      0.8,
				Recommendation: model.RecScaleNow,
				Signals:        model.Signals{EvidenceStrength: 0.8},
				ScoredAt:       scoredAt,
			},
		},
		{
			Intervention: model.Intervention{ID: "iv-starved", FundingStatus: model.FundingUnfunded},
			Score: &model.PortfolioScore{
				Composite:      0.7,
				Recommendation: model.RecStrengthenEvidence,
				Signals:        model.Signals{EvidenceStrength: 0.7},
				ScoredAt:       scoredAt,
			},
		},
		{
			Intervention: model.Intervention{ID: "iv-risky"},
			Score: &model.PortfolioScore{
				Composite:      0.4,
				Recommendation: model.RecMitigateRisk,
				ScoredAt:       scoredAt,
			},
		},
		{
			Intervention: model.Intervention{ID: "iv-learn", FundingStatus: model.FundingPilot},
			Score: &model.PortfolioScore{
				Composite:      0.5,
				Recommendation: model.RecFundPilot,
				Signals:        model.Signals{EvidenceStrength: 0.1, OptionValue: 0.9},
				ScoredAt:       scoredAt,
			},
		},
		{Intervention: model.Intervention{ID: "iv-unscored"}},
	}

	a := Analyze(rows)

	assert.Equal(t, 5, a.Total)
	assert.Equal(t, 1, a.Unscored)
	assert.Equal(t, []string{"iv-scale"}, a.ReadyToScale)
	assert.Equal(t, []string{"iv-learn"}, a.PromisingPilots)
	assert.Equal(t, []string{"iv-starved"}, a.UnderfundedHighEvidence)
	assert.Equal(t, []string{"iv-risky"}, a.HighRiskFlagged)
	assert.Equal(t, []string{"iv-learn"}, a.LearningOpportunities)
	assert.Equal(t, 1, a.ByRecommendation[model.RecScaleNow])
	assert.InDelta(t, (0.8+0.7+0.4+0.5)/4, a.AverageComposite, 1e-9)
}

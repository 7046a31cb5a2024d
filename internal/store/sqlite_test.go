package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/justicehub-au/alma-engine/internal/model"
)

func sqliteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	st, err := NewSQLite(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })
	require.NoError(t, st.Migrate(context.Background()))
	return st
}

func TestEnsureWeightSetKeepsStoredVectorAndWarns(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	prev := zap.ReplaceGlobals(zap.New(core))
	defer prev()

	st := sqliteStore(t)
	ctx := context.Background()

	first, err := st.EnsureWeightSet(ctx, model.WeightSet{
		Name:                     "default-v1",
		EvidenceStrength:         0.30,
		HarmRisk:                 0.20,
		ImplementationCapability: 0.15,
		CommunityAuthority:       0.25,
		OptionValue:              0.10,
	})
	require.NoError(t, err)
	assert.Equal(t, 0, logs.Len())

	// Same name, different vector: the stored weights win, loudly.
	second, err := st.EnsureWeightSet(ctx, model.WeightSet{
		Name:                     "default-v1",
		EvidenceStrength:         0.40,
		HarmRisk:                 0.20,
		ImplementationCapability: 0.15,
		CommunityAuthority:       0.15,
		OptionValue:              0.10,
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)
	assert.InDelta(t, 0.30, second.EvidenceStrength, 1e-9)
	assert.InDelta(t, 0.25, second.CommunityAuthority, 1e-9)
	require.Equal(t, 1, logs.Len())
	assert.Contains(t, logs.All()[0].Message, "different weights")

	// Re-ensuring the same vector stays quiet.
	_, err = st.EnsureWeightSet(ctx, *first)
	require.NoError(t, err)
	assert.Equal(t, 1, logs.Len())
}

package issuance

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/btfi/collector/model"
)

// TestDeriveTokens_S3ReferenceCase is S3: with defaults, total_tar=
// 21540, avg_efficiency=3.78, quality_factor=1.0 yields ei=0.8 (clamped) and
// tokens_issued=17.232, split 12.924/0.8616/1.7232/1.7232.
func TestDeriveTokens_S3ReferenceCase(t *testing.T) {
	cfg := Default()

	ei, tokensBase, tokensAfterQuality, tokensIssued := deriveTokens(cfg, 21540, 1.0, 3.78)
	require.InDelta(t, 0.8, ei, 1e-9)
	require.InDelta(t, 0.001*0.8*21540, tokensBase, 1e-9)
	require.InDelta(t, tokensBase, tokensAfterQuality, 1e-9) // quality_factor=1
	require.InDelta(t, 17.232, tokensIssued, 1e-6)

	var l Ledger
	split, capReached := l.split(cfg, tokensIssued)
	require.False(t, capReached)
	require.InDelta(t, 12.924, split.Facilities, 1e-6)
	require.InDelta(t, 0.8616, split.Verifiers, 1e-6)
	require.InDelta(t, 1.7232, split.Treasury, 1e-6)
	require.InDelta(t, 1.7232, split.Team, 1e-6)
}

func TestLedger_TeamCapOverflowsToTreasury(t *testing.T) {
	cfg := Default()
	cfg.TeamCap = 1.0 // far below one epoch's team share

	l := Ledger{}
	split, capReached := l.split(cfg, 17.232)
	require.True(t, capReached)
	require.InDelta(t, 1.0, split.Team, 1e-9)
	// overflow (1.7232 - 1.0) folded into treasury on top of its own 10% share.
	require.InDelta(t, 1.7232+(1.7232-1.0), split.Treasury, 1e-9)
}

func samplesWith(n int, cfm, power, voc float64) []model.Sample {
	out := make([]model.Sample, n)
	for i := range out {
		out[i] = model.Sample{
			Fan: model.Fan{CFM: cfm, PowerW: power},
			Environment: model.Environment{TVOCPpb: voc},
		}
	}
	return out
}

func TestCompute_GroupsIntoFixedSizeEvents(t *testing.T) {
	cfg := Default()
	cfg.SamplesPerEvent = 60

	samples := append(samplesWith(60, 300, 30, 150), samplesWith(30, 300, 30, 150)...)

	var l Ledger
	issuance := l.Compute(cfg, samples)
	require.Len(t, issuance.Events, 2)
	require.Equal(t, 60, issuance.Events[0].SampleCount)
	require.Equal(t, 30, issuance.Events[1].SampleCount)
	require.True(t, issuance.Events[0].Valid)
	require.True(t, issuance.Events[1].Valid)
	require.Equal(t, 1.0, issuance.QualityFactor)
}

func TestCompute_FanOffEventIsInvalid(t *testing.T) {
	cfg := Default()
	samples := samplesWith(60, 2, 30, 150) // cfm_avg below cfg.CFMMin

	var l Ledger
	issuance := l.Compute(cfg, samples)
	require.Len(t, issuance.Events, 1)
	require.False(t, issuance.Events[0].Valid)
	require.Equal(t, "InvalidFanOff", issuance.Events[0].InvalidReason)
	require.Equal(t, 0.0, issuance.QualityFactor)
	require.Equal(t, 0.0, issuance.TokensIssued)
}

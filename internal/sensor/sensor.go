// Package sensor provides the Sensor Source capability set: one
// call returns one reading; a failed read falls back to last-known-good
// values with a per-field staleness flag rather than erroring.
package sensor

import (
	"context"

	"github.com/btfi/collector/model"
)

// Debug carries per-field staleness so the orchestrator/anomaly pipeline
// can see that a reading was a fallback, without that fact polluting the
// canonical Sample document itself.
type Debug struct {
	Stale map[string]bool
}

// Source is the narrow interface both Simulated and Physical satisfy,
// following the same narrow-interface split this module uses elsewhere for
// object storage, applied here to a read-only sensing capability.
type Source interface {
	ReadAll(ctx context.Context, pwmPercent int) (model.Environment, Debug, error)
}

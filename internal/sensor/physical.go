package sensor

import (
	"context"
	"sync"

	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/model"
)

// Bus is the narrow I2C-transaction interface Physical depends on, injecting
// a narrow collaborator interface rather than a concrete driver (mirroring
// the ObjectReader/ObjectWriter split used elsewhere in this module). A real
// bus implementation is out of scope; only the shape that lets Physical
// satisfy Source is implemented here.
type Bus interface {
	// ReadRaw returns the raw register bytes for addr, or an error if the
	// transaction failed (bus timeout, NACK, checksum mismatch, ...).
	ReadRaw(ctx context.Context, addr uint8) ([]byte, error)
}

// Decoder turns one device's raw register bytes into the portion of
// model.Environment it owns. Kept separate from Bus so a single Physical
// can aggregate several sensor chips behind one Source.
type Decoder interface {
	Decode(raw []byte) (model.Environment, error)
}

// Physical reads real sensor hardware over Bus, falling back to the last
// known-good reading (per field) when a transaction or decode fails, with
// Debug reporting which fields were served stale.
type Physical struct {
	bus Bus
	addr uint8
	decoder Decoder

	mu sync.Mutex
	lastGood model.Environment
	haveGood bool
}

// NewPhysical wires a bus handle and register address to a decoder; the I2C
// transaction plumbing itself belongs to the bus implementation, which is
// out of scope here.
func NewPhysical(bus Bus, addr uint8, decoder Decoder) *Physical {
	return &Physical{bus: bus, addr: addr, decoder: decoder}
}

func (p *Physical) ReadAll(ctx context.Context, _ int) (model.Environment, Debug, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	raw, err := p.bus.ReadRaw(ctx, p.addr)
	if err != nil {
		return p.fallback()
	}
	env, err := p.decoder.Decode(raw)
	if err != nil {
		return p.fallback()
	}

	p.lastGood = env
	p.haveGood = true
	return env, Debug{Stale: map[string]bool{}}, nil
}

// fallback serves the last known-good reading with every field flagged
// stale; a cold start with no prior reading has nothing to fall back to.
func (p *Physical) fallback() (model.Environment, Debug, error) {
	if !p.haveGood {
		return model.Environment{}, Debug{Stale: map[string]bool{}}, errs.ErrSensorReadFailed
	}
	stale := map[string]bool{
		"tvoc_ppb": true, "eco2_ppm": true, "pm25_ugm3": true,
		"temp_c": true, "humidity_pct": true, "dp_pa": true,
	}
	return p.lastGood, Debug{Stale: stale}, nil
}

package uplink

import (
	"time"

	"github.com/btfi/collector/model"
)

// pendingSample is one queued sample work item.
type pendingSample struct {
	sample model.Sample
	attempts int
	lastAttempt time.Time
}

// pendingEpoch is one queued epoch work item, unique by EpochID.
type pendingEpoch struct {
	epoch model.Epoch
	attempts int
	lastAttempt time.Time
}

// offlineQueue is the durable-in-memory buffer backing Connected-only
// eager sends: samples evict oldest-first on overflow, epochs
// are upserted by epoch_id and evict oldest-first on overflow.
type offlineQueue struct {
	sampleCap int
	epochCap int

	samples []pendingSample
	epochs []pendingEpoch
}

func newOfflineQueue(sampleCap, epochCap int) *offlineQueue {
	return &offlineQueue{sampleCap: sampleCap, epochCap: epochCap}
}

// pushSample appends a sample, dropping the oldest once at capacity.
func (q *offlineQueue) pushSample(s model.Sample) {
	q.samples = append(q.samples, pendingSample{sample: s})
	if len(q.samples) > q.sampleCap {
		q.samples = q.samples[len(q.samples)-q.sampleCap:]
	}
}

// pushEpoch upserts by epoch_id, dropping the oldest distinct epoch once at
// capacity to make room for a genuinely new one.
func (q *offlineQueue) pushEpoch(e model.Epoch) {
	for i := range q.epochs {
		if q.epochs[i].epoch.EpochID == e.EpochID {
			q.epochs[i].epoch = e
			return
		}
	}
	if len(q.epochs) >= q.epochCap {
		q.epochs = q.epochs[1:]
	}
	q.epochs = append(q.epochs, pendingEpoch{epoch: e})
}

func (q *offlineQueue) sampleCount() int { return len(q.samples) }
func (q *offlineQueue) epochCount() int { return len(q.epochs) }

// popSamples removes and returns up to n samples from the front (FIFO).
func (q *offlineQueue) popSamples(n int) []model.Sample {
	if n > len(q.samples) {
		n = len(q.samples)
	}
	out := make([]model.Sample, n)
	for i := 0; i < n; i++ {
		out[i] = q.samples[i].sample
	}
	q.samples = q.samples[n:]
	return out
}

// popEpochs removes and returns up to n epochs from the front (FIFO).
func (q *offlineQueue) popEpochs(n int) []model.Epoch {
	if n > len(q.epochs) {
		n = len(q.epochs)
	}
	out := make([]model.Epoch, n)
	for i := 0; i < n; i++ {
		out[i] = q.epochs[i].epoch
	}
	q.epochs = q.epochs[n:]
	return out
}

// requeueSampleFront puts a sample back at the front after a failed send.
func (q *offlineQueue) requeueSampleFront(s model.Sample) {
	q.samples = append([]pendingSample{{sample: s}}, q.samples...)
	if len(q.samples) > q.sampleCap {
		q.samples = q.samples[:q.sampleCap]
	}
}

// requeueEpochFront puts an epoch back at the front after a failed send.
func (q *offlineQueue) requeueEpochFront(e model.Epoch) {
	q.epochs = append([]pendingEpoch{{epoch: e}}, q.epochs...)
	if len(q.epochs) > q.epochCap {
		q.epochs = q.epochs[:q.epochCap]
	}
}

// Package uplink submits samples and epochs to the verifier backend over
// HTTP, buffering locally whenever the backend is unreachable.
package uplink

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/btfi/collector/internal/canon"
	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/internal/obslog"
	"github.com/btfi/collector/model"
)

// Config controls endpoints, cadence, and retry shape.
type Config struct {
	VerifierURL string
	SyncInterval time.Duration
	RequestTimeout time.Duration
	BackoffInit time.Duration
	BackoffMax time.Duration
	SampleQueueCap int
	EpochQueueCap int
	SamplesPerDrain int
	EpochsPerDrain int
}

// DefaultConfig matches stated defaults.
func DefaultConfig(verifierURL string) Config {
	return Config{
		VerifierURL: verifierURL,
		SyncInterval: 30 * time.Second,
		RequestTimeout: 5 * time.Second,
		BackoffInit: time.Second,
		BackoffMax: 300 * time.Second,
		SampleQueueCap: 10000,
		EpochQueueCap: 100,
		SamplesPerDrain: 50,
		EpochsPerDrain: 10,
	}
}

// VerificationRecord is what the background sync loop records locally for
// every epoch it successfully hands off to the verifier.
type VerificationRecord struct {
	EpochID string
	Status int
	Body string
	ReceivedAt time.Time
}

// EpochCallback is invoked once per epoch the background loop successfully
// drains, after its VerificationRecord is recorded.
type EpochCallback func(model.Epoch, VerificationRecord)

// Poster is the HTTP capability the uplink depends on; *http.Client
// satisfies it directly, and tests substitute a fake.
type Poster interface {
	Do(req *http.Request) (*http.Response, error)
}

// Uplink drives the verifier connection state machine: eager sends while
// Connected, an offline queue otherwise, and a background loop that
// periodically probes reachability and drains the queue.
type Uplink struct {
	cfg Config
	client Poster
	log *obslog.Logger
	onEpoch EpochCallback
	deviceID string

	mu sync.Mutex
	state model.VerifierSyncState
	retryCount int
	queue *offlineQueue
	records []VerificationRecord
}

// New constructs an Uplink in the Disconnected state. client is typically
// &http.Client{}; tests inject a fake Poster. deviceID is sent as the
// X-Device-ID header on every sample/epoch POST.
func New(cfg Config, client Poster, deviceID string, onEpoch EpochCallback) *Uplink {
	return &Uplink{
		cfg: cfg,
		client: client,
		log: obslog.With("uplink"),
		onEpoch: onEpoch,
		deviceID: deviceID,
		state: model.VerifierSyncState{ConnectionState: model.StateDisconnected},
		queue: newOfflineQueue(cfg.SampleQueueCap, cfg.EpochQueueCap),
	}
}

// State returns an immutable snapshot of the sync status.
func (u *Uplink) State() model.VerifierSyncState {
	u.mu.Lock()
	defer u.mu.Unlock()
	s := u.state
	s.SamplesPending = u.queue.sampleCount()
	s.EpochsPending = u.queue.epochCount()
	s.RetryCount = u.retryCount
	return s
}

// SubmitSample is the orchestrator's per-tick fan-out hook:
// eager send while Connected, otherwise buffered for the background loop.
func (u *Uplink) SubmitSample(ctx context.Context, s model.Sample) {
	u.mu.Lock()
	connected := u.state.ConnectionState == model.StateConnected
	u.mu.Unlock()

	if !connected {
		u.mu.Lock()
		u.queue.pushSample(s)
		u.mu.Unlock()
		return
	}
	if err := u.sendSample(ctx, s); err != nil {
		u.mu.Lock()
		u.queue.pushSample(s)
		u.mu.Unlock()
	}
}

// SubmitEpoch is the orchestrator's epoch-close fan-out hook. Same eager/
// buffered split as SubmitSample; a VerificationRecord is recorded and passed
// to the epoch callback once a send succeeds, whether now or later from the
// background loop.
func (u *Uplink) SubmitEpoch(ctx context.Context, e model.Epoch) {
	u.mu.Lock()
	connected := u.state.ConnectionState == model.StateConnected
	u.mu.Unlock()

	if !connected {
		u.mu.Lock()
		u.queue.pushEpoch(e)
		u.mu.Unlock()
		return
	}
	if rec, err := u.sendEpoch(ctx, e); err != nil {
		u.mu.Lock()
		u.queue.pushEpoch(e)
		u.mu.Unlock()
	} else {
		u.recordAndNotify(e, rec)
	}
}

func (u *Uplink) recordAndNotify(e model.Epoch, rec VerificationRecord) {
	u.mu.Lock()
	u.records = append(u.records, rec)
	u.mu.Unlock()
	if u.onEpoch != nil {
		u.onEpoch(e, rec)
	}
}

// sendSample attempts exactly one POST. On success it transitions to
// Connected and resets the retry counter; on failure it transitions to
// Error and records an exponential-backoff NextRetry time in the sync state.
// Nothing waits for NextRetry: the background loop retries on its fixed
// SyncInterval.
func (u *Uplink) sendSample(ctx context.Context, s model.Sample) error {
	_, _, err := u.postRaw(ctx, "/samples", s)
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.onSendFailure(err)
		return err
	}
	u.onSendSuccess()
	u.state.LastSampleSent = s.Timestamp
	u.state.SamplesSentTotal++
	return nil
}

func (u *Uplink) sendEpoch(ctx context.Context, e model.Epoch) (VerificationRecord, error) {
	status, body, err := u.postRaw(ctx, "/epochs", e)
	u.mu.Lock()
	defer u.mu.Unlock()
	if err != nil {
		u.onSendFailure(err)
		return VerificationRecord{}, err
	}
	u.onSendSuccess()
	u.state.LastEpochSent = e.EpochID
	u.state.EpochsSentTotal++
	return VerificationRecord{EpochID: e.EpochID, Status: status, Body: body, ReceivedAt: time.Now()}, nil
}

// onSendFailure must be called with mu held.
func (u *Uplink) onSendFailure(err error) {
	u.state.ConnectionState = model.StateError
	u.state.LastError = err.Error()
	u.retryCount++
	delay := u.cfg.BackoffInit << u.retryCount
	if delay <= 0 || delay > u.cfg.BackoffMax {
		delay = u.cfg.BackoffMax
	}
	u.state.NextRetry = time.Now().Add(delay).UTC().Format(time.RFC3339)
	u.log.Warnf("verifier send failed, retry %d in %s: %v", u.retryCount, delay, err)
}

// onSendSuccess must be called with mu held.
func (u *Uplink) onSendSuccess() {
	u.state.ConnectionState = model.StateConnected
	u.retryCount = 0
	u.state.LastError = ""
	u.state.NextRetry = ""
}

func (u *Uplink) postRaw(ctx context.Context, path string, v any) (int, string, error) {
	body, err := canon.Marshal(v)
	if err != nil {
		return 0, "", fmt.Errorf("uplink: canonicalize body: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, u.cfg.RequestTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.cfg.VerifierURL+path, bytes.NewReader(body))
	if err != nil {
		return 0, "", fmt.Errorf("uplink: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Device-ID", u.deviceID)

	resp, err := u.client.Do(req)
	if err != nil {
		return 0, "", errs.New(errs.CodeNetworkError, err)
	}
	defer resp.Body.Close()

	respBody, _ := io.ReadAll(resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return resp.StatusCode, string(respBody), errs.HTTPStatus(resp.StatusCode)
	}
	return resp.StatusCode, string(respBody), nil
}

// probe checks reachability with a cheap GET against the verifier's health
// path, independent of the send paths' POST bodies.
func (u *Uplink) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, u.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.cfg.VerifierURL+"/healthz", nil)
	if err != nil {
		return false
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode >= 200 && resp.StatusCode < 300
}

// Run drives the background sync loop until ctx is canceled. It is the
// only goroutine that drains the offline queue; eager sends from
// SubmitSample/SubmitEpoch run synchronously on the orchestrator's own
// goroutine and never touch this loop.
func (u *Uplink) Run(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(u.cfg.SyncInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return nil
			case <-ticker.C:
				u.syncOnce(ctx)
			}
		}
	})
	return g.Wait()
}

// syncOnce is one background-loop cycle: probe, then drain up to the
// per-cycle caps, stopping at the first failure within each kind.
func (u *Uplink) syncOnce(ctx context.Context) {
	if !u.probe(ctx) {
		u.mu.Lock()
		u.state.ConnectionState = model.StateReconnecting
		u.mu.Unlock()
		return
	}

	u.mu.Lock()
	u.state.ConnectionState = model.StateConnected
	u.mu.Unlock()

	u.mu.Lock()
	samples := u.queue.popSamples(u.cfg.SamplesPerDrain)
	u.mu.Unlock()
	for i, s := range samples {
		if err := u.sendSample(ctx, s); err != nil {
			u.mu.Lock()
			for j := len(samples) - 1; j >= i; j-- {
				u.queue.requeueSampleFront(samples[j])
			}
			u.mu.Unlock()
			return
		}
	}

	u.mu.Lock()
	epochs := u.queue.popEpochs(u.cfg.EpochsPerDrain)
	u.mu.Unlock()
	for i, e := range epochs {
		rec, err := u.sendEpoch(ctx, e)
		if err != nil {
			u.mu.Lock()
			for j := len(epochs) - 1; j >= i; j-- {
				u.queue.requeueEpochFront(epochs[j])
			}
			u.mu.Unlock()
			return
		}
		u.recordAndNotify(e, rec)
	}
}

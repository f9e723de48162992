package uplink

import (
	"context"
	"io"
	"errors"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/btfi/collector/model"
)

// fakePoster is a test double for Poster. unreachable makes every call fail
// as a network error; otherwise it returns status for every request.
type fakePoster struct {
	mu sync.Mutex
	unreachable bool
	status int
	calls []string
	deviceIDHeaders []string
}

func (f *fakePoster) Do(req *http.Request) (*http.Response, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, req.URL.Path)
	f.deviceIDHeaders = append(f.deviceIDHeaders, req.Header.Get("X-Device-ID"))
	if f.unreachable {
		return nil, errors.New("connection refused")
	}
	return &http.Response{
		StatusCode: f.status,
		Body: io.NopCloser(strings.NewReader("ok")),
	}, nil
}

func testConfig() Config {
	cfg := DefaultConfig("http://verifier.example")
	cfg.SyncInterval = 5 * time.Millisecond
	cfg.RequestTimeout = 50 * time.Millisecond
	return cfg
}

func sample(n uint64) model.Sample {
	return model.Sample{Timestamp: time.Now().UTC().Format(time.RFC3339), DeviceID: "btfi-test", SequenceNumber: n}
}

func TestUplink_BuffersWhileDisconnected(t *testing.T) {
	poster := &fakePoster{unreachable: true}
	u := New(testConfig(), poster, "btfi-test", nil)

	ctx := context.Background()
	u.SubmitSample(ctx, sample(1))
	u.SubmitSample(ctx, sample(2))
	u.SubmitSample(ctx, sample(3))
	u.SubmitEpoch(ctx, model.Epoch{EpochID: "epoch-1"})

	st := u.State()
	require.Equal(t, 3, st.SamplesPending)
	require.Equal(t, 1, st.EpochsPending)
	require.Contains(t, []model.ConnectionState{model.StateDisconnected, model.StateError}, st.ConnectionState)
}

func TestUplink_OfflineBufferingDrainsOnReachability(t *testing.T) {
	poster := &fakePoster{unreachable: true}
	u := New(testConfig(), poster, "btfi-test", nil)

	ctx := context.Background()
	u.SubmitSample(ctx, sample(1))
	u.SubmitSample(ctx, sample(2))
	u.SubmitSample(ctx, sample(3))
	u.SubmitEpoch(ctx, model.Epoch{EpochID: "epoch-1"})

	require.Equal(t, 3, u.State().SamplesPending)
	require.Equal(t, 1, u.State().EpochsPending)

	poster.mu.Lock()
	poster.unreachable = false
	poster.status = 200
	poster.mu.Unlock()

	u.syncOnce(ctx)

	st := u.State()
	require.Equal(t, 0, st.SamplesPending)
	require.Equal(t, 0, st.EpochsPending)
	require.EqualValues(t, 3, st.SamplesSentTotal)
	require.EqualValues(t, 1, st.EpochsSentTotal)
	require.Equal(t, model.StateConnected, st.ConnectionState)
}

func TestUplink_EagerSendWhenConnected(t *testing.T) {
	poster := &fakePoster{status: 200}
	u := New(testConfig(), poster, "btfi-test", nil)
	u.mu.Lock()
	u.state.ConnectionState = model.StateConnected
	u.mu.Unlock()

	u.SubmitSample(context.Background(), sample(1))

	st := u.State()
	require.Equal(t, 0, st.SamplesPending)
	require.EqualValues(t, 1, st.SamplesSentTotal)
}

func TestUplink_SendsDeviceIDHeaderOnPosts(t *testing.T) {
	poster := &fakePoster{status: 200}
	u := New(testConfig(), poster, "btfi-deadbeef", nil)
	u.mu.Lock()
	u.state.ConnectionState = model.StateConnected
	u.mu.Unlock()

	u.SubmitSample(context.Background(), sample(1))
	u.SubmitEpoch(context.Background(), model.Epoch{EpochID: "epoch-1"})

	poster.mu.Lock()
	defer poster.mu.Unlock()
	require.NotEmpty(t, poster.deviceIDHeaders)
	for _, h := range poster.deviceIDHeaders {
		require.Equal(t, "btfi-deadbeef", h)
	}
}

func TestUplink_EpochCallbackFiresOnEagerSend(t *testing.T) {
	poster := &fakePoster{status: 200}
	var got model.Epoch
	u := New(testConfig(), poster, "btfi-test", func(e model.Epoch, _ VerificationRecord) { got = e })
	u.mu.Lock()
	u.state.ConnectionState = model.StateConnected
	u.mu.Unlock()

	u.SubmitEpoch(context.Background(), model.Epoch{EpochID: "epoch-42"})

	require.Equal(t, "epoch-42", got.EpochID)
}

func TestUplink_RunStopsOnCancel(t *testing.T) {
	poster := &fakePoster{unreachable: true}
	u := New(testConfig(), poster, "btfi-test", nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- u.Run(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancellation")
	}
}

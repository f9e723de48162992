package model

// ConnectionState is the verifier uplink's state machine.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "Disconnected"
	StateConnecting ConnectionState = "Connecting"
	StateConnected ConnectionState = "Connected"
	StateReconnecting ConnectionState = "Reconnecting"
	StateError ConnectionState = "Error"
)

// VerifierSyncState is the uplink's externally-observable status snapshot.
type VerifierSyncState struct {
	ConnectionState ConnectionState `json:"connection_state"`
	LastSampleSent string `json:"last_sample_sent,omitempty"`
	LastEpochSent string `json:"last_epoch_sent,omitempty"`
	SamplesPending int `json:"samples_pending"`
	EpochsPending int `json:"epochs_pending"`
	SamplesSentTotal int64 `json:"samples_sent_total"`
	EpochsSentTotal int64 `json:"epochs_sent_total"`
	RetryCount int `json:"retry_count"`
	NextRetry string `json:"next_retry,omitempty"`
	LastError string `json:"last_error,omitempty"`
}

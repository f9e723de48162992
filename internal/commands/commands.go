// Package commands drives the remote command poll/execute/ack loop: pull
// queued commands from the verifier, dispatch each to a handler by type,
// and post back a CommandResult whether it succeeded or failed.
package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/btfi/collector/internal/config"
	"github.com/btfi/collector/internal/errs"
	"github.com/btfi/collector/internal/obslog"
	"github.com/btfi/collector/model"
)

// Poster is the HTTP capability this package depends on, the same narrow
// shape internal/uplink uses so *http.Client and test fakes both satisfy
// it without a wider interface.
type Poster interface {
	Do(req *http.Request) (*http.Response, error)
}

// SpeedTarget holds the fan duty target a set_speed command last set. Its
// Get method is handed to the orchestrator as a PWMGetter.
type SpeedTarget struct {
	v atomic.Int32
}

// NewSpeedTarget returns a SpeedTarget initialized to initial percent.
func NewSpeedTarget(initial int) *SpeedTarget {
	t := &SpeedTarget{}
	t.v.Store(int32(initial))
	return t
}

// Get returns the current target, 0-100.
func (t *SpeedTarget) Get() int { return int(t.v.Load()) }

// Set clamps v to [0,100] and stores it as the new target.
func (t *SpeedTarget) Set(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	t.v.Store(int32(v))
}

// Config controls polling cadence and request timeouts.
type Config struct {
	VerifierURL string
	PollInterval time.Duration
	RequestTimeout time.Duration
}

// DefaultConfig matches stated defaults.
func DefaultConfig(verifierURL string) Config {
	return Config{
		VerifierURL: verifierURL,
		PollInterval: 30 * time.Second,
		RequestTimeout: 5 * time.Second,
	}
}

// Listener polls for queued commands and acks each one after execution.
type Listener struct {
	cfg Config
	client Poster
	log *obslog.Logger

	speed *SpeedTarget
	cfgMgr *config.Manager
}

// New constructs a Listener. speed receives set_speed targets; cfgMgr is
// nil-safe and only consulted by commands that touch configuration.
func New(cfg Config, client Poster, speed *SpeedTarget, cfgMgr *config.Manager) *Listener {
	return &Listener{
		cfg: cfg,
		client: client,
		log: obslog.With("commands"),
		speed: speed,
		cfgMgr: cfgMgr,
	}
}

// Run polls on cfg.PollInterval until ctx is canceled. Each cycle fetches
// at most one batch of queued commands, executes them in order, and acks
// each individually so a crash mid-batch doesn't replay already-handled
// commands.
func (l *Listener) Run(ctx context.Context) error {
	ticker := time.NewTicker(l.cfg.PollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			l.pollOnce(ctx)
		}
	}
}

func (l *Listener) pollOnce(ctx context.Context) {
	cmds, err := l.fetch(ctx)
	if err != nil {
		l.log.Warnf("command poll failed: %v", err)
		return
	}
	for _, cmd := range cmds {
		result := l.execute(cmd)
		if err := l.ack(ctx, result); err != nil {
			l.log.Warnf("command ack failed for %s: %v", cmd.ID, err)
		}
	}
}

func (l *Listener) fetch(ctx context.Context) ([]model.Command, error) {
	ctx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, l.cfg.VerifierURL+"/commands", nil)
	if err != nil {
		return nil, fmt.Errorf("commands: build poll request: %w", err)
	}
	resp, err := l.client.Do(req)
	if err != nil {
		return nil, errs.New(errs.CodeNetworkError, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, errs.HTTPStatus(resp.StatusCode)
	}
	var cmds []model.Command
	if err := json.NewDecoder(resp.Body).Decode(&cmds); err != nil {
		return nil, fmt.Errorf("commands: decode poll response: %w", err)
	}
	return cmds, nil
}

func (l *Listener) ack(ctx context.Context, result model.CommandResult) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("commands: marshal ack: %w", err)
	}
	ctx, cancel := context.WithTimeout(ctx, l.cfg.RequestTimeout)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, l.cfg.VerifierURL+"/commands/ack", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("commands: build ack request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := l.client.Do(req)
	if err != nil {
		return errs.New(errs.CodeNetworkError, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return errs.HTTPStatus(resp.StatusCode)
	}
	return nil
}

// execute dispatches cmd to its handler and always returns a result, never
// an error, since an execution failure is itself a reportable outcome.
func (l *Listener) execute(cmd model.Command) model.CommandResult {
	now := time.Now().UTC().Format(time.RFC3339)
	handler, ok := handlers[cmd.Type]
	if !ok {
		l.log.Warnf("rejecting unknown command type %q (id=%s)", cmd.Type, cmd.ID)
		return model.CommandResult{
			CommandID: cmd.ID,
			Status: model.CommandFailed,
			Detail: errs.New(errs.CodeCommandUnknown, errs.ErrCommandUnknown).Error(),
			CompletedAt: now,
		}
	}

	detail, err := handler(l, cmd)
	status := model.CommandAccepted
	if err != nil {
		status = model.CommandFailed
		detail = err.Error()
	}
	return model.CommandResult{CommandID: cmd.ID, Status: status, Detail: detail, CompletedAt: now}
}

// handlers maps each recognized command type to its executor. A table
// rather than a switch so adding a command type is one entry.
var handlers = map[model.CommandType]func(*Listener, model.Command) (string, error){
	model.CommandSetSpeed: (*Listener).handleSetSpeed,
	model.CommandType("fan"): (*Listener).handleSetSpeed,
	model.CommandCheckUpdate: (*Listener).handleCheckUpdate,
	model.CommandPerformUpdate: (*Listener).handlePerformUpdate,
}

func (l *Listener) handleSetSpeed(cmd model.Command) (string, error) {
	raw, ok := cmd.Params["percent"]
	if !ok {
		return "", fmt.Errorf("set_speed: missing percent parameter")
	}
	pct, ok := raw.(float64)
	if !ok {
		return "", fmt.Errorf("set_speed: percent must be a number")
	}
	l.speed.Set(int(pct))
	return fmt.Sprintf("fan target set to %d%%", l.speed.Get()), nil
}

// handleCheckUpdate and handlePerformUpdate both ack as accepted and
// forwarded; OTA itself is handled by a scheduler outside this process.
func (l *Listener) handleCheckUpdate(model.Command) (string, error) {
	version := "unknown"
	if l.cfgMgr != nil {
		version = fmt.Sprintf("%d", l.cfgMgr.Current().Version)
	}
	return fmt.Sprintf("accepted, forwarded to update scheduler (config version %s)", version), nil
}

func (l *Listener) handlePerformUpdate(model.Command) (string, error) {
	return "accepted, forwarded to update scheduler", nil
}

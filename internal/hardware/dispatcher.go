package hardware

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ostiary-io/ostiary-core/internal/door"
)

// Logger defines the minimal logging interface the dispatcher needs.
type Logger interface {
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
	Debug(msg string, args ...any)
}

// MetricsWriter records dispatch outcomes for trend analysis.
// Satisfied by the InfluxDB client; nil disables recording.
type MetricsWriter interface {
	WriteDispatchOutcome(doorID, mode string, success bool, latency time.Duration)
}

// Dispatcher sends unlock commands to door controllers.
//
// DIRECT mode calls the controller's HTTP endpoint and waits for its
// answer. QUEUED mode parks the command in the queue for the controller
// to poll. Either way the dispatcher never blocks a door state change:
// callers treat its outcome as advisory and flag the door on failure
// rather than rolling back.
type Dispatcher struct {
	client         *http.Client
	queue          *Queue
	tokens         *TokenIssuer
	defaultPulseMs int
	logger         Logger
	metrics        MetricsWriter
}

// NewDispatcher creates a dispatcher.
// directTimeout bounds the whole DIRECT round trip, connection included.
func NewDispatcher(queue *Queue, tokens *TokenIssuer, defaultPulseMs int, directTimeout time.Duration, logger Logger) *Dispatcher {
	return &Dispatcher{
		client: &http.Client{
			Timeout: directTimeout,
		},
		queue:          queue,
		tokens:         tokens,
		defaultPulseMs: defaultPulseMs,
		logger:         logger,
	}
}

// SetMetrics attaches a dispatch outcome recorder.
func (d *Dispatcher) SetMetrics(m MetricsWriter) {
	d.metrics = m
}

// Dispatch sends one unlock command for a door.
//
// The returned Outcome carries an error instead of failing the call:
// hardware trouble must never abort the occupancy operation that
// triggered the unlock.
func (d *Dispatcher) Dispatch(ctx context.Context, dr *door.Door) Outcome {
	pulseMs := dr.PulseMs
	if pulseMs <= 0 {
		pulseMs = d.defaultPulseMs
	}

	token, err := d.tokens.Issue(dr.SiteID, dr.ID, dr.Number)
	if err != nil {
		return d.record(dr, Outcome{Err: fmt.Errorf("issuing token: %w", err)})
	}

	switch dr.Endpoint.Mode {
	case door.ModeDirect:
		return d.record(dr, d.dispatchDirect(ctx, dr, token, pulseMs))
	case door.ModeQueued:
		return d.record(dr, d.dispatchQueued(ctx, dr, token, pulseMs))
	default:
		return d.record(dr, Outcome{Err: fmt.Errorf("%w: unknown mode %q", ErrNoEndpoint, dr.Endpoint.Mode)})
	}
}

// dispatchDirect calls the controller's unlock endpoint and waits for
// its answer.
func (d *Dispatcher) dispatchDirect(ctx context.Context, dr *door.Door, token string, pulseMs int) Outcome {
	if dr.Endpoint.URL == "" {
		return Outcome{Err: fmt.Errorf("%w: direct door %s has no URL", ErrNoEndpoint, dr.ID)}
	}

	endpoint := strings.TrimRight(dr.Endpoint.URL, "/") + "/open" +
		"?door=" + strconv.Itoa(dr.Number) +
		"&token=" + url.QueryEscape(token) +
		"&pulse_ms=" + strconv.Itoa(pulseMs)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Outcome{Err: fmt.Errorf("building unlock request: %w", err)}
	}

	start := time.Now()
	resp, err := d.client.Do(req)
	latency := time.Since(start)
	if err != nil {
		return Outcome{Latency: latency, Err: fmt.Errorf("calling controller: %w", err)}
	}
	defer resp.Body.Close()

	// Drain so the connection can be reused
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return Outcome{
			Latency: latency,
			Err:     fmt.Errorf("%w: status %d", ErrControllerRejected, resp.StatusCode),
		}
	}

	return Outcome{Success: true, Latency: latency}
}

// dispatchQueued parks the command for the controller's next poll.
func (d *Dispatcher) dispatchQueued(ctx context.Context, dr *door.Door, token string, pulseMs int) Outcome {
	if dr.Endpoint.ControllerID == "" {
		return Outcome{Err: fmt.Errorf("%w: queued door %s has no controller", ErrNoEndpoint, dr.ID)}
	}

	if _, err := d.queue.Enqueue(ctx, dr.ID, dr.Endpoint.ControllerID, dr.Number, token, pulseMs); err != nil {
		return Outcome{Err: err}
	}
	return Outcome{Success: true, Queued: true}
}

// record logs and measures a dispatch outcome before returning it.
func (d *Dispatcher) record(dr *door.Door, out Outcome) Outcome {
	mode := string(dr.Endpoint.Mode)

	if d.metrics != nil {
		d.metrics.WriteDispatchOutcome(dr.ID, mode, out.Err == nil, out.Latency)
	}

	if d.logger == nil {
		return out
	}

	if out.Err != nil {
		d.logger.Warn("dispatch failed",
			"door_id", dr.ID,
			"mode", mode,
			"error", out.Err,
		)
	} else {
		d.logger.Debug("dispatch sent",
			"door_id", dr.ID,
			"mode", mode,
			"queued", out.Queued,
			"latency_ms", out.Latency.Milliseconds(),
		)
	}
	return out
}

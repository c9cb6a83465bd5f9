// Package monitor wraps a session's async start/poll/stop telemetry
// protocol in an explicit state machine, replacing the original's
// exception-driven restart loop.
package monitor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/diwise/thinqclient/internal/telemetry/logging"
	"github.com/diwise/thinqclient/pkg/apierrors"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("thinqclient/monitor")

// State is one of the MonitorJob lifecycle stages.
type State int

const (
	StateIdle State = iota
	StateActive
	StateRestarting
	StateTerminated
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateActive:
		return "active"
	case StateRestarting:
		return "restarting"
	case StateTerminated:
		return "terminated"
	default:
		return "unknown"
	}
}

// Session is the subset of pkg/session.Session a MonitorJob needs. Defined
// here so tests can supply a hand-written fake without a network session.
type Session interface {
	MonitorStart(ctx context.Context, deviceID string) (string, error)
	MonitorPoll(ctx context.Context, deviceID, workID string) ([]byte, error)
	MonitorStop(ctx context.Context, deviceID, workID string) error
}

// Job drives one device's monitor job. A Job starting a new work_id for
// the same device without stopping the previous one is prevented by
// construction: Start refuses to run from any state but Idle or
// Terminated.
type Job struct {
	session  Session
	deviceID string

	mu     sync.Mutex
	state  State
	workID string
}

// New builds a Job bound to deviceID, initially Idle.
func New(session Session, deviceID string) *Job {
	return &Job{session: session, deviceID: deviceID, state: StateIdle}
}

// State returns the job's current lifecycle state.
func (j *Job) State() State {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.state
}

// Start transitions Idle/Terminated -> Active by calling MonitorStart.
func (j *Job) Start(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "start")
	defer span.End()

	j.mu.Lock()
	defer j.mu.Unlock()

	if j.state == StateActive {
		return fmt.Errorf("monitor job for device %s already active", j.deviceID)
	}

	workID, err := j.session.MonitorStart(ctx, j.deviceID)
	if err != nil {
		span.RecordError(err)
		return err
	}

	j.workID = workID
	j.state = StateActive
	return nil
}

// Poll reads one tick. While Active it calls MonitorPoll: a nil result
// means warmup or no new data this tick; a MonitorError transitions
// Active -> Restarting, stops and restarts the job, and returns (nil, nil)
// for this tick — the caller's next Poll reattempts normally.
func (j *Job) Poll(ctx context.Context) ([]byte, error) {
	ctx, span := tracer.Start(ctx, "poll")
	defer span.End()

	j.mu.Lock()
	if j.state != StateActive {
		j.mu.Unlock()
		return nil, fmt.Errorf("monitor job for device %s is not active (state %s)", j.deviceID, j.state)
	}
	workID := j.workID
	j.mu.Unlock()

	data, err := j.session.MonitorPoll(ctx, j.deviceID, workID)
	if err == nil {
		return data, nil
	}

	var monErr *apierrors.MonitorError
	if !errors.As(err, &monErr) {
		span.RecordError(err)
		return nil, err
	}

	log := logging.GetLoggerFromContext(ctx)
	log.Warn().Str("deviceId", j.deviceID).Str("code", monErr.Code).Msg("monitor error, restarting job")

	j.mu.Lock()
	j.state = StateRestarting
	j.mu.Unlock()

	_ = j.session.MonitorStop(ctx, j.deviceID, workID)

	newWorkID, startErr := j.session.MonitorStart(ctx, j.deviceID)
	if startErr != nil {
		span.RecordError(startErr)
		j.mu.Lock()
		j.state = StateTerminated
		j.mu.Unlock()
		return nil, startErr
	}

	j.mu.Lock()
	j.workID = newWorkID
	j.state = StateActive
	j.mu.Unlock()

	return nil, nil
}

// Stop transitions to Terminated from any state. Idempotent: calling Stop
// on an already-terminated job is a no-op.
func (j *Job) Stop(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "stop")
	defer span.End()

	j.mu.Lock()
	if j.state == StateTerminated || j.state == StateIdle {
		j.state = StateTerminated
		j.mu.Unlock()
		return nil
	}
	workID := j.workID
	j.state = StateTerminated
	j.mu.Unlock()

	err := j.session.MonitorStop(ctx, j.deviceID, workID)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

// Run starts the job, invokes fn, and guarantees Stop is called on every
// return path, including a panic — the Go idiom for the original's
// scoped start/stop context manager.
func (j *Job) Run(ctx context.Context, fn func(ctx context.Context) error) (err error) {
	if err = j.Start(ctx); err != nil {
		return err
	}

	defer func() {
		stopErr := j.Stop(ctx)
		if err == nil {
			err = stopErr
		}
		if r := recover(); r != nil {
			j.Stop(ctx) //nolint:errcheck
			panic(r)
		}
	}()

	return fn(ctx)
}

// Poller repeatedly polls a Job on a fixed cadence and hands decoded
// payloads to a callback, until ctx is cancelled. Grounded on the
// teacher's background-worker loop shape: sleep, select on done/ctx,
// re-loop.
type Poller struct {
	Job      *Job
	Interval time.Duration
}

// Loop starts the underlying job, then polls once per Interval, invoking
// onData for every non-nil payload, until ctx is cancelled. The job is
// always stopped before Loop returns.
func (p *Poller) Loop(ctx context.Context, onData func([]byte)) error {
	return p.Job.Run(ctx, func(ctx context.Context) error {
		ticker := time.NewTicker(p.Interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				data, err := p.Job.Poll(ctx)
				if err != nil {
					return err
				}
				if data != nil {
					onData(data)
				}
			}
		}
	})
}

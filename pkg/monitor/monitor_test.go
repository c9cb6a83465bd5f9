package monitor_test

import (
	"context"
	"fmt"
	"testing"

	"github.com/diwise/thinqclient/pkg/apierrors"
	"github.com/diwise/thinqclient/pkg/monitor"
	"github.com/matryer/is"
)

// fakeSession is a hand-written stand-in for session.Session, scripted per
// test rather than generated, since this environment cannot run moq.
type fakeSession struct {
	startCalls int
	stopCalls  int
	pollQueue  []pollResult
	pollIndex  int
}

type pollResult struct {
	data []byte
	err  error
}

func (f *fakeSession) MonitorStart(ctx context.Context, deviceID string) (string, error) {
	f.startCalls++
	return fmt.Sprintf("work-%d", f.startCalls), nil
}

func (f *fakeSession) MonitorPoll(ctx context.Context, deviceID, workID string) ([]byte, error) {
	if f.pollIndex >= len(f.pollQueue) {
		return nil, nil
	}
	r := f.pollQueue[f.pollIndex]
	f.pollIndex++
	return r.data, r.err
}

func (f *fakeSession) MonitorStop(ctx context.Context, deviceID, workID string) error {
	f.stopCalls++
	return nil
}

func TestMonitorWarmupThenData(t *testing.T) {
	is := is.New(t)

	fake := &fakeSession{
		pollQueue: []pollResult{
			{nil, nil},
			{nil, nil},
			{[]byte(`{"TempCur":"21"}`), nil},
		},
	}

	job := monitor.New(fake, "device-1")
	is.NoErr(job.Start(context.Background()))

	d1, err := job.Poll(context.Background())
	is.NoErr(err)
	is.True(d1 == nil)

	d2, err := job.Poll(context.Background())
	is.NoErr(err)
	is.True(d2 == nil)

	d3, err := job.Poll(context.Background())
	is.NoErr(err)
	is.Equal(string(d3), `{"TempCur":"21"}`)
}

func TestMonitorRestartsOnMonitorError(t *testing.T) {
	is := is.New(t)

	fake := &fakeSession{
		pollQueue: []pollResult{
			{nil, apierrors.MapMonitorCode("device-1", "0001")},
			{[]byte("ok"), nil},
		},
	}

	job := monitor.New(fake, "device-1")
	is.NoErr(job.Start(context.Background()))
	is.Equal(fake.startCalls, 1)

	data, err := job.Poll(context.Background())
	is.NoErr(err)
	is.True(data == nil)
	is.Equal(fake.stopCalls, 1)
	is.Equal(fake.startCalls, 2)
	is.Equal(job.State(), monitor.StateActive)

	data2, err := job.Poll(context.Background())
	is.NoErr(err)
	is.Equal(string(data2), "ok")
}

func TestRunGuaranteesStopOnPanic(t *testing.T) {
	is := is.New(t)

	fake := &fakeSession{}
	job := monitor.New(fake, "device-1")

	func() {
		defer func() {
			recover()
		}()
		job.Run(context.Background(), func(ctx context.Context) error {
			panic("boom")
		})
	}()

	is.Equal(fake.stopCalls, 1)
	is.Equal(job.State(), monitor.StateTerminated)
}

func TestRunGuaranteesStopOnError(t *testing.T) {
	is := is.New(t)

	fake := &fakeSession{}
	job := monitor.New(fake, "device-1")

	err := job.Run(context.Background(), func(ctx context.Context) error {
		return fmt.Errorf("boom")
	})

	is.True(err != nil)
	is.Equal(fake.stopCalls, 1)
	is.Equal(job.State(), monitor.StateTerminated)
}

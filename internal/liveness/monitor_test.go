package liveness

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"reflect"
	"sync"
	"testing"
	"time"
)

func testOptions() Options {
	return Options{
		ProbeInterval:      10 * time.Millisecond,
		ProbeTimeout:       50 * time.Millisecond,
		WakingAfter:        30 * time.Millisecond,
		OfflineAfter:       150 * time.Millisecond,
		BackgroundInterval: 25 * time.Millisecond,
		ElapsedTick:        5 * time.Millisecond,
	}
}

type fakeProbe struct {
	mu    sync.Mutex
	err   error
	calls int
}

func (p *fakeProbe) probe(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls++
	return p.err
}

func (p *fakeProbe) setErr(err error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.err = err
}

func (p *fakeProbe) callCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// snapshotRecorder drains a monitor's updates channel and keeps everything it saw.
type snapshotRecorder struct {
	mu    sync.Mutex
	snaps []Snapshot
}

func recordUpdates(m *Monitor) *snapshotRecorder {
	r := &snapshotRecorder{}
	go func() {
		for snap := range m.Updates() {
			r.mu.Lock()
			r.snaps = append(r.snaps, snap)
			r.mu.Unlock()
		}
	}()
	return r
}

// statuses returns the distinct status sequence, collapsing consecutive repeats.
func (r *snapshotRecorder) statuses() []Status {
	r.mu.Lock()
	defer r.mu.Unlock()
	var seq []Status
	for _, snap := range r.snaps {
		if len(seq) == 0 || seq[len(seq)-1] != snap.Status {
			seq = append(seq, snap.Status)
		}
	}
	return seq
}

func (r *snapshotRecorder) snapshots() []Snapshot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Snapshot(nil), r.snaps...)
}

func testMonitor(t *testing.T, probe ProbeFunc, opts Options) *Monitor {
	t.Helper()
	m := NewMonitor(probe, opts, slog.New(slog.NewTextHandler(io.Discard, nil)))
	t.Cleanup(m.Dispose)
	return m
}

func waitForStatus(t *testing.T, m *Monitor, want Status, timeout time.Duration) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if m.Snapshot().Status == want {
			return
		}
		time.Sleep(time.Millisecond)
	}
	t.Fatalf("status = %q, never reached %q within %v", m.Snapshot().Status, want, timeout)
}

func TestMonitorOnlineImmediately(t *testing.T) {
	probe := &fakeProbe{}
	m := testMonitor(t, probe.probe, testOptions())
	rec := recordUpdates(m)

	m.Start()
	m.Start()

	waitForStatus(t, m, StatusOnline, 2*time.Second)
	time.Sleep(50 * time.Millisecond)

	if got := probe.callCount(); got != 1 {
		t.Errorf("probe calls = %d, want 1", got)
	}
	want := []Status{StatusChecking, StatusOnline}
	if got := rec.statuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("status sequence = %v, want %v", got, want)
	}
}

func TestMonitorWakingThenOnline(t *testing.T) {
	probe := &fakeProbe{err: errors.New("connection refused")}
	m := testMonitor(t, probe.probe, testOptions())
	rec := recordUpdates(m)

	m.Start()
	waitForStatus(t, m, StatusWaking, 2*time.Second)

	probe.setErr(nil)
	waitForStatus(t, m, StatusOnline, 2*time.Second)
	time.Sleep(50 * time.Millisecond)

	want := []Status{StatusChecking, StatusWaking, StatusOnline}
	if got := rec.statuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("status sequence = %v, want %v", got, want)
	}
}

func TestMonitorOfflineAndBackgroundRecovery(t *testing.T) {
	probe := &fakeProbe{err: errors.New("connection refused")}
	m := testMonitor(t, probe.probe, testOptions())
	rec := recordUpdates(m)

	m.Start()
	waitForStatus(t, m, StatusOffline, 5*time.Second)

	// The background probe keeps watching while offline.
	calls := probe.callCount()
	deadline := time.Now().Add(2 * time.Second)
	for probe.callCount() == calls && time.Now().Before(deadline) {
		time.Sleep(time.Millisecond)
	}
	if probe.callCount() == calls {
		t.Fatal("no background probes after going offline")
	}

	probe.setErr(nil)
	waitForStatus(t, m, StatusOnline, 2*time.Second)
	time.Sleep(50 * time.Millisecond)

	want := []Status{StatusChecking, StatusWaking, StatusOffline, StatusOnline}
	if got := rec.statuses(); !reflect.DeepEqual(got, want) {
		t.Errorf("status sequence = %v, want %v", got, want)
	}
}

func TestMonitorElapsedCounts(t *testing.T) {
	probe := &fakeProbe{err: errors.New("connection refused")}
	m := testMonitor(t, probe.probe, testOptions())

	m.Start()
	waitForStatus(t, m, StatusWaking, 2*time.Second)

	if got := m.Snapshot().Elapsed; got == 0 {
		t.Error("Elapsed = 0 after the waking escalation, want it counting up")
	}
}

func TestMonitorRetryResets(t *testing.T) {
	probe := &fakeProbe{err: errors.New("connection refused")}
	m := testMonitor(t, probe.probe, testOptions())
	rec := recordUpdates(m)

	m.Start()
	waitForStatus(t, m, StatusOffline, 5*time.Second)

	m.Retry()
	time.Sleep(50 * time.Millisecond)

	// The first snapshot after offline must be a fresh checking session with the counter reset.
	snaps := rec.snapshots()
	reset := false
	for i := 1; i < len(snaps); i++ {
		if snaps[i-1].Status == StatusOffline && snaps[i].Status == StatusChecking && snaps[i].Elapsed == 0 {
			reset = true
			break
		}
	}
	if !reset {
		t.Errorf("no checking snapshot with Elapsed=0 after offline; snapshots: %+v", snaps)
	}

	// The new session escalates again on its own clock.
	waitForStatus(t, m, StatusWaking, 2*time.Second)
}

func TestMonitorRetryWhileOnline(t *testing.T) {
	probe := &fakeProbe{}
	m := testMonitor(t, probe.probe, testOptions())

	m.Start()
	waitForStatus(t, m, StatusOnline, 2*time.Second)

	probe.setErr(errors.New("gone again"))
	m.Retry()
	waitForStatus(t, m, StatusWaking, 2*time.Second)
}

func TestMonitorDisposeStopsEverything(t *testing.T) {
	probe := &fakeProbe{err: errors.New("connection refused")}
	m := testMonitor(t, probe.probe, testOptions())

	m.Start()
	waitForStatus(t, m, StatusWaking, 2*time.Second)

	m.Dispose()
	calls := probe.callCount()
	status := m.Snapshot().Status

	time.Sleep(100 * time.Millisecond)

	// One probe may have been in flight when Dispose ran, but nothing after that.
	if got := probe.callCount(); got > calls+1 {
		t.Errorf("probe calls after dispose = %d, want at most %d", got, calls+1)
	}
	if got := m.Snapshot().Status; got != status {
		t.Errorf("status changed after dispose: %q -> %q", status, got)
	}

	m.Retry()
	time.Sleep(50 * time.Millisecond)
	if got := probe.callCount(); got > calls+1 {
		t.Errorf("Retry() after Dispose() restarted probing: %d calls", got)
	}
}

func TestMonitorBoundedProbe(t *testing.T) {
	// A probe that hangs until its context expires must not stall the escalation clock.
	probe := func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	}
	m := testMonitor(t, probe, testOptions())

	m.Start()
	waitForStatus(t, m, StatusOffline, 5*time.Second)
}

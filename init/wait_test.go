package main

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// countingResolver fails until the given attempt number
type countingResolver struct {
	calls     int
	succeedAt int
	path      string
}

func (r *countingResolver) Resolve(spec string) (*resolvedDevice, error) {
	r.calls++
	if r.succeedAt > 0 && r.calls >= r.succeedAt {
		return &resolvedDevice{path: r.path}, nil
	}
	return nil, fmt.Errorf("%s: no such device", spec)
}

func newTestWaiter(r resolver, policy waitPolicy) (*deviceWaiter, *[]time.Duration) {
	var sleeps []time.Duration
	w := newDeviceWaiter(r, policy)
	w.sleep = func(d time.Duration) { sleeps = append(sleeps, d) }
	return w, &sleeps
}

func TestWaitTimesOut(t *testing.T) {
	t.Parallel()

	r := &countingResolver{}
	w, sleeps := newTestWaiter(r, defaultWaitPolicy())

	dev, err := w.wait("/dev/mmcblk0p2")
	require.Nil(t, dev)
	require.EqualError(t, err, "Timed out waiting for '/dev/mmcblk0p2'")
	require.Equal(t, defaultWaitAttempts, r.calls)
	require.Len(t, *sleeps, defaultWaitAttempts-1)
	for _, s := range *sleeps {
		require.Equal(t, 10*time.Microsecond, s)
	}
}

func TestWaitSucceedsOnLaterAttempt(t *testing.T) {
	t.Parallel()

	r := &countingResolver{succeedAt: 5, path: "/dev/sda1"}
	w, sleeps := newTestWaiter(r, defaultWaitPolicy())

	dev, err := w.wait("/dev/sda1")
	require.NoError(t, err)
	require.Equal(t, "/dev/sda1", dev.path)
	require.Equal(t, 5, r.calls)
	require.Len(t, *sleeps, 4)
}

func TestWaitFirstAttemptNoSleep(t *testing.T) {
	t.Parallel()

	r := &countingResolver{succeedAt: 1, path: "/dev/sda1"}
	w, sleeps := newTestWaiter(r, defaultWaitPolicy())

	_, err := w.wait("/dev/sda1")
	require.NoError(t, err)
	require.Equal(t, 1, r.calls)
	require.Empty(t, *sleeps)
}

func TestWaitSingleAttempt(t *testing.T) {
	t.Parallel()

	r := &countingResolver{}
	p := defaultWaitPolicy()
	p.attempts = 1
	w, sleeps := newTestWaiter(r, p)

	_, err := w.wait("LABEL=root")
	require.Error(t, err)
	require.Equal(t, 1, r.calls)
	require.Empty(t, *sleeps)
}

func TestWaitExponential(t *testing.T) {
	t.Parallel()

	r := &countingResolver{}
	p := waitPolicy{
		attempts:    6,
		interval:    10 * time.Millisecond,
		backoff:     backoffExponential,
		maxInterval: 40 * time.Millisecond,
	}
	w, sleeps := newTestWaiter(r, p)

	_, err := w.wait("/dev/sda1")
	require.Error(t, err)
	require.Equal(t, 6, r.calls)
	require.Equal(t, []time.Duration{
		10 * time.Millisecond,
		15 * time.Millisecond,
		22500 * time.Microsecond,
		33750 * time.Microsecond,
		40 * time.Millisecond,
	}, *sleeps)
}

// scriptedEvents reports a block device arrival for the first n waits
type scriptedEvents struct {
	arrivals int
	timeouts []time.Duration
	closed   bool
}

func (e *scriptedEvents) Wait(timeout time.Duration) bool {
	e.timeouts = append(e.timeouts, timeout)
	if e.arrivals > 0 {
		e.arrivals--
		return true
	}
	return false
}

func (e *scriptedEvents) Close() error {
	e.closed = true
	return nil
}

func TestWaitWakesOnBlockEvent(t *testing.T) {
	t.Parallel()

	r := &countingResolver{succeedAt: 3, path: "/dev/mmcblk0p2"}
	w, sleeps := newTestWaiter(r, defaultWaitPolicy())
	events := &scriptedEvents{arrivals: 2}
	w.events = events

	dev, err := w.wait("/dev/mmcblk0p2")
	require.NoError(t, err)
	require.Equal(t, "/dev/mmcblk0p2", dev.path)
	require.Equal(t, 3, r.calls)
	require.Empty(t, *sleeps)
	require.Equal(t, []time.Duration{10 * time.Microsecond, 10 * time.Microsecond}, events.timeouts)
}

func TestWaitEventsKeepAttemptLimit(t *testing.T) {
	t.Parallel()

	r := &countingResolver{}
	p := defaultWaitPolicy()
	p.attempts = 4
	w, sleeps := newTestWaiter(r, p)
	// a device keeps showing up but it is never the one we look for
	events := &scriptedEvents{arrivals: 100}
	w.events = events

	_, err := w.wait("PARTUUID=0123-02")
	require.EqualError(t, err, "Timed out waiting for 'PARTUUID=0123-02'")
	require.Equal(t, 4, r.calls)
	require.Len(t, events.timeouts, 3)
	require.Empty(t, *sleeps)
}

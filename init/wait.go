package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// resolver turns a block device spec into an opened device
type resolver interface {
	Resolve(spec string) (*resolvedDevice, error)
}

// deviceWaiter retries the resolver until the device shows up or the attempts run out.
// Devices are created asynchronously by devtmpfs so the root device may not exist yet.
// With events set a block device uevent cuts the pause between attempts short, the backoff
// interval is then only an upper bound.
type deviceWaiter struct {
	resolver resolver
	policy   waitPolicy
	sleep    func(time.Duration)
	events   deviceEvents
}

func newDeviceWaiter(r resolver, policy waitPolicy) *deviceWaiter {
	return &deviceWaiter{
		resolver: r,
		policy:   policy,
		sleep:    time.Sleep,
	}
}

func (w *deviceWaiter) newBackOff() backoff.BackOff {
	var b backoff.BackOff
	switch w.policy.backoff {
	case backoffExponential:
		e := backoff.NewExponentialBackOff()
		e.InitialInterval = w.policy.interval
		e.MaxInterval = w.policy.maxInterval
		e.RandomizationFactor = 0
		// the attempt count is the only limit
		e.MaxElapsedTime = 0
		b = e
	default:
		b = backoff.NewConstantBackOff(w.policy.interval)
	}

	attempts := w.policy.attempts
	if attempts < 1 {
		attempts = 1
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}

// wait calls the resolver up to the configured number of attempts and returns the first success
func (w *deviceWaiter) wait(spec string) (*resolvedDevice, error) {
	b := w.newBackOff()
	b.Reset()

	attempt := 0
	for {
		attempt++
		dev, err := w.resolver.Resolve(spec)
		if err == nil {
			debug("found %s at %s after %d attempt(s)", spec, dev.path, attempt)
			return dev, nil
		}

		var permanent *backoff.PermanentError
		if errors.As(err, &permanent) {
			return nil, fmt.Errorf("%s: %w", spec, permanent.Err)
		}

		interval := b.NextBackOff()
		if interval == backoff.Stop {
			debug("giving up on %s after %d attempt(s): %v", spec, attempt, err)
			return nil, fmt.Errorf("Timed out waiting for '%s'", spec)
		}
		w.pause(spec, interval)
	}
}

func (w *deviceWaiter) pause(spec string, interval time.Duration) {
	if w.events == nil {
		w.sleep(interval)
		return
	}
	if w.events.Wait(interval) {
		debug("block device added, looking for %s again", spec)
	}
}

package volume

import (
	"time"

	gax "github.com/googleapis/gax-go/v2"

	"github.com/janelia-flyem/ooc/ooc"
)

// retryPolicy bounds the retries of a chunk read.  Missing objects are never retried.
type retryPolicy struct {
	retries int
	initial time.Duration
	max     time.Duration
	sleep   func(time.Duration)
}

// newRetryPolicy takes unset delays from DefaultOptions, since gax would otherwise
// use its own one second and thirty second defaults.
func newRetryPolicy(opts Options) retryPolicy {
	def := DefaultOptions()
	p := retryPolicy{
		retries: max(opts.Retries, 0),
		initial: opts.RetryInitial,
		max:     opts.RetryMax,
		sleep:   time.Sleep,
	}
	if p.initial <= 0 {
		p.initial = def.RetryInitial
	}
	if p.max <= 0 {
		p.max = def.RetryMax
	}
	p.max = max(p.max, p.initial)
	return p
}

// do calls read until it succeeds, fails with a not-found error, or has been retried
// p.retries times.  The last error is returned.
func (p retryPolicy) do(key string, read func() ([]byte, error)) ([]byte, error) {
	bo := gax.Backoff{Initial: p.initial, Max: p.max, Multiplier: 2}
	for attempt := 0; ; attempt++ {
		data, err := read()
		if err == nil || ooc.IsNotFound(err) || attempt >= p.retries {
			if err != nil && attempt > 0 {
				ooc.Errorf("Giving up on %q after %d attempts: %v\n", key, attempt+1, err)
			}
			return data, err
		}
		pause := bo.Pause()
		ooc.Warningf("Read of %q failed (attempt %d), retrying in %s: %v\n", key, attempt+1, pause, err)
		if p.sleep != nil {
			p.sleep(pause)
		}
	}
}

package lab

import (
	"context"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

const (
	DefaultWaitAttempts = 60
	DefaultWaitDelay    = 10 * time.Second
)

var ErrWaitTimeout = errors.New("timed out waiting")

// Poller repeats a readiness check a bounded number of times.
type Poller struct {
	Attempts int
	Delay    time.Duration
}

func DefaultPoller() Poller {
	return Poller{Attempts: DefaultWaitAttempts, Delay: DefaultWaitDelay}
}

// WaitFor calls check until it reports done, returns an error, the context is
// cancelled or the attempts run out. The first check runs immediately.
func (p Poller) WaitFor(ctx context.Context, what string, check func() (bool, error)) error {
	attempts := p.Attempts
	if attempts <= 0 {
		attempts = 1
	}

	for i := 0; i < attempts; i++ {
		if i > 0 {
			timer := time.NewTimer(p.Delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				return errors.Wrapf(ctx.Err(), "waiting for %s", what)
			case <-timer.C:
			}
		} else if ctx.Err() != nil {
			return errors.Wrapf(ctx.Err(), "waiting for %s", what)
		}

		done, err := check()
		if err != nil {
			return errors.Wrapf(err, "waiting for %s", what)
		}
		if done {
			return nil
		}
		log.Debug().Msgf("%s is not ready yet (attempt %d/%d)", what, i+1, attempts)
	}

	return errors.Wrapf(ErrWaitTimeout, "%s after %d attempts", what, attempts)
}

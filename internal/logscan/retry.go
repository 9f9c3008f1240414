package logscan

import "time"

// RetryPolicy is a bounded fixed-delay retry.
type RetryPolicy struct {
	Attempts int
	Delay    time.Duration

	// Sleep defaults to time.Sleep.
	Sleep func(time.Duration)
}

// DefaultRetryPolicy matches a log file still being written by the simulator.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Attempts: 3, Delay: 500 * time.Millisecond}
}

// Do runs op until it succeeds or the attempts are exhausted, returning the last error.
// onRetry is called after every failed attempt that will be retried.
func (p RetryPolicy) Do(op func(attempt int) error, onRetry func(attempt int, err error)) error {
	attempts := p.Attempts
	if attempts < 1 {
		attempts = 1
	}
	sleep := p.Sleep
	if sleep == nil {
		sleep = time.Sleep
	}

	var err error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err = op(attempt); err == nil {
			return nil
		}
		if attempt == attempts {
			break
		}
		if onRetry != nil {
			onRetry(attempt, err)
		}
		if p.Delay > 0 {
			sleep(p.Delay)
		}
	}
	return err
}

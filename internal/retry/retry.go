// Package retry runs a function under an exponential-backoff policy with
// optional jitter.
package retry

import (
	"context"
	"math/rand"
	"time"

	"github.com/serverless-orders/order-service/internal/config"
)

func Do(ctx context.Context, policy config.RetryConfig, fn func() error) error {
	d := policy.Base.Std()
	max := policy.Max.Std()
	var err error

	r := rand.New(rand.NewSource(time.Now().UnixNano()))

	for i := 0; i < policy.Attempts; i++ {
		if err = fn(); err == nil {
			return nil
		}

		if i == policy.Attempts-1 {
			break
		}

		delay := d
		if policy.JitterFactor > 0 {
			jitter := 1 + policy.JitterFactor*(2*r.Float64()-1)
			delay = time.Duration(float64(delay) * jitter)
		}
		if max > 0 && delay > max {
			delay = max
		}

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}

		d *= 2
		if max > 0 && d > max {
			d = max
		}
	}
	return err
}

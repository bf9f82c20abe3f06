package wait

import (
	"context"
	"time"

	"k8s.io/apimachinery/pkg/util/wait"
	"k8s.io/utils/clock"
)

// PollImmediateUntil checks condition right away and then every interval
// until it is done, fails, or ctx is cancelled.
func PollImmediateUntil(ctx context.Context, interval time.Duration, condition wait.ConditionWithContextFunc) error {
	return wait.PollUntilContextCancel(ctx, interval, true, condition)
}

// PollImmediateUntilWithClock is PollImmediateUntil on clk, with the wait
// before each recheck taken from delay after the previous check returns.
func PollImmediateUntilWithClock(ctx context.Context, clk clock.Clock, delay wait.DelayFunc, condition wait.ConditionWithContextFunc) error {
	t := delay.Timer(clk)
	defer t.Stop()

	if ok, err := condition(ctx); err != nil || ok {
		return err
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C():
		}
		if err := ctx.Err(); err != nil {
			return err
		}
		if ok, err := condition(ctx); err != nil || ok {
			return err
		}
		t.Next()
	}
}

// Until runs f every interval until ctx is cancelled.
func Until(ctx context.Context, interval time.Duration, f func(context.Context)) {
	wait.UntilWithContext(ctx, f, interval)
}

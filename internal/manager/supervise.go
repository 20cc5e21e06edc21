package manager

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"
)

const maxRestartDelay = 30 * time.Second

// supervise runs fn until ctx is done, restarting it with capped
// exponential backoff whenever it returns or panics.
func supervise(ctx context.Context, name string, log zerolog.Logger, pub EventPublisher, delay time.Duration, fn func(context.Context) error) {
	backoff := max(delay, 10*time.Millisecond)
	for {
		err := runGuarded(ctx, fn)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = fmt.Errorf("%s exited", name)
		}
		log.Error().Str("event", EventTaskRestarted).Str("task", name).Err(err).Dur("backoff", backoff).Msg("supervised task stopped, restarting")
		pub.Publish(Event{Name: EventTaskRestarted, Fields: map[string]any{"task": name, "error": err.Error()}})

		t := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			t.Stop()
			return
		case <-t.C:
		}
		backoff = min(backoff*2, maxRestartDelay)
	}
}

func runGuarded(ctx context.Context, fn func(context.Context) error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn(ctx)
}

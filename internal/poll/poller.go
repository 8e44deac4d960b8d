package poll

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Fetcher pulls one status snapshot from the remote service.
type Fetcher[T any] func(ctx context.Context) (T, error)

// Poller drives an interval status pull until a terminal result, a
// fetch failure, or Stop. Ticks never overlap: the next wait starts
// only after the previous fetch and its update callback finished.
type Poller[T any] struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Start fetches immediately and then on each interval. onUpdate runs
// for every successful fetch; polling ends as soon as isTerminal holds
// for a result. A fetch failure is logged and ends the loop; callers
// wanting retry must Start again explicitly.
func Start[T any](
	fetcher Fetcher[T],
	interval time.Duration,
	onUpdate func(T),
	isTerminal func(T) bool,
	log zerolog.Logger,
) *Poller[T] {
	ctx, cancel := context.WithCancel(context.Background())
	p := &Poller[T]{cancel: cancel, done: make(chan struct{})}

	go func() {
		defer close(p.done)
		for {
			result, err := fetcher(ctx)
			if err != nil {
				if ctx.Err() == nil {
					log.Warn().Err(err).Msg("status poll failed, stopping")
				}
				return
			}
			if ctx.Err() != nil {
				return
			}

			onUpdate(result)
			if isTerminal(result) {
				return
			}

			select {
			case <-ctx.Done():
				return
			case <-time.After(interval):
			}
		}
	}()

	return p
}

// Stop cancels the poll loop. Idempotent and safe after natural
// termination.
func (p *Poller[T]) Stop() {
	p.cancel()
}

// Done is closed once the poll loop has fully exited.
func (p *Poller[T]) Done() <-chan struct{} {
	return p.done
}

// Package coordinator wires the venue clients, the strategy, the action
// queue, and the timer into one supervised process. Supervision is
// fail-fast: the first error cancels everything, peers get a short grace
// period to unwind, and the process exits. Nothing restarts.
package coordinator

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"arb_engine/internal/core"
	"arb_engine/internal/state"
	"arb_engine/internal/venue"
	"arb_engine/pkg/concurrency"
	apperrors "arb_engine/pkg/errors"
	"arb_engine/pkg/telemetry"
)

// shutdownGrace is how long peers get to unwind after the first error.
const shutdownGrace = 2 * time.Second

// Strategy is the trading algorithm driven by the coordinator. OnData is
// invoked serialized, on every venue state change and every poll tick; a
// returned error is fatal.
type Strategy interface {
	Initialize(states map[string]*state.ExchangeState, enqueue func(core.Action)) error
	OnData() error
	PollPeriod() time.Duration
}

// Coordinator owns the process event loop.
type Coordinator struct {
	logger   core.ILogger
	clients  map[string]venue.Client
	strategy Strategy

	actions    *concurrency.Queue[core.Action]
	serializer *concurrency.Serializer
	timer      *Timer

	failOnce sync.Once
	failErr  chan error

	actionsEnqueued metric.Int64Counter
}

// New wires a coordinator from its parts.
func New(clients []venue.Client, strategy Strategy, logger core.ILogger) *Coordinator {
	log := logger.WithField("component", "coordinator")

	byID := make(map[string]venue.Client, len(clients))
	for _, c := range clients {
		byID[c.ID()] = c
	}

	meter := telemetry.GetMeter("coordinator")
	actionsEnqueued, _ := meter.Int64Counter(telemetry.MetricActionsEnqueuedTotal,
		metric.WithDescription("Strategy actions enqueued"))

	return &Coordinator{
		logger:          log,
		clients:         byID,
		strategy:        strategy,
		actions:         concurrency.NewQueue[core.Action]("actions", log),
		serializer:      concurrency.NewSerializer(256, log),
		timer:           NewTimer(log),
		failErr:         make(chan error, 1),
		actionsEnqueued: actionsEnqueued,
	}
}

// Enqueue adds an action for dispatch. Handed to the strategy at
// initialization.
func (c *Coordinator) Enqueue(a core.Action) {
	c.actionsEnqueued.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("venue", a.Venue())))
	c.actions.Put(a)
}

// Run starts every long-lived task and blocks until the first failure or
// until ctx is cancelled. The returned error is the failure that brought
// the process down, or nil on clean cancellation.
func (c *Coordinator) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	var wg sync.WaitGroup
	run := func(name string, fn func(context.Context) error) {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := fn(ctx); err != nil && ctx.Err() == nil {
				c.fail(fmt.Errorf("%s: %w", name, err))
			}
		}()
	}

	for id, client := range c.clients {
		client := client
		run("venue "+id, client.Run)
	}
	run("dispatcher", c.dispatch)
	run("startup", c.startup)

	var firstErr error
	select {
	case <-ctx.Done():
	case firstErr = <-c.failErr:
		c.logger.Error("fatal error, shutting down", "error", firstErr.Error())
		cancel()
	}

	// Give peers a bounded window to unwind before the process exits.
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		c.logger.Warn("shutdown grace period elapsed with tasks still pending")
	}
	c.serializer.Stop()
	return firstErr
}

// fail records the first fatal error; later failures during teardown are
// logged and dropped.
func (c *Coordinator) fail(err error) {
	recorded := false
	c.failOnce.Do(func() {
		c.failErr <- err
		recorded = true
	})
	if !recorded {
		c.logger.Debug("error during shutdown", "error", err.Error())
	}
}

// startup waits for both venues to hold a book snapshot, primes
// balances, hands the strategy its dependencies, and then drives the
// poll timer. State-change and timer callbacks both funnel through the
// serializer so the strategy is never re-entered.
func (c *Coordinator) startup(ctx context.Context) error {
	states := make(map[string]*state.ExchangeState, len(c.clients))
	for id, client := range c.clients {
		c.logger.Info("waiting for order book", "venue", id)
		if err := client.WaitReady(ctx); err != nil {
			return err
		}
		states[id] = client.State()
	}
	c.logger.Info("all venues ready")

	for id, client := range c.clients {
		if err := client.UpdateBalance(ctx); err != nil {
			return fmt.Errorf("initial balance for %s: %w", id, err)
		}
	}

	if err := c.strategy.Initialize(states, c.Enqueue); err != nil {
		return err
	}

	for id, client := range c.clients {
		id := id
		client.State().Publisher().Subscribe(func() {
			c.logger.Debug("state updated", "venue", id)
			c.serializer.Submit(c.tick)
		})
	}
	c.timer.Every(c.strategy.PollPeriod(), func() {
		c.serializer.Submit(c.tick)
	})
	return c.timer.Run(ctx)
}

func (c *Coordinator) tick() {
	if err := c.strategy.OnData(); err != nil {
		c.fail(fmt.Errorf("strategy: %w", err))
	}
}

// dispatch drains the action queue, routing each action to the venue
// client whose id it names. An action for a venue we do not run means
// the strategy and the wiring disagree, which is fatal.
func (c *Coordinator) dispatch(ctx context.Context) error {
	for {
		action, err := c.actions.Get(ctx)
		if err != nil {
			return err
		}
		client, ok := c.clients[action.Venue()]
		if !ok {
			return fmt.Errorf("%w: action for %q", apperrors.ErrUnknownVenue, action.Venue())
		}
		if err := client.Execute(ctx, action); err != nil {
			return err
		}
	}
}

package mileage

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// TimeSource provides the current time
type TimeSource interface {
	Now() time.Time
}

// Sleeper blocks for d or until ctx is done
type Sleeper func(ctx context.Context, d time.Duration) error

type defaultTimeSource struct{}

func (t *defaultTimeSource) Now() time.Time {
	return time.Now()
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// Confirmer asks the user for a new odometer reading until one beats the baseline.
// Calls are serialized: at most one confirmation is in flight.
type Confirmer struct {
	channel    Channel
	policy     RetryPolicy
	timeSource TimeSource
	sleep      Sleeper

	// Observer, when set, is told about every state transition
	Observer func(from, to State)

	mu    sync.Mutex
	state State
}

// NewConfirmer creates a Confirmer using wall-clock time
func NewConfirmer(channel Channel, policy RetryPolicy) *Confirmer {
	return NewConfirmerWithDeps(channel, policy, &defaultTimeSource{}, sleepContext)
}

// NewConfirmerWithDeps creates a Confirmer with custom dependencies for testing
func NewConfirmerWithDeps(channel Channel, policy RetryPolicy, timeSrc TimeSource, sleep Sleeper) *Confirmer {
	return &Confirmer{
		channel:    channel,
		policy:     policy,
		timeSource: timeSrc,
		sleep:      sleep,
	}
}

// Confirm prompts the user and returns the first reply strictly greater than previous.
// An unparsable reply ends the protocol with a *ReplyParseError.
func (c *Confirmer) Confirm(ctx context.Context, previous int) (int, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.policy.MaxWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.policy.MaxWait)
		defer cancel()
	}

	c.state = ""
	c.transition(StateAwaitingSend)
	prompt := fmt.Sprintf(PromptFormat, c.timeSource.Now().Format("2006-01-02 15:04:05"))
	if err := c.retry(ctx, "sending prompt", func() error {
		return c.channel.Send(ctx, prompt)
	}); err != nil {
		return 0, err
	}

	c.transition(StateAwaitingReply)
	limiter := rate.NewLimiter(pollRate(c.policy.PollInterval), 1)
	for {
		if err := c.pace(ctx, limiter); err != nil {
			return 0, fmt.Errorf("waiting for mileage: %w", err)
		}

		var messages []Message
		if err := c.retry(ctx, "polling replies", func() error {
			var err error
			messages, err = c.channel.LatestMessages(ctx)
			return err
		}); err != nil {
			return 0, err
		}

		if len(messages) == 0 {
			slog.Debug("Waiting for user to enter mileage", "previous", previous)
			c.retryPoll()
			continue
		}

		latest := messages[len(messages)-1]
		mileage, err := ParseReply(latest.Text)
		if err != nil {
			return 0, err
		}

		if mileage <= previous {
			slog.Debug("Ignoring stale mileage reply", "reply", mileage, "previous", previous)
			c.retryPoll()
			continue
		}

		c.transition(StateAccepted)
		c.transition(StateDone)
		return mileage, nil
	}
}

// pace reserves the next poll on the injected clock and sleeps off any delay
func (c *Confirmer) pace(ctx context.Context, limiter *rate.Limiter) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now := c.timeSource.Now()
	delay := limiter.ReserveN(now, 1).DelayFrom(now)
	if delay <= 0 {
		return nil
	}
	return c.sleep(ctx, delay)
}

func (c *Confirmer) retryPoll() {
	c.transition(StateRetryPoll)
	c.transition(StateAwaitingReply)
}

// retry runs fn until it succeeds, backing off by the policy's fixed delay
func (c *Confirmer) retry(ctx context.Context, op string, fn func() error) error {
	for attempt := 1; ; attempt++ {
		err := fn()
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return fmt.Errorf("%s: %w", op, ctx.Err())
		}
		if c.policy.MaxTransportRetries > 0 && attempt > c.policy.MaxTransportRetries {
			return &TransportError{Op: op, Attempts: attempt, Err: err}
		}

		slog.Warn("Channel request failed, retrying",
			"op", op,
			"attempt", attempt,
			"backoff", c.policy.TransportBackoff,
			"error", err,
		)
		if err := c.sleep(ctx, c.policy.TransportBackoff); err != nil {
			return fmt.Errorf("%s: %w", op, err)
		}
	}
}

func (c *Confirmer) transition(to State) {
	from := c.state
	c.state = to
	if c.Observer != nil {
		c.Observer(from, to)
	}
}

func pollRate(interval time.Duration) rate.Limit {
	if interval <= 0 {
		return rate.Inf
	}
	return rate.Every(interval)
}

// Package relay forwards events from the event bus to the broadcast manager.
package relay

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/modeltrainer/api/internal/eventbus"
	"github.com/modeltrainer/api/internal/model"
	"github.com/modeltrainer/api/pkg/backoff"
)

// State is the listener's connection state
type State string

const (
	StateConnecting State = "connecting"
	StateListening  State = "listening"
	StateBackoff    State = "backoff"
	StateFailed     State = "failed"
)

// Deliverer receives every decoded event in bus order
type Deliverer interface {
	Deliver(ev model.Event)
}

// MetricsRecorder is an optional interface for recording relay metrics
type MetricsRecorder interface {
	RecordRelayState(ctx context.Context, state string)
	RecordRelayReconnect(ctx context.Context)
	RecordEventRelayed(ctx context.Context, eventType string)
}

// Config controls resubscription
type Config struct {
	Backoff backoff.Config
	// FailureThreshold is the number of consecutive failed attempts after
	// which the listener reports StateFailed. It keeps retrying regardless.
	FailureThreshold int
}

// Listener owns the single bus subscription of the process
type Listener struct {
	subscriber eventbus.Subscriber
	out        Deliverer
	config     Config
	metrics    MetricsRecorder

	mu      sync.RWMutex
	state   State
	lastErr error
}

// NewListener creates a listener; call Run to start it
func NewListener(sub eventbus.Subscriber, out Deliverer, cfg Config, metrics MetricsRecorder) *Listener {
	if cfg.FailureThreshold < 1 {
		cfg.FailureThreshold = 5
	}
	return &Listener{
		subscriber: sub,
		out:        out,
		config:     cfg,
		metrics:    metrics,
		state:      StateConnecting,
	}
}

// Run subscribes and relays until ctx is cancelled. Subscription and read
// failures never stop it; they move it through Backoff (or Failed) and back
// to Connecting.
func (l *Listener) Run(ctx context.Context) {
	attempt := 0
	for {
		l.setState(StateConnecting, nil)

		stream, err := l.subscriber.Subscribe(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			attempt++
			log.Printf("Relay subscribe failed (attempt %d): %v", attempt, err)
			if !l.wait(ctx, attempt, err) {
				return
			}
			continue
		}

		if attempt > 0 && l.metrics != nil {
			l.metrics.RecordRelayReconnect(ctx)
		}
		attempt = 0
		l.setState(StateListening, nil)
		log.Println("Relay listening for job events")

		err = l.listen(ctx, stream)
		stream.Close()
		if ctx.Err() != nil {
			return
		}

		attempt++
		log.Printf("Relay read failed, resubscribing: %v", err)
		if !l.wait(ctx, attempt, err) {
			return
		}
	}
}

func (l *Listener) listen(ctx context.Context, stream eventbus.Stream) error {
	for {
		ev, err := stream.Next(ctx)
		if err != nil {
			if errors.Is(err, eventbus.ErrDecode) {
				log.Printf("Relay skipped message: %v", err)
				continue
			}
			return err
		}

		l.out.Deliver(ev)
		if l.metrics != nil {
			l.metrics.RecordEventRelayed(ctx, string(ev.Type))
		}
	}
}

// wait sleeps for the backoff of attempt. It returns false if ctx ended.
func (l *Listener) wait(ctx context.Context, attempt int, cause error) bool {
	state := StateBackoff
	if attempt >= l.config.FailureThreshold {
		state = StateFailed
	}
	l.setState(state, cause)

	timer := time.NewTimer(backoff.Jittered(attempt, &l.config.Backoff))
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (l *Listener) setState(state State, cause error) {
	l.mu.Lock()
	l.state = state
	if cause != nil {
		l.lastErr = cause
	}
	if state == StateListening {
		l.lastErr = nil
	}
	l.mu.Unlock()

	if l.metrics != nil {
		l.metrics.RecordRelayState(context.Background(), string(state))
	}
}

// State returns the current state
func (l *Listener) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

// Ready reports an error only once the listener has given up on quick
// recovery. Connecting and Backoff are routine during a resubscribe.
func (l *Listener) Ready(ctx context.Context) error {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.state != StateFailed {
		return nil
	}
	if l.lastErr != nil {
		return fmt.Errorf("relay %s: %v", l.state, l.lastErr)
	}
	return fmt.Errorf("relay %s", l.state)
}

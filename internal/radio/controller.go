// Package radio owns the host's single wireless radio. The Controller joins
// one network at a time, tracks the association state and notifies
// listeners when the radio connects to or disconnects from a network.
package radio

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const (
	defaultPollInterval    = 5 * time.Second
	defaultConnectAttempts = 5
	defaultInitialBackoff  = time.Second
)

// Options configures a Controller.
type Options struct {
	// PollInterval is how often Run asks the driver for its status.
	PollInterval time.Duration

	// ConnectAttempts is the number of status checks made while waiting for
	// an association to complete.
	ConnectAttempts int

	// InitialBackoff is the delay before the second status check. Later
	// delays grow exponentially.
	InitialBackoff time.Duration

	Logger *slog.Logger
}

// Controller arbitrates the radio between networks.
type Controller struct {
	driver Driver
	hub    *hub
	opts   Options
	log    *slog.Logger
	now    func() time.Time

	// sem holds the right to talk to the driver. Only one association
	// attempt or status poll runs at a time.
	sem chan struct{}

	mu    sync.RWMutex
	state State
}

// NewController creates a Controller in the Idle state.
func NewController(driver Driver, opts Options) *Controller {
	if opts.PollInterval <= 0 {
		opts.PollInterval = defaultPollInterval
	}
	if opts.ConnectAttempts <= 0 {
		opts.ConnectAttempts = defaultConnectAttempts
	}
	if opts.InitialBackoff <= 0 {
		opts.InitialBackoff = defaultInitialBackoff
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Controller{
		driver: driver,
		hub:    newHub(),
		opts:   opts,
		log:    logger,
		now:    time.Now,
		sem:    make(chan struct{}, 1),
		state:  State{Phase: PhaseIdle},
	}
}

// Subscribe registers a listener and returns a func that removes it.
func (c *Controller) Subscribe(l Listener) func() {
	return c.hub.subscribe(l)
}

// OnConnect registers fn to run for every EventConnected.
func (c *Controller) OnConnect(fn func(ssid string)) func() {
	return c.Subscribe(ListenerFunc(func(e Event) {
		if e.Type == EventConnected {
			fn(e.SSID)
		}
	}))
}

// OnDisconnect registers fn to run for every EventDisconnected.
func (c *Controller) OnDisconnect(fn func()) func() {
	return c.Subscribe(ListenerFunc(func(e Event) {
		if e.Type == EventDisconnected {
			fn()
		}
	}))
}

// State returns the current radio state.
func (c *Controller) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// CurrentNetwork returns the SSID the radio is associated with, or "".
func (c *Controller) CurrentNetwork() string {
	s := c.State()
	if s.Phase != PhaseConnected {
		return ""
	}
	return s.SSID
}

// Connect joins ssid, or any known network in range when ssid is empty.
// Calls are serialized; a second caller waits for the first to finish or
// for its own ctx to end.
func (c *Controller) Connect(ctx context.Context, ssid string) error {
	return c.connect(ctx, ssid, "")
}

// ConnectExcept joins any known network in range other than avoid. It is a
// no-op while associated with some other network.
func (c *Controller) ConnectExcept(ctx context.Context, avoid string) error {
	return c.connect(ctx, "", avoid)
}

func (c *Controller) connect(ctx context.Context, ssid, avoid string) error {
	select {
	case c.sem <- struct{}{}:
	case <-ctx.Done():
		return ctx.Err()
	}
	defer func() { <-c.sem }()

	current := c.CurrentNetwork()
	if current != "" && current != avoid && (ssid == "" || ssid == current) {
		return nil
	}

	target, err := c.pick(ctx, ssid, avoid)
	if err != nil {
		return err
	}

	if current != "" {
		c.move(State{Phase: PhaseDisconnected})
	}
	c.move(State{Phase: PhaseConnecting, SSID: target.SSID})
	c.log.Info("connecting", "ssid", target.SSID, "any", ssid == "")

	// Reassociate lets the supplicant choose, which may land on avoid.
	want := ssid
	if ssid == "" && avoid == "" {
		err = c.driver.Reassociate(ctx)
	} else {
		want = target.SSID
		err = c.driver.Select(ctx, target.ID)
	}
	if err != nil {
		c.move(State{Phase: PhaseIdle})
		return fmt.Errorf("%w: %s: %w", ErrConnectionFailed, target.SSID, err)
	}

	joined, err := c.waitAssociated(ctx, want)
	if err != nil {
		c.move(State{Phase: PhaseIdle})
		if ctxErr := ctx.Err(); ctxErr != nil {
			return ctxErr
		}
		return fmt.Errorf("%w: %s after %d attempts: %w", ErrConnectionFailed, target.SSID, c.opts.ConnectAttempts, err)
	}

	c.move(State{Phase: PhaseConnected, SSID: joined})
	return nil
}

// pick resolves the network to join. For an empty ssid the first known
// network seen by the scan wins, skipping avoid.
func (c *Controller) pick(ctx context.Context, ssid, avoid string) (Network, error) {
	known, err := c.driver.KnownNetworks(ctx)
	if err != nil {
		return Network{}, fmt.Errorf("list known networks: %w", err)
	}

	var candidates []Network
	for _, n := range known {
		if n.SSID == avoid && avoid != "" {
			continue
		}
		if ssid == "" || n.SSID == ssid {
			candidates = append(candidates, n)
		}
	}
	if len(candidates) == 0 {
		if ssid == "" {
			return Network{}, fmt.Errorf("%w: no stored networks", ErrNetworkNotConfigured)
		}
		return Network{}, fmt.Errorf("%w: %s", ErrNetworkNotConfigured, ssid)
	}

	visible, err := c.driver.Scan(ctx)
	if err != nil {
		return Network{}, fmt.Errorf("scan: %w", err)
	}
	for _, n := range candidates {
		if slices.Contains(visible, n.SSID) {
			return n, nil
		}
	}
	if ssid == "" {
		return Network{}, fmt.Errorf("%w: no known network visible", ErrNetworkNotInRange)
	}
	return Network{}, fmt.Errorf("%w: %s", ErrNetworkNotInRange, ssid)
}

var errNotYetAssociated = errors.New("not yet associated")

// waitAssociated polls the driver until it reports an association with
// ssid (or with anything when ssid is empty) and returns the joined SSID.
func (c *Controller) waitAssociated(ctx context.Context, ssid string) (string, error) {
	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = c.opts.InitialBackoff
	eb.MaxElapsedTime = 0
	b := backoff.WithContext(backoff.WithMaxRetries(eb, uint64(c.opts.ConnectAttempts-1)), ctx)

	var joined string
	err := backoff.Retry(func() error {
		st, err := c.driver.Status(ctx)
		if err != nil {
			return err
		}
		if !st.Associated || (ssid != "" && st.SSID != ssid) {
			return errNotYetAssociated
		}
		joined = st.SSID
		return nil
	}, b)
	return joined, err
}

// Refresh reads the driver status once and reconciles the state with it.
// It is a no-op while a Connect is in flight.
func (c *Controller) Refresh(ctx context.Context) error {
	select {
	case c.sem <- struct{}{}:
	default:
		return nil
	}
	defer func() { <-c.sem }()

	st, err := c.driver.Status(ctx)
	if err != nil {
		return fmt.Errorf("radio status: %w", err)
	}
	c.observe(st)
	return nil
}

// Run polls the driver until ctx is cancelled, turning associations made
// or lost outside of Connect into events.
func (c *Controller) Run(ctx context.Context) {
	ticker := time.NewTicker(c.opts.PollInterval)
	defer ticker.Stop()

	for {
		if err := c.Refresh(ctx); err != nil && ctx.Err() == nil {
			c.log.Warn("radio poll failed", "error", err)
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func (c *Controller) observe(st Status) {
	cur := c.State()
	switch {
	case st.Associated && cur.Phase == PhaseConnected && cur.SSID == st.SSID:
	case st.Associated && cur.Phase == PhaseConnected:
		c.move(State{Phase: PhaseDisconnected})
		c.move(State{Phase: PhaseConnected, SSID: st.SSID})
	case st.Associated:
		c.move(State{Phase: PhaseConnected, SSID: st.SSID})
	case cur.Phase == PhaseConnected:
		c.move(State{Phase: PhaseDisconnected})
	case cur.Phase == PhaseDisconnected:
		c.move(State{Phase: PhaseIdle})
	}
}

// move applies a transition and publishes the matching event, if any.
// Invalid transitions are logged and dropped.
func (c *Controller) move(next State) {
	c.mu.Lock()
	prev := c.state
	if !CanTransition(prev.Phase, next.Phase) {
		c.mu.Unlock()
		c.log.Warn("rejected radio transition", "error", &TransitionError{From: prev, To: next})
		return
	}
	c.state = next
	c.mu.Unlock()

	c.log.Debug("radio state transition", "from", prev.String(), "to", next.String())

	switch next.Phase {
	case PhaseConnected:
		c.log.Info("radio connected", "ssid", next.SSID)
		c.hub.publish(Event{Type: EventConnected, SSID: next.SSID, Timestamp: c.now()})
	case PhaseDisconnected:
		if prev.Phase == PhaseConnected {
			c.log.Info("radio disconnected", "ssid", prev.SSID)
			c.hub.publish(Event{Type: EventDisconnected, SSID: prev.SSID, Timestamp: c.now()})
		}
	}
}

// Package connectivity tracks reachability of the remote authority and kicks off
// a drain on every offline to online transition.
package connectivity

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Prober checks reachability, a nil error means online
type Prober interface {
	Probe(ctx context.Context) error
}

// ProberFunc adapts a function to Prober
type ProberFunc func(ctx context.Context) error

func (f ProberFunc) Probe(ctx context.Context) error { return f(ctx) }

// Drainer is invoked once per offline to online transition
type Drainer interface {
	Drain(ctx context.Context)
}

// DrainerFunc adapts a function to Drainer
type DrainerFunc func(ctx context.Context)

func (f DrainerFunc) Drain(ctx context.Context) { f(ctx) }

// Event is a connectivity transition
type Event int

const (
	BecameOnline Event = iota + 1
	BecameOffline
)

func (e Event) String() string {
	switch e {
	case BecameOnline:
		return "became_online"
	case BecameOffline:
		return "became_offline"
	default:
		return fmt.Sprintf("Event(%d)", int(e))
	}
}

// Status is the current connectivity
type Status struct {
	Online bool
	// Since is when the current state was entered, zero before the first probe
	Since time.Time
}

// Monitor holds the online flag. It never drains on its own initiative other
// than on an offline to online edge; overlapping drains are left to the drainer.
type Monitor struct {
	prober   Prober
	interval time.Duration
	logger   *logrus.Entry

	mu      sync.Mutex
	status  Status
	drainer Drainer
	subs    map[int]func(Event)
	nextSub int

	drains sync.WaitGroup
}

// NewMonitor creates a monitor that starts offline and probes every interval once Run is called
func NewMonitor(prober Prober, interval time.Duration) *Monitor {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	return &Monitor{
		prober:   prober,
		interval: interval,
		logger:   logrus.WithField("component", "connectivity"),
		subs:     make(map[int]func(Event)),
	}
}

// OnOnline registers the drainer fired on offline to online transitions
func (m *Monitor) OnOnline(d Drainer) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drainer = d
}

// Subscribe registers fn for every transition. Callbacks run synchronously on
// the goroutine that observed the change and must not block.
func (m *Monitor) Subscribe(fn func(Event)) (unsubscribe func()) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id := m.nextSub
	m.nextSub++
	m.subs[id] = fn
	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		delete(m.subs, id)
	}
}

// Online reports the current flag
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status.Online
}

// CurrentStatus returns a copy of the current status
func (m *Monitor) CurrentStatus() Status {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.status
}

// Seed probes once and stores the result without emitting events or draining
func (m *Monitor) Seed(ctx context.Context) bool {
	online := m.probe(ctx)
	m.mu.Lock()
	m.status = Status{Online: online, Since: time.Now()}
	m.mu.Unlock()
	m.logger.WithField("online", online).Info("Initial connectivity")
	return online
}

// Set records an observed state. A change notifies subscribers and, when the
// device came online, starts one drain in the background.
func (m *Monitor) Set(ctx context.Context, online bool) {
	m.mu.Lock()
	if m.status.Online == online {
		m.mu.Unlock()
		return
	}
	m.status = Status{Online: online, Since: time.Now()}
	subs := make([]func(Event), 0, len(m.subs))
	for _, fn := range m.subs {
		subs = append(subs, fn)
	}
	drainer := m.drainer
	m.mu.Unlock()

	event := BecameOffline
	if online {
		event = BecameOnline
	}
	m.logger.WithField("event", event.String()).Info("Connectivity changed")
	for _, fn := range subs {
		fn(event)
	}

	if event == BecameOnline && drainer != nil {
		m.drains.Add(1)
		go func() {
			defer m.drains.Done()
			drainer.Drain(ctx)
		}()
	}
}

// Run probes on every tick until ctx is done, then waits for started drains
func (m *Monitor) Run(ctx context.Context) error {
	m.logger.WithField("interval", m.interval).Info("Starting connectivity monitor")
	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.Wait()
			m.logger.Info("Connectivity monitor stopped")
			return ctx.Err()
		case <-ticker.C:
			m.Set(ctx, m.probe(ctx))
		}
	}
}

// Wait blocks until every drain started by the monitor has returned
func (m *Monitor) Wait() {
	m.drains.Wait()
}

func (m *Monitor) probe(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, m.interval)
	defer cancel()
	if err := m.prober.Probe(ctx); err != nil {
		m.logger.WithError(err).Debug("Probe failed")
		return false
	}
	return true
}

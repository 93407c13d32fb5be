package progress

import (
	"math"
	"sort"
	"sync"
)

// Sink receives per-chunk progress from a running download.
type Sink interface {
	Report(filename string, fraction float64)
}

// SinkFunc adapts a plain function to Sink.
type SinkFunc func(filename string, fraction float64)

func (f SinkFunc) Report(filename string, fraction float64) { f(filename, fraction) }

// Discard drops every report.
var Discard Sink = SinkFunc(func(string, float64) {})

// Event is one progress update fanned out to subscribers.
type Event struct {
	Filename string  `json:"filename"`
	Fraction float64 `json:"fraction"`
}

// Tracker is the process-wide filename -> fraction mapping.
// Every download writes into it through its Sink methods; the API and CLI read it.
type Tracker struct {
	mu      sync.RWMutex
	entries map[string]float64

	subMu  sync.Mutex
	subs   map[int]*subscriber
	nextID int
}

func NewTracker() *Tracker {
	return &Tracker{
		entries: make(map[string]float64),
		subs:    make(map[int]*subscriber),
	}
}

// Clamp bounds a fraction to [0,1]. NaN is treated as no progress.
func Clamp(f float64) float64 {
	switch {
	case math.IsNaN(f), f < 0:
		return 0
	case f > 1:
		return 1
	}
	return f
}

func (t *Tracker) Report(filename string, fraction float64) {
	fraction = Clamp(fraction)

	t.mu.Lock()
	t.entries[filename] = fraction
	t.mu.Unlock()

	t.publish(Event{Filename: filename, Fraction: fraction})
}

func (t *Tracker) Get(filename string) (float64, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	f, ok := t.entries[filename]
	return f, ok
}

// Snapshot returns a copy safe to hand to callers.
func (t *Tracker) Snapshot() map[string]float64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make(map[string]float64, len(t.entries))
	for k, v := range t.entries {
		out[k] = v
	}
	return out
}

// Events returns the current state as a sorted slice, used to prime new subscribers.
func (t *Tracker) Events() []Event {
	snap := t.Snapshot()
	out := make([]Event, 0, len(snap))
	for k, v := range snap {
		out = append(out, Event{Filename: k, Fraction: v})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Filename < out[j].Filename })
	return out
}

// Seed inserts a zero entry for every filename not yet tracked.
func (t *Tracker) Seed(filenames []string) {
	var added []Event

	t.mu.Lock()
	for _, name := range filenames {
		if _, ok := t.entries[name]; !ok {
			t.entries[name] = 0
			added = append(added, Event{Filename: name})
		}
	}
	t.mu.Unlock()

	for _, ev := range added {
		t.publish(ev)
	}
}

// Reset drops a filename back to zero if it is tracked.
func (t *Tracker) Reset(filename string) bool {
	t.mu.Lock()
	_, ok := t.entries[filename]
	if ok {
		t.entries[filename] = 0
	}
	t.mu.Unlock()

	if ok {
		t.publish(Event{Filename: filename})
	}
	return ok
}

// Subscribe registers a listener. Updates for the same filename are
// coalesced while the listener is behind, so a slow reader skips
// intermediate fractions but always ends on the latest one per file.
// Report never blocks on a subscriber.
func (t *Tracker) Subscribe(buffer int) (<-chan Event, func()) {
	if buffer < 1 {
		buffer = 1
	}
	sub := &subscriber{
		pending: make(map[string]float64),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		out:     make(chan Event, buffer),
	}

	t.subMu.Lock()
	id := t.nextID
	t.nextID++
	t.subs[id] = sub
	t.subMu.Unlock()

	go sub.run()

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			t.subMu.Lock()
			delete(t.subs, id)
			t.subMu.Unlock()
			close(sub.done)
		})
	}
	return sub.out, cancel
}

func (t *Tracker) publish(ev Event) {
	t.subMu.Lock()
	defer t.subMu.Unlock()
	for _, sub := range t.subs {
		sub.push(ev)
	}
}

// subscriber holds at most one undelivered value per filename.
// order keeps filenames in the order they first became pending.
type subscriber struct {
	mu      sync.Mutex
	pending map[string]float64
	order   []string

	notify chan struct{}
	done   chan struct{}
	out    chan Event
}

func (s *subscriber) push(ev Event) {
	s.mu.Lock()
	if _, ok := s.pending[ev.Filename]; !ok {
		s.order = append(s.order, ev.Filename)
	}
	s.pending[ev.Filename] = ev.Fraction
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
}

func (s *subscriber) take() (Event, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.order) == 0 {
		return Event{}, false
	}
	name := s.order[0]
	s.order = s.order[1:]
	f := s.pending[name]
	delete(s.pending, name)
	return Event{Filename: name, Fraction: f}, true
}

// run moves pending values to out until cancelled, then closes out.
func (s *subscriber) run() {
	defer close(s.out)
	for {
		ev, ok := s.take()
		if !ok {
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}

		select {
		case <-s.done:
			return
		default:
		}

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}

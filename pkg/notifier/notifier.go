package notifier

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"
)

const (
	DefaultStartAfter = 10 * time.Second
	DefaultInterval   = 2 * time.Second
)

var (
	ErrAlreadyRunning = errors.New("notifier: already running")
	ErrBadInterval    = errors.New("notifier: interval must be positive")
	ErrEmptyID        = errors.New("notifier: empty watch id")
)

type Option func(n *Notifier)

func WithLogger(logger *zap.Logger) Option {
	return func(n *Notifier) {
		n.logger = logger
	}
}

// WithSchedule sets the delay before the first poll and the delay between polls.
func WithSchedule(startAfter, interval time.Duration) Option {
	return func(n *Notifier) {
		n.startAfter = startAfter
		n.interval = interval
	}
}

// Notifier polls the modification time of watched files and tells its
// listeners about every file whose time moved forward.
type Notifier struct {
	entries map[string]*Entry
	rwM     sync.RWMutex

	listeners []Listener
	lM        sync.Mutex

	// pollM keeps cycles from overlapping
	pollM sync.Mutex

	stateM     sync.Mutex
	done       chan struct{}
	stopped    chan struct{} // closed when the run owning done returns
	startAfter time.Duration
	interval   time.Duration

	logger *zap.Logger
}

func New(options ...Option) *Notifier {
	n := Notifier{
		entries:    make(map[string]*Entry),
		listeners:  make([]Listener, 0),
		startAfter: DefaultStartAfter,
		interval:   DefaultInterval,
		logger:     zap.NewNop(),
	}

	for _, op := range options {
		op(&n)
	}

	return &n
}

// Start runs the configured schedule.
func (n *Notifier) Start() error {
	return n.StartWith(n.startAfter, n.interval)
}

// StartWith polls once after startAfter, then every interval, until Stop.
func (n *Notifier) StartWith(startAfter, interval time.Duration) error {
	if interval <= 0 {
		return ErrBadInterval
	}
	if startAfter < 0 {
		startAfter = 0
	}

	n.stateM.Lock()
	defer n.stateM.Unlock()

	if n.done != nil {
		return ErrAlreadyRunning
	}

	done, stopped := make(chan struct{}), make(chan struct{})
	n.done, n.stopped = done, stopped
	go n.run(done, stopped, startAfter, interval)

	n.logger.Info("notifier :: started",
		zap.Duration("start_after", startAfter),
		zap.Duration("interval", interval))
	return nil
}

// Stop ends the schedule and waits for a running cycle to complete.
// It must not be called from a listener.
func (n *Notifier) Stop() {
	n.stateM.Lock()
	done, stopped := n.done, n.stopped
	n.done, n.stopped = nil, nil
	n.stateM.Unlock()

	if done == nil {
		return
	}
	close(done)
	<-stopped
	n.logger.Info("notifier :: stopped")
}

func (n *Notifier) Running() bool {
	n.stateM.Lock()
	defer n.stateM.Unlock()
	return n.done != nil
}

func (n *Notifier) run(done, stopped chan struct{}, startAfter, interval time.Duration) {
	defer close(stopped)

	timer := time.NewTimer(startAfter)
	defer timer.Stop()
	select {
	case <-timer.C:
	case <-done:
		return
	}
	n.Poll()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			n.Poll()
		case <-done:
			return
		}
	}
}

// Watch registers file under its canonical absolute path and returns that id.
func (n *Notifier) Watch(file string) (string, error) {
	return n.WatchID("", file)
}

// WatchID registers file under id (the canonical path when id is empty).
// Watching an id again replaces the entry: changes made before this call are not reported.
func (n *Notifier) WatchID(id, file string) (string, error) {
	path, err := canonical(file)
	if err != nil {
		return "", fmt.Errorf("notifier: watch %s: %w", file, err)
	}
	if id == "" {
		id = path
	}

	// a missing file starts from the zero time and is reported once it appears
	mt, err := modTime(path)
	if err != nil {
		n.logger.Debug("notifier :: watching missing file", zap.String("file", path), zap.Error(err))
	}

	n.rwM.Lock()
	n.entries[id] = &Entry{ID: id, File: path, LastModified: mt}
	n.rwM.Unlock()

	n.logger.Debug("notifier :: watch", zap.String("id", id), zap.String("file", path), zap.Time("modified_at", mt))
	return id, nil
}

// Unwatch forgets id; unknown ids are ignored.
func (n *Notifier) Unwatch(id string) {
	n.rwM.Lock()
	delete(n.entries, id)
	n.rwM.Unlock()
}

// UnwatchFile forgets the entry registered for file without an explicit id.
func (n *Notifier) UnwatchFile(file string) error {
	path, err := canonical(file)
	if err != nil {
		return fmt.Errorf("notifier: unwatch %s: %w", file, err)
	}
	n.Unwatch(path)
	return nil
}

func (n *Notifier) Entry(id string) (Entry, bool) {
	n.rwM.RLock()
	defer n.rwM.RUnlock()
	e, ok := n.entries[id]
	if !ok {
		return Entry{}, false
	}
	return *e, true
}

// Entries returns a copy of the watched entries ordered by id.
func (n *Notifier) Entries() []Entry {
	n.rwM.RLock()
	out := make([]Entry, 0, len(n.entries))
	for _, e := range n.entries {
		out = append(out, *e)
	}
	n.rwM.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// AddListener registers l; adding a registered listener again has no effect.
func (n *Notifier) AddListener(l Listener) {
	n.lM.Lock()
	defer n.lM.Unlock()
	for _, cur := range n.listeners {
		if cur == l {
			return
		}
	}
	n.listeners = append(n.listeners, l)
}

func (n *Notifier) RemoveListener(l Listener) {
	n.lM.Lock()
	defer n.lM.Unlock()
	for i, cur := range n.listeners {
		if cur == l {
			// copy, a running cycle may still iterate the old slice
			next := make([]Listener, 0, len(n.listeners)-1)
			next = append(next, n.listeners[:i]...)
			next = append(next, n.listeners[i+1:]...)
			n.listeners = next
			return
		}
	}
}

func (n *Notifier) Listeners() []Listener {
	n.lM.Lock()
	defer n.lM.Unlock()
	out := make([]Listener, len(n.listeners))
	copy(out, n.listeners)
	return out
}

type snapshotEntry struct {
	ptr   *Entry
	entry Entry
}

func (n *Notifier) snapshot() []snapshotEntry {
	n.rwM.RLock()
	defer n.rwM.RUnlock()

	out := make([]snapshotEntry, 0, len(n.entries))
	for _, e := range n.entries {
		out = append(out, snapshotEntry{ptr: e, entry: *e})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].entry.ID < out[j].entry.ID })
	return out
}

// Poll runs one check over every watched entry.
// Listeners registered while the cycle runs are notified from the next cycle on.
func (n *Notifier) Poll() {
	n.pollM.Lock()
	defer n.pollM.Unlock()

	defer func() {
		if r := recover(); r != nil {
			n.logger.Error("notifier :: poll cycle failed", zap.Any("panic", r))
		}
	}()

	entries := n.snapshot()
	listeners := n.Listeners()

	for _, s := range entries {
		mt, err := modTime(s.entry.File)
		if err != nil {
			n.logger.Warn("notifier :: cannot check file",
				zap.String("id", s.entry.ID),
				zap.String("file", s.entry.File),
				zap.Error(err))
			continue
		}
		if !mt.After(s.entry.LastModified) {
			continue
		}

		n.logger.Debug("notifier :: file changed", zap.String("id", s.entry.ID), zap.Time("modified_at", mt))
		n.fire(listeners, s.entry, mt)

		n.rwM.Lock()
		// a listener may have re-watched or unwatched the entry meanwhile
		if cur, ok := n.entries[s.entry.ID]; ok && cur == s.ptr {
			cur.LastModified = mt
		}
		n.rwM.Unlock()
	}
}

func (n *Notifier) fire(listeners []Listener, entry Entry, observed time.Time) {
	for _, l := range listeners {
		if err := n.notify(l, entry, observed); err != nil {
			n.logger.Error("notifier :: error while notifying file change",
				zap.String("id", entry.ID),
				zap.String("file", entry.File),
				zap.Error(err))
		}
	}
}

func (n *Notifier) notify(l Listener, entry Entry, observed time.Time) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("notifier: listener panic: %v", r)
		}
	}()
	return l.FileChanged(entry, observed)
}

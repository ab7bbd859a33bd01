package notifier

import "time"

// Listener receives change notifications on the poll goroutine.
// Listeners are compared with ==, so implementations must be comparable
// (pointer receivers are the usual choice).
type Listener interface {
	FileChanged(entry Entry, observed time.Time) error
}

type ListenerFunc func(entry Entry, observed time.Time) error

type funcListener struct {
	fn ListenerFunc
}

func (l *funcListener) FileChanged(entry Entry, observed time.Time) error {
	return l.fn(entry, observed)
}

// NewListener wraps fn; keep the returned value to remove it later.
func NewListener(fn ListenerFunc) Listener {
	return &funcListener{fn: fn}
}

package fixture

import (
	"context"
	"fmt"
	"io"
	"sync"
)

// Releaser is implemented by fixture values that need an explicit release.
type Releaser interface {
	Release(ctx context.Context) error
}

// Entry records one successfully acquired fixture.
type Entry struct {
	Name    string
	Scope   Scope
	release func(ctx context.Context) error
}

// Releasable reports whether the entry has a release function.
func (e Entry) Releasable() bool { return e.release != nil }

// Ledger is the ordered record of acquired fixtures. Entries are appended in
// resolution order and released in exactly the reverse order.
type Ledger struct {
	mu      sync.Mutex
	entries []Entry
}

func NewLedger() *Ledger {
	return &Ledger{}
}

// Record appends an entry for a fixture whose provider succeeded. It is
// recorded even when value has nothing to release.
func (l *Ledger) Record(def Definition, value any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = append(l.entries, Entry{
		Name:    def.Name,
		Scope:   def.Scope,
		release: releaseFor(def, value),
	})
}

func (l *Ledger) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Names returns the recorded fixture names in acquisition order.
func (l *Ledger) Names() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	names := make([]string, len(l.entries))
	for i, e := range l.entries {
		names[i] = e.Name
	}
	return names
}

// Release runs every release function from the newest entry to the oldest.
// A failing or panicking release does not stop the remaining ones; each
// failure is returned as a TeardownFailureKind error. The ledger is empty
// afterwards.
func (l *Ledger) Release(ctx context.Context, log Logger) []error {
	l.mu.Lock()
	entries := l.entries
	l.entries = nil
	l.mu.Unlock()

	var errs []error
	for i := len(entries) - 1; i >= 0; i-- {
		e := entries[i]
		if e.release == nil {
			log.Debugf("Nothing to release for fixture: %s", e.Name)
			continue
		}
		log.Debugf("Releasing fixture: %s", e.Name)
		if err := safeCall(func() error { return e.release(ctx) }); err != nil {
			log.Warnf("Failed to release fixture %s: %v", e.Name, err)
			errs = append(errs, &Error{Kind: TeardownFailureKind, Name: e.Name, Err: err})
		}
	}
	return errs
}

func releaseFor(def Definition, value any) func(context.Context) error {
	if def.Options.Teardown != nil {
		return func(ctx context.Context) error { return def.Options.Teardown(ctx, value) }
	}
	switch v := value.(type) {
	case Releaser:
		return v.Release
	case io.Closer:
		return func(context.Context) error { return v.Close() }
	}
	return nil
}

// safeCall converts a panic in fn into an error.
func safeCall(fn func() error) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return fn()
}

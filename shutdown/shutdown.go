package shutdown

import (
	"container/heap"
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/flanksource/commons/logger"
)

// Hooks run in ascending priority: running tests are abandoned first, then
// suite fixtures are released, then stores are closed.
const (
	PriorityTests    = 0
	PriorityDefault  = 100
	PriorityFixtures = 200
	PriorityStores   = 300
	PriorityCritical = 400
)

// Timeout bounds how long the hooks may run after a signal.
var Timeout = 30 * time.Second

type Hook struct {
	label    string
	priority int
	seq      int
	fn       func(context.Context) error
	index    int // for heap interface
}

type hookHeap []*Hook

func (h hookHeap) Len() int { return len(h) }
func (h hookHeap) Less(i, j int) bool {
	if h[i].priority == h[j].priority {
		return h[i].seq < h[j].seq
	}
	return h[i].priority < h[j].priority
}
func (h hookHeap) Swap(i, j int) {
	h[i], h[j] = h[j], h[i]
	h[i].index = i
	h[j].index = j
}

func (h *hookHeap) Push(x any) {
	item := x.(*Hook)
	item.index = len(*h)
	*h = append(*h, item)
}

func (h *hookHeap) Pop() any {
	old := *h
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	item.index = -1
	*h = old[0 : n-1]
	return item
}

// Hooks is a set of shutdown callbacks. The zero value is ready to use.
type Hooks struct {
	mu    sync.Mutex
	hooks hookHeap
	seq   int
}

// Add registers fn. Hooks with equal priority run in registration order.
func (h *Hooks) Add(label string, priority int, fn func(context.Context) error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.seq++
	heap.Push(&h.hooks, &Hook{label: label, priority: priority, seq: h.seq, fn: fn})
}

func (h *Hooks) Len() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hooks.Len()
}

// Run executes and removes every hook. A failing or panicking hook does not
// stop the others; their errors are returned.
func (h *Hooks) Run(ctx context.Context) []error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if len(h.hooks) == 0 {
		return nil
	}
	logger.Infof("Executing %d shutdown hooks", len(h.hooks))

	var errs []error
	for h.hooks.Len() > 0 {
		hook := heap.Pop(&h.hooks).(*Hook)
		logger.Debugf("Executing shutdown hook: %s (priority=%d)", hook.label, hook.priority)
		if err := call(ctx, hook); err != nil {
			logger.Errorf("Shutdown hook %s failed: %v", hook.label, err)
			errs = append(errs, fmt.Errorf("%s: %w", hook.label, err))
		}
	}
	logger.Infof("All shutdown hooks executed")
	return errs
}

func call(ctx context.Context, hook *Hook) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	return hook.fn(ctx)
}

// Notify returns a context that is cancelled on SIGINT or SIGTERM. The first
// signal cancels it and runs the hooks; a second signal exits immediately.
// stop unregisters the signal handler.
func (h *Hooks) Notify(parent context.Context) (ctx context.Context, stop func()) {
	ctx, cancel := context.WithCancel(parent)
	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})

	go func() {
		select {
		case sig := <-sigChan:
			_, _ = fmt.Fprintf(os.Stderr, "\nReceived %s - releasing fixtures...\n", sig)
			_, _ = fmt.Fprintf(os.Stderr, "   Press Ctrl+C again to force immediate exit\n\n")
			go func() {
				select {
				case <-sigChan:
					_, _ = fmt.Fprintf(os.Stderr, "\nForce exit\n")
					os.Exit(1)
				case <-done:
				}
			}()
			cancel()
			hookCtx, cancelHooks := context.WithTimeout(context.WithoutCancel(parent), Timeout)
			defer cancelHooks()
			h.Run(hookCtx)
		case <-done:
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() {
			signal.Stop(sigChan)
			close(done)
			cancel()
		})
	}
}

var std Hooks

func AddHook(label string, fn func(context.Context) error) {
	std.Add(label, PriorityDefault, fn)
}

func AddHookWithPriority(label string, priority int, fn func(context.Context) error) {
	std.Add(label, priority, fn)
}

// Shutdown runs the process-wide hooks.
func Shutdown(ctx context.Context) []error {
	return std.Run(ctx)
}

// Notify watches for signals on behalf of the process-wide hooks.
func Notify(parent context.Context) (context.Context, func()) {
	return std.Notify(parent)
}

// RecoverAndShutdown is deferred in main: hooks run on a normal return and
// before a panic is propagated.
func RecoverAndShutdown() {
	r := recover()
	ctx, cancel := context.WithTimeout(context.Background(), Timeout)
	defer cancel()
	Shutdown(ctx)
	if r != nil {
		panic(r)
	}
}

// Package persist issues store writes off the caller's path. The in-memory
// state is updated first; the write follows asynchronously.
package persist

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/claude/fitcycle/internal/store"
)

// DefaultWriteTimeout bounds each individual store write.
const DefaultWriteTimeout = 5 * time.Second

// Writer serialises JSON writes to a store on one background goroutine.
// Values are marshalled when Save is called; if a key is saved again before
// its previous value reached the store, only the newest value is written.
// Write failures are logged and dropped.
type Writer struct {
	store   store.Store
	log     *slog.Logger
	timeout time.Duration

	mu      sync.Mutex
	pending map[string][]byte
	order   []string
	writing bool
	closed  bool
	waiters []chan struct{}

	kick chan struct{}
	done chan struct{}
}

// NewWriter starts a Writer for s.
func NewWriter(s store.Store, log *slog.Logger) *Writer {
	w := &Writer{
		store:   s,
		log:     log,
		timeout: DefaultWriteTimeout,
		pending: map[string][]byte{},
		kick:    make(chan struct{}, 1),
		done:    make(chan struct{}),
	}
	go w.loop()
	return w
}

// Save queues v for writing under key.
func (w *Writer) Save(key string, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		w.log.Warn("persist: marshal failed", "key", key, "error", err)
		return
	}

	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		w.log.Warn("persist: write after close dropped", "key", key)
		return
	}
	if _, queued := w.pending[key]; !queued {
		w.order = append(w.order, key)
	}
	w.pending[key] = data
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
}

// Flush blocks until every value saved before the call has been written (or
// dropped on error), or ctx is done.
func (w *Writer) Flush(ctx context.Context) error {
	w.mu.Lock()
	if len(w.order) == 0 && !w.writing {
		w.mu.Unlock()
		return nil
	}
	ch := make(chan struct{})
	w.waiters = append(w.waiters, ch)
	w.mu.Unlock()

	select {
	case <-ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close writes whatever is still queued and stops the goroutine.
func (w *Writer) Close() {
	w.mu.Lock()
	if w.closed {
		w.mu.Unlock()
		<-w.done
		return
	}
	w.closed = true
	w.mu.Unlock()

	select {
	case w.kick <- struct{}{}:
	default:
	}
	<-w.done
}

func (w *Writer) loop() {
	defer close(w.done)
	for range w.kick {
		for {
			key, data, ok := w.next()
			if !ok {
				break
			}
			w.write(key, data)
		}

		w.mu.Lock()
		w.writing = false
		idle := len(w.order) == 0
		if idle {
			for _, ch := range w.waiters {
				close(ch)
			}
			w.waiters = nil
		}
		closed := w.closed
		w.mu.Unlock()

		if closed && idle {
			return
		}
	}
}

func (w *Writer) next() (string, []byte, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.order) == 0 {
		return "", nil, false
	}
	key := w.order[0]
	w.order = w.order[1:]
	data := w.pending[key]
	delete(w.pending, key)
	w.writing = true
	return key, data, true
}

func (w *Writer) write(key string, data []byte) {
	ctx, cancel := context.WithTimeout(context.Background(), w.timeout)
	defer cancel()
	if err := w.store.Set(ctx, key, data); err != nil {
		w.log.Warn("persist: write failed", "key", key, "error", err)
	}
}

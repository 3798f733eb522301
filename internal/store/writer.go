package store

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

const appendTimeout = 2 * time.Second

// Writer feeds a Journal from a bounded buffer so callers never block on disk.
type Writer struct {
	journal Journal
	entries chan Entry
	log     *zerolog.Logger
	done    chan struct{}
}

// NewWriter creates a writer with room for size pending entries.
func NewWriter(j Journal, size int, logger *zerolog.Logger) *Writer {
	if size <= 0 {
		size = 256
	}
	return &Writer{
		journal: j,
		entries: make(chan Entry, size),
		log:     logger,
		done:    make(chan struct{}),
	}
}

// Record queues an entry. It drops the entry when the buffer is full.
func (w *Writer) Record(e Entry) {
	if w == nil {
		return
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now()
	}
	select {
	case w.entries <- e:
	default:
		w.log.Warn().Str("kind", string(e.Kind)).Str("room", e.Room).Msg("journal buffer full, entry dropped")
	}
}

// Run drains the buffer until ctx is cancelled, then flushes what is left.
func (w *Writer) Run(ctx context.Context) {
	defer close(w.done)
	for {
		select {
		case e := <-w.entries:
			w.append(e)
		case <-ctx.Done():
			for {
				select {
				case e := <-w.entries:
					w.append(e)
				default:
					return
				}
			}
		}
	}
}

// Done is closed once Run has flushed and returned.
func (w *Writer) Done() <-chan struct{} {
	return w.done
}

func (w *Writer) append(e Entry) {
	ctx, cancel := context.WithTimeout(context.Background(), appendTimeout)
	defer cancel()
	if err := w.journal.Append(ctx, &e); err != nil {
		w.log.Error().Err(err).Str("kind", string(e.Kind)).Str("session_id", e.SessionID).Msg("journal append failed")
	}
}

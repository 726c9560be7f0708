// Package autosave persists the draft note in the background without
// flooding the record service and without losing the latest edit. It is a
// trailing debounce: each edit cancels and restarts a single-slot timer, and
// at most one flush is in flight per encounter at any time.
package autosave

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/clinisys/consult/internal/domain/draft"
	"github.com/clinisys/consult/internal/platform/recordapi"
)

// ErrClosed is returned by ForceSave after the owning session has been
// torn down.
var ErrClosed = errors.New("autosave: pipeline closed")

// Saver is the slice of the record API the pipeline needs.
type Saver interface {
	SaveNote(ctx context.Context, encounterID uuid.UUID, note recordapi.NoteFields) error
}

// Pipeline debounces and serializes note flushes for one encounter.
type Pipeline struct {
	store       *draft.Store
	saver       Saver
	encounterID uuid.UUID
	debounce    time.Duration
	logger      zerolog.Logger

	onSaved func(at time.Time, note recordapi.NoteFields)
	onError func(err error)

	mu       sync.Mutex
	timer    *time.Timer
	inflight chan struct{} // non-nil while a flush is running; closed on completion
	closed   bool
}

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithOnSaved registers a hook invoked after every successful flush. The
// time passed is when the flushed snapshot was captured, not when the write
// landed: edits made after that instant are not covered by the flush.
func WithOnSaved(fn func(at time.Time, note recordapi.NoteFields)) Option {
	return func(p *Pipeline) { p.onSaved = fn }
}

// WithOnError registers a hook invoked when a background flush fails.
// Background failures are otherwise silent: the draft stays dirty and the
// next debounce cycle retries.
func WithOnError(fn func(err error)) Option {
	return func(p *Pipeline) { p.onError = fn }
}

// WithLogger attaches a logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Pipeline) { p.logger = l }
}

func NewPipeline(store *draft.Store, saver Saver, encounterID uuid.UUID, debounce time.Duration, opts ...Option) *Pipeline {
	p := &Pipeline{
		store:       store,
		saver:       saver,
		encounterID: encounterID,
		debounce:    debounce,
		logger:      zerolog.Nop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Notify schedules a flush after the debounce window. Calling it again
// before the window elapses restarts the timer, so a burst of edits
// coalesces into one flush carrying the final field values.
func (p *Pipeline) Notify() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed || p.store.ReadOnly() {
		return
	}
	if p.timer != nil {
		p.timer.Stop()
	}
	p.timer = time.AfterFunc(p.debounce, p.backgroundFlush)
}

// ForceSave bypasses the debounce timer, waits for any in-flight flush to
// resolve, then issues one final flush if the draft is still dirty. It is
// idempotent: with nothing pending it returns immediately without a network
// call. Unlike background flushes, its failure is surfaced to the caller —
// a failed force-save must block completion.
func (p *Pipeline) ForceSave(ctx context.Context) error {
	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return ErrClosed
		}
		if p.timer != nil {
			p.timer.Stop()
			p.timer = nil
		}
		if ch := p.inflight; ch != nil {
			// Sequence behind the in-flight flush; never race or abort it.
			p.mu.Unlock()
			select {
			case <-ch:
			case <-ctx.Done():
				return ctx.Err()
			}
			continue
		}
		done := make(chan struct{})
		p.inflight = done
		p.mu.Unlock()

		err := p.flush(ctx)
		p.release(done)
		return err
	}
}

// Close stops the debounce timer. An in-flight flush is not aborted, to
// avoid a lost write, but its outcome is discarded.
func (p *Pipeline) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
	if p.timer != nil {
		p.timer.Stop()
		p.timer = nil
	}
}

func (p *Pipeline) backgroundFlush() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	if p.inflight != nil {
		// A flush is already running; it re-evaluates dirtiness when it
		// resolves and re-arms if needed.
		p.mu.Unlock()
		return
	}
	done := make(chan struct{})
	p.inflight = done
	p.mu.Unlock()

	err := p.flush(context.Background())
	p.release(done)

	if err != nil {
		p.logger.Debug().Err(err).Str("encounter_id", p.encounterID.String()).
			Msg("autosave flush failed, will retry on next edit")
		if p.onError != nil {
			p.onError(err)
		}
		return
	}

	// Edits that arrived during the flush leave the draft dirty; schedule
	// a follow-up cycle.
	if p.store.Dirty() && !p.isClosed() {
		p.Notify()
	}
}

// flush performs one save round trip. Caller must hold the inflight slot.
func (p *Pipeline) flush(ctx context.Context) error {
	snapshot, err := p.store.BeginSave()
	if err != nil {
		if errors.Is(err, draft.ErrClean) {
			return nil
		}
		return err
	}
	capturedAt := time.Now().UTC()

	if err := p.saver.SaveNote(ctx, p.encounterID, snapshot); err != nil {
		if !p.isClosed() {
			p.store.FailSave()
		}
		return err
	}

	now := time.Now().UTC()
	if p.isClosed() {
		// Session is gone; the write landed but nobody is watching.
		return nil
	}
	p.store.FinishSave(now)
	if p.onSaved != nil {
		p.onSaved(capturedAt, snapshot)
	}
	return nil
}

func (p *Pipeline) release(done chan struct{}) {
	p.mu.Lock()
	p.inflight = nil
	p.mu.Unlock()
	close(done)
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

package applier

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

const (
	// lingerTimeout flushes a short batch that never fills
	lingerTimeout = 250 * time.Millisecond

	// Commit retry backoff for contended batches
	retryBase     = 50 * time.Millisecond
	retryCeiling  = 2 * time.Second
	retryAttempts = 6
)

// Applier turns the bursty stream of change events into batched store
// transactions. Journal consumers and the initial enumeration feed it;
// reconciliation swaps and control-plane writes (state, checkpoints)
// take the store's write token directly, which serializes all writers.
type Applier struct {
	st        *store.Store
	batchSize int
	logger    zerolog.Logger

	mu      sync.Mutex
	pending map[types.ChangeKey]types.ChangeEvent
	// order preserves first-arrival order per key; dedup collapses
	// in place
	order []types.ChangeKey

	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
}

// New creates an applier flushing at batchSize
func New(st *store.Store, batchSize int) *Applier {
	return &Applier{
		st:        st,
		batchSize: batchSize,
		logger:    log.WithComponent("applier"),
		pending:   make(map[types.ChangeKey]types.ChangeEvent),
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start launches the linger loop that flushes short batches
func (a *Applier) Start(ctx context.Context) {
	a.started = true
	go a.run(ctx)
}

// Stop flushes what is pending and stops the linger loop
func (a *Applier) Stop() {
	if !a.started {
		return
	}
	close(a.stopCh)
	<-a.doneCh
}

func (a *Applier) run(ctx context.Context) {
	defer close(a.doneCh)
	ticker := time.NewTicker(lingerTimeout)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			if err := a.Flush(ctx); err != nil {
				a.logger.Error().Err(err).Msg("Linger flush failed")
			}
		case <-a.stopCh:
			if err := a.Flush(context.Background()); err != nil {
				a.logger.Error().Err(err).Msg("Final flush failed")
			}
			return
		case <-ctx.Done():
			return
		}
	}
}

// Enqueue folds events into the pending batch, flushing when the batch
// reaches batchSize. Events for the same (volume, node_ref) key collapse
// by the dedup rules.
func (a *Applier) Enqueue(ctx context.Context, events []types.ChangeEvent) error {
	a.mu.Lock()
	for _, ev := range events {
		a.fold(ev)
	}
	full := len(a.pending) >= a.batchSize
	a.mu.Unlock()

	if full {
		return a.Flush(ctx)
	}
	return nil
}

// ApplyAndFlush folds events and commits everything pending before
// returning. The journal consumer uses it so checkpoints only advance
// past durably applied events.
func (a *Applier) ApplyAndFlush(ctx context.Context, events []types.ChangeEvent) error {
	a.mu.Lock()
	for _, ev := range events {
		a.fold(ev)
	}
	a.mu.Unlock()
	return a.Flush(ctx)
}

// fold applies the in-batch dedup rules. Caller holds a.mu.
func (a *Applier) fold(ev types.ChangeEvent) {
	key := ev.Key()
	prev, exists := a.pending[key]
	if !exists {
		a.pending[key] = ev
		a.order = append(a.order, key)
		return
	}

	switch ev.Op {
	case types.ChangeOpDelete:
		if prev.Op == types.ChangeOpCreate {
			// Create followed by delete collapses to a no-op; the key
			// was never visible to a reader
			delete(a.pending, key)
			return
		}
		a.pending[key] = ev

	case types.ChangeOpModify:
		// Modify only carries size and mtime; the surviving event
		// keeps its op, name and parent
		if prev.Op == types.ChangeOpDelete {
			a.pending[key] = ev
			return
		}
		prev.Size = ev.Size
		prev.ModifiedAt = ev.ModifiedAt
		a.pending[key] = prev

	case types.ChangeOpRename:
		// Rename supersedes a prior create or modify but a not-yet-
		// inserted entry still needs its insert
		op := ev.Op
		if prev.Op == types.ChangeOpCreate {
			op = types.ChangeOpCreate
		}
		ev.Op = op
		if ev.Size == 0 && prev.Size != 0 {
			ev.Size = prev.Size
		}
		a.pending[key] = ev

	default:
		a.pending[key] = ev
	}
}

// Flush commits the pending batch in one transaction, retrying
// contended commits with bounded exponential backoff. The batch stays
// pending on failure so the caller can retry it wholesale.
func (a *Applier) Flush(ctx context.Context) error {
	a.mu.Lock()
	if len(a.pending) == 0 {
		a.mu.Unlock()
		return nil
	}
	batch := a.pending
	order := a.order
	a.pending = make(map[types.ChangeKey]types.ChangeEvent)
	a.order = nil
	a.mu.Unlock()

	backoff := retryBase
	var lastErr error
	for attempt := 0; attempt < retryAttempts; attempt++ {
		if ctx.Err() != nil {
			a.requeue(batch, order)
			return ctx.Err()
		}
		err := a.commit(ctx, batch, order)
		if err == nil {
			return nil
		}
		lastErr = err
		if !store.IsBusy(err) && !errors.Is(err, store.ErrWriterBusy) {
			a.requeue(batch, order)
			return err
		}
		time.Sleep(backoff)
		backoff *= 2
		if backoff > retryCeiling {
			backoff = retryCeiling
		}
	}
	a.requeue(batch, order)
	return fmt.Errorf("%w: %v", store.ErrBusyTimeout, lastErr)
}

// requeue puts a failed batch back without clobbering newer events
func (a *Applier) requeue(batch map[types.ChangeKey]types.ChangeEvent, order []types.ChangeKey) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for _, key := range order {
		ev, ok := batch[key]
		if !ok {
			continue
		}
		if _, newer := a.pending[key]; newer {
			continue
		}
		a.pending[key] = ev
		a.order = append(a.order, key)
	}
}

func (a *Applier) commit(ctx context.Context, batch map[types.ChangeKey]types.ChangeEvent, order []types.ChangeKey) error {
	tx, err := a.st.BeginWrite()
	if err != nil {
		return err
	}

	touched := make(map[string]bool)
	// Directory upserts go first so children inserted in the same
	// batch find their parents; deletes run last and cascade
	if err := a.applyPhase(tx, batch, order, touched, func(ev types.ChangeEvent) bool {
		return ev.Op != types.ChangeOpDelete && ev.IsDir
	}); err != nil {
		tx.Abort()
		return err
	}
	if err := a.applyPhase(tx, batch, order, touched, func(ev types.ChangeEvent) bool {
		return ev.Op != types.ChangeOpDelete && !ev.IsDir
	}); err != nil {
		tx.Abort()
		return err
	}
	if err := a.applyPhase(tx, batch, order, touched, func(ev types.ChangeEvent) bool {
		return ev.Op == types.ChangeOpDelete
	}); err != nil {
		tx.Abort()
		return err
	}

	for volumeID := range touched {
		if err := tx.RecountEntries(volumeID); err != nil {
			tx.Abort()
			return err
		}
	}

	if err := tx.Commit(); err != nil {
		return err
	}
	a.logger.Debug().Int("events", len(batch)).Msg("Batch committed")
	return nil
}

func (a *Applier) applyPhase(tx *store.WriteTxn, batch map[types.ChangeKey]types.ChangeEvent, order []types.ChangeKey, touched map[string]bool, want func(types.ChangeEvent) bool) error {
	for _, key := range order {
		ev, ok := batch[key]
		if !ok || !want(ev) {
			continue
		}
		touched[ev.VolumeID] = true

		if ev.Op == types.ChangeOpDelete {
			if ev.IsDir {
				// Removing a directory removes everything beneath it
				// in the same transaction
				if _, err := tx.DeleteSubtree(ev.VolumeID, ev.NodeRef); err != nil {
					return err
				}
			}
			if _, err := tx.DeleteEntry(ev.VolumeID, ev.NodeRef); err != nil {
				return err
			}
			continue
		}

		entry := &types.Entry{
			VolumeID:   ev.VolumeID,
			NodeRef:    ev.NodeRef,
			ParentRef:  ev.ParentRef,
			Name:       ev.Name,
			Size:       ev.Size,
			ModifiedAt: ev.ModifiedAt,
			IsDir:      ev.IsDir,
		}
		if err := tx.UpsertEntry(entry); err != nil {
			return err
		}
	}
	return nil
}

// PendingLen reports the current batch size, for tests and metrics
func (a *Applier) PendingLen() int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return len(a.pending)
}

package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/enumerate"
	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/metrics"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

// stagingBatch is how many enumerated entries buffer before a staging
// write
const stagingBatch = 4096

// tickInterval is the schedule resolution for due rescans and the
// retention sweep
const tickInterval = time.Minute

// sweepHour is the local hour of the daily offline-retention sweep
const sweepHour = 3

// EnumerateFunc produces a volume's current truth into emit and returns
// the next scan cursor (zero when node refs are native)
type EnumerateFunc func(ctx context.Context, emit enumerate.EmitFunc) (int64, error)

// Reconciler replaces volumes' stored entries with filesystem truth: on
// the configured interval for non-journaled volumes, after a journal
// wrap or recreate, and as the post-mount validation scan. It also owns
// the daily offline-retention sweep.
type Reconciler struct {
	st        *store.Store
	dataDir   string
	retention time.Duration
	// intervalFor reports the rescan cadence for a mount
	intervalFor func(mount string) time.Duration
	// trigger asks the registry to schedule a rescan worker for a
	// volume; the registry serializes it against journal application
	trigger func(volumeID string)

	logger    zerolog.Logger
	lastSweep time.Time
	stopCh    chan struct{}
	doneCh    chan struct{}
}

// New creates a reconciler
func New(st *store.Store, dataDir string, retention time.Duration, intervalFor func(mount string) time.Duration, trigger func(volumeID string)) *Reconciler {
	return &Reconciler{
		st:          st,
		dataDir:     dataDir,
		retention:   retention,
		intervalFor: intervalFor,
		trigger:     trigger,
		logger:      log.WithComponent("reconciler"),
		stopCh:      make(chan struct{}),
		doneCh:      make(chan struct{}),
	}
}

// Start begins the schedule loop
func (r *Reconciler) Start(ctx context.Context) {
	go r.run(ctx)
}

// Stop stops the schedule loop
func (r *Reconciler) Stop() {
	close(r.stopCh)
	<-r.doneCh
}

func (r *Reconciler) run(ctx context.Context) {
	defer close(r.doneCh)
	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	r.logger.Info().Msg("Reconciler started")

	// Sweep once at startup so a service that was down past the
	// retention window still purges promptly
	if err := r.Sweep(ctx); err != nil {
		r.logger.Error().Err(err).Msg("Startup retention sweep failed")
	}

	for {
		select {
		case <-ticker.C:
			if err := r.tick(ctx); err != nil {
				// Log error but continue
				r.logger.Error().Err(err).Msg("Reconcile tick failed")
			}
		case <-r.stopCh:
			r.logger.Info().Msg("Reconciler stopped")
			return
		case <-ctx.Done():
			return
		}
	}
}

func (r *Reconciler) tick(ctx context.Context) error {
	now := time.Now()
	if now.Hour() == sweepHour && now.Sub(r.lastSweep) > time.Hour {
		if err := r.Sweep(ctx); err != nil {
			r.logger.Error().Err(err).Msg("Retention sweep failed")
		}
	}

	read, err := r.st.BeginRead()
	if err != nil {
		return err
	}
	vols, err := read.ListVolumes()
	read.Close()
	if err != nil {
		return err
	}

	for _, vol := range vols {
		if vol.Kind != types.VolumeKindGeneric || vol.State != types.VolumeStateLive {
			continue
		}
		interval := r.intervalFor(vol.Mount)
		if now.Unix()-vol.LastReconciledAt < int64(interval.Seconds()) {
			continue
		}
		r.logger.Info().Str("mount", vol.Mount).Str("volume_id", vol.ID).Msg("Volume due for reconciliation")
		r.trigger(vol.ID)
	}
	return nil
}

// Rescan replaces a volume's entries with the enumerator's output. The
// scan writes into a staging collection; the swap — upsert the present
// set, drop the stale set — is one store transaction, so readers see
// either the old truth or the new one, never a mix.
func (r *Reconciler) Rescan(ctx context.Context, vol *types.Volume, enumFn EnumerateFunc) error {
	timer := metrics.NewTimer()
	defer func() {
		timer.ObserveDuration(metrics.ReconcileDuration)
		metrics.ReconcileTotal.Inc()
	}()

	stage, err := openStaging(r.dataDir, vol.ID)
	if err != nil {
		return err
	}
	defer stage.discard()

	var batch []*types.Entry
	cursor, err := enumFn(ctx, func(e *types.Entry) error {
		batch = append(batch, e)
		if len(batch) >= stagingBatch {
			if err := stage.putBatch(batch); err != nil {
				return err
			}
			batch = batch[:0]
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("rescan enumeration failed: %w", err)
	}
	if len(batch) > 0 {
		if err := stage.putBatch(batch); err != nil {
			return err
		}
	}

	staged, err := stage.count()
	if err != nil {
		return err
	}

	tx, err := r.st.BeginWriteWait(ctx)
	if err != nil {
		return err
	}
	if err := r.swap(ctx, tx, vol, stage, staged, cursor); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.logger.Info().
		Str("volume_id", vol.ID).
		Int64("entries", staged).
		Msg("Reconciliation committed")
	return nil
}

func (r *Reconciler) swap(ctx context.Context, tx *store.WriteTxn, vol *types.Volume, stage *staging, staged, cursor int64) error {
	if err := tx.ClearEntries(vol.ID); err != nil {
		return err
	}

	applied := 0
	err := stage.forEach(func(e *types.Entry) error {
		if applied%10000 == 0 && ctx.Err() != nil {
			return ctx.Err()
		}
		applied++
		return tx.UpsertEntry(e)
	})
	if err != nil {
		return err
	}

	if err := tx.SetEntryCount(vol.ID, staged); err != nil {
		return err
	}
	if vol.Kind == types.VolumeKindGeneric {
		if err := tx.SetReconcileCheckpoint(vol.ID, time.Now().Unix(), cursor); err != nil {
			return err
		}
	}
	return tx.SetState(vol.ID, types.VolumeStateLive, 0)
}

// Sweep purges volumes that stayed Offline past the retention window:
// entries in batch-sized chunks first, then the volume record
func (r *Reconciler) Sweep(ctx context.Context) error {
	r.lastSweep = time.Now()

	read, err := r.st.BeginRead()
	if err != nil {
		return err
	}
	vols, err := read.ListVolumes()
	read.Close()
	if err != nil {
		return err
	}

	now := time.Now()
	for _, vol := range vols {
		if !vol.OfflineExpired(now, r.retention) {
			continue
		}
		r.logger.Info().
			Str("volume_id", vol.ID).
			Str("mount", vol.Mount).
			Msg("Retention expired, purging offline volume")
		if err := r.purge(ctx, vol.ID); err != nil {
			r.logger.Error().Err(err).Str("volume_id", vol.ID).Msg("Failed to purge volume")
		}
	}
	return nil
}

func (r *Reconciler) purge(ctx context.Context, volumeID string) error {
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		tx, err := r.st.BeginWriteWait(ctx)
		if err != nil {
			return err
		}
		n, err := tx.DeleteVolumeEntries(volumeID, 10000)
		if err != nil {
			tx.Abort()
			return err
		}
		if n == 0 {
			err = tx.DeleteVolume(volumeID)
			if err != nil {
				tx.Abort()
				return err
			}
			return tx.Commit()
		}
		if err := tx.Commit(); err != nil {
			return err
		}
	}
}

package registry

import (
	"context"
	"errors"
	"time"

	"github.com/ram-shortage/BRindeX/pkg/enumerate"
	"github.com/ram-shortage/BRindeX/pkg/events"
	"github.com/ram-shortage/BRindeX/pkg/journal"
	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/metrics"
	"github.com/ram-shortage/BRindeX/pkg/types"
	"github.com/ram-shortage/BRindeX/pkg/winfs"
)

// demoteKey scopes the once-per-demotion warning to a volume
func demoteKey(volumeID string) string {
	return "demote:" + volumeID
}

// acquireWorker claims the volume's single worker slot
func (r *Registry) acquireWorker(volumeID string) (context.Context, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, running := r.workers[volumeID]; running {
		return nil, ErrWorkerBusy
	}
	ctx, cancel := context.WithCancel(r.writeCtx())
	r.workers[volumeID] = cancel
	return ctx, nil
}

func (r *Registry) releaseWorker(volumeID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if cancel, ok := r.workers[volumeID]; ok {
		cancel()
		delete(r.workers, volumeID)
	}
}

// stopVolumeWorkers cancels a volume's enumeration/rebuild worker and
// stops its journal consumer
func (r *Registry) stopVolumeWorkers(volumeID string) {
	r.mu.Lock()
	cancel := r.workers[volumeID]
	consumer := r.consumers[volumeID]
	delete(r.consumers, volumeID)
	r.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if consumer != nil {
		consumer.Stop()
	}
}

// startBuild launches the initial enumeration worker for a volume
func (r *Registry) startBuild(vol *types.Volume) {
	ctx, err := r.acquireWorker(vol.ID)
	if err != nil {
		return
	}

	if err := r.setState(vol.ID, types.VolumeStateBuilding, 0); err != nil {
		r.releaseWorker(vol.ID)
		r.logger.Error().Err(err).Str("volume_id", vol.ID).Msg("Failed to enter building state")
		return
	}
	r.publishState(vol, types.VolumeStateBuilding)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.releaseWorker(vol.ID)
		if err := r.build(ctx, vol); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error().Err(err).Str("volume_id", vol.ID).Msg("Initial build failed")
		}
	}()
}

// build runs the initial enumeration, feeding the applier in
// batch-sized commits, then transitions the volume Live and starts
// incremental capture
func (r *Registry) build(ctx context.Context, vol *types.Volume) error {
	timer := metrics.NewTimer()
	logger := r.logger.With().Str("volume_id", vol.ID).Str("mount", vol.Mount).Logger()
	logger.Info().Msg("Initial enumeration started")

	cursor, err := r.enumerate(ctx, vol, func(e *types.Entry) error {
		return r.app.Enqueue(ctx, []types.ChangeEvent{entryToCreate(e)})
	})
	if err != nil {
		return err
	}
	if err := r.app.Flush(ctx); err != nil {
		return err
	}

	tx, err := r.st.BeginWriteWait(ctx)
	if err != nil {
		return err
	}
	if vol.Kind == types.VolumeKindGeneric {
		if err := tx.SetReconcileCheckpoint(vol.ID, time.Now().Unix(), cursor); err != nil {
			tx.Abort()
			return err
		}
	}
	if err := tx.SetState(vol.ID, types.VolumeStateLive, 0); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.touch(vol.ID)
	timer.ObserveDuration(metrics.EnumerationDuration)
	logger.Info().Msg("Initial build committed, volume live")
	r.publishState(vol, types.VolumeStateLive)
	r.broker.Publish(&events.Event{Type: events.EventBuildCompleted, VolumeID: vol.ID, Mount: vol.Mount})

	if vol.Kind == types.VolumeKindJournaled {
		if err := r.bootstrapJournal(vol); err != nil {
			logger.Warn().Err(err).Msg("Journal bootstrap failed, volume will reconcile on interval")
			return r.demote(vol)
		}
		r.startConsumer(vol)
	}
	return nil
}

// enumerate picks the fast path for journaled volumes and falls back to
// the walk on permission errors, demoting the volume once
func (r *Registry) enumerate(ctx context.Context, vol *types.Volume, emit enumerate.EmitFunc) (int64, error) {
	if vol.Kind == types.VolumeKindJournaled {
		mft := enumerate.NewMFTEnumerator(vol.ID, vol.Mount, func(path, name string) bool {
			return r.cfg.Excluded(path, name)
		})
		err := mft.Enumerate(ctx, emit)
		if err == nil {
			return 0, nil
		}
		if !errors.Is(err, enumerate.ErrPrivilege) && !errors.Is(err, winfs.ErrUnsupported) {
			return 0, err
		}
		log.WarnOnce(r.logger.With().Str("volume_id", vol.ID).Logger(),
			demoteKey(vol.ID), "Raw volume access unavailable, demoting to walk enumeration")
		r.broker.Publish(&events.Event{Type: events.EventVolumeDemoted, VolumeID: vol.ID, Mount: vol.Mount})
		if err := r.demote(vol); err != nil {
			return 0, err
		}
	}

	walker := enumerate.NewWalkEnumerator(vol.ID, vol.Mount, enumerate.WalkOptions{
		FollowLinks: r.cfg.VolumeFor(vol.Mount).FollowSymlinks,
		Exclude:     r.cfg.Excluded,
	})
	return walker.Enumerate(ctx, vol.ScanCursor, emit)
}

// demote reclassifies a journaled volume's machinery as generic: the
// identity string keeps its probed kind, but updates now come from the
// interval reconciler
func (r *Registry) demote(vol *types.Volume) error {
	vol.Kind = types.VolumeKindGeneric
	if vol.ScanCursor < 1 {
		vol.ScanCursor = 1
	}
	return r.upsertVolume(vol)
}

// bootstrapJournal pins the volume's checkpoint at the journal head so
// consumption starts exactly where the build left off
func (r *Registry) bootstrapJournal(vol *types.Volume) error {
	reader, err := r.openJournal(vol.Mount)
	if err != nil {
		return err
	}
	defer reader.Close()
	return journal.Bootstrap(reader, r.st, vol.ID)
}

// startConsumer launches the journal consumer for a Live journaled
// volume; a volume has at most one
func (r *Registry) startConsumer(vol *types.Volume) {
	r.mu.Lock()
	if _, running := r.consumers[vol.ID]; running {
		r.mu.Unlock()
		return
	}
	r.mu.Unlock()

	current, err := r.getVolume(vol.ID)
	if err != nil {
		return
	}

	reader, err := r.openJournal(vol.Mount)
	if err != nil {
		log.WarnOnce(r.logger.With().Str("volume_id", vol.ID).Err(err).Logger(),
			demoteKey(vol.ID), "Cannot open change journal, demoting volume")
		r.broker.Publish(&events.Event{Type: events.EventVolumeDemoted, VolumeID: vol.ID, Mount: vol.Mount})
		if err := r.demote(current); err != nil {
			r.logger.Error().Err(err).Str("volume_id", vol.ID).Msg("Demotion failed")
		}
		return
	}

	volumeID := vol.ID
	consumer := journal.NewConsumer(journal.Config{
		VolumeID:     volumeID,
		Mount:        vol.Mount,
		Reader:       reader,
		Store:        r.st,
		PollInterval: r.cfg.JournalPollInterval.Std(),
		Threshold:    r.cfg.CPUThrottleThreshold,
		Multiplier:   r.cfg.ThrottleMultiplier,
		Apply: func(ctx context.Context, evs []types.ChangeEvent) error {
			metrics.JournalPollsTotal.Inc()
			if err := r.app.ApplyAndFlush(ctx, evs); err != nil {
				return err
			}
			metrics.EventsApplied.Add(float64(len(evs)))
			r.touch(volumeID)
			return nil
		},
		OnDiscontinuity: func(err error) {
			kind := "wrap"
			if errors.Is(err, journal.ErrRecreate) {
				kind = "recreate"
				r.broker.Publish(&events.Event{Type: events.EventJournalRecreate, VolumeID: volumeID})
			} else {
				r.broker.Publish(&events.Event{Type: events.EventJournalWrap, VolumeID: volumeID})
			}
			metrics.JournalDiscontinuitiesTotal.WithLabelValues(kind).Inc()
			r.mu.Lock()
			delete(r.consumers, volumeID)
			r.mu.Unlock()
			r.TriggerReconcile(volumeID)
		},
	}, current.JournalID, current.NextUSN)

	r.mu.Lock()
	r.consumers[volumeID] = consumer
	r.mu.Unlock()
	consumer.Start(r.writeCtx())
}

// TriggerReconcile launches a rescan worker for a volume. Journal
// application for the volume is excluded for the duration: the consumer
// is stopped first and only restarted, from a fresh checkpoint, after
// the rescan commits.
func (r *Registry) TriggerReconcile(volumeID string) {
	vol, err := r.getVolume(volumeID)
	if err != nil {
		r.logger.Error().Err(err).Str("volume_id", volumeID).Msg("Cannot reconcile unknown volume")
		return
	}

	ctx, err := r.acquireWorker(volumeID)
	if err != nil {
		return
	}

	r.mu.Lock()
	consumer := r.consumers[volumeID]
	delete(r.consumers, volumeID)
	r.mu.Unlock()
	if consumer != nil {
		consumer.Stop()
	}

	if err := r.setState(volumeID, types.VolumeStateReconciling, 0); err != nil {
		r.releaseWorker(volumeID)
		r.logger.Error().Err(err).Str("volume_id", volumeID).Msg("Failed to enter reconciling state")
		return
	}
	r.publishState(vol, types.VolumeStateReconciling)

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		defer r.releaseWorker(volumeID)
		if err := r.runRescan(ctx, vol); err != nil {
			if errors.Is(err, context.Canceled) {
				return
			}
			r.logger.Error().Err(err).Str("volume_id", volumeID).Msg("Reconciliation failed")
		}
	}()
}

func (r *Registry) runRescan(ctx context.Context, vol *types.Volume) error {
	err := r.rec.Rescan(ctx, vol, func(ctx context.Context, emit enumerate.EmitFunc) (int64, error) {
		return r.enumerate(ctx, vol, emit)
	})
	if err != nil {
		return err
	}

	r.touch(vol.ID)
	r.publishState(vol, types.VolumeStateLive)
	r.broker.Publish(&events.Event{Type: events.EventReconcileComplete, VolumeID: vol.ID, Mount: vol.Mount})

	// Reload: the rescan may have demoted the volume
	current, err := r.getVolume(vol.ID)
	if err != nil {
		return err
	}
	if current.Kind == types.VolumeKindJournaled {
		// The checkpoint resets to the journal head reached during the
		// rescan
		if err := r.bootstrapJournal(current); err != nil {
			r.logger.Warn().Err(err).Str("volume_id", vol.ID).Msg("Journal bootstrap failed after rescan")
			return r.demote(current)
		}
		r.startConsumer(current)
	}
	return nil
}

// TriggerRebuild drops a volume's entries and re-enumerates from
// scratch, the host's answer to store corruption reports
func (r *Registry) TriggerRebuild(mount string) error {
	read, err := r.st.BeginRead()
	if err != nil {
		return err
	}
	vol, err := read.GetVolumeByMount(mount)
	read.Close()
	if err != nil {
		return err
	}

	r.stopVolumeWorkers(vol.ID)

	tx, err := r.st.BeginWriteWait(r.writeCtx())
	if err != nil {
		return err
	}
	if err := tx.ClearEntries(vol.ID); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.SetEntryCount(vol.ID, 0); err != nil {
		tx.Abort()
		return err
	}
	if err := tx.Commit(); err != nil {
		return err
	}

	r.startBuild(vol)
	return nil
}

func (r *Registry) publishState(vol *types.Volume, state types.VolumeState) {
	r.broker.Publish(&events.Event{
		Type:     events.EventVolumeState,
		VolumeID: vol.ID,
		Mount:    vol.Mount,
		State:    state,
	})
}

func entryToCreate(e *types.Entry) types.ChangeEvent {
	return types.ChangeEvent{
		VolumeID:   e.VolumeID,
		Op:         types.ChangeOpCreate,
		NodeRef:    e.NodeRef,
		ParentRef:  e.ParentRef,
		Name:       e.Name,
		Size:       e.Size,
		ModifiedAt: e.ModifiedAt,
		IsDir:      e.IsDir,
	}
}

package registry

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/applier"
	"github.com/ram-shortage/BRindeX/pkg/config"
	"github.com/ram-shortage/BRindeX/pkg/events"
	"github.com/ram-shortage/BRindeX/pkg/journal"
	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/reconcile"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
	"github.com/ram-shortage/BRindeX/pkg/winfs"
)

// ErrWorkerBusy means the volume already has an enumeration or rebuild
// worker running; at most one runs per volume at a time
var ErrWorkerBusy = errors.New("registry: volume worker already running")

// ProbeFunc identifies a mounted filesystem
type ProbeFunc func(mount string) (winfs.VolumeInfo, error)

// JournalOpenFunc opens a change-journal reader for a mount
type JournalOpenFunc func(mount string) (journal.Reader, error)

// Registry maintains the set of live volumes and drives the per-volume
// state machine. All state transitions serialize through it.
type Registry struct {
	cfg    *config.Config
	st     *store.Store
	app    *applier.Applier
	rec    *reconcile.Reconciler
	broker *events.Broker
	logger zerolog.Logger

	// Injection points for tests and platform splits
	probe       ProbeFunc
	openJournal JournalOpenFunc

	mu        sync.Mutex
	workers   map[string]context.CancelFunc // volumeID -> running worker
	consumers map[string]*journal.Consumer
	// lastActivity feeds status freshness: build commits, applied
	// polls and rescans all touch it
	lastActivity map[string]time.Time

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// New creates the registry. The reconciler is attached afterwards via
// SetReconciler because the two reference each other.
func New(cfg *config.Config, st *store.Store, app *applier.Applier, broker *events.Broker) *Registry {
	return &Registry{
		cfg:          cfg,
		st:           st,
		app:          app,
		broker:       broker,
		logger:       log.WithComponent("registry"),
		probe:        winfs.Probe,
		openJournal:  journal.OpenReader,
		workers:      make(map[string]context.CancelFunc),
		consumers:    make(map[string]*journal.Consumer),
		lastActivity: make(map[string]time.Time),
	}
}

// SetReconciler attaches the reconciler used for rescans
func (r *Registry) SetReconciler(rec *reconcile.Reconciler) {
	r.rec = rec
}

// Start reconciles persisted volume records against configuration and
// begins watching mounts
func (r *Registry) Start(ctx context.Context) error {
	r.ctx, r.cancel = context.WithCancel(ctx)

	if err := r.applyConfig(); err != nil {
		return err
	}

	r.wg.Add(1)
	go r.watchMounts()
	return nil
}

// Stop halts mount watching, all workers and journal consumers
func (r *Registry) Stop() {
	if r.cancel != nil {
		r.cancel()
	}
	r.wg.Wait()

	r.mu.Lock()
	consumers := make([]*journal.Consumer, 0, len(r.consumers))
	for _, c := range r.consumers {
		consumers = append(consumers, c)
	}
	r.consumers = make(map[string]*journal.Consumer)
	r.mu.Unlock()

	for _, c := range consumers {
		c.Stop()
	}
}

// applyConfig disables stored volumes that configuration no longer
// enables, and probes the ones it does
func (r *Registry) applyConfig() error {
	read, err := r.st.BeginRead()
	if err != nil {
		return err
	}
	vols, err := read.ListVolumes()
	read.Close()
	if err != nil {
		return err
	}

	enabled := make(map[string]bool)
	for _, mount := range r.cfg.EnabledVolumes() {
		enabled[mount] = true
	}

	for _, vol := range vols {
		if enabled[vol.Mount] || vol.State == types.VolumeStateOffline {
			continue
		}
		if vol.State == types.VolumeStateDisabled {
			continue
		}
		r.logger.Info().Str("mount", vol.Mount).Msg("Volume removed from configuration, disabling")
		if err := r.setState(vol.ID, types.VolumeStateDisabled, 0); err != nil {
			return err
		}
	}

	for mount := range enabled {
		r.HandleMount(mount)
	}
	return nil
}

// HandleMount runs the mount-arrival path for one mount point: probe
// identity, detect swaps, create or resume the volume record, and
// launch the right worker. Safe to call repeatedly; a present, healthy
// volume is a no-op.
func (r *Registry) HandleMount(mount string) {
	info, err := r.probe(mount)
	if err != nil {
		r.logger.Warn().Err(err).Str("mount", mount).Msg("Mount probe failed")
		return
	}
	kind := classify(info.FSName)
	identity := types.VolumeIdentity(info.Serial, kind)
	logger := r.logger.With().Str("mount", mount).Str("volume_id", identity).Logger()

	// Swap detection: a different identity stored at this mount goes
	// Offline in place before the new record is touched
	if err := r.offlineSwapped(mount, identity); err != nil {
		logger.Error().Err(err).Msg("Swap detection failed")
		return
	}

	read, err := r.st.BeginRead()
	if err != nil {
		return
	}
	vol, err := read.GetVolume(identity)
	read.Close()

	switch {
	case errors.Is(err, store.ErrNotFound):
		vol = &types.Volume{
			ID:        identity,
			Mount:     mount,
			Kind:      kind,
			State:     types.VolumeStateUninitialized,
			CreatedAt: time.Now().Unix(),
		}
		if err := r.upsertVolume(vol); err != nil {
			logger.Error().Err(err).Msg("Failed to create volume record")
			return
		}
		logger.Info().Str("kind", string(kind)).Msg("New volume discovered")
		r.broker.Publish(&events.Event{Type: events.EventVolumeMounted, VolumeID: identity, Mount: mount})
		r.startBuild(vol)

	case err != nil:
		logger.Error().Err(err).Msg("Volume lookup failed")

	default:
		r.resumeVolume(vol, mount)
	}
}

// HandleUnmount marks the volume at a mount Offline and stops its
// workers. Data is retained until the retention sweep.
func (r *Registry) HandleUnmount(mount string) {
	read, err := r.st.BeginRead()
	if err != nil {
		return
	}
	vol, err := read.GetVolumeByMount(mount)
	read.Close()
	if err != nil {
		return
	}

	switch vol.State {
	case types.VolumeStateBuilding, types.VolumeStateLive, types.VolumeStateReconciling:
	default:
		return
	}

	r.logger.Info().Str("mount", mount).Str("volume_id", vol.ID).Msg("Volume detached")
	// A volume that comes back may demote again; that is a new
	// occurrence and surfaces anew
	log.ResetOnce(demoteKey(vol.ID))
	r.stopVolumeWorkers(vol.ID)
	if err := r.setState(vol.ID, types.VolumeStateOffline, time.Now().Unix()); err != nil {
		r.logger.Error().Err(err).Str("volume_id", vol.ID).Msg("Failed to mark volume offline")
		return
	}
	r.broker.Publish(&events.Event{Type: events.EventVolumeUnmounted, VolumeID: vol.ID, Mount: mount})
}

// resumeVolume handles a mount whose identity is already on record
func (r *Registry) resumeVolume(vol *types.Volume, mount string) {
	logger := r.logger.With().Str("mount", mount).Str("volume_id", vol.ID).Logger()

	if vol.Mount != mount {
		vol.Mount = mount
		if err := r.upsertVolume(vol); err != nil {
			logger.Error().Err(err).Msg("Failed to move volume mount")
			return
		}
		logger.Info().Msg("Volume reappeared at a new mount")
	}

	switch vol.State {
	case types.VolumeStateUninitialized, types.VolumeStateBuilding:
		// A build that never committed starts over
		r.startBuild(vol)

	case types.VolumeStateOffline:
		logger.Info().Msg("Volume remounted")
		if vol.Kind == types.VolumeKindJournaled && r.journalCheckpointValid(vol, mount) {
			// The journal survived the detach: going Live lets the
			// consumer replay the gap, which is the drift correction
			if err := r.setState(vol.ID, types.VolumeStateLive, 0); err != nil {
				logger.Error().Err(err).Msg("Failed to bring volume live")
				return
			}
			r.touch(vol.ID)
			r.broker.Publish(&events.Event{Type: events.EventVolumeState, VolumeID: vol.ID, Mount: mount, State: types.VolumeStateLive})
			r.startConsumer(vol)
			return
		}
		// No journal to lean on: validate with a full rescan
		r.TriggerReconcile(vol.ID)

	case types.VolumeStateReconciling:
		r.TriggerReconcile(vol.ID)

	case types.VolumeStateLive:
		// Already serving; make sure its consumer is running
		if vol.Kind == types.VolumeKindJournaled {
			r.startConsumer(vol)
		}

	case types.VolumeStateDisabled:
		// Stays disabled until configuration re-enables it
	}
}

// offlineSwapped implements swap detection for one mount
func (r *Registry) offlineSwapped(mount, liveIdentity string) error {
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
		if vol.Mount != mount || vol.ID == liveIdentity {
			continue
		}
		switch vol.State {
		case types.VolumeStateOffline, types.VolumeStateDisabled:
			continue
		}
		r.logger.Warn().
			Str("mount", mount).
			Str("stored_identity", vol.ID).
			Str("live_identity", liveIdentity).
			Msg("Volume identity mismatch at mount, storing prior volume offline")
		r.stopVolumeWorkers(vol.ID)
		if err := r.setState(vol.ID, types.VolumeStateOffline, time.Now().Unix()); err != nil {
			return err
		}
		r.broker.Publish(&events.Event{Type: events.EventVolumeSwapped, VolumeID: vol.ID, Mount: mount})
	}
	return nil
}

// journalCheckpointValid reports whether a remounted volume's stored
// journal position can still be replayed
func (r *Registry) journalCheckpointValid(vol *types.Volume, mount string) bool {
	reader, err := r.openJournal(mount)
	if err != nil {
		return false
	}
	defer reader.Close()

	info, err := reader.Query()
	if err != nil {
		return false
	}
	return int64(info.JournalID) == vol.JournalID && vol.NextUSN >= info.LowestValidUSN
}

// Status reports every volume for the IPC status response
func (r *Registry) Status() ([]types.VolumeStatus, error) {
	read, err := r.st.BeginRead()
	if err != nil {
		return nil, err
	}
	defer read.Close()

	vols, err := read.ListVolumes()
	if err != nil {
		return nil, err
	}

	r.mu.Lock()
	activity := make(map[string]time.Time, len(r.lastActivity))
	for id, at := range r.lastActivity {
		activity[id] = at
	}
	r.mu.Unlock()

	now := time.Now()
	statuses := make([]types.VolumeStatus, 0, len(vols))
	for _, vol := range vols {
		freshness := int64(-1)
		if at, ok := activity[vol.ID]; ok {
			freshness = int64(now.Sub(at).Seconds())
		} else if vol.LastReconciledAt > 0 {
			freshness = now.Unix() - vol.LastReconciledAt
		}
		statuses = append(statuses, types.VolumeStatus{
			Mount:      vol.Mount,
			Kind:       string(vol.Kind),
			State:      string(vol.State),
			EntryCount: vol.EntryCount,
			Freshness:  freshness,
		})
	}
	return statuses, nil
}

// classify maps a probed filesystem name onto a volume kind; unknown
// kinds default to non-journaled
func classify(fsName string) types.VolumeKind {
	if strings.EqualFold(fsName, "NTFS") || strings.EqualFold(fsName, "ReFS") {
		return types.VolumeKindJournaled
	}
	return types.VolumeKindGeneric
}

// touch records volume activity for status freshness
func (r *Registry) touch(volumeID string) {
	r.mu.Lock()
	r.lastActivity[volumeID] = time.Now()
	r.mu.Unlock()
}

func (r *Registry) setState(volumeID string, state types.VolumeState, offlineSince int64) error {
	tx, err := r.st.BeginWriteWait(r.writeCtx())
	if err != nil {
		return err
	}
	if err := tx.SetState(volumeID, state, offlineSince); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

func (r *Registry) upsertVolume(vol *types.Volume) error {
	tx, err := r.st.BeginWriteWait(r.writeCtx())
	if err != nil {
		return err
	}
	if err := tx.UpsertVolume(vol); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// writeCtx bounds control-plane writes even before Start wired a
// service context
func (r *Registry) writeCtx() context.Context {
	if r.ctx != nil {
		return r.ctx
	}
	return context.Background()
}

func (r *Registry) getVolume(volumeID string) (*types.Volume, error) {
	read, err := r.st.BeginRead()
	if err != nil {
		return nil, err
	}
	defer read.Close()
	return read.GetVolume(volumeID)
}

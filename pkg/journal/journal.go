package journal

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/throttle"
	"github.com/ram-shortage/BRindeX/pkg/types"
	"github.com/ram-shortage/BRindeX/pkg/winfs"
)

var (
	// ErrWrap means the journal's lowest valid position moved past the
	// stored checkpoint; the volume must reconcile
	ErrWrap = errors.New("journal: wrapped past checkpoint")

	// ErrRecreate means the journal identity changed; the volume must
	// reconcile
	ErrRecreate = errors.New("journal: recreated")
)

// Reader abstracts the change-journal syscalls so the consumer's
// classification and checkpoint logic is testable without a volume
type Reader interface {
	// Query returns the journal identity and USN bounds
	Query() (winfs.JournalInfo, error)
	// Read returns records from startUSN forward plus the position to
	// resume from; an empty batch means the head was reached
	Read(journalID uint64, startUSN int64) (int64, []winfs.Record, error)
	// RootFRN is the native file reference of the volume root
	RootFRN() (uint64, error)
	Close() error
}

// ApplyFunc hands one tick's events to the change applier and returns
// once they are durably committed
type ApplyFunc func(ctx context.Context, events []types.ChangeEvent) error

// Config wires one consumer
type Config struct {
	VolumeID     string
	Mount        string
	Reader       Reader
	Store        *store.Store
	Apply        ApplyFunc
	PollInterval time.Duration
	// CPU throttle: above Threshold the next tick stretches by
	// Multiplier
	Threshold  float64
	Multiplier int
	Sampler    throttle.Sampler
	// OnDiscontinuity fires on wrap/recreate; the registry transitions
	// the volume to Reconciling and relaunches a rebuild
	OnDiscontinuity func(err error)
}

// Consumer polls one volume's change journal and converts records since
// the persisted checkpoint into change events. It starts only after the
// volume reaches Live.
type Consumer struct {
	cfg    Config
	logger zerolog.Logger

	journalID int64
	nextUSN   int64
	rootFRN   uint64

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewConsumer creates a consumer resuming from the volume's persisted
// checkpoint
func NewConsumer(cfg Config, checkpointJournalID int64, checkpointUSN int64) *Consumer {
	if cfg.Sampler == nil {
		cfg.Sampler = throttle.CPUSampler{}
	}
	return &Consumer{
		cfg:       cfg,
		logger:    log.WithVolume(cfg.VolumeID),
		journalID: checkpointJournalID,
		nextUSN:   checkpointUSN,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// Start begins the polling loop
func (c *Consumer) Start(ctx context.Context) {
	go c.run(ctx)
}

// Stop stops the consumer and waits for the loop to exit
func (c *Consumer) Stop() {
	close(c.stopCh)
	<-c.doneCh
}

func (c *Consumer) run(ctx context.Context) {
	defer close(c.doneCh)
	defer c.cfg.Reader.Close()

	c.logger.Info().Msg("Journal consumer started")
	timer := time.NewTimer(c.cfg.PollInterval)
	defer timer.Stop()

	for {
		select {
		case <-timer.C:
		case <-c.stopCh:
			c.logger.Info().Msg("Journal consumer stopped")
			return
		case <-ctx.Done():
			return
		}

		if err := c.Poll(ctx); err != nil {
			if errors.Is(err, ErrWrap) || errors.Is(err, ErrRecreate) {
				c.logger.Warn().Err(err).Msg("Journal discontinuity, handing volume to reconciliation")
				if c.cfg.OnDiscontinuity != nil {
					c.cfg.OnDiscontinuity(err)
				}
				return
			}
			// Transient errors retry next tick without advancing the
			// position
			c.logger.Error().Err(err).Msg("Journal poll failed")
		}

		timer.Reset(throttle.NextInterval(
			c.cfg.PollInterval, c.cfg.Threshold, c.cfg.Multiplier, c.cfg.Sampler))
	}
}

// Poll performs one tick: classify the journal state, read records from
// the checkpoint forward, apply them, and advance the persisted
// position
func (c *Consumer) Poll(ctx context.Context) error {
	info, err := c.cfg.Reader.Query()
	if err != nil {
		return err
	}

	if int64(info.JournalID) != c.journalID {
		return ErrRecreate
	}
	if c.nextUSN < info.LowestValidUSN {
		return ErrWrap
	}

	if c.rootFRN == 0 {
		root, err := c.cfg.Reader.RootFRN()
		if err != nil {
			return err
		}
		c.rootFRN = root
	}

	for c.nextUSN < info.NextUSN {
		next, records, err := c.cfg.Reader.Read(info.JournalID, c.nextUSN)
		if err != nil {
			return err
		}
		if len(records) == 0 && next <= c.nextUSN {
			break
		}

		events := c.convert(records)
		if len(events) > 0 {
			if err := c.cfg.Apply(ctx, events); err != nil {
				return err
			}
		}

		if err := c.checkpoint(next); err != nil {
			return err
		}
		c.nextUSN = next

		select {
		case <-c.stopCh:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
	}
	return nil
}

// convert maps journal records onto change events in journal order.
// Rename-old-name records are dropped — the matching new-name record
// carries the surviving name and parent for the same file reference.
func (c *Consumer) convert(records []winfs.Record) []types.ChangeEvent {
	events := make([]types.ChangeEvent, 0, len(records))
	for _, rec := range records {
		if rec.FRN == c.rootFRN {
			continue
		}
		if strings.HasPrefix(rec.Name, "$") && rec.ParentFRN == c.rootFRN {
			continue
		}
		if rec.Reason&winfs.ReasonRenameOldName != 0 && rec.Reason&winfs.ReasonRenameNewName == 0 {
			continue
		}

		ev := types.ChangeEvent{
			VolumeID:   c.cfg.VolumeID,
			NodeRef:    c.normalize(rec.FRN),
			ParentRef:  c.normalize(rec.ParentFRN),
			Name:       rec.Name,
			ModifiedAt: rec.ModifiedAt,
			IsDir:      rec.Attributes&winfs.AttributeDirectory != 0,
			Reason:     rec.Reason,
		}

		switch {
		case rec.Reason&winfs.ReasonFileDelete != 0:
			ev.Op = types.ChangeOpDelete
		case rec.Reason&winfs.ReasonRenameNewName != 0:
			ev.Op = types.ChangeOpRename
		case rec.Reason&winfs.ReasonFileCreate != 0:
			ev.Op = types.ChangeOpCreate
		default:
			ev.Op = types.ChangeOpModify
		}

		if ev.Op != types.ChangeOpDelete {
			c.resolveStat(&ev)
		}
		events = append(events, ev)
	}
	return events
}

// resolveStat fills size and mtime with one lstat of the reconstructed
// path; journal records carry neither. Best-effort — the entry may
// already be gone again.
func (c *Consumer) resolveStat(ev *types.ChangeEvent) {
	read, err := c.cfg.Store.BeginRead()
	if err != nil {
		return
	}
	defer read.Close()

	parentPath, err := read.ReconstructPath(ev.VolumeID, ev.ParentRef)
	if err != nil {
		return
	}
	size, mtime, ok := lstat(joinPath(parentPath, ev.Name))
	if !ok {
		return
	}
	if !ev.IsDir {
		ev.Size = size
	}
	if mtime > 0 {
		ev.ModifiedAt = mtime
	}
}

func (c *Consumer) normalize(frn uint64) int64 {
	if frn == c.rootFRN {
		return types.RootNodeRef
	}
	return int64(frn)
}

// checkpoint persists the advanced position. Events were already
// committed; re-applying them after a crash between the two writes is
// harmless because application is idempotent.
func (c *Consumer) checkpoint(nextUSN int64) error {
	tx, err := c.cfg.Store.BeginWriteWait(context.Background())
	if err != nil {
		return err
	}
	if err := tx.SetCheckpoint(c.cfg.VolumeID, c.journalID, nextUSN); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

// Bootstrap records the journal's current identity and head as a
// volume's checkpoint. The registry calls it when the initial build
// commits, so journal consumption starts exactly at the head.
func Bootstrap(r Reader, st *store.Store, volumeID string) error {
	info, err := r.Query()
	if err != nil {
		return err
	}
	tx, err := st.BeginWriteWait(context.Background())
	if err != nil {
		return err
	}
	if err := tx.SetCheckpoint(volumeID, int64(info.JournalID), info.NextUSN); err != nil {
		tx.Abort()
		return err
	}
	return tx.Commit()
}

package store

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"
	"github.com/rs/zerolog"
	_ "modernc.org/sqlite"

	"github.com/ram-shortage/BRindeX/pkg/log"
)

var (
	// ErrCorrupt is returned when the database fails its integrity check.
	// The store refuses to open; the host may rebuild from scratch.
	ErrCorrupt = errors.New("store: database failed integrity check")

	// ErrWriterBusy is returned by BeginWrite while another write
	// transaction is open
	ErrWriterBusy = errors.New("store: write already in progress")

	// ErrBusyTimeout is surfaced to producers when a batch commit kept
	// failing past the retry ceiling
	ErrBusyTimeout = errors.New("store: commit retries exhausted")

	// ErrNotFound is returned for lookups of absent volumes or entries
	ErrNotFound = errors.New("store: not found")
)

func init() {
	// modernc's driver registers as "sqlite", which sqlx does not know
	// a bindvar type for out of the box
	sqlx.BindDriver("sqlite", sqlx.QUESTION)
}

// Pragmas run once per pool as openConn opens it. journal_mode = WAL
// persists in the database file; the other settings are per connection
// and hold only on the connection that ran them. WAL keeps readers
// concurrent with the single writer; the mmap window serves the random
// name-index reads.
var pragmas = []string{
	"journal_mode = WAL",
	"synchronous = NORMAL",
	"busy_timeout = 5000",
	"temp_store = MEMORY",
	"mmap_size = 268435456",
	"journal_size_limit = 67108864",
}

// Store is the persistent name index: volumes and entries in a single
// SQLite database, one writer, many readers.
type Store struct {
	writer  *sqlx.DB
	readers *sqlx.DB
	// writeToken serializes writers; BeginWrite fails fast when held
	writeToken chan struct{}
	path       string
	logger     zerolog.Logger
}

// Open opens or initializes the database under dataDir. It runs a quick
// integrity check and refuses to open a corrupt database with ErrCorrupt.
func Open(dataDir string) (*Store, error) {
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create data dir: %w", err)
	}
	dbPath := filepath.Join(dataDir, "brindex.db")

	writer, err := openConn(dbPath, 1)
	if err != nil {
		return nil, err
	}

	if err := integrityCheck(writer); err != nil {
		writer.Close()
		return nil, err
	}

	if err := migrate(writer); err != nil {
		writer.Close()
		return nil, err
	}

	readers, err := openConn(dbPath, 8)
	if err != nil {
		writer.Close()
		return nil, err
	}

	s := &Store{
		writer:     writer,
		readers:    readers,
		writeToken: make(chan struct{}, 1),
		path:       dbPath,
		logger:     log.WithComponent("store"),
	}
	s.logger.Info().Str("path", dbPath).Msg("Store opened")
	return s, nil
}

func openConn(dbPath string, maxConns int) (*sqlx.DB, error) {
	db, err := sqlx.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(maxConns)
	db.SetMaxIdleConns(maxConns)
	for _, pragma := range pragmas {
		if _, err := db.Exec("PRAGMA " + pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to set pragma %q: %w", pragma, err)
		}
	}
	return db, nil
}

func integrityCheck(db *sqlx.DB) error {
	var result string
	if err := db.Get(&result, "PRAGMA quick_check"); err != nil {
		return fmt.Errorf("integrity check failed to run: %w", err)
	}
	if !strings.EqualFold(result, "ok") {
		return fmt.Errorf("%w: %s", ErrCorrupt, result)
	}
	return nil
}

// Close closes both connection pools
func (s *Store) Close() error {
	rerr := s.readers.Close()
	werr := s.writer.Close()
	if werr != nil {
		return werr
	}
	return rerr
}

// BeginWrite starts the exclusive write transaction. It fails with
// ErrWriterBusy if another write is in progress; commit is atomic and
// abort leaves no visible effect.
func (s *Store) BeginWrite() (*WriteTxn, error) {
	select {
	case s.writeToken <- struct{}{}:
	default:
		return nil, ErrWriterBusy
	}

	tx, err := s.writer.Beginx()
	if err != nil {
		<-s.writeToken
		return nil, fmt.Errorf("failed to begin write: %w", err)
	}
	return &WriteTxn{tx: tx, store: s}, nil
}

// BeginWriteWait is BeginWrite that waits for the writer token instead
// of failing fast. Used by small control-plane writes (state
// transitions, checkpoints) that would otherwise race the batch writer.
func (s *Store) BeginWriteWait(ctx context.Context) (*WriteTxn, error) {
	select {
	case s.writeToken <- struct{}{}:
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	tx, err := s.writer.Beginx()
	if err != nil {
		<-s.writeToken
		return nil, fmt.Errorf("failed to begin write: %w", err)
	}
	return &WriteTxn{tx: tx, store: s}, nil
}

// BeginRead returns a point-in-time view. Snapshots are cheap and must be
// closed promptly — a snapshot is opened per request, never per
// connection, to avoid starving WAL checkpoints.
func (s *Store) BeginRead() (*ReadSnapshot, error) {
	tx, err := s.readers.Beginx()
	if err != nil {
		return nil, fmt.Errorf("failed to begin read: %w", err)
	}
	// Force the read snapshot to materialize now rather than at first use
	var n int
	if err := tx.Get(&n, "SELECT COUNT(*) FROM volumes"); err != nil {
		tx.Rollback()
		return nil, fmt.Errorf("failed to pin read snapshot: %w", err)
	}
	return &ReadSnapshot{tx: tx}, nil
}

// IsBusy reports whether err is a transient SQLITE_BUSY-style contention
// failure worth retrying
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "(5)")
}

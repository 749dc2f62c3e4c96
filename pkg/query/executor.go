package query

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

const (
	// pathScanPage is the fetch page size while post-filtering by path
	pathScanPage = 1024
	// pathScanCap bounds how many index rows a path-scoped query will
	// reconstruct before reporting a partial total
	pathScanCap = 50000
)

// Result is a fully-served search: records with reconstructed paths,
// the index-matching total, and wall time
type Result struct {
	Records      []types.FileRecord
	TotalCount   int64
	SearchTimeMS int64
}

// Executor lowers structured queries to store searches and serves them
// from a read snapshot
type Executor struct {
	store  *store.Store
	logger zerolog.Logger
}

// NewExecutor creates a query executor over the store
func NewExecutor(s *store.Store) *Executor {
	return &Executor{
		store:  s,
		logger: log.WithComponent("query"),
	}
}

// Lower compiles a structured query into the store's parameterized form.
// Wildcards map * -> % and ? -> _ with %/_/\ escaped; bare text becomes a
// substring match.
func Lower(q *Query) *store.SearchSpec {
	spec := &store.SearchSpec{}

	if q.NamePattern != "" {
		if strings.ContainsAny(q.NamePattern, "*?") {
			spec.NamePattern = translateWildcards(q.NamePattern)
		} else {
			spec.NamePattern = "%" + escapeLike(q.NamePattern) + "%"
		}
	}
	if q.Extension != "" {
		spec.ExtPattern = "%." + escapeLike(q.Extension)
	}
	if q.HasSize {
		spec.SizeOp, spec.Size, spec.SizeSet = q.SizeOp, q.Size, true
	}
	if q.HasDate {
		spec.DateOp, spec.Date, spec.DateSet = q.DateOp, q.Date, true
	}
	switch q.Type {
	case "file":
		isDir := false
		spec.IsDir = &isDir
	case "dir":
		isDir := true
		spec.IsDir = &isDir
	}
	return spec
}

func escapeLike(s string) string {
	s = strings.ReplaceAll(s, store.LikeEscape, store.LikeEscape+store.LikeEscape)
	s = strings.ReplaceAll(s, "%", store.LikeEscape+"%")
	s = strings.ReplaceAll(s, "_", store.LikeEscape+"_")
	return s
}

func translateWildcards(s string) string {
	var sb strings.Builder
	for _, r := range s {
		switch r {
		case '*':
			sb.WriteByte('%')
		case '?':
			sb.WriteByte('_')
		case '%', '_', '\\':
			sb.WriteString(store.LikeEscape)
			sb.WriteRune(r)
		default:
			sb.WriteRune(r)
		}
	}
	return sb.String()
}

// Execute runs a structured query against a fresh read snapshot, honoring
// limit and offset. Path scope is applied as a post-filter on
// reconstructed paths because the store holds parent links, not flat
// paths.
func (e *Executor) Execute(ctx context.Context, q *Query, limit, offset int) (*Result, error) {
	started := time.Now()
	if limit <= 0 {
		limit = 100
	}
	if offset < 0 {
		offset = 0
	}

	read, err := e.store.BeginRead()
	if err != nil {
		return nil, err
	}
	defer read.Close()

	spec := Lower(q)

	var result *Result
	if q.PathScope == "" {
		result, err = e.executeDirect(read, spec, limit, offset)
	} else {
		result, err = e.executeScoped(ctx, read, spec, q.PathScope, limit, offset)
	}
	if err != nil {
		return nil, err
	}

	result.SearchTimeMS = time.Since(started).Milliseconds()
	e.logger.Debug().
		Str("query", q.String()).
		Int("rows", len(result.Records)).
		Int64("elapsed_ms", result.SearchTimeMS).
		Msg("Query served")
	return result, nil
}

func (e *Executor) executeDirect(read *store.ReadSnapshot, spec *store.SearchSpec, limit, offset int) (*Result, error) {
	total, err := read.Count(spec)
	if err != nil {
		return nil, err
	}

	spec.Limit = limit
	spec.Offset = offset
	rows, err := read.Search(spec)
	if err != nil {
		return nil, err
	}

	records := make([]types.FileRecord, 0, len(rows))
	for _, row := range rows {
		path, err := read.ReconstructPath(row.VolumeID, row.NodeRef)
		if err != nil {
			// The row vanished between fetch and walk; skip rather
			// than fail the whole response
			continue
		}
		records = append(records, toRecord(row, path))
	}
	return &Result{Records: records, TotalCount: total}, nil
}

// executeScoped pages through index matches, reconstructs each path and
// keeps rows under the scope prefix until limit+offset are satisfied or
// the scan cap is hit.
func (e *Executor) executeScoped(ctx context.Context, read *store.ReadSnapshot, spec *store.SearchSpec, scope string, limit, offset int) (*Result, error) {
	prefix := strings.ToLower(strings.TrimRight(scope, `\`))
	var (
		records []types.FileRecord
		matched int64
		scanned int
	)

	for page := 0; scanned < pathScanCap; page++ {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		spec.Limit = pathScanPage
		spec.Offset = page * pathScanPage
		rows, err := read.Search(spec)
		if err != nil {
			return nil, err
		}
		if len(rows) == 0 {
			break
		}
		scanned += len(rows)

		for _, row := range rows {
			path, err := read.ReconstructPath(row.VolumeID, row.NodeRef)
			if err != nil {
				continue
			}
			lowered := strings.ToLower(path)
			if lowered != prefix && !strings.HasPrefix(lowered, prefix+`\`) {
				continue
			}
			matched++
			if matched > int64(offset) && len(records) < limit {
				records = append(records, toRecord(row, path))
			}
		}
	}
	return &Result{Records: records, TotalCount: matched}, nil
}

func toRecord(row *types.Entry, path string) types.FileRecord {
	return types.FileRecord{
		ID:         row.NodeRef,
		Name:       row.Name,
		Path:       path,
		Size:       row.Size,
		ModifiedAt: row.ModifiedAt,
		IsDir:      row.IsDir,
	}
}

package ipc

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/log"
	"github.com/ram-shortage/BRindeX/pkg/metrics"
	"github.com/ram-shortage/BRindeX/pkg/query"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

const (
	// requestDeadline is the per-request soft deadline; exceeding it
	// aborts the pending read/write and closes the connection
	requestDeadline = 10 * time.Second
	// shutdownGrace bounds the wait for in-flight handlers
	shutdownGrace = 5 * time.Second
)

// StatusFunc supplies the per-volume status rows
type StatusFunc func() ([]types.VolumeStatus, error)

// RebuildFunc drops and re-enumerates the volume at a mount
type RebuildFunc func(mount string) error

// Server accepts connections on the local channel and serves one
// request per connection against a fresh read snapshot.
type Server struct {
	executor *query.Executor
	status   StatusFunc
	rebuild  RebuildFunc
	logger   zerolog.Logger

	listener net.Listener
	wg       sync.WaitGroup
	stopCh   chan struct{}
}

// NewServer creates the IPC server
func NewServer(executor *query.Executor, status StatusFunc, rebuild RebuildFunc) *Server {
	return &Server{
		executor: executor,
		status:   status,
		rebuild:  rebuild,
		logger:   log.WithComponent("ipc"),
		stopCh:   make(chan struct{}),
	}
}

// Start listens on the platform channel and begins accepting. dataDir
// anchors the unix-socket fallback; the Windows pipe name is fixed.
func (s *Server) Start(ctx context.Context, dataDir string) error {
	listener, err := listen(dataDir)
	if err != nil {
		return err
	}
	s.listener = listener
	s.logger.Info().Str("addr", listener.Addr().String()).Msg("IPC server listening")

	s.wg.Add(1)
	go s.acceptLoop(ctx)
	return nil
}

// Stop stops accepting and waits for in-flight handlers up to the
// shutdown grace period
func (s *Server) Stop() {
	close(s.stopCh)
	if s.listener != nil {
		s.listener.Close()
	}

	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(shutdownGrace):
		s.logger.Warn().Msg("IPC shutdown grace expired with handlers in flight")
	}
}

func (s *Server) acceptLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		conn, err := s.listener.Accept()
		if err != nil {
			select {
			case <-s.stopCh:
				return
			case <-ctx.Done():
				return
			default:
			}
			s.logger.Warn().Err(err).Msg("Accept failed")
			continue
		}

		// The next connection is accepted concurrently with this
		// handler
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}()
	}
}

// handle serves exactly one request: read, execute on a snapshot,
// respond, close
func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()
	requestID := uuid.NewString()
	logger := s.logger.With().Str("request_id", requestID).Logger()

	conn.SetDeadline(time.Now().Add(requestDeadline))
	ctx, cancel := context.WithTimeout(ctx, requestDeadline)
	defer cancel()

	payload, err := ReadFrame(conn)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			s.respondError(conn, CodeTooLarge, "request exceeds maximum size", 0)
		}
		return
	}

	var req Request
	if err := json.Unmarshal(payload, &req); err != nil {
		s.respondError(conn, CodeBadRequest, "malformed request payload", 0)
		return
	}

	switch req.Type {
	case "search":
		s.handleSearch(ctx, conn, &req, logger)
	case "status":
		s.handleStatus(conn, logger)
	case "rebuild":
		s.handleRebuild(conn, &req, logger)
	default:
		metrics.QueriesTotal.WithLabelValues(req.Type, "unknown").Inc()
		s.respondError(conn, CodeUnknownRequest, "unknown request type", 0)
	}
}

func (s *Server) handleSearch(ctx context.Context, conn net.Conn, req *Request, logger zerolog.Logger) {
	parsed, err := query.Parse(req.Query)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("search", "parse_error").Inc()
		var perr *query.ParseError
		if errors.As(err, &perr) {
			// Parse errors go back to the caller with a position; they
			// are not server errors
			s.respondError(conn, CodeParseError, perr.Msg, perr.Pos)
			return
		}
		s.respondError(conn, CodeParseError, err.Error(), 0)
		return
	}

	timer := metrics.NewTimer()
	result, err := s.executor.Execute(ctx, parsed, req.Limit, req.Offset)
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("search", "error").Inc()
		logger.Error().Err(err).Msg("Search execution failed")
		s.respondError(conn, CodeInternal, "search failed", 0)
		return
	}
	timer.ObserveDuration(metrics.QueryDuration)
	metrics.QueriesTotal.WithLabelValues("search", "ok").Inc()

	records := result.Records
	if records == nil {
		records = []types.FileRecord{}
	}
	s.respond(conn, &SearchResponse{
		Results:      records,
		TotalCount:   result.TotalCount,
		SearchTimeMS: result.SearchTimeMS,
	})
}

func (s *Server) handleStatus(conn net.Conn, logger zerolog.Logger) {
	volumes, err := s.status()
	if err != nil {
		metrics.QueriesTotal.WithLabelValues("status", "error").Inc()
		logger.Error().Err(err).Msg("Status collection failed")
		s.respondError(conn, CodeInternal, "status unavailable", 0)
		return
	}
	metrics.QueriesTotal.WithLabelValues("status", "ok").Inc()
	if volumes == nil {
		volumes = []types.VolumeStatus{}
	}
	s.respond(conn, &StatusResponse{Volumes: volumes})
}

func (s *Server) handleRebuild(conn net.Conn, req *Request, logger zerolog.Logger) {
	if req.Mount == "" {
		s.respondError(conn, CodeBadRequest, "rebuild requires a mount", 0)
		return
	}
	if err := s.rebuild(req.Mount); err != nil {
		metrics.QueriesTotal.WithLabelValues("rebuild", "error").Inc()
		logger.Error().Err(err).Str("mount", req.Mount).Msg("Rebuild failed")
		s.respondError(conn, CodeInternal, "rebuild failed", 0)
		return
	}
	metrics.QueriesTotal.WithLabelValues("rebuild", "ok").Inc()
	s.respond(conn, &OKResponse{OK: true})
}

func (s *Server) respond(conn net.Conn, v interface{}) {
	payload, err := json.Marshal(v)
	if err != nil {
		s.logger.Error().Err(err).Msg("Response marshal failed")
		return
	}
	if err := WriteFrame(conn, payload); err != nil {
		s.logger.Debug().Err(err).Msg("Response write failed")
	}
}

func (s *Server) respondError(conn net.Conn, code, message string, pos int) {
	s.respond(conn, &ErrorResponse{Error: ErrorDetail{
		Code:     code,
		Message:  message,
		Position: pos,
	}})
}

package ipc

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"

	"github.com/ram-shortage/BRindeX/pkg/types"
)

// MaxPayload bounds a single message; anything larger is rejected
// before allocation
const MaxPayload = 16 << 20

// ErrTooLarge is returned for frames whose declared length exceeds
// MaxPayload
var ErrTooLarge = errors.New("ipc: frame exceeds maximum payload size")

// Machine-readable error codes returned to callers
const (
	CodeBadRequest     = "bad_request"
	CodeParseError     = "parse_error"
	CodeUnknownRequest = "unknown_request"
	CodeTooLarge       = "too_large"
	CodeInternal       = "internal"
)

// Request is the envelope every message carries; Type selects the
// operation
type Request struct {
	Type   string `json:"type"`
	Query  string `json:"query,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
	// Mount targets volume-scoped admin requests (rebuild)
	Mount string `json:"mount,omitempty"`
}

// SearchResponse answers a search request
type SearchResponse struct {
	Results      []types.FileRecord `json:"results"`
	TotalCount   int64              `json:"total_count"`
	SearchTimeMS int64              `json:"search_time_ms"`
}

// StatusResponse answers a status request
type StatusResponse struct {
	Volumes []types.VolumeStatus `json:"volumes"`
}

// OKResponse acknowledges admin requests with no payload
type OKResponse struct {
	OK bool `json:"ok"`
}

// ErrorResponse is the typed error surface; internals never leak into
// Message
type ErrorResponse struct {
	Error ErrorDetail `json:"error"`
}

type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	// Position is set for parse errors
	Position int `json:"position,omitempty"`
}

// WriteFrame writes one length-prefixed message: 4-byte little-endian
// length, then the UTF-8 payload
func WriteFrame(w io.Writer, payload []byte) error {
	if len(payload) > MaxPayload {
		return ErrTooLarge
	}
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], uint32(len(payload)))
	if _, err := w.Write(header[:]); err != nil {
		return err
	}
	_, err := w.Write(payload)
	return err
}

// ReadFrame reads one length-prefixed message, looping until the
// declared length is satisfied
func ReadFrame(r io.Reader) ([]byte, error) {
	var header [4]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, err
	}
	length := binary.LittleEndian.Uint32(header[:])
	if length > MaxPayload {
		return nil, ErrTooLarge
	}
	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, fmt.Errorf("ipc: short frame: %w", err)
	}
	return payload, nil
}

package ipc

import (
	"encoding/json"
	"fmt"
)

// Client speaks the one-request-per-connection protocol. The CLI
// subcommands and tests use it; the search UI implements the same
// framing.
type Client struct {
	dataDir string
}

// NewClient creates a client for the service rooted at dataDir (used
// only by the unix-socket fallback; the Windows pipe name is fixed)
func NewClient(dataDir string) *Client {
	return &Client{dataDir: dataDir}
}

// roundTrip dials, sends one request and decodes one response
func (c *Client) roundTrip(req *Request, out interface{}) error {
	conn, err := Dial(c.dataDir)
	if err != nil {
		return fmt.Errorf("ipc: cannot reach service: %w", err)
	}
	defer conn.Close()

	payload, err := json.Marshal(req)
	if err != nil {
		return err
	}
	if err := WriteFrame(conn, payload); err != nil {
		return err
	}

	resp, err := ReadFrame(conn)
	if err != nil {
		return err
	}

	var errResp ErrorResponse
	if err := json.Unmarshal(resp, &errResp); err == nil && errResp.Error.Code != "" {
		return fmt.Errorf("ipc: %s: %s", errResp.Error.Code, errResp.Error.Message)
	}
	return json.Unmarshal(resp, out)
}

// Search runs a query through the service
func (c *Client) Search(queryString string, limit, offset int) (*SearchResponse, error) {
	var resp SearchResponse
	err := c.roundTrip(&Request{
		Type:   "search",
		Query:  queryString,
		Limit:  limit,
		Offset: offset,
	}, &resp)
	if err != nil {
		return nil, err
	}
	return &resp, nil
}

// Status fetches per-volume status
func (c *Client) Status() (*StatusResponse, error) {
	var resp StatusResponse
	if err := c.roundTrip(&Request{Type: "status"}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// Rebuild asks the service to drop and re-enumerate a volume
func (c *Client) Rebuild(mount string) error {
	var resp OKResponse
	return c.roundTrip(&Request{Type: "rebuild", Mount: mount}, &resp)
}

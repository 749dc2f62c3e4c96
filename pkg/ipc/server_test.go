package ipc

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ram-shortage/BRindeX/pkg/query"
	"github.com/ram-shortage/BRindeX/pkg/store"
	"github.com/ram-shortage/BRindeX/pkg/types"
)

func TestFrameRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"status"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	// 4-byte little-endian length prefix
	assert.Equal(t, uint32(len(payload)), binary.LittleEndian.Uint32(buf.Bytes()[:4]))

	got, err := ReadFrame(&buf)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestFramePartialReads(t *testing.T) {
	var buf bytes.Buffer
	payload := []byte(`{"type":"search","query":"report"}`)
	require.NoError(t, WriteFrame(&buf, payload))

	// Deliver one byte at a time; ReadFrame must loop until satisfied
	got, err := ReadFrame(oneByteReader{&buf})
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

type oneByteReader struct{ inner *bytes.Buffer }

func (r oneByteReader) Read(p []byte) (int, error) {
	return r.inner.Read(p[:1])
}

func TestFrameTooLarge(t *testing.T) {
	var buf bytes.Buffer
	var header [4]byte
	binary.LittleEndian.PutUint32(header[:], MaxPayload+1)
	buf.Write(header[:])

	_, err := ReadFrame(&buf)
	assert.ErrorIs(t, err, ErrTooLarge)
}

func newTestServer(t *testing.T) (*Server, *Client, string) {
	t.Helper()
	dataDir := t.TempDir()

	s, err := store.Open(dataDir)
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	tx, err := s.BeginWrite()
	require.NoError(t, err)
	require.NoError(t, tx.UpsertVolume(&types.Volume{
		ID: "vol-1", Mount: `C:\`, Kind: types.VolumeKindJournaled,
		State: types.VolumeStateLive, EntryCount: 2, CreatedAt: time.Now().Unix(),
	}))
	require.NoError(t, tx.UpsertEntry(&types.Entry{
		VolumeID: "vol-1", NodeRef: 1, ParentRef: types.RootNodeRef,
		Name: "report.pdf", Size: 2048, ModifiedAt: 1700000000,
	}))
	require.NoError(t, tx.UpsertEntry(&types.Entry{
		VolumeID: "vol-1", NodeRef: 2, ParentRef: types.RootNodeRef,
		Name: "notes.txt", Size: 64,
	}))
	require.NoError(t, tx.Commit())

	statusFn := func() ([]types.VolumeStatus, error) {
		return []types.VolumeStatus{{
			Mount: `C:\`, Kind: "journaled", State: "live", EntryCount: 2, Freshness: 3,
		}}, nil
	}
	var rebuilt []string
	rebuildFn := func(mount string) error {
		rebuilt = append(rebuilt, mount)
		return nil
	}

	server := NewServer(query.NewExecutor(s), statusFn, rebuildFn)
	require.NoError(t, server.Start(context.Background(), dataDir))
	t.Cleanup(server.Stop)

	return server, NewClient(dataDir), dataDir
}

func TestServeSearch(t *testing.T) {
	_, client, _ := newTestServer(t)

	resp, err := client.Search("report ext:pdf", 10, 0)
	require.NoError(t, err)
	require.Len(t, resp.Results, 1)
	assert.Equal(t, "report.pdf", resp.Results[0].Name)
	assert.Equal(t, `C:\report.pdf`, resp.Results[0].Path)
	assert.EqualValues(t, 2048, resp.Results[0].Size)
	assert.EqualValues(t, 1, resp.TotalCount)
	assert.GreaterOrEqual(t, resp.SearchTimeMS, int64(0))
}

func TestServeSearchEmpty(t *testing.T) {
	_, client, _ := newTestServer(t)

	resp, err := client.Search("nosuchfile", 10, 0)
	require.NoError(t, err)
	assert.NotNil(t, resp.Results)
	assert.Empty(t, resp.Results)
	assert.EqualValues(t, 0, resp.TotalCount)
}

func TestServeStatus(t *testing.T) {
	_, client, _ := newTestServer(t)

	resp, err := client.Status()
	require.NoError(t, err)
	require.Len(t, resp.Volumes, 1)
	assert.Equal(t, `C:\`, resp.Volumes[0].Mount)
	assert.Equal(t, "live", resp.Volumes[0].State)
	assert.EqualValues(t, 2, resp.Volumes[0].EntryCount)
}

func TestServeParseError(t *testing.T) {
	_, client, _ := newTestServer(t)

	_, err := client.Search("weight:10", 10, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), CodeParseError)
}

func TestServeUnknownRequestType(t *testing.T) {
	_, _, dataDir := newTestServer(t)

	conn, err := Dial(dataDir)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, []byte(`{"type":"teleport"}`)))
	payload, err := ReadFrame(conn)
	require.NoError(t, err)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, CodeUnknownRequest, resp.Error.Code)
}

func TestServeMalformedPayload(t *testing.T) {
	_, _, dataDir := newTestServer(t)

	conn, err := Dial(dataDir)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, WriteFrame(conn, []byte(`{{{`)))
	payload, err := ReadFrame(conn)
	require.NoError(t, err)

	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(payload, &resp))
	assert.Equal(t, CodeBadRequest, resp.Error.Code)
}

func TestServeConcurrentRequests(t *testing.T) {
	_, client, _ := newTestServer(t)

	done := make(chan error, 8)
	for i := 0; i < 8; i++ {
		go func() {
			_, err := client.Search("report", 10, 0)
			done <- err
		}()
	}
	for i := 0; i < 8; i++ {
		assert.NoError(t, <-done)
	}
}

func TestServeRebuild(t *testing.T) {
	_, client, _ := newTestServer(t)
	require.NoError(t, client.Rebuild(`C:\`))
}

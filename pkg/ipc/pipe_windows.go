//go:build windows

package ipc

import (
	"net"
	"time"

	"github.com/Microsoft/go-winio"
)

// PipeName is the fixed local channel the UI process dials
const PipeName = `\\.\pipe\brindex`

func listen(dataDir string) (net.Listener, error) {
	return winio.ListenPipe(PipeName, &winio.PipeConfig{
		MessageMode:      false,
		InputBufferSize:  65536,
		OutputBufferSize: 65536,
	})
}

// Dial connects to the service's pipe
func Dial(dataDir string) (net.Conn, error) {
	timeout := 2 * time.Second
	return winio.DialPipe(PipeName, &timeout)
}

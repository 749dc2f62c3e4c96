//go:build windows

package journal

import (
	"golang.org/x/sys/windows"

	"github.com/ram-shortage/BRindeX/pkg/winfs"
)

// readBufSize is the DeviceIoControl output buffer per read
const readBufSize = 64 * 1024

// usnReader reads the change journal over a raw volume handle
type usnReader struct {
	mount string
	h     windows.Handle
	buf   []byte
}

// OpenReader opens the volume's change journal for reading. Requires
// elevation, like the MFT fast path.
func OpenReader(mount string) (Reader, error) {
	h, err := winfs.OpenVolume(mount)
	if err != nil {
		return nil, err
	}
	return &usnReader{mount: mount, h: h, buf: make([]byte, readBufSize)}, nil
}

func (r *usnReader) Query() (winfs.JournalInfo, error) {
	return winfs.QueryJournal(r.h)
}

func (r *usnReader) Read(journalID uint64, startUSN int64) (int64, []winfs.Record, error) {
	return winfs.ReadJournal(r.h, journalID, startUSN, r.buf)
}

func (r *usnReader) RootFRN() (uint64, error) {
	idx, _, err := winfs.FileIndex(r.mount)
	return idx, err
}

func (r *usnReader) Close() error {
	return windows.CloseHandle(r.h)
}

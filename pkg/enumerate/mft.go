package enumerate

import (
	"errors"

	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/log"
)

// ErrPrivilege means raw volume access was denied. The caller demotes
// the volume from the MFT fast path to the walk enumerator, surfacing
// the demotion once.
var ErrPrivilege = errors.New("enumerate: raw volume access denied")

// MFTEnumerator produces entries by scanning an NTFS volume's master
// file table. The stream is finite, non-restartable and unordered
// within the volume; node_refs are the filesystem's own file references.
type MFTEnumerator struct {
	volumeID string
	mount    string
	exclude  func(path, name string) bool
	logger   zerolog.Logger
}

// NewMFTEnumerator creates an MFT enumerator for one journaled volume.
// exclude only sees leaf names here — the scan has no paths — so only
// extension excludes prune at this stage; path excludes converge through
// reconciliation.
func NewMFTEnumerator(volumeID, mount string, exclude func(path, name string) bool) *MFTEnumerator {
	return &MFTEnumerator{
		volumeID: volumeID,
		mount:    mount,
		exclude:  exclude,
		logger:   log.WithVolume(volumeID),
	}
}

//go:build windows

package registry

import (
	"strings"

	"github.com/rs/zerolog"

	"github.com/ram-shortage/BRindeX/pkg/winfs"
)

// mountPresent checks the drive-letter bitmap for the mount's drive
func mountPresent(mount string) bool {
	mounts, err := winfs.DriveMounts()
	if err != nil {
		return false
	}
	for _, m := range mounts {
		if strings.EqualFold(m, mount) {
			return true
		}
	}
	return false
}

// startMountWatch has no push notification source here; presence comes
// from the poll alone
func startMountWatch(mounts []string, logger zerolog.Logger) (<-chan struct{}, func()) {
	return make(chan struct{}), func() {}
}

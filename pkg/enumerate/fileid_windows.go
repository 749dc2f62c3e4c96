//go:build windows

package enumerate

import (
	"fmt"

	"github.com/ram-shortage/BRindeX/pkg/winfs"
)

// fileKey returns a volume-serial+file-index key for traversal cycle
// detection, the device+inode equivalent on Windows
func fileKey(path string) (string, bool) {
	idx, serial, err := winfs.FileIndex(path)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%x:%x", serial, idx), true
}

// rootFRN resolves the native file reference of the volume root so MFT
// and journal refs can be normalized to the store's root node_ref
func rootFRN(mount string) (uint64, error) {
	idx, _, err := winfs.FileIndex(mount)
	if err != nil {
		return 0, fmt.Errorf("enumerate: failed to resolve root reference for %s: %w", mount, err)
	}
	return idx, nil
}

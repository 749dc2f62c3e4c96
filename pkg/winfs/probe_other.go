//go:build !windows

package winfs

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// Probe derives a stable serial from the filesystem id. Non-Windows
// volumes always classify as generic, so FSName reports the statfs type.
func Probe(mount string) (VolumeInfo, error) {
	var st unix.Statfs_t
	if err := unix.Statfs(mount, &st); err != nil {
		return VolumeInfo{}, fmt.Errorf("winfs: failed to probe %s: %w", mount, err)
	}
	serial := uint32(st.Fsid.Val[0]) ^ uint32(st.Fsid.Val[1])
	return VolumeInfo{
		Serial: serial,
		FSName: fmt.Sprintf("fs-%x", st.Type),
	}, nil
}

// DriveMounts has no drive-letter bitmap to read here; mount discovery
// relies entirely on the configured volume list
func DriveMounts() ([]string, error) {
	return nil, nil
}

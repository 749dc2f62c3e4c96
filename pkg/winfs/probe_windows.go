//go:build windows

package winfs

import (
	"fmt"
	"strings"

	"golang.org/x/sys/windows"
)

// Probe queries the filesystem serial and kind for a mounted volume.
// mount is a root path like `C:\`.
func Probe(mount string) (VolumeInfo, error) {
	root, err := windows.UTF16PtrFromString(ensureTrailingSlash(mount))
	if err != nil {
		return VolumeInfo{}, err
	}

	var serial, maxComponent, flags uint32
	fsName := make([]uint16, windows.MAX_PATH+1)
	err = windows.GetVolumeInformation(root, nil, 0, &serial, &maxComponent, &flags,
		&fsName[0], uint32(len(fsName)))
	if err != nil {
		return VolumeInfo{}, fmt.Errorf("winfs: failed to probe %s: %w", mount, err)
	}

	return VolumeInfo{
		Serial: serial,
		FSName: windows.UTF16ToString(fsName),
	}, nil
}

// OpenVolume opens the raw volume device (\\.\C:) for journal and MFT
// FSCTLs. Requires elevation; without it CreateFile fails with access
// denied and the caller demotes to the walk path.
func OpenVolume(mount string) (windows.Handle, error) {
	drive := strings.TrimRight(mount, `\/`)
	device, err := windows.UTF16PtrFromString(`\\.\` + drive)
	if err != nil {
		return windows.InvalidHandle, err
	}
	h, err := windows.CreateFile(device,
		windows.GENERIC_READ,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE,
		nil,
		windows.OPEN_EXISTING,
		0, 0)
	if err != nil {
		return windows.InvalidHandle, fmt.Errorf("winfs: failed to open volume %s: %w", drive, err)
	}
	return h, nil
}

// DriveMounts returns the root paths of all present drive letters,
// excluding remote drives
func DriveMounts() ([]string, error) {
	bitmap, err := windows.GetLogicalDrives()
	if err != nil {
		return nil, err
	}
	var mounts []string
	for i := 0; i < 26; i++ {
		if bitmap&(1<<uint(i)) == 0 {
			continue
		}
		mount := string(rune('A'+i)) + `:\`
		ptr, err := windows.UTF16PtrFromString(mount)
		if err != nil {
			continue
		}
		switch windows.GetDriveType(ptr) {
		case windows.DRIVE_FIXED, windows.DRIVE_REMOVABLE:
			mounts = append(mounts, mount)
		}
	}
	return mounts, nil
}

// FileIndex opens a path and reads its 64-bit file index and volume
// serial, the device+inode equivalent. Backup semantics let directory
// handles open without traverse rights.
func FileIndex(path string) (uint64, uint32, error) {
	ptr, err := windows.UTF16PtrFromString(path)
	if err != nil {
		return 0, 0, err
	}
	h, err := windows.CreateFile(ptr,
		0,
		windows.FILE_SHARE_READ|windows.FILE_SHARE_WRITE|windows.FILE_SHARE_DELETE,
		nil,
		windows.OPEN_EXISTING,
		windows.FILE_FLAG_BACKUP_SEMANTICS,
		0)
	if err != nil {
		return 0, 0, err
	}
	defer windows.CloseHandle(h)

	var info windows.ByHandleFileInformation
	if err := windows.GetFileInformationByHandle(h, &info); err != nil {
		return 0, 0, err
	}
	return uint64(info.FileIndexHigh)<<32 | uint64(info.FileIndexLow), info.VolumeSerialNumber, nil
}

func ensureTrailingSlash(mount string) string {
	if strings.HasSuffix(mount, `\`) || strings.HasSuffix(mount, `/`) {
		return mount
	}
	return mount + `\`
}

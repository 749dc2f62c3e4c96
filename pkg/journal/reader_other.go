//go:build !windows

package journal

import "github.com/ram-shortage/BRindeX/pkg/winfs"

// OpenReader has no change journal to read here; volumes on this
// platform classify as generic and use the reconciler instead
func OpenReader(mount string) (Reader, error) {
	return nil, winfs.ErrUnsupported
}

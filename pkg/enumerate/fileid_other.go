//go:build !windows

package enumerate

import (
	"fmt"
	"os"
	"syscall"
)

// fileKey returns a device+inode key for traversal cycle detection
func fileKey(path string) (string, bool) {
	info, err := os.Stat(path)
	if err != nil {
		return "", false
	}
	st, ok := info.Sys().(*syscall.Stat_t)
	if !ok {
		return "", false
	}
	return fmt.Sprintf("%x:%x", st.Dev, st.Ino), true
}

package journal

import (
	"os"
	"strings"
)

func lstat(path string) (size int64, mtime int64, ok bool) {
	info, err := os.Lstat(path)
	if err != nil {
		return 0, 0, false
	}
	return info.Size(), info.ModTime().Unix(), true
}

// joinPath appends a leaf to a reconstructed path using the volume's
// separator convention
func joinPath(dir, name string) string {
	sep := "/"
	if len(dir) >= 2 && dir[1] == ':' {
		sep = `\`
	}
	if strings.HasSuffix(dir, sep) {
		return dir + name
	}
	return dir + sep + name
}

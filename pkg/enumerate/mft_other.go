//go:build !windows

package enumerate

import (
	"context"

	"github.com/ram-shortage/BRindeX/pkg/winfs"
)

// Enumerate is unavailable without raw NTFS access; callers fall back
// to the walk enumerator
func (m *MFTEnumerator) Enumerate(ctx context.Context, emit EmitFunc) error {
	return winfs.ErrUnsupported
}

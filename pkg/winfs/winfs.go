// Package winfs holds the low-level volume probing and change-journal
// plumbing shared by the enumerators and the journal consumer. The real
// implementations are Windows-only; other platforms get portable probes
// so the generic indexing paths stay testable everywhere.
package winfs

import "errors"

// ErrUnsupported is returned by journal/MFT operations on platforms
// without the underlying facility
var ErrUnsupported = errors.New("winfs: operation not supported on this platform")

// VolumeInfo describes a mounted filesystem as probed at mount time
type VolumeInfo struct {
	// Serial is the filesystem serial number
	Serial uint32
	// FSName is the filesystem's self-reported name (NTFS, FAT32, ...)
	FSName string
}

// JournalInfo is the result of querying a volume's change journal
type JournalInfo struct {
	JournalID uint64
	FirstUSN  int64
	NextUSN   int64
	LowestValidUSN int64
}

// Record is one parsed change-journal record. MFT enumeration yields the
// same shape with Reason zero.
type Record struct {
	FRN        uint64
	ParentFRN  uint64
	USN        int64
	ModifiedAt int64 // unix seconds
	Reason     uint32
	Attributes uint32
	Name       string
}

// Reason bits of interest, mirroring the journal's reason bitset
const (
	ReasonFileCreate     = 0x00000100
	ReasonFileDelete     = 0x00000200
	ReasonRenameOldName  = 0x00001000
	ReasonRenameNewName  = 0x00002000
	ReasonDataExtend     = 0x00000002
	ReasonDataOverwrite  = 0x00000001
	ReasonDataTruncation = 0x00000004
	ReasonBasicInfoChange = 0x00008000
	ReasonClose          = 0x80000000
)

// AttributeDirectory is the FILE_ATTRIBUTE_DIRECTORY bit in Record.Attributes
const AttributeDirectory = 0x10

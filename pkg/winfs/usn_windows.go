//go:build windows

package winfs

import (
	"encoding/binary"
	"fmt"
	"unicode/utf16"
	"unsafe"

	"golang.org/x/sys/windows"
)

// USN FSCTLs, not exposed by x/sys/windows
const (
	fsctlQueryUSNJournal = 0x000900f4
	fsctlReadUSNJournal  = 0x000900bb
	fsctlEnumUSNData     = 0x000900b3
)

// windowsEpochDelta converts FILETIME (100ns ticks since 1601) to unix
// seconds
const windowsEpochDelta = 116444736000000000

type usnJournalDataV0 struct {
	JournalID       uint64
	FirstUSN        int64
	NextUSN         int64
	LowestValidUSN  int64
	MaxUSN          int64
	MaximumSize     uint64
	AllocationDelta uint64
}

type readUSNJournalDataV0 struct {
	StartUSN          int64
	ReasonMask        uint32
	ReturnOnlyOnClose uint32
	Timeout           uint64
	BytesToWaitFor    uint64
	JournalID         uint64
}

type mftEnumDataV0 struct {
	StartFRN uint64
	LowUSN   int64
	HighUSN  int64
}

// QueryJournal fetches the volume's current journal identity and USN
// bounds
func QueryJournal(h windows.Handle) (JournalInfo, error) {
	var data usnJournalDataV0
	var returned uint32
	err := windows.DeviceIoControl(h, fsctlQueryUSNJournal,
		nil, 0,
		(*byte)(unsafe.Pointer(&data)), uint32(unsafe.Sizeof(data)),
		&returned, nil)
	if err != nil {
		return JournalInfo{}, fmt.Errorf("winfs: query journal: %w", err)
	}
	return JournalInfo{
		JournalID:      data.JournalID,
		FirstUSN:       data.FirstUSN,
		NextUSN:        data.NextUSN,
		LowestValidUSN: data.LowestValidUSN,
	}, nil
}

// ReadJournal reads records from startUSN forward into buf and parses
// them. Returns the USN to resume from.
func ReadJournal(h windows.Handle, journalID uint64, startUSN int64, buf []byte) (int64, []Record, error) {
	in := readUSNJournalDataV0{
		StartUSN:   startUSN,
		ReasonMask: 0xFFFFFFFF,
		JournalID:  journalID,
	}
	var returned uint32
	err := windows.DeviceIoControl(h, fsctlReadUSNJournal,
		(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)),
		&buf[0], uint32(len(buf)),
		&returned, nil)
	if err != nil {
		return 0, nil, fmt.Errorf("winfs: read journal: %w", err)
	}
	if returned < 8 {
		return startUSN, nil, nil
	}
	nextUSN := int64(binary.LittleEndian.Uint64(buf[:8]))
	records := parseRecords(buf[8:returned])
	return nextUSN, records, nil
}

// EnumMFT reads one chunk of the master file table enumeration starting
// at startFRN. Returns the FRN to resume from; a returned length under
// the header size means the enumeration is complete.
func EnumMFT(h windows.Handle, startFRN uint64, highUSN int64, buf []byte) (uint64, []Record, bool, error) {
	in := mftEnumDataV0{
		StartFRN: startFRN,
		LowUSN:   0,
		HighUSN:  highUSN,
	}
	var returned uint32
	err := windows.DeviceIoControl(h, fsctlEnumUSNData,
		(*byte)(unsafe.Pointer(&in)), uint32(unsafe.Sizeof(in)),
		&buf[0], uint32(len(buf)),
		&returned, nil)
	if err != nil {
		if err == windows.ERROR_HANDLE_EOF {
			return startFRN, nil, true, nil
		}
		return 0, nil, false, fmt.Errorf("winfs: enum mft: %w", err)
	}
	if returned < 8 {
		return startFRN, nil, true, nil
	}
	nextFRN := binary.LittleEndian.Uint64(buf[:8])
	records := parseRecords(buf[8:returned])
	return nextFRN, records, len(records) == 0, nil
}

// parseRecords walks a buffer of USN_RECORD_V2 structures. Malformed or
// non-v2 records are skipped, never fatal — per-record errors must not
// abort the stream.
func parseRecords(buf []byte) []Record {
	var records []Record
	for len(buf) >= 60 {
		recLen := binary.LittleEndian.Uint32(buf[0:4])
		if recLen < 60 || int(recLen) > len(buf) {
			break
		}
		major := binary.LittleEndian.Uint16(buf[4:6])
		if major != 2 {
			buf = buf[recLen:]
			continue
		}

		nameLen := binary.LittleEndian.Uint16(buf[56:58])
		nameOff := binary.LittleEndian.Uint16(buf[58:60])
		if int(nameOff)+int(nameLen) > int(recLen) {
			buf = buf[recLen:]
			continue
		}

		name := decodeUTF16(buf[nameOff : int(nameOff)+int(nameLen)])
		filetime := int64(binary.LittleEndian.Uint64(buf[32:40]))

		records = append(records, Record{
			FRN:        binary.LittleEndian.Uint64(buf[8:16]),
			ParentFRN:  binary.LittleEndian.Uint64(buf[16:24]),
			USN:        int64(binary.LittleEndian.Uint64(buf[24:32])),
			ModifiedAt: (filetime - windowsEpochDelta) / 10000000,
			Reason:     binary.LittleEndian.Uint32(buf[40:44]),
			Attributes: binary.LittleEndian.Uint32(buf[52:56]),
			Name:       name,
		})
		buf = buf[recLen:]
	}
	return records
}

func decodeUTF16(b []byte) string {
	u := make([]uint16, len(b)/2)
	for i := range u {
		u[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	return string(utf16.Decode(u))
}

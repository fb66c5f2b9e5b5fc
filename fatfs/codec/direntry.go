package codec

import (
	"bytes"
	"encoding/binary"
	"strings"
	"time"

	"github.com/go-restruct/restruct"
)

// Attribute bits of a directory entry, as laid out in the FAT specification.
const (
	AttrReadOnly  = 0x01
	AttrHidden    = 0x02
	AttrSystem    = 0x04
	AttrVolumeID  = 0x08
	AttrDirectory = 0x10
	AttrArchive   = 0x20

	// AttrLongName is the combination that marks an entry as a long-name
	// fragment rather than a short 8.3 entry.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeID
)

const (
	dirEntryDeletedMarker = 0xE5
	dirEntryEndMarker     = 0x00
	dirEntrySize          = 32
)

// EntryKind discriminates what Classify found at a given 32-byte slot.
type EntryKind int

const (
	EntryShort EntryKind = iota
	EntryLongName
	EntryDeleted
	EntryEndOfDirectory
)

// Classify inspects the first byte and the attribute byte (offset 11) of a raw 32-byte slot
// without fully decoding it, the minimum needed to know how to proceed.
func Classify(raw []byte) EntryKind {
	switch raw[0] {
	case dirEntryEndMarker:
		return EntryEndOfDirectory
	case dirEntryDeletedMarker:
		return EntryDeleted
	}
	if raw[11]&AttrLongName == AttrLongName {
		return EntryLongName
	}
	return EntryShort
}

// DirectoryEntry is the decoded, logical view of a short 8.3 directory
// entry. ShortName is the reconstructed "NAME.EXT" form; RawName keeps the
// original 11-byte field so it can be written back unchanged when only
// other fields (e.g. the starting cluster) change.
type DirectoryEntry struct {
	RawName        [11]byte
	ShortName      string
	Attr           byte
	FirstCluster   uint32
	FileSize       uint32
	CreateTime     time.Time
	WriteTime      time.Time
	LastAccessDate time.Time
}

func (e DirectoryEntry) IsDirectory() bool {
	return e.Attr&AttrDirectory != 0
}

func (e DirectoryEntry) IsVolumeLabel() bool {
	return e.Attr&AttrVolumeID != 0
}

type rawShortEntry struct {
	Name            [11]byte
	Attribute       byte
	NTReserved      byte
	CreateTimeTenth byte
	CreateTime      uint16
	CreateDate      uint16
	LastAccessDate  uint16
	FirstClusterHI  uint16
	WriteTime       uint16
	WriteDate       uint16
	FirstClusterLO  uint16
	FileSize        uint32
}

// ParseShortEntry decodes a 32-byte short directory entry. Callers must
// have already ruled out the end-of-directory and deleted markers and the
// long-name attribute combination via Classify.
func ParseShortEntry(raw []byte) (DirectoryEntry, error) {
	if len(raw) < dirEntrySize {
		return DirectoryEntry{}, ErrShortDirEntry
	}

	var rse rawShortEntry
	if err := restruct.Unpack(raw[:dirEntrySize], binary.LittleEndian, &rse); err != nil {
		return DirectoryEntry{}, err
	}

	return DirectoryEntry{
		RawName:        rse.Name,
		ShortName:      formatShortName(rse.Name),
		Attr:           rse.Attribute,
		FirstCluster:   uint32(rse.FirstClusterHI)<<16 | uint32(rse.FirstClusterLO),
		FileSize:       rse.FileSize,
		CreateTime:     combineDateTime(rse.CreateDate, rse.CreateTime),
		WriteTime:      combineDateTime(rse.WriteDate, rse.WriteTime),
		LastAccessDate: ParseDate(rse.LastAccessDate),
	}, nil
}

// EncodeShortEntry is the inverse of ParseShortEntry. Timestamps that
// round-trip through ParseDate/ParseTime losslessly (even-second, post-1980)
// are preserved; callers that only change FirstCluster should read-modify-
// write rather than re-derive timestamps to avoid truncating sub-2-second
// precision.
func EncodeShortEntry(e DirectoryEntry) ([]byte, error) {
	createDate, createTime := splitDateTime(e.CreateTime)
	writeDate, writeTime := splitDateTime(e.WriteTime)

	rse := rawShortEntry{
		Name:           e.RawName,
		Attribute:      e.Attr,
		CreateDate:     createDate,
		CreateTime:     createTime,
		LastAccessDate: EncodeDate(e.LastAccessDate),
		FirstClusterHI: uint16(e.FirstCluster >> 16),
		WriteDate:      writeDate,
		WriteTime:      writeTime,
		FirstClusterLO: uint16(e.FirstCluster),
		FileSize:       e.FileSize,
	}

	return restruct.Pack(binary.LittleEndian, &rse)
}

// LongNameEntry is one 13-character fragment of a long file name. Order is
// the on-disk sequence byte with the "last logical entry" bit (0x40)
// stripped, i.e. the 1-based position within the name, read right-to-left
// on disk; IsLast records whether that bit was set.
type LongNameEntry struct {
	Order    byte
	IsLast   bool
	Checksum byte
	Name     string
}

type rawLongNameEntry struct {
	Sequence  byte
	Name1     [5]uint16
	Attribute byte
	Type      byte
	Checksum  byte
	Name2     [6]uint16
	Zero      [2]byte
	Name3     [2]uint16
}

const longNameLastEntryBit = 0x40

// ParseLongNameEntry decodes a 32-byte long-name fragment.
func ParseLongNameEntry(raw []byte) (LongNameEntry, error) {
	if len(raw) < dirEntrySize {
		return LongNameEntry{}, ErrShortDirEntry
	}

	var rle rawLongNameEntry
	if err := restruct.Unpack(raw[:dirEntrySize], binary.LittleEndian, &rle); err != nil {
		return LongNameEntry{}, err
	}

	units := make([]uint16, 0, 13)
	units = append(units, rle.Name1[:]...)
	units = append(units, rle.Name2[:]...)
	units = append(units, rle.Name3[:]...)

	return LongNameEntry{
		Order:    rle.Sequence &^ longNameLastEntryBit,
		IsLast:   rle.Sequence&longNameLastEntryBit != 0,
		Checksum: rle.Checksum,
		Name:     decodeUTF16Fragment(units),
	}, nil
}

// EncodeLongNameEntry is the inverse of ParseLongNameEntry. name must be at
// most 13 UTF-16 code units; shorter names are padded with a terminating
// NUL followed by 0xFFFF filler, matching the on-disk convention.
func EncodeLongNameEntry(order byte, isLast bool, checksum byte, name string) ([]byte, error) {
	units := encodeUTF16Fragment(name)

	sequence := order
	if isLast {
		sequence |= longNameLastEntryBit
	}

	rle := rawLongNameEntry{
		Sequence:  sequence,
		Attribute: AttrLongName,
		Checksum:  checksum,
	}
	copy(rle.Name1[:], units[0:5])
	copy(rle.Name2[:], units[5:11])
	copy(rle.Name3[:], units[11:13])

	return restruct.Pack(binary.LittleEndian, &rle)
}

// ShortNameChecksum computes the checksum a long-name entry must carry to
// be considered attached to the following short entry: sum of bytes with a
// right-rotate between additions, per the FAT long-name specification.
func ShortNameChecksum(rawName [11]byte) byte {
	var sum byte
	for _, c := range rawName {
		sum = ((sum & 1) << 7) | (sum >> 1)
		sum += c
	}
	return sum
}

func formatShortName(raw [11]byte) string {
	base := strings.TrimRight(string(raw[0:8]), " ")
	ext := strings.TrimRight(string(raw[8:11]), " ")
	if ext == "" {
		return base
	}
	return base + "." + ext
}

func combineDateTime(date, clock uint16) time.Time {
	d := ParseDate(date)
	if d.IsZero() {
		return time.Time{}
	}
	t := ParseTime(clock)
	return time.Date(d.Year(), d.Month(), d.Day(), t.Hour(), t.Minute(), t.Second(), 0, time.UTC)
}

func splitDateTime(t time.Time) (date, clock uint16) {
	if t.IsZero() {
		return 0, 0
	}
	return EncodeDate(t), EncodeTime(t)
}

func decodeUTF16Fragment(units []uint16) string {
	var b strings.Builder
	for _, u := range units {
		if u == 0x0000 || u == 0xFFFF {
			break
		}
		b.WriteRune(rune(u))
	}
	return b.String()
}

func encodeUTF16Fragment(name string) [13]uint16 {
	var units [13]uint16
	runes := []rune(name)
	i := 0
	for ; i < len(runes) && i < 13; i++ {
		units[i] = uint16(runes[i])
	}
	if i < 13 {
		units[i] = 0x0000
		i++
	}
	for ; i < 13; i++ {
		units[i] = 0xFFFF
	}
	return units
}

// AssembleLongName concatenates fragments already sorted by ascending Order
// (i.e. reversed from on-disk storage order, which is last-fragment-first).
func AssembleLongName(fragments []LongNameEntry) string {
	var b bytes.Buffer
	for _, f := range fragments {
		b.WriteString(f.Name)
	}
	return b.String()
}

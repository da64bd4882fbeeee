package fatfs

import (
	"encoding/binary"
	"time"

	"github.com/go-restruct/restruct"

	"github.com/aligator/fatfs/checkpoint"
)

const dirEntrySize = 32

// Markers found in the first name byte of a slot.
const (
	slotFree    = 0x00
	slotDeleted = 0xE5
	// slotKanji replaces a real leading 0xE5 so it is not mistaken for a deleted slot.
	slotKanji = 0x05
)

// Attribute is the attribute bitset of a directory entry.
type Attribute uint8

const (
	AttrReadOnly    Attribute = 0x01
	AttrHidden      Attribute = 0x02
	AttrSystem      Attribute = 0x04
	AttrVolumeLabel Attribute = 0x08
	AttrDirectory   Attribute = 0x10
	AttrArchive     Attribute = 0x20

	// AttrLongName marks an entry of a long file name. They are skipped.
	AttrLongName = AttrReadOnly | AttrHidden | AttrSystem | AttrVolumeLabel
)

// rawEntry is the on-disk layout of a 32 byte directory slot.
type rawEntry struct {
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

// DirectoryEntry is the decoded content of a single directory slot.
type DirectoryEntry struct {
	Name       NormalizedName
	Attributes Attribute

	CreationTime   time.Time
	LastAccessTime time.Time
	LastWriteTime  time.Time

	// FirstCluster is 0 for empty files and for ".." entries pointing to the root.
	FirstCluster uint32
	FileSize     uint32
}

// IsDirectory reports whether the entry describes a directory.
func (e DirectoryEntry) IsDirectory() bool {
	return e.Attributes&AttrDirectory != 0
}

// IsVolumeLabel reports whether the entry is the volume label of the root directory.
func (e DirectoryEntry) IsVolumeLabel() bool {
	return e.Attributes&AttrVolumeLabel != 0 && e.Attributes&AttrLongName != AttrLongName
}

func decodeEntry(data []byte, variant Variant) (DirectoryEntry, error) {
	var raw rawEntry
	if err := restruct.Unpack(data[:dirEntrySize], binary.LittleEndian, &raw); err != nil {
		return DirectoryEntry{}, checkpoint.From(err)
	}

	name := NormalizedName(raw.Name)
	if name[0] == slotKanji {
		name[0] = slotDeleted
	}

	entry := DirectoryEntry{
		Name:           name,
		Attributes:     Attribute(raw.Attribute),
		CreationTime:   DecodeDateTime(raw.CreateDate, raw.CreateTime, raw.CreateTimeTenth),
		LastAccessTime: ParseDate(raw.LastAccessDate),
		LastWriteTime:  DecodeDateTime(raw.WriteDate, raw.WriteTime, 0),
		FirstCluster:   uint32(raw.FirstClusterLO),
		FileSize:       raw.FileSize,
	}

	// FAT12/16 use the high word for extended attributes.
	if variant == FAT32 {
		entry.FirstCluster |= uint32(raw.FirstClusterHI) << 16
	}

	return entry, nil
}

func (e DirectoryEntry) encode(variant Variant) ([]byte, error) {
	raw := rawEntry{
		Name:           e.Name,
		Attribute:      byte(e.Attributes),
		FirstClusterLO: uint16(e.FirstCluster),
		FileSize:       e.FileSize,
	}
	if raw.Name[0] == slotDeleted {
		raw.Name[0] = slotKanji
	}
	if variant == FAT32 {
		raw.FirstClusterHI = uint16(e.FirstCluster >> 16)
	}

	if !e.CreationTime.IsZero() {
		raw.CreateDate, raw.CreateTime, raw.CreateTimeTenth = EncodeDateTime(e.CreationTime)
	}
	if !e.LastAccessTime.IsZero() {
		raw.LastAccessDate, _, _ = EncodeDateTime(e.LastAccessTime)
	}
	if !e.LastWriteTime.IsZero() {
		raw.WriteDate, raw.WriteTime, _ = EncodeDateTime(e.LastWriteTime)
	}

	data, err := restruct.Pack(binary.LittleEndian, &raw)
	if err != nil {
		return nil, checkpoint.From(err)
	}
	return data, nil
}

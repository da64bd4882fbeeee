// File bootsector.go contains the structs which match the direct structures of the FAT boot sector.

package fatfs

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"strings"

	"github.com/aligator/fatfs/checkpoint"
)

const (
	bootSectorSize = 512

	// offsets of the structures following the common BPB.
	fat32FieldsOffset  = 36
	ebrOffsetFAT1216   = 36
	ebrOffsetFAT32     = 64
	extendedBootSigVal = 0x29
)

// BPB is the BIOS Parameter Block common to all FAT variants (offsets 0 to 35).
type BPB struct {
	JumpBoot          [3]byte
	OEMName           [8]byte
	BytesPerSector    uint16
	SectorsPerCluster uint8
	ReservedSectors   uint16
	NumFATs           uint8
	RootEntryCount    uint16
	TotalSectors16    uint16
	Media             uint8
	FATSize16         uint16
	SectorsPerTrack   uint16
	NumHeads          uint16
	HiddenSectors     uint32
	TotalSectors32    uint32
}

// FAT32Fields are only present on FAT32 volumes (offsets 36 to 63).
type FAT32Fields struct {
	FATSize32        uint32
	ExtFlags         uint16
	FSVersion        uint16
	RootCluster      uint32
	FSInfoSector     uint16
	BackupBootSector uint16
	Reserved         [12]byte
}

// ExtendedBootRecord follows the BPB at offset 36 (FAT12/16) or 64 (FAT32).
type ExtendedBootRecord struct {
	DriveNumber    uint8
	Reserved1      uint8
	BootSignature  uint8
	VolumeID       uint32
	VolumeLabel    [11]byte
	FileSystemType [8]byte
}

// BootSector is the parsed first sector of a FAT volume.
type BootSector struct {
	BPB
	FAT32 FAT32Fields
	EBR   ExtendedBootRecord

	variant Variant
}

// ParseBootSector decodes the boot sector and classifies the FAT variant.
// With skipChecks only the checks needed to address the volume at all are done.
func ParseBootSector(data []byte, skipChecks bool) (*BootSector, error) {
	if len(data) < bootSectorSize {
		return nil, checkpoint.Wrapf(ErrMalformedBootSector, "boot sector has only %d bytes", len(data))
	}

	bs := &BootSector{}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &bs.BPB); err != nil {
		return nil, checkpoint.Wrap(err, ErrMalformedBootSector)
	}
	if err := binary.Read(bytes.NewReader(data[fat32FieldsOffset:]), binary.LittleEndian, &bs.FAT32); err != nil {
		return nil, checkpoint.Wrap(err, ErrMalformedBootSector)
	}

	if err := bs.validate(data, skipChecks); err != nil {
		return nil, err
	}

	variant, err := DetectVariant(bs)
	if err != nil {
		return nil, err
	}
	bs.variant = variant

	ebrOffset := ebrOffsetFAT32
	if variant != FAT32 {
		ebrOffset = ebrOffsetFAT1216
		bs.FAT32 = FAT32Fields{}
	}
	if err := binary.Read(bytes.NewReader(data[ebrOffset:]), binary.LittleEndian, &bs.EBR); err != nil {
		return nil, checkpoint.Wrap(err, ErrMalformedBootSector)
	}

	if !skipChecks {
		if err := bs.validateVariantFields(); err != nil {
			return nil, err
		}
	}

	return bs, nil
}

func (bs *BootSector) validate(data []byte, skipChecks bool) error {
	// These are needed to address anything on the volume.
	if bs.BytesPerSector == 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "bytes per sector is 0")
	}
	if bs.SectorsPerCluster == 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "sectors per cluster is 0")
	}
	if bs.NumFATs == 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "no FAT present")
	}
	if bs.TotalSectors16 == 0 && bs.TotalSectors32 == 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "total sector count is 0")
	}
	if bs.FATSize16 == 0 && bs.FAT32.FATSize32 == 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "FAT size is 0")
	}

	if skipChecks {
		return nil
	}

	// Check for valid jump instructions.
	if !(bs.JumpBoot[0] == 0xEB && bs.JumpBoot[2] == 0x90) && bs.JumpBoot[0] != 0xE9 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "no valid jump instructions at the beginning")
	}

	if data[510] != 0x55 || data[511] != 0xAA {
		return checkpoint.Wrapf(ErrMalformedBootSector, "missing boot sector signature")
	}

	// FAT only supports 512, 1024, 2048 and 4096.
	switch bs.BytesPerSector {
	case 512, 1024, 2048, 4096:
	default:
		return checkpoint.Wrapf(ErrMalformedBootSector, "invalid sector size %d", bs.BytesPerSector)
	}

	// Sectors per cluster has to be a power of two and the whole cluster should not be more than 32K.
	if bs.SectorsPerCluster&(bs.SectorsPerCluster-1) != 0 || uint32(bs.BytesPerSector)*uint32(bs.SectorsPerCluster) > 32*1024 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "invalid sectors per cluster %d", bs.SectorsPerCluster)
	}

	if bs.ReservedSectors == 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "invalid reserved sector count")
	}

	switch bs.Media {
	case 0xF0, 0xF8, 0xF9, 0xFA, 0xFB, 0xFC, 0xFD, 0xFE, 0xFF:
	default:
		return checkpoint.Wrapf(ErrMalformedBootSector, "invalid media value 0x%02X", bs.Media)
	}

	return nil
}

// validateVariantFields checks that exactly one of the 16/32 bit size fields is used.
func (bs *BootSector) validateVariantFields() error {
	if (bs.TotalSectors16 != 0) == (bs.TotalSectors32 != 0) {
		return checkpoint.Wrapf(ErrMalformedBootSector, "exactly one total sector field must be set")
	}

	if bs.variant == FAT32 {
		if bs.FATSize16 != 0 || bs.RootEntryCount != 0 || bs.TotalSectors16 != 0 {
			return checkpoint.Wrapf(ErrMalformedBootSector, "FAT12/16 fields set on a FAT32 volume")
		}
		if bs.FAT32.RootCluster < 2 {
			return checkpoint.Wrapf(ErrMalformedBootSector, "invalid root cluster %d", bs.FAT32.RootCluster)
		}
		return nil
	}

	if bs.FATSize16 == 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "FAT12/16 volume without 16 bit FAT size")
	}
	if (uint32(bs.RootEntryCount)*dirEntrySize)%uint32(bs.BytesPerSector) != 0 {
		return checkpoint.Wrapf(ErrMalformedBootSector, "root entry count %d does not fill whole sectors", bs.RootEntryCount)
	}

	return nil
}

// Bytes encodes the boot sector into a single 512 byte sector.
func (bs *BootSector) Bytes() ([]byte, error) {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, &bs.BPB); err != nil {
		return nil, checkpoint.From(err)
	}
	if bs.variant == FAT32 {
		if err := binary.Write(buf, binary.LittleEndian, &bs.FAT32); err != nil {
			return nil, checkpoint.From(err)
		}
	}
	if err := binary.Write(buf, binary.LittleEndian, &bs.EBR); err != nil {
		return nil, checkpoint.From(err)
	}

	sector := make([]byte, bootSectorSize)
	copy(sector, buf.Bytes())
	sector[510] = 0x55
	sector[511] = 0xAA
	return sector, nil
}

// Variant returns the FAT variant detected while parsing.
func (bs *BootSector) Variant() Variant {
	return bs.variant
}

// TotalSectors returns the used one of the 16 and 32 bit fields.
func (bs *BootSector) TotalSectors() uint32 {
	if bs.TotalSectors16 != 0 {
		return uint32(bs.TotalSectors16)
	}
	return bs.TotalSectors32
}

// FATSize returns the size of one FAT in sectors.
func (bs *BootSector) FATSize() uint32 {
	if bs.FATSize16 != 0 {
		return uint32(bs.FATSize16)
	}
	return bs.FAT32.FATSize32
}

// RootDirSectors is the number of sectors of the fixed FAT12/16 root directory region.
func (bs *BootSector) RootDirSectors() uint32 {
	bps := uint32(bs.BytesPerSector)
	return (uint32(bs.RootEntryCount)*dirEntrySize + bps - 1) / bps
}

// FirstDataSector is the sector of cluster 2.
func (bs *BootSector) FirstDataSector() uint32 {
	return uint32(bs.ReservedSectors) + uint32(bs.NumFATs)*bs.FATSize() + bs.RootDirSectors()
}

// ClusterCount is the number of data clusters.
func (bs *BootSector) ClusterCount() uint32 {
	first := bs.FirstDataSector()
	if first >= bs.TotalSectors() {
		return 0
	}
	return (bs.TotalSectors() - first) / uint32(bs.SectorsPerCluster)
}

// BytesPerCluster is the size of a single cluster.
func (bs *BootSector) BytesPerCluster() uint32 {
	return uint32(bs.BytesPerSector) * uint32(bs.SectorsPerCluster)
}

// MirrorFAT reports whether FAT changes are mirrored to all copies.
// Only FAT32 can disable mirroring (bit 7 of the ext flags).
func (bs *BootSector) MirrorFAT() bool {
	return bs.variant != FAT32 || bs.FAT32.ExtFlags&0x80 == 0
}

// ActiveFAT is the zero based index of the FAT in use when mirroring is disabled.
func (bs *BootSector) ActiveFAT() uint8 {
	if bs.MirrorFAT() {
		return 0
	}
	return uint8(bs.FAT32.ExtFlags & 0x0F)
}

// ExtendedBootSignaturePresent indicates if the volume id, label and type fields are valid.
func (bs *BootSector) ExtendedBootSignaturePresent() bool {
	return bs.EBR.BootSignature == extendedBootSigVal
}

// OEM returns the trimmed OEM name.
func (bs *BootSector) OEM() string {
	return strings.TrimRight(string(bs.OEMName[:]), " \x00")
}

// Label returns the label stored in the extended boot record.
func (bs *BootSector) Label() string {
	if !bs.ExtendedBootSignaturePresent() {
		return ""
	}
	return decodeOEMString(bs.EBR.VolumeLabel[:])
}

// FileSystemType returns the informational type string, e.g. "FAT12".
func (bs *BootSector) FileSystemType() string {
	if !bs.ExtendedBootSignaturePresent() {
		return ""
	}
	return strings.TrimRight(string(bs.EBR.FileSystemType[:]), " \x00")
}

func (bs *BootSector) String() string {
	return fmt.Sprintf("%v: %d sectors of %d bytes, %d sectors/cluster, %d reserved, %d FATs of %d sectors, %d root entries",
		bs.variant, bs.TotalSectors(), bs.BytesPerSector, bs.SectorsPerCluster, bs.ReservedSectors, bs.NumFATs, bs.FATSize(), bs.RootEntryCount)
}

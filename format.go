package fatfs

import (
	"encoding/binary"

	"github.com/dustin/go-humanize"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aligator/fatfs/checkpoint"
)

// FloppyType selects one of the standard floppy disk formats.
type FloppyType int

const (
	// FloppyDoubleDensity is a 720 KiB floppy disk.
	FloppyDoubleDensity FloppyType = iota
	// FloppyHighDensity is a 1.44 MiB floppy disk.
	FloppyHighDensity
	// FloppyExtended is a 2.88 MiB floppy disk.
	FloppyExtended
)

func (f FloppyType) String() string {
	switch f {
	case FloppyDoubleDensity:
		return "720K"
	case FloppyHighDensity:
		return "1.44M"
	case FloppyExtended:
		return "2.88M"
	default:
		return "unknown floppy"
	}
}

// Geometry describes the disk area a partition is formatted on.
type Geometry struct {
	Cylinders       uint32
	Heads           uint16
	SectorsPerTrack uint16

	// HiddenSectors is the count of sectors preceding the partition.
	HiddenSectors uint32

	// ReservedSectors overrides the default of 1 (FAT16) or 32 (FAT32).
	// FAT32 always uses at least 32.
	ReservedSectors uint16
}

// TotalSectors is the number of sectors covered by the geometry.
func (g Geometry) TotalSectors() uint64 {
	return uint64(g.Cylinders) * uint64(g.Heads) * uint64(g.SectorsPerTrack)
}

const (
	formatSectorSize = 512

	minPartitionSectors   = 8400
	maxFAT16Sectors       = 1048576
	floppyRootEntries     = 224
	partitionRootEntries  = 512
	minFAT32Reserved      = 32
	fat32FSInfoSector     = 1
	fat32BackupBootSector = 6

	fsInfoLeadSignature   = 0x41615252
	fsInfoStructSignature = 0x61417272
	fsInfoTrailSignature  = 0xAA550000
	fsInfoUnknown         = 0xFFFFFFFF
)

// layout contains everything needed to write a fresh volume.
type layout struct {
	variant           Variant
	totalSectors      uint32
	sectorsPerCluster uint8
	reservedSectors   uint16
	rootEntries       uint16
	media             uint8
	driveNumber       uint8
	heads             uint16
	sectorsPerTrack   uint16
	hiddenSectors     uint32
}

// FormatFloppy writes an empty FAT12 floppy image.
func FormatFloppy(storage Storage, floppy FloppyType, opts ...Option) (*BootSector, error) {
	l := layout{
		variant:           FAT12,
		sectorsPerCluster: 1,
		reservedSectors:   1,
		rootEntries:       floppyRootEntries,
		media:             0xF0,
		driveNumber:       0x00,
		heads:             2,
	}

	switch floppy {
	case FloppyDoubleDensity:
		l.totalSectors, l.sectorsPerTrack = 1440, 9
	case FloppyHighDensity:
		l.totalSectors, l.sectorsPerTrack = 2880, 18
	case FloppyExtended:
		// A single sector per cluster would result in more than 4084 clusters.
		l.totalSectors, l.sectorsPerTrack, l.sectorsPerCluster = 5760, 36, 2
	default:
		return nil, checkpoint.Wrapf(ErrUnrecognizedVariant, "unknown floppy type %d", floppy)
	}

	return format(storage, l, NewDefaultOptions(opts...))
}

// FormatPartition writes an empty FAT16 or FAT32 volume covering the geometry.
func FormatPartition(storage Storage, geometry Geometry, opts ...Option) (*BootSector, error) {
	l, err := partitionLayout(geometry.TotalSectors(), geometry.ReservedSectors)
	if err != nil {
		return nil, err
	}
	l.heads = geometry.Heads
	l.sectorsPerTrack = geometry.SectorsPerTrack
	l.hiddenSectors = geometry.HiddenSectors

	return format(storage, l, NewDefaultOptions(opts...))
}

// Format writes an empty FAT16 or FAT32 volume of totalSectors sectors to a flat image.
func Format(storage Storage, totalSectors uint64, opts ...Option) (*BootSector, error) {
	l, err := partitionLayout(totalSectors, 0)
	if err != nil {
		return nil, err
	}
	l.heads = 255
	l.sectorsPerTrack = 63

	return format(storage, l, NewDefaultOptions(opts...))
}

// partitionLayout chooses the variant and cluster size for a partition.
func partitionLayout(totalSectors uint64, reserved uint16) (layout, error) {
	if totalSectors <= minPartitionSectors {
		return layout{}, checkpoint.Wrapf(ErrVolumeTooSmall, "%d sectors, need more than %d", totalSectors, minPartitionSectors)
	}
	if totalSectors > 0xFFFFFFFF {
		return layout{}, checkpoint.Wrapf(ErrOutOfRange, "%d sectors exceed the FAT32 limit", totalSectors)
	}

	l := layout{
		totalSectors: uint32(totalSectors),
		media:        0xF8,
		driveNumber:  0x80,
	}

	if totalSectors < maxFAT16Sectors {
		l.variant = FAT16
		l.rootEntries = partitionRootEntries
		l.reservedSectors = 1
		if reserved != 0 {
			l.reservedSectors = reserved
		}

		switch {
		case totalSectors <= 32680:
			l.sectorsPerCluster = 2
		case totalSectors <= 262144:
			l.sectorsPerCluster = 4
		case totalSectors <= 524288:
			l.sectorsPerCluster = 8
		default:
			l.sectorsPerCluster = 16
		}
		return l, nil
	}

	l.variant = FAT32
	l.reservedSectors = minFAT32Reserved
	if reserved > minFAT32Reserved {
		l.reservedSectors = reserved
	}

	switch {
	case totalSectors <= 532480:
		l.sectorsPerCluster = 1
	case totalSectors <= 16777216:
		l.sectorsPerCluster = 8
	case totalSectors <= 33554432:
		l.sectorsPerCluster = 16
	case totalSectors <= 67108864:
		l.sectorsPerCluster = 32
	default:
		l.sectorsPerCluster = 64
	}
	return l, nil
}

// fatSize is the size of one FAT in sectors, large enough for one entry per cluster of the whole volume.
func (l layout) fatSize() uint32 {
	clusters := (uint64(l.totalSectors) + uint64(l.sectorsPerCluster) - 1) / uint64(l.sectorsPerCluster)
	bytes := (clusters*uint64(l.variant) + 7) / 8
	return uint32((bytes + formatSectorSize - 1) / formatSectorSize)
}

func (l layout) bootSector(opts *Options) (*BootSector, error) {
	bs := &BootSector{
		BPB: BPB{
			JumpBoot:          [3]byte{0xEB, 0x3C, 0x90},
			BytesPerSector:    formatSectorSize,
			SectorsPerCluster: l.sectorsPerCluster,
			ReservedSectors:   l.reservedSectors,
			NumFATs:           2,
			RootEntryCount:    l.rootEntries,
			Media:             l.media,
			SectorsPerTrack:   l.sectorsPerTrack,
			NumHeads:          l.heads,
			HiddenSectors:     l.hiddenSectors,
		},
		EBR: ExtendedBootRecord{
			DriveNumber:   l.driveNumber,
			BootSignature: extendedBootSigVal,
		},
		variant: l.variant,
	}

	copy(bs.OEMName[:], "        ")
	copy(bs.OEMName[:], opts.OEMName)

	label := opts.Label
	if label == "" {
		label = "NO NAME"
	}
	encodedLabel, err := encodeLabel(label)
	if err != nil {
		return nil, err
	}
	bs.EBR.VolumeLabel = encodedLabel

	bs.EBR.VolumeID = opts.VolumeID
	if !opts.HasVolumeID {
		id := uuid.New()
		bs.EBR.VolumeID = binary.LittleEndian.Uint32(id[:4])
	}

	copy(bs.EBR.FileSystemType[:], l.variant.String()+"   ")

	if l.variant == FAT32 {
		bs.JumpBoot = [3]byte{0xEB, 0x58, 0x90}
		bs.TotalSectors32 = l.totalSectors
		bs.FAT32 = FAT32Fields{
			FATSize32: l.fatSize(),
			// Only the first FAT is used, the second one is not updated.
			ExtFlags:         0x80,
			RootCluster:      2,
			FSInfoSector:     fat32FSInfoSector,
			BackupBootSector: fat32BackupBootSector,
		}
	} else {
		bs.FATSize16 = uint16(l.fatSize())
		if l.totalSectors < 0x10000 {
			bs.TotalSectors16 = uint16(l.totalSectors)
		} else {
			bs.TotalSectors32 = l.totalSectors
		}
	}

	detected, err := DetectVariant(bs)
	if err != nil {
		return nil, err
	}
	if detected != l.variant {
		return nil, checkpoint.Wrapf(ErrUnrecognizedVariant, "layout for %v results in %v", l.variant, detected)
	}

	return bs, nil
}

func fsInfoSector() []byte {
	sector := make([]byte, formatSectorSize)
	binary.LittleEndian.PutUint32(sector[0:], fsInfoLeadSignature)
	binary.LittleEndian.PutUint32(sector[484:], fsInfoStructSignature)
	binary.LittleEndian.PutUint32(sector[488:], fsInfoUnknown)
	binary.LittleEndian.PutUint32(sector[492:], fsInfoUnknown)
	binary.LittleEndian.PutUint32(sector[508:], fsInfoTrailSignature)
	return sector
}

func format(storage Storage, l layout, opts *Options) (*BootSector, error) {
	bs, err := l.bootSector(opts)
	if err != nil {
		return nil, err
	}

	boot, err := bs.Bytes()
	if err != nil {
		return nil, err
	}

	// Clear the reserved region and put the boot sector in front.
	reserved := make([]byte, int(l.reservedSectors)*formatSectorSize)
	copy(reserved, boot)
	if l.variant == FAT32 {
		copy(reserved[fat32FSInfoSector*formatSectorSize:], fsInfoSector())
		copy(reserved[fat32BackupBootSector*formatSectorSize:], boot)
		copy(reserved[(fat32BackupBootSector+1)*formatSectorSize:], fsInfoSector())
	}
	if err := writeAtFull(storage, 0, reserved); err != nil {
		return nil, checkpoint.Wrapf(err, "writing the reserved sectors")
	}

	fat := fatBuffer{
		variant: l.variant,
		data:    make([]byte, bs.FATSize()*formatSectorSize),
	}
	fat.set(0, 0xFFFFFF00|uint32(l.media))
	fat.setEndOfChain(1)
	if l.variant == FAT32 {
		fat.setEndOfChain(bs.FAT32.RootCluster)
	}

	offset := int64(l.reservedSectors) * formatSectorSize
	for i := uint8(0); i < bs.NumFATs; i++ {
		if err := writeAtFull(storage, offset, fat.data); err != nil {
			return nil, checkpoint.Wrapf(err, "writing FAT %d", i)
		}
		offset += int64(len(fat.data))
	}

	// The root is the fixed region on FAT12/16 and the first cluster on FAT32.
	// Both directly follow the FATs.
	root := make([]byte, bs.RootDirSectors()*formatSectorSize)
	if l.variant == FAT32 {
		root = make([]byte, bs.BytesPerCluster())
	}
	if opts.Label != "" {
		labelEntry, err := DirectoryEntry{
			Name:          NormalizedName(bs.EBR.VolumeLabel),
			Attributes:    AttrVolumeLabel | AttrArchive,
			LastWriteTime: opts.Clock(),
		}.encode(l.variant)
		if err != nil {
			return nil, err
		}
		copy(root, labelEntry)
	}
	if err := writeAtFull(storage, offset, root); err != nil {
		return nil, checkpoint.Wrapf(err, "writing the root directory")
	}

	end := int64(l.totalSectors)*formatSectorSize - 1
	if err := writeAtFull(storage, end, []byte{0}); err != nil {
		return nil, checkpoint.Wrapf(err, "writing the last byte of the volume")
	}

	opts.Logger.Info("formatted volume",
		zap.Stringer("variant", l.variant),
		zap.String("size", humanize.IBytes(uint64(l.totalSectors)*formatSectorSize)),
		zap.Uint8("sectorsPerCluster", l.sectorsPerCluster),
		zap.Uint32("fatSize", bs.FATSize()),
		zap.Uint32("clusters", bs.ClusterCount()),
	)

	return bs, nil
}

package fatfs

import (
	"github.com/aligator/fatfs/checkpoint"
)

// Variant is the FAT type. Its value is the width of a table entry in bits.
type Variant uint8

// The FAT variants.
const (
	FAT12 Variant = 12
	FAT16 Variant = 16
	FAT32 Variant = 32
)

// Cluster count limits which decide the variant. They must not be changed,
// every FAT implementation uses exactly these.
const (
	maxClustersFAT12 = 4085
	maxClustersFAT16 = 65525
)

func (v Variant) String() string {
	switch v {
	case FAT12:
		return "FAT12"
	case FAT16:
		return "FAT16"
	case FAT32:
		return "FAT32"
	default:
		return "unknown FAT"
	}
}

// mask is the part of a table entry used for cluster values.
func (v Variant) mask() uint32 {
	switch v {
	case FAT12:
		return 0x0FFF
	case FAT16:
		return 0xFFFF
	default:
		return 0x0FFFFFFF
	}
}

// endOfChain is the sentinel written to terminate a chain.
func (v Variant) endOfChain() uint32 {
	return v.mask()
}

// minEndOfChain is the smallest value read as end of chain.
func (v Variant) minEndOfChain() uint32 {
	return v.mask() & 0xFFFFFFF8
}

// bad marks a defective cluster.
func (v Variant) bad() uint32 {
	return v.mask() & 0xFFFFFFF7
}

// DetectVariant classifies the boot sector by its count of data clusters.
func DetectVariant(bs *BootSector) (Variant, error) {
	if bs.BytesPerSector == 0 || bs.SectorsPerCluster == 0 {
		return 0, checkpoint.Wrapf(ErrUnrecognizedVariant, "zero sized sectors or clusters")
	}

	bps := uint64(bs.BytesPerSector)
	rootDirSectors := (uint64(bs.RootEntryCount)*dirEntrySize + bps - 1) / bps

	fatSize := uint64(bs.FATSize16)
	if fatSize == 0 {
		fatSize = uint64(bs.FAT32.FATSize32)
	}

	totalSectors := uint64(bs.TotalSectors16)
	if totalSectors == 0 {
		totalSectors = uint64(bs.TotalSectors32)
	}

	metaSectors := uint64(bs.ReservedSectors) + uint64(bs.NumFATs)*fatSize + rootDirSectors
	if metaSectors > totalSectors {
		return 0, checkpoint.Wrapf(ErrUnrecognizedVariant, "%d metadata sectors exceed %d total sectors", metaSectors, totalSectors)
	}

	clusterCount := (totalSectors - metaSectors) / uint64(bs.SectorsPerCluster)

	switch {
	case clusterCount < maxClustersFAT12:
		return FAT12, nil
	case clusterCount < maxClustersFAT16:
		return FAT16, nil
	default:
		return FAT32, nil
	}
}

package fatfs

import (
	"sort"

	"go.uber.org/zap"

	"github.com/aligator/fatfs/checkpoint"
)

// freeCluster marks an unused table entry.
const freeCluster = 0

// AllocationTable is the in-memory copy of the File Allocation Table.
// Mutations are kept in memory and written to the FAT copies on Flush.
type AllocationTable struct {
	storage Storage
	logger  *zap.Logger
	buffer  fatBuffer

	// entries is the number of addressable entries including the two reserved ones.
	entries uint32

	bytesPerSector uint32
	firstSector    uint32
	fatSize        uint32
	numFATs        uint8
	activeFAT      uint8
	mirror         bool

	// dirty contains the sectors, relative to the FAT start, changed since the last flush.
	dirty map[uint32]struct{}
}

// loadAllocationTable reads the active FAT copy of the volume.
func loadAllocationTable(storage Storage, bs *BootSector, logger *zap.Logger) (*AllocationTable, error) {
	t := &AllocationTable{
		storage:        storage,
		logger:         logger,
		bytesPerSector: uint32(bs.BytesPerSector),
		firstSector:    uint32(bs.ReservedSectors),
		fatSize:        bs.FATSize(),
		numFATs:        bs.NumFATs,
		activeFAT:      bs.ActiveFAT(),
		mirror:         bs.MirrorFAT(),
		dirty:          make(map[uint32]struct{}),
	}

	t.buffer = fatBuffer{
		variant: bs.Variant(),
		data:    make([]byte, t.fatSize*t.bytesPerSector),
	}

	if err := readAtFull(storage, t.copyOffset(t.activeFAT), t.buffer.data); err != nil {
		return nil, checkpoint.Wrapf(err, "loading FAT %d", t.activeFAT)
	}

	t.entries = bs.ClusterCount() + 2
	if capacity := t.buffer.capacity(); t.entries > capacity {
		t.entries = capacity
	}

	logger.Debug("loaded allocation table",
		zap.Stringer("variant", t.buffer.variant),
		zap.Uint32("entries", t.entries),
		zap.Bool("mirror", t.mirror),
		zap.Uint8("active", t.activeFAT),
	)

	return t, nil
}

// copyOffset is the byte offset of the given FAT copy.
func (t *AllocationTable) copyOffset(copyIndex uint8) int64 {
	return (int64(t.firstSector) + int64(copyIndex)*int64(t.fatSize)) * int64(t.bytesPerSector)
}

func (t *AllocationTable) checkRange(cluster uint32) error {
	if cluster < 2 || cluster >= t.entries {
		return checkpoint.Wrapf(ErrOutOfRange, "cluster %d not in [2, %d)", cluster, t.entries)
	}
	return nil
}

// Variant returns the FAT variant of the table.
func (t *AllocationTable) Variant() Variant {
	return t.buffer.variant
}

// Entries returns the number of entries including the two reserved ones.
func (t *AllocationTable) Entries() uint32 {
	return t.entries
}

// Next returns the raw value stored for cluster, which is either the next
// cluster of the chain or one of the free, bad and end of chain sentinels.
func (t *AllocationTable) Next(cluster uint32) (uint32, error) {
	if err := t.checkRange(cluster); err != nil {
		return 0, err
	}
	return t.buffer.get(cluster), nil
}

// SetNext stores value for cluster.
func (t *AllocationTable) SetNext(cluster uint32, value uint32) error {
	if err := t.checkRange(cluster); err != nil {
		return err
	}

	t.buffer.set(cluster, value)
	first, last := t.buffer.byteSpan(cluster)
	t.dirty[first/t.bytesPerSector] = struct{}{}
	t.dirty[last/t.bytesPerSector] = struct{}{}
	return nil
}

// SetEndOfChain terminates the chain at cluster.
func (t *AllocationTable) SetEndOfChain(cluster uint32) error {
	return t.SetNext(cluster, t.buffer.variant.endOfChain())
}

// IsEndOfChain reports whether value terminates a chain.
func (t *AllocationTable) IsEndOfChain(value uint32) bool {
	return value >= t.buffer.variant.minEndOfChain()
}

// IsBad reports whether value marks a defective cluster.
func (t *AllocationTable) IsBad(value uint32) bool {
	return value == t.buffer.variant.bad()
}

// Allocate returns the first free cluster, already marked as end of chain.
// The scan always starts at cluster 2.
func (t *AllocationTable) Allocate() (uint32, error) {
	for cluster := uint32(2); cluster < t.entries; cluster++ {
		if t.buffer.get(cluster) != freeCluster {
			continue
		}

		if err := t.SetEndOfChain(cluster); err != nil {
			return 0, err
		}
		t.logger.Debug("allocated cluster", zap.Uint32("cluster", cluster))
		return cluster, nil
	}

	return 0, checkpoint.From(ErrDiskFull)
}

// Extend allocates a new cluster and links it behind last.
// If last is 0 the new cluster starts a new chain.
func (t *AllocationTable) Extend(last uint32) (uint32, error) {
	cluster, err := t.Allocate()
	if err != nil {
		return 0, err
	}

	if last != 0 {
		if err := t.SetNext(last, cluster); err != nil {
			return 0, err
		}
	}
	return cluster, nil
}

// Chain returns all clusters of the chain starting at head.
// A chain can never be longer than the table, so a longer one must contain a cycle.
func (t *AllocationTable) Chain(head uint32) ([]uint32, error) {
	if head == freeCluster {
		return nil, nil
	}

	var chain []uint32
	for cluster := head; ; {
		if err := t.checkRange(cluster); err != nil {
			return nil, checkpoint.Wrap(err, ErrCorruptChain)
		}
		if uint32(len(chain)) >= t.entries {
			return nil, checkpoint.Wrapf(ErrCorruptChain, "chain starting at %d contains a cycle", head)
		}

		chain = append(chain, cluster)

		next := t.buffer.get(cluster)
		if t.IsEndOfChain(next) {
			return chain, nil
		}
		if next == freeCluster || t.IsBad(next) {
			return nil, checkpoint.Wrapf(ErrCorruptChain, "cluster %d of chain %d points to 0x%X", cluster, head, next)
		}
		cluster = next
	}
}

// Free releases every cluster of the chain starting at head.
// Freeing the chain 0 does nothing.
func (t *AllocationTable) Free(head uint32) error {
	chain, err := t.Chain(head)
	if err != nil {
		return err
	}

	for _, cluster := range chain {
		if err := t.SetNext(cluster, freeCluster); err != nil {
			return err
		}
	}

	if len(chain) > 0 {
		t.logger.Debug("freed chain", zap.Uint32("head", head), zap.Int("clusters", len(chain)))
	}
	return nil
}

// FreeCount counts the free clusters.
func (t *AllocationTable) FreeCount() uint32 {
	var count uint32
	for cluster := uint32(2); cluster < t.entries; cluster++ {
		if t.buffer.get(cluster) == freeCluster {
			count++
		}
	}
	return count
}

// Flush writes all changed sectors to every FAT copy, or only to the active
// one if mirroring is disabled.
// On failure the in-memory table may differ from the disk.
func (t *AllocationTable) Flush() error {
	if len(t.dirty) == 0 {
		return nil
	}

	sectors := make([]uint32, 0, len(t.dirty))
	for sector := range t.dirty {
		sectors = append(sectors, sector)
	}
	sort.Slice(sectors, func(i, j int) bool { return sectors[i] < sectors[j] })

	copies := []uint8{t.activeFAT}
	if t.mirror {
		copies = copies[:0]
		for i := uint8(0); i < t.numFATs; i++ {
			copies = append(copies, i)
		}
	}

	for _, sector := range sectors {
		data := t.buffer.data[sector*t.bytesPerSector : (sector+1)*t.bytesPerSector]
		for _, c := range copies {
			off := t.copyOffset(c) + int64(sector)*int64(t.bytesPerSector)
			if err := writeAtFull(t.storage, off, data); err != nil {
				return checkpoint.Wrapf(err, "writing sector %d of FAT %d", sector, c)
			}
		}
		delete(t.dirty, sector)
	}

	return nil
}

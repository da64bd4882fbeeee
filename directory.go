package fatfs

import (
	"errors"
	"os"
	"time"

	"go.uber.org/zap"

	"github.com/aligator/fatfs/checkpoint"
)

// errStopIteration ends an iteration early without being an error.
var errStopIteration = errors.New("stop iteration")

// volume bundles everything shared by the directories and files of one mounted filesystem.
type volume struct {
	storage Storage
	bs      *BootSector
	variant Variant
	table   *AllocationTable
	addr    *clusterAddresser
	cache   *directoryCache
	logger  *zap.Logger
	clock   func() time.Time
}

// Directory is the sequence of 32 byte slots of one directory.
// It is backed either by the fixed root region of FAT12/16 or by a cluster chain.
// All changes are written through to the storage immediately.
type Directory struct {
	vol *volume

	isRoot bool

	// firstCluster is 0 for the fixed root region.
	firstCluster uint32
	clusters     []uint32

	// regionOffset is the byte offset of the fixed root region.
	regionOffset int64

	// extentSize is the unit in which a 0x00 slot ends the populated prefix:
	// the whole region for the fixed root, a single cluster otherwise.
	extentSize int
	data       []byte

	closed bool
}

func newRootDirectory(vol *volume) (*Directory, error) {
	if vol.variant == FAT32 {
		d, err := newChainDirectory(vol, vol.bs.FAT32.RootCluster)
		if err != nil {
			return nil, checkpoint.Wrapf(err, "loading the root directory")
		}
		d.isRoot = true
		return d, nil
	}

	bs := vol.bs
	d := &Directory{
		vol:          vol,
		isRoot:       true,
		regionOffset: (int64(bs.ReservedSectors) + int64(bs.NumFATs)*int64(bs.FATSize())) * int64(bs.BytesPerSector),
		data:         make([]byte, int(bs.RootEntryCount)*dirEntrySize),
	}
	d.extentSize = len(d.data)

	if err := readAtFull(vol.storage, d.regionOffset, d.data); err != nil {
		return nil, checkpoint.Wrapf(err, "loading the root directory")
	}
	return d, nil
}

func newChainDirectory(vol *volume, firstCluster uint32) (*Directory, error) {
	chain, err := vol.table.Chain(firstCluster)
	if err != nil {
		return nil, err
	}
	if len(chain) == 0 {
		return nil, checkpoint.Wrapf(ErrCorruptChain, "directory without clusters")
	}

	clusterSize := int(vol.addr.clusterSize)
	d := &Directory{
		vol:          vol,
		firstCluster: firstCluster,
		clusters:     chain,
		extentSize:   clusterSize,
		data:         make([]byte, len(chain)*clusterSize),
	}

	for i, cluster := range chain {
		if err := vol.addr.readCluster(cluster, 0, d.data[i*clusterSize:(i+1)*clusterSize]); err != nil {
			return nil, checkpoint.Wrapf(err, "reading directory at cluster %d", firstCluster)
		}
	}
	return d, nil
}

// FirstCluster returns the first cluster of the directory, 0 for the fixed root.
func (d *Directory) FirstCluster() uint32 {
	return d.firstCluster
}

// IsRoot reports whether d is the root directory.
func (d *Directory) IsRoot() bool {
	return d.isRoot
}

func (d *Directory) slotCount() int {
	return len(d.data) / dirEntrySize
}

func (d *Directory) slot(index int) []byte {
	return d.data[index*dirEntrySize : (index+1)*dirEntrySize]
}

func (d *Directory) checkOpen() error {
	if d.closed {
		return checkpoint.From(os.ErrClosed)
	}
	return nil
}

// scan calls fn for every slot of the populated prefixes, including deleted ones.
// Within each extent the first 0x00 slot ends the scan of that extent.
func (d *Directory) scan(fn func(index int, raw []byte) bool) {
	perExtent := d.extentSize / dirEntrySize
	for start := 0; start < d.slotCount(); start += perExtent {
		for index := start; index < start+perExtent; index++ {
			raw := d.slot(index)
			if raw[0] == slotFree {
				break
			}
			if !fn(index, raw) {
				return
			}
		}
	}
}

// isLive reports whether the slot holds a real entry.
func isLive(raw []byte) bool {
	if raw[0] == slotFree || raw[0] == slotDeleted {
		return false
	}
	return Attribute(raw[11])&AttrLongName != AttrLongName
}

// each calls fn for every file and directory, skipping ".", "..", labels and long name slots.
func (d *Directory) each(fn func(index int, entry DirectoryEntry) error) error {
	if err := d.checkOpen(); err != nil {
		return err
	}

	var err error
	d.scan(func(index int, raw []byte) bool {
		if !isLive(raw) {
			return true
		}

		var entry DirectoryEntry
		entry, err = decodeEntry(raw, d.vol.variant)
		if err != nil {
			return false
		}
		if entry.IsVolumeLabel() || entry.Name.IsDotEntry() {
			return true
		}

		err = fn(index, entry)
		return err == nil
	})
	return err
}

// Entries returns all files and directories.
func (d *Directory) Entries() ([]DirectoryEntry, error) {
	var entries []DirectoryEntry
	err := d.each(func(_ int, entry DirectoryEntry) error {
		entries = append(entries, entry)
		return nil
	})
	return entries, err
}

// IsEmpty reports whether the directory contains nothing besides "." and "..".
func (d *Directory) IsEmpty() (bool, error) {
	empty := true
	err := d.each(func(int, DirectoryEntry) error {
		empty = false
		return errStopIteration
	})
	if err == errStopIteration {
		err = nil
	}
	return empty, err
}

// Entry returns the live entry at index.
func (d *Directory) Entry(index int) (DirectoryEntry, error) {
	if err := d.checkOpen(); err != nil {
		return DirectoryEntry{}, err
	}
	if index < 0 || index >= d.slotCount() || !isLive(d.slot(index)) {
		return DirectoryEntry{}, checkpoint.Wrapf(ErrNotFound, "no entry at slot %d", index)
	}
	return decodeEntry(d.slot(index), d.vol.variant)
}

// FindByNormalizedName returns the index and the entry with exactly the given name.
func (d *Directory) FindByNormalizedName(name NormalizedName) (int, DirectoryEntry, error) {
	found := -1
	var result DirectoryEntry
	err := d.each(func(index int, entry DirectoryEntry) error {
		if entry.Name == name {
			found = index
			result = entry
			return errStopIteration
		}
		return nil
	})
	if err != nil && err != errStopIteration {
		return 0, DirectoryEntry{}, err
	}
	if found < 0 {
		return 0, DirectoryEntry{}, checkpoint.Wrapf(ErrNotFound, "%v", name)
	}
	return found, result, nil
}

// VolumeLabel returns the label stored as root directory entry, if any.
func (d *Directory) VolumeLabel() (string, bool) {
	var label string
	var found bool
	d.scan(func(_ int, raw []byte) bool {
		if isLive(raw) && Attribute(raw[11])&AttrVolumeLabel != 0 {
			label = decodeOEMString(raw[:11])
			found = true
			return false
		}
		return true
	})
	return label, found
}

// freeSlot finds a slot for a new entry. Deleted slots are preferred over
// the first unused slot. It returns -1 if the directory is full.
func (d *Directory) freeSlot() int {
	deleted := -1
	d.scan(func(index int, raw []byte) bool {
		if raw[0] == slotDeleted {
			deleted = index
			return false
		}
		return true
	})
	if deleted >= 0 {
		return deleted
	}

	for index := 0; index < d.slotCount(); index++ {
		if d.slot(index)[0] == slotFree {
			return index
		}
	}
	return -1
}

// grow appends a new zeroed cluster to a chain backed directory.
func (d *Directory) grow() (int, error) {
	if d.firstCluster == 0 {
		return 0, checkpoint.Wrapf(ErrDiskFull, "the root directory is full")
	}

	last := d.clusters[len(d.clusters)-1]
	cluster, err := d.vol.table.Extend(last)
	if err != nil {
		return 0, err
	}
	if err := d.vol.addr.zeroCluster(cluster); err != nil {
		return 0, err
	}
	if err := d.vol.table.Flush(); err != nil {
		return 0, err
	}

	index := d.slotCount()
	d.clusters = append(d.clusters, cluster)
	d.data = append(d.data, make([]byte, d.extentSize)...)

	d.vol.logger.Debug("extended directory", zap.Uint32("directory", d.firstCluster), zap.Uint32("cluster", cluster))
	return index, nil
}

// Add stores entry in a free slot and returns the slot index.
func (d *Directory) Add(entry DirectoryEntry) (int, error) {
	if err := d.checkOpen(); err != nil {
		return 0, err
	}
	if _, _, err := d.FindByNormalizedName(entry.Name); err == nil {
		return 0, checkpoint.Wrapf(ErrAlreadyExists, "%v", entry.Name)
	}

	index := d.freeSlot()
	if index < 0 {
		var err error
		if index, err = d.grow(); err != nil {
			return 0, err
		}
	}

	wasFree := d.slot(index)[0] == slotFree
	if err := d.write(index, entry); err != nil {
		return 0, err
	}

	// Slots behind a 0x00 slot may contain garbage, so keep the end marker behind the new entry.
	next := index + 1
	perExtent := d.extentSize / dirEntrySize
	if wasFree && next%perExtent != 0 && d.slot(next)[0] != slotFree {
		copy(d.slot(next), make([]byte, dirEntrySize))
		if err := d.flushSlot(next); err != nil {
			return 0, err
		}
	}

	return index, nil
}

// Delete marks the slot at index as deleted. The clusters of the entry are not freed.
// The cached instance of a deleted directory is evicted and closed.
func (d *Directory) Delete(index int) error {
	entry, err := d.Entry(index)
	if err != nil {
		return err
	}

	if entry.IsDirectory() && !entry.Name.IsDotEntry() && entry.FirstCluster != 0 {
		if err := d.vol.cache.forget(entry.FirstCluster); err != nil {
			return err
		}
	}

	return d.markDeleted(index)
}

// markDeleted marks the slot as deleted without touching the cache.
func (d *Directory) markDeleted(index int) error {
	if _, err := d.Entry(index); err != nil {
		return err
	}

	d.slot(index)[0] = slotDeleted
	return d.flushSlot(index)
}

// Update rewrites the entry at index in place.
// The directory attribute of an entry can never change.
func (d *Directory) Update(index int, entry DirectoryEntry) error {
	current, err := d.Entry(index)
	if err != nil {
		return err
	}
	if current.IsDirectory() != entry.IsDirectory() {
		return checkpoint.Wrapf(ErrAttributeInvariant, "%v", current.Name)
	}
	return d.write(index, entry)
}

// SelfEntry returns the "." entry of a sub directory.
func (d *Directory) SelfEntry() (DirectoryEntry, error) {
	if d.isRoot {
		return DirectoryEntry{}, checkpoint.From(ErrRootDirectory)
	}
	entry, err := d.Entry(0)
	if err != nil {
		return DirectoryEntry{}, err
	}
	if entry.Name != dotName {
		return DirectoryEntry{}, checkpoint.Wrapf(ErrCorruptChain, "directory at cluster %d has no self entry", d.firstCluster)
	}
	return entry, nil
}

// SetSelfEntry updates the "." entry with the attributes and times of entry.
func (d *Directory) SetSelfEntry(entry DirectoryEntry) error {
	if _, err := d.SelfEntry(); err != nil {
		return err
	}
	entry.Name = dotName
	entry.FirstCluster = d.firstCluster
	entry.FileSize = 0
	return d.Update(0, entry)
}

// setParentCluster points the ".." entry to the given parent, 0 for the root.
func (d *Directory) setParentCluster(cluster uint32) error {
	entry, err := d.Entry(1)
	if err != nil {
		return err
	}
	if entry.Name != dotDotName {
		return checkpoint.Wrapf(ErrCorruptChain, "directory at cluster %d has no parent entry", d.firstCluster)
	}
	entry.FirstCluster = cluster
	return d.Update(1, entry)
}

func (d *Directory) write(index int, entry DirectoryEntry) error {
	data, err := entry.encode(d.vol.variant)
	if err != nil {
		return err
	}
	copy(d.slot(index), data)
	return d.flushSlot(index)
}

// flushSlot writes the in-memory slot to the storage.
func (d *Directory) flushSlot(index int) error {
	data := d.slot(index)
	if d.firstCluster == 0 {
		return writeAtFull(d.vol.storage, d.regionOffset+int64(index*dirEntrySize), data)
	}

	offset := index * dirEntrySize
	cluster := d.clusters[offset/d.extentSize]
	return d.vol.addr.writeCluster(cluster, uint32(offset%d.extentSize), data)
}

// Close drops the in-memory content. The directory cannot be used afterwards.
func (d *Directory) Close() error {
	d.closed = true
	d.data = nil
	d.clusters = nil
	return nil
}

package fatfs

import (
	"io/fs"
	"os"
	"time"

	"github.com/hashicorp/go-multierror"
	"go.uber.org/zap"

	"github.com/aligator/fatfs/checkpoint"
)

// Engine provides directory and file operations on a mounted FAT volume.
// It must only be used by one goroutine at a time.
type Engine struct {
	vol      *volume
	root     *Directory
	resolver *resolver

	// files holds the open regular files. Delete and Rename keep them
	// pointing at the right directory slot.
	files map[*File]struct{}
}

// Mount reads the boot sector, the FAT and the root directory of the volume on storage.
func Mount(storage Storage, opts ...Option) (*Engine, error) {
	o := NewDefaultOptions(opts...)

	data := make([]byte, bootSectorSize)
	if err := readAtFull(storage, 0, data); err != nil {
		return nil, checkpoint.Wrapf(err, "reading the boot sector")
	}

	bs, err := ParseBootSector(data, o.SkipChecks)
	if err != nil {
		return nil, err
	}

	table, err := loadAllocationTable(storage, bs, o.Logger)
	if err != nil {
		return nil, err
	}

	vol := &volume{
		storage: storage,
		bs:      bs,
		variant: bs.Variant(),
		table:   table,
		addr:    newClusterAddresser(storage, bs),
		cache:   newDirectoryCache(o.Logger),
		logger:  o.Logger,
		clock:   o.Clock,
	}

	root, err := newRootDirectory(vol)
	if err != nil {
		return nil, err
	}

	o.Logger.Debug("mounted volume", zap.Stringer("bootSector", bs))

	return &Engine{
		vol:      vol,
		root:     root,
		resolver: &resolver{vol: vol, root: root},
		files:    make(map[*File]struct{}),
	}, nil
}

// Close closes all open files, writes pending FAT changes and releases all cached directories.
func (e *Engine) Close() error {
	var result *multierror.Error
	for f := range e.files {
		if err := f.Close(); err != nil {
			result = multierror.Append(result, err)
		}
	}
	if err := e.vol.table.Flush(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.vol.cache.close(); err != nil {
		result = multierror.Append(result, err)
	}
	if err := e.root.Close(); err != nil {
		result = multierror.Append(result, err)
	}
	return result.ErrorOrNil()
}

// handles returns the open files whose entry is stored at index of dir.
func (e *Engine) handles(dir *Directory, index int) []*File {
	var result []*File
	for f := range e.files {
		if f.parent == dir && f.index == index {
			result = append(result, f)
		}
	}
	return result
}

// Variant returns the FAT type of the volume.
func (e *Engine) Variant() Variant {
	return e.vol.variant
}

// BootSector returns the parsed boot sector.
func (e *Engine) BootSector() *BootSector {
	return e.vol.bs
}

// Label returns the volume label. The label entry of the root directory takes
// precedence over the copy in the boot sector.
func (e *Engine) Label() string {
	if label, ok := e.root.VolumeLabel(); ok {
		return label
	}
	return e.vol.bs.Label()
}

// FriendlyName describes the filesystem type.
func (e *Engine) FriendlyName() string {
	return "Microsoft FAT"
}

// FreeSpace returns the number of bytes in free clusters.
func (e *Engine) FreeSpace() uint64 {
	return uint64(e.vol.table.FreeCount()) * uint64(e.vol.bs.BytesPerCluster())
}

// Size returns the number of bytes of the data region.
func (e *Engine) Size() uint64 {
	return uint64(e.vol.bs.ClusterCount()) * uint64(e.vol.bs.BytesPerCluster())
}

func (e *Engine) rootEntry() DirectoryEntry {
	var name NormalizedName
	for i := range name {
		name[i] = ' '
	}
	return DirectoryEntry{
		Name:         name,
		Attributes:   AttrDirectory,
		FirstCluster: e.root.firstCluster,
	}
}

// parentCluster is the value a ".." entry uses to point to d.
func parentCluster(d *Directory) uint32 {
	if d.isRoot {
		return 0
	}
	return d.firstCluster
}

// Resolve returns the entry at path. The root results in a synthetic directory entry.
func (e *Engine) Resolve(path string) (DirectoryEntry, error) {
	if len(splitPath(path)) == 0 {
		return e.rootEntry(), nil
	}

	_, _, entry, err := e.resolver.lookup(path)
	return entry, err
}

// List returns the files and directories of the directory at path.
func (e *Engine) List(path string) ([]DirectoryEntry, error) {
	dir, err := e.resolver.resolveDirectory(path)
	if err != nil {
		return nil, err
	}
	return dir.Entries()
}

// WalkFunc is called by Walk for every entry.
// Returning fs.SkipDir for a directory skips its content.
type WalkFunc func(path string, entry DirectoryEntry) error

// Walk visits the entry at path and everything below it in depth first order.
func (e *Engine) Walk(path string, fn WalkFunc) error {
	start, err := e.Resolve(path)
	if err != nil {
		return err
	}

	type item struct {
		path  string
		entry DirectoryEntry
		// ancestors holds the first clusters of the directories above entry.
		ancestors []uint32
	}

	stack := []item{{path: joinPath(splitPath(path)...), entry: start}}

	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		err := fn(current.path, current.entry)
		if err == fs.SkipDir && current.entry.IsDirectory() {
			continue
		}
		if err != nil {
			return err
		}

		if !current.entry.IsDirectory() {
			continue
		}

		for _, ancestor := range current.ancestors {
			if ancestor == current.entry.FirstCluster {
				return checkpoint.Wrapf(ErrCorruptChain, "directory %q is contained in itself", current.path)
			}
		}
		ancestors := append(current.ancestors[:len(current.ancestors):len(current.ancestors)], current.entry.FirstCluster)

		dir, err := e.resolver.directory(current.entry)
		if err != nil {
			return err
		}
		children, err := dir.Entries()
		if err != nil {
			return err
		}

		// Pushed in reverse to visit them in directory order.
		for i := len(children) - 1; i >= 0; i-- {
			stack = append(stack, item{
				path:      joinPath(current.path, children[i].Name.String()),
				entry:     children[i],
				ancestors: ancestors,
			})
		}
	}

	return nil
}

func (e *Engine) newEntry(name NormalizedName, attributes Attribute) DirectoryEntry {
	now := e.vol.clock()
	return DirectoryEntry{
		Name:           name,
		Attributes:     attributes,
		CreationTime:   now,
		LastAccessTime: now,
		LastWriteTime:  now,
	}
}

// CreateFile creates a new empty file and opens it for reading and writing.
func (e *Engine) CreateFile(path string) (*File, error) {
	parent, name, err := e.resolver.resolveParent(path)
	if err != nil {
		return nil, err
	}
	return e.createFile(parent, name, path, os.O_RDWR)
}

func (e *Engine) createFile(parent *Directory, name NormalizedName, path string, flag int) (*File, error) {
	entry := e.newEntry(name, AttrArchive)
	index, err := parent.Add(entry)
	if err != nil {
		return nil, checkpoint.Wrapf(err, "creating %q", path)
	}

	e.vol.logger.Debug("created file", zap.String("path", path))
	return newFile(e, path, parent, index, entry, flag), nil
}

// CreateDirectory creates the directory at path including all missing parents.
// It is no error if the directory already exists.
func (e *Engine) CreateDirectory(path string) error {
	dir := e.root
	for _, component := range splitPath(path) {
		name, err := NormalizeName(component)
		if err != nil {
			return err
		}

		_, entry, err := dir.FindByNormalizedName(name)
		if err == nil {
			if dir, err = e.resolver.directory(entry); err != nil {
				return err
			}
			continue
		}
		if !isNotFound(err) {
			return err
		}

		if dir, err = e.createDirectory(dir, name); err != nil {
			return checkpoint.Wrapf(err, "creating %q", path)
		}
	}
	return nil
}

// createDirectory adds the directory name to parent. The new directory has a
// single zeroed cluster containing the "." and ".." entries.
func (e *Engine) createDirectory(parent *Directory, name NormalizedName) (*Directory, error) {
	table := e.vol.table

	cluster, err := table.Allocate()
	if err != nil {
		return nil, err
	}

	entry := e.newEntry(name, AttrDirectory)
	entry.FirstCluster = cluster

	self := entry
	self.Name = dotName
	up := entry
	up.Name = dotDotName
	up.FirstCluster = parentCluster(parent)

	content := make([]byte, e.vol.addr.clusterSize)
	for i, dotEntry := range []DirectoryEntry{self, up} {
		data, err := dotEntry.encode(e.vol.variant)
		if err != nil {
			return nil, err
		}
		copy(content[i*dirEntrySize:], data)
	}

	if err := e.vol.addr.writeCluster(cluster, 0, content); err != nil {
		return nil, err
	}
	if err := table.Flush(); err != nil {
		return nil, err
	}

	if _, err := parent.Add(entry); err != nil {
		if freeErr := table.Free(cluster); freeErr != nil {
			return nil, multierror.Append(err, freeErr)
		}
		return nil, multierror.Append(err, table.Flush()).ErrorOrNil()
	}

	dir, err := newChainDirectory(e.vol, cluster)
	if err != nil {
		return nil, err
	}
	e.vol.cache.put(dir)

	e.vol.logger.Debug("created directory", zap.Stringer("name", name), zap.Uint32("cluster", cluster))
	return dir, nil
}

// Delete removes a file or an empty directory.
func (e *Engine) Delete(path string) error {
	parent, index, entry, err := e.resolver.lookup(path)
	if err != nil {
		return err
	}

	if entry.IsDirectory() {
		dir, err := e.resolver.directory(entry)
		if err != nil {
			return err
		}
		empty, err := dir.IsEmpty()
		if err != nil {
			return err
		}
		if !empty {
			return checkpoint.Wrapf(ErrDirectoryNotEmpty, "%q", path)
		}
	}

	// The entry has to be gone before its clusters can be reused.
	if err := parent.Delete(index); err != nil {
		return err
	}
	for _, f := range e.handles(parent, index) {
		f.release()
	}
	if err := e.vol.table.Free(entry.FirstCluster); err != nil {
		return err
	}
	if err := e.vol.table.Flush(); err != nil {
		return err
	}

	e.vol.logger.Debug("deleted", zap.String("path", path))
	return nil
}

// DeleteAll removes path and everything below it.
// For the root directory only its content is removed.
func (e *Engine) DeleteAll(path string) error {
	var paths []string
	err := e.Walk(path, func(p string, _ DirectoryEntry) error {
		paths = append(paths, p)
		return nil
	})
	if err != nil {
		return err
	}

	// Children come after their parents, so delete in reverse.
	for i := len(paths) - 1; i >= 0; i-- {
		if len(splitPath(paths[i])) == 0 {
			continue
		}
		if err := e.Delete(paths[i]); err != nil {
			return err
		}
	}
	return nil
}

// Rename moves the entry at oldPath to newPath. newPath must not exist.
func (e *Engine) Rename(oldPath, newPath string) error {
	oldParent, oldIndex, entry, err := e.resolver.lookup(oldPath)
	if err != nil {
		return err
	}

	newParent, newName, err := e.resolver.resolveParent(newPath)
	if err != nil {
		return err
	}

	if entry.IsDirectory() && isSubPath(splitPath(oldPath), splitPath(newPath)) {
		return checkpoint.Wrapf(ErrInvalidName, "cannot move %q into itself", oldPath)
	}

	if _, _, err := newParent.FindByNormalizedName(newName); err == nil {
		return checkpoint.Wrapf(ErrAlreadyExists, "%q", newPath)
	} else if !isNotFound(err) {
		return err
	}

	moved := entry
	moved.Name = newName
	newIndex, err := newParent.Add(moved)
	if err != nil {
		return err
	}
	if err := oldParent.markDeleted(oldIndex); err != nil {
		return err
	}
	for _, f := range e.handles(oldParent, oldIndex) {
		f.parent = newParent
		f.index = newIndex
		f.entry.Name = newName
		f.path = newPath
	}

	if entry.IsDirectory() && oldParent != newParent {
		dir, err := e.resolver.directory(entry)
		if err != nil {
			return err
		}
		if err := dir.setParentCluster(parentCluster(newParent)); err != nil {
			return err
		}
	}

	e.vol.logger.Debug("renamed", zap.String("from", oldPath), zap.String("to", newPath))
	return nil
}

// Open opens the file at path. flag is a combination of the os.O_* flags.
// Directories cannot be opened as file, use OpenDirectory instead.
func (e *Engine) Open(path string, flag int) (*File, error) {
	parent, name, err := e.resolver.resolveParent(path)
	if err != nil {
		if len(splitPath(path)) == 0 {
			return nil, checkpoint.Wrapf(ErrAttemptedDirectoryAsFile, "%q", path)
		}
		return nil, err
	}

	index, entry, err := parent.FindByNormalizedName(name)
	if isNotFound(err) && flag&os.O_CREATE != 0 {
		return e.createFile(parent, name, path, flag)
	}
	if err != nil {
		return nil, checkpoint.Wrapf(err, "%q", path)
	}

	if flag&(os.O_CREATE|os.O_EXCL) == os.O_CREATE|os.O_EXCL {
		return nil, checkpoint.Wrapf(ErrAlreadyExists, "%q", path)
	}
	if entry.IsDirectory() {
		return nil, checkpoint.Wrapf(ErrAttemptedDirectoryAsFile, "%q", path)
	}

	f := newFile(e, path, parent, index, entry, flag)
	if flag&os.O_TRUNC != 0 && f.writable() {
		if err := f.Truncate(0); err != nil {
			f.release()
			return nil, err
		}
	}
	return f, nil
}

// OpenDirectory opens the directory at path for reading its content.
func (e *Engine) OpenDirectory(path string) (*File, error) {
	entry, err := e.Resolve(path)
	if err != nil {
		return nil, err
	}

	dir, err := e.resolver.directory(entry)
	if err != nil {
		return nil, err
	}
	return newDirectoryFile(e, path, dir, entry), nil
}

// update applies change to the entry at path and keeps the "." entry of a directory in sync.
func (e *Engine) update(path string, change func(entry *DirectoryEntry)) error {
	parent, index, entry, err := e.resolver.lookup(path)
	if err != nil {
		return err
	}

	change(&entry)
	if err := parent.Update(index, entry); err != nil {
		return err
	}
	for _, f := range e.handles(parent, index) {
		f.entry = entry
	}

	if !entry.IsDirectory() {
		return nil
	}
	dir, err := e.resolver.directory(entry)
	if err != nil {
		return err
	}
	return dir.SetSelfEntry(entry)
}

// SetAttributes replaces the attributes of the entry at path.
// The directory attribute cannot be changed.
func (e *Engine) SetAttributes(path string, attributes Attribute) error {
	return e.update(path, func(entry *DirectoryEntry) {
		entry.Attributes = attributes
	})
}

// SetTimes sets the creation, access and write time of the entry at path.
// Zero times are left unchanged.
func (e *Engine) SetTimes(path string, creation, access, write time.Time) error {
	return e.update(path, func(entry *DirectoryEntry) {
		if !creation.IsZero() {
			entry.CreationTime = creation
		}
		if !access.IsZero() {
			entry.LastAccessTime = access
		}
		if !write.IsZero() {
			entry.LastWriteTime = write
		}
	})
}

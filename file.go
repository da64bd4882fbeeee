package fatfs

import (
	"errors"
	"fmt"
	"io"
	"os"
	"syscall"

	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"

	"github.com/aligator/fatfs/checkpoint"
)

// These errors may occur while processing a file.
var (
	ErrReadFile  = errors.New("could not read file completely")
	ErrWriteFile = errors.New("could not write file completely")
	ErrSeekFile  = errors.New("could not seek inside of the file")
	ErrReadDir   = errors.New("could not read the directory")
)

// File is an open file or directory of an Engine. It implements afero.File.
type File struct {
	engine *Engine
	path   string
	flag   int

	// parent and index locate the directory entry of a regular file.
	parent *Directory
	index  int
	entry  DirectoryEntry

	isDirectory bool
	dir         *Directory

	offset int64
}

func newFile(engine *Engine, path string, parent *Directory, index int, entry DirectoryEntry, flag int) *File {
	f := &File{
		engine: engine,
		path:   path,
		flag:   flag,
		parent: parent,
		index:  index,
		entry:  entry,
	}
	engine.files[f] = struct{}{}
	return f
}

func newDirectoryFile(engine *Engine, path string, dir *Directory, entry DirectoryEntry) *File {
	return &File{
		engine:      engine,
		path:        path,
		flag:        os.O_RDONLY,
		entry:       entry,
		isDirectory: true,
		dir:         dir,
	}
}

func (f *File) writable() bool {
	return f.flag&(os.O_WRONLY|os.O_RDWR) != 0
}

func (f *File) readable() bool {
	return f.flag&os.O_WRONLY == 0
}

func (f *File) checkOpen() error {
	if f.engine == nil {
		return checkpoint.From(os.ErrClosed)
	}
	return nil
}

func (f *File) size() int64 {
	return int64(f.entry.FileSize)
}

func (f *File) clusterSize() int64 {
	return int64(f.engine.vol.addr.clusterSize)
}

// checkSlot fails if the directory slot of f no longer holds its entry.
func (f *File) checkSlot() error {
	current, err := f.parent.Entry(f.index)
	if err != nil {
		return checkpoint.Wrapf(err, "entry of %q is gone", f.path)
	}
	if current.Name != f.entry.Name {
		return checkpoint.Wrapf(ErrNotFound, "slot of %q holds %q", f.path, current.Name)
	}
	return nil
}

// persist writes the current entry to the parent directory and shares it
// with the other handles of the same file.
func (f *File) persist() error {
	if err := f.checkSlot(); err != nil {
		return err
	}

	if err := f.parent.Update(f.index, f.entry); err != nil {
		return err
	}
	for _, other := range f.engine.handles(f.parent, f.index) {
		other.entry = f.entry
	}
	return nil
}

func (f *File) Close() error {
	var err error
	if f.engine != nil && f.writable() {
		err = f.Sync()
	}

	f.release()
	return err
}

// release detaches f from its engine. Any later call fails with os.ErrClosed.
func (f *File) release() {
	if f.engine != nil {
		delete(f.engine.files, f)
	}

	f.engine = nil
	f.path = ""
	f.flag = 0
	f.parent = nil
	f.index = 0
	f.entry = DirectoryEntry{}
	f.isDirectory = false
	f.dir = nil
	f.offset = 0
}

func (f *File) Read(p []byte) (n int, err error) {
	if len(p) == 0 {
		return 0, nil
	}

	n, err = f.ReadAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// ReadAt reads len(p) bytes from off. It returns io.EOF if fewer bytes are available.
func (f *File) ReadAt(p []byte, off int64) (n int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if f.isDirectory {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrReadFile)
	}
	if !f.readable() {
		return 0, checkpoint.Wrap(os.ErrPermission, ErrReadFile)
	}
	if off < 0 {
		return 0, checkpoint.Wrap(syscall.EINVAL, ErrReadFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	// Reading over the end makes no sense.
	if off >= f.size() {
		return 0, io.EOF
	}

	want := int64(len(p))
	if off+want > f.size() {
		want = f.size() - off
	}

	chain, err := f.engine.vol.table.Chain(f.entry.FirstCluster)
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrReadFile)
	}

	clusterSize := f.clusterSize()
	for int64(n) < want {
		pos := off + int64(n)
		index := pos / clusterSize
		if index >= int64(len(chain)) {
			return n, checkpoint.Wrapf(ErrCorruptChain, "chain of %q is shorter than its size", f.path)
		}

		inCluster := pos % clusterSize
		chunk := clusterSize - inCluster
		if chunk > want-int64(n) {
			chunk = want - int64(n)
		}

		if err := f.engine.vol.addr.readCluster(chain[index], uint32(inCluster), p[n:int64(n)+chunk]); err != nil {
			return n, checkpoint.Wrap(err, ErrReadFile)
		}
		n += int(chunk)
	}

	if n < len(p) {
		return n, io.EOF
	}
	return n, nil
}

// Seek jumps to a specific offset in the file. This affects all Read and Write operations except ReadAt and WriteAt.
// May return a syscall.EINVAL error if the whence value is invalid.
// May return an afero.ErrOutOfRange error if the offset is out of range.
// Only writable files can be positioned behind their end.
func (f *File) Seek(offset int64, whence int) (int64, error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}

	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset = f.offset + offset
	case io.SeekEnd:
		offset = f.size() + offset
	default:
		return 0, checkpoint.Wrap(ErrSeekFile, fmt.Errorf("%w, offset: %v, whence: %v", syscall.EINVAL, offset, whence))
	}

	if offset < 0 || (offset > f.size() && !f.writable()) {
		return 0, checkpoint.Wrap(afero.ErrOutOfRange, fmt.Errorf("%w, offset: %v, whence: %v", ErrSeekFile, offset, whence))
	}

	f.offset = offset
	return offset, nil
}

func (f *File) Write(p []byte) (n int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if f.flag&os.O_APPEND != 0 {
		f.offset = f.size()
	}

	n, err = f.WriteAt(p, f.offset)
	f.offset += int64(n)
	return n, err
}

// ensureClusters grows the chain until it can hold size bytes. New clusters are zeroed.
func (f *File) ensureClusters(size int64) ([]uint32, error) {
	table := f.engine.vol.table

	chain, err := table.Chain(f.entry.FirstCluster)
	if err != nil {
		return nil, err
	}

	clusterSize := f.clusterSize()
	needed := (size + clusterSize - 1) / clusterSize
	existing := len(chain)

	for int64(len(chain)) < needed {
		var last uint32
		if len(chain) > 0 {
			last = chain[len(chain)-1]
		}

		cluster, err := table.Extend(last)
		if err != nil {
			return nil, f.releaseClusters(chain, existing, err)
		}

		if len(chain) == 0 {
			f.entry.FirstCluster = cluster
		}
		chain = append(chain, cluster)

		if err := f.engine.vol.addr.zeroCluster(cluster); err != nil {
			return nil, f.releaseClusters(chain, existing, err)
		}
	}

	return chain, table.Flush()
}

// releaseClusters gives back the clusters appended behind chain[:keep] after cause made growing fail.
func (f *File) releaseClusters(chain []uint32, keep int, cause error) error {
	if len(chain) == keep {
		return cause
	}

	table := f.engine.vol.table
	result := multierror.Append(cause, table.Free(chain[keep]))
	if keep == 0 {
		f.entry.FirstCluster = 0
	} else {
		result = multierror.Append(result, table.SetEndOfChain(chain[keep-1]))
	}
	return multierror.Append(result, table.Flush()).ErrorOrNil()
}

// zeroRange clears [from, to) of the already allocated clusters.
func (f *File) zeroRange(chain []uint32, from, to int64) error {
	clusterSize := f.clusterSize()
	allocated := int64(len(chain)) * clusterSize
	if to > allocated {
		to = allocated
	}

	for pos := from; pos < to; {
		inCluster := pos % clusterSize
		chunk := clusterSize - inCluster
		if chunk > to-pos {
			chunk = to - pos
		}
		if err := f.engine.vol.addr.writeCluster(chain[pos/clusterSize], uint32(inCluster), make([]byte, chunk)); err != nil {
			return err
		}
		pos += chunk
	}
	return nil
}

// WriteAt writes p at off. Writing behind the end fills the gap with zeros.
func (f *File) WriteAt(p []byte, off int64) (n int, err error) {
	if err := f.checkOpen(); err != nil {
		return 0, err
	}
	if f.isDirectory {
		return 0, checkpoint.Wrap(syscall.EISDIR, ErrWriteFile)
	}
	if !f.writable() {
		return 0, checkpoint.Wrap(os.ErrPermission, ErrWriteFile)
	}
	if off < 0 {
		return 0, checkpoint.Wrap(syscall.EINVAL, ErrWriteFile)
	}
	if len(p) == 0 {
		return 0, nil
	}

	end := off + int64(len(p))
	if end > 0xFFFFFFFF {
		return 0, checkpoint.Wrapf(ErrWriteFile, "a FAT file cannot be larger than 4 GiB")
	}
	if err := f.checkSlot(); err != nil {
		return 0, checkpoint.Wrap(err, ErrWriteFile)
	}

	oldSize := f.size()
	chain, err := f.ensureClusters(end)
	if err != nil {
		return 0, checkpoint.Wrap(err, ErrWriteFile)
	}

	// The rest of the last cluster may still contain old data.
	if off > oldSize {
		if err := f.zeroRange(chain, oldSize, off); err != nil {
			return 0, checkpoint.Wrap(err, ErrWriteFile)
		}
	}

	clusterSize := f.clusterSize()
	for n < len(p) {
		pos := off + int64(n)
		inCluster := pos % clusterSize
		chunk := clusterSize - inCluster
		if chunk > int64(len(p)-n) {
			chunk = int64(len(p) - n)
		}

		if err := f.engine.vol.addr.writeCluster(chain[pos/clusterSize], uint32(inCluster), p[n:int64(n)+chunk]); err != nil {
			return n, checkpoint.Wrap(err, ErrWriteFile)
		}
		n += int(chunk)
	}

	if end > oldSize {
		f.entry.FileSize = uint32(end)
	}
	f.touch()
	if err := f.persist(); err != nil {
		return n, checkpoint.Wrap(err, ErrWriteFile)
	}
	return n, nil
}

// touch updates the write time and sets the archive flag.
func (f *File) touch() {
	now := f.engine.vol.clock()
	f.entry.LastWriteTime = now
	f.entry.LastAccessTime = now
	f.entry.Attributes |= AttrArchive
}

// Name returns the path the file was opened with.
func (f *File) Name() string {
	return f.path
}

// Readdir reads the contents of a directory.
// May return syscall.ENOTDIR if the current File is no directory.
// With count > 0 at most count entries are returned and io.EOF once everything was read,
// otherwise all remaining entries are returned.
func (f *File) Readdir(count int) ([]os.FileInfo, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if !f.isDirectory {
		return nil, checkpoint.Wrap(syscall.ENOTDIR, ErrReadDir)
	}

	content, err := f.dir.Entries()
	if err != nil {
		return nil, checkpoint.Wrap(err, ErrReadDir)
	}

	start := int(f.offset)
	if start > len(content) {
		start = len(content)
	}
	end := len(content)
	if count > 0 {
		if start == end {
			return nil, io.EOF
		}
		if start+count < end {
			end = start + count
		}
	}
	f.offset = int64(end)

	result := make([]os.FileInfo, 0, end-start)
	for _, entry := range content[start:end] {
		result = append(result, entry.FileInfo())
	}
	return result, nil
}

func (f *File) Readdirnames(count int) ([]string, error) {
	content, err := f.Readdir(count)
	if err != nil {
		return nil, err
	}

	names := make([]string, len(content))
	for i, entry := range content {
		names[i] = entry.Name()
	}

	return names, nil
}

func (f *File) Stat() (os.FileInfo, error) {
	if err := f.checkOpen(); err != nil {
		return nil, err
	}
	if f.isDirectory && f.dir.isRoot {
		return rootFileInfo{entry: f.entry}, nil
	}
	return f.entry.FileInfo(), nil
}

// Sync writes pending FAT changes and the directory entry.
func (f *File) Sync() error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if err := f.engine.vol.table.Flush(); err != nil {
		return err
	}
	if f.isDirectory || !f.writable() {
		return nil
	}
	return f.persist()
}

// Truncate changes the size of the file. Shrinking frees the clusters no longer needed,
// growing fills the new part with zeros.
func (f *File) Truncate(size int64) error {
	if err := f.checkOpen(); err != nil {
		return err
	}
	if f.isDirectory {
		return checkpoint.Wrap(syscall.EISDIR, ErrWriteFile)
	}
	if !f.writable() {
		return checkpoint.Wrap(os.ErrPermission, ErrWriteFile)
	}
	if size < 0 || size > 0xFFFFFFFF {
		return checkpoint.Wrap(syscall.EINVAL, ErrWriteFile)
	}
	if err := f.checkSlot(); err != nil {
		return checkpoint.Wrap(err, ErrWriteFile)
	}

	table := f.engine.vol.table
	oldSize := f.size()

	switch {
	case size > oldSize:
		chain, err := f.ensureClusters(size)
		if err != nil {
			return checkpoint.Wrap(err, ErrWriteFile)
		}
		if err := f.zeroRange(chain, oldSize, size); err != nil {
			return checkpoint.Wrap(err, ErrWriteFile)
		}

	case size < oldSize:
		chain, err := table.Chain(f.entry.FirstCluster)
		if err != nil {
			return checkpoint.Wrap(err, ErrWriteFile)
		}

		clusterSize := f.clusterSize()
		keep := (size + clusterSize - 1) / clusterSize
		if keep < int64(len(chain)) {
			if err := table.Free(chain[keep]); err != nil {
				return checkpoint.Wrap(err, ErrWriteFile)
			}
			if keep == 0 {
				f.entry.FirstCluster = 0
			} else if err := table.SetEndOfChain(chain[keep-1]); err != nil {
				return checkpoint.Wrap(err, ErrWriteFile)
			}
		}
		if err := table.Flush(); err != nil {
			return checkpoint.Wrap(err, ErrWriteFile)
		}
	}

	f.entry.FileSize = uint32(size)
	f.touch()
	return f.persist()
}

func (f *File) WriteString(s string) (ret int, err error) {
	return f.Write([]byte(s))
}

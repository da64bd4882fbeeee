package fatfs

import (
	"errors"
	"io"
	"io/fs"
	"os"
	"sort"
	"strings"
)

// GoDirEntry is a fs.DirEntry backed by the FileInfo of a directory entry.
type GoDirEntry struct {
	fs.FileInfo
}

func (g GoDirEntry) Type() fs.FileMode {
	return g.FileInfo.Mode().Type()
}

func (g GoDirEntry) Info() (fs.FileInfo, error) {
	return g.FileInfo, nil
}

// GoFile exposes an open File as fs.ReadDirFile.
type GoFile struct {
	*File
}

func (g GoFile) Stat() (fs.FileInfo, error) {
	return g.File.Stat()
}

func (g GoFile) Read(bytes []byte) (int, error) {
	return g.File.Read(bytes)
}

func (g GoFile) Close() error {
	return g.File.Close()
}

func (g GoFile) ReadDir(n int) ([]fs.DirEntry, error) {
	infos, err := g.File.Readdir(n)
	return dirEntries(infos), err
}

func dirEntries(infos []fs.FileInfo) []fs.DirEntry {
	entries := make([]fs.DirEntry, len(infos))
	for i, info := range infos {
		entries[i] = GoDirEntry{info}
	}
	return entries
}

// GoFs serves a mounted FAT volume as read only fs.FS.
// Writes still go through the embedded Fs or its Engine.
type GoFs struct {
	Fs
}

var (
	_ fs.StatFS     = (*GoFs)(nil)
	_ fs.ReadDirFS  = (*GoFs)(nil)
	_ fs.ReadFileFS = (*GoFs)(nil)
)

// NewGoFS mounts the FAT volume on storage as fs.FS.
func NewGoFS(storage Storage, opts ...Option) (*GoFs, error) {
	fatFs, err := New(storage, opts...)
	if err != nil {
		return nil, err
	}

	return &GoFs{*fatFs}, nil
}

// NewGoFSSkipChecks is NewGoFS without the plausibility checks of the boot sector.
// Volumes with unusual geometry can be read this way.
func NewGoFSSkipChecks(storage Storage, opts ...Option) (*GoFs, error) {
	fatFs, err := NewSkipChecks(storage, opts...)
	if err != nil {
		return nil, err
	}

	return &GoFs{*fatFs}, nil
}

// checkName rejects names fs.FS does not allow. The engine itself also
// accepts backslashes and absolute paths.
func checkName(op, name string) error {
	if !fs.ValidPath(name) || strings.Contains(name, `\`) {
		return &fs.PathError{Op: op, Path: name, Err: fs.ErrInvalid}
	}
	return nil
}

func (g GoFs) Open(name string) (fs.File, error) {
	if err := checkName("open", name); err != nil {
		return nil, err
	}

	file, err := g.Fs.Open(name)
	if err != nil {
		return nil, err
	}

	f, ok := file.(*File)
	if !ok {
		return nil, errors.New("invalid File implementation")
	}

	return GoFile{f}, nil
}

func (g GoFs) Stat(name string) (fs.FileInfo, error) {
	if err := checkName("stat", name); err != nil {
		return nil, err
	}
	return g.Fs.Stat(name)
}

// ReadDir lists the directory name sorted by file name.
func (g GoFs) ReadDir(name string) ([]fs.DirEntry, error) {
	if err := checkName("readdir", name); err != nil {
		return nil, err
	}

	list, err := g.engine.List(name)
	if err != nil {
		return nil, &fs.PathError{Op: "readdir", Path: name, Err: err}
	}

	infos := make([]fs.FileInfo, len(list))
	for i, entry := range list {
		infos[i] = entry.FileInfo()
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].Name() < infos[j].Name()
	})
	return dirEntries(infos), nil
}

func (g GoFs) ReadFile(name string) ([]byte, error) {
	if err := checkName("readfile", name); err != nil {
		return nil, err
	}

	f, err := g.engine.Open(name, os.O_RDONLY)
	if err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	defer f.Close()

	content := make([]byte, f.size())
	if _, err := io.ReadFull(f, content); err != nil {
		return nil, &fs.PathError{Op: "readfile", Path: name, Err: err}
	}
	return content, nil
}

package fatfs

import (
	"os"
	"time"

	"github.com/spf13/afero"

	"github.com/aligator/fatfs/checkpoint"
)

// Fs is an afero.Fs backed by a mounted FAT volume.
type Fs struct {
	engine *Engine
}

var _ afero.Fs = (*Fs)(nil)

// New mounts the FAT volume on storage.
func New(storage Storage, opts ...Option) (*Fs, error) {
	engine, err := Mount(storage, opts...)
	if err != nil {
		return nil, err
	}

	return &Fs{engine: engine}, nil
}

// NewSkipChecks mounts the FAT volume just like New but it skips some filesystem
// validations which may allow you to open not perfectly standard FAT filesystems.
// Use with caution!
func NewSkipChecks(storage Storage, opts ...Option) (*Fs, error) {
	return New(storage, append(opts, WithSkipChecks())...)
}

// Engine returns the underlying engine.
func (fs *Fs) Engine() *Engine {
	return fs.engine
}

// Label returns the volume label.
func (fs *Fs) Label() string {
	return fs.engine.Label()
}

// FSType returns the FAT type of the volume.
func (fs *Fs) FSType() Variant {
	return fs.engine.Variant()
}

// Close writes all pending changes.
func (fs *Fs) Close() error {
	return fs.engine.Close()
}

func (fs *Fs) Create(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDWR|os.O_CREATE|os.O_TRUNC, 0666)
}

// Mkdir creates a single directory. The parent has to exist.
func (fs *Fs) Mkdir(name string, perm os.FileMode) error {
	if _, _, err := fs.engine.resolver.resolveParent(name); err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}

	if _, err := fs.engine.Resolve(name); err == nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: checkpoint.From(ErrAlreadyExists)}
	} else if !isNotFound(err) {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}

	if err := fs.engine.CreateDirectory(name); err != nil {
		return &os.PathError{Op: "mkdir", Path: name, Err: err}
	}
	return nil
}

func (fs *Fs) MkdirAll(path string, perm os.FileMode) error {
	if err := fs.engine.CreateDirectory(path); err != nil {
		return &os.PathError{Op: "mkdir", Path: path, Err: err}
	}
	return nil
}

func (fs *Fs) Open(name string) (afero.File, error) {
	return fs.OpenFile(name, os.O_RDONLY, 0)
}

// OpenFile opens files and directories. Directories can only be opened read only.
func (fs *Fs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	entry, err := fs.engine.Resolve(name)
	if err == nil && entry.IsDirectory() {
		if flag&(os.O_WRONLY|os.O_RDWR) != 0 {
			return nil, &os.PathError{Op: "open", Path: name, Err: checkpoint.From(ErrAttemptedDirectoryAsFile)}
		}

		f, err := fs.engine.OpenDirectory(name)
		if err != nil {
			return nil, &os.PathError{Op: "open", Path: name, Err: err}
		}
		return f, nil
	}
	if err != nil && !isNotFound(err) {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}

	f, err := fs.engine.Open(name, flag)
	if err != nil {
		return nil, &os.PathError{Op: "open", Path: name, Err: err}
	}
	return f, nil
}

func (fs *Fs) Remove(name string) error {
	if err := fs.engine.Delete(name); err != nil {
		return &os.PathError{Op: "remove", Path: name, Err: err}
	}
	return nil
}

// RemoveAll removes path and all children. A missing path is no error.
func (fs *Fs) RemoveAll(path string) error {
	err := fs.engine.DeleteAll(path)
	if err != nil && !isNotFound(err) {
		return &os.PathError{Op: "removeall", Path: path, Err: err}
	}
	return nil
}

func (fs *Fs) Rename(oldname, newname string) error {
	if err := fs.engine.Rename(oldname, newname); err != nil {
		return &os.LinkError{Op: "rename", Old: oldname, New: newname, Err: err}
	}
	return nil
}

func (fs *Fs) Stat(name string) (os.FileInfo, error) {
	if len(splitPath(name)) == 0 {
		return rootFileInfo{entry: fs.engine.rootEntry()}, nil
	}

	entry, err := fs.engine.Resolve(name)
	if err != nil {
		return nil, &os.PathError{Op: "stat", Path: name, Err: err}
	}
	return entry.FileInfo(), nil
}

func (fs *Fs) Name() string {
	return "FAT"
}

// Chmod maps the write permission of the owner to the read only attribute.
func (fs *Fs) Chmod(name string, mode os.FileMode) error {
	err := fs.engine.update(name, func(entry *DirectoryEntry) {
		if mode&0200 == 0 {
			entry.Attributes |= AttrReadOnly
		} else {
			entry.Attributes &^= AttrReadOnly
		}
	})
	if err != nil {
		return &os.PathError{Op: "chmod", Path: name, Err: err}
	}
	return nil
}

// Chown is not supported by FAT and does nothing.
func (fs *Fs) Chown(name string, uid, gid int) error {
	return nil
}

func (fs *Fs) Chtimes(name string, atime time.Time, mtime time.Time) error {
	if err := fs.engine.SetTimes(name, time.Time{}, atime, mtime); err != nil {
		return &os.PathError{Op: "chtimes", Path: name, Err: err}
	}
	return nil
}

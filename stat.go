package fatfs

import (
	"os"
	"time"
)

// FileInfo describes the entry as os.FileInfo.
func (e DirectoryEntry) FileInfo() os.FileInfo {
	return entryFileInfo{e}
}

type entryFileInfo struct {
	entry DirectoryEntry
}

func (e entryFileInfo) Name() string {
	return e.entry.Name.String()
}

func (e entryFileInfo) Size() int64 {
	return int64(e.entry.FileSize)
}

func (e entryFileInfo) Mode() os.FileMode {
	if e.IsDir() {
		return os.ModeDir | 0777
	}
	if e.entry.Attributes&AttrReadOnly != 0 {
		return 0444
	}
	return 0666
}

func (e entryFileInfo) ModTime() time.Time {
	return e.entry.LastWriteTime
}

func (e entryFileInfo) IsDir() bool {
	return e.entry.IsDirectory()
}

func (e entryFileInfo) Sys() interface{} {
	return e.entry
}

// rootFileInfo is the entry of the root directory, which has no name on disk.
type rootFileInfo struct {
	entry DirectoryEntry
}

func (r rootFileInfo) Name() string {
	return "/"
}

func (r rootFileInfo) Size() int64 {
	return 0
}

func (r rootFileInfo) Mode() os.FileMode {
	return os.ModeDir | 0777
}

func (r rootFileInfo) ModTime() time.Time {
	return time.Time{}
}

func (r rootFileInfo) IsDir() bool {
	return true
}

func (r rootFileInfo) Sys() interface{} {
	return r.entry
}

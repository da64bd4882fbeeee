package fatfs

import (
	"bytes"
	"fmt"
	"io"
	"io/fs"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

var testClockTime = time.Date(2021, 3, 14, 15, 9, 26, 0, time.UTC)

func testClock() time.Time {
	return testClockTime
}

// testEngine formats a floppy image in memory and mounts it.
func testEngine(t *testing.T, floppy FloppyType) (*Engine, Storage) {
	t.Helper()

	storage := newMemoryStorage(t, 0)
	_, err := FormatFloppy(storage, floppy)
	require.NoError(t, err)

	return mountTest(t, storage), storage
}

// testFAT32Engine formats the smallest FAT32 volume on sparse storage and mounts it.
func testFAT32Engine(t *testing.T) (*Engine, Storage) {
	t.Helper()

	storage := newSparseStorage(int64(fat32TestGeometry.TotalSectors()) * 512)
	_, err := FormatPartition(storage, fat32TestGeometry)
	require.NoError(t, err)

	return mountTest(t, storage), storage
}

func mountTest(t *testing.T, storage Storage) *Engine {
	t.Helper()

	e, err := Mount(storage, WithLogger(zaptest.NewLogger(t)), WithClock(testClock))
	require.NoError(t, err)
	return e
}

func writeTestFile(t *testing.T, e *Engine, path string, content []byte) {
	t.Helper()

	f, err := e.Open(path, os.O_RDWR|os.O_CREATE|os.O_TRUNC)
	require.NoError(t, err)
	_, err = f.Write(content)
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func readTestFile(t *testing.T, e *Engine, path string) []byte {
	t.Helper()

	f, err := e.Open(path, os.O_RDONLY)
	require.NoError(t, err)
	defer f.Close()

	content, err := io.ReadAll(f)
	require.NoError(t, err)
	return content
}

func TestMount(t *testing.T) {
	t.Run("FAT12", func(t *testing.T) {
		e, _ := testEngine(t, FloppyHighDensity)
		assert.Equal(t, FAT12, e.Variant())
		assert.Equal(t, "NO NAME", e.Label())
		assert.Equal(t, "Microsoft FAT", e.FriendlyName())
		assert.Equal(t, uint64(e.BootSector().ClusterCount())*512, e.Size())
		assert.Equal(t, e.Size(), e.FreeSpace())
	})

	t.Run("FAT32", func(t *testing.T) {
		e, _ := testFAT32Engine(t)
		assert.Equal(t, FAT32, e.Variant())
		// The root directory occupies one cluster.
		assert.Equal(t, e.Size()-4096, e.FreeSpace())
	})

	t.Run("no FAT volume", func(t *testing.T) {
		storage := newMemoryStorage(t, 4096)
		_, err := Mount(storage)
		assert.ErrorIs(t, err, ErrMalformedBootSector)
	})

	t.Run("storage too small", func(t *testing.T) {
		storage := newMemoryStorage(t, 100)
		_, err := Mount(storage)
		assert.ErrorIs(t, err, ErrStorageIO)
	})
}

func TestEngine_Label(t *testing.T) {
	storage := newMemoryStorage(t, 0)
	_, err := FormatFloppy(storage, FloppyHighDensity, WithLabel("floppy"))
	require.NoError(t, err)

	e := mountTest(t, storage)
	assert.Equal(t, "FLOPPY", e.Label())

	// The label entry is no regular entry.
	entries, err := e.List("/")
	require.NoError(t, err)
	assert.Empty(t, entries)
}

func TestEngine_CreateDirectoryAndResolve(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)

	require.NoError(t, e.CreateDirectory("A"))
	require.NoError(t, e.CreateDirectory("A\\B"))

	entry, err := e.Resolve("A\\B")
	require.NoError(t, err)
	assert.True(t, entry.IsDirectory())
	assert.Equal(t, "B", entry.Name.String())
	assert.Equal(t, testClockTime, entry.CreationTime)

	// Both separators and any case resolve to the same entry.
	other, err := e.Resolve("/a/b")
	require.NoError(t, err)
	assert.Equal(t, entry, other)

	dir, err := e.resolver.resolveDirectory("A/B")
	require.NoError(t, err)
	self, err := dir.SelfEntry()
	require.NoError(t, err)
	assert.Equal(t, entry.FirstCluster, self.FirstCluster)

	// ".." of B points to A.
	a, err := e.Resolve("A")
	require.NoError(t, err)
	up, err := dir.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, dotDotName, up.Name)
	assert.Equal(t, a.FirstCluster, up.FirstCluster)

	// ".." of A points to the root.
	aDir, err := e.resolver.resolveDirectory("A")
	require.NoError(t, err)
	up, err = aDir.Entry(1)
	require.NoError(t, err)
	assert.Equal(t, uint32(0), up.FirstCluster)
}

func TestEngine_CreateDirectoryIdempotent(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)

	require.NoError(t, e.CreateDirectory("/x/y/z"))
	free := e.FreeSpace()
	require.NoError(t, e.CreateDirectory("/x/y/z"))
	assert.Equal(t, free, e.FreeSpace())

	entries, err := e.List("/x/y")
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "Z", entries[0].Name.String())
}

func TestEngine_ResolveErrors(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("DIR"))
	writeTestFile(t, e, "DIR/FILE.TXT", []byte("hello"))

	tests := []struct {
		path string
		err  error
	}{
		{path: "MISSING", err: ErrNotFound},
		{path: "MISSING/FILE.TXT", err: ErrNotFound},
		{path: "DIR/MISSING", err: ErrNotFound},
		{path: "DIR/FILE.TXT/X", err: ErrNotADirectory},
		{path: "DIR/TOOLONGNAME.TXT", err: ErrInvalidName},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			_, err := e.Resolve(tt.path)
			assert.ErrorIs(t, err, tt.err)
		})
	}

	_, err := e.Resolve("MISSING")
	assert.ErrorIs(t, err, os.ErrNotExist)

	root, err := e.Resolve("/")
	require.NoError(t, err)
	assert.True(t, root.IsDirectory())
}

func TestEngine_Delete(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("A/B"))
	free := e.FreeSpace()

	err := e.Delete("A")
	assert.ErrorIs(t, err, ErrDirectoryNotEmpty)

	b, err := e.Resolve("A/B")
	require.NoError(t, err)
	_, cached := e.vol.cache.get(b.FirstCluster)
	assert.True(t, cached)

	require.NoError(t, e.Delete("A/B"))
	_, cached = e.vol.cache.get(b.FirstCluster)
	assert.False(t, cached, "deleted directories are evicted")
	assert.Equal(t, free+512, e.FreeSpace())

	_, err = e.Resolve("A/B")
	assert.ErrorIs(t, err, ErrNotFound)

	require.NoError(t, e.Delete("A"))
	entries, err := e.List("/")
	require.NoError(t, err)
	assert.Empty(t, entries)

	assert.ErrorIs(t, e.Delete("/"), ErrRootDirectory)
	assert.ErrorIs(t, e.Delete("A"), ErrNotFound)
}

func TestEngine_DeleteFileFreesClusters(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	free := e.FreeSpace()

	writeTestFile(t, e, "DATA.BIN", bytes.Repeat([]byte{0xAB}, 3*512+1))
	assert.Equal(t, free-4*512, e.FreeSpace())

	require.NoError(t, e.Delete("DATA.BIN"))
	assert.Equal(t, free, e.FreeSpace())
}

func TestEngine_DeleteAll(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	free := e.FreeSpace()

	require.NoError(t, e.CreateDirectory("A/B/C"))
	writeTestFile(t, e, "A/ONE.TXT", []byte("one"))
	writeTestFile(t, e, "A/B/TWO.TXT", bytes.Repeat([]byte("two"), 400))
	writeTestFile(t, e, "KEEP.TXT", []byte("keep"))

	require.NoError(t, e.DeleteAll("A"))
	_, err := e.Resolve("A")
	assert.ErrorIs(t, err, ErrNotFound)
	assert.Equal(t, free-512, e.FreeSpace())

	require.NoError(t, e.DeleteAll("/"))
	entries, err := e.List("/")
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Equal(t, free, e.FreeSpace())
}

func TestEngine_Rename(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("SRC/SUB"))
	require.NoError(t, e.CreateDirectory("DST"))
	writeTestFile(t, e, "SRC/FILE.TXT", []byte("content"))

	t.Run("file", func(t *testing.T) {
		require.NoError(t, e.Rename("SRC/FILE.TXT", "DST/MOVED.TXT"))
		_, err := e.Resolve("SRC/FILE.TXT")
		assert.ErrorIs(t, err, ErrNotFound)
		assert.Equal(t, []byte("content"), readTestFile(t, e, "DST/MOVED.TXT"))
	})

	t.Run("directory", func(t *testing.T) {
		require.NoError(t, e.Rename("SRC/SUB", "DST/SUB2"))

		dst, err := e.Resolve("DST")
		require.NoError(t, err)
		dir, err := e.resolver.resolveDirectory("DST/SUB2")
		require.NoError(t, err)
		up, err := dir.Entry(1)
		require.NoError(t, err)
		assert.Equal(t, dst.FirstCluster, up.FirstCluster, "\"..\" must point to the new parent")
	})

	t.Run("into itself", func(t *testing.T) {
		err := e.Rename("DST", "DST/SUB2/DST")
		assert.ErrorIs(t, err, ErrInvalidName)
	})

	t.Run("existing destination", func(t *testing.T) {
		writeTestFile(t, e, "A.TXT", nil)
		err := e.Rename("A.TXT", "DST/MOVED.TXT")
		assert.ErrorIs(t, err, ErrAlreadyExists)
	})

	t.Run("missing source", func(t *testing.T) {
		err := e.Rename("NOPE.TXT", "OTHER.TXT")
		assert.ErrorIs(t, err, ErrNotFound)
	})
}

func TestEngine_SetAttributes(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("DIR"))
	writeTestFile(t, e, "FILE.TXT", []byte("x"))

	require.NoError(t, e.SetAttributes("FILE.TXT", AttrReadOnly|AttrHidden))
	entry, err := e.Resolve("FILE.TXT")
	require.NoError(t, err)
	assert.Equal(t, AttrReadOnly|AttrHidden, entry.Attributes)

	err = e.SetAttributes("FILE.TXT", AttrDirectory)
	assert.ErrorIs(t, err, ErrAttributeInvariant)

	err = e.SetAttributes("DIR", AttrArchive)
	assert.ErrorIs(t, err, ErrAttributeInvariant)

	require.NoError(t, e.SetAttributes("DIR", AttrDirectory|AttrHidden))
	dir, err := e.resolver.resolveDirectory("DIR")
	require.NoError(t, err)
	self, err := dir.SelfEntry()
	require.NoError(t, err)
	assert.Equal(t, AttrDirectory|AttrHidden, self.Attributes, "\".\" follows the entry")
}

func TestEngine_SetTimes(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	writeTestFile(t, e, "FILE.TXT", []byte("x"))

	write := time.Date(2001, 2, 3, 4, 5, 6, 0, time.UTC)
	require.NoError(t, e.SetTimes("FILE.TXT", time.Time{}, time.Time{}, write))

	entry, err := e.Resolve("FILE.TXT")
	require.NoError(t, err)
	assert.Equal(t, write, entry.LastWriteTime)
	assert.Equal(t, testClockTime, entry.CreationTime)
}

func TestEngine_FixedRootFull(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)

	// The floppy root directory has 224 slots.
	for i := 0; i < 224; i++ {
		f, err := e.CreateFile(fmt.Sprintf("F%d", i))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	_, err := e.CreateFile("ONEMORE")
	assert.ErrorIs(t, err, ErrDiskFull)

	// Deleted slots are reused.
	require.NoError(t, e.Delete("F100"))
	f, err := e.CreateFile("ONEMORE")
	require.NoError(t, err)
	require.NoError(t, f.Close())
}

func TestEngine_FAT32DirectoryGrows(t *testing.T) {
	e, storage := testFAT32Engine(t)
	require.NoError(t, e.CreateDirectory("BIG"))

	// A 4 KiB cluster holds 128 slots, "." and ".." included.
	const files = 300
	for i := 0; i < files; i++ {
		f, err := e.CreateFile(fmt.Sprintf("BIG/F%d.TXT", i))
		require.NoError(t, err)
		require.NoError(t, f.Close())
	}

	dir, err := e.resolver.resolveDirectory("BIG")
	require.NoError(t, err)
	assert.Len(t, dir.clusters, 3)

	require.NoError(t, e.Close())

	// Everything must be found again after mounting from scratch.
	e = mountTest(t, storage)
	entries, err := e.List("BIG")
	require.NoError(t, err)
	assert.Len(t, entries, files)

	_, err = e.Resolve("BIG/F299.TXT")
	assert.NoError(t, err)
}

func TestEngine_Walk(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("A/B"))
	require.NoError(t, e.CreateDirectory("C"))
	writeTestFile(t, e, "A/B/F.TXT", []byte("f"))
	writeTestFile(t, e, "A/G.TXT", []byte("g"))

	var visited []string
	err := e.Walk("/", func(path string, entry DirectoryEntry) error {
		visited = append(visited, path)
		if path == "/C" {
			return fs.SkipDir
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"/", "/A", "/A/B", "/A/B/F.TXT", "/A/G.TXT", "/C"}, visited)

	visited = nil
	require.NoError(t, e.Walk("a/b", func(path string, entry DirectoryEntry) error {
		visited = append(visited, path)
		return nil
	}))
	assert.Equal(t, []string{"/a/b", "/a/b/F.TXT"}, visited)
}

func TestEngine_WalkCycle(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("A/B"))

	a, err := e.Resolve("A")
	require.NoError(t, err)
	b, err := e.resolver.resolveDirectory("A/B")
	require.NoError(t, err)
	_, err = b.Add(DirectoryEntry{Name: name83("LOOP       "), Attributes: AttrDirectory, FirstCluster: a.FirstCluster})
	require.NoError(t, err)

	err = e.Walk("/", func(path string, entry DirectoryEntry) error { return nil })
	assert.ErrorIs(t, err, ErrCorruptChain)
}

func TestEngine_WalkAlias(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("A/B"))

	// A second entry for the same directory is no cycle.
	a, err := e.Resolve("A")
	require.NoError(t, err)
	_, err = e.root.Add(DirectoryEntry{Name: name83("ALIAS      "), Attributes: AttrDirectory, FirstCluster: a.FirstCluster})
	require.NoError(t, err)

	var visited []string
	require.NoError(t, e.Walk("/", func(path string, entry DirectoryEntry) error {
		visited = append(visited, path)
		return nil
	}))
	assert.Equal(t, []string{"/", "/A", "/A/B", "/ALIAS", "/ALIAS/B"}, visited)
}

func TestEngine_RenameOpenFile(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)

	f, err := e.CreateFile("X.TXT")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, e.Rename("X.TXT", "Y.TXT"))
	assert.Equal(t, "Y.TXT", f.Name())

	// Z.TXT takes over the slot X.TXT was stored in.
	writeTestFile(t, e, "Z.TXT", []byte("zzz"))

	_, err = f.Write([]byte(" world"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	entries, err := e.List("/")
	require.NoError(t, err)
	var names []string
	for _, entry := range entries {
		names = append(names, entry.Name.String())
	}
	assert.ElementsMatch(t, []string{"Y.TXT", "Z.TXT"}, names)

	assert.Equal(t, "hello world", string(readTestFile(t, e, "Y.TXT")))
	assert.Equal(t, "zzz", string(readTestFile(t, e, "Z.TXT")))

	_, err = e.Resolve("X.TXT")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestEngine_RenameOpenFileToDirectory(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("DIR"))

	f, err := e.CreateFile("X.TXT")
	require.NoError(t, err)
	_, err = f.Write([]byte("abc"))
	require.NoError(t, err)

	require.NoError(t, e.Rename("X.TXT", "DIR/X.TXT"))
	writeTestFile(t, e, "Z.TXT", []byte("zzz"))

	_, err = f.Write([]byte("def"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	assert.Equal(t, "abcdef", string(readTestFile(t, e, "DIR/X.TXT")))
	assert.Equal(t, "zzz", string(readTestFile(t, e, "Z.TXT")))
}

func TestEngine_DeleteOpenFile(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	free := e.FreeSpace()

	f, err := e.CreateFile("X.TXT")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, e.Delete("X.TXT"))
	writeTestFile(t, e, "Z.TXT", []byte("zzz"))

	_, err = f.WriteAt([]byte("XX"), 0)
	assert.ErrorIs(t, err, os.ErrClosed)
	_, err = f.Read(make([]byte, 1))
	assert.ErrorIs(t, err, os.ErrClosed)
	assert.NoError(t, f.Close())

	assert.Equal(t, "zzz", string(readTestFile(t, e, "Z.TXT")))
	assert.Equal(t, free-uint64(e.BootSector().BytesPerCluster()), e.FreeSpace())
}

func TestEngine_SharedOpenFile(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	writeTestFile(t, e, "X.TXT", nil)

	writer, err := e.Open("X.TXT", os.O_RDWR)
	require.NoError(t, err)
	reader, err := e.Open("X.TXT", os.O_RDONLY)
	require.NoError(t, err)

	_, err = writer.Write([]byte("abc"))
	require.NoError(t, err)

	content, err := io.ReadAll(reader)
	require.NoError(t, err)
	assert.Equal(t, "abc", string(content))

	// Attributes set through the engine survive the next write of the handle.
	require.NoError(t, e.SetAttributes("X.TXT", AttrReadOnly))
	_, err = writer.Write([]byte("d"))
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	require.NoError(t, reader.Close())

	entry, err := e.Resolve("X.TXT")
	require.NoError(t, err)
	assert.NotZero(t, entry.Attributes&AttrReadOnly)
	assert.Equal(t, uint32(4), entry.FileSize)
}

func TestEngine_CloseReleasesFiles(t *testing.T) {
	e, storage := testEngine(t, FloppyHighDensity)

	f, err := e.CreateFile("X.TXT")
	require.NoError(t, err)
	_, err = f.Write([]byte("hello"))
	require.NoError(t, err)

	require.NoError(t, e.Close())
	_, err = f.Write([]byte("more"))
	assert.ErrorIs(t, err, os.ErrClosed)

	e = mountTest(t, storage)
	assert.Equal(t, "hello", string(readTestFile(t, e, "X.TXT")))
}

func TestEngine_Open(t *testing.T) {
	e, _ := testEngine(t, FloppyHighDensity)
	require.NoError(t, e.CreateDirectory("DIR"))
	writeTestFile(t, e, "FILE.TXT", []byte("hello"))

	_, err := e.Open("MISSING.TXT", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrNotFound)

	_, err = e.Open("FILE.TXT", os.O_RDWR|os.O_CREATE|os.O_EXCL)
	assert.ErrorIs(t, err, ErrAlreadyExists)

	_, err = e.Open("DIR", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrAttemptedDirectoryAsFile)

	_, err = e.Open("/", os.O_RDONLY)
	assert.ErrorIs(t, err, ErrAttemptedDirectoryAsFile)

	f, err := e.Open("FILE.TXT", os.O_RDWR|os.O_TRUNC)
	require.NoError(t, err)
	require.NoError(t, f.Close())
	assert.Empty(t, readTestFile(t, e, "FILE.TXT"))

	_, err = e.OpenDirectory("FILE.TXT")
	assert.ErrorIs(t, err, ErrNotADirectory)
}

func TestEngine_PersistsAcrossMounts(t *testing.T) {
	for _, floppy := range []FloppyType{FloppyDoubleDensity, FloppyHighDensity, FloppyExtended} {
		t.Run(floppy.String(), func(t *testing.T) {
			e, storage := testEngine(t, floppy)
			content := bytes.Repeat([]byte("0123456789"), 500)

			require.NoError(t, e.CreateDirectory("DOCS"))
			writeTestFile(t, e, "DOCS/LONG.TXT", content)
			require.NoError(t, e.Close())

			e = mountTest(t, storage)
			assert.Equal(t, content, readTestFile(t, e, "DOCS/LONG.TXT"))

			entry, err := e.Resolve("DOCS/LONG.TXT")
			require.NoError(t, err)
			assert.Equal(t, uint32(len(content)), entry.FileSize)
			assert.Equal(t, AttrArchive, entry.Attributes)
			assert.Equal(t, testClockTime, entry.LastWriteTime)
		})
	}
}

package fatfs

import (
	"io/fs"
	"testing"
	"testing/fstest"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// testGoFSStorage returns a FAT16 volume containing a few files.
func testGoFSStorage(t *testing.T) Storage {
	t.Helper()

	storage := newMemoryStorage(t, 0)
	_, err := FormatPartition(storage, fat16TestGeometry)
	require.NoError(t, err)

	e := mountTest(t, storage)
	require.NoError(t, e.CreateDirectory("TESTS/EMPTY"))
	writeTestFile(t, e, "TESTS/README.MD", []byte("# Read me\n"))
	writeTestFile(t, e, "TESTS/LARGE.BIN", make([]byte, 5000))
	writeTestFile(t, e, "HELLO.TXT", []byte("Hello World"))
	require.NoError(t, e.Close())

	return storage
}

func TestGoFS(t *testing.T) {
	gofs, err := NewGoFS(testGoFSStorage(t))
	require.NoError(t, err)

	if err := fstest.TestFS(gofs, "HELLO.TXT", "TESTS/README.MD", "TESTS/LARGE.BIN", "TESTS/EMPTY"); err != nil {
		t.Fatal(err)
	}
}

func TestGoFS_InvalidPath(t *testing.T) {
	gofs, err := NewGoFS(testGoFSStorage(t))
	require.NoError(t, err)

	_, err = gofs.Open("/HELLO.TXT")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, err = gofs.Open("TESTS/../HELLO.TXT")
	assert.ErrorIs(t, err, fs.ErrInvalid)

	_, err = gofs.Open(`TESTS\README.MD`)
	assert.ErrorIs(t, err, fs.ErrInvalid)

	content, err := fs.ReadFile(gofs, "TESTS/README.MD")
	require.NoError(t, err)
	assert.Equal(t, "# Read me\n", string(content))
}

func TestGoFs_ReadDir(t *testing.T) {
	gofs, err := NewGoFS(testGoFSStorage(t))
	require.NoError(t, err)

	tests := []struct {
		name      string
		dir       string
		wantNames []string
		wantErr   error
	}{
		{name: "root", dir: ".", wantNames: []string{"HELLO.TXT", "TESTS"}},
		{name: "sorted by name", dir: "TESTS", wantNames: []string{"EMPTY", "LARGE.BIN", "README.MD"}},
		{name: "empty", dir: "TESTS/EMPTY", wantNames: []string{}},
		{name: "file", dir: "HELLO.TXT", wantErr: ErrNotADirectory},
		{name: "missing", dir: "MISSING", wantErr: fs.ErrNotExist},
		{name: "invalid", dir: "/TESTS", wantErr: fs.ErrInvalid},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			entries, err := gofs.ReadDir(tt.dir)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)

			names := []string{}
			for _, entry := range entries {
				names = append(names, entry.Name())
			}
			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestGoFs_ReadFileStat(t *testing.T) {
	gofs, err := NewGoFS(testGoFSStorage(t))
	require.NoError(t, err)

	content, err := gofs.ReadFile("TESTS/LARGE.BIN")
	require.NoError(t, err)
	assert.Len(t, content, 5000)

	_, err = gofs.ReadFile("TESTS")
	assert.ErrorIs(t, err, ErrAttemptedDirectoryAsFile)

	info, err := gofs.Stat("TESTS/README.MD")
	require.NoError(t, err)
	assert.Equal(t, "README.MD", info.Name())
	assert.Equal(t, int64(10), info.Size())

	_, err = gofs.Stat("TESTS/../HELLO.TXT")
	assert.ErrorIs(t, err, fs.ErrInvalid)
}

func TestAferoIOFS(t *testing.T) {
	fatFs, err := New(testGoFSStorage(t))
	require.NoError(t, err)
	iofs := afero.NewIOFS(fatFs)

	content, err := fs.ReadFile(iofs, "HELLO.TXT")
	require.NoError(t, err)
	assert.Equal(t, "Hello World", string(content))

	entries, err := fs.ReadDir(iofs, "TESTS")
	require.NoError(t, err)
	require.Len(t, entries, 3)
	assert.Equal(t, "EMPTY", entries[0].Name())
	assert.True(t, entries[0].IsDir())
}

func TestNewGoFS(t *testing.T) {
	tests := []struct {
		name string
		// Do not expect something special. Should be enough to check for non-nil.
		storage    func(t *testing.T) Storage
		wantNotNil bool
		wantErr    bool
	}{
		{
			name:       "FAT16 test image",
			storage:    testGoFSStorage,
			wantNotNil: true,
			wantErr:    false,
		},
		{
			name: "no FAT file",
			storage: func(t *testing.T) Storage {
				return newMemoryStorage(t, 4096)
			},
			wantNotNil: false,
			wantErr:    true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewGoFS(tt.storage(t))
			if (err != nil) != tt.wantErr {
				t.Errorf("NewGoFS() error = %v, wantErr %v", err, tt.wantErr)
				return
			}
			if (got != nil) != tt.wantNotNil {
				t.Errorf("NewGoFS() = %v, wantNotNil %v", got, tt.wantNotNil)
			}
		})
	}
}

func TestNewGoFSSkipChecks(t *testing.T) {
	storage := testGoFSStorage(t)

	// An odd sectors per cluster value is only accepted without checks.
	_, err := storage.WriteAt([]byte{3}, 13)
	require.NoError(t, err)

	_, err = NewGoFS(storage)
	assert.ErrorIs(t, err, ErrMalformedBootSector)

	got, err := NewGoFSSkipChecks(storage)
	require.NoError(t, err)
	assert.NotNil(t, got)
}

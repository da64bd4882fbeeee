package fatfs

import (
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// validBootSector returns the boot sector of a freshly formatted volume.
func validBootSector(t *testing.T, totalSectors uint64) []byte {
	t.Helper()

	l, err := partitionLayout(totalSectors, 0)
	require.NoError(t, err)
	bs, err := l.bootSector(NewDefaultOptions(WithVolumeID(0xCAFE), WithLabel("BOOT")))
	require.NoError(t, err)
	data, err := bs.Bytes()
	require.NoError(t, err)
	return data
}

func TestParseBootSector(t *testing.T) {
	t.Run("FAT16", func(t *testing.T) {
		data := validBootSector(t, 20160)
		bs, err := ParseBootSector(data, false)
		require.NoError(t, err)

		assert.Equal(t, FAT16, bs.Variant())
		assert.Equal(t, uint32(20160), bs.TotalSectors())
		assert.Equal(t, uint16(512), bs.BytesPerSector)
		assert.Equal(t, uint32(1024), bs.BytesPerCluster())
		assert.Equal(t, uint32(0xCAFE), bs.EBR.VolumeID)
		assert.Equal(t, "BOOT", bs.Label())
		assert.Equal(t, "FAT16", bs.FileSystemType())
		assert.True(t, bs.ExtendedBootSignaturePresent())
		assert.Equal(t, uint32(1)+2*bs.FATSize()+32, bs.FirstDataSector())
		assert.Equal(t, (bs.TotalSectors()-bs.FirstDataSector())/2, bs.ClusterCount())
		assert.Equal(t, FAT32Fields{}, bs.FAT32)

		encoded, err := bs.Bytes()
		require.NoError(t, err)
		assert.Equal(t, data, encoded)
	})

	t.Run("FAT32", func(t *testing.T) {
		data := validBootSector(t, 1060290)
		bs, err := ParseBootSector(data, false)
		require.NoError(t, err)

		assert.Equal(t, FAT32, bs.Variant())
		assert.Equal(t, uint32(0), bs.RootDirSectors())
		assert.Equal(t, uint32(2), bs.FAT32.RootCluster)
		assert.Equal(t, "BOOT", bs.Label())
		assert.Equal(t, "FAT32", bs.FileSystemType())

		encoded, err := bs.Bytes()
		require.NoError(t, err)
		assert.Equal(t, data, encoded)
	})
}

func TestParseBootSector_Invalid(t *testing.T) {
	tests := []struct {
		name string
		// modify breaks a valid FAT16 boot sector.
		modify     func(data []byte)
		skipChecks bool
		wantErr    error
	}{
		{
			name:    "too short",
			modify:  nil,
			wantErr: ErrMalformedBootSector,
		},
		{
			name:    "invalid jump",
			modify:  func(data []byte) { data[0] = 0x00 },
			wantErr: ErrMalformedBootSector,
		},
		{
			name:    "missing signature",
			modify:  func(data []byte) { data[511] = 0x00 },
			wantErr: ErrMalformedBootSector,
		},
		{
			name:    "invalid sector size",
			modify:  func(data []byte) { binary.LittleEndian.PutUint16(data[11:], 500) },
			wantErr: ErrMalformedBootSector,
		},
		{
			name:    "sectors per cluster not a power of two",
			modify:  func(data []byte) { data[13] = 6 },
			wantErr: ErrMalformedBootSector,
		},
		{
			name:       "sectors per cluster not a power of two without checks",
			modify:     func(data []byte) { data[13] = 6 },
			skipChecks: true,
		},
		{
			name:    "no reserved sectors",
			modify:  func(data []byte) { binary.LittleEndian.PutUint16(data[14:], 0) },
			wantErr: ErrMalformedBootSector,
		},
		{
			name:    "no FATs",
			modify:  func(data []byte) { data[16] = 0 },
			wantErr: ErrMalformedBootSector,
		},
		{
			name:       "no FATs without checks",
			modify:     func(data []byte) { data[16] = 0 },
			skipChecks: true,
			wantErr:    ErrMalformedBootSector,
		},
		{
			name:    "invalid media",
			modify:  func(data []byte) { data[21] = 0x12 },
			wantErr: ErrMalformedBootSector,
		},
		{
			name: "both total sector fields",
			modify: func(data []byte) {
				binary.LittleEndian.PutUint32(data[32:], 20160)
			},
			wantErr: ErrMalformedBootSector,
		},
		{
			name: "root entries do not fill a sector",
			modify: func(data []byte) {
				binary.LittleEndian.PutUint16(data[17:], 500)
			},
			wantErr: ErrMalformedBootSector,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := validBootSector(t, 20160)
			if tt.modify == nil {
				data = data[:100]
			} else {
				tt.modify(data)
			}

			bs, err := ParseBootSector(data, tt.skipChecks)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Nil(t, bs)
				return
			}
			require.NoError(t, err)
			assert.NotNil(t, bs)
		})
	}
}

func TestBootSector_Mirroring(t *testing.T) {
	tests := []struct {
		name      string
		variant   Variant
		extFlags  uint16
		mirror    bool
		activeFAT uint8
	}{
		{name: "FAT16 always mirrors", variant: FAT16, extFlags: 0x81, mirror: true, activeFAT: 0},
		{name: "FAT32 mirrored", variant: FAT32, extFlags: 0x01, mirror: true, activeFAT: 0},
		{name: "FAT32 first copy only", variant: FAT32, extFlags: 0x80, mirror: false, activeFAT: 0},
		{name: "FAT32 second copy only", variant: FAT32, extFlags: 0x81, mirror: false, activeFAT: 1},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bs := &BootSector{variant: tt.variant}
			bs.FAT32.ExtFlags = tt.extFlags

			assert.Equal(t, tt.mirror, bs.MirrorFAT())
			assert.Equal(t, tt.activeFAT, bs.ActiveFAT())
		})
	}
}

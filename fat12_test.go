package fatfs

import "testing"

func Test_set12_get12(t *testing.T) {
	tests := []struct {
		name  string
		index uint32
		value uint32
	}{
		{name: "even index", index: 4, value: 0xABC},
		{name: "odd index", index: 5, value: 0xABC},
		{name: "first entry", index: 0, value: 0xFF0},
		{name: "second entry", index: 1, value: 0xFFF},
		{name: "zero on odd", index: 7, value: 0},
		{name: "value wider than 12 bits is cut", index: 2, value: 0x1234},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			// Neighbours filled with all bits set must survive untouched.
			data := make([]byte, 16)
			for i := range data {
				data[i] = 0xFF
			}

			set12(data, tt.index, tt.value)

			if got := get12(data, tt.index); got != tt.value&0x0FFF {
				t.Errorf("get12() = 0x%03X, want 0x%03X", got, tt.value&0x0FFF)
			}
			for _, neighbour := range []uint32{tt.index - 1, tt.index + 1} {
				if neighbour > 9 {
					continue
				}
				if got := get12(data, neighbour); got != 0xFFF {
					t.Errorf("neighbour %d = 0x%03X, want 0xFFF", neighbour, got)
				}
			}
		})
	}
}

func Test_set12_layout(t *testing.T) {
	data := make([]byte, 3)
	set12(data, 0, 0x123)
	set12(data, 1, 0x456)

	want := []byte{0x23, 0x61, 0x45}
	for i := range want {
		if data[i] != want[i] {
			t.Fatalf("packed bytes = % X, want % X", data, want)
		}
	}
}

func Test_fatBuffer_set_FAT32KeepsReservedBits(t *testing.T) {
	b := fatBuffer{variant: FAT32, data: make([]byte, 16)}
	b.data[11] = 0xF0

	b.set(2, 0xFFFFFFFF)

	if got := b.data[11]; got != 0xFF {
		t.Errorf("top byte = 0x%02X, want 0xFF", got)
	}
	if got := b.get(2); got != 0x0FFFFFFF {
		t.Errorf("get() = 0x%08X, want 0x0FFFFFFF", got)
	}

	b.set(2, 5)
	if got := b.data[11]; got != 0xF0 {
		t.Errorf("top byte = 0x%02X, want reserved bits 0xF0 kept", got)
	}
}

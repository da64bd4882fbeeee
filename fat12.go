package fatfs

import "encoding/binary"

// get12 reads the 12 bit entry idx. Two entries share three bytes:
// an even entry uses the first byte and the low nibble of the second,
// an odd entry the high nibble of the second byte and the third byte.
func get12(data []byte, idx uint32) uint32 {
	off := idx + idx/2
	v := uint32(data[off]) | uint32(data[off+1])<<8
	if idx&1 == 1 {
		return v >> 4
	}
	return v & 0x0FFF
}

// set12 writes the 12 bit entry idx leaving the neighbouring nibble untouched.
func set12(data []byte, idx uint32, value uint32) {
	off := idx + idx/2
	value &= 0x0FFF
	if idx&1 == 1 {
		data[off] = data[off]&0x0F | byte(value<<4)
		data[off+1] = byte(value >> 4)
	} else {
		data[off] = byte(value)
		data[off+1] = data[off+1]&0xF0 | byte(value>>8)
	}
}

// fatBuffer is the raw byte image of one FAT without any range checks.
type fatBuffer struct {
	variant Variant
	data    []byte
}

// capacity is the number of entries fitting into the buffer.
func (b fatBuffer) capacity() uint32 {
	switch b.variant {
	case FAT12:
		return uint32(len(b.data)) * 2 / 3
	case FAT16:
		return uint32(len(b.data)) / 2
	default:
		return uint32(len(b.data)) / 4
	}
}

func (b fatBuffer) get(cluster uint32) uint32 {
	switch b.variant {
	case FAT12:
		return get12(b.data, cluster)
	case FAT16:
		return uint32(binary.LittleEndian.Uint16(b.data[cluster*2:]))
	default:
		return binary.LittleEndian.Uint32(b.data[cluster*4:]) & 0x0FFFFFFF
	}
}

// set writes value, on FAT32 the top 4 bits are reserved and kept.
func (b fatBuffer) set(cluster uint32, value uint32) {
	switch b.variant {
	case FAT12:
		set12(b.data, cluster, value)
	case FAT16:
		binary.LittleEndian.PutUint16(b.data[cluster*2:], uint16(value))
	default:
		old := binary.LittleEndian.Uint32(b.data[cluster*4:])
		binary.LittleEndian.PutUint32(b.data[cluster*4:], old&0xF0000000|value&0x0FFFFFFF)
	}
}

func (b fatBuffer) setEndOfChain(cluster uint32) {
	b.set(cluster, b.variant.endOfChain())
}

// byteSpan returns the first and last byte touched by the entry.
func (b fatBuffer) byteSpan(cluster uint32) (uint32, uint32) {
	switch b.variant {
	case FAT12:
		off := cluster + cluster/2
		return off, off + 1
	case FAT16:
		return cluster * 2, cluster*2 + 1
	default:
		return cluster * 4, cluster*4 + 3
	}
}

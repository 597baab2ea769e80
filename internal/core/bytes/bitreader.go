package bytes

import (
	"encoding/binary"
	"io"
)

// BitReader reads values from a bit stream in which bits are packed most
// significant first. Multi-byte values are little endian. Game message
// payloads are not byte aligned so the standard readers can't be used.
type BitReader struct {
	data []byte
	pos  int // in bits
}

func NewBitReader(data []byte) *BitReader {
	return &BitReader{data: data}
}

// Remaining returns the number of unread bits.
func (r *BitReader) Remaining() int {
	return len(r.data)*8 - r.pos
}

// AlignToByte skips any remaining bits of the current byte.
func (r *BitReader) AlignToByte() {
	if rem := r.pos % 8; rem != 0 {
		r.pos += 8 - rem
	}
}

func (r *BitReader) ReadBit() (bool, error) {
	if r.Remaining() < 1 {
		return false, io.ErrUnexpectedEOF
	}
	b := r.data[r.pos/8] & (0x80 >> uint(r.pos%8))
	r.pos++
	return b != 0, nil
}

func (r *BitReader) ReadByte() (byte, error) {
	if r.Remaining() < 8 {
		return 0, io.ErrUnexpectedEOF
	}
	offset := uint(r.pos % 8)
	idx := r.pos / 8
	r.pos += 8

	if offset == 0 {
		return r.data[idx], nil
	}
	return r.data[idx]<<offset | r.data[idx+1]>>(8-offset), nil
}

// ReadBytes reads n whole bytes from the stream, regardless of alignment.
func (r *BitReader) ReadBytes(n int) ([]byte, error) {
	if r.Remaining() < n*8 {
		return nil, io.ErrUnexpectedEOF
	}
	out := make([]byte, n)
	for i := range out {
		out[i], _ = r.ReadByte()
	}
	return out, nil
}

func (r *BitReader) ReadUint16() (uint16, error) {
	b, err := r.ReadBytes(2)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint16(b), nil
}

func (r *BitReader) ReadUint32() (uint32, error) {
	b, err := r.ReadBytes(4)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint32(b), nil
}

func (r *BitReader) ReadUint64() (uint64, error) {
	b, err := r.ReadBytes(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *BitReader) ReadInt64() (int64, error) {
	v, err := r.ReadUint64()
	return int64(v), err
}

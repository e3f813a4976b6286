package audio

import (
	"encoding/binary"
	"fmt"
)

// Narrow converts a raw sample to an analysis sample by keeping its
// high-order bits: the raw value is arithmetically shifted right by shift.
// The result is truncated to 16 bits, so a shift smaller than the bit-width
// difference wraps loud samples.
func Narrow(raw int32, shift uint) int16 {
	return int16(raw >> shift)
}

// Decoder extracts the i-th raw sample from a little-endian byte buffer.
type Decoder func(b []byte, i int) int32

// DecoderFor returns the [Decoder] for f's bit depth.
func DecoderFor(f Format) (Decoder, error) {
	switch f.BitDepth {
	case 32:
		return decodeS32LE, nil
	case 24:
		return decodeS24LE, nil
	default:
		return nil, fmt.Errorf("audio: no decoder for %d-bit samples", f.BitDepth)
	}
}

func decodeS32LE(b []byte, i int) int32 {
	return int32(binary.LittleEndian.Uint32(b[i*4:]))
}

// decodeS24LE sign-extends a packed 24-bit sample to int32.
func decodeS24LE(b []byte, i int) int32 {
	o := i * 3
	return int32(uint32(b[o])<<8|uint32(b[o+1])<<16|uint32(b[o+2])<<24) >> 8
}

// EncodeS32LE writes samples as little-endian 32-bit values into dst and
// returns the number of bytes written. dst must hold len(samples)*4 bytes.
func EncodeS32LE(dst []byte, samples []int32) int {
	for i, s := range samples {
		binary.LittleEndian.PutUint32(dst[i*4:], uint32(s))
	}
	return len(samples) * 4
}

// PCM16LE writes analysis samples as little-endian int16 PCM into dst,
// growing it if needed, and returns the written slice.
func PCM16LE(dst []byte, samples []int16) []byte {
	need := len(samples) * 2
	if cap(dst) < need {
		dst = make([]byte, need)
	}
	dst = dst[:need]
	for i, s := range samples {
		binary.LittleEndian.PutUint16(dst[i*2:], uint16(s))
	}
	return dst
}

// Package wav builds and parses the canonical 44-byte RIFF/WAVE header used
// to wrap raw PCM synthesis output for playback. Speech providers emit
// headerless PCM; the HTTP layer wraps it with [Encode] before returning
// audio to a client, and tests verify the header byte layout with [ParseHeader].
package wav

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// HeaderSize is the fixed size of a canonical PCM WAV header in bytes.
const HeaderSize = 44

// pcmFormatTag is the WAVE format tag for uncompressed PCM.
const pcmFormatTag = 1

// Format describes the PCM layout of the audio payload.
type Format struct {
	// SampleRate is the sample rate in Hz (e.g., 24000).
	SampleRate int

	// Channels is the number of interleaved channels (1 = mono).
	Channels int

	// BitsPerSample is the sample width in bits (16 for s16le PCM).
	BitsPerSample int
}

// DefaultFormat matches the synthesis output used across the pipeline:
// mono 16-bit PCM at 24 kHz.
var DefaultFormat = Format{SampleRate: 24000, Channels: 1, BitsPerSample: 16}

// Header is the parsed form of a canonical PCM WAV header.
type Header struct {
	Format

	// DataLength is the size of the PCM payload in bytes.
	DataLength int
}

// ByteRate returns bytes consumed per second of audio.
func (f Format) ByteRate() int {
	return f.SampleRate * f.Channels * f.BitsPerSample / 8
}

// BlockAlign returns the size of one sample frame across all channels.
func (f Format) BlockAlign() int {
	return f.Channels * f.BitsPerSample / 8
}

// EncodeHeader returns the 44-byte header for a PCM payload of dataLength
// bytes. The layout is byte-exact: RIFF size = 36+dataLength, fmt chunk of
// 16 bytes with format tag 1, then a data chunk of dataLength bytes.
func EncodeHeader(dataLength int, f Format) []byte {
	buf := make([]byte, HeaderSize)

	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], uint32(36+dataLength))
	copy(buf[8:12], "WAVE")

	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], pcmFormatTag)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(f.Channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(f.SampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], uint32(f.ByteRate()))
	binary.LittleEndian.PutUint16(buf[32:34], uint16(f.BlockAlign()))
	binary.LittleEndian.PutUint16(buf[34:36], uint16(f.BitsPerSample))

	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], uint32(dataLength))

	return buf
}

// Encode wraps a raw PCM payload in a complete WAV file.
func Encode(pcm []byte, f Format) []byte {
	out := make([]byte, 0, HeaderSize+len(pcm))
	out = append(out, EncodeHeader(len(pcm), f)...)
	out = append(out, pcm...)
	return out
}

// ParseHeader decodes the first 44 bytes of b into a [Header]. It validates
// the RIFF/WAVE/fmt/data markers and the PCM format tag.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, fmt.Errorf("wav: header too short: %d bytes", len(b))
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return Header{}, errors.New("wav: missing RIFF/WAVE markers")
	}
	if string(b[12:16]) != "fmt " {
		return Header{}, errors.New("wav: missing fmt chunk")
	}
	if tag := binary.LittleEndian.Uint16(b[20:22]); tag != pcmFormatTag {
		return Header{}, fmt.Errorf("wav: unsupported format tag %d", tag)
	}
	if string(b[36:40]) != "data" {
		return Header{}, errors.New("wav: missing data chunk")
	}

	h := Header{
		Format: Format{
			Channels:      int(binary.LittleEndian.Uint16(b[22:24])),
			SampleRate:    int(binary.LittleEndian.Uint32(b[24:28])),
			BitsPerSample: int(binary.LittleEndian.Uint16(b[34:36])),
		},
		DataLength: int(binary.LittleEndian.Uint32(b[40:44])),
	}

	riffSize := int(binary.LittleEndian.Uint32(b[4:8]))
	if riffSize != 36+h.DataLength {
		return Header{}, fmt.Errorf("wav: RIFF size %d does not match data length %d", riffSize, h.DataLength)
	}

	return h, nil
}

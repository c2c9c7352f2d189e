// Package codec implements the binary media-frame wire format: a fixed
// 48-byte little-endian header followed by a codec payload.
package codec

import (
	"encoding/binary"
	"fmt"
	"hash/crc32"
)

const (
	// Magic identifies the start of a frame header.
	Magic uint32 = 0x47464D45
	// Version is the only wire version this package understands.
	Version uint16 = 1

	// HeaderSize is the fixed on-wire size of Header, in bytes. The field
	// list sums to 54 bytes with an 8-byte reserved block; honoring the
	// mandated 48-byte total instead means reserved is truncated to 2 bytes
	// (buf[46:48]) below.
	HeaderSize = 48
)

// Flag bits packed into Header.Flags.
const (
	FlagKeyframe = 1 << 0
	FlagDelta    = 1 << 1
	FlagCompressed = 1 << 2
	FlagFEC      = 1 << 3
)

// Codec enumerates the supported media codecs.
type Codec uint8

const (
	CodecRaw Codec = iota
	CodecPng
	CodecJpeg
	CodecH264
	CodecH265
	CodecNvencH264
	CodecNvencH265
	CodecNvencAV1
)

func (c Codec) String() string {
	switch c {
	case CodecRaw:
		return "raw"
	case CodecPng:
		return "png"
	case CodecJpeg:
		return "jpeg"
	case CodecH264:
		return "h264"
	case CodecH265:
		return "h265"
	case CodecNvencH264:
		return "nvenc-h264"
	case CodecNvencH265:
		return "nvenc-h265"
	case CodecNvencAV1:
		return "nvenc-av1"
	default:
		return "unknown"
	}
}

// isCompressed reports whether c is one of the codecs for which
// FlagCompressed is mandatory.
func (c Codec) isCompressed() bool {
	switch c {
	case CodecJpeg, CodecH264, CodecH265, CodecNvencH264, CodecNvencH265, CodecNvencAV1:
		return true
	default:
		return false
	}
}

func (c Codec) valid() bool {
	return c <= CodecNvencAV1
}

// Quality is a hint bound to bitrate/CRF, not a hard contract.
type Quality uint8

const (
	QualityUltra Quality = iota
	QualityHigh
	QualityMedium
	QualityLow
	QualityPotato
)

func (q Quality) valid() bool {
	return q <= QualityPotato
}

// Header is the 48-byte frame header described in §3/§4.1 of the wire
// format. SessionID is the first 8 bytes of a session's 128-bit id.
type Header struct {
	Sequence    uint32
	SessionID   [8]byte
	Codec       Codec
	Quality     Quality
	Width       uint32
	Height      uint32
	DataSize    uint32
	TimestampUs uint64
	Flags       uint16
	CRC32       uint32
}

// ProtocolError reports a wire-level decode failure.
type ProtocolError struct {
	Kind string
	Msg  string
}

func (e *ProtocolError) Error() string {
	if e.Msg != "" {
		return fmt.Sprintf("protocol error (%s): %s", e.Kind, e.Msg)
	}
	return fmt.Sprintf("protocol error (%s)", e.Kind)
}

func protoErr(kind, format string, args ...any) *ProtocolError {
	return &ProtocolError{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// NewHeader builds a header for payload, auto-setting the compressed flag
// for codecs that require it. The keyframe argument sets FlagKeyframe when
// true and FlagDelta when false.
func NewHeader(seq uint32, sessionID [8]byte, c Codec, q Quality, width, height uint32, timestampUs uint64, keyframe bool) Header {
	h := Header{
		Sequence:    seq,
		SessionID:   sessionID,
		Codec:       c,
		Quality:     q,
		Width:       width,
		Height:      height,
		TimestampUs: timestampUs,
	}
	if c.isCompressed() {
		h.Flags |= FlagCompressed
	}
	if keyframe {
		h.Flags |= FlagKeyframe
	} else {
		h.Flags |= FlagDelta
	}
	return h
}

func (h Header) IsKeyframe() bool   { return h.Flags&FlagKeyframe != 0 }
func (h Header) IsCompressed() bool { return h.Flags&FlagCompressed != 0 }

// Encode serializes header and payload into a single buffer: the 48-byte
// header (CRC32 computed over payload) followed by payload, little-endian
// throughout. Fields are packed explicitly; the header is never reinterpreted
// via a pointer cast, so host endianness and struct alignment never leak
// into the wire format.
func Encode(h Header, payload []byte) ([]byte, error) {
	h.DataSize = uint32(len(payload))
	h.CRC32 = crc32.ChecksumIEEE(payload)

	buf := make([]byte, HeaderSize+len(payload))
	binary.LittleEndian.PutUint32(buf[0:4], Magic)
	binary.LittleEndian.PutUint16(buf[4:6], Version)
	binary.LittleEndian.PutUint32(buf[6:10], h.Sequence)
	copy(buf[10:18], h.SessionID[:])
	buf[18] = byte(h.Codec)
	buf[19] = byte(h.Quality)
	binary.LittleEndian.PutUint32(buf[20:24], h.Width)
	binary.LittleEndian.PutUint32(buf[24:28], h.Height)
	binary.LittleEndian.PutUint32(buf[28:32], h.DataSize)
	binary.LittleEndian.PutUint64(buf[32:40], h.TimestampUs)
	binary.LittleEndian.PutUint16(buf[40:42], h.Flags)
	binary.LittleEndian.PutUint32(buf[42:46], h.CRC32)
	// buf[46:48] reserved, left zero.
	copy(buf[HeaderSize:], payload)
	return buf, nil
}

// Decode parses and validates a wire buffer produced by Encode, returning
// the header and a payload slice (a view into buf, not a copy).
func Decode(buf []byte) (Header, []byte, error) {
	var h Header
	if len(buf) < HeaderSize {
		return h, nil, protoErr("size-mismatch", "buffer shorter than header (%d < %d)", len(buf), HeaderSize)
	}

	magic := binary.LittleEndian.Uint32(buf[0:4])
	if magic != Magic {
		return h, nil, protoErr("invalid-magic", "got 0x%08X", magic)
	}

	version := binary.LittleEndian.Uint16(buf[4:6])
	if version != Version {
		return h, nil, protoErr("unsupported-version", "got %d", version)
	}

	h.Sequence = binary.LittleEndian.Uint32(buf[6:10])
	copy(h.SessionID[:], buf[10:18])
	h.Codec = Codec(buf[18])
	h.Quality = Quality(buf[19])
	h.Width = binary.LittleEndian.Uint32(buf[20:24])
	h.Height = binary.LittleEndian.Uint32(buf[24:28])
	h.DataSize = binary.LittleEndian.Uint32(buf[28:32])
	h.TimestampUs = binary.LittleEndian.Uint64(buf[32:40])
	h.Flags = binary.LittleEndian.Uint16(buf[40:42])
	h.CRC32 = binary.LittleEndian.Uint32(buf[42:46])

	if !h.Codec.valid() {
		return h, nil, protoErr("unknown-codec", "got %d", h.Codec)
	}
	if !h.Quality.valid() {
		return h, nil, protoErr("unknown-codec", "unknown quality %d", h.Quality)
	}

	// Bound the allocation to the declared size before trusting it: never
	// allocate more than data_size for a frame.
	want := HeaderSize + int(h.DataSize)
	if len(buf) != want {
		return h, nil, protoErr("size-mismatch", "declared data_size=%d implies total=%d, got %d", h.DataSize, want, len(buf))
	}

	payload := buf[HeaderSize:]
	if got := crc32.ChecksumIEEE(payload); got != h.CRC32 {
		return h, nil, protoErr("checksum-mismatch", "checksum mismatch: computed 0x%08X, header has 0x%08X", got, h.CRC32)
	}

	return h, payload, nil
}

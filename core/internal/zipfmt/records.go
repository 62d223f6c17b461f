// Package zipfmt decodes and encodes the fixed-layout records of the zip
// container format: the end of central directory record (plain and zip64),
// central directory file headers, and local file headers.
//
// All multi-byte values are little endian. Functions operate on byte slices or
// io.ReaderAt values and never depend on a shared file cursor.
package zipfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"
)

// Record signatures.
const (
	EndSignature          uint32 = 0x06054b50
	Zip64LocatorSignature uint32 = 0x07064b50
	Zip64EndSignature     uint32 = 0x06064b50
	CentralSignature      uint32 = 0x02014b50
	LocalSignature        uint32 = 0x04034b50
)

// Fixed record sizes, excluding variable-length trailing fields.
const (
	EndSize           = 22
	MaxCommentSize    = 0xFFFF
	Zip64LocatorSize  = 20
	Zip64EndSize      = 56
	CentralHeaderSize = 46
	LocalHeaderSize   = 30
)

// Compression methods understood by the readers in this module.
const (
	MethodStored   uint16 = 0
	MethodDeflated uint16 = 8
)

const (
	zip64ExtraID = 0x0001
	max16        = 0xFFFF
	max32        = 0xFFFFFFFF
)

// ErrFormat is returned when bytes do not form the expected record.
var ErrFormat = errors.New("zipfmt: malformed record")

// CentralHeader is a decoded central directory file header.
//
// Sizes and the local header offset are widened to 64 bits; when the header
// carries a zip64 extended information field the widened values come from it.
type CentralHeader struct {
	VersionMadeBy     uint16
	VersionNeeded     uint16
	Flags             uint16
	Method            uint16
	ModTime           uint16
	ModDate           uint16
	CRC32             uint32
	CompressedSize    uint64
	UncompressedSize  uint64
	NameLength        uint16
	ExtraLength       uint16
	CommentLength     uint16
	DiskStart         uint16
	InternalAttrs     uint16
	ExternalAttrs     uint32
	LocalHeaderOffset uint64
}

// ParseCentralHeader decodes the fixed part of a central directory header.
// b must hold at least CentralHeaderSize bytes.
func ParseCentralHeader(b []byte) (CentralHeader, error) {
	if len(b) < CentralHeaderSize {
		return CentralHeader{}, fmt.Errorf("%w: central header truncated", ErrFormat)
	}
	if sig := binary.LittleEndian.Uint32(b); sig != CentralSignature {
		return CentralHeader{}, fmt.Errorf("%w: bad central header signature 0x%08x", ErrFormat, sig)
	}
	le := binary.LittleEndian
	return CentralHeader{
		VersionMadeBy:     le.Uint16(b[4:]),
		VersionNeeded:     le.Uint16(b[6:]),
		Flags:             le.Uint16(b[8:]),
		Method:            le.Uint16(b[10:]),
		ModTime:           le.Uint16(b[12:]),
		ModDate:           le.Uint16(b[14:]),
		CRC32:             le.Uint32(b[16:]),
		CompressedSize:    uint64(le.Uint32(b[20:])),
		UncompressedSize:  uint64(le.Uint32(b[24:])),
		NameLength:        le.Uint16(b[28:]),
		ExtraLength:       le.Uint16(b[30:]),
		CommentLength:     le.Uint16(b[32:]),
		DiskStart:         le.Uint16(b[34:]),
		InternalAttrs:     le.Uint16(b[36:]),
		ExternalAttrs:     le.Uint32(b[38:]),
		LocalHeaderOffset: uint64(le.Uint32(b[42:])),
	}, nil
}

// Size returns the full size of the header including name, extra and comment.
func (h CentralHeader) Size() int64 {
	return CentralHeaderSize + int64(h.NameLength) + int64(h.ExtraLength) + int64(h.CommentLength)
}

// ApplyZip64 replaces saturated 32-bit fields with the values stored in a zip64
// extended information extra field, if extra contains one. Fields appear in the
// extra block only when the corresponding header field is saturated.
func (h *CentralHeader) ApplyZip64(extra []byte) error {
	needUncompressed := h.UncompressedSize == max32
	needCompressed := h.CompressedSize == max32
	needOffset := h.LocalHeaderOffset == max32
	if !needUncompressed && !needCompressed && !needOffset {
		return nil
	}
	for len(extra) >= 4 {
		id := binary.LittleEndian.Uint16(extra)
		size := int(binary.LittleEndian.Uint16(extra[2:]))
		extra = extra[4:]
		if size > len(extra) {
			return fmt.Errorf("%w: extra field overruns header", ErrFormat)
		}
		field := extra[:size]
		extra = extra[size:]
		if id != zip64ExtraID {
			continue
		}
		read := func(dst *uint64) error {
			if len(field) < 8 {
				return fmt.Errorf("%w: zip64 extra field truncated", ErrFormat)
			}
			*dst = binary.LittleEndian.Uint64(field)
			field = field[8:]
			return nil
		}
		if needUncompressed {
			if err := read(&h.UncompressedSize); err != nil {
				return err
			}
		}
		if needCompressed {
			if err := read(&h.CompressedSize); err != nil {
				return err
			}
		}
		if needOffset {
			if err := read(&h.LocalHeaderOffset); err != nil {
				return err
			}
		}
		return nil
	}
	return fmt.Errorf("%w: saturated header fields without zip64 extra field", ErrFormat)
}

// Modified converts the DOS date and time fields to a time.Time in UTC.
func (h CentralHeader) Modified() time.Time {
	return DOSTime(h.ModDate, h.ModTime)
}

// LocalHeader is a decoded local file header.
type LocalHeader struct {
	VersionNeeded    uint16
	Flags            uint16
	Method           uint16
	ModTime          uint16
	ModDate          uint16
	CRC32            uint32
	CompressedSize   uint32
	UncompressedSize uint32
	NameLength       uint16
	ExtraLength      uint16
}

// ParseLocalHeader decodes the fixed part of a local file header.
// b must hold at least LocalHeaderSize bytes.
func ParseLocalHeader(b []byte) (LocalHeader, error) {
	if len(b) < LocalHeaderSize {
		return LocalHeader{}, fmt.Errorf("%w: local header truncated", ErrFormat)
	}
	if sig := binary.LittleEndian.Uint32(b); sig != LocalSignature {
		return LocalHeader{}, fmt.Errorf("%w: bad local header signature 0x%08x", ErrFormat, sig)
	}
	le := binary.LittleEndian
	return LocalHeader{
		VersionNeeded:    le.Uint16(b[4:]),
		Flags:            le.Uint16(b[6:]),
		Method:           le.Uint16(b[8:]),
		ModTime:          le.Uint16(b[10:]),
		ModDate:          le.Uint16(b[12:]),
		CRC32:            le.Uint32(b[14:]),
		CompressedSize:   le.Uint32(b[18:]),
		UncompressedSize: le.Uint32(b[22:]),
		NameLength:       le.Uint16(b[26:]),
		ExtraLength:      le.Uint16(b[28:]),
	}, nil
}

// Size returns the full size of the header including name and extra.
func (h LocalHeader) Size() int64 {
	return LocalHeaderSize + int64(h.NameLength) + int64(h.ExtraLength)
}

// DOSTime converts MS-DOS date and time values to UTC.
func DOSTime(dosDate, dosTime uint16) time.Time {
	return time.Date(
		int(dosDate>>9)+1980,
		time.Month(dosDate>>5&0xf),
		int(dosDate&0x1f),
		int(dosTime>>11),
		int(dosTime>>5&0x3f),
		int(dosTime&0x1f)*2,
		0,
		time.UTC,
	)
}

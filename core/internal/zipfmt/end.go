package zipfmt

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// ErrEndNotFound is returned when no end of central directory record exists
// within the searchable tail of the data.
var ErrEndNotFound = errors.New("zipfmt: end of central directory record not found")

// End describes the central directory of an archive as declared by its end
// records. When a zip64 record is present its values take precedence.
type End struct {
	// Pos is the offset of the end of central directory record.
	Pos int64

	// CommentLength is the length of the archive comment following the record.
	CommentLength uint16

	// Entries is the total number of central directory entries.
	Entries uint64

	// DirectorySize is the size in bytes of the central directory.
	DirectorySize uint64

	// DirectoryOffset is the declared offset of the central directory,
	// relative to the start of the archive proper.
	DirectoryOffset uint64

	// Zip64Size is the combined size of the zip64 record and locator, or zero.
	Zip64Size int64
}

// FindEnd scans backward from the end of r for the end of central directory
// record. Only the last EndSize+MaxCommentSize bytes are considered, which is
// the furthest a record can sit from the end while its comment still fits.
func FindEnd(r io.ReaderAt, size int64) (End, error) {
	if size < EndSize {
		return End{}, fmt.Errorf("%w: %d bytes is smaller than a zip", ErrEndNotFound, size)
	}
	tail := min(size, int64(EndSize+MaxCommentSize))
	buf := make([]byte, tail)
	if _, err := r.ReadAt(buf, size-tail); err != nil && !errors.Is(err, io.EOF) {
		return End{}, fmt.Errorf("read archive tail: %w", err)
	}

	for i := len(buf) - EndSize; i >= 0; i-- {
		if binary.LittleEndian.Uint32(buf[i:]) != EndSignature {
			continue
		}
		commentLen := binary.LittleEndian.Uint16(buf[i+20:])
		if i+EndSize+int(commentLen) > len(buf) {
			continue
		}
		le := binary.LittleEndian
		rec := buf[i:]
		return End{
			Pos:             size - tail + int64(i),
			CommentLength:   commentLen,
			Entries:         uint64(le.Uint16(rec[10:])),
			DirectorySize:   uint64(le.Uint32(rec[12:])),
			DirectoryOffset: uint64(le.Uint32(rec[16:])),
		}, nil
	}
	return End{}, ErrEndNotFound
}

// ReadZip64 looks for a zip64 end of central directory locator immediately
// preceding the plain record and, when found, replaces the declared values with
// those of the zip64 record. A missing locator is not an error.
func ReadZip64(r io.ReaderAt, end End) (End, error) {
	locatorPos := end.Pos - Zip64LocatorSize
	if locatorPos < 0 {
		return end, nil
	}
	var loc [Zip64LocatorSize]byte
	if _, err := r.ReadAt(loc[:], locatorPos); err != nil {
		return End{}, fmt.Errorf("read zip64 locator: %w", err)
	}
	if binary.LittleEndian.Uint32(loc[:]) != Zip64LocatorSignature {
		return end, nil
	}

	declared := binary.LittleEndian.Uint64(loc[8:])
	// The declared offset ignores any bytes prefixed to the archive. When it
	// does not point at a record, fall back to the minimal record that would
	// sit directly before the locator.
	candidates := []int64{-1, locatorPos - Zip64EndSize}
	if declared < uint64(locatorPos) {
		candidates[0] = int64(declared)
	}
	for _, pos := range candidates {
		if pos < 0 {
			continue
		}
		var rec [Zip64EndSize]byte
		if _, err := r.ReadAt(rec[:], pos); err != nil {
			return End{}, fmt.Errorf("read zip64 end record: %w", err)
		}
		le := binary.LittleEndian
		if le.Uint32(rec[:]) != Zip64EndSignature {
			continue
		}
		recordSize := int64(le.Uint64(rec[4:])) + 12
		if recordSize < Zip64EndSize || pos+recordSize != locatorPos {
			continue
		}
		end.Entries = le.Uint64(rec[32:])
		end.DirectorySize = le.Uint64(rec[40:])
		end.DirectoryOffset = le.Uint64(rec[48:])
		end.Zip64Size = recordSize + Zip64LocatorSize
		return end, nil
	}
	return End{}, fmt.Errorf("%w: zip64 locator without zip64 end record", ErrFormat)
}

// TrailerSize returns the size of the central directory plus every end record
// that follows it, including the archive comment.
func (e End) TrailerSize() int64 {
	return int64(e.DirectorySize) + e.Zip64Size + EndSize + int64(e.CommentLength) //nolint:gosec // bounded by caller checks
}

// StartOffset returns where the archive actually starts within data of the
// given size. Archives prefixed with other bytes (for example a launch
// script) declare offsets relative to the archive start, not the data start.
func (e End) StartOffset(size int64) (int64, error) {
	if e.DirectorySize > uint64(size) || e.DirectoryOffset > uint64(size) {
		return 0, fmt.Errorf("%w: central directory exceeds data", ErrFormat)
	}
	actual := size - e.TrailerSize()
	start := actual - int64(e.DirectoryOffset) //nolint:gosec // checked above
	if actual < 0 || start < 0 {
		return 0, fmt.Errorf("%w: central directory offset %d inconsistent with size %d", ErrFormat, e.DirectoryOffset, size)
	}
	return start, nil
}

// CommentPos returns the offset of the archive comment.
func (e End) CommentPos() int64 {
	return e.Pos + EndSize
}

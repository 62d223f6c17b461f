package zipfmt

import (
	"encoding/binary"
	"fmt"
)

// AppendLocalHeader appends a local file header for name to b. The extra
// field is always written empty.
func AppendLocalHeader(b []byte, h LocalHeader, name string) ([]byte, error) {
	if len(name) > max16 {
		return nil, fmt.Errorf("%w: name too long", ErrFormat)
	}
	le := binary.LittleEndian
	b = le.AppendUint32(b, LocalSignature)
	b = le.AppendUint16(b, h.VersionNeeded)
	b = le.AppendUint16(b, h.Flags)
	b = le.AppendUint16(b, h.Method)
	b = le.AppendUint16(b, h.ModTime)
	b = le.AppendUint16(b, h.ModDate)
	b = le.AppendUint32(b, h.CRC32)
	b = le.AppendUint32(b, h.CompressedSize)
	b = le.AppendUint32(b, h.UncompressedSize)
	b = le.AppendUint16(b, uint16(len(name))) //nolint:gosec // checked above
	b = le.AppendUint16(b, 0)
	return append(b, name...), nil
}

// AppendCentralHeader appends a central directory header for name to b,
// without an extra field. Sizes and offset must fit in 32 bits.
func AppendCentralHeader(b []byte, h CentralHeader, name, comment string) ([]byte, error) {
	if len(name) > max16 || len(comment) > max16 {
		return nil, fmt.Errorf("%w: name or comment too long", ErrFormat)
	}
	if h.CompressedSize >= max32 || h.UncompressedSize >= max32 || h.LocalHeaderOffset >= max32 {
		return nil, fmt.Errorf("%w: entry %q needs zip64", ErrFormat, name)
	}
	le := binary.LittleEndian
	b = le.AppendUint32(b, CentralSignature)
	b = le.AppendUint16(b, h.VersionMadeBy)
	b = le.AppendUint16(b, h.VersionNeeded)
	b = le.AppendUint16(b, h.Flags)
	b = le.AppendUint16(b, h.Method)
	b = le.AppendUint16(b, h.ModTime)
	b = le.AppendUint16(b, h.ModDate)
	b = le.AppendUint32(b, h.CRC32)
	b = le.AppendUint32(b, uint32(h.CompressedSize))   //nolint:gosec // checked above
	b = le.AppendUint32(b, uint32(h.UncompressedSize)) //nolint:gosec // checked above
	b = le.AppendUint16(b, uint16(len(name)))          //nolint:gosec // checked above
	b = le.AppendUint16(b, 0)                          // extra
	b = le.AppendUint16(b, uint16(len(comment)))       //nolint:gosec // checked above
	b = le.AppendUint16(b, 0)                          // disk
	b = le.AppendUint16(b, h.InternalAttrs)
	b = le.AppendUint32(b, h.ExternalAttrs)
	b = le.AppendUint32(b, uint32(h.LocalHeaderOffset)) //nolint:gosec // checked above
	b = append(b, name...)
	return append(b, comment...), nil
}

// AppendEnd appends a plain end of central directory record to b.
func AppendEnd(b []byte, entries, directorySize, directoryOffset uint64, comment string) ([]byte, error) {
	if entries > max16 || directorySize >= max32 || directoryOffset >= max32 || len(comment) > MaxCommentSize {
		return nil, fmt.Errorf("%w: archive needs zip64", ErrFormat)
	}
	le := binary.LittleEndian
	b = le.AppendUint32(b, EndSignature)
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, 0)
	b = le.AppendUint16(b, uint16(entries))         //nolint:gosec // checked above
	b = le.AppendUint16(b, uint16(entries))         //nolint:gosec // checked above
	b = le.AppendUint32(b, uint32(directorySize))   //nolint:gosec // checked above
	b = le.AppendUint32(b, uint32(directoryOffset)) //nolint:gosec // checked above
	b = le.AppendUint16(b, uint16(len(comment)))    //nolint:gosec // checked above
	return append(b, comment...), nil
}

package nested

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net/textproto"
	"strings"

	"github.com/meigma/nested/core/internal/sizing"
)

// maxManifestSize bounds how much of a manifest entry is read.
const maxManifestSize = 8 << 20

// Attributes holds manifest attributes. Keys are case-insensitive.
type Attributes map[string]string

// Get returns the value of the named attribute, or "".
func (a Attributes) Get(name string) string {
	return a[textproto.CanonicalMIMEHeaderKey(name)]
}

// Manifest is a parsed META-INF/MANIFEST.MF: the main attributes and one
// attribute section per named entry.
type Manifest struct {
	Main    Attributes
	Entries map[string]Attributes
}

// MultiRelease reports whether the main section declares Multi-Release: true.
func (m *Manifest) MultiRelease() bool {
	return m != nil && strings.EqualFold(strings.TrimSpace(m.Main.Get("Multi-Release")), "true")
}

// Attributes returns the attributes of the section for the named entry, or nil.
func (m *Manifest) Attributes(name string) Attributes {
	if m == nil {
		return nil
	}
	return m.Entries[name]
}

// ParseManifest parses a manifest. Lines may end in CRLF, LF or CR; a line
// starting with a single space continues the previous value. Sections are
// separated by blank lines and every section after the main one is keyed by
// its Name attribute.
func ParseManifest(r io.Reader) (*Manifest, error) {
	data, err := sizing.ReadAllWithLimit(r, maxManifestSize, ErrSizeOverflow)
	if err != nil {
		return nil, err
	}

	m := &Manifest{Main: Attributes{}, Entries: map[string]Attributes{}}
	current := m.Main
	main := true
	lastKey := ""
	flush := func() {
		if !main {
			if name := current.Get("Name"); name != "" {
				m.Entries[name] = current
			}
		}
	}

	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 0, 4096), maxManifestSize)
	sc.Split(scanManifestLines)
	line := 0
	for sc.Scan() {
		line++
		text := sc.Text()
		switch {
		case text == "":
			if len(current) > 0 || main {
				flush()
				current = Attributes{}
				main = false
			}
			lastKey = ""
		case text[0] == ' ':
			if lastKey == "" {
				return nil, fmt.Errorf("%w: line %d continues nothing", ErrMalformedManifest, line)
			}
			current[lastKey] += text[1:]
		default:
			key, value, ok := strings.Cut(text, ":")
			if !ok || key == "" {
				return nil, fmt.Errorf("%w: line %d is not an attribute", ErrMalformedManifest, line)
			}
			lastKey = textproto.CanonicalMIMEHeaderKey(key)
			current[lastKey] = strings.TrimPrefix(value, " ")
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedManifest, err)
	}
	flush()
	return m, nil
}

// scanManifestLines splits on CRLF, LF or a lone CR.
func scanManifestLines(data []byte, atEOF bool) (int, []byte, error) {
	if atEOF && len(data) == 0 {
		return 0, nil, nil
	}
	if i := bytes.IndexAny(data, "\r\n"); i >= 0 {
		if data[i] == '\n' {
			return i + 1, data[:i], nil
		}
		if i+1 < len(data) {
			if data[i+1] == '\n' {
				return i + 2, data[:i], nil
			}
			return i + 1, data[:i], nil
		}
		if atEOF {
			return i + 1, data[:i], nil
		}
		return 0, nil, nil
	}
	if atEOF {
		return len(data), data, nil
	}
	return 0, nil, nil
}

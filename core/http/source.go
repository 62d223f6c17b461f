// Package http reads remote containers with HTTP range requests.
//
// A Source satisfies the container byte source contract (io.ReaderAt plus
// Size and SourceID), so a jar served by any range-capable HTTP server can be
// indexed and read without downloading it first. Only the end records, the
// central directory and the entries actually opened are transferred.
package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	nethttp "net/http"
)

// ErrRangeUnsupported is returned when the server ignores range requests.
var ErrRangeUnsupported = errors.New("http: range requests not supported")

// validators identify one version of the remote content.
type validators struct {
	etag         string
	lastModified string
}

func (v validators) empty() bool { return v.etag == "" && v.lastModified == "" }

// merge fills fields missing from v with those of o.
func (v validators) merge(o validators) validators {
	if v.etag == "" {
		v.etag = o.etag
	}
	if v.lastModified == "" {
		v.lastModified = o.lastModified
	}
	return v
}

func validatorsOf(h nethttp.Header) validators {
	return validators{etag: h.Get("ETag"), lastModified: h.Get("Last-Modified")}
}

// Source is a remote container read with HTTP range requests.
type Source struct {
	url         string
	ctx         context.Context
	client      *nethttp.Client
	headers     nethttp.Header
	logger      *slog.Logger
	conditional bool

	size     int64
	version  validators
	sourceID string
}

// Option configures a Source.
type Option func(*Source)

// WithClient sets the HTTP client used for requests.
func WithClient(client *nethttp.Client) Option {
	return func(s *Source) { s.client = client }
}

// WithContext binds every request to ctx. ReadAt has no context parameter,
// so cancelling ctx is how reads are aborted.
func WithContext(ctx context.Context) Option {
	return func(s *Source) { s.ctx = ctx }
}

// WithHeaders adds headers to every request, replacing earlier ones.
func WithHeaders(headers nethttp.Header) Option {
	return func(s *Source) {
		if headers != nil {
			s.headers = headers.Clone()
		}
	}
}

// WithHeader sets one header on every request.
func WithHeader(key, value string) Option {
	return func(s *Source) {
		if s.headers == nil {
			s.headers = nethttp.Header{}
		}
		s.headers.Set(key, value)
	}
}

// WithSourceID overrides the identifier block caches key the source by.
func WithSourceID(id string) Option {
	return func(s *Source) { s.sourceID = id }
}

// WithConditionalHeaders sends If-Match and If-Unmodified-Since with range
// reads, so a container replaced on the server mid-read fails instead of
// mixing versions. A read the server answers with 412 is retried once
// without them, since some servers reject conditional ranges outright.
func WithConditionalHeaders() Option {
	return func(s *Source) { s.conditional = true }
}

// WithLogger sets the logger for request diagnostics.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Source) { s.logger = logger }
}

// NewSource probes url for its size and range support and returns a Source
// reading from it.
func NewSource(url string, opts ...Option) (*Source, error) {
	s := &Source{url: url}
	for _, opt := range opts {
		opt(s)
	}
	if s.client == nil {
		s.client = nethttp.DefaultClient
	}
	if s.ctx == nil {
		s.ctx = context.Background()
	}
	if s.logger == nil {
		s.logger = slog.New(slog.DiscardHandler)
	}
	if err := s.probe(); err != nil {
		return nil, err
	}
	if s.sourceID == "" {
		s.sourceID = s.defaultSourceID()
	}
	s.logger.Debug("opened http container", "url", s.url, "size", s.size, "source_id", s.sourceID)
	return s, nil
}

// Size returns the total size of the remote content.
func (s *Source) Size() int64 { return s.size }

// SourceID returns a stable identifier for the remote content.
func (s *Source) SourceID() string { return s.sourceID }

// URL returns the URL the source reads from.
func (s *Source) URL() string { return s.url }

// Close releases idle connections held by the client.
func (s *Source) Close() error {
	s.client.CloseIdleConnections()
	return nil
}

// ReadAt implements [io.ReaderAt] with one range request per call.
func (s *Source) ReadAt(p []byte, off int64) (int, error) {
	if off < 0 {
		return 0, fmt.Errorf("read at %d: negative offset", off)
	}
	if len(p) == 0 {
		return 0, nil
	}
	if off >= s.size {
		return 0, io.EOF
	}
	want := min(int64(len(p)), s.size-off)
	last := off + want - 1

	resp, err := s.get(off, last, s.conditional && !s.version.empty())
	if err != nil {
		return 0, err
	}
	if resp.StatusCode == nethttp.StatusPreconditionFailed && s.conditional && !s.version.empty() {
		discard(resp)
		s.logger.Debug("conditional range rejected, retrying without validators", "url", s.url, "offset", off)
		if resp, err = s.get(off, last, false); err != nil {
			return 0, err
		}
	}
	defer discard(resp)

	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusRequestedRangeNotSatisfiable:
		return 0, io.EOF
	case nethttp.StatusOK:
		return 0, ErrRangeUnsupported
	default:
		return 0, s.statusError("range request", resp)
	}

	n, err := io.ReadFull(resp.Body, p[:want])
	if err != nil {
		return n, fmt.Errorf("read range %d-%d of %s: %w", off, last, s.url, err)
	}
	if want < int64(len(p)) {
		return n, io.EOF
	}
	return n, nil
}

func (s *Source) defaultSourceID() string {
	switch {
	case s.version.etag != "":
		return fmt.Sprintf("url:%s|etag:%s", s.url, s.version.etag)
	case s.version.lastModified != "":
		return fmt.Sprintf("url:%s|mod:%s|size:%d", s.url, s.version.lastModified, s.size)
	default:
		return fmt.Sprintf("url:%s|size:%d", s.url, s.size)
	}
}

// probe learns the size and validators of the content. HEAD answers are
// advisory; the one-byte range probe is authoritative and must agree.
func (s *Source) probe() error {
	headSize := int64(-1)
	var head validators
	if req, err := s.request(nethttp.MethodHead, false); err == nil {
		if resp, err := s.client.Do(req); err == nil {
			if resp.StatusCode == nethttp.StatusOK {
				headSize = resp.ContentLength
				head = validatorsOf(resp.Header)
			}
			discard(resp)
		}
	}

	resp, err := s.get(0, 0, false)
	if err != nil {
		return err
	}
	defer discard(resp)
	switch resp.StatusCode {
	case nethttp.StatusPartialContent:
	case nethttp.StatusOK:
		return ErrRangeUnsupported
	default:
		return s.statusError("range probe", resp)
	}
	size, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		return err
	}
	if headSize > 0 && headSize != size {
		return fmt.Errorf("content size mismatch: head=%d range=%d", headSize, size)
	}
	s.size = size
	s.version = head.merge(validatorsOf(resp.Header))
	return nil
}

func (s *Source) request(method string, conditional bool) (*nethttp.Request, error) {
	req, err := nethttp.NewRequestWithContext(s.ctx, method, s.url, nethttp.NoBody)
	if err != nil {
		return nil, err
	}
	for key, values := range s.headers {
		for _, v := range values {
			req.Header.Add(key, v)
		}
	}
	setDefault(req.Header, "Accept-Encoding", "identity")
	if conditional {
		setDefault(req.Header, "If-Match", s.version.etag)
		setDefault(req.Header, "If-Unmodified-Since", s.version.lastModified)
	}
	return req, nil
}

// get requests bytes first through last inclusive.
func (s *Source) get(first, last int64, conditional bool) (*nethttp.Response, error) {
	req, err := s.request(nethttp.MethodGet, conditional)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", first, last))
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, s.transportError(err)
	}
	return resp, nil
}

// setDefault sets key unless the caller already supplied it or value is empty.
func setDefault(h nethttp.Header, key, value string) {
	if value != "" && h.Get(key) == "" {
		h.Set(key, value)
	}
}

// discard drains and closes a response body so the connection can be reused.
func discard(resp *nethttp.Response) {
	_, _ = io.Copy(io.Discard, resp.Body) //nolint:errcheck // best effort
	_ = resp.Body.Close()
}

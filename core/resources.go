package nested

import (
	"io"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"weak"

	"github.com/meigma/nested/core/internal/inflate"
)

// InflaterCacheLimit is the number of idle inflaters a reader keeps for reuse.
const InflaterCacheLimit = 20

// resources is the state a reader must release: the container, pooled
// inflaters and the streams handed out to callers. Everything is guarded by
// mu. Streams reference resources rather than the Reader so the cleanup
// registered on the Reader can still run while streams are open.
//
// Lock order (all under mu): inflaters, then streams, then the container.
type resources struct {
	mu        sync.Mutex
	closing   atomic.Bool
	released  bool
	container *Container
	inflaters *inflate.FreeList
	streams   map[weak.Pointer[entryStream]]struct{}
	logger    *slog.Logger
}

func newResources(c *Container, logger *slog.Logger) *resources {
	return &resources{
		container: c,
		inflaters: inflate.NewFreeList(InflaterCacheLimit),
		streams:   make(map[weak.Pointer[entryStream]]struct{}),
		logger:    logger,
	}
}

// checkOpen fails once teardown has started.
func (r *resources) checkOpen() error {
	if r.closing.Load() {
		return ErrUseAfterClose
	}
	return nil
}

// acquireInflaterLocked returns a pooled inflater reset onto src, or a new one.
func (r *resources) acquireInflaterLocked(src io.Reader) (*inflate.Inflater, error) {
	if r.inflaters != nil {
		if inf := r.inflaters.Pop(); inf != nil {
			if err := inf.Reset(src); err != nil {
				return nil, err
			}
			return inf, nil
		}
	}
	return inflate.New(src), nil
}

// releaseInflaterLocked pools inf when the pool is live and has room and
// ends it otherwise.
func (r *resources) releaseInflaterLocked(inf *inflate.Inflater) error {
	if r.inflaters != nil && r.inflaters.Len() < InflaterCacheLimit {
		if err := inf.Reset(eofReader{}); err == nil && r.inflaters.Push(inf) {
			r.logger.Debug("pooled inflater", "idle", r.inflaters.Len())
			return nil
		}
	}
	return inf.End()
}

// trackLocked registers s for teardown. The set holds weak references; a
// stream dropped without Close is forgotten when it is collected.
func (r *resources) trackLocked(s *entryStream) {
	s.ref = weak.Make(s)
	if r.streams != nil {
		r.streams[s.ref] = struct{}{}
		runtime.AddCleanup(s, r.forget, s.ref)
	}
}

func (r *resources) forget(ref weak.Pointer[entryStream]) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.streams, ref)
}

func (r *resources) untrackLocked(s *entryStream) {
	delete(r.streams, s.ref)
}

// releaseAll tears everything down once: idle inflaters are ended and the
// list dropped, tracked streams are closed, then the container is closed.
// Every failure is collected. Later calls return nil.
func (r *resources) releaseAll() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.released {
		return nil
	}
	r.released = true

	var errs []error
	if r.inflaters != nil {
		idle := r.inflaters.Drain()
		r.inflaters = nil
		for _, inf := range idle {
			if err := inf.End(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	streams := r.streams
	r.streams = nil
	for ref := range streams {
		if s := ref.Value(); s != nil {
			if err := s.closeLocked(); err != nil {
				errs = append(errs, err)
			}
		}
	}

	if r.container != nil {
		if err := r.container.Close(); err != nil {
			errs = append(errs, err)
		}
	}

	r.logger.Debug("released reader resources", "streams", len(streams), "errors", len(errs))
	if len(errs) > 0 {
		return &AggregateCloseError{Errs: errs}
	}
	return nil
}

// eofReader parks pooled inflaters on an empty stream.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) {
	return 0, io.EOF
}

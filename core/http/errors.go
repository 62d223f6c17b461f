package http //nolint:revive // intentional naming for domain clarity

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	nethttp "net/http"
	"strconv"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"
)

// statusError classifies an unexpected response. Missing content wraps
// fs.ErrNotExist and refused access wraps fs.ErrPermission; throttling and
// server errors carry retryable codes.
func (s *Source) statusError(op string, resp *nethttp.Response) error {
	ctx := map[string]interface{}{"url": s.url, "status": resp.StatusCode}
	msg := fmt.Sprintf("%s failed: %s", op, resp.Status)

	var cause error
	code := platformerrors.CodeNetwork
	switch status := resp.StatusCode; {
	case status == nethttp.StatusNotFound, status == nethttp.StatusGone:
		code, cause = platformerrors.CodeNotFound, fs.ErrNotExist
	case status == nethttp.StatusUnauthorized:
		code, cause = platformerrors.CodeUnauthorized, fs.ErrPermission
	case status == nethttp.StatusForbidden:
		code, cause = platformerrors.CodeForbidden, fs.ErrPermission
	case status == nethttp.StatusTooManyRequests:
		code = platformerrors.CodeRateLimit
	case status >= nethttp.StatusInternalServerError:
		code = platformerrors.CodeUnavailable
	}
	if cause != nil {
		return platformerrors.WrapWithContext(cause, code, msg, ctx)
	}
	return platformerrors.WithContextMap(platformerrors.New(code, msg), ctx)
}

func (s *Source) transportError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	return platformerrors.WrapWithContext(err, platformerrors.CodeNetwork, "request "+s.url, map[string]interface{}{"url": s.url})
}

// parseContentRange returns the complete length from a "bytes a-b/n"
// Content-Range value.
func parseContentRange(value string) (int64, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(value), "bytes ")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	_, total, ok := strings.Cut(rest, "/")
	if !ok {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	size, err := strconv.ParseInt(total, 10, 64)
	if err != nil || size < 0 {
		return 0, fmt.Errorf("invalid Content-Range %q", value)
	}
	return size, nil
}

// Package resumer wraps pkg/transport to transparently resume a partial GET
// using Range requests with capped exponential backoff. See SPEC_FULL.md
// §4.C.
//
// The async on_header/on_body callback pair from the source design is
// rendered as a single io.ReadCloser: the caller sees one logical response
// body no matter how many HTTP transactions underlie it, which is the
// natural Go idiom for "retry transparently, surface one stream" (see
// SPEC_FULL.md §4 Open Question 4).
package resumer

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/mendersoftware/mender-sub000/pkg/errkind"
	"github.com/mendersoftware/mender-sub000/pkg/metrics"
)

// Doer is the subset of pkg/transport.Transport the downloader needs.
type Doer interface {
	Do(ctx context.Context, req *http.Request) (*http.Response, error)
}

// Backoff configures the resumer's retry schedule.
type Backoff struct {
	Floor      time.Duration
	Cap        time.Duration
	MaxRetries int
}

// DefaultBackoff matches the documented defaults for the resumable
// downloader's retry behavior.
var DefaultBackoff = Backoff{
	Floor:      time.Second,
	Cap:        time.Minute,
	MaxRetries: 10,
}

// Downloader issues resumable GET requests over a transport.
type Downloader struct {
	transport Doer
	backoff   Backoff
}

// New builds a Downloader over transport with the given backoff schedule.
func New(transport Doer, backoff Backoff) *Downloader {
	return &Downloader{transport: transport, backoff: backoff}
}

// Get issues req and returns a response whose Body transparently resumes on
// disconnect. Responses other than 200 (204, 301, etc.) are forwarded
// unchanged, without resume support, as
// required by SPEC_FULL.md §4.C point 1.
func (d *Downloader) Get(ctx context.Context, req *http.Request) (*http.Response, error) {
	resp, err := d.transport.Do(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return resp, nil
	}

	rb := &resumingBody{
		ctx:           ctx,
		downloader:    d,
		req:           req,
		body:          resp.Body,
		contentLength: resp.ContentLength,
		resumable:     resp.Header.Get("Accept-Ranges") == "bytes" || resp.ContentLength >= 0,
	}
	resp.Body = rb
	return resp, nil
}

type resumingBody struct {
	ctx           context.Context
	downloader    *Downloader
	req           *http.Request
	body          io.ReadCloser
	offset        int64
	contentLength int64
	resumable     bool
	retries       int
	closed        bool
}

func (r *resumingBody) Read(p []byte) (int, error) {
	for {
		n, err := r.body.Read(p)
		r.offset += int64(n)
		metrics.DownloadBytesTotal.Add(float64(n))

		if err == nil {
			return n, nil
		}
		if err == io.EOF {
			return n, io.EOF
		}
		if r.ctx.Err() != nil {
			return n, fmt.Errorf("%w: %v", errkind.ErrCancelled, r.ctx.Err())
		}
		if r.contentLength >= 0 && r.offset >= r.contentLength {
			// Server delivered everything despite a non-EOF error on the
			// final read (e.g. a connection reset right at completion).
			return n, io.EOF
		}

		resumeErr := r.resume()
		if resumeErr != nil {
			if n > 0 {
				// Surface what we have; the next Read call reports the error.
				r.body = errReader{resumeErr}
				return n, nil
			}
			return 0, resumeErr
		}
		if n > 0 {
			return n, nil
		}
		// n == 0: loop and read from the freshly resumed body.
	}
}

func (r *resumingBody) Close() error {
	if r.closed {
		return nil
	}
	r.closed = true
	return r.body.Close()
}

// resume re-issues the request with a Range header, backing off between
// attempts, until it either succeeds or exhausts the retry budget.
func (r *resumingBody) resume() error {
	if !r.resumable {
		return fmt.Errorf("%w: download disconnected and server did not advertise range support", errkind.ErrIO)
	}

	r.body.Close()

	delay := r.downloader.backoff.Floor
	for {
		if r.retries >= r.downloader.backoff.MaxRetries {
			return fmt.Errorf("%w: exceeded %d retries resuming download", errkind.ErrIO, r.downloader.backoff.MaxRetries)
		}
		r.retries++

		select {
		case <-time.After(delay):
		case <-r.ctx.Done():
			return fmt.Errorf("%w: %v", errkind.ErrCancelled, r.ctx.Err())
		}

		resp, err := r.attemptResume()
		if err == nil {
			r.body = resp.Body
			metrics.DownloadResumesTotal.Inc()
			return nil
		}
		if isPermanent(err) {
			return err
		}

		delay *= 2
		if delay > r.downloader.backoff.Cap {
			delay = r.downloader.backoff.Cap
		}
	}
}

func (r *resumingBody) attemptResume() (*http.Response, error) {
	req := r.req.Clone(r.ctx)
	end := r.contentLength - 1
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", r.offset, end))

	resp, err := r.downloader.transport.Do(r.ctx, req)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode != http.StatusPartialContent {
		resp.Body.Close()
		return nil, permanentErrorf("expected 206 Partial Content on resume, got %d", resp.StatusCode)
	}

	gotOffset, gotEnd, gotTotal, err := parseContentRange(resp.Header.Get("Content-Range"))
	if err != nil {
		resp.Body.Close()
		return nil, permanentErrorf("malformed Content-Range on resume: %v", err)
	}
	if gotOffset != r.offset {
		resp.Body.Close()
		return nil, permanentErrorf("Content-Range start %d does not match requested offset %d", gotOffset, r.offset)
	}
	if gotEnd != end {
		resp.Body.Close()
		return nil, permanentErrorf("Content-Range end %d does not match expected %d", gotEnd, end)
	}
	if gotTotal != "*" {
		total, convErr := strconv.ParseInt(gotTotal, 10, 64)
		if convErr != nil || total != r.contentLength {
			resp.Body.Close()
			return nil, permanentErrorf("Content-Range total %q does not match original content length %d", gotTotal, r.contentLength)
		}
	}

	return resp, nil
}

// parseContentRange parses "bytes <start>-<end>/<total>".
func parseContentRange(header string) (start, end int64, total string, err error) {
	const prefix = "bytes "
	if !strings.HasPrefix(header, prefix) {
		return 0, 0, "", fmt.Errorf("missing %q prefix", prefix)
	}
	rest := strings.TrimPrefix(header, prefix)
	slash := strings.IndexByte(rest, '/')
	if slash < 0 {
		return 0, 0, "", fmt.Errorf("missing '/' separator")
	}
	rangePart, totalPart := rest[:slash], rest[slash+1:]

	dash := strings.IndexByte(rangePart, '-')
	if dash < 0 {
		return 0, 0, "", fmt.Errorf("missing '-' separator, possibly multiple ranges")
	}
	start, err = strconv.ParseInt(rangePart[:dash], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("invalid range start: %w", err)
	}
	end, err = strconv.ParseInt(rangePart[dash+1:], 10, 64)
	if err != nil {
		return 0, 0, "", fmt.Errorf("invalid range end: %w", err)
	}
	if start < 0 || end < start {
		return 0, 0, "", fmt.Errorf("negative or inverted range")
	}
	return start, end, totalPart, nil
}

type permanentError struct{ msg string }

func (e permanentError) Error() string { return e.msg }

func permanentErrorf(format string, args ...interface{}) error {
	return permanentError{msg: fmt.Sprintf(format, args...)}
}

func isPermanent(err error) bool {
	_, ok := err.(permanentError)
	return ok
}

type errReader struct{ err error }

func (e errReader) Read(p []byte) (int, error) { return 0, e.err }
func (e errReader) Close() error               { return nil }

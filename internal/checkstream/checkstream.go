// Package checkstream is a pass-through byte stream that maintains a
// running MD5 digest, a byte counter, and an idle-activity clock,
// failing the read the moment an idle timeout or size bound is
// exceeded. Grounded in pkg/hash.Reader, generalized from a fixed-size
// verify-at-EOF reader to a streaming one with a live timeout
// (spec.md §4.3).
package checkstream

import (
	"encoding/base64"
	"errors"
	"io"
	"sync/atomic"
	"time"

	md5simd "github.com/minio/md5-simd"
)

var (
	ErrTimeout        = errors.New("checkstream: idle timeout exceeded")
	ErrLengthExceeded = errors.New("checkstream: maximum byte count exceeded")
)

var md5Server = md5simd.NewServer()

// Stream wraps src, computing a running MD5 and enforcing maxBytes and
// an idle timeout. It is safe to read concurrently with a call to
// IdleFor from a watchdog goroutine.
type Stream struct {
	src      io.Reader
	maxBytes int64
	hasher   md5simd.Hasher

	count        int64
	lastActivity atomic.Int64 // unix nanos
	done         atomic.Bool
	aborted      atomic.Bool
	abortCh      chan struct{}
	digest       []byte
}

// New wraps src. maxBytes <= 0 means unbounded.
func New(src io.Reader, maxBytes int64) *Stream {
	s := &Stream{
		src:      src,
		maxBytes: maxBytes,
		hasher:   md5Server.NewHash(),
		abortCh:  make(chan struct{}),
	}
	s.lastActivity.Store(time.Now().UnixNano())
	return s
}

type readResult struct {
	n   int
	err error
}

// Read races src.Read against abortCh so a Read already blocked
// inside src (e.g. on a stalled socket) still returns ErrTimeout
// promptly once abort fires, rather than leaving the watchdog's
// timeout as a number nobody acts on.
func (s *Stream) Read(p []byte) (int, error) {
	select {
	case <-s.abortCh:
		return 0, ErrTimeout
	default:
	}

	ch := make(chan readResult, 1)
	go func() {
		n, err := s.src.Read(p)
		ch <- readResult{n, err}
	}()

	var res readResult
	select {
	case <-s.abortCh:
		return 0, ErrTimeout
	case res = <-ch:
	}

	n, err := res.n, res.err
	if n > 0 {
		s.lastActivity.Store(time.Now().UnixNano())
		s.count += int64(n)
		if s.maxBytes > 0 && s.count > s.maxBytes {
			return n, ErrLengthExceeded
		}
		s.hasher.Write(p[:n])
	}
	if err == io.EOF {
		s.digest = s.hasher.Sum(nil)
		s.hasher.Close()
		s.done.Store(true)
	}
	return n, err
}

// abort fires the idle timeout: any Read blocked in or entering src's
// own Read returns ErrTimeout, and src is closed best-effort so the
// underlying connection/pipe is released instead of leaking.
func (s *Stream) abort() {
	if !s.aborted.CompareAndSwap(false, true) {
		return
	}
	close(s.abortCh)
	if c, ok := s.src.(io.Closer); ok {
		_ = c.Close()
	}
}

// BytesRead returns the running byte count.
func (s *Stream) BytesRead() int64 { return s.count }

// IdleFor reports how long it has been since the last byte was
// observed.
func (s *Stream) IdleFor() time.Duration {
	last := time.Unix(0, s.lastActivity.Load())
	return time.Since(last)
}

// Done reports whether EOF has been observed.
func (s *Stream) Done() bool { return s.done.Load() }

// Digest returns the base64 MD5 of everything read so far. Calling it
// before Done is safe but the value is not final.
func (s *Stream) Digest() string {
	if s.done.Load() {
		return base64.StdEncoding.EncodeToString(s.digest)
	}
	sum := s.hasher.Sum(nil)
	return base64.StdEncoding.EncodeToString(sum)
}

// WatchIdle aborts s once no byte has been observed for timeout: any
// Read in progress or still to come returns ErrTimeout, and onTimeout
// runs so the caller can record the event. It returns a stop function
// the caller must invoke once the stream finishes normally, so the
// watchdog goroutine doesn't outlive it.
func WatchIdle(s *Stream, timeout time.Duration, onTimeout func()) (stop func()) {
	done := make(chan struct{})
	go func() {
		ticker := time.NewTicker(timeout / 4)
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				if s.Done() {
					return
				}
				if s.IdleFor() >= timeout {
					s.abort()
					onTimeout()
					return
				}
			}
		}
	}()
	return func() { close(done) }
}

package http11

import (
	"io"

	"github.com/shockwave-http/shockwave/pkg/shockwave"
)

// BodyReader is the uniform contract the framing selector hands back to
// the connection and the application. It satisfies io.Reader so existing
// call sites that treat a request body as a plain reader keep working.
type BodyReader interface {
	io.Reader

	// CopyTo streams the remaining body to dst, reporting consumption
	// after each write regardless of whether the write succeeded.
	CopyTo(dst io.Writer) (int64, error)

	// Drain discards the remaining body (and, for chunked bodies, the
	// trailer) so the connection may be safely reused.
	Drain() error

	// KeepAlive reports the framing selector's verdict on whether the
	// connection may serve another request after this body is consumed.
	KeepAlive() bool
}

// FrameControl is the callback surface a body reader uses to talk back to
// the connection: producing the interim 100-Continue response. Rejection
// is realized as a returned sentinel error rather than a non-local exit -
// idiomatic Go has no exceptions - but the contract is the same: once a
// BodyReader method returns one of the errors.go rejection sentinels, it
// keeps returning it, and the caller must treat the connection as done.
type FrameControl interface {
	// ProduceContinue writes the interim 100-Continue response if the
	// request asked for it via Expect and the final response has not
	// started yet. Safe to call more than once; only the first call
	// that actually needs to suspend should ever be made by a reader.
	ProduceContinue() error
}

// framedPeeker is the low-level operation every concrete body reader
// implements; Read/CopyTo/Drain are generic functions over it (the
// "shared operation table" spec.md calls for instead of deep inheritance).
type framedPeeker interface {
	// peek returns the next available payload range, or a nil/empty
	// slice at end of body. err is a rejection or transport fault.
	peek() ([]byte, error)

	// consumed reports that the caller took ownership of n bytes from
	// the slice most recently returned by peek, advancing the pipeline
	// and updating the mode-specific remaining-byte counters.
	consumed(n int)

	keepAlive() bool
}

// bodyCore is embedded by every concrete body reader. It owns the
// pipeline borrow and the continue_pending handshake with FrameControl.
type bodyCore struct {
	in              *pipelineInput
	ctrl            FrameControl
	continuePending bool
	ka              bool
	err             error // sticky: once set, every subsequent peek returns it
}

// peekRaw fetches whatever is already buffered, or blocks for at least
// one byte. If the call must block (nothing buffered yet) and this is
// the reader's first suspension, it fires the 100-Continue callback
// before blocking, per spec.md §4.5.
func (b *bodyCore) peekRaw() ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.in.Buffered() == 0 && b.continuePending {
		b.continuePending = false
		if err := b.ctrl.ProduceContinue(); err != nil {
			b.err = err
			return nil, err
		}
	}
	seg, err := b.in.Peek()
	if err != nil {
		b.err = err
	}
	return seg, err
}

// peekMin is peekRaw's counterpart for parse steps that need a guaranteed
// minimum lookahead (e.g. two bytes to recognize CR LF).
func (b *bodyCore) peekMin(n int) ([]byte, error) {
	if b.err != nil {
		return nil, b.err
	}
	if b.in.Buffered() < n && b.continuePending {
		b.continuePending = false
		if err := b.ctrl.ProduceContinue(); err != nil {
			b.err = err
			return nil, err
		}
	}
	return b.in.PeekMin(n)
}

// reject marks the reader permanently failed with reason and returns it.
// Per spec.md's rejection-is-terminal invariant, every later peek on this
// reader returns the same error.
func (b *bodyCore) reject(reason error) ([]byte, error) {
	b.err = reason
	shockwave.RecordBodyRejection(reason.Error())
	return nil, reason
}

func readBody(p framedPeeker, dst []byte) (int, error) {
	seg, err := p.peek()
	if err != nil {
		return 0, err
	}
	if len(seg) == 0 {
		// io.Reader contract: signal end of body with io.EOF rather than
		// a bare (0, nil), which callers like io.ReadAll would spin on.
		return 0, io.EOF
	}
	n := copy(dst, seg)
	p.consumed(n)
	return n, nil
}

func copyBody(p framedPeeker, dst io.Writer) (int64, error) {
	var total int64
	for {
		seg, err := p.peek()
		if err != nil {
			return total, err
		}
		if len(seg) == 0 {
			return total, nil
		}
		n, werr := dst.Write(seg)
		p.consumed(n)
		total += int64(n)
		if werr != nil {
			return total, werr
		}
	}
}

func drainBody(p framedPeeker) error {
	for {
		seg, err := p.peek()
		if err != nil {
			return err
		}
		if len(seg) == 0 {
			return nil
		}
		p.consumed(len(seg))
	}
}

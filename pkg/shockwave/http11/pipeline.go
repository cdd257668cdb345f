package http11

import (
	"bufio"
	"io"
)

// pipelineInput is the zero-copy segmented-buffer abstraction the body
// readers pull from. It wraps the connection's pooled *bufio.Reader: a
// borrow returned by Peek/PeekMin is a slice into bufio's own internal
// buffer and stays valid only until the next Advance.
//
// This mirrors bufio.Reader's own contract exactly, which is why the
// wrapper is thin - the hard invariants (no copy, borrow expires on next
// read) are already upheld by bufio, not reimplemented here.
type pipelineInput struct {
	br        *bufio.Reader
	completed bool

	// owned is true when br is a private bufio.Reader constructed just for
	// this request (because the parser had to splice unreadBuf ahead of
	// the connection's own reader) rather than the connection's single
	// lifetime *bufio.Reader. An owned reader can buffer-ahead past this
	// request's body into the next pipelined request; those bytes must be
	// reclaimed back into the parser's unreadBuf before this pipeline is
	// discarded, or they strand silently. A non-owned reader needs no such
	// handoff: it outlives this request and keeps its own buffer.
	owned bool
}

func newPipelineInput(br *bufio.Reader, owned bool) *pipelineInput {
	return &pipelineInput{br: br, owned: owned}
}

// takeUnread returns a copy of whatever is still buffered in an owned
// reader (nil for a non-owned one, since that buffer belongs to the
// connection and must stay put) and discards it from the reader so it
// cannot be peeked twice.
func (p *pipelineInput) takeUnread() []byte {
	if !p.owned {
		return nil
	}
	n := p.br.Buffered()
	if n == 0 {
		return nil
	}
	b, _ := p.br.Peek(n)
	out := make([]byte, n)
	copy(out, b)
	p.br.Discard(n)
	return out
}

// Buffered reports how many bytes are immediately available without a
// network read.
func (p *pipelineInput) Buffered() int {
	return p.br.Buffered()
}

// Completed reports whether the underlying stream has reported a clean
// EOF. Once true it stays true.
func (p *pipelineInput) Completed() bool {
	return p.completed
}

// Peek returns the next contiguous range of currently-available bytes,
// blocking for at least one byte if none are buffered yet. It returns a
// nil slice (with a nil error) once the stream has cleanly ended.
func (p *pipelineInput) Peek() ([]byte, error) {
	if p.completed {
		return nil, nil
	}
	if n := p.br.Buffered(); n > 0 {
		b, _ := p.br.Peek(n)
		return b, nil
	}
	if _, err := p.br.Peek(1); err != nil {
		if err == io.EOF {
			p.completed = true
			return nil, nil
		}
		return nil, err
	}
	n := p.br.Buffered()
	b, _ := p.br.Peek(n)
	return b, nil
}

// PeekMin blocks until at least n bytes are buffered, the stream ends, or
// an error occurs. It returns fewer than n bytes when the stream ended
// before n bytes arrived, and also, with bufio.ErrBufferFull, when n is
// larger than the reader's buffer; callers must treat a short result as
// "wait for more, or reject if Completed()".
func (p *pipelineInput) PeekMin(n int) ([]byte, error) {
	if p.completed {
		return nil, nil
	}
	b, err := p.br.Peek(n)
	if err == nil {
		return b, nil
	}
	if err == io.EOF || err == bufio.ErrBufferFull {
		if err == io.EOF {
			p.completed = true
		}
		avail := p.br.Buffered()
		if avail == 0 {
			return nil, nil
		}
		b2, _ := p.br.Peek(avail)
		return b2, err
	}
	return nil, err
}

// Advance releases n bytes from the front of the buffer, the single
// write path back into the pipeline.
func (p *pipelineInput) Advance(n int) {
	if n > 0 {
		p.br.Discard(n)
	}
}

package http11

import (
	"bufio"
	"io"
	"math"

	"github.com/shockwave-http/shockwave/pkg/shockwave"
)

// chunkState is the ordered sub-state of the chunked reader (spec.md §3).
// Transitions are strictly monotonic except Suffix -> Prefix, which reopens
// a new chunk.
type chunkState uint8

const (
	chunkPrefix chunkState = iota
	chunkExtension
	chunkData
	chunkSuffix
	chunkTrailer
	chunkTrailerHeaders
	chunkComplete
)

// chunkedBody implements Transfer-Encoding: chunked (RFC 7230 §4.1) as the
// seven-state driver loop described in spec.md §4.4. It borrows directly
// from the pipeline's bufio buffer for chunk-data delivery (peekData) and
// parses framing bytes (size line, extensions, CRLFs, trailers) by
// consuming them internally without ever surfacing them to the caller.
type chunkedBody struct {
	bodyCore
	req            *Request
	mode           chunkState
	chunkRemaining uint64
}

func newChunkedBody(req *Request, ctrl FrameControl, keepAlive bool) *chunkedBody {
	return &chunkedBody{
		bodyCore: bodyCore{
			in:              req.pipeline,
			ctrl:            ctrl,
			continuePending: true,
			ka:              keepAlive,
		},
		req:  req,
		mode: chunkPrefix,
	}
}

// peek drives the state machine forward exactly per the pseudocode in
// spec.md §4.4, returning either a non-empty data segment or an empty one
// at Complete.
func (r *chunkedBody) peek() ([]byte, error) {
	if r.err != nil {
		return nil, r.err
	}
	for r.mode < chunkTrailer {
		for r.mode == chunkPrefix {
			if err := r.parsePrefix(); err != nil {
				return nil, err
			}
		}
		for r.mode == chunkExtension {
			if err := r.parseExtension(); err != nil {
				return nil, err
			}
		}
		for r.mode == chunkData {
			seg, err := r.peekData()
			if err != nil {
				return nil, err
			}
			if len(seg) > 0 {
				return seg, nil
			}
		}
		for r.mode == chunkSuffix {
			if err := r.parseSuffix(); err != nil {
				return nil, err
			}
		}
	}
	for r.mode == chunkTrailer {
		if err := r.parseTrailer(); err != nil {
			return nil, err
		}
	}
	if r.mode == chunkTrailerHeaders {
		if err := r.parseTrailerHeaders(); err != nil {
			return nil, err
		}
	}
	return nil, nil
}

// consumed is only ever invoked by the generic Read/CopyTo/Drain helpers
// for bytes returned from the Data state; all other framing bytes are
// advanced internally by the parse* methods.
func (r *chunkedBody) consumed(n int) {
	r.chunkRemaining -= uint64(n)
	r.in.Advance(n)
}

func (r *chunkedBody) keepAlive() bool { return r.ka }

func (r *chunkedBody) Read(p []byte) (int, error)        { return readBody(r, p) }
func (r *chunkedBody) CopyTo(w io.Writer) (int64, error) { return copyBody(r, w) }
func (r *chunkedBody) Drain() error                      { return drainBody(r) }
func (r *chunkedBody) KeepAlive() bool                   { return r.keepAlive() }

// parsePrefix parses the chunk-size line: 1*HEXDIG [ ";" chunk-ext ] CRLF.
// At least two bytes of lookahead past the last hex digit are required to
// distinguish a continuing hex digit from ';' or CR, so this grows its
// lookahead window one byte at a time until a decision can be made.
func (r *chunkedBody) parsePrefix() error {
	need := 2
	for {
		seg, err := r.peekMin(need)
		if err != nil {
			return r.rejectOrPropagate(err, ErrChunkedRequestIncomplete)
		}
		if len(seg) == 0 && r.in.Completed() {
			return r.reject2(ErrChunkedRequestIncomplete)
		}

		var size uint64
		i := 0
		for ; i < len(seg); i++ {
			b := seg[i]
			if b == ';' || b == '\r' {
				break
			}
			v, ok := hexDigit(b)
			if !ok {
				return r.reject2(ErrBadChunkSizeData)
			}
			if size > (math.MaxUint32-uint64(v))/16 {
				return r.reject2(ErrBadChunkSizeData)
			}
			size = size*16 + uint64(v)
		}

		if i == len(seg) {
			// Ran off the end of what we scanned without a decision;
			// need at least one more byte.
			if r.in.Completed() {
				return r.reject2(ErrChunkedRequestIncomplete)
			}
			need = len(seg) + 1
			continue
		}

		if i == 0 {
			// No hex digits before ';' or CR - malformed size line.
			return r.reject2(ErrBadChunkSizeData)
		}

		if seg[i] == ';' {
			r.in.Advance(i + 1)
			r.chunkRemaining = size
			r.mode = chunkExtension
			return nil
		}

		// seg[i] == '\r'; need the following byte to confirm LF.
		if i+1 >= len(seg) {
			if r.in.Completed() {
				return r.reject2(ErrChunkedRequestIncomplete)
			}
			need = i + 2
			continue
		}
		if seg[i+1] != '\n' {
			return r.reject2(ErrBadChunkSizeData)
		}
		r.in.Advance(i + 2)
		r.chunkRemaining = size
		if size > 0 {
			r.mode = chunkData
		} else {
			r.mode = chunkTrailer
		}
		return nil
	}
}

// parseExtension skips chunk-extension text up to the terminating CRLF.
// A bare CR not followed by LF is treated as ordinary extension text and
// scanning continues (spec.md §9's lenient reading).
func (r *chunkedBody) parseExtension() error {
	need := 1
	for {
		seg, err := r.peekMin(need)
		if err != nil {
			return r.rejectOrPropagate(err, ErrChunkedRequestIncomplete)
		}
		if len(seg) == 0 && r.in.Completed() {
			return r.reject2(ErrChunkedRequestIncomplete)
		}

		idx := indexByte(seg, '\r')
		if idx == -1 {
			if r.in.Completed() {
				return r.reject2(ErrChunkedRequestIncomplete)
			}
			r.in.Advance(len(seg))
			need = 1
			continue
		}
		if idx+1 >= len(seg) {
			if r.in.Completed() {
				return r.reject2(ErrChunkedRequestIncomplete)
			}
			r.in.Advance(idx)
			need = 2
			continue
		}
		if seg[idx+1] == '\n' {
			r.in.Advance(idx + 2)
			if r.chunkRemaining > 0 {
				r.mode = chunkData
			} else {
				r.mode = chunkTrailer
			}
			return nil
		}
		// Bare CR inside extension text: consume through it and keep
		// scanning from the next byte.
		r.in.Advance(idx + 1)
		need = 1
	}
}

// peekData is a pure view operation: it returns up to chunkRemaining
// bytes borrowed straight from the pipeline buffer.
func (r *chunkedBody) peekData() ([]byte, error) {
	if r.chunkRemaining == 0 {
		r.mode = chunkSuffix
		return nil, nil
	}
	seg, err := r.peekRaw()
	if err != nil {
		return nil, err
	}
	if len(seg) == 0 {
		return r.reject2(ErrChunkedRequestIncomplete)
	}
	if uint64(len(seg)) > r.chunkRemaining {
		seg = seg[:r.chunkRemaining]
	}
	return seg, nil
}

// parseSuffix expects exactly CRLF after chunk data.
func (r *chunkedBody) parseSuffix() error {
	seg, err := r.peekMin(2)
	if err != nil {
		return r.rejectOrPropagate(err, ErrChunkedRequestIncomplete)
	}
	if len(seg) < 2 {
		return r.reject2(ErrChunkedRequestIncomplete)
	}
	if seg[0] != '\r' || seg[1] != '\n' {
		return r.reject2(ErrBadChunkSuffix)
	}
	r.in.Advance(2)
	r.mode = chunkPrefix
	return nil
}

// parseTrailer peeks two bytes after the zero-sized chunk: CRLF ends the
// body cleanly; anything else means trailer headers follow.
func (r *chunkedBody) parseTrailer() error {
	seg, err := r.peekMin(2)
	if err != nil {
		return r.rejectOrPropagate(err, ErrChunkedRequestIncomplete)
	}
	if len(seg) < 2 {
		return r.reject2(ErrChunkedRequestIncomplete)
	}
	if seg[0] == '\r' && seg[1] == '\n' {
		r.in.Advance(2)
		r.mode = chunkComplete
		return nil
	}
	r.mode = chunkTrailerHeaders
	return nil
}

// parseTrailerHeaders reads whole lines from the pipeline until the
// blank-line terminator, splits each at its first colon, trims the value
// and appends the pair to the request's header set. It runs its own line
// loop and does not call parseHeaders; a line without a colon is rejected
// with ErrChunkedRequestIncomplete.
func (r *chunkedBody) parseTrailerHeaders() error {
	need := 2
	for {
		seg, err := r.peekMin(need)
		if err != nil {
			return r.rejectOrPropagate(err, ErrChunkedRequestIncomplete)
		}

		if len(seg) >= 2 && seg[0] == '\r' && seg[1] == '\n' {
			r.in.Advance(2)
			r.mode = chunkComplete
			return nil
		}

		idx := indexByte(seg, '\n')
		if idx == -1 {
			if r.in.Completed() {
				return r.reject2(ErrChunkedRequestIncomplete)
			}
			need = len(seg) + 1
			continue
		}

		line := seg[:idx]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}

		colonIdx := indexByte(line, ':')
		if colonIdx == -1 {
			return r.reject2(ErrChunkedRequestIncomplete)
		}
		name := line[:colonIdx]
		value := trimLeadingSpace(line[colonIdx+1:])
		value = trimTrailingSpace(value)

		nameCopy := append([]byte(nil), name...)
		valueCopy := append([]byte(nil), value...)
		_ = r.req.Header.Add(nameCopy, valueCopy)

		r.in.Advance(idx + 1)
		need = 2
	}
}

// rejectOrPropagate turns an EOF/bufio.ErrBufferFull-class failure (the
// stream ended, or the chunk-size line overran the connection's read
// buffer, before a full parse step was available) into the given
// rejection, while letting a genuine transport fault propagate unchanged.
func (r *chunkedBody) rejectOrPropagate(err, rejectAs error) error {
	if err == nil {
		return nil
	}
	if err == io.EOF || err == bufio.ErrBufferFull {
		return r.reject2(rejectAs)
	}
	return r.reject2(err)
}

func (r *chunkedBody) reject2(reason error) error {
	r.err = reason
	shockwave.RecordBodyRejection(reason.Error())
	return reason
}

func hexDigit(b byte) (int, bool) {
	switch {
	case b >= '0' && b <= '9':
		return int(b - '0'), true
	case b >= 'a' && b <= 'f':
		return int(b-'a') + 10, true
	case b >= 'A' && b <= 'F':
		return int(b-'A') + 10, true
	default:
		return 0, false
	}
}

func indexByte(b []byte, c byte) int {
	for i, v := range b {
		if v == c {
			return i
		}
	}
	return -1
}

package http11

import "io"

// SelectFraming implements the framing selector (spec.md §4.1): given the
// already-parsed request line and headers, it picks exactly one body
// reader and the keep_alive verdict that goes with it. The only error it
// can return is the InvalidContentLength rejection; every other path
// always yields a reader.
func SelectFraming(req *Request, ctrl FrameControl) (BodyReader, error) {
	keepAlive := req.ProtoMajor == 1 && req.ProtoMinor >= 1

	if conn := req.GetHeaderString(string(headerConnection)); conn != "" {
		if bytesEqualCaseInsensitiveStr(conn, connectionUpgradeString) {
			return newIdentityBody(req, ctrl, false), nil
		}
		keepAlive = bytesEqualCaseInsensitiveStr(conn, connectionKeepAliveString)
	}

	if te := req.GetHeaderString(string(headerTransferEncoding)); te != "" {
		return newChunkedBody(req, ctrl, keepAlive), nil
	}

	if cl := req.GetHeaderString(string(headerContentLength)); cl != "" {
		n, err := parseContentLength([]byte(cl))
		if err != nil {
			return nil, ErrInvalidContentLength
		}
		return newFixedLengthBody(req, ctrl, uint64(n), keepAlive), nil
	}

	return newFixedLengthBody(req, ctrl, 0, keepAlive), nil
}

func bytesEqualCaseInsensitiveStr(a, b string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := 0; i < len(a); i++ {
		ca, cb := a[i], b[i]
		if ca >= 'A' && ca <= 'Z' {
			ca += 'a' - 'A'
		}
		if cb >= 'A' && cb <= 'Z' {
			cb += 'a' - 'A'
		}
		if ca != cb {
			return false
		}
	}
	return true
}

// identityBody implements the RemainingData / Identity-until-close mode
// (spec.md §4.6): it forwards the pipeline verbatim until the transport
// reports completion, and never permits keep-alive.
type identityBody struct {
	bodyCore
}

func newIdentityBody(req *Request, ctrl FrameControl, keepAlive bool) *identityBody {
	r := &identityBody{bodyCore: bodyCore{
		in:              req.pipeline,
		ctrl:            ctrl,
		continuePending: true,
		ka:              false,
	}}
	_ = keepAlive // always false per spec.md §4.6
	return r
}

func (r *identityBody) peek() ([]byte, error) {
	return r.peekRaw()
}

func (r *identityBody) consumed(n int) {
	r.in.Advance(n)
}

func (r *identityBody) keepAlive() bool { return r.ka }

func (r *identityBody) Read(p []byte) (int, error)        { return readBody(r, p) }
func (r *identityBody) CopyTo(w io.Writer) (int64, error) { return copyBody(r, w) }
func (r *identityBody) Drain() error                      { return drainBody(r) }
func (r *identityBody) KeepAlive() bool                   { return r.keepAlive() }

// fixedLengthBody implements the FixedLength mode (spec.md §4.3).
type fixedLengthBody struct {
	bodyCore
	remaining uint64
}

func newFixedLengthBody(req *Request, ctrl FrameControl, remaining uint64, keepAlive bool) *fixedLengthBody {
	return &fixedLengthBody{
		bodyCore: bodyCore{
			in:              req.pipeline,
			ctrl:            ctrl,
			continuePending: true,
			ka:              keepAlive,
		},
		remaining: remaining,
	}
}

func (r *fixedLengthBody) peek() ([]byte, error) {
	if r.remaining == 0 {
		return nil, nil
	}
	seg, err := r.peekRaw()
	if err != nil {
		return nil, err
	}
	if len(seg) == 0 {
		return r.reject(ErrUnexpectedEndOfRequestContent)
	}
	if uint64(len(seg)) > r.remaining {
		seg = seg[:r.remaining]
	}
	return seg, nil
}

func (r *fixedLengthBody) consumed(n int) {
	r.remaining -= uint64(n)
	r.in.Advance(n)
}

func (r *fixedLengthBody) keepAlive() bool { return r.ka }

func (r *fixedLengthBody) Read(p []byte) (int, error)        { return readBody(r, p) }
func (r *fixedLengthBody) CopyTo(w io.Writer) (int64, error) { return copyBody(r, w) }
func (r *fixedLengthBody) Drain() error                      { return drainBody(r) }
func (r *fixedLengthBody) KeepAlive() bool                   { return r.keepAlive() }

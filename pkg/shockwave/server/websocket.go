package server

import (
	"strings"

	"github.com/shockwave-http/shockwave/pkg/shockwave/http11"
	"github.com/shockwave-http/shockwave/pkg/shockwave/websocket"
)

// UpgradeWebSocket completes a WebSocket handshake for a request the
// Framing Selector already routed to RemainingData mode because of
// "Connection: upgrade" (spec.md §4.1). It hijacks the raw connection out
// of the HTTP/1.1 engine via ResponseWriter.Hijack, so the caller must not
// touch w or r again afterward - Connection.Serve sees rw.Hijacked() and
// stops draining/flushing/reusing the connection for this request.
//
// supported lists the subprotocols this handler accepts, in preference
// order; pass nil if the handler doesn't negotiate one.
func UpgradeWebSocket(r *http11.Request, w *http11.ResponseWriter, supported []string) (*websocket.Conn, string, error) {
	conn, br, bw, err := w.Hijack()
	if err != nil {
		return nil, "", err
	}

	req := websocket.UpgradeRequest{
		Method:     r.Method(),
		Connection: r.GetHeaderString("Connection"),
		Upgrade:    r.GetHeaderString("Upgrade"),
		Version:    r.GetHeaderString("Sec-WebSocket-Version"),
		Key:        r.GetHeaderString("Sec-WebSocket-Key"),
	}
	if protoHeader := r.GetHeaderString("Sec-WebSocket-Protocol"); protoHeader != "" {
		for _, p := range strings.Split(protoHeader, ",") {
			req.Protocols = append(req.Protocols, strings.TrimSpace(p))
		}
	}

	return websocket.UpgradeConnWithReader(conn, br, bw, req, supported)
}

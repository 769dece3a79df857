// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"crypto/tls"
	"io"
	"net"

	"github.com/gorilla/websocket"
)

// StreamKind discriminates the transport underlying a Stream.
type StreamKind int

const (
	// StreamPlain wraps a raw net.Conn (TCP, or any caller-supplied stream).
	StreamPlain StreamKind = iota
	// StreamTLS wraps a *tls.Conn, reached after a VeNCrypt TLS upgrade.
	StreamTLS
	// StreamWebSocket wraps a *websocket.Conn, reframing message boundaries
	// into a byte stream for the RFB decoder.
	StreamWebSocket
)

// Stream is a tagged union over the transport a connector reads and writes
// RFB bytes through. It starts as StreamPlain and may be replaced in place by
// upgradeToTLS mid-handshake (VeNCrypt, spec C6); the connector never holds a
// reference to the pre-upgrade net.Conn once the swap completes.
type Stream struct {
	kind StreamKind

	plain net.Conn
	tls   *tls.Conn
	ws    *websocket.Conn

	// wsRead carries bytes from a partially-consumed websocket message,
	// since ReadMessage returns one frame at a time but the RFB decoder
	// wants an ordinary byte stream.
	wsRead []byte
}

// newPlainStream wraps an already-connected net.Conn.
func newPlainStream(conn net.Conn) *Stream {
	return &Stream{kind: StreamPlain, plain: conn}
}

// newWebSocketStream wraps an already-connected websocket, as passed to
// ConnectWebSocket for RFB-over-WebSocket transports (for example noVNC-style
// browser bridges).
func newWebSocketStream(conn *websocket.Conn) *Stream {
	return &Stream{kind: StreamWebSocket, ws: conn}
}

// upgradeToTLS replaces the stream's underlying transport with a TLS client
// connection negotiated over the current plain connection, per VeNCrypt's
// mid-handshake stream swap. The caller must not use the Stream concurrently
// during the upgrade.
func (s *Stream) upgradeToTLS(cfg *tls.Config) error {
	if s.kind != StreamPlain {
		return protocolError("Stream.upgradeToTLS", "TLS upgrade only supported from a plain stream", nil)
	}

	tlsConn := tls.Client(s.plain, cfg)
	if err := tlsConn.Handshake(); err != nil {
		return ioError("Stream.upgradeToTLS", "TLS handshake failed", err)
	}

	s.kind = StreamTLS
	s.tls = tlsConn
	s.plain = nil
	return nil
}

// Read implements io.Reader, dispatching to the underlying transport.
func (s *Stream) Read(p []byte) (int, error) {
	switch s.kind {
	case StreamPlain:
		return s.plain.Read(p)
	case StreamTLS:
		return s.tls.Read(p)
	case StreamWebSocket:
		return s.readWebSocket(p)
	default:
		return 0, protocolError("Stream.Read", "unknown stream kind", nil)
	}
}

// readWebSocket drains any carried-over bytes from the previous message before
// pulling a new binary frame off the wire, so that repeated small reads never
// block on a frame boundary that hasn't arrived yet.
func (s *Stream) readWebSocket(p []byte) (int, error) {
	if len(s.wsRead) == 0 {
		_, data, err := s.ws.ReadMessage()
		if err != nil {
			return 0, ioError("Stream.readWebSocket", "failed to read websocket frame", err)
		}
		s.wsRead = data
	}

	n := copy(p, s.wsRead)
	s.wsRead = s.wsRead[n:]
	return n, nil
}

// Write implements io.Writer, dispatching to the underlying transport. A
// WebSocket stream sends each Write call as one binary frame, which matches
// the RFB codec's pattern of writing one complete message per call.
func (s *Stream) Write(p []byte) (int, error) {
	switch s.kind {
	case StreamPlain:
		return s.plain.Write(p)
	case StreamTLS:
		return s.tls.Write(p)
	case StreamWebSocket:
		if err := s.ws.WriteMessage(websocket.BinaryMessage, p); err != nil {
			return 0, ioError("Stream.Write", "failed to write websocket frame", err)
		}
		return len(p), nil
	default:
		return 0, protocolError("Stream.Write", "unknown stream kind", nil)
	}
}

// Close closes the underlying transport.
func (s *Stream) Close() error {
	switch s.kind {
	case StreamPlain:
		if s.plain == nil {
			return nil
		}
		return s.plain.Close()
	case StreamTLS:
		return s.tls.Close()
	case StreamWebSocket:
		return s.ws.Close()
	default:
		return nil
	}
}

var _ io.ReadWriteCloser = (*Stream)(nil)

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"crypto/tls"
	"encoding/binary"
	"net"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Config configures a Connect call. Construct the zero value and apply
// Options, or build one directly; Connect validates it before touching the
// network.
type Config struct {
	Credentials Credentials

	// MaxVersion caps the protocol version the connector will negotiate up
	// to; the server may still force an older one. Defaults to RFB38.
	MaxVersion ProtocolVersion

	// PixelFormat is the client's desired pixel format. Nil means "use
	// whatever the server's ServerInit record advertises".
	PixelFormat *PixelFormat

	// Encodings lists the decoders to advertise, in preference order. Must
	// be non-empty.
	Encodings []Encoding

	// Shared requests non-exclusive desktop access.
	Shared bool

	// ServerName is the SNI hostname used during a VeNCrypt TLS upgrade.
	// Defaults to "localhost" when empty.
	ServerName string

	// Logger receives connector and client diagnostics. Defaults to NoOpLogger.
	Logger Logger

	// EventQueueSize and InputQueueSize bound the reader-to-caller and
	// caller-to-writer channels respectively. Both default to 64.
	EventQueueSize int
	InputQueueSize int

	// RefreshRate and RefreshBurst throttle outgoing
	// FramebufferUpdateRequest messages, covering both caller-issued
	// Refresh inputs and the client's own sustain-the-stream requests.
	// Defaults to 60 per second with a burst of 4.
	RefreshRate  rate.Limit
	RefreshBurst int

	// TLSVerifier customizes the tls.Config used for a VeNCrypt TLS
	// upgrade before it is used (e.g. to install RootCAs or turn off
	// InsecureSkipVerify). Nil keeps the accept-all default.
	TLSVerifier func(*tls.Config)
}

// Option mutates a Config during construction.
type Option func(*Config)

// WithCredentials sets the username/password presented to VncAuth or
// VeNCrypt plain-auth.
func WithCredentials(creds Credentials) Option {
	return func(c *Config) { c.Credentials = creds }
}

// WithMaxVersion caps the negotiated protocol version.
func WithMaxVersion(v ProtocolVersion) Option {
	return func(c *Config) { c.MaxVersion = v }
}

// WithPixelFormat requests a specific client pixel format instead of the
// server's default.
func WithPixelFormat(pf *PixelFormat) Option {
	return func(c *Config) { c.PixelFormat = pf }
}

// WithEncodings sets the advertised encodings, in preference order.
func WithEncodings(encs ...Encoding) Option {
	return func(c *Config) { c.Encodings = encs }
}

// WithShared requests non-exclusive desktop access.
func WithShared(shared bool) Option {
	return func(c *Config) { c.Shared = shared }
}

// WithServerName sets the SNI hostname used for a VeNCrypt TLS upgrade.
func WithServerName(name string) Option {
	return func(c *Config) { c.ServerName = name }
}

// WithLogger sets the logger used by the connector and the live client.
func WithLogger(logger Logger) Option {
	return func(c *Config) { c.Logger = logger }
}

// WithQueueSizes sets the bounded event and input queue capacities.
func WithQueueSizes(events, inputs int) Option {
	return func(c *Config) { c.EventQueueSize = events; c.InputQueueSize = inputs }
}

// WithRefreshRate throttles outgoing FramebufferUpdateRequest messages.
func WithRefreshRate(r rate.Limit, burst int) Option {
	return func(c *Config) { c.RefreshRate = r; c.RefreshBurst = burst }
}

// WithTLSVerifier installs a hook to customize the tls.Config used for a
// VeNCrypt TLS upgrade, overriding the accept-all default.
func WithTLSVerifier(verify func(*tls.Config)) Option {
	return func(c *Config) { c.TLSVerifier = verify }
}

func defaultConfig() *Config {
	return &Config{
		MaxVersion:     RFB38,
		Logger:         &NoOpLogger{},
		EventQueueSize: 64,
		InputQueueSize: 64,
		RefreshRate:    60,
		RefreshBurst:   4,
	}
}

func (c *Config) validate() error {
	if len(c.Encodings) == 0 {
		return noEncodingError("Config.validate")
	}
	return nil
}

// Connect drives a freshly opened TCP (or other net.Conn) connection through
// the Handshake -> Authenticate -> Connected pipeline (spec C8) and returns a
// live Client on success. The connection is closed automatically if any step
// fails.
func Connect(ctx context.Context, conn net.Conn, opts ...Option) (*Client, error) {
	return connect(ctx, newPlainStream(conn), opts...)
}

// ConnectWebSocket is Connect's counterpart for RFB carried over a WebSocket
// transport (spec C7's StreamWebSocket variant), for browser-facing bridges
// such as noVNC.
func ConnectWebSocket(ctx context.Context, ws *websocket.Conn, opts ...Option) (*Client, error) {
	return connect(ctx, newWebSocketStream(ws), opts...)
}

func connect(ctx context.Context, stream *Stream, opts ...Option) (*Client, error) {
	cfg := defaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if err := cfg.validate(); err != nil {
		stream.Close()
		return nil, err
	}

	hs := &handshakeState{stream: stream, cfg: cfg}
	as, err := hs.negotiate()
	if err != nil {
		stream.Close()
		return nil, err
	}

	cs, err := as.authenticate(ctx)
	if err != nil {
		stream.Close()
		return nil, err
	}

	client, err := cs.finish()
	if err != nil {
		stream.Close()
		return nil, err
	}
	return client, nil
}

// handshakeState is the Handshake phase of the connector state machine: it
// owns the raw stream and nothing else. Transitions are modeled by
// returning the next phase's type rather than mutating a phase field, so an
// out-of-order call (e.g. skipping straight to finish) is a compile error.
type handshakeState struct {
	stream *Stream
	cfg    *Config
}

// negotiate reads the server's version banner, computes the minimum of it
// and the configured ceiling, writes that back, and advances to Authenticate.
func (h *handshakeState) negotiate() (*authenticateState, error) {
	serverVersion, err := readVersionBanner(h.stream)
	if err != nil {
		return nil, err
	}

	version := negotiateVersion(h.cfg.MaxVersion, serverVersion)
	if err := writeVersionBanner(h.stream, version); err != nil {
		return nil, err
	}

	return &authenticateState{stream: h.stream, cfg: h.cfg, version: version}, nil
}

// authenticateState is the Authenticate phase: it additionally knows the
// negotiated protocol version, which governs the shape of every remaining
// handshake message.
type authenticateState struct {
	stream  *Stream
	cfg     *Config
	version ProtocolVersion
}

// authenticate runs C4 (security negotiation) and then whichever of C5
// (VncAuth) or C6 (VeNCrypt) the negotiation selected, reading the trailing
// SecurityResult when the negotiated version requires one.
func (a *authenticateState) authenticate(ctx context.Context) (*connectedState, error) {
	offered, err := readSecurityOffer(a.stream, a.version)
	if err != nil {
		return nil, err
	}

	chosen, err := chooseSecurityType(offered)
	if err != nil {
		return nil, err
	}

	if a.version != RFB33 {
		if err := writeSecurityChoice(a.stream, chosen); err != nil {
			return nil, err
		}
	}

	switch chosen {
	case SecurityNone:
		// No further exchange before the SecurityResult check below.
	case SecurityVncAuth:
		if err := vncAuthHandshake(ctx, a.stream, a.cfg.Credentials.Password, a.cfg.Logger); err != nil {
			return nil, err
		}
	case SecurityVeNCrypt:
		if err := vencryptHandshake(a.stream, a.cfg.Credentials, a.cfg.ServerName, a.cfg.TLSVerifier, a.cfg.Logger); err != nil {
			return nil, err
		}
	default:
		return nil, unsupportedSecurityError("authenticateState.authenticate", "chosen security type has no handler", nil)
	}

	if securityResultMode(a.version, chosen) {
		if err := readSecurityResult(a.stream, a.version); err != nil {
			return nil, err
		}
	}

	return &connectedState{stream: a.stream, cfg: a.cfg}, nil
}

// connectedState is the Connected phase: authentication has succeeded and
// only the ServerInit exchange and initial client messages remain before the
// live Client takes over the stream.
type connectedState struct {
	stream *Stream
	cfg    *Config
}

// finish writes the shared-desktop flag, reads ServerInit, applies or
// announces the client pixel format, advertises the encodings list, sends
// the initial full-framebuffer request, and constructs the live Client.
func (cs *connectedState) finish() (*Client, error) {
	shared := byte(0)
	if cs.cfg.Shared {
		shared = 1
	}
	if _, err := cs.stream.Write([]byte{shared}); err != nil {
		return nil, ioError("connectedState.finish", "failed to write shared-flag", err)
	}

	var fbWidth, fbHeight uint16
	if err := binary.Read(cs.stream, binary.BigEndian, &fbWidth); err != nil {
		return nil, ioError("connectedState.finish", "failed to read framebuffer width", err)
	}
	if err := binary.Read(cs.stream, binary.BigEndian, &fbHeight); err != nil {
		return nil, ioError("connectedState.finish", "failed to read framebuffer height", err)
	}

	validator := newInputValidator()
	if err := validator.ValidateFramebufferDimensions(fbWidth, fbHeight); err != nil {
		return nil, err
	}

	var serverFormat PixelFormat
	if err := readPixelFormat(cs.stream, &serverFormat); err != nil {
		return nil, err
	}
	if err := validator.ValidatePixelFormat(&serverFormat); err != nil {
		return nil, err
	}

	desktopName, err := readReasonString(cs.stream)
	if err != nil {
		return nil, err
	}

	ctx := newDecodeContext(serverFormat)

	var initialEvent *Event
	if cs.cfg.PixelFormat != nil {
		if err := validator.ValidatePixelFormat(cs.cfg.PixelFormat); err != nil {
			return nil, err
		}
		if err := writeSetPixelFormat(cs.stream, cs.cfg.PixelFormat); err != nil {
			return nil, err
		}
		ctx.pixelFormat = *cs.cfg.PixelFormat
		ctx.targetFormat = *cs.cfg.PixelFormat
	} else {
		initialEvent = &Event{Kind: EventSetPixelFormat, PixelFormat: serverFormat}
	}

	if err := writeSetEncodings(cs.stream, cs.cfg.Encodings); err != nil {
		return nil, err
	}

	if err := writeFramebufferUpdateRequest(cs.stream, false, 0, 0, fbWidth, fbHeight); err != nil {
		return nil, err
	}

	client := newClient(cs.stream, ctx, cs.cfg, fbWidth, fbHeight, desktopName)

	client.events <- Event{Kind: EventSetResolution, Resolution: Resolution{Width: fbWidth, Height: fbHeight}}
	if initialEvent != nil {
		client.events <- *initialEvent
	}

	client.start()
	return client, nil
}

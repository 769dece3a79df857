// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"context"
	"encoding/binary"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
	"golang.org/x/time/rate"
)

// ButtonMask represents the state of pointer buttons in a VNC pointer event.
type ButtonMask uint8

// Button mask constants for standard mouse buttons and scroll wheel events.
const (
	ButtonLeft ButtonMask = 1 << iota
	ButtonMiddle
	ButtonRight
	ButtonWheelUp
	ButtonWheelDown
	Button6
	Button7
	Button8
)

// VNC protocol constants.
const (
	ColorMapSize             = 256
	MaxClipboardLength       = 1024 * 1024
	Latin1MaxCodePoint       = 255
	MaxRectanglesPerUpdate   = 10000
	MaxServerClipboardLength = 10 * 1024 * 1024
)

// MetricsCollector defines the interface for collecting metrics and observability data.
type MetricsCollector interface {
	Counter(name string, tags ...interface{}) interface{}
	Gauge(name string, tags ...interface{}) interface{}
	Histogram(name string, tags ...interface{}) interface{}
}

// NoOpMetrics is a MetricsCollector implementation that discards all metrics.
type NoOpMetrics struct{}

// Counter returns a no-op counter metric.
func (m *NoOpMetrics) Counter(name string, tags ...interface{}) interface{} { return nil }

// Gauge returns a no-op gauge metric.
func (m *NoOpMetrics) Gauge(name string, tags ...interface{}) interface{} { return nil }

// Histogram returns a no-op histogram metric.
func (m *NoOpMetrics) Histogram(name string, tags ...interface{}) interface{} { return nil }

// Client is a live, connected RFB session. It owns a reader task that decodes
// server messages into Events and a writer task that encodes Inputs onto the
// wire; the two never share mutable state beyond their channels and the
// closed flag. Obtain one via Connect or ConnectWebSocket.
type Client struct {
	id     string
	stream *Stream
	ctx    *decodeContext
	encMap map[int32]Encoding
	logger Logger

	events chan Event
	inputs chan Input

	limiter *rate.Limiter

	fbWidth  atomic.Uint32
	fbHeight atomic.Uint32

	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}

	readErr atomic.Value // error
	wg      sync.WaitGroup

	desktopName string
}

// ID returns the correlation id attached to this client's log lines, for
// tying together diagnostics from a single session.
func (c *Client) ID() string { return c.id }

// IsClosed reports whether the client has stopped, whether by Close or by a
// fatal read/write error.
func (c *Client) IsClosed() bool { return c.closed.Load() }

// newClient constructs a Client around an already-authenticated stream. It
// does not start the background tasks; call start for that.
func newClient(stream *Stream, ctx *decodeContext, cfg *Config, fbWidth, fbHeight uint16, desktopName string) *Client {
	limit := cfg.RefreshRate
	burst := cfg.RefreshBurst
	if limit == 0 {
		limit = 60
	}
	if burst == 0 {
		burst = 4
	}

	id := uuid.NewString()
	c := &Client{
		id:          id,
		stream:      stream,
		ctx:         ctx,
		encMap:      newEncodingMap(cfg.Encodings),
		logger:      cfg.Logger.With(Field{Key: "client_id", Value: id}),
		events:      make(chan Event, cfg.EventQueueSize),
		inputs:      make(chan Input, cfg.InputQueueSize),
		limiter:     rate.NewLimiter(limit, burst),
		done:        make(chan struct{}),
		desktopName: desktopName,
	}
	c.fbWidth.Store(uint32(fbWidth))
	c.fbHeight.Store(uint32(fbHeight))
	return c
}

// start launches the reader and writer background tasks. Called once, by
// connector.go's finish, after the initial handshake events have been queued.
func (c *Client) start() {
	c.wg.Add(2)
	go c.readLoop()
	go c.writeLoop()
}

// DesktopName returns the name the server advertised in ServerInit.
func (c *Client) DesktopName() string { return c.desktopName }

// Resolution returns the most recently known framebuffer dimensions.
func (c *Client) Resolution() (width, height uint16) {
	return uint16(c.fbWidth.Load()), uint16(c.fbHeight.Load())
}

// PollEvent blocks until the reader task has an Event ready, ctx is
// cancelled, or the client has been closed (by the caller or by a fatal
// read error, retrievable via Err after this returns).
func (c *Client) PollEvent(ctx context.Context) (Event, error) {
	if c.closed.Load() {
		return Event{}, c.stopErr()
	}
	select {
	case ev, ok := <-c.events:
		if !ok {
			return Event{}, c.Err()
		}
		return ev, nil
	case <-ctx.Done():
		return Event{}, ctx.Err()
	case <-c.done:
		return Event{}, c.Err()
	}
}

// Input enqueues a client-to-server message for the writer task to send. It
// blocks when the input queue is full, applying backpressure to the caller.
func (c *Client) Input(ctx context.Context, in Input) error {
	if c.closed.Load() {
		return c.stopErr()
	}
	select {
	case c.inputs <- in:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-c.done:
		return c.Err()
	}
}

// Err returns the error that caused the client to stop, if any. Returns nil
// if the client was closed cleanly by the caller.
func (c *Client) Err() error {
	if v := c.readErr.Load(); v != nil {
		return v.(error)
	}
	return nil
}

// stopErr is what PollEvent and Input return once the client has stopped.
func (c *Client) stopErr() error {
	if err := c.Err(); err != nil {
		return err
	}
	return ioError("Client", "client is closed", nil)
}

// Close shuts the client down: it signals both background tasks to exit and
// closes the underlying stream, which unblocks any in-flight read, then
// waits for both tasks to return. Safe to call more than once and from any
// goroutine; also safe to call after a fatal read/write error has already
// triggered the same shutdown internally.
func (c *Client) Close() error {
	c.shutdown()
	c.wg.Wait()
	return nil
}

// shutdown signals the reader and writer tasks to exit. It is the shared
// tail of both Close (caller-initiated) and fail (error-initiated), and must
// never itself wait on c.wg: fail runs on one of the very goroutines c.wg is
// tracking, so waiting here would deadlock.
func (c *Client) shutdown() {
	c.closeOnce.Do(func() {
		c.closed.Store(true)
		close(c.done)
		c.stream.Close()
	})
}

// readLoop is task R: it decodes server messages into Events, forwards them
// to the caller, and re-issues the sustaining incremental
// FramebufferUpdateRequest after every server message it decodes so the
// stream never stalls waiting for the caller to ask again. The request is not
// limited to FramebufferUpdate messages: a Bell, ServerCutText or
// SetColourMapEntries message is followed by one as well.
func (c *Client) readLoop() {
	defer c.wg.Done()

	c.logger.Debug("reader task starting")

	for {
		fbWidth, fbHeight := c.Resolution()
		events, err := decodeServerMessage(c.ctx, c.stream, c.encMap, fbWidth, fbHeight)
		if err != nil {
			c.logger.Error("reader task stopping on decode error", Field{Key: "error", Value: err})
			c.fail(err)
			return
		}

		for _, ev := range events {
			if ev.Kind == EventSetResolution {
				c.fbWidth.Store(uint32(ev.Resolution.Width))
				c.fbHeight.Store(uint32(ev.Resolution.Height))
			}
			select {
			case c.events <- ev:
			case <-c.done:
				return
			}
		}

		select {
		case c.inputs <- Input{Kind: InputRefresh, Refresh: RefreshRequest{}}:
		case <-c.done:
			return
		}
	}
}

// writeLoop is task W: it dequeues Inputs and encodes them onto the wire.
// FramebufferUpdateRequest sends (both caller-issued Refresh inputs and the
// reader's own sustain requests) are throttled through the shared limiter so
// a fast server or an eager caller cannot flood the link with requests.
func (c *Client) writeLoop() {
	defer c.wg.Done()

	for {
		select {
		case in := <-c.inputs:
			if err := c.sendInput(in); err != nil {
				c.logger.Error("writer task stopping on send error", Field{Key: "error", Value: err})
				c.fail(err)
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *Client) sendInput(in Input) error {
	switch in.Kind {
	case InputKeyEvent:
		return writeKeyEvent(c.stream, in.Key)
	case InputPointerEvent:
		return writePointerEvent(c.stream, in.Pointer)
	case InputCutText:
		return writeCutText(c.stream, in.CutText)
	case InputRefresh:
		return c.sendRefresh(in.Refresh)
	default:
		return protocolError("Client.sendInput", "unknown input kind", nil)
	}
}

func (c *Client) sendRefresh(req RefreshRequest) error {
	if err := c.limiter.Wait(context.Background()); err != nil {
		return timeoutError("Client.sendRefresh", "rate limiter wait failed", err)
	}

	width, height := req.Width, req.Height
	if width == 0 && height == 0 {
		width, height = c.Resolution()
	}
	return writeFramebufferUpdateRequest(c.stream, !req.NonIncremental, req.X, req.Y, width, height)
}

func (c *Client) fail(err error) {
	c.readErr.CompareAndSwap(nil, err)
	c.shutdown()
}

// writeSetPixelFormat sends message type 0 (RFC 6143 Section 7.5.1).
func writeSetPixelFormat(w *Stream, format *PixelFormat) error {
	pfBytes, err := writePixelFormat(format)
	if err != nil {
		return encodingError("writeSetPixelFormat", "failed to encode pixel format", err)
	}

	msg := make([]byte, 4+len(pfBytes))
	msg[0] = 0
	copy(msg[4:], pfBytes)
	if _, err := w.Write(msg); err != nil {
		return ioError("writeSetPixelFormat", "failed to send SetPixelFormat", err)
	}
	return nil
}

// writeSetEncodings sends message type 2 (RFC 6143 Section 7.5.2).
func writeSetEncodings(w *Stream, encs []Encoding) error {
	var buf bytes.Buffer
	data := []interface{}{
		uint8(2),
		uint8(0),
		uint16(len(encs)), // #nosec G115 - encoding list length is caller-controlled and small
	}
	for _, val := range data {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return ioError("writeSetEncodings", "failed to write header", err)
		}
	}
	for _, enc := range encs {
		if err := binary.Write(&buf, binary.BigEndian, enc.Type()); err != nil {
			return ioError("writeSetEncodings", "failed to write encoding type", err)
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return ioError("writeSetEncodings", "failed to send SetEncodings", err)
	}
	return nil
}

// writeFramebufferUpdateRequest sends message type 3 (RFC 6143 Section 7.5.3).
func writeFramebufferUpdateRequest(w *Stream, incremental bool, x, y, width, height uint16) error {
	var incByte uint8
	if incremental {
		incByte = 1
	}

	var buf bytes.Buffer
	data := []interface{}{uint8(3), incByte, x, y, width, height}
	for _, val := range data {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return ioError("writeFramebufferUpdateRequest", "failed to write request", err)
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return ioError("writeFramebufferUpdateRequest", "failed to send FramebufferUpdateRequest", err)
	}
	return nil
}

// writeKeyEvent sends message type 4 (RFC 6143 Section 7.5.4).
func writeKeyEvent(w *Stream, key KeyEvent) error {
	validator := newInputValidator()
	if err := validator.ValidateKeySymbol(key.Keysym); err != nil {
		return validationError("writeKeyEvent", "invalid keysym value", err)
	}

	var downFlag uint8
	if key.Down {
		downFlag = 1
	}

	var buf bytes.Buffer
	data := []interface{}{uint8(4), downFlag, uint8(0), uint8(0), key.Keysym}
	for _, val := range data {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return ioError("writeKeyEvent", "failed to write key event", err)
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return ioError("writeKeyEvent", "failed to send KeyEvent", err)
	}
	return nil
}

// writePointerEvent sends message type 5 (RFC 6143 Section 7.5.5).
func writePointerEvent(w *Stream, pe PointerEvent) error {
	var buf bytes.Buffer
	data := []interface{}{uint8(5), uint8(pe.Mask), pe.X, pe.Y}
	for _, val := range data {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return ioError("writePointerEvent", "failed to write pointer event", err)
		}
	}
	if _, err := w.Write(buf.Bytes()); err != nil {
		return ioError("writePointerEvent", "failed to send PointerEvent", err)
	}
	return nil
}

// writeCutText sends message type 6 (RFC 6143 Section 7.5.6): a
// 3-byte-padded, length-prefixed Latin-1 text blob.
func writeCutText(w *Stream, text string) error {
	validator := newInputValidator()
	if err := validator.ValidateTextData(text, MaxClipboardLength); err != nil {
		return validationError("writeCutText", "invalid clipboard text", err)
	}
	text = validator.SanitizeText(text)

	for _, r := range text {
		if r > Latin1MaxCodePoint {
			return validationError("writeCutText", "text contains non-Latin-1 characters", nil)
		}
	}

	var buf bytes.Buffer
	header := []interface{}{
		uint8(6), uint8(0), uint8(0), uint8(0),
		uint32(len(text)), // #nosec G115 - text was already validated against MaxClipboardLength
	}
	for _, val := range header {
		if err := binary.Write(&buf, binary.BigEndian, val); err != nil {
			return ioError("writeCutText", "failed to write header", err)
		}
	}
	for _, r := range text {
		if err := binary.Write(&buf, binary.BigEndian, uint8(r)); err != nil {
			return ioError("writeCutText", "failed to write text byte", err)
		}
	}

	if _, err := w.Write(buf.Bytes()); err != nil {
		return ioError("writeCutText", "failed to send ClientCutText", err)
	}
	return nil
}

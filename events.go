// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

// Event is the tagged union of notifications the reader task delivers to the
// caller via Client.PollEvent. Exactly one of the typed fields is meaningful
// for a given Kind.
type Event struct {
	Kind EventKind

	// SetResolution carries the new framebuffer dimensions (Kind == EventSetResolution).
	Resolution Resolution

	// PixelFormat carries the server's ServerInit pixel format (Kind == EventSetPixelFormat).
	PixelFormat PixelFormat

	// RawImage carries a decoded rectangle of pixels (Kind == EventRawImage).
	Image *ImageRect

	// Copy carries a CopyRect operation (Kind == EventCopy).
	Copy *CopyRect

	// SetCursor carries a cursor shape update (Kind == EventSetCursor).
	Cursor *CursorShape

	// Bell has no payload (Kind == EventBell).

	// Text carries server-to-client clipboard text (Kind == EventText).
	Text string

	// Jpeg carries an undecoded JPEG rectangle from Tight's JPEG filter
	// (Kind == EventJpegImage). The caller is responsible for decoding it;
	// the core never links an image/jpeg decoder into the hot path.
	Jpeg *JpegRect
}

// EventKind discriminates the Event union.
type EventKind int

const (
	// EventSetResolution signals a desktop resize, from the DesktopSize pseudo-encoding.
	EventSetResolution EventKind = iota
	// EventSetPixelFormat reports the server's ServerInit pixel format; it is
	// emitted once at connect, only when no client PixelFormat is configured.
	EventSetPixelFormat
	// EventRawImage carries decoded pixel data for one rectangle (Raw, Tight, TRLE, ZRLE).
	EventRawImage
	// EventCopy carries a CopyRect rectangle.
	EventCopy
	// EventSetCursor carries a cursor shape, from the Cursor pseudo-encoding.
	EventSetCursor
	// EventBell signals the server rang the bell.
	EventBell
	// EventText carries clipboard text pushed from the server.
	EventText
	// EventJpegImage carries an undecoded JPEG rectangle from Tight's JPEG filter.
	EventJpegImage
)

// Resolution is a framebuffer width/height pair.
type Resolution struct {
	Width  uint16
	Height uint16
}

// ImageRect is a decoded rectangle of pixels in the client's target format:
// BGRA by default, or the PixelFormat configured with WithPixelFormat.
type ImageRect struct {
	X, Y          uint16
	Width, Height uint16
	Pixels        []byte
}

// CopyRect identifies a same-framebuffer rectangle copy: pixels already
// present at (SrcX, SrcY) should be copied to (X, Y).
type CopyRect struct {
	X, Y          uint16
	Width, Height uint16
	SrcX, SrcY    uint16
}

// JpegRect is a still-compressed JPEG rectangle produced by Tight's JPEG
// filter. Width and Height describe the destination rectangle; Data is the
// raw JFIF blob exactly as sent by the server.
type JpegRect struct {
	X, Y          uint16
	Width, Height uint16
	Data          []byte
}

// CursorShape is a client-side rendered cursor image plus its transparency mask.
type CursorShape struct {
	Width, Height    uint16
	HotspotX         uint16
	HotspotY         uint16
	Pixels           []byte // target format (BGRA by default), width*height*bytes-per-pixel bytes
	Mask             []byte // 1 bit per pixel, row-major, MSB first
}

// Input is the tagged union of messages the caller hands to Client.Input for
// the writer task to encode and send. Exactly one of the typed fields is
// meaningful for a given Kind.
type Input struct {
	Kind InputKind

	// KeyEvent payload (Kind == InputKeyEvent).
	Key KeyEvent

	// PointerEvent payload (Kind == InputPointerEvent).
	Pointer PointerEvent

	// CutText payload (Kind == InputCutText).
	CutText string

	// Refresh payload (Kind == InputRefresh).
	Refresh RefreshRequest
}

// InputKind discriminates the Input union.
type InputKind int

const (
	// InputKeyEvent requests a KeyEvent message.
	InputKeyEvent InputKind = iota
	// InputPointerEvent requests a PointerEvent message.
	InputPointerEvent
	// InputCutText requests a ClientCutText message.
	InputCutText
	// InputRefresh requests a FramebufferUpdateRequest.
	InputRefresh
)

// KeyEvent is an X11-keysym keyboard event.
type KeyEvent struct {
	Keysym uint32
	Down   bool
}

// PointerEvent is a pointer position and button-state update.
type PointerEvent struct {
	Mask ButtonMask
	X, Y uint16
}

// RefreshRequest asks the server for a framebuffer update over the given
// rectangle. The zero value requests an incremental update (only the parts
// of the framebuffer that changed since the last request) — the common case
// and the one the reader task itself issues to sustain the stream; set
// NonIncremental to force the server to resend the whole rectangle
// regardless of what changed.
type RefreshRequest struct {
	NonIncremental bool
	X, Y           uint16
	Width, Height  uint16
}

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"compress/zlib"
	"io"
)

// Rectangle is the position, size and wire encoding type of one rectangle
// within a FramebufferUpdate message.
type Rectangle struct {
	X, Y          uint16
	Width, Height uint16
	EncodingType  int32
}

// Encoding decodes one rectangle's wire payload into zero or more Events.
// Implementations read exactly their rectangle's bytes from r and must not
// read past it; the reader task relies on that to stay in sync with the
// following rectangle header.
type Encoding interface {
	Type() int32
	Decode(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error)
}

// decodeContext carries the state a rectangle decoder needs that outlives a
// single rectangle: the negotiated (wire) pixel format, the buffer format
// decoded pixels are translated into, the indexed color map, and the
// persistent zlib streams Tight and ZRLE require (spec mandates these
// streams are created once per connection and Reset, never recreated, so
// that each rectangle can reference the dictionary built by earlier ones).
type decodeContext struct {
	pixelFormat  PixelFormat
	targetFormat PixelFormat
	colorMap     [ColorMapSize]Color

	tightZlib [4]zlibStream
	zrleZlib  zlibStream
}

// zlibStream lazily creates a zlib reader the first time it sees compressed
// bytes, then Resets it on every subsequent use so the underlying
// decompressor keeps the dictionary built from prior rectangles.
type zlibStream struct {
	r        io.ReadCloser
	resetter zlib.Resetter
}

// reset rewires the stream to read the next chunk of compressed bytes,
// either by constructing the zlib.Reader on first use or Reset-ing it.
func (z *zlibStream) reset(src io.Reader) (io.Reader, error) {
	if z.r == nil {
		r, err := zlib.NewReader(src)
		if err != nil {
			return nil, protocolError("zlibStream.reset", "failed to initialize zlib stream", err)
		}
		z.r = r
		resetter, ok := r.(zlib.Resetter)
		if !ok {
			return nil, protocolError("zlibStream.reset", "zlib reader does not support Reset", nil)
		}
		z.resetter = resetter
		return z.r, nil
	}

	if err := z.resetter.Reset(src, nil); err != nil {
		return nil, protocolError("zlibStream.reset", "failed to reset zlib stream", err)
	}
	return z.r, nil
}

// clear discards the zlib reader outright, forcing the next reset to build a
// brand new one instead of resuming the old decompressor. Tight uses this for
// the explicit per-stream reset bits in its control byte.
func (z *zlibStream) clear() {
	if z.r != nil {
		z.r.Close()
		z.r = nil
		z.resetter = nil
	}
}

// newDecodeContext builds a decode context for a freshly connected session.
// Decoded pixels default to BGRA until the connector overrides targetFormat
// to match a caller-configured client PixelFormat (connector.go's finish).
func newDecodeContext(pf PixelFormat) *decodeContext {
	return &decodeContext{pixelFormat: pf, targetFormat: BGRA}
}

// cpixelSize returns the number of bytes TRLE/ZRLE use per compressed pixel.
// When the format is 32 bits per pixel with depth <= 24, only the 3
// color-carrying bytes are sent; otherwise the full pixel width is used.
func cpixelSize(pf *PixelFormat) int {
	if pf.BPP == 32 && pf.Depth <= 24 {
		return 3
	}
	return bytesPerPixel(pf)
}

// readCPixel reads one TRLE/ZRLE compressed pixel and translates it into
// dst. For the 3-byte case, the byte carrying shift-24 (the format's padding
// byte) is dropped on the wire and reinstated as zero before translation.
func readCPixel(r io.Reader, pf, dst *PixelFormat, colorMap *[ColorMapSize]Color) ([]byte, error) {
	size := cpixelSize(pf)
	raw := make([]byte, size)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, ioError("readCPixel", "failed to read compressed pixel", err)
	}

	full := raw
	if size == 3 {
		full = make([]byte, 4)
		if pf.BigEndian {
			copy(full[1:], raw)
		} else {
			copy(full[0:3], raw)
		}
	}

	return translatePixel(full, pf, dst, colorMap)
}

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "io"

// cursorPseudoEncoding decodes the Cursor pseudo-encoding: a client-rendered
// cursor shape plus transparency mask, keyed off the rectangle's position
// (hotspot) and size (cursor dimensions) rather than framebuffer placement.
type cursorPseudoEncoding struct{}

// CursorPseudoEncoding returns the Cursor pseudo-encoding (type -239). The
// client decodes it unconditionally regardless of whether it is advertised,
// so callers need not include it in WithEncodings.
func CursorPseudoEncoding() Encoding { return cursorPseudoEncoding{} }

func (cursorPseudoEncoding) Type() int32 { return -239 }

func (cursorPseudoEncoding) Decode(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error) {
	cursor := &CursorShape{
		Width: rect.Width, Height: rect.Height,
		HotspotX: rect.X, HotspotY: rect.Y,
	}

	if rect.Width == 0 && rect.Height == 0 {
		return []Event{{Kind: EventSetCursor, Cursor: cursor}}, nil
	}

	if rect.Width > 256 || rect.Height > 256 {
		return nil, encodingError("cursorPseudoEncoding.Decode", "cursor dimensions too large", nil)
	}

	pixels, err := readRawPixels(r, &ctx.pixelFormat, &ctx.targetFormat, &ctx.colorMap, int(rect.Width)*int(rect.Height))
	if err != nil {
		return nil, encodingError("cursorPseudoEncoding.Decode", "failed to read cursor pixel data", err)
	}
	cursor.Pixels = pixels

	maskSize := calculateMaskDataSize(rect.Width, rect.Height)
	mask := make([]byte, maskSize)
	if _, err := io.ReadFull(r, mask); err != nil {
		return nil, encodingError("cursorPseudoEncoding.Decode", "failed to read cursor mask data", err)
	}
	if err := newInputValidator().ValidateBinaryData(mask, maskSize, maskSize); err != nil {
		return nil, encodingError("cursorPseudoEncoding.Decode", "invalid cursor mask data", err)
	}
	cursor.Mask = mask

	return []Event{{Kind: EventSetCursor, Cursor: cursor}}, nil
}

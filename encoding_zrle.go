// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// zrleEncoding decodes the ZRLE encoding: the rectangle's payload is a
// u32-length-prefixed zlib-compressed stream of 64x64 TRLE-style tiles.
// The zlib stream is persistent across rectangles for the lifetime of the
// connection (see decodeContext.zrleZlib); it is never recreated.
type zrleEncoding struct{}

// ZRLEEncoding returns the ZRLE encoding (type 16).
func ZRLEEncoding() Encoding { return zrleEncoding{} }

func (zrleEncoding) Type() int32 { return 16 }

const zrleTileDim = 64

func (zrleEncoding) Decode(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, encodingError("zrleEncoding.Decode", "failed to read compressed data length", err)
	}

	compressed := io.LimitReader(r, int64(length))
	stream, err := ctx.zrleZlib.reset(compressed)
	if err != nil {
		return nil, encodingError("zrleEncoding.Decode", "failed to prepare zlib stream", err)
	}

	pixels, err := decodeTileGrid(stream, &ctx.pixelFormat, &ctx.targetFormat, &ctx.colorMap, rect.Width, rect.Height, zrleTileDim, zrleMaxPackedPalette)
	if err != nil {
		return nil, encodingError("zrleEncoding.Decode", "failed to decode ZRLE tiles", err)
	}

	return []Event{{
		Kind: EventRawImage,
		Image: &ImageRect{
			X: rect.X, Y: rect.Y,
			Width: rect.Width, Height: rect.Height,
			Pixels: pixels,
		},
	}}, nil
}

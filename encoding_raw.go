// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "io"

// rawEncoding decodes uncompressed pixel data as defined in RFC 6143 Section 7.7.1.
type rawEncoding struct{}

// RawEncoding returns the Raw encoding (type 0). The client decodes it
// unconditionally regardless of whether it is advertised, so callers need
// not include it in WithEncodings.
func RawEncoding() Encoding { return rawEncoding{} }

func (rawEncoding) Type() int32 { return 0 }

// Decode reads width*height pixels in the negotiated pixel format, left to
// right then top to bottom, and emits a single EventRawImage.
func (rawEncoding) Decode(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error) {
	pixels, err := readRawPixels(r, &ctx.pixelFormat, &ctx.targetFormat, &ctx.colorMap, int(rect.Width)*int(rect.Height))
	if err != nil {
		return nil, encodingError("rawEncoding.Decode", "failed to read pixel data", err)
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

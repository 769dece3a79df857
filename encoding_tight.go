// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"encoding/binary"
	"io"
)

// tightEncoding decodes the Tight encoding (RFC 6143 Section 7.7.7): a
// control byte selects zlib stream resets and a compression filter, and the
// filter's payload is either sent raw or zlib-compressed depending on size.
type tightEncoding struct{}

// TightEncoding returns the Tight encoding (type 7).
func TightEncoding() Encoding { return tightEncoding{} }

func (tightEncoding) Type() int32 { return 7 }

// Tight filter identifiers, read from the control byte's basic-compression
// form or implied by its special forms.
const (
	tightFilterCopy     = 0
	tightFilterPalette  = 1
	tightFilterGradient = 2
)

// tightResetMask, tightStreamShift and tightStreamMask decompose the control
// byte's low nibble (stream reset flags) and stream-selector bits.
const (
	tightResetMask          = 0x0F
	tightExplicitFilterFlag = 0x40
	tightStreamShift        = 4
	tightStreamMask         = 0x03
	tightModeMask           = 0xF0
	tightModeFill           = 0x80
	tightModeJpeg           = 0x90
	tightModeReserved       = 0xA0

	// tightMinCompressedSize is the smallest payload Tight ever compresses;
	// anything shorter is sent as raw bytes with no compact-length prefix.
	tightMinCompressedSize = 12
)

func (tightEncoding) Decode(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error) {
	var control uint8
	if err := binary.Read(r, binary.BigEndian, &control); err != nil {
		return nil, encodingError("tightEncoding.Decode", "failed to read control byte", err)
	}

	resets := control & tightResetMask
	for i := 0; i < 4; i++ {
		if resets&(1<<uint(i)) != 0 {
			ctx.tightZlib[i].clear()
		}
	}

	switch control & tightModeMask {
	case tightModeFill:
		return decodeTightFill(ctx, rect, r)
	case tightModeJpeg:
		return decodeTightJpeg(rect, r)
	case tightModeReserved:
		return nil, protocolError("tightEncoding.Decode", "reserved Tight compression mode", nil)
	default:
		streamID := int(control>>tightStreamShift) & tightStreamMask
		filter := tightFilterCopy
		if control&tightExplicitFilterFlag != 0 {
			var filterByte uint8
			if err := binary.Read(r, binary.BigEndian, &filterByte); err != nil {
				return nil, encodingError("tightEncoding.Decode", "failed to read filter id", err)
			}
			filter = int(filterByte)
		}
		return decodeTightBasic(ctx, rect, r, streamID, filter)
	}
}

// decodeTightFill handles the fill compression mode: the whole rectangle is
// one solid color sent as a single compressed pixel, never zlib-compressed.
func decodeTightFill(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error) {
	px, err := readCPixel(r, &ctx.pixelFormat, &ctx.targetFormat, &ctx.colorMap)
	if err != nil {
		return nil, encodingError("decodeTightFill", "failed to read fill pixel", err)
	}

	out := make([]byte, int(rect.Width)*int(rect.Height)*bytesPerPixel(&ctx.targetFormat))
	fillPixel(out, px)

	return []Event{{
		Kind: EventRawImage,
		Image: &ImageRect{
			X: rect.X, Y: rect.Y,
			Width: rect.Width, Height: rect.Height,
			Pixels: out,
		},
	}}, nil
}

// decodeTightJpeg reads a compact-length-prefixed JPEG blob and hands it back
// undecoded; decoding JPEG is the caller's responsibility.
func decodeTightJpeg(rect Rectangle, r io.Reader) ([]Event, error) {
	length, err := readTightCompactLength(r)
	if err != nil {
		return nil, err
	}

	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, encodingError("decodeTightJpeg", "failed to read JPEG data", err)
	}

	return []Event{{
		Kind: EventJpegImage,
		Jpeg: &JpegRect{
			X: rect.X, Y: rect.Y,
			Width: rect.Width, Height: rect.Height,
			Data: data,
		},
	}}, nil
}

// decodeTightBasic handles the three basic-compression filters (copy,
// palette, gradient), each producing w*h pixels in the client's target format.
func decodeTightBasic(ctx *decodeContext, rect Rectangle, r io.Reader, streamID, filter int) ([]Event, error) {
	var (
		pixels []byte
		err    error
	)

	switch filter {
	case tightFilterCopy:
		pixels, err = decodeTightCopy(ctx, rect, r, streamID)
	case tightFilterPalette:
		pixels, err = decodeTightPalette(ctx, rect, r, streamID)
	case tightFilterGradient:
		pixels, err = decodeTightGradient(ctx, rect, r, streamID)
	default:
		return nil, protocolError("decodeTightBasic", "invalid Tight filter id", nil)
	}
	if err != nil {
		return nil, err
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

func decodeTightCopy(ctx *decodeContext, rect Rectangle, r io.Reader, streamID int) ([]byte, error) {
	cpSize := cpixelSize(&ctx.pixelFormat)
	raw, err := readTightPayload(ctx, r, streamID, int(rect.Width)*int(rect.Height)*cpSize)
	if err != nil {
		return nil, encodingError("decodeTightCopy", "failed to read payload", err)
	}

	dstBpp := bytesPerPixel(&ctx.targetFormat)
	out := make([]byte, int(rect.Width)*int(rect.Height)*dstBpp)
	src := bytes.NewReader(raw)
	for i := 0; i < int(rect.Width)*int(rect.Height); i++ {
		px, err := readCPixel(src, &ctx.pixelFormat, &ctx.targetFormat, &ctx.colorMap)
		if err != nil {
			return nil, encodingError("decodeTightCopy", "failed to translate pixel", err)
		}
		copy(out[i*dstBpp:(i+1)*dstBpp], px)
	}
	return out, nil
}

func decodeTightPalette(ctx *decodeContext, rect Rectangle, r io.Reader, streamID int) ([]byte, error) {
	var paletteSizeMinus1 uint8
	if err := binary.Read(r, binary.BigEndian, &paletteSizeMinus1); err != nil {
		return nil, encodingError("decodeTightPalette", "failed to read palette size", err)
	}
	paletteSize := int(paletteSizeMinus1) + 1

	palette := make([][]byte, paletteSize)
	for i := range palette {
		px, err := readCPixel(r, &ctx.pixelFormat, &ctx.targetFormat, &ctx.colorMap)
		if err != nil {
			return nil, encodingError("decodeTightPalette", "failed to read palette entry", err)
		}
		palette[i] = px
	}

	width, height := int(rect.Width), int(rect.Height)
	var payloadSize int
	if paletteSize <= 2 {
		payloadSize = ((width + 7) / 8) * height
	} else {
		payloadSize = width * height
	}

	raw, err := readTightPayload(ctx, r, streamID, payloadSize)
	if err != nil {
		return nil, encodingError("decodeTightPalette", "failed to read payload", err)
	}

	dstBpp := bytesPerPixel(&ctx.targetFormat)
	out := make([]byte, width*height*dstBpp)
	if paletteSize <= 2 {
		bytesPerRow := (width + 7) / 8
		for row := 0; row < height; row++ {
			rowBytes := raw[row*bytesPerRow : (row+1)*bytesPerRow]
			for col := 0; col < width; col++ {
				bit := (rowBytes[col/8] >> uint(7-col%8)) & 1
				off := (row*width + col) * dstBpp
				copy(out[off:off+dstBpp], palette[bit])
			}
		}
		return out, nil
	}

	for i, idx := range raw {
		if int(idx) >= paletteSize {
			return nil, protocolError("decodeTightPalette", "palette index out of range", nil)
		}
		copy(out[i*dstBpp:(i+1)*dstBpp], palette[idx])
	}
	return out, nil
}

// decodeTightGradient applies the gradient filter's left+above-top-left
// predictor to each channel byte of each cpixel, then translates the
// reconstructed pixels into the client's format.
func decodeTightGradient(ctx *decodeContext, rect Rectangle, r io.Reader, streamID int) ([]byte, error) {
	cpSize := cpixelSize(&ctx.pixelFormat)
	width, height := int(rect.Width), int(rect.Height)

	raw, err := readTightPayload(ctx, r, streamID, width*height*cpSize)
	if err != nil {
		return nil, encodingError("decodeTightGradient", "failed to read payload", err)
	}

	recon := make([]byte, width*height*cpSize)
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			cur := (y*width + x) * cpSize
			for b := 0; b < cpSize; b++ {
				var left, above, aboveLeft int
				if x > 0 {
					left = int(recon[cur-cpSize+b])
				}
				if y > 0 {
					above = int(recon[cur-width*cpSize+b])
				}
				if x > 0 && y > 0 {
					aboveLeft = int(recon[cur-width*cpSize-cpSize+b])
				}

				pred := left + above - aboveLeft
				if pred < 0 {
					pred = 0
				}
				if pred > 255 {
					pred = 255
				}

				recon[cur+b] = byte(pred) + raw[cur+b]
			}
		}
	}

	dstBpp := bytesPerPixel(&ctx.targetFormat)
	out := make([]byte, width*height*dstBpp)
	src := bytes.NewReader(recon)
	for i := 0; i < width*height; i++ {
		px, err := readCPixel(src, &ctx.pixelFormat, &ctx.targetFormat, &ctx.colorMap)
		if err != nil {
			return nil, encodingError("decodeTightGradient", "failed to translate pixel", err)
		}
		copy(out[i*dstBpp:(i+1)*dstBpp], px)
	}
	return out, nil
}

// readTightPayload reads a Tight basic-compression payload of the given
// decompressed size: raw bytes when below the compression threshold,
// otherwise a compact length followed by zlib data inflated through the
// selected persistent stream.
func readTightPayload(ctx *decodeContext, r io.Reader, streamID, size int) ([]byte, error) {
	if size < tightMinCompressedSize {
		raw := make([]byte, size)
		if _, err := io.ReadFull(r, raw); err != nil {
			return nil, ioError("readTightPayload", "failed to read uncompressed payload", err)
		}
		return raw, nil
	}

	length, err := readTightCompactLength(r)
	if err != nil {
		return nil, err
	}

	compressed := io.LimitReader(r, int64(length))
	stream, err := ctx.tightZlib[streamID].reset(compressed)
	if err != nil {
		return nil, err
	}

	raw := make([]byte, size)
	if _, err := io.ReadFull(stream, raw); err != nil {
		return nil, ioError("readTightPayload", "failed to inflate payload", err)
	}
	return raw, nil
}

// readTightCompactLength reads Tight's variable-length size field: up to
// three bytes, 7 bits each, little-endian, each but the last carrying a
// continuation bit in its top bit.
func readTightCompactLength(r io.Reader) (int, error) {
	length := 0
	for i := 0; i < 3; i++ {
		var b uint8
		if err := binary.Read(r, binary.BigEndian, &b); err != nil {
			return 0, ioError("readTightCompactLength", "failed to read compact length byte", err)
		}
		length |= int(b&0x7f) << uint(i*7)
		if b&0x80 == 0 {
			break
		}
	}
	return length, nil
}

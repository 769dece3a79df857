// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"fmt"
	"io"
)

// lastRectPseudoEncoding is the terminator sentinel (RFC 6143 extension): a
// rectangle with this encoding carries no payload and tells the decoder to
// stop processing the remaining rectangles in this FramebufferUpdate.
const lastRectPseudoEncoding = -224

// newEncodingMap builds the type -> decoder lookup used for each
// FramebufferUpdate, starting from the caller's negotiated encodings and
// always including the encodings the client must be able to decode
// regardless of what it advertised (Raw, Cursor and DesktopSize pseudo-encodings).
func newEncodingMap(negotiated []Encoding) map[int32]Encoding {
	encMap := make(map[int32]Encoding, len(negotiated)+3)
	for _, enc := range negotiated {
		encMap[enc.Type()] = enc
	}

	for _, enc := range []Encoding{
		rawEncoding{},
		cursorPseudoEncoding{},
		desktopSizePseudoEncoding{},
	} {
		encMap[enc.Type()] = enc
	}

	return encMap
}

// decodeServerMessage reads one server-to-client message (the message type
// byte plus its body) and returns the Events it produces. ctx carries the
// decoder state (pixel format, color map, persistent zlib streams) that
// outlives a single message.
func decodeServerMessage(ctx *decodeContext, r io.Reader, encMap map[int32]Encoding, fbWidth, fbHeight uint16) ([]Event, error) {
	var msgType uint8
	if err := binary.Read(r, binary.BigEndian, &msgType); err != nil {
		return nil, ioError("decodeServerMessage", "failed to read message type", err)
	}

	switch msgType {
	case 0:
		return decodeFramebufferUpdate(ctx, r, encMap, fbWidth, fbHeight)
	case 1:
		return decodeSetColorMapEntries(ctx, r)
	case 2:
		return decodeBell(r)
	case 3:
		return decodeServerCutText(r)
	default:
		return nil, unsupportedError("decodeServerMessage", fmt.Sprintf("unsupported server message type: %d", msgType), nil)
	}
}

// decodeFramebufferUpdate parses message type 0 (RFC 6143 Section 7.6.1): a
// padding byte, a rectangle count, then that many rectangle headers each
// followed by its encoding-specific payload. Encountering the LastRect
// pseudo-encoding stops processing immediately, without reading further
// rectangle headers.
func decodeFramebufferUpdate(ctx *decodeContext, r io.Reader, encMap map[int32]Encoding, fbWidth, fbHeight uint16) ([]Event, error) {
	validator := newInputValidator()

	var padding [1]byte
	if _, err := io.ReadFull(r, padding[:]); err != nil {
		return nil, ioError("decodeFramebufferUpdate", "failed to read padding", err)
	}

	var numRects uint16
	if err := binary.Read(r, binary.BigEndian, &numRects); err != nil {
		return nil, ioError("decodeFramebufferUpdate", "failed to read number of rectangles", err)
	}

	if numRects > MaxRectanglesPerUpdate {
		return nil, protocolError("decodeFramebufferUpdate",
			fmt.Sprintf("too many rectangles in update: %d (max %d)", numRects, MaxRectanglesPerUpdate), nil)
	}

	var events []Event
	for i := uint16(0); i < numRects; i++ {
		var rect Rectangle
		fields := []interface{}{&rect.X, &rect.Y, &rect.Width, &rect.Height, &rect.EncodingType}
		for _, field := range fields {
			if err := binary.Read(r, binary.BigEndian, field); err != nil {
				return nil, ioError("decodeFramebufferUpdate", "failed to read rectangle header", err)
			}
		}

		if rect.EncodingType == lastRectPseudoEncoding {
			break
		}

		if err := validator.ValidateEncodingType(rect.EncodingType); err != nil {
			return nil, protocolError("decodeFramebufferUpdate",
				fmt.Sprintf("invalid encoding type for rectangle %d", i), err)
		}

		if rect.EncodingType >= 0 {
			if err := validator.ValidateRectangle(rect.X, rect.Y, rect.Width, rect.Height, fbWidth, fbHeight); err != nil {
				return nil, protocolError("decodeFramebufferUpdate", fmt.Sprintf("invalid rectangle %d", i), err)
			}
		}

		enc, ok := encMap[rect.EncodingType]
		if !ok {
			return nil, unsupportedError("decodeFramebufferUpdate",
				fmt.Sprintf("unsupported encoding type: %d", rect.EncodingType), nil)
		}

		rectEvents, err := enc.Decode(ctx, rect, r)
		if err != nil {
			return nil, encodingError("decodeFramebufferUpdate",
				fmt.Sprintf("failed to decode rectangle %d", i), err)
		}
		events = append(events, rectEvents...)
	}

	return events, nil
}

// decodeSetColorMapEntries parses message type 1 (RFC 6143 Section 7.6.2).
// It updates the decode context's color map directly rather than emitting an
// event: the color map only matters to later Raw/TRLE/ZRLE pixel translation,
// it carries no information a caller needs to act on.
func decodeSetColorMapEntries(ctx *decodeContext, r io.Reader) ([]Event, error) {
	validator := newInputValidator()

	var padding [1]byte
	if _, err := io.ReadFull(r, padding[:]); err != nil {
		return nil, ioError("decodeSetColorMapEntries", "failed to read padding", err)
	}

	var firstColor, numColors uint16
	if err := binary.Read(r, binary.BigEndian, &firstColor); err != nil {
		return nil, ioError("decodeSetColorMapEntries", "failed to read first color index", err)
	}
	if err := binary.Read(r, binary.BigEndian, &numColors); err != nil {
		return nil, ioError("decodeSetColorMapEntries", "failed to read number of colors", err)
	}

	if err := validator.ValidateColorMapEntries(firstColor, numColors, ColorMapSize); err != nil {
		return nil, protocolError("decodeSetColorMapEntries", "invalid color map entries", err)
	}

	for i := uint16(0); i < numColors; i++ {
		var color Color
		fields := []interface{}{&color.R, &color.G, &color.B}
		for _, field := range fields {
			if err := binary.Read(r, binary.BigEndian, field); err != nil {
				return nil, ioError("decodeSetColorMapEntries", "failed to read color data", err)
			}
		}
		ctx.colorMap[firstColor+i] = color
	}

	return nil, nil
}

// decodeBell parses message type 2 (RFC 6143 Section 7.6.3), which carries
// no payload beyond the message type byte.
func decodeBell(io.Reader) ([]Event, error) {
	return []Event{{Kind: EventBell}}, nil
}

// decodeServerCutText parses message type 3 (RFC 6143 Section 7.6.4): a
// length-prefixed Latin-1 text blob. Malformed text is sanitized rather than
// rejected, matching how the rest of the client treats untrusted server text.
func decodeServerCutText(r io.Reader) ([]Event, error) {
	validator := newInputValidator()

	var padding [3]byte
	if _, err := io.ReadFull(r, padding[:]); err != nil {
		return nil, ioError("decodeServerCutText", "failed to read padding", err)
	}

	var textLength uint32
	if err := binary.Read(r, binary.BigEndian, &textLength); err != nil {
		return nil, ioError("decodeServerCutText", "failed to read text length", err)
	}

	if err := validator.ValidateMessageLength(textLength, MaxServerClipboardLength); err != nil {
		return nil, protocolError("decodeServerCutText", "invalid clipboard text length", err)
	}

	textBytes := make([]byte, textLength)
	if _, err := io.ReadFull(r, textBytes); err != nil {
		return nil, ioError("decodeServerCutText", "failed to read text data", err)
	}

	text := string(textBytes)
	if err := validator.ValidateTextData(text, int(MaxServerClipboardLength)); err != nil {
		text = validator.SanitizeText(text)
	}

	return []Event{{Kind: EventText, Text: text}}, nil
}

// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"encoding/binary"
	"io"
)

// copyRectEncoding decodes the CopyRect encoding (RFC 6143 Section 7.7.2):
// a same-framebuffer rectangle copy identified by a source coordinate pair,
// carrying no pixel data of its own.
type copyRectEncoding struct{}

// CopyRectEncoding returns the CopyRect encoding (type 1).
func CopyRectEncoding() Encoding { return copyRectEncoding{} }

func (copyRectEncoding) Type() int32 { return 1 }

func (copyRectEncoding) Decode(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error) {
	var srcX, srcY uint16
	if err := binary.Read(r, binary.BigEndian, &srcX); err != nil {
		return nil, encodingError("copyRectEncoding.Decode", "failed to read source X coordinate", err)
	}
	if err := binary.Read(r, binary.BigEndian, &srcY); err != nil {
		return nil, encodingError("copyRectEncoding.Decode", "failed to read source Y coordinate", err)
	}

	return []Event{{
		Kind: EventCopy,
		Copy: &CopyRect{
			X: rect.X, Y: rect.Y,
			Width: rect.Width, Height: rect.Height,
			SrcX: srcX, SrcY: srcY,
		},
	}}, nil
}

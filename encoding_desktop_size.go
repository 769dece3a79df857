// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import "io"

// desktopSizePseudoEncoding decodes the DesktopSize pseudo-encoding, which
// notifies the client of a framebuffer resize via the rectangle's dimensions
// and carries no pixel data.
type desktopSizePseudoEncoding struct{}

// DesktopSizePseudoEncoding returns the DesktopSize pseudo-encoding (type
// -223). The client decodes it unconditionally regardless of whether it is
// advertised, so callers need not include it in WithEncodings.
func DesktopSizePseudoEncoding() Encoding { return desktopSizePseudoEncoding{} }

func (desktopSizePseudoEncoding) Type() int32 { return -223 }

func (desktopSizePseudoEncoding) Decode(ctx *decodeContext, rect Rectangle, r io.Reader) ([]Event, error) {
	if rect.Width == 0 || rect.Height == 0 {
		return nil, validationError("desktopSizePseudoEncoding.Decode", "desktop dimensions cannot be zero", nil)
	}

	return []Event{{
		Kind:       EventSetResolution,
		Resolution: Resolution{Width: rect.Width, Height: rect.Height},
	}}, nil
}

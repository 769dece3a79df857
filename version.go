// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"io"
)

// ProtocolVersion is an ordered RFB protocol revision. Values compare numerically:
// RFB33 < RFB37 < RFB38.
type ProtocolVersion int

const (
	// RFB33 is the original 3.3 handshake shape (security type is a bare u32, no
	// client selection byte, no SecurityResult under None).
	RFB33 ProtocolVersion = iota
	// RFB37 adds the security-type list/selection byte but still skips
	// SecurityResult under None.
	RFB37
	// RFB38 additionally reads a SecurityResult under every security type, including None.
	RFB38
)

// String returns the version's canonical 12-byte banner text without the trailing newline.
func (v ProtocolVersion) String() string {
	switch v {
	case RFB33:
		return "RFB 003.003"
	case RFB37:
		return "RFB 003.007"
	case RFB38:
		return "RFB 003.008"
	default:
		return "RFB 003.003"
	}
}

// banner returns the full 12-byte wire representation, including the trailing newline.
func (v ProtocolVersion) banner() []byte {
	return []byte(v.String() + "\n")
}

// readVersionBanner reads the server's 12-byte version banner and parses it into a
// ProtocolVersion. Any banner that does not match exactly one of the three known
// strings pins to RFB33, per RFC 6143's guidance to assume the lowest common version
// when a server's exact revision cannot be determined.
func readVersionBanner(r io.Reader) (ProtocolVersion, error) {
	var raw [12]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		return RFB33, ioError("readVersionBanner", "failed to read version banner", err)
	}

	switch string(raw[:]) {
	case "RFB 003.003\n":
		return RFB33, nil
	case "RFB 003.007\n":
		return RFB37, nil
	case "RFB 003.008\n":
		return RFB38, nil
	default:
		return RFB33, nil
	}
}

// writeVersionBanner writes the 12-byte wire representation of v.
func writeVersionBanner(w io.Writer, v ProtocolVersion) error {
	if _, err := w.Write(v.banner()); err != nil {
		return ioError("writeVersionBanner", "failed to write version banner", err)
	}
	return nil
}

// negotiateVersion computes min(clientMax, serverOffered), the version the connector
// writes back and thereafter behaves as.
func negotiateVersion(clientMax, serverOffered ProtocolVersion) ProtocolVersion {
	if clientMax < serverOffered {
		return clientMax
	}
	return serverOffered
}

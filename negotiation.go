// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// SecurityType is the single-byte (RFB 3.7/3.8) or four-byte (RFB 3.3) wire value
// identifying an authentication mechanism.
type SecurityType uint8

const (
	// SecurityInvalid (0) signals handshake failure; a reason string follows.
	SecurityInvalid SecurityType = 0
	// SecurityNone (1) performs no authentication.
	SecurityNone SecurityType = 1
	// SecurityVncAuth (2) performs the classic DES challenge/response.
	SecurityVncAuth SecurityType = 2
	// SecurityVeNCrypt (19) layers a TLS-upgrading sub-handshake, see vencrypt.go.
	SecurityVeNCrypt SecurityType = 19
)

// Credentials holds the optional username and password supplied by the caller.
// Owned by the connector; consumed during authentication and not retained by
// the live client.
type Credentials struct {
	Username string
	Password string
}

// securityPreference is the fixed selection order the connector applies when more
// than one offered type is acceptable: VeNCrypt, then VncAuth, then None.
var securityPreference = []SecurityType{SecurityVeNCrypt, SecurityVncAuth, SecurityNone}

// chooseSecurityType picks the most preferred security type present in offered,
// or reports UnsupportedSecurity if none of the preference list is present.
func chooseSecurityType(offered []SecurityType) (SecurityType, error) {
	for _, pref := range securityPreference {
		for _, o := range offered {
			if o == pref {
				return pref, nil
			}
		}
	}
	return 0, unsupportedSecurityError("chooseSecurityType",
		fmt.Sprintf("no acceptable security type among %v", offered), nil)
}

// readSecurityOffer reads the server's offered security types, in the shape
// appropriate to the negotiated protocol version. Under RFB33 the server sends a
// single u32 type with no list; under RFB37/38 it sends a u8 count followed by
// that many u8 codes. A zero count/type signals failure, followed by a
// length-prefixed reason string.
func readSecurityOffer(r io.Reader, version ProtocolVersion) ([]SecurityType, error) {
	if version == RFB33 {
		var t uint32
		if err := binary.Read(r, binary.BigEndian, &t); err != nil {
			return nil, ioError("readSecurityOffer", "failed to read RFB33 security type", err)
		}
		if t == 0 {
			reason, err := readReasonString(r)
			if err != nil {
				return nil, err
			}
			return nil, serverError("readSecurityOffer", reason)
		}
		return []SecurityType{SecurityType(t)}, nil
	}

	var count uint8
	if err := binary.Read(r, binary.BigEndian, &count); err != nil {
		return nil, ioError("readSecurityOffer", "failed to read security type count", err)
	}
	if count == 0 {
		reason, err := readReasonString(r)
		if err != nil {
			return nil, err
		}
		return nil, serverError("readSecurityOffer", reason)
	}

	raw := make([]byte, count)
	if _, err := io.ReadFull(r, raw); err != nil {
		return nil, ioError("readSecurityOffer", "failed to read security type list", err)
	}
	if err := newInputValidator().ValidateSecurityTypes(raw); err != nil {
		return nil, err
	}
	types := make([]SecurityType, count)
	for i, b := range raw {
		types[i] = SecurityType(b)
	}
	return types, nil
}

// readReasonString reads a u32-length-prefixed UTF-8 reason string, as sent
// alongside a security failure or a WrongPassword/ServerError SecurityResult.
func readReasonString(r io.Reader) (string, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return "", ioError("readReasonString", "failed to read reason length", err)
	}
	if length > MaxServerClipboardLength {
		return "", protocolError("readReasonString", "reason string implausibly long", nil)
	}
	buf := make([]byte, length)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", ioError("readReasonString", "failed to read reason text", err)
	}
	return string(buf), nil
}

// writeSecurityChoice writes the client's chosen security type as a single byte,
// as required under RFB37/38. RFB33 never writes a selection byte: the server's
// single offered type is accepted unilaterally.
func writeSecurityChoice(w io.Writer, chosen SecurityType) error {
	if _, err := w.Write([]byte{uint8(chosen)}); err != nil {
		return ioError("writeSecurityChoice", "failed to write security type selection", err)
	}
	return nil
}

// securityResultMode reports whether a SecurityResult u32 must be read after a
// chosen security type's handshake completes, per spec.md §4.4/§8:
//   - RFB33/RFB37: only for VncAuth/VeNCrypt, never for None.
//   - RFB38: always.
func securityResultMode(version ProtocolVersion, chosen SecurityType) bool {
	switch version {
	case RFB33, RFB37:
		return chosen != SecurityNone
	default: // RFB38
		return true
	}
}

// readSecurityResult reads and interprets the SecurityResult u32 when
// securityResultMode indicates one is present. A non-zero result is a failure:
// under RFB38 a reason string follows and becomes ServerError; under RFB33/RFB37
// (only reachable here for VncAuth/VeNCrypt) no reason follows and the failure
// is WrongPassword.
func readSecurityResult(r io.Reader, version ProtocolVersion) error {
	var result uint32
	if err := binary.Read(r, binary.BigEndian, &result); err != nil {
		return ioError("readSecurityResult", "failed to read security result", err)
	}
	if result == 0 {
		return nil
	}

	if version == RFB38 {
		reason, err := readReasonString(r)
		if err != nil {
			return err
		}
		return serverError("readSecurityResult", reason)
	}
	return wrongPasswordError("readSecurityResult")
}

// vncAuthHandshake performs the VncAuth (security type 2) challenge/response:
// read the 16-byte challenge, derive the DES key from the password (bit-reversed,
// zero-padded to 8 bytes), encrypt two independent ECB blocks, and write the
// 16-byte response. A constant-time delay normalizes the timing of success and
// failure paths.
func vncAuthHandshake(ctx context.Context, rw io.ReadWriter, password string, logger Logger) error {
	if password == "" {
		return missingPasswordError("vncAuthHandshake", "VncAuth selected but no password configured")
	}

	select {
	case <-ctx.Done():
		return timeoutError("vncAuthHandshake", "cancelled before reading challenge", ctx.Err())
	default:
	}

	challenge := newProtectedBuffer(VNCChallengeSize)
	defer challenge.Clear()

	if _, err := io.ReadFull(rw, challenge.Data()); err != nil {
		return ioError("vncAuthHandshake", "failed to read challenge", err)
	}

	logger.Debug("vncauth challenge received")

	var response []byte
	err := constantTimeAuthenticate(logger, func() error {
		var encErr error
		response, encErr = encryptVNCChallenge(password, challenge.Data())
		return encErr
	}, 50*time.Millisecond)
	if err != nil {
		return authenticationError("vncAuthHandshake", "failed to encrypt challenge", err)
	}
	defer clearBytes(response)

	if _, err := rw.Write(response); err != nil {
		return ioError("vncAuthHandshake", "failed to write challenge response", err)
	}

	return nil
}

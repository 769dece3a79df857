// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"crypto/tls"
	"encoding/binary"
	"io"
)

// VeNCryptSubtype identifies one of the sub-authentication schemes VeNCrypt
// may offer after its version exchange.
type VeNCryptSubtype uint32

const (
	// VeNCryptPlain performs no TLS upgrade, only a plaintext username/password exchange.
	VeNCryptPlain VeNCryptSubtype = 256
	// VeNCryptTLSNone upgrades to TLS with no further authentication.
	VeNCryptTLSNone VeNCryptSubtype = 257
	// VeNCryptTLSVncAuth upgrades to TLS and performs VncAuth over it (not preferred by this client).
	VeNCryptTLSVncAuth VeNCryptSubtype = 258
	// VeNCryptTLSPlain upgrades to TLS and performs a plaintext username/password exchange over it.
	VeNCryptTLSPlain VeNCryptSubtype = 259
	// VeNCryptX509None upgrades to TLS with certificate-based auth, but this client never validates certificates.
	VeNCryptX509None VeNCryptSubtype = 260
	// VeNCryptX509VncAuth upgrades to TLS (certificate auth) plus VncAuth.
	VeNCryptX509VncAuth VeNCryptSubtype = 261
	// VeNCryptX509Plain upgrades to TLS (certificate auth) plus a plaintext username/password exchange.
	VeNCryptX509Plain VeNCryptSubtype = 262
)

// vencryptPreference is the fixed selection order applied over the server's
// offered subtypes: X509Plain, then TlsPlain, then Plain, then X509None, then
// TlsNone. VncAuth-under-TLS variants are never selected by this client
// because VncAuth is already handled directly as SecurityVncAuth.
var vencryptPreference = []VeNCryptSubtype{
	VeNCryptX509Plain, VeNCryptTLSPlain, VeNCryptPlain, VeNCryptX509None, VeNCryptTLSNone,
}

// requiresTLS reports whether subtype upgrades the stream to TLS before any
// further exchange.
func (t VeNCryptSubtype) requiresTLS() bool {
	switch t {
	case VeNCryptTLSNone, VeNCryptTLSVncAuth, VeNCryptTLSPlain,
		VeNCryptX509None, VeNCryptX509VncAuth, VeNCryptX509Plain:
		return true
	default:
		return false
	}
}

// requiresPlainAuth reports whether subtype performs a plaintext
// username/password exchange (over TLS when requiresTLS is also true).
func (t VeNCryptSubtype) requiresPlainAuth() bool {
	switch t {
	case VeNCryptPlain, VeNCryptTLSPlain, VeNCryptX509Plain:
		return true
	default:
		return false
	}
}

// vencryptHandshake performs the VeNCrypt sub-handshake (security type 19):
// read the server's major.minor version (major 0, minor 2 or later required),
// answer with 0.2 and read the server's status byte, read the server's offered
// subtype list, select the most preferred one, write the selection back,
// upgrade to TLS when the chosen subtype requires it, and perform a plain
// username/password exchange when the chosen subtype requires it.
//
// On return, *s has been replaced in place if a TLS upgrade occurred; the
// caller must keep using the same *Stream value afterward.
func vencryptHandshake(s *Stream, creds Credentials, serverName string, verify func(*tls.Config), logger Logger) error {
	var version [2]uint8
	if _, err := io.ReadFull(s, version[:]); err != nil {
		return ioError("vencryptHandshake", "failed to read server version", err)
	}
	if version[0] != 0 || version[1] < 2 {
		return unsupportedVencryptError("vencryptHandshake", "server VeNCrypt version below 0.2", nil)
	}

	if err := binary.Write(s, binary.BigEndian, uint8(0)); err != nil {
		return ioError("vencryptHandshake", "failed to write major version", err)
	}
	if err := binary.Write(s, binary.BigEndian, uint8(2)); err != nil {
		return ioError("vencryptHandshake", "failed to write minor version", err)
	}

	var ack uint8
	if err := binary.Read(s, binary.BigEndian, &ack); err != nil {
		return ioError("vencryptHandshake", "failed to read version ack", err)
	}
	if ack != 0 {
		return unsupportedVencryptError("vencryptHandshake", "server rejected VeNCrypt version 0.2", nil)
	}

	var count uint8
	if err := binary.Read(s, binary.BigEndian, &count); err != nil {
		return ioError("vencryptHandshake", "failed to read subtype count", err)
	}
	if count == 0 {
		return unsupportedVencryptError("vencryptHandshake", "server offered no VeNCrypt subtypes", nil)
	}

	offered := make([]VeNCryptSubtype, count)
	for i := range offered {
		var raw uint32
		if err := binary.Read(s, binary.BigEndian, &raw); err != nil {
			return ioError("vencryptHandshake", "failed to read subtype list", err)
		}
		offered[i] = VeNCryptSubtype(raw)
	}

	chosen, err := chooseVeNCryptSubtype(offered)
	if err != nil {
		return err
	}
	logger.Debug("vencrypt subtype chosen", Field{Key: "subtype", Value: uint32(chosen)})

	if err := binary.Write(s, binary.BigEndian, uint32(chosen)); err != nil {
		return ioError("vencryptHandshake", "failed to write chosen subtype", err)
	}

	var accepted uint8
	if err := binary.Read(s, binary.BigEndian, &accepted); err != nil {
		return ioError("vencryptHandshake", "failed to read subtype acceptance", err)
	}
	if accepted != 1 {
		return unsupportedVencryptError("vencryptHandshake", "server rejected chosen VeNCrypt subtype", nil)
	}

	if chosen.requiresTLS() {
		sni := serverName
		if sni == "" {
			sni = "localhost"
		}
		// #nosec G402 - VeNCrypt servers are commonly self-signed; absent a
		// caller-supplied verifier this client accepts any certificate.
		tlsCfg := &tls.Config{
			ServerName:         sni,
			InsecureSkipVerify: true,
		}
		if verify != nil {
			verify(tlsCfg)
		}
		if err := s.upgradeToTLS(tlsCfg); err != nil {
			return err
		}
	}

	if chosen.requiresPlainAuth() {
		if err := vencryptPlainAuth(s, creds); err != nil {
			return err
		}
	}

	return nil
}

// chooseVeNCryptSubtype applies vencryptPreference over the server's offered list.
func chooseVeNCryptSubtype(offered []VeNCryptSubtype) (VeNCryptSubtype, error) {
	for _, pref := range vencryptPreference {
		for _, o := range offered {
			if o == pref {
				return pref, nil
			}
		}
	}
	return 0, unsupportedVencryptError("chooseVeNCryptSubtype", "no acceptable VeNCrypt subtype offered", nil)
}

// vencryptPlainAuth writes the u32-length-prefixed username followed by the
// u32-length-prefixed password, as VeNCrypt's Plain/TLSPlain/X509Plain
// subtypes require. The trailing SecurityResult is read by the caller via
// readSecurityResult, same as every other security type.
func vencryptPlainAuth(rw io.ReadWriter, creds Credentials) error {
	if creds.Password == "" {
		return missingPasswordError("vencryptPlainAuth", "VeNCrypt plain auth selected but no password configured")
	}

	username := []byte(creds.Username)
	password := []byte(creds.Password)

	if err := binary.Write(rw, binary.BigEndian, uint32(len(username))); err != nil { // #nosec G115 - bounded by caller-supplied credentials
		return ioError("vencryptPlainAuth", "failed to write username length", err)
	}
	if _, err := rw.Write(username); err != nil {
		return ioError("vencryptPlainAuth", "failed to write username", err)
	}

	if err := binary.Write(rw, binary.BigEndian, uint32(len(password))); err != nil { // #nosec G115 - bounded by caller-supplied credentials
		return ioError("vencryptPlainAuth", "failed to write password length", err)
	}
	if _, err := rw.Write(password); err != nil {
		return ioError("vencryptPlainAuth", "failed to write password", err)
	}

	return nil
}

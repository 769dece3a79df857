// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

// Package vnc implements an asynchronous, client-side RFB (VNC) protocol
// engine as defined in RFC 6143, enabling Go applications to connect to and
// drive VNC servers over TCP, TLS (via VeNCrypt) or WebSocket transports.
//
// The engine is event-driven: Connect performs the full handshake (version
// negotiation, security, ServerInit) and returns a live Client backed by a
// reader task and a writer task. Callers poll decoded server events and push
// input events without touching the wire directly.
//
// # Basic Usage
//
//	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
//	defer cancel()
//
//	conn, err := net.Dial("tcp", "localhost:5900")
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	client, err := vnc.Connect(ctx, conn,
//		vnc.WithCredentials(vnc.Credentials{Password: "secret"}),
//		vnc.WithEncodings(vnc.TightEncoding(), vnc.ZRLEEncoding(), vnc.RawEncoding()),
//	)
//	if err != nil {
//		log.Fatal(err)
//	}
//	defer client.Close()
//
// # Event Handling
//
//	for {
//		ev, err := client.PollEvent(ctx)
//		if err != nil {
//			break
//		}
//		switch ev.Kind {
//		case vnc.EventRawImage:
//			// draw ev.Image
//		case vnc.EventSetResolution:
//			// resize the view to ev.Resolution
//		}
//	}
//
// # Input
//
//	client.Input(ctx, vnc.Input{Kind: vnc.InputKeyEvent, Key: vnc.KeyEvent{Keysym: 0x0061, Down: true}})
//	client.Input(ctx, vnc.Input{Kind: vnc.InputPointerEvent, Pointer: vnc.PointerEvent{Mask: vnc.ButtonLeft, X: 100, Y: 100}})
//
// # Error Handling
//
//	if vnc.IsVNCError(err, vnc.CodeWrongPassword) {
//		log.Printf("authentication failed: %v", err)
//	}
package vnc

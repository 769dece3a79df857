// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"context"
	"net"
	"os"
	"strings"
	"testing"
	"time"
)

// TestIntegration_RealVNCServers tests compatibility with real VNC server
// implementations. These require actual servers reachable on the network and
// are skipped unless explicitly enabled.
func TestIntegration_RealVNCServers(t *testing.T) {
	if os.Getenv("VNC_INTEGRATION_TESTS") != "1" {
		t.Skip("Skipping real VNC server tests. Set VNC_INTEGRATION_TESTS=1 to enable.")
	}

	testServers := []struct {
		name     string
		address  string
		password string
		timeout  time.Duration
	}{
		{
			name:     "TightVNC",
			address:  getEnvOrDefault("TIGHTVNC_ADDRESS", "localhost:5901"),
			password: getEnvOrDefault("TIGHTVNC_PASSWORD", ""),
			timeout:  30 * time.Second,
		},
		{
			name:     "RealVNC",
			address:  getEnvOrDefault("REALVNC_ADDRESS", "localhost:5902"),
			password: getEnvOrDefault("REALVNC_PASSWORD", ""),
			timeout:  30 * time.Second,
		},
		{
			name:     "TigerVNC",
			address:  getEnvOrDefault("TIGERVNC_ADDRESS", "localhost:5903"),
			password: getEnvOrDefault("TIGERVNC_PASSWORD", ""),
			timeout:  30 * time.Second,
		},
	}

	for _, server := range testServers {
		t.Run(server.name, func(t *testing.T) {
			testVNCServer(t, server.name, server.address, server.password, server.timeout)
		})
	}
}

// testVNCServer performs comprehensive testing against a real VNC server.
func testVNCServer(t *testing.T, serverName, address, password string, timeout time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	t.Logf("Testing %s server at %s", serverName, address)

	connectClient := func(t *testing.T, opts ...Option) *Client {
		t.Helper()
		conn, err := net.DialTimeout("tcp", address, 10*time.Second)
		if err != nil {
			t.Skipf("Cannot connect to %s server at %s: %v", serverName, address, err)
		}
		allOpts := append([]Option{WithEncodings(RawEncoding(), TightEncoding(), ZRLEEncoding())}, opts...)
		if password != "" {
			allOpts = append(allOpts, WithCredentials(Credentials{Password: password}))
		}
		client, err := Connect(ctx, conn, allOpts...)
		if err != nil {
			t.Skipf("Failed to establish VNC connection to %s: %v", serverName, err)
		}
		return client
	}

	t.Run("Connection establishment", func(t *testing.T) {
		client := connectClient(t)
		defer client.Close()

		width, height := client.Resolution()
		if width == 0 || height == 0 {
			t.Errorf("%s: invalid framebuffer dimensions: %dx%d", serverName, width, height)
		}
		t.Logf("%s: connected, framebuffer %dx%d, desktop %q", serverName, width, height, client.DesktopName())
	})

	t.Run("Framebuffer updates", func(t *testing.T) {
		client := connectClient(t)
		defer client.Close()

		found := false
		deadline := time.After(10 * time.Second)
		for !found {
			select {
			case <-deadline:
				t.Errorf("%s: timed out waiting for a framebuffer update", serverName)
				return
			default:
			}

			pollCtx, cancelPoll := context.WithTimeout(ctx, 10*time.Second)
			ev, err := client.PollEvent(pollCtx)
			cancelPoll()
			if err != nil {
				t.Fatalf("%s: PollEvent failed: %v", serverName, err)
			}
			if ev.Kind == EventRawImage || ev.Kind == EventJpegImage {
				found = true
			}
		}
	})

	t.Run("Input events", func(t *testing.T) {
		client := connectClient(t)
		defer client.Close()

		testKeys := []struct {
			name   string
			keysym uint32
		}{
			{"Letter A", 0x0041},
			{"Enter", 0xff0d},
			{"Escape", 0xff1b},
			{"Space", 0x0020},
		}

		for _, key := range testKeys {
			t.Run("Key "+key.name, func(t *testing.T) {
				if err := client.Input(ctx, Input{Kind: InputKeyEvent, Key: KeyEvent{Keysym: key.keysym, Down: true}}); err != nil {
					t.Errorf("%s: failed to send key down for %s: %v", serverName, key.name, err)
				}
				if err := client.Input(ctx, Input{Kind: InputKeyEvent, Key: KeyEvent{Keysym: key.keysym, Down: false}}); err != nil {
					t.Errorf("%s: failed to send key up for %s: %v", serverName, key.name, err)
				}
			})
		}

		t.Run("Pointer events", func(t *testing.T) {
			moves := []PointerEvent{
				{Mask: 0, X: 100, Y: 100},
				{Mask: ButtonLeft, X: 100, Y: 100},
				{Mask: 0, X: 100, Y: 100},
				{Mask: ButtonRight, X: 150, Y: 150},
				{Mask: 0, X: 150, Y: 150},
			}
			for _, pe := range moves {
				if err := client.Input(ctx, Input{Kind: InputPointerEvent, Pointer: pe}); err != nil {
					t.Errorf("%s: failed to send pointer event %+v: %v", serverName, pe, err)
				}
			}
		})

		t.Run("Clipboard", func(t *testing.T) {
			if err := client.Input(ctx, Input{Kind: InputCutText, CutText: "Hello VNC Server!"}); err != nil {
				t.Errorf("%s: failed to send clipboard text: %v", serverName, err)
			}
		})
	})

	t.Run("Error handling", func(t *testing.T) {
		client := connectClient(t)
		defer client.Close()

		if err := client.Input(ctx, Input{Kind: InputPointerEvent, Pointer: PointerEvent{X: 65535, Y: 65535}}); err != nil {
			t.Logf("%s: out-of-range coordinates properly rejected: %v", serverName, err)
		}

		longText := strings.Repeat("A", 10000)
		if err := client.Input(ctx, Input{Kind: InputCutText, CutText: longText}); err != nil {
			t.Logf("%s: long clipboard text properly handled: %v", serverName, err)
		}
	})
}

// TestIntegration_Stress performs stress testing against a real VNC server.
func TestIntegration_Stress(t *testing.T) {
	if os.Getenv("VNC_STRESS_TESTS") != "1" {
		t.Skip("Skipping VNC stress tests. Set VNC_STRESS_TESTS=1 to enable.")
	}

	address := getEnvOrDefault("VNC_STRESS_ADDRESS", "localhost:5900")
	password := getEnvOrDefault("VNC_STRESS_PASSWORD", "")

	t.Run("Multiple concurrent connections", func(t *testing.T) {
		const numConnections = 5
		const testDuration = 30 * time.Second

		ctx, cancel := context.WithTimeout(context.Background(), testDuration)
		defer cancel()

		for i := 0; i < numConnections; i++ {
			go func(connID int) {
				defer func() {
					if r := recover(); r != nil {
						t.Errorf("connection %d panicked: %v", connID, r)
					}
				}()

				conn, err := net.DialTimeout("tcp", address, 10*time.Second)
				if err != nil {
					t.Logf("connection %d failed to dial: %v", connID, err)
					return
				}

				opts := []Option{WithEncodings(RawEncoding())}
				if password != "" {
					opts = append(opts, WithCredentials(Credentials{Password: password}))
				}
				client, err := Connect(ctx, conn, opts...)
				if err != nil {
					t.Logf("connection %d failed to establish VNC: %v", connID, err)
					return
				}
				defer client.Close()

				ticker := time.NewTicker(100 * time.Millisecond)
				defer ticker.Stop()

				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if err := client.Input(ctx, Input{Kind: InputPointerEvent, Pointer: PointerEvent{X: uint16(connID * 10), Y: uint16(connID * 10)}}); err != nil {
							t.Logf("connection %d pointer event failed: %v", connID, err)
							return
						}
					}
				}
			}(i)
		}

		<-ctx.Done()
		t.Logf("stress test completed after %v", testDuration)
	})
}

// TestIntegration_ProtocolCompliance tests protocol compliance with real
// servers at the raw wire level, independent of the client implementation.
func TestIntegration_ProtocolCompliance(t *testing.T) {
	if os.Getenv("VNC_PROTOCOL_TESTS") != "1" {
		t.Skip("Skipping VNC protocol compliance tests. Set VNC_PROTOCOL_TESTS=1 to enable.")
	}

	address := getEnvOrDefault("VNC_PROTOCOL_ADDRESS", "localhost:5900")

	t.Run("Protocol version negotiation", func(t *testing.T) {
		conn, err := net.DialTimeout("tcp", address, 10*time.Second)
		if err != nil {
			t.Skipf("Cannot connect to server: %v", err)
		}
		defer conn.Close()

		version := make([]byte, 12)
		if _, err := conn.Read(version); err != nil {
			t.Fatalf("failed to read protocol version: %v", err)
		}

		versionStr := string(version)
		t.Logf("server protocol version: %s", versionStr)

		if !strings.HasPrefix(versionStr, "RFB ") {
			t.Errorf("invalid protocol version format: %s", versionStr)
		}

		if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
			t.Fatalf("failed to send protocol version: %v", err)
		}
	})

	t.Run("Security type negotiation", func(t *testing.T) {
		conn, err := net.DialTimeout("tcp", address, 10*time.Second)
		if err != nil {
			t.Skipf("Cannot connect to server: %v", err)
		}
		defer conn.Close()

		version := make([]byte, 12)
		if _, err := conn.Read(version); err != nil {
			t.Fatalf("failed to read version: %v", err)
		}
		if _, err := conn.Write([]byte("RFB 003.008\n")); err != nil {
			t.Fatalf("failed to write version: %v", err)
		}

		securityCount := make([]byte, 1)
		if _, err := conn.Read(securityCount); err != nil {
			t.Fatalf("failed to read security count: %v", err)
		}

		if securityCount[0] == 0 {
			reasonLength := make([]byte, 4)
			if _, err := conn.Read(reasonLength); err != nil {
				t.Fatalf("failed to read reason length: %v", err)
			}
			t.Skipf("server rejected connection")
		}

		securityTypes := make([]byte, securityCount[0])
		if _, err := conn.Read(securityTypes); err != nil {
			t.Fatalf("failed to read security types: %v", err)
		}

		t.Logf("server supports security types: %v", securityTypes)

		supportedFound := false
		for _, secType := range securityTypes {
			if secType == 1 || secType == 2 {
				supportedFound = true
				break
			}
		}
		if !supportedFound {
			t.Errorf("server offers no supported security types: %v", securityTypes)
		}
	})
}

// getEnvOrDefault returns the value of an environment variable or a default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

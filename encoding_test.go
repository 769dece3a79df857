// SPDX-License-Identifier: MIT
// SPDX-FileCopyrightText: Ryan Johnson

package vnc

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"testing"
)

func rgb32Format() PixelFormat {
	return PixelFormat{
		BPP: 32, Depth: 24, BigEndian: false, TrueColor: true,
		RedMax: 255, GreenMax: 255, BlueMax: 255,
		RedShift: 16, GreenShift: 8, BlueShift: 0,
	}
}

func rgb565Format() PixelFormat {
	return PixelFormat{
		BPP: 16, Depth: 16, BigEndian: false, TrueColor: true,
		RedMax: 31, GreenMax: 63, BlueMax: 31,
		RedShift: 11, GreenShift: 5, BlueShift: 0,
	}
}

func TestEncoding_Raw(t *testing.T) {
	tests := []struct {
		name   string
		pf     PixelFormat
		width  uint16
		height uint16
	}{
		{"32-bit 1x1", rgb32Format(), 1, 1},
		{"16-bit 2x2", rgb565Format(), 2, 2},
		{"32-bit 100x100", rgb32Format(), 100, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newDecodeContext(tt.pf)
			rect := Rectangle{X: 0, Y: 0, Width: tt.width, Height: tt.height}

			bpp := int(tt.pf.BPP) / 8
			data := make([]byte, int(tt.width)*int(tt.height)*bpp)
			for i := range data {
				data[i] = byte(i % 256)
			}

			events, err := RawEncoding().Decode(ctx, rect, bytes.NewReader(data))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(events) != 1 || events[0].Kind != EventRawImage {
				t.Fatalf("expected one EventRawImage, got %+v", events)
			}
			img := events[0].Image
			if img.Width != tt.width || img.Height != tt.height {
				t.Errorf("expected %dx%d, got %dx%d", tt.width, tt.height, img.Width, img.Height)
			}
			if len(img.Pixels) != int(tt.width)*int(tt.height)*4 {
				t.Errorf("expected %d BGRA bytes, got %d", int(tt.width)*int(tt.height)*4, len(img.Pixels))
			}
		})
	}
}

func TestEncoding_Raw_InsufficientData(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 0, Y: 0, Width: 1, Height: 1}
	_, err := RawEncoding().Decode(ctx, rect, bytes.NewReader([]byte{0xFF, 0x00}))
	if err == nil {
		t.Fatal("expected error for truncated pixel data")
	}
	if vncErr, ok := err.(*VNCError); !ok || vncErr.Code != CodeProtocol {
		t.Errorf("expected CodeProtocol, got %v", err)
	}
}

func TestEncoding_CopyRect(t *testing.T) {
	tests := []struct {
		name string
		srcX uint16
		srcY uint16
	}{
		{"from origin", 0, 0},
		{"from middle", 100, 200},
		{"from high coordinates", 1000, 1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := newDecodeContext(rgb32Format())
			rect := Rectangle{X: 10, Y: 20, Width: 50, Height: 30}

			var buf bytes.Buffer
			binary.Write(&buf, binary.BigEndian, tt.srcX)
			binary.Write(&buf, binary.BigEndian, tt.srcY)

			events, err := CopyRectEncoding().Decode(ctx, rect, bytes.NewReader(buf.Bytes()))
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(events) != 1 || events[0].Kind != EventCopy {
				t.Fatalf("expected one EventCopy, got %+v", events)
			}
			copy := events[0].Copy
			if copy.SrcX != tt.srcX || copy.SrcY != tt.srcY {
				t.Errorf("expected src (%d,%d), got (%d,%d)", tt.srcX, tt.srcY, copy.SrcX, copy.SrcY)
			}
			if copy.X != rect.X || copy.Y != rect.Y || copy.Width != rect.Width || copy.Height != rect.Height {
				t.Errorf("expected destination rect %+v, got X=%d Y=%d W=%d H=%d", rect, copy.X, copy.Y, copy.Width, copy.Height)
			}
		})
	}
}

func TestEncoding_CopyRect_InsufficientData(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 0, Y: 0, Width: 1, Height: 1}
	_, err := CopyRectEncoding().Decode(ctx, rect, bytes.NewReader([]byte{0x00, 0x10}))
	if err == nil {
		t.Fatal("expected error for truncated source coordinates")
	}
}

func TestEncoding_TRLE_RawTile(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 0, Y: 0, Width: 4, Height: 4}

	var buf bytes.Buffer
	buf.WriteByte(0) // subencoding 0: raw
	for i := 0; i < 4*4; i++ {
		buf.Write([]byte{byte(i), byte(i + 1), byte(i + 2)}) // 3-byte CPIXEL
	}

	events, err := TRLEEncoding().Decode(ctx, rect, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventRawImage {
		t.Fatalf("expected one EventRawImage, got %+v", events)
	}
	if len(events[0].Image.Pixels) != 4*4*4 {
		t.Errorf("expected 64 BGRA bytes, got %d", len(events[0].Image.Pixels))
	}
}

func TestEncoding_TRLE_SolidTile(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 0, Y: 0, Width: 16, Height: 16}

	var buf bytes.Buffer
	buf.WriteByte(1) // subencoding 1: solid
	buf.Write([]byte{0xFF, 0x00, 0x00}) // 3-byte CPIXEL

	events, err := TRLEEncoding().Decode(ctx, rect, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	img := events[0].Image
	if len(img.Pixels) != 16*16*4 {
		t.Fatalf("expected %d bytes, got %d", 16*16*4, len(img.Pixels))
	}
	first := img.Pixels[0:4]
	for i := 4; i < len(img.Pixels); i += 4 {
		if !bytes.Equal(img.Pixels[i:i+4], first) {
			t.Fatalf("expected every pixel to match the solid color at offset %d", i)
		}
	}
}

func TestEncoding_TRLE_InvalidSubencoding(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 0, Y: 0, Width: 16, Height: 16}
	_, err := TRLEEncoding().Decode(ctx, rect, bytes.NewReader([]byte{129}))
	if err == nil {
		t.Fatal("expected error for reserved subencoding 129")
	}
}

func TestEncoding_DesktopSizePseudo(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{Width: 1024, Height: 768}

	events, err := DesktopSizePseudoEncoding().Decode(ctx, rect, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventSetResolution {
		t.Fatalf("expected one EventSetResolution, got %+v", events)
	}
	if events[0].Resolution.Width != 1024 || events[0].Resolution.Height != 768 {
		t.Errorf("expected 1024x768, got %+v", events[0].Resolution)
	}
}

func TestEncoding_DesktopSizePseudo_ZeroDimensions(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{Width: 0, Height: 0}
	_, err := DesktopSizePseudoEncoding().Decode(ctx, rect, bytes.NewReader(nil))
	if err == nil {
		t.Fatal("expected error for zero desktop dimensions")
	}
}

func TestEncoding_CursorPseudo_EmptyShape(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 5, Y: 7, Width: 0, Height: 0}

	events, err := CursorPseudoEncoding().Decode(ctx, rect, bytes.NewReader(nil))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(events) != 1 || events[0].Kind != EventSetCursor {
		t.Fatalf("expected one EventSetCursor, got %+v", events)
	}
	if events[0].Cursor.HotspotX != 5 || events[0].Cursor.HotspotY != 7 {
		t.Errorf("expected hotspot (5,7), got (%d,%d)", events[0].Cursor.HotspotX, events[0].Cursor.HotspotY)
	}
}

func TestEncoding_CursorPseudo_WithPixels(t *testing.T) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 0, Y: 0, Width: 8, Height: 8}

	var buf bytes.Buffer
	for i := 0; i < 8*8; i++ {
		buf.Write([]byte{0, 0, 0, 0})
	}
	maskSize := calculateMaskDataSize(8, 8)
	buf.Write(make([]byte, maskSize))

	events, err := CursorPseudoEncoding().Decode(ctx, rect, bytes.NewReader(buf.Bytes()))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	cursor := events[0].Cursor
	if len(cursor.Pixels) != 8*8*4 {
		t.Errorf("expected %d pixel bytes, got %d", 8*8*4, len(cursor.Pixels))
	}
	if len(cursor.Mask) != maskSize {
		t.Errorf("expected %d mask bytes, got %d", maskSize, len(cursor.Mask))
	}
}

func TestEncoding_Interface(t *testing.T) {
	encodings := []struct {
		enc  Encoding
		want int32
	}{
		{RawEncoding(), 0},
		{CopyRectEncoding(), 1},
		{TightEncoding(), 7},
		{TRLEEncoding(), 15},
		{ZRLEEncoding(), 16},
		{CursorPseudoEncoding(), -239},
		{DesktopSizePseudoEncoding(), -223},
	}

	for _, tt := range encodings {
		if got := tt.enc.Type(); got != tt.want {
			t.Errorf("expected encoding type %d, got %d", tt.want, got)
		}
	}
}

func TestEncoding_PixelFormatCompatibility(t *testing.T) {
	formats := []PixelFormat{
		rgb32Format(),
		rgb565Format(),
		{BPP: 8, Depth: 8, BigEndian: false, TrueColor: false},
	}

	for _, pf := range formats {
		t.Run(fmt.Sprintf("PixelFormat_%d_bit", pf.BPP), func(t *testing.T) {
			ctx := newDecodeContext(pf)
			rect := Rectangle{X: 0, Y: 0, Width: 1, Height: 1}

			data := make([]byte, int(pf.BPP)/8)
			events, err := RawEncoding().Decode(ctx, rect, bytes.NewReader(data))
			if err != nil {
				t.Fatalf("Raw encoding failed with %d-bit pixel format: %v", pf.BPP, err)
			}
			if len(events[0].Image.Pixels) != 4 {
				t.Errorf("expected 1 translated BGRA pixel, got %d bytes", len(events[0].Image.Pixels))
			}
		})
	}
}

func BenchmarkRawEncoding(b *testing.B) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 0, Y: 0, Width: 100, Height: 100}
	data := make([]byte, 100*100*4)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := RawEncoding().Decode(ctx, rect, bytes.NewReader(data)); err != nil {
			b.Fatalf("encoding failed: %v", err)
		}
	}
}

func BenchmarkCopyRectEncoding(b *testing.B) {
	ctx := newDecodeContext(rgb32Format())
	rect := Rectangle{X: 10, Y: 20, Width: 50, Height: 30}

	var buf bytes.Buffer
	binary.Write(&buf, binary.BigEndian, uint16(100))
	binary.Write(&buf, binary.BigEndian, uint16(200))
	data := buf.Bytes()

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		if _, err := CopyRectEncoding().Decode(ctx, rect, bytes.NewReader(data)); err != nil {
			b.Fatalf("encoding failed: %v", err)
		}
	}
}

package tinycompress

import (
	"bytes"
	"compress/zlib"
	"errors"
	"io"
	"testing"
)

func inflate(t *testing.T, data []byte) []byte {
	t.Helper()
	r, err := zlib.NewReader(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("zlib.NewReader: %v", err)
	}
	out, err := io.ReadAll(r)
	if err != nil {
		t.Fatalf("inflate: %v", err)
	}
	return out
}

func TestCompressRoundTrip(t *testing.T) {
	tests := []struct {
		name string
		size int
	}{
		{"empty", 0},
		{"small", 100},
		{"one block", MaxBlock},
		{"two blocks", MaxBlock + 10},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			data := make([]byte, tt.size)
			for i := range data {
				data[i] = byte(i * 7)
			}
			if got := inflate(t, Compress(data)); !bytes.Equal(got, data) {
				t.Errorf("Round trip of %d bytes returned %d bytes", len(data), len(got))
			}
		})
	}
}

func TestWriterSmallBlocks(t *testing.T) {
	var buf bytes.Buffer
	w := NewWriterSize(&buf, 16)
	want := []byte(`{"version":"iioboard","devices":[{"name":"ad4696"}]}`)
	for i := 0; i < len(want); i += 5 {
		end := i + 5
		if end > len(want) {
			end = len(want)
		}
		if _, err := w.Write(want[i:end]); err != nil {
			t.Fatal(err)
		}
	}
	if err := w.Close(); err != nil {
		t.Fatal(err)
	}
	if got := inflate(t, buf.Bytes()); !bytes.Equal(got, want) {
		t.Errorf("Got %q", got)
	}
	if _, err := w.Write([]byte{1}); !errors.Is(err, ErrClosed) {
		t.Errorf("Expected ErrClosed, got %v", err)
	}
}

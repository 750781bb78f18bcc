// Package tinycompress writes zlib streams using stored (uncompressed)
// DEFLATE blocks. Any zlib reader can inflate the output, and the writer
// needs no tables, which keeps it small enough for the firmware.
package tinycompress

import (
	"errors"
	"hash"
	"hash/adler32"
	"io"
)

const (
	// Largest payload of one stored block
	MaxBlock = 0xFFFF

	zlibCMF = 0x78
	zlibFLG = 0x01 // fastest level, FCHECK makes 0x7801 divisible by 31
)

var ErrClosed = errors.New("tinycompress: write after close")

// Writer is an io.WriteCloser producing a zlib stream. Data is buffered up
// to blockSize bytes and flushed as one stored block.
type Writer struct {
	out     io.Writer
	block   []byte
	adler   hash.Hash32
	started bool
	closed  bool
	hdr     [5]byte
}

// NewWriter buffers blocks of up to MaxBlock bytes
func NewWriter(w io.Writer) *Writer {
	return NewWriterSize(w, MaxBlock)
}

// NewWriterSize buffers blocks of blockSize bytes, clamped to [1, MaxBlock]
func NewWriterSize(w io.Writer, blockSize int) *Writer {
	if blockSize <= 0 || blockSize > MaxBlock {
		blockSize = MaxBlock
	}
	return &Writer{
		out:   w,
		block: make([]byte, 0, blockSize),
		adler: adler32.New(),
	}
}

func (w *Writer) Write(p []byte) (int, error) {
	if w.closed {
		return 0, ErrClosed
	}
	n := len(p)
	for len(p) > 0 {
		room := cap(w.block) - len(w.block)
		if room == 0 {
			if err := w.flushBlock(false); err != nil {
				return n - len(p), err
			}
			continue
		}
		if room > len(p) {
			room = len(p)
		}
		w.block = append(w.block, p[:room]...)
		p = p[room:]
	}
	return n, nil
}

func (w *Writer) flushBlock(final bool) error {
	if !w.started {
		if _, err := w.out.Write([]byte{zlibCMF, zlibFLG}); err != nil {
			return err
		}
		w.started = true
	}
	n := uint16(len(w.block))
	w.hdr[0] = 0x00
	if final {
		w.hdr[0] = 0x01
	}
	w.hdr[1], w.hdr[2] = byte(n), byte(n>>8)
	w.hdr[3], w.hdr[4] = byte(^n), byte(^n>>8)
	if _, err := w.out.Write(w.hdr[:]); err != nil {
		return err
	}
	if _, err := w.out.Write(w.block); err != nil {
		return err
	}
	w.adler.Write(w.block)
	w.block = w.block[:0]
	return nil
}

// Close writes the final block and the Adler-32 trailer
func (w *Writer) Close() error {
	if w.closed {
		return nil
	}
	w.closed = true
	if err := w.flushBlock(true); err != nil {
		return err
	}
	sum := w.adler.Sum32()
	_, err := w.out.Write([]byte{byte(sum >> 24), byte(sum >> 16), byte(sum >> 8), byte(sum)})
	return err
}

// Compress wraps data in a single zlib stream
func Compress(data []byte) []byte {
	out := &sliceWriter{buf: make([]byte, 0, len(data)+len(data)/MaxBlock*5+11)}
	w := NewWriter(out)
	_, _ = w.Write(data)
	_ = w.Close()
	return out.buf
}

type sliceWriter struct {
	buf []byte
}

func (s *sliceWriter) Write(p []byte) (int, error) {
	s.buf = append(s.buf, p...)
	return len(p), nil
}

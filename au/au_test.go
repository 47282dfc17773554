package au

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"testing"
)

// seekBuffer is a minimal in-memory io.WriteSeeker for testing.
type seekBuffer struct {
	data []byte
	pos  int
}

func (b *seekBuffer) Write(p []byte) (int, error) {
	if need := b.pos + len(p); need > len(b.data) {
		b.data = append(b.data, make([]byte, need-len(b.data))...)
	}
	copy(b.data[b.pos:], p)
	b.pos += len(p)
	return len(p), nil
}

func (b *seekBuffer) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		b.pos = int(offset)
	case io.SeekCurrent:
		b.pos += int(offset)
	case io.SeekEnd:
		b.pos = len(b.data) + int(offset)
	default:
		return 0, errors.New("bad whence")
	}
	return int64(b.pos), nil
}

func TestWriterHeaderAndData(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, 44100)
	if err != nil {
		t.Fatal(err)
	}

	samples := []int16{0, 100, -100, 32767, -32768, 1}
	if err := w.WriteFrames(samples); err != nil {
		t.Fatal(err)
	}
	total, err := w.Finish()
	if err != nil {
		t.Fatal(err)
	}

	if want := int64(headerSize + len(samples)*2); total != want {
		t.Fatalf("total length %d, want %d", total, want)
	}

	if got := binary.BigEndian.Uint32(buf.data[0:4]); got != magic {
		t.Errorf("magic %#x", got)
	}
	if got := binary.BigEndian.Uint32(buf.data[4:8]); got != headerSize {
		t.Errorf("data offset %d", got)
	}
	if got := binary.BigEndian.Uint32(buf.data[8:12]); got != uint32(len(samples)*2) {
		t.Errorf("data size %d, want %d", got, len(samples)*2)
	}
	if got := binary.BigEndian.Uint32(buf.data[12:16]); got != EncodingPCM16 {
		t.Errorf("encoding %d", got)
	}
	if got := binary.BigEndian.Uint32(buf.data[16:20]); got != 44100 {
		t.Errorf("sample rate %d", got)
	}
	if got := binary.BigEndian.Uint32(buf.data[20:24]); got != 2 {
		t.Errorf("channels %d", got)
	}

	// Samples are big-endian
	var back []int16
	back = make([]int16, len(samples))
	if err := binary.Read(bytes.NewReader(buf.data[headerSize:]), binary.BigEndian, back); err != nil {
		t.Fatal(err)
	}
	for i, s := range samples {
		if back[i] != s {
			t.Errorf("sample %d: %d != %d", i, back[i], s)
		}
	}
}

func TestWriterMultipleBlocks(t *testing.T) {
	buf := &seekBuffer{}
	w, err := NewWriter(buf, 48000)
	if err != nil {
		t.Fatal(err)
	}

	for i := 0; i < 10; i++ {
		if err := w.WriteFrames(make([]int16, 64)); err != nil {
			t.Fatal(err)
		}
	}
	if _, err := w.Finish(); err != nil {
		t.Fatal(err)
	}

	if got := binary.BigEndian.Uint32(buf.data[8:12]); got != 10*64*2 {
		t.Errorf("data size %d after multiple writes", got)
	}
}

// A very simple Sun AU file writer
// The AU container is about the simplest PCM encapsulation there is: a
// 24 byte big-endian header followed by big-endian samples. The data
// size field is patched in afterwards so the audio can be streamed out
// without knowing its length up front.
// See https://en.wikipedia.org/wiki/Au_file_format for format
// documentation.

package au

import (
	"encoding/binary"
	"io"
)

const (
	magic = 0x2e736e64 // ".snd"

	// Encoding 3 is 16-bit linear PCM
	EncodingPCM16 = 3

	headerSize = 24
)

type Writer struct {
	WS io.WriteSeeker

	written int64
}

type header struct {
	Magic      uint32
	DataOffset uint32
	DataSize   uint32
	Encoding   uint32
	SampleRate uint32
	Channels   uint32
}

// NewWriter writes an AU header for 16-bit stereo PCM at the given
// sample rate and returns a Writer for the sample data.
func NewWriter(ws io.WriteSeeker, sampleRate int) (*Writer, error) {
	hdr := header{
		Magic:      magic,
		DataOffset: headerSize,
		DataSize:   0xFFFFFFFF, // unknown for now, patched by Finish
		Encoding:   EncodingPCM16,
		SampleRate: uint32(sampleRate),
		Channels:   2,
	}
	if err := binary.Write(ws, binary.BigEndian, hdr); err != nil {
		return nil, err
	}

	return &Writer{WS: ws}, nil
}

// WriteFrames appends interleaved stereo samples (LRLR...) to the file.
func (w *Writer) WriteFrames(samples []int16) error {
	if err := binary.Write(w.WS, binary.BigEndian, samples); err != nil {
		return err
	}
	w.written += int64(len(samples)) * 2
	return nil
}

// Finish patches the data size into the header and returns the total
// file length.
func (w *Writer) Finish() (int64, error) {
	if _, err := w.WS.Seek(8, io.SeekStart); err != nil {
		return 0, err
	}
	if err := binary.Write(w.WS, binary.BigEndian, uint32(w.written)); err != nil {
		return 0, err
	}
	if _, err := w.WS.Seek(0, io.SeekEnd); err != nil {
		return 0, err
	}

	return headerSize + w.written, nil
}

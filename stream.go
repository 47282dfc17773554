package xmplayer

import (
	"errors"
	"io"
)

// Stream wraps a Player, making it possible to Read() its PCM bytes.
//
// Read produces 16-bit little endian interleaved stereo PCM; this is
// what the common Go audio player packages expect, so a Stream can be
// handed straight to them as an io.Reader.
type Stream struct {
	player *Player

	scratch []int16
	pcmbuf  []byte
	pending []byte
	bytePos int
}

// NewStream returns a Stream reading from the player. The player's loop
// limit decides when the stream ends: with no limit set Read never
// returns io.EOF.
func NewStream(player *Player) *Stream {
	return &Stream{
		player:  player,
		scratch: make([]int16, 2048*2),
	}
}

// Read puts the next PCM bytes into b.
//
// When the player has stopped (end of song or an explicit Stop) the
// remaining generated audio is drained and io.EOF is returned.
func (s *Stream) Read(b []byte) (int, error) {
	written := 0

	for len(b) > 0 {
		if len(s.pending) == 0 {
			if !s.player.IsPlaying() {
				if written == 0 {
					return 0, io.EOF
				}
				break
			}
			frames := s.player.GenerateAudio(s.scratch)
			if frames == 0 {
				// The player stopped inside this call, the next
				// iteration sees it and finishes up
				continue
			}
			s.pending = s.pcmBytes(s.scratch[:frames*2])
		}

		n := copy(b, s.pending)
		s.pending = s.pending[n:]
		b = b[n:]
		written += n
	}

	s.bytePos += written
	return written, nil
}

// Seek partially implements io.Seeker.
//
// You can use it for two things:
//  1. (0, SeekStart) for rewind
//  2. (0, SeekCurrent) to get the byte pos inside the stream
func (s *Stream) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
		if offset == 0 {
			s.player.Reset()
			s.player.Start()
			s.pending = nil
			s.bytePos = 0
			return 0, nil
		}

	case io.SeekCurrent:
		if offset == 0 {
			return int64(s.bytePos), nil
		}
	}

	return 0, errors.New("unsupported Seek call")
}

func (s *Stream) pcmBytes(samples []int16) []byte {
	if cap(s.pcmbuf) < len(samples)*2 {
		s.pcmbuf = make([]byte, len(samples)*2)
	}
	out := s.pcmbuf[:len(samples)*2]
	for i, v := range samples {
		out[i*2] = byte(uint16(v))
		out[i*2+1] = byte(uint16(v) >> 8)
	}
	return out
}

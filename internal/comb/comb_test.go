package comb

import "testing"

func TestStereoEchoDecay(t *testing.T) {
	// Left delay 2 frames, right 3, feedback 128/256 = one half
	s := NewStereo(2, 1, 128)

	buf := make([]int16, 16*2)
	buf[0] = 1000 // left impulse
	buf[1] = -512 // right impulse
	s.Process(buf)

	if buf[0] != 1000 || buf[1] != -512 {
		t.Fatalf("dry signal mangled: %d %d", buf[0], buf[1])
	}

	// Left echoes land every 2 frames, halving each time
	for i, want := range []int16{500, 250, 125} {
		frame := 2 * (i + 1)
		if got := buf[frame*2]; got != want {
			t.Fatalf("left echo %d at frame %d: got %d, want %d", i, frame, got, want)
		}
	}

	// Right echoes land every 3 frames
	for i, want := range []int16{-256, -128, -64} {
		frame := 3 * (i + 1)
		if got := buf[frame*2+1]; got != want {
			t.Fatalf("right echo %d at frame %d: got %d, want %d", i, frame, got, want)
		}
	}
}

func TestStereoChannelSeparation(t *testing.T) {
	s := NewStereo(4, 2, 200)

	buf := make([]int16, 64*2)
	buf[0] = 1000 // only the left channel carries signal
	s.Process(buf)

	for i := 1; i < len(buf); i += 2 {
		if buf[i] != 0 {
			t.Fatalf("left impulse leaked into right at sample %d: %d", i, buf[i])
		}
	}
}

func TestStereoStateAcrossBlocks(t *testing.T) {
	// One big block and the same audio split into small blocks must
	// come out identical.
	a := NewStereo(7, 3, 100)
	b := NewStereo(7, 3, 100)

	src := make([]int16, 128*2)
	for i := range src {
		src[i] = int16((i * 37) % 4001)
	}

	one := append([]int16{}, src...)
	a.Process(one)

	split := append([]int16{}, src...)
	for off := 0; off < len(split); off += 30 {
		end := off + 30
		if end > len(split) {
			end = len(split)
		}
		b.Process(split[off:end])
	}

	for i := range one {
		if one[i] != split[i] {
			t.Fatalf("block size changed the output at %d: %d vs %d", i, one[i], split[i])
		}
	}
}

func TestStereoClamps(t *testing.T) {
	s := NewStereo(1, 0, 255)

	buf := make([]int16, 32*2)
	for i := range buf {
		buf[i] = 32767
	}
	s.Process(buf)
	for i, v := range buf {
		if v < 0 {
			t.Fatalf("feedback overflowed at %d: %d", i, v)
		}
	}
}

func TestZeroGainIsTransparent(t *testing.T) {
	s := NewStereo(5, 2, 0)

	buf := []int16{100, -100, 3000, -3000, 0, 0, 7, -7}
	want := append([]int16{}, buf...)
	s.Process(buf)
	for i := range buf {
		if buf[i] != want[i] {
			t.Fatalf("zero gain altered sample %d: %d vs %d", i, buf[i], want[i])
		}
	}
}

package xmplayer

import (
	"strconv"
	"strings"
	"testing"
)

// Test songs are built straight in the internal representation from
// rows of text. A column looks like
//
//	C-4 01 40 A0F  - play C-4 with instrument 1, volume column 0x40,
//	                 effect A with parameter 0x0F
//	... .. .. ...  - nothing
//	^^^ .. .. ...  - key off
//
// Effects use the FT2 display characters, so "G40" is set global
// volume and "ED3" is a note delay.

const testSampleLength = 4000

func newTestSong(patterns [][][]string) *Song {
	nChannels := len(patterns[0][0])

	song := &Song{
		Title:    "testsong",
		Channels: nChannels,
		Length:   1,
		Orders:   []byte{0},
		Tempo:    2,
		BPM:      125,
		freqType: linearFrequencies,
	}

	for _, pat := range patterns {
		p := Pattern{
			RowsIndex: len(song.Slots) / nChannels,
			NumRows:   len(pat),
		}
		for _, row := range pat {
			if len(row) != nChannels {
				panic("ragged test pattern")
			}
			for _, col := range row {
				song.Slots = append(song.Slots, decodeTestSlot(col))
			}
		}
		song.Patterns = append(song.Patterns, p)
	}

	// Two instruments with one sample each, each carrying its own
	// deterministic noise waveform so that audio comparisons see real
	// signal.
	song.addTestInstrument("testins1", 60, testWaveform(testSampleLength, 1))
	song.addTestInstrument("testins2", 55, testWaveform(testSampleLength, 2))

	return song
}

func (song *Song) addTestInstrument(name string, volume uint8, data []int16) *Instrument {
	song.Instruments = append(song.Instruments, Instrument{
		Name:         name,
		SamplesIndex: len(song.Samples),
		NumSamples:   1,
	})
	song.Samples = append(song.Samples, Sample{
		Name:    name,
		Index:   len(song.WaveData),
		Length:  len(data),
		Volume:  volume,
		Panning: maxPanning / 2,
	})
	song.WaveData = append(song.WaveData, data...)
	return &song.Instruments[len(song.Instruments)-1]
}

// testWaveform produces a deterministic pseudo-random waveform; seed
// selects different but repeatable data.
func testWaveform(n int, seed uint32) []int16 {
	data := make([]int16, n)
	state := seed*2654435761 + 1
	for i := range data {
		state = state*1664525 + 1013904223
		data[i] = int16(state >> 16)
	}
	return data
}

func newPlayerWithTestPattern(pattern [][]string, t *testing.T) *Player {
	t.Helper()
	return newPlayerWithTestPatterns([][][]string{pattern}, t)
}

func newPlayerWithTestPatterns(patterns [][][]string, t *testing.T) *Player {
	t.Helper()
	player, err := NewPlayer(newTestSong(patterns), 44100)
	if err != nil {
		t.Fatalf("Could not create test player: %v", err)
	}
	return player
}

func decodeTestSlot(col string) PatternSlot {
	if col == "" {
		return PatternSlot{}
	}

	parts := colToParts(col)
	if len(parts) != 4 {
		panic("test column needs 4 fields: " + col)
	}

	var slot PatternSlot
	slot.Note = decodeNote(parts[0])
	slot.Instrument = uint8(decodeHex(parts[1]))
	slot.Volume = uint8(decodeHex(parts[2]))
	slot.Effect, slot.Param = decodeEffect(parts[3])
	return slot
}

func colToParts(s string) []string {
	result := strings.Split(s, " ")

	filtered := []string{}
	for _, r := range result {
		if r == "" {
			continue
		}
		filtered = append(filtered, r)
	}

	return filtered
}

func decodeNote(note string) uint8 {
	// note is of the form A-2, A#2, ^^. or ...
	if note == "^^." || note == "^^^" {
		return noteKeyOff
	} else if note == "..." {
		return 0
	}

	ni := 0
	for ni = range notes {
		if notes[ni] == note[0:2] {
			break
		}
	}

	oct := int(note[2] - '0')
	return uint8(1 + 12*oct + ni)
}

func decodeHex(s string) int {
	if s == "" || s == ".." {
		return 0
	}

	ival, err := strconv.ParseInt(s, 16, 16)
	if err != nil {
		panic(err)
	}

	return int(ival)
}

func decodeEffect(effect string) (byte, byte) {
	if effect == "" || effect == "..." {
		return 0, 0
	}

	var et byte
	c := effect[0]
	switch {
	case c >= '0' && c <= '9':
		et = c - '0'
	case c >= 'A' && c <= 'Z':
		et = c - 'A' + 10
	default:
		panic("bad effect " + effect)
	}

	param, err := strconv.ParseInt(effect[1:3], 16, 16)
	if err != nil {
		panic(err)
	}
	return et, byte(param)
}

// Advances to next row in the pattern, will have processed the first tick
// of the next row on return.
func advanceToNextRow(plr *Player) {
	old := plr.row
	for old == plr.row {
		plr.sequenceTick()
	}
}

func validateChan(c *channel, smpIndex, period, volume int, t *testing.T) {
	t.Helper()
	if c.smpIndex != smpIndex || c.smp == nil {
		t.Errorf("Expecting sample %d, got %d", smpIndex, c.smpIndex)
	}
	if c.period != period {
		t.Errorf("Expected period %d, got %d", period, c.period)
	}
	if c.volume != volume {
		t.Errorf("Expected volume %d, got %d", volume, c.volume)
	}
}

// renderFrames pulls n stereo frames out of the player, in chunks the
// way a sound card callback would.
func renderFrames(plr *Player, n int) []int16 {
	out := make([]int16, 0, n*2)
	buf := make([]int16, 512*2)
	for len(out) < n*2 {
		want := n*2 - len(out)
		if want > len(buf) {
			want = len(buf)
		}
		generated := plr.GenerateAudio(buf[:want])
		if generated == 0 {
			break
		}
		out = append(out, buf[:generated*2]...)
	}
	return out
}

// renderSong renders a whole song (one pass) to PCM.
func renderSong(song *Song, t *testing.T) []int16 {
	t.Helper()
	plr, err := NewPlayer(song, 44100)
	if err != nil {
		t.Fatal(err)
	}
	plr.SetMaxLoopCount(1)
	out := make([]int16, 0, 1<<18)
	buf := make([]int16, 1024*2)
	for plr.IsPlaying() {
		generated := plr.GenerateAudio(buf)
		if generated == 0 {
			break
		}
		out = append(out, buf[:generated*2]...)
	}
	return out
}

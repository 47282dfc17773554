package xmplayer

import (
	"testing"
)

// Scenario tests. Each builds songs (or channel pairs) that are audibly
// equivalent by different means and then checks that the rendered PCM
// really is identical.

func assertPCMEqual(t *testing.T, a, b []int16, label string) {
	t.Helper()
	if len(a) != len(b) {
		t.Fatalf("%s: buffer lengths differ, %d vs %d", label, len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Fatalf("%s: PCM differs at sample %d: %d vs %d", label, i, a[i], b[i])
		}
	}
	if len(a) == 0 {
		t.Fatalf("%s: no audio rendered", label)
	}
}

func assertPCMNonSilent(t *testing.T, a []int16, label string) {
	t.Helper()
	for _, v := range a {
		if v != 0 {
			return
		}
	}
	t.Fatalf("%s: rendered only silence", label)
}

// renderSolo renders one pass of the song with every channel but ch muted.
func renderSolo(song *Song, ch int, t *testing.T) []int16 {
	t.Helper()
	plr, err := NewPlayer(song, 44100)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < song.Channels; i++ {
		plr.MuteChannel(i, i != ch)
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

// channelPairsEq renders each channel of a pair solo and requires equal
// output.
func channelPairsEq(song *Song, t *testing.T, label string) {
	t.Helper()
	for c := 0; c+1 < song.Channels; c += 2 {
		a := renderSolo(song, c, t)
		b := renderSolo(song, c+1, t)
		assertPCMNonSilent(t, a, label)
		assertPCMEqual(t, a, b, label)
	}
}

func TestEffectMemoryVolumeSlide(t *testing.T) {
	song := newTestSong([][][]string{{
		{"A-4 01 .. A02", "A-4 01 .. A02"},
		{"... .. .. A02", "... .. .. A00"},
		{"... .. .. A02", "... .. .. A00"},
		{"... .. .. A02", "... .. .. A00"},
	}})
	song.Tempo = 4
	channelPairsEq(song, t, "volume slide memory")
}

func TestEffectMemoryPortamento(t *testing.T) {
	song := newTestSong([][][]string{{
		{"A-4 01 .. 103", "A-4 01 .. 103"},
		{"... .. .. 103", "... .. .. 100"},
		{"... .. .. 103", "... .. .. 100"},
		{"A-2 01 .. 204", "A-2 01 .. 204"},
		{"... .. .. 204", "... .. .. 200"},
	}})
	song.Tempo = 3
	channelPairsEq(song, t, "portamento memory")
}

func TestEffectMemoryVibrato(t *testing.T) {
	song := newTestSong([][][]string{{
		{"C-4 01 .. 423", "C-4 01 .. 423"},
		{"... .. .. 423", "... .. .. 400"},
		{"... .. .. 423", "... .. .. 400"},
		{"... .. .. 423", "... .. .. 400"},
	}})
	song.Tempo = 5
	channelPairsEq(song, t, "vibrato memory")
}

// Mirror finetune: C-4 with finetune 0 is the same pitch as C#4 with
// finetune -16. With the panning mirrored too, the left output of the
// pair must equal the right output.
func TestFinetuneMirror(t *testing.T) {
	song := newTestSong([][][]string{{
		{"C-4 01 C1 E58", "C#4 01 CF E50"},
		{"... .. .. ...", "... .. .. ..."},
		{"... .. .. ...", "... .. .. ..."},
	}})
	out := renderSong(song, t)
	assertPCMNonSilent(t, out, "finetune mirror")

	for i := 0; i+1 < len(out); i += 2 {
		if out[i] != out[i+1] {
			t.Fatalf("L/R differ at frame %d: %d vs %d", i/2, out[i], out[i+1])
		}
	}
}

// Note delay: a note delayed by 3 ticks inside a 6 tick row sounds the
// same as the note on the second row of two 3 tick rows.
func TestNoteDelayEquivalence(t *testing.T) {
	songA := newTestSong([][][]string{{
		{"... .. .. F03"},
		{"C-4 01 .. ..."},
	}})
	songA.Tempo = 6

	songB := newTestSong([][][]string{{
		{"C-4 01 .. ED3"},
	}})
	songB.Tempo = 6

	assertPCMEqual(t, renderSong(songA, t), renderSong(songB, t), "note delay")
}

// Pattern delay: EEy holding a row for an extra pass sounds the same as
// the row followed by an empty row.
func TestPatternDelayEquivalence(t *testing.T) {
	songA := newTestSong([][][]string{{
		{"C-4 01 .. EE1"},
	}})
	songB := newTestSong([][][]string{{
		{"C-4 01 .. ..."},
		{"... .. .. ..."},
	}})

	assertPCMEqual(t, renderSong(songA, t), renderSong(songB, t), "pattern delay")
}

// Retrigger: E92 inside a 6 tick row equals re-playing the note on
// every 2 tick row.
func TestRetriggerEquivalence(t *testing.T) {
	songA := newTestSong([][][]string{{
		{"C-4 01 .. F02"},
		{"C-4 .. .. ..."},
		{"C-4 .. .. ..."},
	}})
	songA.Tempo = 6
	// F02 shortens the first row to 2 ticks as well

	songB := newTestSong([][][]string{{
		{"C-4 01 .. E92"},
	}})
	songB.Tempo = 6

	assertPCMEqual(t, renderSong(songA, t), renderSong(songB, t), "retrigger")
}

// Volume envelope: an enveloped instrument equals explicit Cxx volumes
// tracking the same curve at one tick per row.
func TestVolumeEnvelopeEquivalence(t *testing.T) {
	songA := newTestSong([][][]string{{
		{"C-4 03 .. ..."},
		{"... .. .. ..."},
		{"... .. .. ..."},
		{"... .. .. ..."},
		{"... .. .. ..."},
		{"... .. .. ..."},
		{"... .. .. ..."},
		{"... .. .. ..."},
	}})
	songA.Tempo = 1
	inst := songA.addTestInstrument("envins", maxVolume, testWaveform(testSampleLength, 1))
	inst.VolumeEnvelope = Envelope{
		NumPoints: 2,
		Sustain:   0xFF,
		LoopStart: 0xFF,
		LoopEnd:   0xFF,
	}
	inst.VolumeEnvelope.Points[0] = EnvelopePoint{Frame: 0, Value: 64}
	inst.VolumeEnvelope.Points[1] = EnvelopePoint{Frame: 4, Value: 32}

	songB := newTestSong([][][]string{{
		{"C-4 01 .. C40"},
		{"... .. .. C38"},
		{"... .. .. C30"},
		{"... .. .. C28"},
		{"... .. .. C20"},
		{"... .. .. C20"},
		{"... .. .. C20"},
		{"... .. .. C20"},
	}})
	songB.Tempo = 1

	assertPCMEqual(t, renderSong(songA, t), renderSong(songB, t), "volume envelope")
}

func TestArpeggioTickCycle(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. 047"},
	}, t)
	plr.Tempo = 3

	want := []int{0, 4, 7}
	for tick := 0; tick < 3; tick++ {
		plr.sequenceTick()
		if got := plr.channels[0].arpNoteOffset; got != want[tick] {
			t.Errorf("tick %d: arp offset %d, want %d", tick, got, want[tick])
		}
	}
}

func TestTremorGate(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. T21"},
	}, t)
	plr.Tempo = 8

	plr.sequenceTick() // tick 0, the audible phase starts here
	if !plr.channels[0].tremorOn {
		t.Fatal("tremor must start audible at tick 0")
	}

	// T21: 3 ticks on, 2 ticks off
	want := []bool{true, true, false, false, true, true, true}
	for i, w := range want {
		plr.sequenceTick()
		if got := plr.channels[0].tremorOn; got != w {
			t.Errorf("tick %d: tremorOn=%v, want %v", i+1, got, w)
		}
	}
}

func TestPeriodClampLinear(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"B-7 01 .. 1FF"},
		{"... .. .. 100"},
		{"... .. .. 100"},
	}, t)
	plr.Tempo = 4

	for plr.IsPlaying() && plr.order == 0 && plr.row < 3 {
		if !plr.sequenceTick() {
			break
		}
		c := &plr.channels[0]
		if c.period < minLinearPeriod {
			t.Fatalf("period %d below clamp", c.period)
		}
		if plr.row == 2 && plr.tick > 1 {
			if c.period != minLinearPeriod {
				t.Fatalf("expected period pinned at %d, got %d", minLinearPeriod, c.period)
			}
			break
		}
	}
}

func TestPeriodClampAmiga(t *testing.T) {
	song := newTestSong([][][]string{{
		{"B-7 01 .. 1FF"},
		{"... .. .. 100"},
		{"... .. .. 100"},
	}})
	song.freqType = amigaFrequencies
	plr, err := NewPlayer(song, 44100)
	if err != nil {
		t.Fatal(err)
	}
	plr.Tempo = 4

	for i := 0; i < 12; i++ {
		plr.sequenceTick()
		c := &plr.channels[0]
		if c.period < minAmigaPeriod {
			t.Fatalf("period %d below amiga clamp", c.period)
		}
	}
	if plr.channels[0].period != minAmigaPeriod {
		t.Fatalf("expected period pinned at %d, got %d", minAmigaPeriod, plr.channels[0].period)
	}
}

func TestVibratoAmigaStaysInRange(t *testing.T) {
	song := newTestSong([][][]string{{
		{"C-4 01 .. 4FF"},
		{"... .. .. 400"},
		{"... .. .. 400"},
	}})
	song.freqType = amigaFrequencies
	out := renderSong(song, t)
	assertPCMNonSilent(t, out, "amiga vibrato")
}

func TestKeyOffEffectAtTick(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. K02"},
	}, t)
	plr.Tempo = 4

	plr.sequenceTick()
	plr.sequenceTick()
	if !plr.channels[0].sustained {
		t.Fatal("key off fired too early")
	}
	plr.sequenceTick() // tick 2
	if plr.channels[0].sustained {
		t.Fatal("K02 must key off at tick 2")
	}
}

func TestNoteCutAtTick(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. EC1"},
	}, t)

	plr.sequenceTick()
	if plr.channels[0].volume == 0 {
		t.Fatal("note cut fired too early")
	}
	plr.sequenceTick()
	if plr.channels[0].volume != 0 {
		t.Fatal("EC1 must cut at tick 1")
	}
}

func TestGlobalVolumeSlideMemory(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. G20"},
		{"... .. .. H40"},
		{"... .. .. H00"},
	}, t)
	plr.sequenceTick()
	if plr.globalVolume != 0x20 {
		t.Fatalf("expected global volume 0x20, got %d", plr.globalVolume)
	}

	advanceToNextRow(plr)
	plr.sequenceTick()
	if plr.globalVolume != 0x20+4 {
		t.Fatalf("expected slide to %d, got %d", 0x20+4, plr.globalVolume)
	}

	advanceToNextRow(plr)
	plr.sequenceTick()
	if plr.globalVolume != 0x20+8 {
		t.Fatalf("expected memory slide to %d, got %d", 0x20+8, plr.globalVolume)
	}
}

func TestFinePortamentoAppliesOnce(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. E12"},
		{"... .. .. ..."},
	}, t)
	plr.Tempo = 4

	plr.sequenceTick()
	c := &plr.channels[0]
	want := 4608 - 4*2
	if c.period != want {
		t.Fatalf("expected period %d after fine slide, got %d", want, c.period)
	}
	plr.sequenceTick()
	plr.sequenceTick()
	if c.period != want {
		t.Fatalf("fine slide must only apply on tick 0, got %d", c.period)
	}
}

func TestExtraFinePortamento(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. X12"},
		{"... .. .. X21"},
	}, t)

	plr.sequenceTick()
	c := &plr.channels[0]
	if c.period != 4608-2 {
		t.Fatalf("expected period %d, got %d", 4608-2, c.period)
	}
	advanceToNextRow(plr)
	if c.period != 4608-2+1 {
		t.Fatalf("expected period %d, got %d", 4608-1, c.period)
	}
}

func TestTonePortamentoReachesTarget(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. ..."},
		{"D-4 .. .. 310"},
		{"... .. .. 300"},
		{"... .. .. 300"},
		{"... .. .. 300"},
	}, t)
	plr.Tempo = 4

	plr.sequenceTick()
	c := &plr.channels[0]
	start := c.period

	// One full pass over the remaining rows
	for i := 1; i < 5*4; i++ {
		plr.sequenceTick()
	}
	want := 4608 - 2*64 // D-4
	if c.period != want {
		t.Fatalf("expected portamento to land on %d, got %d (start %d)", want, c.period, start)
	}
	if c.samplePosition == 0 && c.step == 0 {
		t.Fatal("tone portamento must not retrigger or stop the sample")
	}
}

func TestVibratoControlNoPhaseReset(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 .. E44"}, // control bit 2: no phase reset on new notes
		{"... .. .. 423"},
		{"C-4 01 .. 400"},
	}, t)
	plr.Tempo = 3

	plr.sequenceTick()
	advanceToNextRow(plr)
	plr.sequenceTick()
	plr.sequenceTick()
	phase := plr.channels[0].vibratoTicks
	if phase == 0 {
		t.Fatal("vibrato did not advance")
	}

	advanceToNextRow(plr) // new note, phase must survive
	if plr.channels[0].vibratoTicks != phase {
		t.Fatalf("phase reset despite control bit: %d vs %d", plr.channels[0].vibratoTicks, phase)
	}
}

func TestMultiRetrigVolumeModifier(t *testing.T) {
	plr := newPlayerWithTestPattern([][]string{
		{"C-4 01 30 R12"}, // volume column 0x30 = volume 0x20
	}, t)
	plr.Tempo = 6

	plr.sequenceTick()
	c := &plr.channels[0]
	if c.volume != 0x20 {
		t.Fatalf("setup volume wrong: %d", c.volume)
	}

	plr.sequenceTick() // tick 1: retrig interval 2 not hit
	if c.volume != 0x20 {
		t.Fatalf("retrig too early: volume %d", c.volume)
	}
	plr.sequenceTick() // tick 2: retrig, volume -1
	if c.volume != 0x20-1 {
		t.Fatalf("expected volume %d after retrig, got %d", 0x20-1, c.volume)
	}
	if c.samplePosition != 0 {
		t.Fatal("retrig must restart the sample")
	}
}

package xmplayer

import (
	"fmt"
	"io"
	"strings"
)

const (
	maxChannels             = 255
	maxPatterns             = 256
	maxInstruments          = 128
	maxSamplesPerInstrument = 255
	maxRowsPerPattern       = 256
	patternOrderTableLength = 256
	numNotes                = 96
	maxEnvelopePoints       = 12

	maxVolume        = 64    // channel and sample maximum volume
	maxEnvelopeValue = 64    // envelope Y values are 0..=64
	maxPanning       = 256   // FT2 panning range, one past what a byte holds
	maxFadeoutVolume = 32768 // post key-off fadeout counter range

	minBPM = 32
	maxBPM = 255

	// The note value used internally for key-off once a song has been
	// loaded. The XM wire format uses 97, see the loader.
	noteKeyOff = 128

	// Sample positions and steps are fixed point with microstepBits of
	// sub-frame precision. 2^12 microsteps keeps the worst pitch error
	// under ~26 cents at extreme rates while leaving 20 bits of sample
	// index, so samples are capped at maxSampleLength frames.
	microstepBits    = 12
	sampleMicrosteps = 1 << microstepBits
	maxSampleLength  = (1 << (32 - microstepBits)) - 1

	// Tick lengths are tracked in 1/tickSubsamples of an output frame so
	// that fractional samples-per-tick do not drift. Worst case rounding
	// is one frame every tickSubsamples ticks.
	tickSubsamples = 1 << 13

	// How much a channel's final volume may move per generated frame,
	// used to suppress clicks on volume changes.
	volumeRampStep = 1.0 / 128.0

	// Number of frames a freshly triggered note is cross-faded with the
	// tail of whatever the channel played before.
	rampingPoints = 31

	// Final amplification of the mixed output. A compromise between a
	// too-quiet mix and clipping on busy songs.
	amplification = 0.25
)

// Frequency table selection, bit 0 of the XM song flags.
type frequencyType uint8

const (
	linearFrequencies frequencyType = iota
	amigaFrequencies
)

// LoopType describes how a sample repeats once the play position passes
// its loop region.
type LoopType uint8

const (
	LoopNone LoopType = iota
	LoopForward
	LoopPingPong
)

// Song is a fully parsed XM module. It is immutable once loaded; all
// playback state lives in the Player.
//
// Cross references between entities are indices into flat slices
// (Patterns reference Slots, Instruments reference Samples, Samples
// reference WaveData) so the whole song can be dumped and reloaded as a
// handful of contiguous blobs by the libxm serializer.
type Song struct {
	Title       string
	TrackerName string

	Channels        int
	Length          int // number of used entries in Orders
	RestartPosition int
	Orders          []byte

	Tempo int // ticks per row, "Spd" in trackers
	BPM   int

	freqType frequencyType

	Patterns    []Pattern
	Slots       []PatternSlot // all patterns' rows, row-major
	Instruments []Instrument
	Samples     []Sample
	WaveData    []int16 // all samples' frames, back to back
}

// Pattern addresses a rectangular block of Song.Slots.
type Pattern struct {
	RowsIndex int // first row's slot index is RowsIndex*Song.Channels
	NumRows   int
}

// PatternSlot is one channel's cell in a pattern row: the five bytes of
// the XM wire format with packing removed.
type PatternSlot struct {
	Note       uint8 // 1..96, noteKeyOff, or 0 for none
	Instrument uint8 // 1..128, 0 for none
	Volume     uint8 // volume column byte, bucketed sub-commands
	Effect     uint8
	Param      uint8
}

// Instrument groups samples with the envelopes and autovibrato settings
// that apply to any note played through it.
type Instrument struct {
	Name string

	SampleOfNotes [numNotes]uint8 // note -> sample (relative to SamplesIndex)
	SamplesIndex  int             // into Song.Samples
	NumSamples    int

	VolumeEnvelope  Envelope
	PanningEnvelope Envelope
	VolumeFadeout   uint16

	VibratoType  uint8
	VibratoSweep uint8
	VibratoDepth uint8
	VibratoRate  uint8
}

// Envelope is a piecewise linear curve over tick-frames. NumPoints
// outside 2..maxEnvelopePoints disables the whole envelope; sustain and
// loop points outside NumPoints disable just that feature.
type Envelope struct {
	Points    [maxEnvelopePoints]EnvelopePoint
	NumPoints uint8
	Sustain   uint8
	LoopStart uint8
	LoopEnd   uint8
}

type EnvelopePoint struct {
	Frame uint16
	Value uint8 // 0..=maxEnvelopeValue
}

func (e *Envelope) enabled() bool {
	return e.NumPoints >= 2 && e.NumPoints <= maxEnvelopePoints
}

func (e *Envelope) sustainEnabled() bool {
	return e.enabled() && e.Sustain < e.NumPoints
}

func (e *Envelope) loopEnabled() bool {
	return e.enabled() && e.LoopStart < e.NumPoints && e.LoopEnd < e.NumPoints &&
		e.LoopStart <= e.LoopEnd
}

// Sample holds one waveform's metadata. The frames themselves live in
// Song.WaveData[Index:Index+Length].
type Sample struct {
	Name string

	Index      int
	Length     int // loop end for looping samples, see loader
	LoopLength int // 0 for non-looping samples
	PingPong   bool

	Volume       uint8 // 0..=maxVolume
	Panning      int   // 0..maxPanning
	Finetune     int8  // -16..15, 1/16 semitone units
	RelativeNote int8
}

func (s *Sample) loopType() LoopType {
	switch {
	case s.LoopLength == 0:
		return LoopNone
	case s.PingPong:
		return LoopPingPong
	default:
		return LoopForward
	}
}

func (s *Sample) String() string {
	return fmt.Sprintf(
		"\tName:\t\t%s\n"+
			"\tLength:\t\t%d\n"+
			"\tVolume:\t\t%d\n"+
			"\tLoop Type:\t%d\n"+
			"\tLoop Len:\t%d\n"+
			"\tFinetune:\t%d\n"+
			"\tRel Note:\t%d\n", s.Name, s.Length, s.Volume, s.loopType(), s.LoopLength,
		s.Finetune, s.RelativeNote)
}

// slotsForRow returns the slots of one pattern row, one per channel.
func (song *Song) slotsForRow(pat *Pattern, row int) []PatternSlot {
	base := (pat.RowsIndex + row) * song.Channels
	return song.Slots[base : base+song.Channels]
}

func (song *Song) patternForOrder(order int) *Pattern {
	return &song.Patterns[song.Orders[order]]
}

func (song *Song) sampleData(smp *Sample) []int16 {
	return song.WaveData[smp.Index : smp.Index+smp.Length]
}

// Literal notes
var notes = []string{
	"C-", "C#", "D-", "D#", "E-", "F-", "F#", "G-", "G#", "A-", "A#", "B-",
}

// playerNote is a note pitch as octave*12+semitone, 1 based like the XM
// wire format (1 = C-0).
type playerNote int

// String returns the note pitch in name-octave form, e.g. C-4, A#2.
// Returns three spaces if the note is not recognized.
func (note playerNote) String() string {
	switch {
	case note == 0:
		return "   "
	case note == noteKeyOff:
		return "^^."
	case note >= 1 && note <= numNotes:
		return fmt.Sprintf("%s%d", notes[(note-1)%12], (note-1)/12)
	default:
		return "   "
	}
}

var dumpW io.Writer = nil

// SetDumpWriter installs a writer that the XM loader writes a human
// readable dump of the parsed song to. Used by cmd/xmdump.
func SetDumpWriter(w io.Writer) { dumpW = w }

func dumpf(format string, a ...interface{}) {
	if dumpW == nil {
		return
	}

	fmt.Fprintf(dumpW, format, a...)
}

// Strips trailing 0x00 bytes and replaces control characters and any non
// ASCII character with a space
func cleanName(in string) string {
	return strings.Map(func(r rune) rune {
		if r < 32 || r > 127 {
			return ' '
		}
		return r
	}, strings.TrimRight(in, "\x00"))
}

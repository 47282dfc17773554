package xmplayer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// The libxm format: a post-load dump of a Song as a short header
// followed by the raw flat arrays, in the order they appear in the wire
// structs below. Because everything in a Song is already base+count
// indexed, loading is a single pass of fixed-size reads with no fixups.
//
// The format is little-endian and guarded by a magic plus a single ABI
// version byte; any change to the wire structs must bump the version.

var (
	ErrLibXMMagic   = errors.New("not a libxm dump")
	ErrLibXMVersion = errors.New("unsupported libxm version")
)

const (
	libxmMagic   = "XMZ0"
	libxmVersion = 1

	libxmFlagDeltaWaveforms = 1 << 0
	libxmFlagZeroWaveforms  = 1 << 1

	libxmNameLength = 24
)

// LibXMOptions configures Song.DumpLibXM.
type LibXMOptions struct {
	// DeltaWaveforms stores the waveform data delta coded, which
	// compresses better if the output file is compressed afterwards.
	DeltaWaveforms bool

	// ZeroAllWaveforms writes zeroed waveform data, producing a
	// template for embedded targets that link the real waveforms in
	// some other way.
	ZeroAllWaveforms bool
}

type libxmHeader struct {
	Magic   [4]byte
	Version uint8
	Flags   uint8
	Title   [libxmNameLength]byte
	Tracker [libxmNameLength]byte

	Channels        uint16
	Length          uint16
	RestartPosition uint16
	Tempo           uint16
	BPM             uint16
	FreqType        uint8
	_               uint8

	NumPatterns    uint32
	NumSlots       uint32
	NumInstruments uint32
	NumSamples     uint32
	WaveDataLength uint32

	Orders [patternOrderTableLength]byte
}

type libxmPattern struct {
	RowsIndex uint32
	NumRows   uint32
}

type libxmEnvelope struct {
	Frames    [maxEnvelopePoints]uint16
	Values    [maxEnvelopePoints]uint8
	NumPoints uint8
	Sustain   uint8
	LoopStart uint8
	LoopEnd   uint8
}

type libxmInstrument struct {
	Name          [libxmNameLength]byte
	SampleOfNotes [numNotes]uint8
	SamplesIndex  uint32
	NumSamples    uint32

	VolumeEnvelope  libxmEnvelope
	PanningEnvelope libxmEnvelope
	VolumeFadeout   uint16

	VibratoType  uint8
	VibratoSweep uint8
	VibratoDepth uint8
	VibratoRate  uint8
}

type libxmSample struct {
	Name         [libxmNameLength]byte
	Index        uint32
	Length       uint32
	LoopLength   uint32
	PingPong     uint8
	Volume       uint8
	Finetune     int8
	RelativeNote int8
	Panning      uint16
	_            uint16
}

// DumpLibXM writes the song in the compact libxm form.
func (song *Song) DumpLibXM(w io.Writer, opts LibXMOptions) error {
	hdr := libxmHeader{
		Version:         libxmVersion,
		Channels:        uint16(song.Channels),
		Length:          uint16(song.Length),
		RestartPosition: uint16(song.RestartPosition),
		Tempo:           uint16(song.Tempo),
		BPM:             uint16(song.BPM),
		FreqType:        uint8(song.freqType),
		NumPatterns:     uint32(len(song.Patterns)),
		NumSlots:        uint32(len(song.Slots)),
		NumInstruments:  uint32(len(song.Instruments)),
		NumSamples:      uint32(len(song.Samples)),
		WaveDataLength:  uint32(len(song.WaveData)),
	}
	copy(hdr.Magic[:], libxmMagic)
	copy(hdr.Title[:], song.Title)
	copy(hdr.Tracker[:], song.TrackerName)
	copy(hdr.Orders[:], song.Orders)
	if opts.DeltaWaveforms {
		hdr.Flags |= libxmFlagDeltaWaveforms
	}
	if opts.ZeroAllWaveforms {
		hdr.Flags |= libxmFlagZeroWaveforms
	}

	if err := binary.Write(w, binary.LittleEndian, &hdr); err != nil {
		return err
	}

	patterns := make([]libxmPattern, len(song.Patterns))
	for i, pat := range song.Patterns {
		patterns[i] = libxmPattern{RowsIndex: uint32(pat.RowsIndex), NumRows: uint32(pat.NumRows)}
	}
	if err := binary.Write(w, binary.LittleEndian, patterns); err != nil {
		return err
	}

	if err := binary.Write(w, binary.LittleEndian, song.Slots); err != nil {
		return err
	}

	instruments := make([]libxmInstrument, len(song.Instruments))
	for i := range song.Instruments {
		inst := &song.Instruments[i]
		wi := &instruments[i]
		copy(wi.Name[:], inst.Name)
		wi.SampleOfNotes = inst.SampleOfNotes
		wi.SamplesIndex = uint32(inst.SamplesIndex)
		wi.NumSamples = uint32(inst.NumSamples)
		wi.VolumeEnvelope = dumpEnvelope(&inst.VolumeEnvelope)
		wi.PanningEnvelope = dumpEnvelope(&inst.PanningEnvelope)
		wi.VolumeFadeout = inst.VolumeFadeout
		wi.VibratoType = inst.VibratoType
		wi.VibratoSweep = inst.VibratoSweep
		wi.VibratoDepth = inst.VibratoDepth
		wi.VibratoRate = inst.VibratoRate
	}
	if err := binary.Write(w, binary.LittleEndian, instruments); err != nil {
		return err
	}

	samples := make([]libxmSample, len(song.Samples))
	for i := range song.Samples {
		smp := &song.Samples[i]
		ws := &samples[i]
		copy(ws.Name[:], smp.Name)
		ws.Index = uint32(smp.Index)
		ws.Length = uint32(smp.Length)
		ws.LoopLength = uint32(smp.LoopLength)
		if smp.PingPong {
			ws.PingPong = 1
		}
		ws.Volume = smp.Volume
		ws.Finetune = smp.Finetune
		ws.RelativeNote = smp.RelativeNote
		ws.Panning = uint16(smp.Panning)
	}
	if err := binary.Write(w, binary.LittleEndian, samples); err != nil {
		return err
	}

	wave := song.WaveData
	switch {
	case opts.ZeroAllWaveforms:
		wave = make([]int16, len(song.WaveData))
	case opts.DeltaWaveforms:
		wave = deltaEncode16(song.WaveData)
	}
	return binary.Write(w, binary.LittleEndian, wave)
}

// NewLibXMSongFromBytes loads a Song from a libxm dump produced by
// DumpLibXM (or the xmize tool). The result is audio-identical to the
// Song the dump was made from, unless the waveforms were zeroed.
func NewLibXMSongFromBytes(data []byte) (*Song, error) {
	buf := bytes.NewReader(data)

	var hdr libxmHeader
	if err := readWire(buf, &hdr, "libxm header"); err != nil {
		return nil, err
	}
	if string(hdr.Magic[:]) != libxmMagic {
		return nil, ErrLibXMMagic
	}
	if hdr.Version != libxmVersion {
		return nil, fmt.Errorf("%w: %d", ErrLibXMVersion, hdr.Version)
	}
	if hdr.Channels < 1 || hdr.Channels > maxChannels {
		return nil, fmt.Errorf("%w: %d", ErrTooManyChannels, hdr.Channels)
	}
	if hdr.Length == 0 || int(hdr.Length) > patternOrderTableLength {
		return nil, fmt.Errorf("%w: song length %d", ErrBadPattern, hdr.Length)
	}
	// The counts drive allocations below, sanity check them against
	// the format limits and the actual payload size first.
	if int(hdr.NumPatterns) > maxPatterns+1 {
		return nil, fmt.Errorf("%w: %d patterns", ErrBadPattern, hdr.NumPatterns)
	}
	if int(hdr.NumInstruments) > maxInstruments {
		return nil, fmt.Errorf("%w: %d instruments", ErrBadInstrument, hdr.NumInstruments)
	}
	payload := int64(buf.Len())
	need := int64(hdr.NumPatterns)*8 + int64(hdr.NumSlots)*5 +
		int64(hdr.NumInstruments)*int64(binary.Size(libxmInstrument{})) +
		int64(hdr.NumSamples)*int64(binary.Size(libxmSample{})) +
		int64(hdr.WaveDataLength)*2
	if need > payload {
		return nil, fmt.Errorf("%w: libxm payload", ErrTruncated)
	}

	song := &Song{
		Title:           cleanName(string(hdr.Title[:])),
		TrackerName:     cleanName(string(hdr.Tracker[:])),
		Channels:        int(hdr.Channels),
		Length:          int(hdr.Length),
		RestartPosition: int(hdr.RestartPosition),
		Tempo:           clampi(int(hdr.Tempo), 1, 31),
		BPM:             clampi(int(hdr.BPM), minBPM, maxBPM),
		freqType:        frequencyType(hdr.FreqType & 1),
	}
	if song.RestartPosition >= song.Length {
		song.RestartPosition = 0
	}
	song.Orders = make([]byte, song.Length)
	copy(song.Orders, hdr.Orders[:song.Length])

	patterns := make([]libxmPattern, hdr.NumPatterns)
	if err := readWire(buf, patterns, "libxm patterns"); err != nil {
		return nil, err
	}
	song.Patterns = make([]Pattern, len(patterns))
	for i, pat := range patterns {
		if pat.NumRows < 1 || pat.NumRows > maxRowsPerPattern {
			return nil, fmt.Errorf("%w: pattern %d has %d rows", ErrBadPattern, i, pat.NumRows)
		}
		if (int(pat.RowsIndex)+int(pat.NumRows))*song.Channels > int(hdr.NumSlots) {
			return nil, fmt.Errorf("%w: pattern %d slots out of range", ErrBadPattern, i)
		}
		song.Patterns[i] = Pattern{RowsIndex: int(pat.RowsIndex), NumRows: int(pat.NumRows)}
	}
	for _, o := range song.Orders {
		if int(o) >= len(song.Patterns) {
			return nil, fmt.Errorf("%w: order entry %d out of range", ErrBadPattern, o)
		}
	}

	song.Slots = make([]PatternSlot, hdr.NumSlots)
	if err := readWire(buf, song.Slots, "libxm slots"); err != nil {
		return nil, err
	}

	instruments := make([]libxmInstrument, hdr.NumInstruments)
	if err := readWire(buf, instruments, "libxm instruments"); err != nil {
		return nil, err
	}
	song.Instruments = make([]Instrument, len(instruments))
	for i := range instruments {
		wi := &instruments[i]
		if int(wi.SamplesIndex)+int(wi.NumSamples) > int(hdr.NumSamples) {
			return nil, fmt.Errorf("%w: instrument %d samples out of range", ErrBadInstrument, i)
		}
		song.Instruments[i] = Instrument{
			Name:            cleanName(string(wi.Name[:])),
			SampleOfNotes:   wi.SampleOfNotes,
			SamplesIndex:    int(wi.SamplesIndex),
			NumSamples:      int(wi.NumSamples),
			VolumeEnvelope:  loadEnvelope(&wi.VolumeEnvelope),
			PanningEnvelope: loadEnvelope(&wi.PanningEnvelope),
			VolumeFadeout:   wi.VolumeFadeout,
			VibratoType:     wi.VibratoType,
			VibratoSweep:    wi.VibratoSweep,
			VibratoDepth:    wi.VibratoDepth,
			VibratoRate:     wi.VibratoRate,
		}
	}

	samples := make([]libxmSample, hdr.NumSamples)
	if err := readWire(buf, samples, "libxm samples"); err != nil {
		return nil, err
	}
	song.Samples = make([]Sample, len(samples))
	for i := range samples {
		ws := &samples[i]
		if int(ws.Index)+int(ws.Length) > int(hdr.WaveDataLength) ||
			int(ws.LoopLength) > int(ws.Length) {
			return nil, fmt.Errorf("%w: sample %d out of range", ErrBadSample, i)
		}
		song.Samples[i] = Sample{
			Name:         cleanName(string(ws.Name[:])),
			Index:        int(ws.Index),
			Length:       int(ws.Length),
			LoopLength:   int(ws.LoopLength),
			PingPong:     ws.PingPong != 0,
			Volume:       ws.Volume,
			Panning:      int(ws.Panning),
			Finetune:     ws.Finetune,
			RelativeNote: ws.RelativeNote,
		}
	}

	song.WaveData = make([]int16, hdr.WaveDataLength)
	if err := readWire(buf, song.WaveData, "libxm wave data"); err != nil {
		return nil, err
	}
	if hdr.Flags&libxmFlagDeltaWaveforms != 0 {
		song.WaveData = deltaDecode16(song.WaveData)
	}

	return song, nil
}

func dumpEnvelope(e *Envelope) libxmEnvelope {
	var w libxmEnvelope
	for i := 0; i < maxEnvelopePoints; i++ {
		w.Frames[i] = e.Points[i].Frame
		w.Values[i] = e.Points[i].Value
	}
	w.NumPoints = e.NumPoints
	w.Sustain = e.Sustain
	w.LoopStart = e.LoopStart
	w.LoopEnd = e.LoopEnd
	return w
}

func loadEnvelope(w *libxmEnvelope) Envelope {
	var e Envelope
	for i := 0; i < maxEnvelopePoints; i++ {
		e.Points[i] = EnvelopePoint{Frame: w.Frames[i], Value: w.Values[i]}
	}
	e.NumPoints = w.NumPoints
	e.Sustain = w.Sustain
	e.LoopStart = w.LoopStart
	e.LoopEnd = w.LoopEnd
	return e
}

// deltaEncode16 returns a new buffer where each frame holds the
// difference to its predecessor. deltaDecode16 inverts it exactly; the
// arithmetic wraps, so the pair is lossless for any input.
func deltaEncode16(in []int16) []int16 {
	out := make([]int16, len(in))
	old := int16(0)
	for i, v := range in {
		out[i] = v - old
		old = v
	}
	return out
}

func deltaDecode16(in []int16) []int16 {
	out := make([]int16, len(in))
	old := int16(0)
	for i, d := range in {
		old += d
		out[i] = old
	}
	return out
}

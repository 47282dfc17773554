package xmplayer

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

// Loader errors. Everything returned by NewXMSongFromBytes wraps one of
// these, use errors.Is to classify.
var (
	ErrBadMagic           = errors.New("not an XM module")
	ErrTruncated          = errors.New("truncated XM data")
	ErrUnsupportedVersion = errors.New("unsupported XM version")
	ErrTooManyChannels    = errors.New("too many channels")
	ErrBadPattern         = errors.New("invalid pattern")
	ErrBadInstrument      = errors.New("invalid instrument")
	ErrBadEnvelope        = errors.New("invalid envelope")
	ErrBadSample          = errors.New("invalid sample")
)

const (
	xmMagic       = "Extended Module: "
	xmWireKeyOff  = 97
	xmMainHeader  = 60 // magic + names + version, up to the header size dword
	xmMinVersion  = 0x0104
	adpcmEncoding = 0xAD
)

// NewXMSongFromBytes parses an XM file into a Song.
//
// All variable length structures are flattened: pattern slots, samples
// and waveform frames each end up in a single slice on the Song with the
// owning entities holding base+count references into them.
func NewXMSongFromBytes(songBytes []byte) (*Song, error) {
	if len(songBytes) < xmMainHeader+4 {
		return nil, fmt.Errorf("%w: %d byte file", ErrTruncated, len(songBytes))
	}
	if string(songBytes[0:17]) != xmMagic || songBytes[37] != 0x1a {
		return nil, ErrBadMagic
	}

	song := &Song{
		Title:       cleanName(string(songBytes[17:37])),
		TrackerName: cleanName(string(songBytes[38:58])),
	}

	version := binary.LittleEndian.Uint16(songBytes[58:60])
	if version < xmMinVersion {
		return nil, fmt.Errorf("%w: %#04x", ErrUnsupportedVersion, version)
	}

	buf := bytes.NewReader(songBytes[xmMainHeader:])

	var headerSize uint32
	if err := readWire(buf, &headerSize, "song header size"); err != nil {
		return nil, err
	}

	header := struct {
		Length          uint16
		RestartPosition uint16
		NumChannels     uint16
		NumPatterns     uint16
		NumInstruments  uint16
		Flags           uint16
		Tempo           uint16
		BPM             uint16
		OrderTable      [patternOrderTableLength]byte
	}{}
	if err := readWire(buf, &header, "song header"); err != nil {
		return nil, err
	}

	if header.NumChannels < 1 || header.NumChannels > maxChannels {
		return nil, fmt.Errorf("%w: %d", ErrTooManyChannels, header.NumChannels)
	}
	if header.Length == 0 || int(header.Length) > patternOrderTableLength {
		return nil, fmt.Errorf("%w: song length %d", ErrBadPattern, header.Length)
	}
	if int(header.NumPatterns) > maxPatterns {
		return nil, fmt.Errorf("%w: %d patterns", ErrBadPattern, header.NumPatterns)
	}
	if int(header.NumInstruments) > maxInstruments {
		return nil, fmt.Errorf("%w: %d instruments", ErrBadInstrument, header.NumInstruments)
	}

	song.Channels = int(header.NumChannels)
	song.Length = int(header.Length)
	song.RestartPosition = int(header.RestartPosition)
	if song.RestartPosition >= song.Length {
		song.RestartPosition = 0
	}
	if header.Flags&1 != 0 {
		song.freqType = linearFrequencies
	} else {
		song.freqType = amigaFrequencies
	}
	song.Tempo = clampi(int(header.Tempo), 1, 31)
	song.BPM = clampi(int(header.BPM), minBPM, maxBPM)
	if header.Tempo == 0 {
		song.Tempo = 6
	}
	if header.BPM == 0 {
		song.BPM = 125
	}

	song.Orders = make([]byte, song.Length)
	copy(song.Orders, header.OrderTable[:song.Length])

	// The stated header size counts from its own offset, skip whatever
	// extra bytes a tracker decided to write after the order table.
	if _, err := buf.Seek(int64(headerSize), io.SeekStart); err != nil || headerSize < 4 {
		return nil, fmt.Errorf("%w: song header size %d", ErrTruncated, headerSize)
	}

	dumpf("Title:\t\t%s\n", song.Title)
	dumpf("Tracker:\t%s\n", song.TrackerName)
	dumpf("Channels:\t%d\n", song.Channels)
	dumpf("Speed:\t\t%d\n", song.Tempo)
	dumpf("Tempo:\t\t%d\n", song.BPM)
	dumpf("Patterns:\t%d\n", header.NumPatterns)
	dumpf("Orders:\t\t%d %v\n", len(song.Orders), song.Orders)
	dumpf("\n")

	if err := readPatterns(buf, song, int(header.NumPatterns)); err != nil {
		return nil, err
	}

	// A song may reference pattern indices with no stored pattern data,
	// FT2 plays those as one empty 64 row pattern.
	maxOrder := 0
	for _, o := range song.Orders {
		if int(o) > maxOrder {
			maxOrder = int(o)
		}
	}
	for len(song.Patterns) <= maxOrder {
		song.Patterns = append(song.Patterns, Pattern{
			RowsIndex: len(song.Slots) / song.Channels,
			NumRows:   64,
		})
		song.Slots = append(song.Slots, make([]PatternSlot, 64*song.Channels)...)
	}

	for i := 0; i < int(header.NumInstruments); i++ {
		if err := readInstrument(buf, song, i); err != nil {
			return nil, err
		}
	}

	return song, nil
}

func readPatterns(buf *bytes.Reader, song *Song, numPatterns int) error {
	for i := 0; i < numPatterns; i++ {
		patHeader := struct {
			HeaderLength uint32
			PackingType  uint8
			NumRows      uint16
			PackedSize   uint16
		}{}
		if err := readWire(buf, &patHeader, "pattern header"); err != nil {
			return err
		}
		if patHeader.NumRows < 1 || patHeader.NumRows > maxRowsPerPattern {
			return fmt.Errorf("%w: pattern %d has %d rows", ErrBadPattern, i, patHeader.NumRows)
		}
		if patHeader.HeaderLength < 9 {
			return fmt.Errorf("%w: pattern %d header length %d", ErrBadPattern, i, patHeader.HeaderLength)
		}
		if _, err := buf.Seek(int64(patHeader.HeaderLength)-9, io.SeekCurrent); err != nil {
			return fmt.Errorf("%w: pattern %d header", ErrTruncated, i)
		}

		pat := Pattern{
			RowsIndex: len(song.Slots) / song.Channels,
			NumRows:   int(patHeader.NumRows),
		}

		packed := make([]byte, patHeader.PackedSize)
		if _, err := io.ReadFull(buf, packed); err != nil {
			return fmt.Errorf("%w: pattern %d data", ErrTruncated, i)
		}

		numSlots := pat.NumRows * song.Channels
		slots := make([]PatternSlot, numSlots)
		if patHeader.PackedSize > 0 {
			if err := unpackPattern(packed, slots); err != nil {
				return fmt.Errorf("pattern %d: %w", i, err)
			}
		}

		song.Patterns = append(song.Patterns, pat)
		song.Slots = append(song.Slots, slots...)
	}
	return nil
}

// unpackPattern expands the presence-bit compressed pattern data into
// five byte slots. A first byte with the MSB set is a bitmask of which
// of the five fields follow, anything else is a plain note byte with
// all five fields present.
func unpackPattern(packed []byte, slots []PatternSlot) error {
	j := 0
	for i := range slots {
		if j >= len(packed) {
			return fmt.Errorf("%w: packed data ends at slot %d of %d", ErrBadPattern, i, len(slots))
		}
		slot := &slots[i]

		b := packed[j]
		j++
		mask := uint8(0x1F)
		if b&0x80 != 0 {
			mask = b & 0x1F
		} else {
			slot.Note = b
		}

		fields := [5]*uint8{nil, &slot.Instrument, &slot.Volume, &slot.Effect, &slot.Param}
		if b&0x80 != 0 {
			fields[0] = &slot.Note
		}
		for f := 0; f < 5; f++ {
			if mask&(1<<f) == 0 || fields[f] == nil {
				continue
			}
			if j >= len(packed) {
				return fmt.Errorf("%w: truncated slot %d", ErrBadPattern, i)
			}
			*fields[f] = packed[j]
			j++
		}

		if slot.Note == xmWireKeyOff {
			slot.Note = noteKeyOff
		} else if slot.Note > numNotes && slot.Note != noteKeyOff {
			slot.Note = 0
		}
		if slot.Instrument > maxInstruments {
			slot.Instrument = 0
		}
	}
	if j != len(packed) {
		return fmt.Errorf("%w: %d trailing packed bytes", ErrBadPattern, len(packed)-j)
	}
	return nil
}

func readInstrument(buf *bytes.Reader, song *Song, idx int) error {
	instStart, _ := buf.Seek(0, io.SeekCurrent)

	var headerSize uint32
	if err := readWire(buf, &headerSize, "instrument header size"); err != nil {
		return err
	}
	if headerSize < 4 {
		return fmt.Errorf("%w: instrument %d header size %d", ErrBadInstrument, idx, headerSize)
	}

	nameBytes := make([]byte, 22)
	if _, err := io.ReadFull(buf, nameBytes); err != nil {
		return fmt.Errorf("%w: instrument %d name", ErrTruncated, idx)
	}

	inst := Instrument{
		Name:         cleanName(string(nameBytes)),
		SamplesIndex: len(song.Samples),
	}

	var instType uint8 // "random junk" per the format docs, ignored
	var numSamples uint16
	if err := readWire(buf, &instType, "instrument type"); err != nil {
		return err
	}
	if err := readWire(buf, &numSamples, "instrument sample count"); err != nil {
		return err
	}
	if numSamples > maxSamplesPerInstrument {
		return fmt.Errorf("%w: instrument %d has %d samples", ErrBadInstrument, idx, numSamples)
	}
	inst.NumSamples = int(numSamples)

	// 29 bytes up to here plus the 212 byte extended header
	const minExtHeaderSize = 241
	if numSamples > 0 && headerSize < minExtHeaderSize {
		return fmt.Errorf("%w: instrument %d header size %d", ErrBadInstrument, idx, headerSize)
	}

	dumpf("Instrument %d x%02X: %q samples=%d\n", idx+1, idx+1, inst.Name, numSamples)

	if numSamples == 0 {
		song.Instruments = append(song.Instruments, inst)
		_, err := buf.Seek(instStart+int64(headerSize), io.SeekStart)
		if err != nil {
			return fmt.Errorf("%w: instrument %d", ErrTruncated, idx)
		}
		return nil
	}

	ext := struct {
		SampleHeaderSize uint32
		SampleOfNotes    [numNotes]uint8
		VolumePoints     [maxEnvelopePoints * 2]uint16
		PanningPoints    [maxEnvelopePoints * 2]uint16
		NumVolumePoints  uint8
		NumPanningPoints uint8
		VolumeSustain    uint8
		VolumeLoopStart  uint8
		VolumeLoopEnd    uint8
		PanningSustain   uint8
		PanningLoopStart uint8
		PanningLoopEnd   uint8
		VolumeType       uint8
		PanningType      uint8
		VibratoType      uint8
		VibratoSweep     uint8
		VibratoDepth     uint8
		VibratoRate      uint8
		VolumeFadeout    uint16
	}{}
	if err := readWire(buf, &ext, "instrument extended header"); err != nil {
		return err
	}

	inst.SampleOfNotes = ext.SampleOfNotes
	for n, s := range inst.SampleOfNotes {
		if int(s) >= inst.NumSamples {
			inst.SampleOfNotes[n] = 0
		}
	}

	var err error
	inst.VolumeEnvelope, err = convertEnvelope(
		ext.VolumePoints, ext.NumVolumePoints, ext.VolumeType,
		ext.VolumeSustain, ext.VolumeLoopStart, ext.VolumeLoopEnd)
	if err != nil {
		return fmt.Errorf("instrument %d volume envelope: %w", idx, err)
	}
	inst.PanningEnvelope, err = convertEnvelope(
		ext.PanningPoints, ext.NumPanningPoints, ext.PanningType,
		ext.PanningSustain, ext.PanningLoopStart, ext.PanningLoopEnd)
	if err != nil {
		return fmt.Errorf("instrument %d panning envelope: %w", idx, err)
	}

	inst.VibratoType = ext.VibratoType & 3
	inst.VibratoSweep = ext.VibratoSweep
	inst.VibratoDepth = ext.VibratoDepth
	inst.VibratoRate = ext.VibratoRate
	inst.VolumeFadeout = ext.VolumeFadeout

	if _, err := buf.Seek(instStart+int64(headerSize), io.SeekStart); err != nil {
		return fmt.Errorf("%w: instrument %d", ErrTruncated, idx)
	}

	// Sample headers come first for the whole instrument, then the
	// delta coded frames in the same order.
	wire := make([]sampleWire, inst.NumSamples)
	for i := range wire {
		smp, w, err := readSampleHeader(buf, ext.SampleHeaderSize)
		if err != nil {
			return fmt.Errorf("instrument %d sample %d: %w", idx, i, err)
		}
		wire[i] = w
		song.Samples = append(song.Samples, smp)
	}

	for i := range wire {
		smp := &song.Samples[inst.SamplesIndex+i]
		if err := readSampleData(buf, song, smp, wire[i]); err != nil {
			return fmt.Errorf("instrument %d sample %d: %w", idx, i, err)
		}
		dumpf("%s\n", smp)
	}

	song.Instruments = append(song.Instruments, inst)
	return nil
}

// convertEnvelope validates a wire envelope and converts it to the
// internal form where "no sustain"/"no loop" are encoded as an out of
// range point index.
func convertEnvelope(points [maxEnvelopePoints * 2]uint16, numPoints, flags, sustain, loopStart, loopEnd uint8) (Envelope, error) {
	var e Envelope

	if flags&1 == 0 || numPoints < 2 {
		// Disabled envelope, drop everything
		return e, nil
	}
	if numPoints > maxEnvelopePoints {
		return e, fmt.Errorf("%w: %d points", ErrBadEnvelope, numPoints)
	}

	e.NumPoints = numPoints
	for i := 0; i < int(numPoints); i++ {
		frame := points[i*2]
		value := points[i*2+1]
		if value > maxEnvelopeValue {
			value = maxEnvelopeValue
		}
		if i > 0 && frame <= e.Points[i-1].Frame {
			return Envelope{}, fmt.Errorf("%w: point %d frame %d after %d",
				ErrBadEnvelope, i, frame, e.Points[i-1].Frame)
		}
		e.Points[i] = EnvelopePoint{Frame: frame, Value: uint8(value)}
	}

	e.Sustain = 0xFF
	e.LoopStart = 0xFF
	e.LoopEnd = 0xFF
	if flags&2 != 0 && sustain < numPoints {
		e.Sustain = sustain
	}
	if flags&4 != 0 && loopStart < numPoints && loopEnd < numPoints && loopStart <= loopEnd {
		e.LoopStart = loopStart
		e.LoopEnd = loopEnd
	}
	return e, nil
}

// sampleWire carries the on-disk encoding details a sample's data pass
// needs after its header has been parsed.
type sampleWire struct {
	lengthBytes int
	sixteenBit  bool
}

func readSampleHeader(buf *bytes.Reader, sampleHeaderSize uint32) (Sample, sampleWire, error) {
	var w sampleWire

	hdr := struct {
		Length       uint32
		LoopStart    uint32
		LoopLength   uint32
		Volume       uint8
		Finetune     int8
		Type         uint8
		Panning      uint8
		RelativeNote int8
		Reserved     uint8
		Name         [22]byte
	}{}
	if err := readWire(buf, &hdr, "sample header"); err != nil {
		return Sample{}, w, err
	}
	// FT2 writes 40 byte sample headers but the size field is
	// authoritative, skip any tracker specific trailer.
	if sampleHeaderSize > 40 {
		if _, err := buf.Seek(int64(sampleHeaderSize)-40, io.SeekCurrent); err != nil {
			return Sample{}, w, fmt.Errorf("%w: sample header", ErrTruncated)
		}
	}

	if hdr.Reserved == adpcmEncoding {
		return Sample{}, w, fmt.Errorf("%w: ADPCM compressed sample", ErrBadSample)
	}

	smp := Sample{
		Name:         cleanName(string(hdr.Name[:])),
		Volume:       hdr.Volume,
		Panning:      int(hdr.Panning),
		Finetune:     hdr.Finetune >> 3, // wire is 1/128 semitone, keep 1/16
		RelativeNote: hdr.RelativeNote,
	}
	if smp.Volume > maxVolume {
		smp.Volume = maxVolume
	}

	length := int(hdr.Length)
	loopStart := int(hdr.LoopStart)
	loopLength := int(hdr.LoopLength)
	w.lengthBytes = length
	w.sixteenBit = hdr.Type&0x10 != 0
	if w.sixteenBit {
		length /= 2
		loopStart /= 2
		loopLength /= 2
	}
	if length > maxSampleLength {
		return Sample{}, w, fmt.Errorf("%w: %d frames", ErrBadSample, length)
	}

	// Clamp overshooting loops the same way trackers do before
	// normalizing: no-loop samples drop the loop region entirely,
	// looping samples are truncated at the loop end so the mixer never
	// has to look past it.
	loopType := LoopType(hdr.Type & 3)
	if loopType != LoopNone && loopLength > 0 {
		if loopStart > length {
			loopStart = length
		}
		if loopStart+loopLength > length {
			loopLength = length - loopStart
		}
		smp.Length = loopStart + loopLength
		smp.LoopLength = loopLength
		smp.PingPong = loopType == LoopPingPong
	} else {
		smp.Length = length
	}

	return smp, w, nil
}

// readSampleData reads one sample's delta coded frames and appends the
// decoded waveform to the song's flat frame data. 8 bit samples are
// widened to the internal 16 bit representation.
func readSampleData(buf *bytes.Reader, song *Song, smp *Sample, w sampleWire) error {
	raw := make([]byte, w.lengthBytes)
	if _, err := io.ReadFull(buf, raw); err != nil {
		return fmt.Errorf("%w: sample data", ErrTruncated)
	}

	smp.Index = len(song.WaveData)

	if w.sixteenBit {
		frames := w.lengthBytes / 2
		old := int16(0)
		for i := 0; i < frames; i++ {
			old += int16(binary.LittleEndian.Uint16(raw[i*2:]))
			if i < smp.Length {
				song.WaveData = append(song.WaveData, old)
			}
		}
	} else {
		old := int8(0)
		for i, b := range raw {
			old += int8(b)
			if i < smp.Length {
				song.WaveData = append(song.WaveData, int16(old)<<8)
			}
		}
	}
	return nil
}

// readWire reads a little-endian wire structure, mapping short reads to
// ErrTruncated with a hint of what was being read.
func readWire(r io.Reader, v interface{}, what string) error {
	if err := binary.Read(r, binary.LittleEndian, v); err != nil {
		if err == io.EOF || err == io.ErrUnexpectedEOF {
			return fmt.Errorf("%w: %s", ErrTruncated, what)
		}
		return err
	}
	return nil
}

func clampi(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

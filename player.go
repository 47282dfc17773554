package xmplayer

import (
	"fmt"
)

// Effect column commands. The XM effect column is mostly hex digits
// (0x0..0xF) and continues through the letters FT2 shows as G, H, K...
const (
	effectArpeggio          = 0x00
	effectPortamentoUp      = 0x01
	effectPortamentoDown    = 0x02
	effectTonePortamento    = 0x03
	effectVibrato           = 0x04
	effectTonePortaVolSlide = 0x05
	effectVibratoVolSlide   = 0x06
	effectTremolo           = 0x07
	effectSetPanning        = 0x08
	effectSampleOffset      = 0x09
	effectVolumeSlide       = 0x0A
	effectPositionJump      = 0x0B
	effectSetVolume         = 0x0C
	effectPatternBreak      = 0x0D
	effectExtended          = 0x0E
	effectSetTempoBPM       = 0x0F
	effectSetGlobalVolume   = 0x10 // Gxx
	effectGlobalVolumeSlide = 0x11 // Hxy
	effectKeyOff            = 0x14 // Kxx
	effectSetEnvelopePos    = 0x15 // Lxx
	effectPanningSlide      = 0x19 // Pxy
	effectMultiRetrig       = 0x1B // Rxy
	effectTremor            = 0x1D // Txy
	effectExtraFinePorta    = 0x21 // X1y/X2y

	// Extended effects (Exy), x = effect, y = effect param
	effectExtFinePortaUp      = 0x1
	effectExtFinePortaDown    = 0x2
	effectExtVibratoControl   = 0x4
	effectExtSetFinetune      = 0x5
	effectExtPatternLoop      = 0x6
	effectExtTremoloControl   = 0x7
	effectExtNoteRetrig       = 0x9
	effectExtFineVolSlideUp   = 0xA
	effectExtFineVolSlideDown = 0xB
	effectExtNoteCut          = 0xC
	effectExtNoteDelay        = 0xD
	effectExtPatternDelay     = 0xE
)

// Flags for triggerNote. Zero means a full trigger: restart the sample,
// take the period from the note and the volume/panning from the sample.
type triggerFlags uint8

const (
	triggerKeepVolume triggerFlags = 1 << iota
	triggerKeepPeriod
	triggerKeepSamplePosition
)

// Player plays a loaded XM Song. It must be initialized with NewPlayer.
//
// A Player owns all mutable playback state; the Song is never written
// to, so many Players can share one Song. A Player must only be used
// from one goroutine, and the setters must not be called concurrently
// with GenerateAudio.
type Player struct {
	*Song
	samplingFrequency uint
	globalVolume      int // 0..=maxVolume
	volBoost          uint

	// LinearInterpolation selects linear resampling of the instrument
	// waveforms instead of nearest neighbor. Smoother, slightly duller.
	LinearInterpolation bool

	// song configuration, changed by Fxx at playback time
	Tempo int // ticks per row
	BPM   int

	// These next fields track player position in the song
	remainingInTick int64 // subsample units left before the next tick
	tick            int
	row             int
	order           int
	extraRows       int // pattern delay EEy, rows still to repeat
	extraRowsDone   int
	playing         bool

	// Pattern jump state, applied at the start of the next row
	rowPrimed    bool // play the current row without advancing first
	positionJump bool
	patternBreak bool
	jumpDest     int
	jumpRow      int

	// rowLoopCount counts how many times each (order, row) cell was
	// entered outside a pattern loop. Driving loopCount from it makes
	// jump-to-same-row cycles count as song loops too.
	rowLoopCount []uint8
	loopCount    int
	maxLoopCount int // 0 = loop forever

	mutedInstruments []bool

	generatedFrames      uint32
	latestInstrumentTrig []uint32
	latestSampleTrig     []uint32

	rng uint32 // for the "random" oscillator waveform

	channels []channel

	// Internal buffer the audio is mixed into before it is clamped to
	// int16 on the way out.
	mixbuffer []float32
}

const mixBufferLen = 8192 // frames the mix buffer can hold

// ChannelNoteData represents the note data for a channel
type ChannelNoteData struct {
	Note       string // 'A-4', 'C#3', ...
	Instrument int    // 0 if no instrument
	Volume     int    // volume column byte
	Effect     int
	Param      int
}

// String returns a formatted string of the note data
func (c *ChannelNoteData) String() string {
	return fmt.Sprintf("%s %2X %2X %X%02X", c.Note, c.Instrument, c.Volume, c.Effect, c.Param)
}

// ChannelState holds the current state of a channel
type ChannelState struct {
	Instrument         int // -1 if no instrument playing
	TrigOrder, TrigRow int // The order and row the instrument was triggered (played)
}

// PlayerState holds player position and channel state
type PlayerState struct {
	Order   int
	Pattern int
	Row     int

	Notes    []ChannelNoteData
	Channels []ChannelState
}

type channel struct {
	inst *Instrument // last instrument triggered by a note, may be nil
	smp  *Sample     // last sample triggered by a note, may be nil
	slot *PatternSlot

	smpIndex int // index of smp in Song.Samples

	samplePosition uint32 // microsteps
	step           uint32 // microsteps per output frame
	pingPongDown   bool
	active         bool

	actualVolume        [2]float32 // current left/right multiplier
	targetVolume        [2]float32 // recomputed at every tick
	frameCount          uint32     // frames since last trigger, for ramping
	endOfPreviousSample [rampingPoints]float32

	origNote    playerNote
	period      int
	origPeriod  int // as read at note trigger, used by retrigger effects
	portaPeriod int // tone portamento destination

	fadeoutVolume    int // 0..=maxFadeoutVolume
	autovibratoTicks int

	volumeEnvelopeFrame  int
	panningEnvelopeFrame int
	volumeEnvelopeValue  int // 0..=maxEnvelopeValue
	panningEnvelopeValue int

	volume         int // 0..=maxVolume
	volumeOffset   int // tremolo adjustment
	pan            int // 0..maxPanning
	finetune       int // 1/16 semitone units, E5x overrides the sample's
	nextInstrument int // last instrument column value, may be 0

	autovibratoOffset int // period units
	arpNoteOffset     int // semitones
	vibratoOffset     int // period units

	// Saved parameters, one per effect family. A zero parameter reuses
	// the saved value.
	memVolumeSlide        byte
	memFineVolSlideUp     byte
	memFineVolSlideDown   byte
	memGlobalVolumeSlide  byte
	memPanningSlide       byte
	memPortaUp            byte
	memPortaDown          byte
	memFinePortaUp        byte
	memFinePortaDown      byte
	memExtraFinePortaUp   byte
	memExtraFinePortaDown byte
	memTonePorta          byte
	memMultiRetrig        byte
	memNoteDelay          byte
	memSampleOffset       byte

	patternLoopOrigin int // where to restart a E6y loop
	patternLoopCount  int // loop passes already done

	tremoloParam   byte
	tremoloControl byte
	tremoloTicks   byte

	vibratoParam   byte
	vibratoControl byte
	vibratoTicks   byte

	tremorParam byte
	tremorTicks byte
	tremorOn    bool

	sustained bool
	muted     bool

	latestTrigger uint32

	// When the note was triggered
	trigOrder int
	trigRow   int
}

// NewPlayer returns a new Player for the given song. The Player is
// already started.
func NewPlayer(song *Song, samplingFrequency uint) (*Player, error) {
	if samplingFrequency == 0 {
		return nil, fmt.Errorf("invalid sampling frequency")
	}

	player := &Player{
		samplingFrequency:    samplingFrequency,
		volBoost:             1,
		Song:                 song,
		channels:             make([]channel, song.Channels),
		rowLoopCount:         make([]uint8, patternOrderTableLength*maxRowsPerPattern),
		mutedInstruments:     make([]bool, len(song.Instruments)),
		latestInstrumentTrig: make([]uint32, len(song.Instruments)),
		latestSampleTrig:     make([]uint32, len(song.Samples)),
		mixbuffer:            make([]float32, mixBufferLen*2),
	}

	player.Reset()
	player.Start()

	return player, nil
}

// Start tells the player to start playing. Calls to GenerateAudio will
// advance the song position and generate audio samples.
func (p *Player) Start() {
	p.playing = true
}

// Stop tells the player to stop playing. Calls to GenerateAudio will not
// advance the song position or generate audio samples. A stopped player
// preserves state and a subsequent call to Start carries on where the
// player left off.
func (p *Player) Stop() {
	p.playing = false
}

// IsPlaying returns if the song is being played
func (p *Player) IsPlaying() bool {
	return p.playing
}

// Reset rewinds the player to the start of the song and clears all
// channel and scheduler state. Mute flags and the loop limit survive.
func (p *Player) Reset() {
	p.Tempo = p.Song.Tempo
	p.BPM = p.Song.BPM
	p.globalVolume = maxVolume

	p.order = 0
	p.row = 0
	p.tick = 0
	p.rowPrimed = true
	p.remainingInTick = 0
	p.extraRows = 0
	p.extraRowsDone = 0
	p.positionJump = false
	p.patternBreak = false
	p.jumpDest = 0
	p.jumpRow = 0
	p.loopCount = 0
	p.generatedFrames = 0
	p.rng = 0x12345678
	clear(p.rowLoopCount)
	clear(p.latestInstrumentTrig)
	clear(p.latestSampleTrig)

	for i := range p.channels {
		muted := p.channels[i].muted
		p.channels[i] = channel{
			muted: muted,
			pan:   maxPanning / 2,
		}
	}
}

// SeekTo sets the player's position. Out of range values are clamped.
// Channel state is carried over, the way it would be after a Bxx jump.
func (p *Player) SeekTo(order, row, tick int) {
	if order < 0 {
		order = 0
	} else if order >= p.Song.Length {
		order = p.Song.Length - 1
	}
	p.order = order

	pat := p.Song.patternForOrder(order)
	p.row = clampi(row, 0, pat.NumRows-1)
	p.tick = clampi(tick, 0, p.Tempo-1)
	p.rowPrimed = true
	p.remainingInTick = 0
	p.extraRows = 0
	p.extraRowsDone = 0
	p.positionJump = false
	p.patternBreak = false
}

// SetMaxLoopCount limits how many times the song may restart before
// GenerateAudio stops producing frames. Zero means loop forever.
func (p *Player) SetMaxLoopCount(n int) {
	p.maxLoopCount = n
}

// LoopCount returns how many times the song has restarted so far.
func (p *Player) LoopCount() int {
	return p.loopCount
}

// MuteChannel silences channel i (0 based) without stopping its state
// from advancing. Returns the previous flag.
func (p *Player) MuteChannel(i int, mute bool) bool {
	old := p.channels[i].muted
	p.channels[i].muted = mute
	return old
}

// MuteInstrument silences every note played through instrument i
// (0 based). Returns the previous flag.
func (p *Player) MuteInstrument(i int, mute bool) bool {
	old := p.mutedInstruments[i]
	p.mutedInstruments[i] = mute
	return old
}

// SetVolumeBoost sets the volume boost factor to a value between 1 (no
// boost, default) and 4 (4x volume).
func (p *Player) SetVolumeBoost(boost int) error {
	if boost < 1 || boost > 4 {
		return fmt.Errorf("invalid volume boost")
	}
	p.volBoost = uint(boost)

	return nil
}

// GeneratedFrames returns the number of stereo frames generated since
// the player was created or Reset.
func (p *Player) GeneratedFrames() uint32 { return p.generatedFrames }

// LatestTriggerOfChannel returns the frame count at which channel i last
// triggered a note.
func (p *Player) LatestTriggerOfChannel(i int) uint32 { return p.channels[i].latestTrigger }

// LatestTriggerOfInstrument returns the frame count at which instrument
// i (0 based) last triggered a note.
func (p *Player) LatestTriggerOfInstrument(i int) uint32 { return p.latestInstrumentTrig[i] }

// LatestTriggerOfSample returns the frame count at which sample i was
// last triggered.
func (p *Player) LatestTriggerOfSample(i int) uint32 { return p.latestSampleTrig[i] }

// State returns the current state of the player (song position, channel
// state, etc.)
func (p *Player) State() PlayerState {
	state := PlayerState{Order: p.order, Pattern: int(p.Song.Orders[p.order]), Row: p.row}
	state.Notes = p.NoteDataFor(p.order, p.row)
	state.Channels = make([]ChannelState, p.Song.Channels)

	for i := range p.channels {
		ch := &p.channels[i]
		state.Channels[i].Instrument = -1
		state.Channels[i].TrigOrder = -1
		state.Channels[i].TrigRow = -1
		if ch.inst != nil {
			state.Channels[i].Instrument = ch.nextInstrument - 1
			state.Channels[i].TrigOrder = ch.trigOrder
			state.Channels[i].TrigRow = ch.trigRow
		}
	}

	return state
}

// NoteDataFor returns the note data for a specific order and row, or nil
// if the requested position is invalid.
func (p *Player) NoteDataFor(order, row int) []ChannelNoteData {
	if order < 0 || order >= p.Song.Length || row < 0 {
		return nil
	}
	pat := p.Song.patternForOrder(order)
	if row >= pat.NumRows {
		return nil
	}

	nd := make([]ChannelNoteData, p.Song.Channels)
	slots := p.Song.slotsForRow(pat, row)
	for i := range nd {
		s := &slots[i]
		nd[i] = ChannelNoteData{
			Note:       playerNote(s.Note).String(),
			Instrument: int(s.Instrument),
			Volume:     int(s.Volume),
			Effect:     int(s.Effect),
			Param:      int(s.Param),
		}
	}

	return nd
}

// sequenceTick advances playback by one tick. Returns false once the
// loop limit has been reached.
func (p *Player) sequenceTick() bool {
	if p.tick == 0 {
		if p.extraRowsDone < p.extraRows {
			// Pattern delay: hold the row, effects keep ticking
			p.extraRowsDone++
		} else {
			p.extraRows = 0
			p.extraRowsDone = 0
			if !p.processRow() {
				return false
			}
		}
	}

	for i := range p.channels {
		p.channelTick(&p.channels[i])
	}

	p.tick++
	if p.tick >= p.Tempo {
		p.tick = 0
	}
	return true
}

// processRow advances to the next row (applying any pending jump) and
// executes it on every channel. Returns false once the loop limit has
// been reached. Outside this function p.row is always the row being
// played.
func (p *Player) processRow() bool {
	switch {
	case p.rowPrimed:
		// Fresh start or a seek, play the current position as-is
		p.rowPrimed = false

	case p.positionJump:
		// A jump wins over a break on the same row. A break in a later
		// channel than the jump still contributes its target row
		// through jumpRow; a jump in a later channel resets it to 0.
		p.order = p.jumpDest
		p.row = p.jumpRow
		p.positionJump = false
		p.patternBreak = false
		p.jumpRow = 0
		p.postPatternChange()

	case p.patternBreak:
		p.order++
		p.row = p.jumpRow
		p.patternBreak = false
		p.jumpRow = 0
		p.postPatternChange()

	default:
		p.row++
		if p.row >= p.Song.patternForOrder(p.order).NumRows {
			p.order++
			p.row = 0
			p.postPatternChange()
		}
	}

	pat := p.Song.patternForOrder(p.order)
	if p.row >= pat.NumRows {
		// Break destination beyond the target pattern wraps to row 0
		p.row = 0
	}
	slots := p.Song.slotsForRow(pat, p.row)

	inALoop := false
	for i := range p.channels {
		ch := &p.channels[i]
		ch.slot = &slots[i]
		p.handleRow(ch, false)
		if ch.patternLoopCount > 0 {
			inALoop = true
		}
	}

	if !inALoop {
		idx := p.order*maxRowsPerPattern + p.row
		p.loopCount = int(p.rowLoopCount[idx])
		if p.rowLoopCount[idx] < 255 {
			p.rowLoopCount[idx]++
		}
	}
	if p.maxLoopCount > 0 && p.loopCount >= p.maxLoopCount {
		return false
	}
	return true
}

func (p *Player) postPatternChange() {
	if p.order >= p.Song.Length {
		p.order = p.Song.RestartPosition
	}
}

// handleRow processes one channel's slot at tick 0 of a row: note and
// instrument triggering, the volume column and the row part of the
// effect column. With delayed=true it is the deferred half of a EDx
// note delay firing mid-row.
func (p *Player) handleRow(ch *channel, delayed bool) {
	s := ch.slot

	if !delayed {
		// The oscillator adjustments from the previous row do not
		// survive into a new row.
		ch.arpNoteOffset = 0
		ch.vibratoOffset = 0
		ch.volumeOffset = 0

		if s.Effect == effectExtended && s.Param>>4 == effectExtNoteDelay && s.Param&0xF != 0 {
			// Everything in this slot waits until tick y
			ch.memNoteDelay = s.Param & 0xF
			return
		}
	}

	notePresent := s.Note >= 1 && s.Note <= numNotes
	tonePorta := s.Effect == effectTonePortamento || s.Effect == effectTonePortaVolSlide ||
		s.Volume>>4 == 0xF

	if s.Instrument > 0 {
		ch.nextInstrument = int(s.Instrument)
		if !notePresent && ch.smp != nil {
			// Ghost instrument: reset volume/panning and restart the
			// envelopes of whatever is already playing.
			p.triggerNote(ch, triggerKeepPeriod|triggerKeepSamplePosition)
		}
	}

	switch {
	case notePresent && tonePorta && ch.inst != nil && ch.smp != nil:
		ch.portaPeriod = p.clampPeriod(p.periodForTunedNote(playerNote(s.Note), ch.smp, ch.finetune))

	case notePresent:
		inst := p.instrumentFor(ch.nextInstrument)
		if inst == nil || inst.NumSamples == 0 {
			p.cutNote(ch)
			break
		}
		si := inst.SamplesIndex + int(inst.SampleOfNotes[s.Note-1])
		smp := &p.Song.Samples[si]
		ch.inst = inst
		ch.smp = smp
		ch.smpIndex = si
		ch.finetune = int(smp.Finetune)
		ch.trigOrder, ch.trigRow = p.order, p.row
		ch.origNote = playerNote(s.Note)

		flags := triggerFlags(0)
		if s.Instrument == 0 {
			// Bare note keeps the channel volume
			flags |= triggerKeepVolume
		}
		p.triggerNote(ch, flags)

	case s.Note == noteKeyOff:
		p.keyOff(ch)
	}

	p.volumeColumnRow(ch, s.Volume)
	p.effectRow(ch, s)
}

func (p *Player) instrumentFor(num int) *Instrument {
	if num < 1 || num > len(p.Song.Instruments) {
		return nil
	}
	return &p.Song.Instruments[num-1]
}

// triggerNote starts (or restarts) the channel's current sample.
func (p *Player) triggerNote(ch *channel, flags triggerFlags) {
	smp := ch.smp

	if flags&triggerKeepSamplePosition == 0 {
		p.captureRampTail(ch)
		ch.samplePosition = 0
		ch.pingPongDown = false
		ch.active = smp != nil && smp.Length > 0
		ch.frameCount = 0
		ch.latestTrigger = p.generatedFrames
		if ch.inst != nil && ch.nextInstrument >= 1 {
			p.latestInstrumentTrig[ch.nextInstrument-1] = p.generatedFrames
		}
		if smp != nil {
			p.latestSampleTrig[ch.smpIndex] = p.generatedFrames
		}
	}

	if smp != nil && flags&triggerKeepVolume == 0 {
		ch.volume = int(smp.Volume)
		ch.pan = smp.Panning
	}

	ch.sustained = true
	ch.fadeoutVolume = maxFadeoutVolume
	ch.volumeEnvelopeFrame = 0
	ch.panningEnvelopeFrame = 0
	ch.volumeEnvelopeValue = maxEnvelopeValue
	ch.panningEnvelopeValue = maxEnvelopeValue / 2
	ch.volumeOffset = 0
	ch.autovibratoTicks = 0
	ch.autovibratoOffset = 0
	ch.vibratoOffset = 0
	ch.tremorTicks = 0
	ch.tremorOn = true

	// Control bit 2 inhibits the phase reset on a new note
	if ch.vibratoControl&4 == 0 {
		ch.vibratoTicks = 0
	}
	if ch.tremoloControl&4 == 0 {
		ch.tremoloTicks = 0
	}

	if flags&triggerKeepPeriod == 0 && smp != nil {
		period := p.periodForTunedNote(ch.origNote, smp, ch.finetune)
		if period == 0 {
			ch.active = false
		} else {
			ch.period = p.clampPeriod(period)
			ch.origPeriod = ch.period
		}
	}
}

// retrigger restarts the current note in place, used by E9x and Rxy.
func (p *Player) retrigger(ch *channel) {
	if ch.smp == nil {
		return
	}
	ch.period = ch.origPeriod
	p.triggerNote(ch, triggerKeepVolume|triggerKeepPeriod)
}

func (p *Player) keyOff(ch *channel) {
	ch.sustained = false
	if ch.inst == nil || !ch.inst.VolumeEnvelope.enabled() {
		p.cutNote(ch)
	}
}

// cutNote silences the channel. The sample keeps playing inaudibly,
// matching tracker behavior.
func (p *Player) cutNote(ch *channel) {
	ch.volume = 0
}

// channelTick runs once per channel per tick: envelopes, autovibrato,
// the tick driven effects and finally the step and volume targets the
// mixer will use until the next tick.
func (p *Player) channelTick(ch *channel) {
	p.tickEnvelopes(ch)
	p.tickAutovibrato(ch)

	if s := ch.slot; s != nil {
		// A pending EDx delay holds the whole slot, volume column
		// included, until the trigger tick.
		delayPending := s.Effect == effectExtended && s.Param>>4 == effectExtNoteDelay &&
			s.Param&0xF != 0 && p.tick < int(s.Param&0xF)
		if !delayPending {
			p.volumeColumnTick(ch, s.Volume)
		}
		p.effectTick(ch, s)
	}

	p.updateStepAndVolumes(ch)
}

func (p *Player) tickEnvelopes(ch *channel) {
	if ch.inst == nil {
		return
	}

	if !ch.sustained {
		ch.fadeoutVolume -= int(ch.inst.VolumeFadeout)
		if ch.fadeoutVolume < 0 {
			ch.fadeoutVolume = 0
		}
	}

	if env := &ch.inst.VolumeEnvelope; env.enabled() {
		ch.volumeEnvelopeValue = envelopeTick(env, &ch.volumeEnvelopeFrame, ch.sustained)
	} else {
		ch.volumeEnvelopeValue = maxEnvelopeValue
	}
	if env := &ch.inst.PanningEnvelope; env.enabled() {
		ch.panningEnvelopeValue = envelopeTick(env, &ch.panningEnvelopeFrame, ch.sustained)
	} else {
		ch.panningEnvelopeValue = maxEnvelopeValue / 2
	}
}

// envelopeTick evaluates an envelope at *frame and advances it, holding
// at the sustain point while the note is sustained and wrapping the
// loop region.
func envelopeTick(e *Envelope, frame *int, sustained bool) int {
	f := *frame

	if e.loopEnabled() {
		loopEnd := int(e.Points[e.LoopEnd].Frame)
		loopStart := int(e.Points[e.LoopStart].Frame)
		if f >= loopEnd && loopEnd > loopStart {
			f -= loopEnd - loopStart
		} else if f >= loopEnd {
			f = loopStart
		}
	}

	n := int(e.NumPoints)
	var value int
	switch {
	case f <= int(e.Points[0].Frame):
		value = int(e.Points[0].Value)
	case f >= int(e.Points[n-1].Frame):
		value = int(e.Points[n-1].Value)
	default:
		i := 0
		for i < n-2 && int(e.Points[i+1].Frame) <= f {
			i++
		}
		a, b := e.Points[i], e.Points[i+1]
		span := int(b.Frame) - int(a.Frame)
		value = int(a.Value) + (int(b.Value)-int(a.Value))*(f-int(a.Frame))/span
	}

	if !(sustained && e.sustainEnabled() && f == int(e.Points[e.Sustain].Frame)) {
		f++
	}
	*frame = f
	return value
}

// tickAutovibrato applies the instrument's built in vibrato, sweeping
// the depth in over VibratoSweep ticks after a trigger.
func (p *Player) tickAutovibrato(ch *channel) {
	if ch.inst == nil || ch.inst.VibratoDepth == 0 {
		ch.autovibratoOffset = 0
		return
	}
	inst := ch.inst

	phase := uint8(ch.autovibratoTicks * int(inst.VibratoRate) / 4)
	wave := p.waveform(inst.VibratoType, phase)
	offset := -(wave * int(inst.VibratoDepth)) >> 7
	if int(inst.VibratoSweep) > 0 && ch.autovibratoTicks < int(inst.VibratoSweep) {
		offset = offset * ch.autovibratoTicks / int(inst.VibratoSweep)
	}
	ch.autovibratoOffset = offset
	ch.autovibratoTicks++
}

// updateStepAndVolumes refreshes the mixer facing side of the channel:
// the fixed point step for the current pitch and the stereo volume
// targets the per-frame ramp slides toward.
func (p *Player) updateStepAndVolumes(ch *channel) {
	if ch.smp == nil || !ch.active || !p.periodAudible(ch.period) {
		ch.step = 0
		ch.targetVolume[0] = 0
		ch.targetVolume[1] = 0
		return
	}

	freq := p.frequency(ch.period, ch.arpNoteOffset, ch.vibratoOffset+ch.autovibratoOffset)
	ch.step = p.sampleStep(freq)

	// Tremor only gates the note while its effect is on the row
	tremorMuted := ch.slot != nil && ch.slot.Effect == effectTremor && !ch.tremorOn

	vol := 0.0
	if !tremorMuted {
		vol = float64(clampi(ch.volume+ch.volumeOffset, 0, maxVolume)) / maxVolume
		vol *= float64(ch.fadeoutVolume) / maxFadeoutVolume
		vol *= float64(ch.volumeEnvelopeValue) / maxEnvelopeValue
		vol *= float64(p.globalVolume) / maxVolume
	}

	fpan := float64(ch.pan) / maxPanning
	env := float64(ch.panningEnvelopeValue-maxEnvelopeValue/2) / (maxEnvelopeValue / 2)
	fpan += env * (0.5 - absf(fpan-0.5))
	fpan = clampf(fpan, 0, 1)

	ch.targetVolume[0] = float32(vol * sqrtf(1-fpan))
	ch.targetVolume[1] = float32(vol * sqrtf(fpan))
}

package xmplayer

// Effect interpretation. Row effects run once at tick 0 of a row (or at
// the deferred trigger of a EDx note delay), tick effects run on every
// tick and decide internally which ticks they act on. Each effect family
// keeps one saved parameter byte on the channel; a zero parameter means
// "reuse the last non-zero value", independently per family.

// ProTracker sine table. 32-elements representing the first half of the sine
// period. The second half of the period has the same magnitude but with the
// sign flipped. See waveform().
var sineTable = []int{
	0, 24, 49, 74, 97, 120, 141, 161, 180, 197, 212, 224, 235, 244, 250, 253,
	255, 253, 250, 244, 235, 224, 212, 197, 180, 161, 141, 120, 97, 74, 49, 24,
}

// waveform evaluates the 64-step oscillator used by vibrato, tremolo and
// autovibrato. The low two control bits select the shape, the result is
// in -255..255.
func (p *Player) waveform(control, phase uint8) int {
	phase &= 63
	switch control & 3 {
	case 0: // sine
		v := sineTable[phase&31]
		if phase >= 32 {
			v = -v
		}
		return v
	case 1: // ramp down
		return 255 - 8*int(phase)
	case 2: // square
		if phase < 32 {
			return 255
		}
		return -255
	default: // random
		p.rng = p.rng*1664525 + 1013904223
		return int(p.rng>>24)*2 - 255
	}
}

func (p *Player) vibrato(ch *channel) {
	ch.vibratoTicks += ch.vibratoParam >> 4
	wave := p.waveform(ch.vibratoControl, ch.vibratoTicks)
	ch.vibratoOffset = -(wave * int(ch.vibratoParam&0xF)) >> 5
}

func (p *Player) tremolo(ch *channel) {
	wave := p.waveform(ch.tremoloControl, ch.tremoloTicks)
	ch.volumeOffset = (wave * int(ch.tremoloParam&0xF)) >> 6
	ch.tremoloTicks += ch.tremoloParam >> 4
}

func (p *Player) tonePortamento(ch *channel) {
	if ch.portaPeriod == 0 {
		return
	}
	speed := int(ch.memTonePorta) * 4
	if ch.period < ch.portaPeriod {
		ch.period = min(ch.period+speed, ch.portaPeriod)
	} else if ch.period > ch.portaPeriod {
		ch.period = max(ch.period-speed, ch.portaPeriod)
	}
}

func (p *Player) volumeSlide(ch *channel) {
	x := ch.memVolumeSlide >> 4
	y := ch.memVolumeSlide & 0xF
	if x > 0 {
		ch.volume = clampi(ch.volume+int(x), 0, maxVolume)
	} else if y > 0 {
		ch.volume = clampi(ch.volume-int(y), 0, maxVolume)
	}
}

// tremor gates the note: x+1 ticks audible, then y+1 ticks silent. The
// audible phase is seeded by the note trigger, see effectRow. Whether
// the tick counter is shared with vibrato or tremolo is ambiguous in
// FT2; it is kept independent here.
func (p *Player) tremor(ch *channel) {
	if ch.tremorParam == 0 {
		return
	}
	if ch.tremorTicks > 0 {
		ch.tremorTicks--
		return
	}
	if ch.tremorOn {
		ch.tremorOn = false
		ch.tremorTicks = ch.tremorParam & 0xF
	} else {
		ch.tremorOn = true
		ch.tremorTicks = ch.tremorParam >> 4
	}
}

// volumeColumnRow handles the tick 0 part of the volume column.
func (p *Player) volumeColumnRow(ch *channel, v uint8) {
	switch v >> 4 {
	case 0x1, 0x2, 0x3, 0x4:
		ch.volume = int(v) - 0x10
		ch.volumeOffset = 0
	case 0x5:
		// 0x51..0x5F are out of range, FT2 ignores them
		if v == 0x50 {
			ch.volume = maxVolume
			ch.volumeOffset = 0
		}
	case 0x8: // fine volume slide down
		ch.volume = clampi(ch.volume-int(v&0xF), 0, maxVolume)
	case 0x9: // fine volume slide up
		ch.volume = clampi(ch.volume+int(v&0xF), 0, maxVolume)
	case 0xA: // vibrato speed, shares the 4xy parameter
		if v&0xF != 0 {
			ch.vibratoParam = (ch.vibratoParam & 0x0F) | ((v & 0xF) << 4)
		}
	case 0xB: // vibrato depth
		if v&0xF != 0 {
			ch.vibratoParam = (ch.vibratoParam & 0xF0) | (v & 0xF)
		}
	case 0xC:
		ch.pan = int(v&0xF) << 4
	case 0xF: // tone portamento, speed x*16, shares the 3xx parameter
		if v&0xF != 0 {
			ch.memTonePorta = (v & 0xF) << 4
		}
	}
}

// volumeColumnTick handles the per-tick part of the volume column.
func (p *Player) volumeColumnTick(ch *channel, v uint8) {
	if p.tick == 0 {
		return
	}
	switch v >> 4 {
	case 0x6: // volume slide down
		ch.volume = clampi(ch.volume-int(v&0xF), 0, maxVolume)
	case 0x7: // volume slide up
		ch.volume = clampi(ch.volume+int(v&0xF), 0, maxVolume)
	case 0xB:
		p.vibrato(ch)
	case 0xD: // panning slide left
		ch.pan = clampi(ch.pan-int(v&0xF), 0, maxPanning-1)
	case 0xE: // panning slide right
		ch.pan = clampi(ch.pan+int(v&0xF), 0, maxPanning-1)
	case 0xF:
		p.tonePortamento(ch)
	}
}

// effectRow handles the tick 0 part of the effect column: parameter
// memories, fine slides and the position control effects.
func (p *Player) effectRow(ch *channel, s *PatternSlot) {
	param := s.Param
	x := param >> 4
	y := param & 0xF

	switch s.Effect {
	case effectPortamentoUp:
		if param > 0 {
			ch.memPortaUp = param
		}

	case effectPortamentoDown:
		if param > 0 {
			ch.memPortaDown = param
		}

	case effectTonePortamento:
		if param > 0 {
			ch.memTonePorta = param
		}

	case effectVibrato:
		if x > 0 {
			ch.vibratoParam = (ch.vibratoParam & 0x0F) | (x << 4)
		}
		if y > 0 {
			ch.vibratoParam = (ch.vibratoParam & 0xF0) | y
		}

	case effectTonePortaVolSlide, effectVibratoVolSlide, effectVolumeSlide:
		if param > 0 {
			ch.memVolumeSlide = param
		}

	case effectTremolo:
		if x > 0 {
			ch.tremoloParam = (ch.tremoloParam & 0x0F) | (x << 4)
		}
		if y > 0 {
			ch.tremoloParam = (ch.tremoloParam & 0xF0) | y
		}

	case effectSetPanning:
		ch.pan = int(param)

	case effectSampleOffset:
		if param > 0 {
			ch.memSampleOffset = param
		}
		if s.Note >= 1 && s.Note <= numNotes && ch.smp != nil {
			// Offset is in units of 256 frames from the sample start.
			// Seeking past the end kills the note.
			off := int(ch.memSampleOffset) * 256
			if off >= ch.smp.Length {
				ch.active = false
			} else {
				ch.samplePosition = uint32(off) << microstepBits
				ch.pingPongDown = false
			}
		}

	case effectPositionJump:
		p.positionJump = true
		p.jumpDest = int(param)
		p.jumpRow = 0

	case effectSetVolume:
		ch.volume = clampi(int(param), 0, maxVolume)
		ch.volumeOffset = 0

	case effectPatternBreak:
		// The break row is in decimal-as-hex
		p.patternBreak = true
		p.jumpRow = int(x)*10 + int(y)

	case effectExtended:
		p.extendedEffectRow(ch, s, x, y)

	case effectSetTempoBPM:
		switch {
		case param == 0:
			// F00 does nothing
		case param < 0x20:
			p.Tempo = int(param)
		default:
			p.BPM = int(param)
		}

	case effectSetGlobalVolume:
		p.globalVolume = clampi(int(param), 0, maxVolume)

	case effectGlobalVolumeSlide:
		if param > 0 {
			ch.memGlobalVolumeSlide = param
		}

	case effectSetEnvelopePos:
		ch.volumeEnvelopeFrame = int(param)

	case effectPanningSlide:
		if param > 0 {
			ch.memPanningSlide = param
		}

	case effectMultiRetrig:
		if x > 0 {
			ch.memMultiRetrig = (ch.memMultiRetrig & 0x0F) | (x << 4)
		}
		if y > 0 {
			ch.memMultiRetrig = (ch.memMultiRetrig & 0xF0) | y
		}

	case effectTremor:
		if param > 0 {
			ch.tremorParam = param
		}
		if s.Note >= 1 && s.Note <= numNotes {
			// A fresh note starts in the audible phase, x+1 ticks of it
			ch.tremorOn = true
			ch.tremorTicks = ch.tremorParam >> 4
		}

	case effectExtraFinePorta:
		switch x {
		case 1:
			if y > 0 {
				ch.memExtraFinePortaUp = y
			}
			ch.period = p.clampPeriod(ch.period - int(ch.memExtraFinePortaUp))
		case 2:
			if y > 0 {
				ch.memExtraFinePortaDown = y
			}
			ch.period = p.clampPeriod(ch.period + int(ch.memExtraFinePortaDown))
		}
	}
}

func (p *Player) extendedEffectRow(ch *channel, s *PatternSlot, x, y uint8) {
	switch x {
	case effectExtFinePortaUp:
		if y > 0 {
			ch.memFinePortaUp = y
		}
		ch.period = p.clampPeriod(ch.period - 4*int(ch.memFinePortaUp))

	case effectExtFinePortaDown:
		if y > 0 {
			ch.memFinePortaDown = y
		}
		ch.period = p.clampPeriod(ch.period + 4*int(ch.memFinePortaDown))

	case effectExtVibratoControl:
		ch.vibratoControl = y

	case effectExtSetFinetune:
		// Replaces the sample finetune for this note, 16 steps over
		// the -16..14 range
		ch.finetune = int(y)*2 - 16
		if s.Note >= 1 && s.Note <= numNotes && ch.smp != nil {
			if period := p.periodForTunedNote(playerNote(s.Note), ch.smp, ch.finetune); period != 0 {
				ch.period = p.clampPeriod(period)
				ch.origPeriod = ch.period
			}
		}

	case effectExtPatternLoop:
		// Each channel owns its own loop origin and counter. What
		// multiple channels looping with different origins do is
		// undefined in FT2; here each channel simply requests its own
		// jump and the last channel processed wins.
		if y == 0 {
			ch.patternLoopOrigin = p.row
		} else if ch.patternLoopCount < int(y) {
			ch.patternLoopCount++
			p.positionJump = true
			p.jumpDest = p.order
			p.jumpRow = ch.patternLoopOrigin
		} else {
			ch.patternLoopCount = 0
		}

	case effectExtTremoloControl:
		ch.tremoloControl = y

	case effectExtFineVolSlideUp:
		if y > 0 {
			ch.memFineVolSlideUp = y
		}
		ch.volume = clampi(ch.volume+int(ch.memFineVolSlideUp), 0, maxVolume)

	case effectExtFineVolSlideDown:
		if y > 0 {
			ch.memFineVolSlideDown = y
		}
		ch.volume = clampi(ch.volume-int(ch.memFineVolSlideDown), 0, maxVolume)

	case effectExtPatternDelay:
		p.extraRows = int(y)
	}
}

// effectTick handles the per-tick side of the effect column. It runs on
// every tick including 0; effects that must not act on the row tick
// check for it themselves.
func (p *Player) effectTick(ch *channel, s *PatternSlot) {
	param := s.Param
	x := param >> 4
	y := param & 0xF

	switch s.Effect {
	case effectArpeggio:
		if param == 0 {
			break
		}
		switch p.tick % 3 {
		case 0:
			ch.arpNoteOffset = 0
		case 1:
			ch.arpNoteOffset = int(x)
		case 2:
			ch.arpNoteOffset = int(y)
		}

	case effectPortamentoUp:
		if p.tick > 0 {
			ch.period = p.clampPeriod(ch.period - 4*int(ch.memPortaUp))
		}

	case effectPortamentoDown:
		if p.tick > 0 {
			ch.period = p.clampPeriod(ch.period + 4*int(ch.memPortaDown))
		}

	case effectTonePortamento:
		if p.tick > 0 {
			p.tonePortamento(ch)
		}

	case effectVibrato:
		if p.tick > 0 {
			p.vibrato(ch)
		}

	case effectTonePortaVolSlide:
		if p.tick > 0 {
			p.tonePortamento(ch)
			p.volumeSlide(ch)
		}

	case effectVibratoVolSlide:
		if p.tick > 0 {
			p.vibrato(ch)
			p.volumeSlide(ch)
		}

	case effectTremolo:
		if p.tick > 0 {
			p.tremolo(ch)
		}

	case effectVolumeSlide:
		if p.tick > 0 {
			p.volumeSlide(ch)
		}

	case effectGlobalVolumeSlide:
		if p.tick > 0 {
			gx := ch.memGlobalVolumeSlide >> 4
			gy := ch.memGlobalVolumeSlide & 0xF
			if gx > 0 {
				p.globalVolume = clampi(p.globalVolume+int(gx), 0, maxVolume)
			} else if gy > 0 {
				p.globalVolume = clampi(p.globalVolume-int(gy), 0, maxVolume)
			}
		}

	case effectKeyOff:
		if p.tick == int(param) {
			p.keyOff(ch)
		}

	case effectPanningSlide:
		if p.tick > 0 {
			px := ch.memPanningSlide >> 4
			py := ch.memPanningSlide & 0xF
			if px > 0 {
				ch.pan = clampi(ch.pan+int(px), 0, maxPanning-1)
			} else if py > 0 {
				ch.pan = clampi(ch.pan-int(py), 0, maxPanning-1)
			}
		}

	case effectMultiRetrig:
		interval := int(ch.memMultiRetrig & 0xF)
		if interval > 0 && p.tick > 0 && p.tick%interval == 0 {
			p.retrigger(ch)
			ch.volume = retrigVolume(int(ch.memMultiRetrig>>4), ch.volume)
		}

	case effectTremor:
		if p.tick > 0 {
			p.tremor(ch)
		}

	case effectExtended:
		switch x {
		case effectExtNoteRetrig:
			if y == 0 {
				// E90 retriggers once, on the row tick
				if p.tick == 0 {
					p.retrigger(ch)
				}
			} else if p.tick > 0 && p.tick%int(y) == 0 {
				p.retrigger(ch)
			}
		case effectExtNoteCut:
			if p.tick == int(y) {
				p.cutNote(ch)
			}
		case effectExtNoteDelay:
			if y > 0 && p.tick == int(y) {
				p.handleRow(ch, true)
			}
		}
	}
}

func retrigVolume(mode, vol int) (outvol int) {
	switch mode {
	case 1:
		outvol = vol - 1
	case 2:
		outvol = vol - 2
	case 3:
		outvol = vol - 4
	case 4:
		outvol = vol - 8
	case 5:
		outvol = vol - 16
	case 6:
		outvol = (vol * 2) / 3
	case 7:
		outvol = vol / 2
	case 9:
		outvol = vol + 1
	case 10:
		outvol = vol + 2
	case 11:
		outvol = vol + 4
	case 12:
		outvol = vol + 8
	case 13:
		outvol = vol + 16
	case 14:
		outvol = (vol * 3) / 2
	case 15:
		outvol = vol * 2
	default:
		outvol = vol
	}

	return clampi(outvol, 0, maxVolume)
}

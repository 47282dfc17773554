package xmplayer

import "math"

// Pitch handling. Channels carry a period, not a frequency: smaller
// periods are higher pitches. In linear mode a period is in 1/64
// semitone units (7680 = C-0 region, one semitone = 64). In Amiga mode
// it is the classic PAL period. Either way the mixer only ever sees a
// step value in microsteps per output frame.

const (
	palClock = 7093789.2 // Amiga PAL color carrier * 2, Hz

	minLinearPeriod = 1
	maxLinearPeriod = 7680
	minAmigaPeriod  = 107
	maxAmigaPeriod  = 7040
)

// Periods for one octave of notes in Amiga mode, C to the next C, at
// zero finetune. Finetune interpolates between adjacent entries in
// 1/16 semitone steps, other octaves shift the entries.
var amigaPeriods = [13]int{
	1712, 1616, 1525, 1440, 1357, 1281, 1209, 1141, 1077, 1017, 961, 907, 856,
}

// linearPeriod returns the period for a note given in 1/16 semitone
// units (note*16 + finetune, note 0 based).
func linearPeriod(note16 int) int {
	return 7680 - note16*4
}

// amigaPeriod returns the period for a note in 1/16 semitone units,
// interpolating the period table for the finetune fraction. The table
// entries are scaled up 16x while interpolating and shifted per octave;
// C-4 lands on the classic 428.
func amigaPeriod(note16 int) int {
	octave := note16/(12*16) - 2
	fine := note16 % (12 * 16)
	idx := fine / 16

	p1 := amigaPeriods[idx] << 4
	p2 := amigaPeriods[idx+1] << 4
	p := p1 + (fine%16)*((p2-p1)/16)
	if octave > 0 {
		p >>= octave
	} else if octave < 0 {
		p <<= -octave
	}
	return p / 16
}

// periodForNote converts a 1-based pattern note (with the sample's
// relative note and finetune folded in) to a period. Returns 0 when the
// effective note is out of the 8 octave range; a zero period silences
// the channel.
func (p *Player) periodForNote(note playerNote, smp *Sample) int {
	return p.periodForTunedNote(note, smp, int(smp.Finetune))
}

func (p *Player) periodForTunedNote(note playerNote, smp *Sample, finetune int) int {
	real := int(note) - 1 + int(smp.RelativeNote)
	if real < 0 || real >= numNotes {
		return 0
	}
	note16 := real*16 + finetune
	if note16 < 0 {
		note16 = 0
	}

	if p.Song.freqType == amigaFrequencies {
		return amigaPeriod(note16)
	}
	return linearPeriod(note16)
}

// clampPeriod clamps a period to the engine limits for the song's
// frequency mode. Out of range periods are clamped, the mixer then
// decides whether the result is audible.
func (p *Player) clampPeriod(period int) int {
	lo, hi := minLinearPeriod, maxLinearPeriod
	if p.Song.freqType == amigaFrequencies {
		lo, hi = minAmigaPeriod, maxAmigaPeriod
	}
	if period < lo {
		return lo
	}
	if period > hi {
		return hi
	}
	return period
}

func (p *Player) periodAudible(period int) bool {
	if p.Song.freqType == amigaFrequencies {
		return period >= minAmigaPeriod && period <= maxAmigaPeriod
	}
	return period >= minLinearPeriod && period <= maxLinearPeriod
}

// frequency returns the playback rate in Hz for a period with the tick's
// pitch modulation applied. arpOffset is in whole semitones, periodOffset
// in period units (vibrato and autovibrato).
func (p *Player) frequency(period, arpOffset, periodOffset int) float64 {
	if p.Song.freqType == amigaFrequencies {
		prd := period + periodOffset
		if prd < 1 {
			prd = 1
		}
		freq := palClock / float64(prd*2)
		if arpOffset != 0 {
			// Arpeggio in Amiga mode steps in equal tempered
			// semitones rather than re-reading the period table.
			freq *= math.Pow(2, float64(arpOffset)/12)
		}
		return freq
	}

	prd := period - 64*arpOffset + periodOffset
	return 8363 * math.Pow(2, float64(4608-prd)/768)
}

// sampleStep converts a frequency to a mixer step in microsteps per
// generated frame.
func (p *Player) sampleStep(freq float64) uint32 {
	step := freq / float64(p.samplingFrequency) * sampleMicrosteps
	if step <= 0 {
		return 0
	}
	if step >= math.MaxUint32 {
		return math.MaxUint32
	}
	return uint32(step)
}

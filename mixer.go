package xmplayer

import "math"

// The mixer. Sample positions are 32-bit fixed point with microstepBits
// of fraction; one waveform frame is sampleMicrosteps. Everything here
// runs on the audio path: no allocation, no I/O.

// captureRampTail records the next rampingPoints frames the channel
// would have produced, so a new trigger can cross-fade out of them
// instead of clicking. It deliberately advances the real position; the
// caller resets it right after.
func (p *Player) captureRampTail(ch *channel) {
	for i := range ch.endOfPreviousSample {
		ch.endOfPreviousSample[i] = p.nextChannelSample(ch)
	}
}

// nextChannelSample returns the waveform value at the channel's current
// position and advances it by one step, applying the sample's loop mode.
func (p *Player) nextChannelSample(ch *channel) float32 {
	if !ch.active || ch.smp == nil || ch.step == 0 {
		return 0
	}

	smp := ch.smp
	data := p.Song.sampleData(smp)
	lengthMicro := uint32(smp.Length) << microstepBits

	pos := ch.samplePosition
	if pos >= lengthMicro {
		ch.active = false
		return 0
	}

	idx := pos >> microstepBits
	v := float32(data[idx])
	if p.LinearInterpolation {
		frac := float32(pos&(sampleMicrosteps-1)) / sampleMicrosteps
		var next float32
		if b, ok := p.neighborSample(ch, data, idx); ok {
			next = b
		} else {
			next = v
		}
		if ch.pingPongDown {
			// Walking backwards, the fraction runs the other way
			v = next + (v-next)*frac
		} else {
			v = v + (next-v)*frac
		}
	}

	// Advance and wrap/reflect
	loopLenMicro := uint32(smp.LoopLength) << microstepBits
	if ch.pingPongDown {
		if ch.samplePosition < ch.step {
			ch.samplePosition = 0
		} else {
			ch.samplePosition -= ch.step
		}
		loopStartMicro := lengthMicro - loopLenMicro
		if ch.samplePosition < loopStartMicro {
			ch.pingPongDown = false
			ch.samplePosition = loopStartMicro + (loopStartMicro - ch.samplePosition)
			if ch.samplePosition >= lengthMicro {
				ch.samplePosition = lengthMicro - 1
			}
		}
	} else {
		ch.samplePosition += ch.step
		if ch.samplePosition >= lengthMicro {
			switch smp.loopType() {
			case LoopNone:
				ch.active = false
			case LoopForward:
				// Length is the loop end, so the loop region is the
				// tail of the sample
				over := (ch.samplePosition - (lengthMicro - loopLenMicro)) % loopLenMicro
				ch.samplePosition = lengthMicro - loopLenMicro + over
			case LoopPingPong:
				ch.pingPongDown = true
				back := ch.samplePosition - lengthMicro
				if back >= lengthMicro {
					back = 0
				}
				ch.samplePosition = lengthMicro - 1 - back
			}
		}
	}

	return v
}

// neighborSample fetches the frame the interpolator blends toward,
// respecting the loop mode at the sample edges.
func (p *Player) neighborSample(ch *channel, data []int16, idx uint32) (float32, bool) {
	smp := ch.smp

	if ch.pingPongDown {
		if idx == 0 {
			return 0, false
		}
		return float32(data[idx-1]), true
	}

	if int(idx)+1 < smp.Length {
		return float32(data[idx+1]), true
	}
	switch smp.loopType() {
	case LoopForward:
		return float32(data[smp.Length-smp.LoopLength]), true
	case LoopPingPong:
		return float32(data[idx]), true
	default:
		return 0, false
	}
}

// mixChannels generates nSamples stereo frames into the mix buffer at
// the given frame offset. Channel state (positions, ramps) advances for
// muted channels too so that muting is side-effect free.
func (p *Player) mixChannels(nSamples, offset int) {
	for ci := range p.channels {
		ch := &p.channels[ci]

		silent := ch.muted || (ch.inst != nil && p.instrumentMuted(ch))
		if !ch.active || ch.smp == nil {
			continue
		}

		cur := offset * 2
		for n := 0; n < nSamples; n++ {
			v := p.nextChannelSample(ch)
			if ch.frameCount < rampingPoints {
				// Cross-fade out of the previous note's tail
				t := float32(ch.frameCount) / rampingPoints
				v = ch.endOfPreviousSample[ch.frameCount] + (v-ch.endOfPreviousSample[ch.frameCount])*t
			}
			if ch.frameCount < math.MaxUint32 {
				ch.frameCount++
			}

			if !silent {
				p.mixbuffer[cur+0] += v * ch.actualVolume[0]
				p.mixbuffer[cur+1] += v * ch.actualVolume[1]
			}
			cur += 2

			ch.actualVolume[0] = slideTowardsf(ch.actualVolume[0], ch.targetVolume[0], volumeRampStep)
			ch.actualVolume[1] = slideTowardsf(ch.actualVolume[1], ch.targetVolume[1], volumeRampStep)
		}
	}
}

func (p *Player) instrumentMuted(ch *channel) bool {
	i := ch.nextInstrument - 1
	return i >= 0 && i < len(p.mutedInstruments) && p.mutedInstruments[i]
}

// GenerateAudio fills out with stereo sample data (LRLRLR...) and returns the
// number of stereo frames generated.
//
// This function also advances the player through the song. If the player is
// stopped it will generate 0 frames. Once the loop limit set with
// SetMaxLoopCount is reached it generates less frames than the buffer
// can hold and stops the player.
func (p *Player) GenerateAudio(out []int16) int {
	if !p.playing {
		return 0
	}

	count := len(out) / 2
	if count > mixBufferLen {
		count = mixBufferLen
	}

	clear(p.mixbuffer[:count*2])

	offset := 0
	generated := 0

	for count > 0 {
		if p.remainingInTick <= 0 {
			if !p.sequenceTick() {
				p.Stop()
				break
			}
			p.remainingInTick += p.tickDuration()
		}

		// Frames that fit before the next tick boundary
		remain := int((p.remainingInTick + tickSubsamples - 1) / tickSubsamples)
		if remain > count {
			remain = count
		}
		p.mixChannels(remain, offset)
		p.remainingInTick -= int64(remain) * tickSubsamples

		offset += remain
		generated += remain
		count -= remain
	}

	p.downsample(out, generated*2)
	p.generatedFrames += uint32(generated)

	return generated
}

// tickDuration returns the length of one tick in subsample units. A
// tick is 2.5/BPM seconds.
func (p *Player) tickDuration() int64 {
	return int64(p.samplingFrequency) * (5 * tickSubsamples / 2) / int64(p.BPM)
}

// downsample applies the final amplification and clamps the float mix
// buffer into the caller's int16 buffer.
func (p *Player) downsample(out []int16, generated int) {
	amp := float32(amplification) * float32(p.volBoost)
	for i, s := range p.mixbuffer[0:generated] {
		v := s * amp
		if v > 32767 {
			v = 32767
		} else if v < -32768 {
			v = -32768
		}
		out[i] = int16(v)
	}
}

func slideTowardsf(v, target, step float32) float32 {
	if v < target {
		v += step
		if v > target {
			v = target
		}
	} else if v > target {
		v -= step
		if v < target {
			v = target
		}
	}
	return v
}

func absf(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

func clampf(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func sqrtf(v float64) float64 {
	return math.Sqrt(v)
}

/*
 * This file is part of Loqa (https://github.com/loqalabs/loqa).
 * Copyright (C) 2025 Loqa Labs
 *
 * This program is free software: you can redistribute it and/or modify
 * it under the terms of the GNU Affero General Public License as published by
 * the Free Software Foundation, either version 3 of the License, or
 * (at your option) any later version.
 *
 * This program is distributed in the hope that it will be useful,
 * but WITHOUT ANY WARRANTY; without even the implied warranty of
 * MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
 * GNU Affero General Public License for more details.
 *
 * You should have received a copy of the GNU Affero General Public License
 * along with this program. If not, see <https://www.gnu.org/licenses/>.
 */

package pipeline

import (
	"math"

	"github.com/loqalabs/loqa-portaudio/internal/audio"
)

// Tone writes the same test signal to every output channel. A zero
// Frequency gives a constant level of Amplitude.
type Tone struct {
	Frequency  float64
	Amplitude  float32
	SampleRate float64

	// Frames stops the tone with Complete after this many frames. Zero
	// plays forever.
	Frames int

	phase  float64
	played int
}

// NewConstant returns a tone that holds value on every sample.
func NewConstant(value float32) *Tone {
	return &Tone{Amplitude: value}
}

// NewSine returns a sine tone.
func NewSine(frequency float64, amplitude float32, sampleRate float64) *Tone {
	return &Tone{Frequency: frequency, Amplitude: amplitude, SampleRate: sampleRate}
}

// Process implements audio.ProcessFunc. It is not safe to share one Tone
// between streams.
func (t *Tone) Process(b *audio.Batch, _ any) audio.CallbackResult {
	frames := b.Frames
	if t.Frames > 0 {
		frames = min(frames, t.Frames-t.played)
	}
	step := 0.0
	if t.Frequency > 0 && t.SampleRate > 0 {
		step = 2 * math.Pi * t.Frequency / t.SampleRate
	}
	for range frames {
		v := t.Amplitude
		if step > 0 {
			v = t.Amplitude * float32(math.Sin(t.phase))
			t.phase = math.Mod(t.phase+step, 2*math.Pi)
		}
		for range b.OutChannels {
			b.Out = append(b.Out, v)
		}
	}
	t.played += frames
	if t.Frames > 0 && t.played >= t.Frames {
		return audio.Complete
	}
	return audio.Continue
}

// Combine runs each function on the same batch in order. The first result
// other than Continue wins, but every function still runs.
func Combine(fns ...audio.ProcessFunc) audio.ProcessFunc {
	return func(b *audio.Batch, userData any) audio.CallbackResult {
		result := audio.Continue
		for _, fn := range fns {
			if r := fn(b, userData); result == audio.Continue {
				result = r
			}
		}
		return result
	}
}

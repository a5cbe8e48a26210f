package live

import (
	"encoding/base64"
	"encoding/binary"
	"errors"
	"math"
	"sync"
	"time"
)

// ErrMicDenied is returned when the platform refuses microphone access.
// It is user-actionable and must not be folded into generic connection
// errors.
var ErrMicDenied = errors.New("microphone access denied")

// ErrDecode is returned when an inbound speech payload cannot be decoded.
// Decode failures are reported but do not tear down the transport.
var ErrDecode = errors.New("audio decode failed")

// AudioConfig specifies audio format parameters. Capture and playback run at
// different rates, each with its own config.
type AudioConfig struct {
	// SampleRate in Hz. Capture default 16000, playback default 24000.
	SampleRate int `json:"sample_rate"`

	// Channels: 1 for mono.
	Channels int `json:"channels"`

	// BitsPerSample: 16 for linear PCM.
	BitsPerSample int `json:"bits_per_sample"`
}

// CaptureAudioConfig returns the microphone-side PCM profile.
func CaptureAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 16000, Channels: 1, BitsPerSample: 16}
}

// PlaybackAudioConfig returns the synthesized-speech PCM profile.
func PlaybackAudioConfig() AudioConfig {
	return AudioConfig{SampleRate: 24000, Channels: 1, BitsPerSample: 16}
}

// BytesPerSecond returns the audio byte rate.
func (c AudioConfig) BytesPerSecond() int {
	return c.SampleRate * c.Channels * (c.BitsPerSample / 8)
}

// Duration returns the play time of the given byte count.
func (c AudioConfig) Duration(bytes int) time.Duration {
	bps := c.BytesPerSecond()
	if bps == 0 {
		return 0
	}
	return time.Duration(bytes) * time.Second / time.Duration(bps)
}

// BytesForDuration returns the byte count covering d.
func (c AudioConfig) BytesForDuration(d time.Duration) int {
	return int(int64(c.BytesPerSecond()) * int64(d) / int64(time.Second))
}

// RMSEnergy computes the root-mean-square energy of 16-bit signed
// little-endian PCM, normalized to 0.0–1.0.
func RMSEnergy(pcm []byte) float64 {
	samples := len(pcm) / 2
	if samples == 0 {
		return 0
	}
	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		normalized := float64(sample) / 32768.0
		sum += normalized * normalized
	}
	return math.Sqrt(sum / float64(samples))
}

// PeakAmplitude returns the maximum absolute amplitude in the PCM data,
// normalized to 0.0–1.0.
func PeakAmplitude(pcm []byte) float64 {
	if len(pcm) < 2 {
		return 0
	}
	var maxAbs float64
	for i := 0; i+1 < len(pcm); i += 2 {
		sample := int16(pcm[i]) | int16(pcm[i+1])<<8
		abs := math.Abs(float64(sample))
		if abs > maxAbs {
			maxAbs = abs
		}
	}
	return maxAbs / 32768.0
}

// EncodePCM16 converts normalized float samples (-1.0..1.0) to 16-bit
// little-endian PCM.
func EncodePCM16(samples []float64) []byte {
	out := make([]byte, len(samples)*2)
	for i, v := range samples {
		if v > 1.0 {
			v = 1.0
		} else if v < -1.0 {
			v = -1.0
		}
		s := int16(v * 32767.0)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(s))
	}
	return out
}

// MicSource is the platform microphone: a pull-based stream of fixed-size
// PCM blocks. Opening may fail with ErrMicDenied.
type MicSource interface {
	// ReadBlock fills dst with the next capture block and returns the number
	// of bytes written.
	ReadBlock(dst []byte) (int, error)
	Close() error
}

// PlayableBuffer is one decoded chunk of synthesized speech ready for the
// playback scheduler.
type PlayableBuffer struct {
	PCM      []byte
	Duration time.Duration
}

// CaptureBlockBytes is the fixed per-callback block size of the capture
// path, in bytes (4096 samples of mono PCM16).
const CaptureBlockBytes = 4096 * 2

// CaptureGate decides, per frame, whether microphone audio may leave the
// device. Frames failing the phase guard or the mute flag are dropped, not
// buffered, so no backlog of stale speech survives a phase change.
type CaptureGate struct {
	phases *PhaseMachine

	mu    sync.Mutex
	muted bool
}

// NewCaptureGate creates a gate bound to the session's phase machine.
func NewCaptureGate(phases *PhaseMachine) *CaptureGate {
	return &CaptureGate{phases: phases}
}

// SetMuted flips the local mute flag.
func (g *CaptureGate) SetMuted(muted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.muted = muted
}

// Muted returns the local mute flag.
func (g *CaptureGate) Muted() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.muted
}

// Allow reports whether the current frame may be encoded and forwarded.
func (g *CaptureGate) Allow() bool {
	if g == nil || g.phases == nil {
		return false
	}
	if !g.phases.AcceptsUserAudio() {
		return false
	}
	return !g.Muted()
}

// LevelHook receives rate-limited capture level observations. It replaces
// sampled diagnostic logging: at most one observation per interval.
type LevelHook struct {
	mu       sync.Mutex
	interval time.Duration
	last     time.Time
	fn       func(rms, peak float64)
}

// NewLevelHook creates a hook firing at most once per interval.
func NewLevelHook(interval time.Duration, fn func(rms, peak float64)) *LevelHook {
	if interval <= 0 {
		interval = time.Second
	}
	return &LevelHook{interval: interval, fn: fn}
}

// Observe forwards the frame's levels if the rate limit allows.
func (h *LevelHook) Observe(pcm []byte) {
	if h == nil || h.fn == nil {
		return
	}
	h.mu.Lock()
	now := time.Now()
	if !h.last.IsZero() && now.Sub(h.last) < h.interval {
		h.mu.Unlock()
		return
	}
	h.last = now
	h.mu.Unlock()
	h.fn(RMSEnergy(pcm), PeakAmplitude(pcm))
}

// Capture pulls microphone blocks, tests each against the gate, and forwards
// passing frames. It owns the capture loop for one connection.
type Capture struct {
	cfg    AudioConfig
	src    MicSource
	gate   *CaptureGate
	levels *LevelHook

	forward func(pcm []byte)
	onError func(err error)

	mu      sync.Mutex
	stopped bool
	done    chan struct{}
}

// NewCapture wires a microphone source to the gate and forward callback.
func NewCapture(cfg AudioConfig, src MicSource, gate *CaptureGate, forward func(pcm []byte), onError func(err error)) *Capture {
	return &Capture{
		cfg:     cfg,
		src:     src,
		gate:    gate,
		forward: forward,
		onError: onError,
		done:    make(chan struct{}),
	}
}

// SetLevelHook attaches a rate-limited level observer.
func (c *Capture) SetLevelHook(h *LevelHook) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.levels = h
}

// Run pulls blocks until the source is exhausted or Stop is called.
// Gated-out frames are dropped silently.
func (c *Capture) Run() {
	defer close(c.done)

	block := make([]byte, CaptureBlockBytes)
	for {
		c.mu.Lock()
		stopped := c.stopped
		c.mu.Unlock()
		if stopped {
			return
		}

		n, err := c.src.ReadBlock(block)
		if err != nil {
			if c.onError != nil && !c.isStopped() {
				c.onError(err)
			}
			return
		}
		if n == 0 {
			continue
		}
		frame := block[:n]

		c.mu.Lock()
		levels := c.levels
		c.mu.Unlock()
		levels.Observe(frame)

		if !c.gate.Allow() {
			continue
		}
		if c.forward != nil {
			pcm := make([]byte, n)
			copy(pcm, frame)
			c.forward(pcm)
		}
	}
}

func (c *Capture) isStopped() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stopped
}

// Stop ends the capture loop and closes the source.
func (c *Capture) Stop() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	c.stopped = true
	c.mu.Unlock()
	_ = c.src.Close()
	<-c.done
}

// DecodeSpeechPayload converts a base64 inbound speech-model payload into a
// timed playable buffer. Failures wrap ErrDecode and leave the transport up.
func DecodeSpeechPayload(payload string, cfg AudioConfig) (PlayableBuffer, error) {
	pcm, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return PlayableBuffer{}, errors.Join(ErrDecode, err)
	}
	if len(pcm) == 0 || len(pcm)%2 != 0 {
		return PlayableBuffer{}, ErrDecode
	}
	return PlayableBuffer{PCM: pcm, Duration: cfg.Duration(len(pcm))}, nil
}

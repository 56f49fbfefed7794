// Package capture accumulates raw PCM audio from a live stream and decides,
// in-flight, when enough speech has been collected. Termination is driven by
// trailing silence rather than a fixed recording length: capture stops once
// the minimum duration has been reached and the caller has stayed quiet for
// the configured span, or unconditionally at the absolute maximum.
package capture

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sentinel errors describing why a capture could not produce a usable buffer.
// None of these are retried here; retry policy belongs to the caller.
var (
	// ErrTimeout: no connection or no first frame within the connect timeout.
	ErrTimeout = errors.New("capture timed out before any audio arrived")
	// ErrIncomplete: the peer closed or stalled before the minimum duration.
	ErrIncomplete = errors.New("stream ended before minimum capture duration")
	// ErrProtocol: a frame payload could not be decoded.
	ErrProtocol = errors.New("malformed audio frame")

	// Source-level conditions mapped to the taxonomy above by Capture,
	// depending on how much audio had been collected when they occurred.
	ErrStreamClosed  = errors.New("stream closed by peer")
	ErrStreamStalled = errors.New("no frame within read timeout")
)

// FrameSource delivers raw PCM frames from a live stream. Implementations must
// honor the per-read timeout and be safe to Close from the reading goroutine.
type FrameSource interface {
	// ReadFrame returns the next frame of little-endian 16-bit mono PCM.
	ReadFrame(ctx context.Context, timeout time.Duration) ([]byte, error)
	Close() error
}

// Config controls capture termination. Zero values fall back to the defaults
// used by the verification pipeline.
type Config struct {
	MinDuration      time.Duration
	SilenceDuration  time.Duration
	MaxDuration      time.Duration
	ConnectTimeout   time.Duration
	SilenceThreshold float64 // normalized RMS in [0,1]
	SampleRate       int
}

// DefaultConfig returns the capture defaults for telephony audio.
func DefaultConfig() Config {
	return Config{
		MinDuration:      3 * time.Second,
		SilenceDuration:  2 * time.Second,
		MaxDuration:      30 * time.Second,
		ConnectTimeout:   10 * time.Second,
		SilenceThreshold: 0.01,
		SampleRate:       16000,
	}
}

func (c Config) withDefaults() Config {
	def := DefaultConfig()
	if c.MinDuration <= 0 {
		c.MinDuration = def.MinDuration
	}
	if c.SilenceDuration <= 0 {
		c.SilenceDuration = def.SilenceDuration
	}
	if c.MaxDuration <= 0 {
		c.MaxDuration = def.MaxDuration
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = def.ConnectTimeout
	}
	if c.SilenceThreshold <= 0 {
		c.SilenceThreshold = def.SilenceThreshold
	}
	if c.SampleRate <= 0 {
		c.SampleRate = def.SampleRate
	}
	return c
}

// Buffer is a frozen capture. It is handed off by value once termination fires
// and is never appended to afterward.
type Buffer struct {
	pcm        []byte
	sampleRate int
}

// NewBuffer wraps already-decoded PCM, e.g. from an enrollment recording.
func NewBuffer(pcm []byte, sampleRate int) Buffer {
	return Buffer{pcm: pcm, sampleRate: sampleRate}
}

// PCM returns the raw little-endian 16-bit mono samples.
func (b Buffer) PCM() []byte { return b.pcm }

// SampleRate returns the sample rate in Hz.
func (b Buffer) SampleRate() int { return b.sampleRate }

// Duration returns the audio length derived from the byte count.
func (b Buffer) Duration() time.Duration {
	if b.sampleRate <= 0 {
		return 0
	}
	samples := len(b.pcm) / 2
	return time.Duration(samples) * time.Second / time.Duration(b.sampleRate)
}

// Samples decodes the PCM bytes into ints, for WAV encoding.
func (b Buffer) Samples() []int {
	n := len(b.pcm) / 2
	out := make([]int, n)
	for i := 0; i < n; i++ {
		out[i] = int(int16(uint16(b.pcm[i*2]) | uint16(b.pcm[i*2+1])<<8))
	}
	return out
}

// Capture drives the source until a termination condition fires and returns
// the frozen buffer. The source is closed on every exit path; on termination
// the stream is closed proactively rather than waiting for the peer.
//
// Durations are tracked in audio time (bytes at the configured sample rate),
// which keeps termination deterministic regardless of network jitter. The
// trailing-silence run accumulates from the start; it only triggers once the
// minimum duration has also been satisfied.
func Capture(ctx context.Context, src FrameSource, cfg Config) (Buffer, error) {
	cfg = cfg.withDefaults()
	defer src.Close()

	var (
		pcm        []byte
		silenceRun time.Duration
	)

	timeout := cfg.ConnectTimeout

	for {
		if err := ctx.Err(); err != nil {
			return Buffer{}, err
		}

		frame, err := src.ReadFrame(ctx, timeout)
		switch {
		case err == nil:
		case errors.Is(err, ErrStreamClosed), errors.Is(err, ErrStreamStalled):
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Buffer{}, ctxErr
			}
			return finish(pcm, cfg, err)
		case errors.Is(err, ErrProtocol):
			return Buffer{}, err
		default:
			if ctxErr := ctx.Err(); ctxErr != nil {
				return Buffer{}, ctxErr
			}
			return Buffer{}, fmt.Errorf("read frame: %w", err)
		}

		if len(frame) == 0 {
			continue
		}
		if len(frame)%2 != 0 {
			return Buffer{}, fmt.Errorf("%w: odd-length pcm payload", ErrProtocol)
		}

		pcm = append(pcm, frame...)
		frameDur := pcmDuration(len(frame), cfg.SampleRate)
		if RMS(frame) < cfg.SilenceThreshold {
			silenceRun += frameDur
		} else {
			silenceRun = 0
		}

		captured := pcmDuration(len(pcm), cfg.SampleRate)
		if captured >= cfg.MaxDuration {
			// Forced stop. Trim the overhang so the invariant
			// duration <= max holds exactly.
			maxBytes := bytesForDuration(cfg.MaxDuration, cfg.SampleRate)
			if len(pcm) > maxBytes {
				pcm = pcm[:maxBytes]
			}
			return Buffer{pcm: pcm, sampleRate: cfg.SampleRate}, nil
		}
		if captured >= cfg.MinDuration && silenceRun >= cfg.SilenceDuration {
			return Buffer{pcm: pcm, sampleRate: cfg.SampleRate}, nil
		}
	}
}

// finish maps an end-of-stream condition to a terminal outcome based on how
// much audio was collected before the stream went away.
func finish(pcm []byte, cfg Config, cause error) (Buffer, error) {
	if len(pcm) == 0 {
		return Buffer{}, fmt.Errorf("%w: %v", ErrTimeout, cause)
	}
	captured := pcmDuration(len(pcm), cfg.SampleRate)
	if captured < cfg.MinDuration {
		return Buffer{}, fmt.Errorf("%w after %s: %v", ErrIncomplete, captured, cause)
	}
	return Buffer{pcm: pcm, sampleRate: cfg.SampleRate}, nil
}

func pcmDuration(n, sampleRate int) time.Duration {
	return time.Duration(n/2) * time.Second / time.Duration(sampleRate)
}

func bytesForDuration(d time.Duration, sampleRate int) int {
	samples := int(d.Seconds() * float64(sampleRate))
	return samples * 2
}

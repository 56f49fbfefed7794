// Package enrollment registers a subject's reference descriptor from a
// recorded utterance. One-shot and not latency-critical; the recording is
// fetched over HTTP rather than streamed.
package enrollment

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-audio/wav"

	"voicegate/internal/capture"
	"voicegate/internal/descriptor"
	"voicegate/internal/subject"
)

var (
	// ErrDownload: the recording could not be fetched.
	ErrDownload = errors.New("enrollment audio download failed")
	// ErrBadAudio: the recording is not usable as a reference.
	ErrBadAudio = errors.New("enrollment audio unusable")
)

const (
	downloadTimeout = 30 * time.Second
	maxAudioBytes   = 32 << 20
)

// Service fetches, validates, and registers enrollment recordings.
type Service struct {
	httpc       *http.Client
	generator   descriptor.Generator
	subjects    subject.Store
	sampleRate  int
	minDuration time.Duration
	logger      *slog.Logger
}

// New constructs the enrollment service. The sample rate and minimum duration
// mirror what live capture enforces, so references and live audio stay
// comparable.
func New(generator descriptor.Generator, subjects subject.Store, captureCfg capture.Config, logger *slog.Logger) (*Service, error) {
	if generator == nil || subjects == nil {
		return nil, fmt.Errorf("generator and subject store are required")
	}
	sampleRate := captureCfg.SampleRate
	if sampleRate <= 0 {
		sampleRate = capture.DefaultConfig().SampleRate
	}
	minDuration := captureCfg.MinDuration
	if minDuration <= 0 {
		minDuration = capture.DefaultConfig().MinDuration
	}
	return &Service{
		httpc:       &http.Client{Timeout: downloadTimeout},
		generator:   generator,
		subjects:    subjects,
		sampleRate:  sampleRate,
		minDuration: minDuration,
		logger:      logger,
	}, nil
}

// Enroll downloads the recording at audioURL, generates the descriptor, and
// replaces the subject's reference.
func (s *Service) Enroll(ctx context.Context, subjectID, audioURL string) error {
	if subjectID == "" {
		return fmt.Errorf("subject id is required")
	}
	if audioURL == "" {
		return fmt.Errorf("audio url is required")
	}

	buf, err := s.download(ctx, audioURL)
	if err != nil {
		return err
	}

	desc, err := s.generator.Generate(ctx, buf)
	if err != nil {
		if errors.Is(err, descriptor.ErrTooShort) {
			return fmt.Errorf("%w: %v", ErrBadAudio, err)
		}
		return fmt.Errorf("generate reference descriptor: %w", err)
	}

	ref := subject.Reference{
		SubjectID:  subjectID,
		Descriptor: desc,
		EnrolledAt: time.Now().UTC(),
	}
	if err := s.subjects.Upsert(ctx, ref); err != nil {
		return fmt.Errorf("store reference: %w", err)
	}

	s.logger.Info("subject enrolled",
		"subject_id", subjectID,
		"duration", buf.Duration(),
		"model_version", desc.Version,
	)
	return nil
}

func (s *Service) download(ctx context.Context, audioURL string) (capture.Buffer, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, audioURL, nil)
	if err != nil {
		return capture.Buffer{}, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	resp, err := s.httpc.Do(req)
	if err != nil {
		return capture.Buffer{}, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return capture.Buffer{}, fmt.Errorf("%w: status %d", ErrDownload, resp.StatusCode)
	}

	data, err := io.ReadAll(io.LimitReader(resp.Body, maxAudioBytes+1))
	if err != nil {
		return capture.Buffer{}, fmt.Errorf("%w: %v", ErrDownload, err)
	}
	if len(data) > maxAudioBytes {
		return capture.Buffer{}, fmt.Errorf("%w: recording exceeds %d bytes", ErrBadAudio, maxAudioBytes)
	}

	return s.decode(data)
}

// decode parses the WAV payload and enforces the reference audio contract:
// mono, the capture sample rate, and at least the minimum duration.
func (s *Service) decode(data []byte) (capture.Buffer, error) {
	dec := wav.NewDecoder(bytes.NewReader(data))
	if !dec.IsValidFile() {
		return capture.Buffer{}, fmt.Errorf("%w: not a wav file", ErrBadAudio)
	}

	pcmBuf, err := dec.FullPCMBuffer()
	if err != nil {
		return capture.Buffer{}, fmt.Errorf("%w: decode wav: %v", ErrBadAudio, err)
	}
	if pcmBuf.Format.NumChannels != 1 {
		return capture.Buffer{}, fmt.Errorf("%w: want mono, got %d channels", ErrBadAudio, pcmBuf.Format.NumChannels)
	}
	if pcmBuf.Format.SampleRate != s.sampleRate {
		return capture.Buffer{}, fmt.Errorf("%w: want %d Hz, got %d Hz", ErrBadAudio, s.sampleRate, pcmBuf.Format.SampleRate)
	}

	pcm := make([]byte, len(pcmBuf.Data)*2)
	for i, sample := range pcmBuf.Data {
		pcm[i*2] = byte(uint16(int16(sample)))
		pcm[i*2+1] = byte(uint16(int16(sample)) >> 8)
	}
	buf := capture.NewBuffer(pcm, s.sampleRate)

	if buf.Duration() < s.minDuration {
		return capture.Buffer{}, fmt.Errorf("%w: %s shorter than required %s", ErrBadAudio, buf.Duration(), s.minDuration)
	}
	return buf, nil
}

package descriptor

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"

	"voicegate/internal/capture"
	"voicegate/internal/platform/config"
)

// ModelClient talks to the external speaker-embedding service. It is safe for
// concurrent use; all state is read-only after construction.
type ModelClient struct {
	baseURL string
	httpc   *http.Client
}

var (
	sharedOnce   sync.Once
	sharedClient *ModelClient
)

// Shared returns the process-wide model client, initialized lazily on first
// use and reused by every concurrent verification run.
func Shared(cfg config.Model) *ModelClient {
	sharedOnce.Do(func() {
		sharedClient = NewModelClient(cfg)
	})
	return sharedClient
}

// NewModelClient builds a client with its own bounded-timeout transport.
func NewModelClient(cfg config.Model) *ModelClient {
	return &ModelClient{
		baseURL: cfg.URL,
		httpc:   &http.Client{Timeout: cfg.Timeout},
	}
}

type embeddingResponse struct {
	Embedding    []float64 `json:"embedding"`
	ModelVersion string    `json:"model_version"`
}

// Generate posts the buffer as WAV and returns the validated descriptor.
func (c *ModelClient) Generate(ctx context.Context, buf capture.Buffer) (Descriptor, error) {
	if buf.Duration() < MinUsableDuration {
		return Descriptor{}, fmt.Errorf("%w: %s", ErrTooShort, buf.Duration())
	}

	wavBytes, err := EncodeWAV(buf)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: encode wav: %v", ErrModel, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/v1/embeddings", bytes.NewReader(wavBytes))
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrModel, err)
	}
	req.Header.Set("Content-Type", "audio/wav")

	resp, err := c.httpc.Do(req)
	if err != nil {
		return Descriptor{}, fmt.Errorf("%w: %v", ErrModel, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return Descriptor{}, fmt.Errorf("%w: model returned %d: %s", ErrModel, resp.StatusCode, body)
	}

	var parsed embeddingResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return Descriptor{}, fmt.Errorf("%w: decode response: %v", ErrModel, err)
	}

	d := Descriptor{Values: parsed.Embedding, Version: parsed.ModelVersion}
	if err := d.Validate(); err != nil {
		return Descriptor{}, err
	}
	return d, nil
}

// EncodeWAV wraps the buffer's PCM in a 16-bit mono WAV container.
func EncodeWAV(buf capture.Buffer) ([]byte, error) {
	ws := &memWriteSeeker{}
	enc := wav.NewEncoder(ws, buf.SampleRate(), 16, 1, 1)

	intBuf := &audio.IntBuffer{
		Data:           buf.Samples(),
		Format:         &audio.Format{NumChannels: 1, SampleRate: buf.SampleRate()},
		SourceBitDepth: 16,
	}
	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("write wav data: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("finalize wav: %w", err)
	}
	return ws.buf, nil
}

// memWriteSeeker satisfies the encoder's need to seek back and patch the
// header after writing the data chunk.
type memWriteSeeker struct {
	buf []byte
	pos int
}

func (m *memWriteSeeker) Write(p []byte) (int, error) {
	if need := m.pos + len(p); need > len(m.buf) {
		grown := make([]byte, need)
		copy(grown, m.buf)
		m.buf = grown
	}
	copy(m.buf[m.pos:], p)
	m.pos += len(p)
	return len(p), nil
}

func (m *memWriteSeeker) Seek(offset int64, whence int) (int64, error) {
	var abs int
	switch whence {
	case io.SeekStart:
		abs = int(offset)
	case io.SeekCurrent:
		abs = m.pos + int(offset)
	case io.SeekEnd:
		abs = len(m.buf) + int(offset)
	default:
		return 0, fmt.Errorf("invalid whence %d", whence)
	}
	if abs < 0 {
		return 0, fmt.Errorf("negative seek position")
	}
	m.pos = abs
	return int64(abs), nil
}

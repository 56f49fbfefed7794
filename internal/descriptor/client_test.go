package descriptor

import (
	"bytes"
	"context"
	"encoding/binary"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"voicegate/internal/capture"
	"voicegate/internal/platform/config"
)

func testBuffer(d time.Duration) capture.Buffer {
	samples := int(d.Seconds() * 16000)
	pcm := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		binary.LittleEndian.PutUint16(pcm[i*2:], uint16(int16(4000)))
	}
	return capture.NewBuffer(pcm, 16000)
}

func modelServer(t *testing.T, handler http.HandlerFunc) *ModelClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewModelClient(config.Model{URL: srv.URL, Timeout: 5 * time.Second})
}

func TestModelClient_Generate(t *testing.T) {
	values := make([]float64, Dim)
	for i := range values {
		values[i] = float64(i) * 0.01
	}
	values[0] = 0.5

	client := modelServer(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/v1/embeddings", r.URL.Path)
		assert.Equal(t, "audio/wav", r.Header.Get("Content-Type"))
		json.NewEncoder(w).Encode(map[string]any{
			"embedding":     values,
			"model_version": "ecapa-v1",
		})
	})

	d, err := client.Generate(context.Background(), testBuffer(time.Second))
	require.NoError(t, err)
	assert.Equal(t, "ecapa-v1", d.Version)
	assert.Len(t, d.Values, Dim)
}

func TestModelClient_RejectsShortBuffer(t *testing.T) {
	client := modelServer(t, func(w http.ResponseWriter, r *http.Request) {
		t.Error("model must not be called for unusable audio")
	})

	_, err := client.Generate(context.Background(), testBuffer(200*time.Millisecond))
	require.ErrorIs(t, err, ErrTooShort)
}

func TestModelClient_ServerError(t *testing.T) {
	client := modelServer(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "model crashed", http.StatusInternalServerError)
	})

	_, err := client.Generate(context.Background(), testBuffer(time.Second))
	require.ErrorIs(t, err, ErrModel)
}

func TestModelClient_BadVector(t *testing.T) {
	client := modelServer(t, func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"embedding":     []float64{1, 2, 3},
			"model_version": "ecapa-v1",
		})
	})

	_, err := client.Generate(context.Background(), testBuffer(time.Second))
	require.ErrorIs(t, err, ErrModel)
}

func TestEncodeWAV_Roundtrip(t *testing.T) {
	buf := testBuffer(time.Second)

	wavBytes, err := EncodeWAV(buf)
	require.NoError(t, err)

	dec := wav.NewDecoder(bytes.NewReader(wavBytes))
	require.True(t, dec.IsValidFile())

	decoded, err := dec.FullPCMBuffer()
	require.NoError(t, err)
	assert.Equal(t, 16000, decoded.Format.SampleRate)
	assert.Equal(t, 1, decoded.Format.NumChannels)
	assert.Len(t, decoded.Data, 16000)
	assert.Equal(t, 4000, decoded.Data[0])
}

package speech

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
)

func newTestClient(t *testing.T, cfg config.SpeechConfig) *Client {
	t.Helper()
	log, err := logger.NewLogger(logger.LoggingConfig{Level: "error", Format: "console"})
	require.NoError(t, err)
	return NewClient(cfg, log)
}

func TestTranscribe(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req sttRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "QUJD", req.Audio)
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		json.NewEncoder(w).Encode(sttResponse{Text: "hello world"})
	}))
	defer ts.Close()

	c := newTestClient(t, config.SpeechConfig{STTURL: ts.URL, APIKey: "k", Timeout: 5})
	text, err := c.Transcribe(context.Background(), "QUJD", "wav", "en")
	require.NoError(t, err)
	assert.Equal(t, "hello world", text)
}

func TestTranscribeCollaboratorError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(sttResponse{Error: "no speech detected"})
	}))
	defer ts.Close()

	c := newTestClient(t, config.SpeechConfig{STTURL: ts.URL, Timeout: 5})
	_, err := c.Transcribe(context.Background(), "QUJD", "wav", "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no speech detected")
}

func TestTranscribeNotConfigured(t *testing.T) {
	c := newTestClient(t, config.SpeechConfig{})
	_, err := c.Transcribe(context.Background(), "QUJD", "wav", "")
	assert.Error(t, err)
	assert.False(t, c.STTEnabled())
}

func TestSynthesize(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req ttsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "say this", req.Text)
		assert.Equal(t, "nova", req.Voice)
		json.NewEncoder(w).Encode(ttsResponse{Audio: "QkFTRTY0", Duration: 1.5})
	}))
	defer ts.Close()

	c := newTestClient(t, config.SpeechConfig{TTSURL: ts.URL, Voice: "nova", Timeout: 5})
	audio, duration, err := c.Synthesize(context.Background(), "say this")
	require.NoError(t, err)
	assert.Equal(t, "QkFTRTY0", audio)
	assert.Equal(t, 1.5, duration)
}

func TestSynthesizeHTTPError(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer ts.Close()

	c := newTestClient(t, config.SpeechConfig{TTSURL: ts.URL, Timeout: 5})
	_, _, err := c.Synthesize(context.Background(), "text")
	assert.Error(t, err)
}

func TestSummarize(t *testing.T) {
	text := "First. Second! Third? Fourth. Fifth."
	assert.Equal(t, "First. Second! Third?", Summarize(text, 3))
	assert.Equal(t, "First.", Summarize(text, 1))
	assert.Equal(t, text, Summarize(text, 10))
	assert.Equal(t, "", Summarize("   ", 3))
	assert.Equal(t, "no terminator at all", Summarize("no terminator at all", 3))
}

// Package speech holds the HTTP clients for the external STT and TTS
// collaborators. Only the request/response contract lives here; the engines
// themselves are out of process.
package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/tiflis/tiflis/internal/common/config"
	"github.com/tiflis/tiflis/internal/common/logger"
)

// Transcriber converts audio to text.
type Transcriber interface {
	Transcribe(ctx context.Context, audioBase64, format, language string) (string, error)
}

// Synthesizer converts text to audio.
type Synthesizer interface {
	Synthesize(ctx context.Context, text string) (audioBase64 string, duration float64, err error)
}

// Client talks to the STT/TTS HTTP endpoints. Zero-value URLs disable the
// corresponding capability.
type Client struct {
	cfg    config.SpeechConfig
	http   *http.Client
	logger *logger.Logger
}

// NewClient creates a speech client from configuration.
func NewClient(cfg config.SpeechConfig, log *logger.Logger) *Client {
	timeout := cfg.TimeoutDuration()
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Client{
		cfg:    cfg,
		http:   &http.Client{Timeout: timeout},
		logger: log.WithFields(zap.String("component", "speech")),
	}
}

// STTEnabled reports whether transcription is configured.
func (c *Client) STTEnabled() bool { return c.cfg.STTURL != "" }

// TTSEnabled reports whether synthesis is configured.
func (c *Client) TTSEnabled() bool { return c.cfg.TTSURL != "" }

type sttRequest struct {
	Audio    string `json:"audio"`
	Format   string `json:"format,omitempty"`
	Language string `json:"language,omitempty"`
}

type sttResponse struct {
	Text  string `json:"text"`
	Error string `json:"error,omitempty"`
}

// Transcribe sends base64 audio to the STT collaborator and returns the
// recognized text.
func (c *Client) Transcribe(ctx context.Context, audioBase64, format, language string) (string, error) {
	if !c.STTEnabled() {
		return "", fmt.Errorf("stt not configured")
	}

	var resp sttResponse
	if err := c.post(ctx, c.cfg.STTURL, sttRequest{
		Audio:    audioBase64,
		Format:   format,
		Language: language,
	}, &resp); err != nil {
		return "", err
	}
	if resp.Error != "" {
		return "", fmt.Errorf("stt: %s", resp.Error)
	}
	return resp.Text, nil
}

type ttsRequest struct {
	Text  string `json:"text"`
	Voice string `json:"voice,omitempty"`
}

type ttsResponse struct {
	Audio    string  `json:"audio"`
	Duration float64 `json:"duration,omitempty"`
	Error    string  `json:"error,omitempty"`
}

// Synthesize sends text to the TTS collaborator and returns base64 audio.
func (c *Client) Synthesize(ctx context.Context, text string) (string, float64, error) {
	if !c.TTSEnabled() {
		return "", 0, fmt.Errorf("tts not configured")
	}

	var resp ttsResponse
	if err := c.post(ctx, c.cfg.TTSURL, ttsRequest{Text: text, Voice: c.cfg.Voice}, &resp); err != nil {
		return "", 0, err
	}
	if resp.Error != "" {
		return "", 0, fmt.Errorf("tts: %s", resp.Error)
	}
	return resp.Audio, resp.Duration, nil
}

func (c *Client) post(ctx context.Context, url string, body, out interface{}) error {
	data, err := json.Marshal(body)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.cfg.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("speech endpoint returned %d", resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Summarize trims text to at most maxSentences sentences for TTS. The full
// text still reaches clients as blocks; only the spoken form is shortened.
func Summarize(text string, maxSentences int) string {
	if maxSentences <= 0 {
		maxSentences = 3
	}
	text = strings.TrimSpace(text)
	if text == "" {
		return ""
	}

	var (
		count int
		end   = len(text)
	)
	for i, r := range text {
		if r != '.' && r != '!' && r != '?' {
			continue
		}
		count++
		if count == maxSentences {
			end = i + 1
			break
		}
	}
	return strings.TrimSpace(text[:end])
}

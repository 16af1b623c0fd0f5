package infra

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/avelichko/dreamscribe/internal/ports"
)

const whisperEndpoint = "https://api.openai.com/v1/audio/transcriptions"

type WhisperClient struct {
	apiKey   string
	endpoint string
	model    string
	client   *http.Client
}

func NewWhisperClient() ports.TranscriptionClient {
	key := os.Getenv("OPENAI_API_KEY")
	if key == "" {
		panic("OPENAI_API_KEY not set")
	}
	return &WhisperClient{
		apiKey:   key,
		endpoint: whisperEndpoint,
		model:    "whisper-1",
		client:   &http.Client{Timeout: 5 * time.Minute},
	}
}

func (c *WhisperClient) Transcribe(ctx context.Context, audio ports.PresignedURL) (string, error) {
	blob, err := c.fetchAudio(ctx, audio.URL)
	if err != nil {
		return "", err
	}

	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.m4a")
	if err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if _, err := part.Write(blob); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.WriteField("model", c.model); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}
	if err := mw.Close(); err != nil {
		return "", fmt.Errorf("build multipart: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.endpoint, &body)
	if err != nil {
		return "", fmt.Errorf("whisper request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.client.Do(req)
	if err != nil {
		return "", &ports.TranscriptionError{Kind: ports.TranscriptionTransient, Message: "whisper request failed", Err: err}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)

	if resp.StatusCode != http.StatusOK {
		return "", classifyWhisperStatus(resp.StatusCode, raw)
	}

	var parsed struct {
		Text string `json:"text"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", &ports.TranscriptionError{Kind: ports.TranscriptionTransient, Message: "malformed whisper response", Err: err}
	}

	if strings.TrimSpace(parsed.Text) == "" {
		return "", &ports.TranscriptionError{Kind: ports.TranscriptionPermanent, Message: "empty transcription result"}
	}

	return parsed.Text, nil
}

func (c *WhisperClient) fetchAudio(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("audio request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, &ports.TranscriptionError{Kind: ports.TranscriptionTransient, Message: "audio fetch failed", Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		// expired or revoked URL; a later pass re-signs the key
		return nil, &ports.TranscriptionError{
			Kind:    ports.TranscriptionTransient,
			Message: fmt.Sprintf("audio fetch http %d", resp.StatusCode),
		}
	}

	blob, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, &ports.TranscriptionError{Kind: ports.TranscriptionTransient, Message: "audio read failed", Err: err}
	}
	if len(blob) == 0 {
		return nil, &ports.TranscriptionError{Kind: ports.TranscriptionPermanent, Message: "empty audio blob"}
	}

	return blob, nil
}

// classifyWhisperStatus maps an error response onto the retry taxonomy using
// the service's own error class: 4xx means the request itself was judged bad
// (corrupt audio, unsupported format), everything else is worth retrying.
func classifyWhisperStatus(status int, raw []byte) error {
	var parsed struct {
		Error struct {
			Message string `json:"message"`
			Type    string `json:"type"`
		} `json:"error"`
	}
	_ = json.Unmarshal(raw, &parsed)

	msg := parsed.Error.Message
	if msg == "" {
		msg = fmt.Sprintf("whisper http %d", status)
	}

	kind := ports.TranscriptionTransient
	if status >= 400 && status < 500 &&
		status != http.StatusRequestTimeout &&
		status != http.StatusTooManyRequests {
		kind = ports.TranscriptionPermanent
	}

	return &ports.TranscriptionError{Kind: kind, Message: msg}
}

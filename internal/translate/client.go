package translate

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/lingopath/voice-translator/internal/config"
	"github.com/lingopath/voice-translator/internal/pipeline"
)

const (
	defaultBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	requestTimeout = 30 * time.Second
)

// Client performs single-shot structured translation requests. There is no
// retry inside the client; callers decide whether a failed request is worth
// resubmitting.
type Client struct {
	session    config.Session
	logger     zerolog.Logger
	baseURL    string
	httpClient *http.Client
}

// New creates a translation client for one session
func New(session config.Session, logger zerolog.Logger) *Client {
	return &Client{
		session:    session,
		logger:     logger.With().Str("component", "translate").Logger(),
		baseURL:    defaultBaseURL,
		httpClient: &http.Client{Timeout: requestTimeout},
	}
}

// Image is an optional attachment to a translation request
type Image struct {
	MimeType string
	Data     []byte
}

// Translate renders text from fromLang into toLang, optionally grounded on
// an attached image. A payload that fails schema validation is returned as
// a MalformedResponse error; the caller substitutes Apology() where the
// user needs an answer regardless.
func (c *Client) Translate(ctx context.Context, text, fromLang, toLang string, image *Image) (Result, error) {
	parts := []part{{Text: buildPrompt(text, fromLang, toLang, image != nil)}}
	if image != nil {
		parts = append(parts, part{
			InlineData: &inlineData{
				MimeType: image.MimeType,
				Data:     base64.StdEncoding.EncodeToString(image.Data),
			},
		})
	}

	reqBody := generateRequest{
		Contents: []content{{Role: "user", Parts: parts}},
		GenerationConfig: generationConfig{
			ResponseMimeType: "application/json",
			ResponseSchema: &responseSchema{
				Type: "OBJECT",
				Properties: map[string]schemaProperty{
					"translation": {
						Type:        "STRING",
						Description: "The translation or image description in the target language",
					},
					"pronunciation": {
						Type:        "STRING",
						Description: "The romanized pronunciation",
					},
					"response": {
						Type:        "STRING",
						Description: "A helpful reply in the source language",
					},
				},
				Required: []string{"translation", "pronunciation", "response"},
			},
		},
	}

	payload, err := json.Marshal(reqBody)
	if err != nil {
		return Result{}, fmt.Errorf("failed to encode translation request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent?key=%s",
		c.baseURL, c.session.TranslateModel, c.session.GoogleAPIKey)

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return Result{}, fmt.Errorf("failed to build translation request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return Result{}, &pipeline.ChannelError{
			Component: "translate",
			Err:       fmt.Errorf("translation request failed: %w", err),
		}
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return Result{}, &pipeline.ChannelError{
			Component: "translate",
			Err:       fmt.Errorf("failed to read translation response: %w", err),
		}
	}

	if resp.StatusCode != http.StatusOK {
		return Result{}, &pipeline.ChannelError{
			Component: "translate",
			Err:       fmt.Errorf("translation request returned status %d: %s", resp.StatusCode, truncate(body, 200)),
		}
	}

	result, err := parseResult(body)
	if err != nil {
		return Result{}, err
	}

	c.logger.Debug().
		Dur("latency", time.Since(start)).
		Int("chars", len(text)).
		Msg("Translation completed")
	return result, nil
}

// parseResult extracts and validates the structured payload
func parseResult(body []byte) (Result, error) {
	var gr generateResponse
	if err := json.Unmarshal(body, &gr); err != nil {
		return Result{}, &pipeline.MalformedResponse{
			Component: "translate",
			Detail:    "response is not valid JSON",
		}
	}
	if gr.Error != nil {
		return Result{}, &pipeline.ChannelError{
			Component: "translate",
			Err:       fmt.Errorf("%s: %s", gr.Error.Status, gr.Error.Message),
		}
	}
	if len(gr.Candidates) == 0 || len(gr.Candidates[0].Content.Parts) == 0 {
		return Result{}, &pipeline.MalformedResponse{
			Component: "translate",
			Detail:    "response has no candidates",
		}
	}

	text := gr.Candidates[0].Content.Parts[0].Text
	var result Result
	if err := json.Unmarshal([]byte(text), &result); err != nil {
		return Result{}, &pipeline.MalformedResponse{
			Component: "translate",
			Detail:    "candidate text is not the expected JSON shape",
		}
	}
	if result.Translation == "" {
		return Result{}, &pipeline.MalformedResponse{
			Component: "translate",
			Detail:    "translation field is empty",
		}
	}
	return result, nil
}

// buildPrompt writes the translation instructions for one request
func buildPrompt(text, fromLang, toLang string, hasImage bool) string {
	var b strings.Builder
	b.WriteString("You are a helpful AI translator and travel companion.\n")
	fmt.Fprintf(&b, "The user is speaking in %s (or providing an image to analyze).\n\n", fromLang)
	b.WriteString("Task:\n")
	fmt.Fprintf(&b, "1. Translate the user's message (or describe/translate the text in the image) into %s naturally.\n", toLang)
	b.WriteString("2. Provide the pronunciation (romanization) for the translation if the target language uses a non-Latin script.\n")
	fmt.Fprintf(&b, "3. Provide a short, helpful response in %s.\n\n", fromLang)
	fmt.Fprintf(&b, "User Message: %q\n", text)
	if hasImage {
		b.WriteString("\n[System: An image was attached. Analyze the image contents, text, or food items and help the user.]")
	}
	return b.String()
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}

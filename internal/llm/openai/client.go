package openai

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

	"github.com/google/uuid"

	"docdigest/internal/llm"
)

// maxSummaryInput caps how much extracted text we ship to the model.
const maxSummaryInput = 12000

// Summarize implements llm.Summarizer using text-only chat/completions.
// The response is constrained to the digest schema and validated locally
// before we trust it.
func (c *Client) Summarize(ctx context.Context, text string) (llm.Digest, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.summarize.start",
		"req_id", rid,
		"model", c.cfg.Model,
		"temp", c.cfg.Temperature,
		"text_len", len(text),
	)

	schema := llm.BuildDigestJSONSchema()
	if len(text) > maxSummaryInput {
		text = text[:maxSummaryInput]
	}

	body := map[string]any{
		"model":           c.cfg.Model,
		"temperature":     c.cfg.Temperature,
		"response_format": map[string]any{"type": "json_object"},
		"messages": []map[string]any{
			{"role": "system", "content": "You summarize documents. Return ONLY JSON that matches the JSON Schema provided. The 'summary' is a few sentences covering the document's purpose and key points. Never output null; omit absent fields."},
			{"role": "user", "content": "Document text:\n" + text},
			{"role": "system", "content": "JSON Schema:\n" + mustJSON(schema)},
		},
	}

	content, err := c.chat(ctx, body)
	if err != nil {
		c.log.Error("llm.summarize.failed",
			"req_id", rid, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Digest{}, err
	}

	raw := []byte(content)
	if err := llm.ValidateJSONAgainstSchema(schema, raw); err != nil {
		c.log.Error("llm.summarize.schema_validation_failed",
			"req_id", rid, "error", err, "content", content,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return llm.Digest{}, fmt.Errorf("schema validation failed: %w", err)
	}

	var out llm.Digest
	if err := json.Unmarshal(raw, &out); err != nil {
		return llm.Digest{}, fmt.Errorf("unmarshal digest: %w", err)
	}

	c.log.Info("llm.summarize.ok",
		"req_id", rid,
		"summary_len", len(out.Summary),
		"topics", len(out.Topics),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return out, nil
}

// RecognizePage implements llm.PageRecognizer by sending one rendered page
// to the vision model and asking for a plain-text transcription.
func (c *Client) RecognizePage(ctx context.Context, image []byte, page int) (string, error) {
	rid := uuid.New().String()
	start := time.Now()

	c.log.Info("llm.vision.start",
		"req_id", rid,
		"model", c.cfg.VisionModel,
		"page", page,
		"image_bytes", len(image),
	)

	dataURL := "data:image/png;base64," + base64.StdEncoding.EncodeToString(image)
	body := map[string]any{
		"model":       c.cfg.VisionModel,
		"temperature": c.cfg.Temperature,
		"messages": []map[string]any{
			{"role": "system", "content": "You transcribe scanned document pages. Return the page's full text in reading order as plain text. Preserve line breaks. Do not describe the image and do not add commentary."},
			{"role": "user", "content": []map[string]any{
				{"type": "text", "text": fmt.Sprintf("Transcribe page %d.", page)},
				{"type": "image_url", "image_url": map[string]any{"url": dataURL}},
			}},
		},
	}

	content, err := c.chat(ctx, body)
	if err != nil {
		c.log.Error("llm.vision.failed",
			"req_id", rid, "page", page, "error", err,
			"elapsed_ms", time.Since(start).Milliseconds(),
		)
		return "", err
	}

	c.log.Info("llm.vision.ok",
		"req_id", rid,
		"page", page,
		"text_len", len(content),
		"elapsed_ms", time.Since(start).Milliseconds(),
	)
	return content, nil
}

// chat posts a chat/completions body and returns the first choice's content.
func (c *Client) chat(ctx context.Context, body map[string]any) (string, error) {
	endpoint := strings.TrimRight(c.cfg.BaseURL, "/") + "/chat/completions"
	raw, err := c.post(ctx, endpoint, body)
	if err != nil {
		return "", err
	}

	var cc struct {
		Choices []struct {
			Message struct {
				Content string `json:"content"`
			} `json:"message"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &cc); err != nil {
		return "", fmt.Errorf("decode openai response: %w", err)
	}
	if len(cc.Choices) == 0 {
		return "", fmt.Errorf("no choices in openai response")
	}
	return strings.TrimSpace(cc.Choices[0].Message.Content), nil
}

func (c *Client) post(ctx context.Context, url string, body map[string]any) ([]byte, error) {
	b, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(b))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("openai http error: %w", err)
	}
	defer func(Body io.ReadCloser) {
		err := Body.Close()
		if err != nil {
			c.log.Warn("openai response body close error", "error", err)
		}
	}(resp.Body)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		buf := new(bytes.Buffer)
		_, _ = buf.ReadFrom(resp.Body)
		return nil, fmt.Errorf("openai status %d: %s", resp.StatusCode, buf.String())
	}

	buf := new(bytes.Buffer)
	_, _ = buf.ReadFrom(resp.Body)
	return buf.Bytes(), nil
}

func mustJSON(v any) string {
	b, _ := json.MarshalIndent(v, "", "  ")
	return string(b)
}

package annotator

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

	"github.com/rs/zerolog/log"

	"imagehub/models"
)

const (
	defaultEndpoint = "https://generativelanguage.googleapis.com"
	generatePath    = "/v1beta/models/gemini-1.5-flash:generateContent"

	prompt = "Provide a short title (5-10 words) and a brief description " +
		"(1-2 sentences) for this image. Format your response as: " +
		"Title: [title] Description: [description]"
)

// Client calls the Gemini generateContent endpoint to derive a title and
// description for an image. Annotation is strictly best-effort: every
// failure mode degrades to the default metadata pair and never propagates
// an error to the upload path.
type Client struct {
	httpClient *http.Client
	endpoint   string
	apiKey     string
}

// NewClient returns an annotator client. endpoint overrides the Gemini base
// URL when non-empty (used by tests and proxies).
func NewClient(apiKey, endpoint string) *Client {
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Client{
		httpClient: &http.Client{Timeout: 30 * time.Second},
		endpoint:   strings.TrimSuffix(endpoint, "/"),
		apiKey:     apiKey,
	}
}

type generateRequest struct {
	Contents []content `json:"contents"`
}

type content struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inline_data,omitempty"`
}

type inlineData struct {
	MimeType string `json:"mime_type"`
	Data     string `json:"data"`
}

type generateResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

// Annotate sends the image bytes for captioning and returns the parsed
// (title, description) pair, or the defaults when anything goes wrong.
func (c *Client) Annotate(ctx context.Context, image []byte, mimeType string) models.Metadata {
	if mimeType == "" {
		mimeType = "image/jpeg"
	}
	text, err := c.generate(ctx, image, mimeType)
	if err != nil {
		log.Warn().Err(err).Msg("annotation degraded to defaults")
		return models.DefaultMetadata()
	}
	return ParseMetadata(text)
}

func (c *Client) generate(ctx context.Context, image []byte, mimeType string) (string, error) {
	reqBody := generateRequest{
		Contents: []content{{
			Parts: []part{
				{Text: prompt},
				{InlineData: &inlineData{
					MimeType: mimeType,
					Data:     base64.StdEncoding.EncodeToString(image),
				}},
			},
		}},
	}
	payload, err := json.Marshal(reqBody)
	if err != nil {
		return "", fmt.Errorf("marshal request: %w", err)
	}

	url := c.endpoint + generatePath + "?key=" + c.apiKey
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("call gemini: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("gemini returned status %d", resp.StatusCode)
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("decode response: %w", err)
	}
	if len(out.Candidates) == 0 || len(out.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty candidates in response")
	}
	return out.Candidates[0].Content.Parts[0].Text, nil
}

// ParseMetadata extracts the (title, description) pair from a model reply.
// Preferred format is literal "Title:" / "Description:" markers. Replies
// without markers fall back to first-line-as-title with the remaining lines
// joined as the description; anything shorter yields the defaults.
func ParseMetadata(text string) models.Metadata {
	if strings.Contains(text, "Title:") && strings.Contains(text, "Description:") {
		afterTitle := strings.SplitN(text, "Title:", 2)[1]
		title := strings.TrimSpace(strings.SplitN(afterTitle, "Description:", 2)[0])
		description := strings.TrimSpace(strings.SplitN(text, "Description:", 2)[1])
		return models.Metadata{Title: title, Description: description}
	}

	lines := strings.Split(strings.TrimSpace(text), "\n")
	if len(lines) > 1 {
		return models.Metadata{
			Title:       strings.TrimSpace(lines[0]),
			Description: strings.TrimSpace(strings.Join(lines[1:], " ")),
		}
	}
	return models.DefaultMetadata()
}

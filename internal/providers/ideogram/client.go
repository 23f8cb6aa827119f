// Package ideogram is a client for the Ideogram image generation API.
package ideogram

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"genstudio/internal/domain"
	"genstudio/internal/providers/apierr"
)

const serviceName = "ideogram"

// ErrMissingAPIKey indicates that the client was configured without credentials.
var ErrMissingAPIKey = errors.New("ideogram: api key is required")

// maxReferenceBytes caps the remix reference image download.
const maxReferenceBytes = 10 << 20

// Options configures the Ideogram client.
type Options struct {
	APIKey         string
	BaseURL        string
	HTTPClient     *http.Client
	Logger         *zerolog.Logger
	RequestTimeout time.Duration
}

// Client performs HTTP calls to the Ideogram image API.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	logger     zerolog.Logger
}

type imageRequest struct {
	Prompt            string          `json:"prompt"`
	Model             string          `json:"model,omitempty"`
	AspectRatio       string          `json:"aspect_ratio,omitempty"`
	StyleType         string          `json:"style_type,omitempty"`
	MagicPromptOption string          `json:"magic_prompt_option,omitempty"`
	NegativePrompt    string          `json:"negative_prompt,omitempty"`
	Seed              *int            `json:"seed,omitempty"`
	ColorPalette      json.RawMessage `json:"color_palette,omitempty"`
	ImageWeight       *int            `json:"image_weight,omitempty"`
}

type generateBody struct {
	ImageRequest imageRequest `json:"image_request"`
}

type generationResponse struct {
	Data []struct {
		URL         string `json:"url"`
		Seed        int    `json:"seed"`
		Prompt      string `json:"prompt"`
		IsImageSafe *bool  `json:"is_image_safe"`
	} `json:"data"`
}

type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
	Detail  string `json:"detail"`
}

// NewClient constructs a client with defaults for unset options.
func NewClient(opts Options) *Client {
	httpClient := opts.HTTPClient
	if httpClient == nil {
		timeout := opts.RequestTimeout
		if timeout <= 0 {
			timeout = 120 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	baseURL := strings.TrimRight(strings.TrimSpace(opts.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.ideogram.ai"
	}
	logger := zerolog.Nop()
	if opts.Logger != nil {
		logger = *opts.Logger
	}
	return &Client{
		apiKey:     strings.TrimSpace(opts.APIKey),
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger,
	}
}

// HasCredentials reports whether the client can perform remote calls.
func (c *Client) HasCredentials() bool {
	return c.apiKey != ""
}

// Generate creates a new image from prompt.
func (c *Client) Generate(ctx context.Context, prompt string, params domain.GenerationParams) (domain.GeneratedImage, error) {
	req, err := c.buildImageRequest(prompt, params)
	if err != nil {
		return domain.GeneratedImage{}, err
	}
	req.NegativePrompt = strings.TrimSpace(params.NegativePrompt)
	body, err := json.Marshal(generateBody{ImageRequest: req})
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: encode request: %w", err)
	}
	return c.do(ctx, "/generate", "application/json", body)
}

// Remix re-renders the image at params.ImageInputURL guided by prompt.
func (c *Client) Remix(ctx context.Context, prompt string, params domain.GenerationParams) (domain.GeneratedImage, error) {
	req, err := c.buildImageRequest(prompt, params)
	if err != nil {
		return domain.GeneratedImage{}, err
	}
	source := strings.TrimSpace(params.ImageInputURL)
	if source == "" {
		return domain.GeneratedImage{}, errors.New("ideogram: remix requires an image input url")
	}
	req.ImageWeight = params.ImageWeight

	image, mime, err := c.download(ctx, source)
	if err != nil {
		return domain.GeneratedImage{}, err
	}

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	encoded, err := json.Marshal(req)
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: encode request: %w", err)
	}
	if err := mw.WriteField("image_request", string(encoded)); err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: write request field: %w", err)
	}
	header := make(textproto.MIMEHeader)
	header.Set("Content-Disposition", fmt.Sprintf(`form-data; name="image_file"; filename=%q`, fileName(source)))
	header.Set("Content-Type", mime)
	part, err := mw.CreatePart(header)
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: create file part: %w", err)
	}
	if _, err := part.Write(image); err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: write file part: %w", err)
	}
	if err := mw.Close(); err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: close multipart: %w", err)
	}
	return c.do(ctx, "/remix", mw.FormDataContentType(), buf.Bytes())
}

func (c *Client) buildImageRequest(prompt string, params domain.GenerationParams) (imageRequest, error) {
	if !c.HasCredentials() {
		return imageRequest{}, ErrMissingAPIKey
	}
	prompt = strings.TrimSpace(prompt)
	if prompt == "" {
		return imageRequest{}, errors.New("ideogram: prompt is required")
	}
	req := imageRequest{
		Prompt:       prompt,
		Model:        string(domain.ParseModel(params.Model)),
		AspectRatio:  string(domain.ParseAspectRatio(params.AspectRatio)),
		StyleType:    string(domain.ParseStyleType(params.StyleType)),
		Seed:         params.Seed,
		ColorPalette: params.ColorPalette,
	}
	if opt := strings.ToUpper(strings.TrimSpace(params.MagicPromptOption)); opt != "" {
		req.MagicPromptOption = opt
	}
	return req, nil
}

func (c *Client) do(ctx context.Context, endpoint, contentType string, body []byte) (domain.GeneratedImage, error) {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+endpoint, bytes.NewReader(body))
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", contentType)
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("Api-Key", c.apiKey)

	start := time.Now()
	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: http request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: read response: %w", err)
	}
	if resp.StatusCode >= 300 {
		return domain.GeneratedImage{}, &apierr.UpstreamError{
			Service:    serviceName,
			StatusCode: resp.StatusCode,
			Message:    errorDetail(raw),
		}
	}

	var decoded generationResponse
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return domain.GeneratedImage{}, fmt.Errorf("ideogram: decode response: %w", err)
	}
	if len(decoded.Data) == 0 || strings.TrimSpace(decoded.Data[0].URL) == "" {
		return domain.GeneratedImage{}, errors.New("ideogram: empty image url")
	}
	first := decoded.Data[0]
	c.logger.Debug().
		Str("endpoint", endpoint).
		Int("seed", first.Seed).
		Dur("took", time.Since(start)).
		Msg("ideogram: generated image")
	return domain.GeneratedImage{URL: first.URL, Seed: first.Seed, Prompt: first.Prompt}, nil
}

func (c *Client) download(ctx context.Context, imageURL string) ([]byte, string, error) {
	parsed, err := url.Parse(imageURL)
	if err != nil || parsed.Scheme == "" {
		return nil, "", fmt.Errorf("ideogram: invalid image url: %s", imageURL)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, parsed.String(), nil)
	if err != nil {
		return nil, "", fmt.Errorf("ideogram: build download request: %w", err)
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, "", fmt.Errorf("ideogram: download reference: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return nil, "", &apierr.UpstreamError{Service: "reference image", StatusCode: resp.StatusCode}
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxReferenceBytes+1))
	if err != nil {
		return nil, "", fmt.Errorf("ideogram: read reference: %w", err)
	}
	if len(data) > maxReferenceBytes {
		return nil, "", errors.New("ideogram: reference image too large")
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}

func errorDetail(raw []byte) string {
	var detail errorResponse
	if err := json.Unmarshal(raw, &detail); err == nil {
		for _, v := range []string{detail.Message, detail.Error, detail.Detail} {
			if v = strings.TrimSpace(v); v != "" {
				return v
			}
		}
	}
	return strings.TrimSpace(string(raw))
}

func fileName(rawURL string) string {
	if parsed, err := url.Parse(rawURL); err == nil {
		if base := path.Base(parsed.Path); base != "" && base != "/" && base != "." {
			return base
		}
	}
	return "reference.png"
}

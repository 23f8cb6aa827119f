package storage

import (
	"context"
	"crypto/sha1"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"path"
	"sort"
	"strconv"
	"strings"
	"time"

	"genstudio/internal/providers/apierr"
)

// CloudinaryOptions configures a CloudinaryUploader.
type CloudinaryOptions struct {
	CloudName  string
	APIKey     string
	APISecret  string
	Folder     string
	BaseURL    string
	HTTPClient *http.Client
	Now        func() time.Time
}

// CloudinaryUploader hands the generator URL to Cloudinary, which fetches the
// image itself.
type CloudinaryUploader struct {
	opts CloudinaryOptions
}

// NewCloudinaryUploader validates opts and returns an uploader.
func NewCloudinaryUploader(opts CloudinaryOptions) (*CloudinaryUploader, error) {
	if opts.CloudName == "" || opts.APIKey == "" || opts.APISecret == "" {
		return nil, errors.New("storage: cloudinary credentials are required")
	}
	if opts.BaseURL == "" {
		opts.BaseURL = "https://api.cloudinary.com/v1_1"
	}
	opts.BaseURL = strings.TrimRight(opts.BaseURL, "/")
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 60 * time.Second}
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &CloudinaryUploader{opts: opts}, nil
}

type cloudinaryResponse struct {
	SecureURL string `json:"secure_url"`
	Error     struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Upload stores sourceURL under <folder>/<ownerID> and returns the https URL.
func (u *CloudinaryUploader) Upload(ctx context.Context, sourceURL, ownerID string) (string, error) {
	params := map[string]string{
		"folder":    path.Join(u.opts.Folder, ownerID),
		"timestamp": strconv.FormatInt(u.opts.Now().Unix(), 10),
	}
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set("file", sourceURL)
	form.Set("api_key", u.opts.APIKey)
	form.Set("signature", sign(params, u.opts.APISecret))

	endpoint := fmt.Sprintf("%s/%s/image/upload", u.opts.BaseURL, u.opts.CloudName)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(form.Encode()))
	if err != nil {
		return "", fmt.Errorf("cloudinary: build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := u.opts.HTTPClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("cloudinary: http request: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("cloudinary: read response: %w", err)
	}

	var decoded cloudinaryResponse
	_ = json.Unmarshal(raw, &decoded)
	if resp.StatusCode >= 300 {
		return "", &apierr.UpstreamError{Service: "cloudinary", StatusCode: resp.StatusCode, Message: decoded.Error.Message}
	}
	if decoded.SecureURL == "" {
		return "", errors.New("cloudinary: response missing secure_url")
	}
	return decoded.SecureURL, nil
}

// sign computes the Cloudinary request signature: the sorted k=v pairs joined
// by '&', followed by the secret, hashed with SHA-1.
func sign(params map[string]string, secret string) string {
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	pairs := make([]string, 0, len(keys))
	for _, k := range keys {
		pairs = append(pairs, k+"="+params[k])
	}
	sum := sha1.Sum([]byte(strings.Join(pairs, "&") + secret))
	return hex.EncodeToString(sum[:])
}

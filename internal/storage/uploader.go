// Package storage moves generated images from the generator's temporary URL to
// durable storage and returns the stable URL clients should use.
package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"

	"genstudio/internal/providers/apierr"
)

// maxImageBytes caps the size of a downloaded image.
const maxImageBytes = 32 << 20

// FileUploader copies remote images into a FileStore.
type FileUploader struct {
	store      *FileStore
	baseURL    string
	httpClient *http.Client
}

// NewFileUploader returns an uploader that stores under store and builds
// public URLs below baseURL.
func NewFileUploader(store *FileStore, baseURL string, httpClient *http.Client) *FileUploader {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 60 * time.Second}
	}
	return &FileUploader{
		store:      store,
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
	}
}

// Dir returns the directory images are stored in.
func (u *FileUploader) Dir() string {
	return u.store.BasePath()
}

// Upload downloads sourceURL into <ownerID>/<uuid>.<ext> and returns its
// public URL.
func (u *FileUploader) Upload(ctx context.Context, sourceURL, ownerID string) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", errors.New("storage: owner id is required")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, sourceURL, nil)
	if err != nil {
		return "", fmt.Errorf("storage: build download request: %w", err)
	}
	resp, err := u.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("storage: download image: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return "", &apierr.UpstreamError{Service: "image download", StatusCode: resp.StatusCode}
	}

	return u.save(ctx, ownerID, resp.Body, extensionFor(resp.Header.Get("Content-Type"), sourceURL), maxImageBytes)
}

// Save stores an image supplied by the client, such as a remix reference, and
// returns its public URL.
func (u *FileUploader) Save(ctx context.Context, ownerID string, r io.Reader, contentType string, limit int64) (string, error) {
	ownerID = strings.TrimSpace(ownerID)
	if ownerID == "" {
		return "", errors.New("storage: owner id is required")
	}
	return u.save(ctx, ownerID, r, extensionFor(contentType, ""), limit)
}

func (u *FileUploader) save(ctx context.Context, ownerID string, r io.Reader, ext string, limit int64) (string, error) {
	key := path.Join(ownerID, uuid.NewString()+ext)
	saved, err := u.store.WriteFrom(ctx, key, r, limit)
	if err != nil {
		return "", err
	}
	return u.baseURL + "/" + saved, nil
}

func extensionFor(contentType, sourceURL string) string {
	if mediaType, _, err := mime.ParseMediaType(contentType); err == nil {
		switch mediaType {
		case "image/png":
			return ".png"
		case "image/jpeg":
			return ".jpg"
		case "image/webp":
			return ".webp"
		}
		if exts, err := mime.ExtensionsByType(mediaType); err == nil && len(exts) > 0 {
			return exts[0]
		}
	}
	if ext := path.Ext(strings.SplitN(sourceURL, "?", 2)[0]); ext != "" && len(ext) <= 5 {
		return strings.ToLower(ext)
	}
	return ".png"
}

// internal/objectstore/client.go
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the hosted object storage over plain HTTP: a blob is
// uploaded under a generated key and served back from a public URL.
type Client struct {
	baseURL string
	bucket  string
	apiKey  string
	http    *http.Client
}

func NewClient(baseURL, bucket, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		bucket:  bucket,
		apiKey:  apiKey,
		http:    &http.Client{},
	}
}

// Upload stores the blob under a collision-resistant key derived from the
// original name and returns its public URL.
func (c *Client) Upload(ctx context.Context, name string, data []byte) (string, error) {
	key := GenerateKey(name)

	endpoint := fmt.Sprintf("%s/object/%s/%s", c.baseURL, c.bucket, key)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("create upload request: %w", err)
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	res, err := c.http.Do(req)
	if err != nil {
		return "", fmt.Errorf("upload %s: %w", key, err)
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode >= 300 {
		body, _ := io.ReadAll(io.LimitReader(res.Body, 512))
		return "", fmt.Errorf("upload %s: status %d: %s", key, res.StatusCode, strings.TrimSpace(string(body)))
	}

	return c.PublicURL(key), nil
}

// PublicURL returns the public address of an uploaded object
func (c *Client) PublicURL(key string) string {
	return fmt.Sprintf("%s/object/public/%s/%s", c.baseURL, c.bucket, key)
}

// GenerateKey builds a unique storage key from the original file name,
// millisecond timestamp first so concurrent uploads cannot collide on name.
func GenerateKey(name string) string {
	return fmt.Sprintf("%d-%s", time.Now().UnixMilli(), sanitizeName(name))
}

func sanitizeName(name string) string {
	if name == "" {
		return "blob"
	}
	var b strings.Builder
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			b.WriteRune(r)
		case r == '.' || r == '-' || r == '_':
			b.WriteRune(r)
		default:
			b.WriteByte('_')
		}
	}
	return b.String()
}

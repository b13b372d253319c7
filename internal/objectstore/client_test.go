package objectstore

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUploadReturnsPublicURL(t *testing.T) {
	var path, auth, body string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		auth = r.Header.Get("Authorization")
		b, _ := io.ReadAll(r.Body)
		body = string(b)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "chat-attachments", "sk-123")
	url, err := c.Upload(context.Background(), "photo.png", []byte("pixels"))
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(path, "/object/chat-attachments/"))
	require.True(t, strings.HasSuffix(path, "-photo.png"))
	require.Equal(t, "Bearer sk-123", auth)
	require.Equal(t, "pixels", body)

	key := strings.TrimPrefix(path, "/object/chat-attachments/")
	require.Equal(t, srv.URL+"/object/public/chat-attachments/"+key, url)
}

func TestUploadReportsServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bucket not found", http.StatusNotFound)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, "missing", "sk-123")
	_, err := c.Upload(context.Background(), "photo.png", nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "status 404")
	require.Contains(t, err.Error(), "bucket not found")
}

func TestUploadHonorsContext(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		<-r.Context().Done()
	}))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	c := NewClient(srv.URL, "chat-attachments", "")
	_, err := c.Upload(ctx, "photo.png", nil)
	require.ErrorIs(t, err, context.Canceled)
}

func TestGenerateKeySanitizesName(t *testing.T) {
	key := GenerateKey("my photo (1).png")
	require.True(t, strings.HasSuffix(key, "-my_photo__1_.png"), key)

	key = GenerateKey("")
	require.True(t, strings.HasSuffix(key, "-blob"), key)
}

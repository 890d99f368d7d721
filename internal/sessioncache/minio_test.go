package sessioncache

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gofrs/uuid/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeS3 serves the handful of path-style S3 calls MinioCache makes.
type fakeS3 struct {
	mu      sync.Mutex
	buckets map[string]bool
	objects map[string][]byte
}

func (f *fakeS3) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()

	parts := strings.SplitN(strings.TrimPrefix(r.URL.Path, "/"), "/", 2)
	bucket := parts[0]
	key := ""
	if len(parts) == 2 {
		key = parts[1]
	}

	if key == "" {
		switch r.Method {
		case http.MethodHead:
			if !f.buckets[bucket] {
				w.WriteHeader(http.StatusNotFound)
				return
			}
			w.WriteHeader(http.StatusOK)
		case http.MethodPut:
			f.buckets[bucket] = true
			w.WriteHeader(http.StatusOK)
		default:
			w.WriteHeader(http.StatusNotImplemented)
		}
		return
	}

	name := bucket + "/" + key
	switch r.Method {
	case http.MethodPut:
		body, _ := io.ReadAll(r.Body)
		if strings.HasPrefix(r.Header.Get("X-Amz-Content-Sha256"), "STREAMING-") {
			body = decodeAWSChunked(body)
		}
		f.objects[name] = body
		w.Header().Set("ETag", `"etag"`)
		w.WriteHeader(http.StatusOK)
	case http.MethodGet, http.MethodHead:
		body, ok := f.objects[name]
		if !ok {
			w.Header().Set("Content-Type", "application/xml")
			w.WriteHeader(http.StatusNotFound)
			if r.Method == http.MethodGet {
				fmt.Fprintf(w, `<?xml version="1.0" encoding="UTF-8"?><Error><Code>NoSuchKey</Code><Message>missing</Message><Key>%s</Key><BucketName>%s</BucketName></Error>`, key, bucket)
			}
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.Header().Set("Content-Length", fmt.Sprint(len(body)))
		w.Header().Set("ETag", `"etag"`)
		w.Header().Set("Last-Modified", time.Now().UTC().Format(http.TimeFormat))
		w.WriteHeader(http.StatusOK)
		if r.Method == http.MethodGet {
			_, _ = w.Write(body)
		}
	case http.MethodDelete:
		delete(f.objects, name)
		w.WriteHeader(http.StatusNoContent)
	default:
		w.WriteHeader(http.StatusNotImplemented)
	}
}

// decodeAWSChunked strips the "<hex>;chunk-signature=...\r\n<data>\r\n" framing
// minio-go uses for streaming-signed uploads over plain HTTP.
func decodeAWSChunked(b []byte) []byte {
	var out []byte
	for len(b) > 0 {
		i := strings.Index(string(b), "\r\n")
		if i < 0 {
			break
		}
		header := string(b[:i])
		if j := strings.IndexByte(header, ';'); j >= 0 {
			header = header[:j]
		}
		var n int
		if _, err := fmt.Sscanf(header, "%x", &n); err != nil || n == 0 {
			break
		}
		b = b[i+2:]
		out = append(out, b[:n]...)
		b = b[n+2:]
	}
	return out
}

func TestMinioCache_RoundTrip(t *testing.T) {
	s3 := &fakeS3{buckets: map[string]bool{}, objects: map[string][]byte{}}
	srv := httptest.NewServer(s3)
	defer srv.Close()

	ctx := context.Background()
	c, err := NewMinio(ctx, MinioConfig{
		Endpoint:        strings.TrimPrefix(srv.URL, "http://"),
		AccessKeyID:     "key",
		SecretAccessKey: "secret",
		Bucket:          "portal-sessions",
		Region:          "us-east-1",
	})
	require.NoError(t, err)
	assert.True(t, s3.buckets["portal-sessions"])

	id := uuid.Must(uuid.NewV4())
	_, err = c.Load(ctx, id)
	require.ErrorIs(t, err, ErrCacheMiss)

	require.NoError(t, c.Save(ctx, id, []byte(`{"cookies":[]}`)))
	assert.Contains(t, s3.objects, "portal-sessions/sessions/"+id.String()+".json")

	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, `{"cookies":[]}`, string(got))

	require.NoError(t, c.Delete(ctx, id))
	_, err = c.Load(ctx, id)
	require.ErrorIs(t, err, ErrCacheMiss)
}

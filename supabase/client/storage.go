package client

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// Storage returns a storage client.
func (c *Client) Storage() *StorageClient {
	return &StorageClient{client: c}
}

// StorageClient handles storage operations.
type StorageClient struct {
	client *Client
}

// From returns a bucket client.
func (s *StorageClient) From(bucket string) *BucketClient {
	return &BucketClient{client: s.client, bucket: bucket}
}

// BucketClient handles object operations inside one bucket.
type BucketClient struct {
	client *Client
	bucket string
}

// Download fetches an object. The access token, when set, is checked against
// the bucket's storage policies.
func (b *BucketClient) Download(ctx context.Context, path, accessToken string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, b.objectURL("object/authenticated", path), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "*/*")
	return b.client.do(req, "storage download "+b.bucket, accessToken)
}

func (b *BucketClient) objectURL(kind, path string) string {
	segments := strings.Split(strings.TrimPrefix(path, "/"), "/")
	for i, s := range segments {
		segments[i] = url.PathEscape(s)
	}
	return fmt.Sprintf("%s/storage/v1/%s/%s/%s", b.client.baseURL, kind, url.PathEscape(b.bucket), strings.Join(segments, "/"))
}

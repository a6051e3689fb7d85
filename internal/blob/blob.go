// Package blob adapts an S3-compatible object store to the narrow surface the
// ingestion pipeline needs: upload, download, delete and public-URL
// reversal. Uploads are atomic from the caller's view (S3 PUT either fully
// materialises the object or not at all) and deletes are idempotent.
package blob

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/google/uuid"
)

// Well-known key prefixes. The pipeline derives keys from these so ownership
// can be inferred from the key alone.
const (
	PrefixKnowledgeDocuments = "knowledge_documents/"
	PrefixKnowledgeImages    = "knowledge_images/"
	PrefixChatTempFiles      = "ai_chat_temp_files/"
	PrefixProjectCovers      = "project_covers/"
	PrefixForumImages        = "forum_images/"
)

// API is the S3 client subset used by the adapter. Tests substitute a fake.
type API interface {
	PutObject(ctx context.Context, in *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
	GetObject(ctx context.Context, in *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	DeleteObject(ctx context.Context, in *s3.DeleteObjectInput, opts ...func(*s3.Options)) (*s3.DeleteObjectOutput, error)
}

// Store is the blob store adapter.
type Store struct {
	client    API
	bucket    string
	publicURL string // e.g. https://cdn.example.com/atheneum (no trailing slash)
}

// Options configures the adapter.
type Options struct {
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	PublicURL string
}

// New builds a Store against an S3-compatible endpoint.
func New(ctx context.Context, opts Options) (*Store, error) {
	if opts.Bucket == "" {
		return nil, errors.New("blob: bucket is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx,
		awsconfig.WithRegion(opts.Region),
		awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(opts.AccessKey, opts.SecretKey, "")),
	)
	if err != nil {
		return nil, fmt.Errorf("blob: aws config: %w", err)
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if opts.Endpoint != "" {
			o.BaseEndpoint = aws.String(opts.Endpoint)
			o.UsePathStyle = true
		}
	})
	return NewWithClient(client, opts.Bucket, opts.PublicURL), nil
}

// NewWithClient builds a Store from an existing client. Used by tests.
func NewWithClient(client API, bucket, publicURL string) *Store {
	return &Store{
		client:    client,
		bucket:    bucket,
		publicURL: strings.TrimRight(publicURL, "/"),
	}
}

// NewKey returns a fresh object key under the given prefix preserving the
// file extension of name.
func NewKey(prefix, name string) string {
	ext := ""
	if i := strings.LastIndex(name, "."); i >= 0 && i < len(name)-1 {
		ext = name[i:]
	}
	return prefix + uuid.NewString() + ext
}

// Upload writes the object and returns its public URL.
func (s *Store) Upload(ctx context.Context, key string, data []byte, mime string) (string, error) {
	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(s.bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String(mime),
	})
	if err != nil {
		return "", fmt.Errorf("blob: upload %s: %w", key, err)
	}
	return s.URL(key), nil
}

// Download reads the object's bytes.
func (s *Store) Download(ctx context.Context, key string) ([]byte, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, fmt.Errorf("blob: download %s: %w", key, err)
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob: read %s: %w", key, err)
	}
	return data, nil
}

// Delete removes the object. Deleting a missing object is not an error.
func (s *Store) Delete(ctx context.Context, key string) error {
	_, err := s.client.DeleteObject(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var nsk *types.NoSuchKey
		if errors.As(err, &nsk) {
			return nil
		}
		return fmt.Errorf("blob: delete %s: %w", key, err)
	}
	return nil
}

// URL returns the public URL for a key.
func (s *Store) URL(key string) string {
	return s.publicURL + "/" + key
}

// UrlToKey reverses URL. URLs outside the configured public base return
// ok=false and must never be deleted as owned blobs.
func (s *Store) UrlToKey(url string) (key string, ok bool) {
	prefix := s.publicURL + "/"
	if s.publicURL == "" || !strings.HasPrefix(url, prefix) {
		return "", false
	}
	key = strings.TrimPrefix(url, prefix)
	if key == "" {
		return "", false
	}
	return key, true
}

package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	putErr  error
}

func newFakeS3() *fakeS3 { return &fakeS3{objects: map[string][]byte{}} }

func (f *fakeS3) PutObject(_ context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	f.objects[*in.Key] = data
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(_ context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) DeleteObject(_ context.Context, in *s3.DeleteObjectInput, _ ...func(*s3.Options)) (*s3.DeleteObjectOutput, error) {
	delete(f.objects, *in.Key)
	return &s3.DeleteObjectOutput{}, nil
}

func TestUploadDownloadRoundTrip(t *testing.T) {
	store := NewWithClient(newFakeS3(), "bucket", "https://cdn.example.com/atheneum/")
	key := NewKey(PrefixKnowledgeDocuments, "notes.txt")
	assert.True(t, strings.HasPrefix(key, PrefixKnowledgeDocuments))
	assert.True(t, strings.HasSuffix(key, ".txt"))

	url, err := store.Upload(context.Background(), key, []byte("hello"), "text/plain")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/atheneum/"+key, url)

	data, err := store.Download(context.Background(), key)
	require.NoError(t, err)
	assert.Equal(t, []byte("hello"), data)
}

func TestUrlToKeyReversesUpload(t *testing.T) {
	store := NewWithClient(newFakeS3(), "bucket", "https://cdn.example.com/atheneum")
	key := NewKey(PrefixChatTempFiles, "img.png")
	url, err := store.Upload(context.Background(), key, []byte{1, 2}, "image/png")
	require.NoError(t, err)

	got, ok := store.UrlToKey(url)
	require.True(t, ok)
	assert.Equal(t, key, got)
}

func TestUrlToKeyRejectsForeignURLs(t *testing.T) {
	store := NewWithClient(newFakeS3(), "bucket", "https://cdn.example.com/atheneum")
	for _, url := range []string{
		"https://evil.example.com/atheneum/knowledge_documents/x.pdf",
		"https://cdn.example.com/other/doc.pdf",
		"https://cdn.example.com/atheneum/",
		"",
	} {
		_, ok := store.UrlToKey(url)
		assert.False(t, ok, url)
	}
}

func TestDeleteIsIdempotent(t *testing.T) {
	fake := newFakeS3()
	store := NewWithClient(fake, "bucket", "https://cdn.example.com")
	key := NewKey(PrefixForumImages, "a.jpg")
	_, err := store.Upload(context.Background(), key, []byte("x"), "image/jpeg")
	require.NoError(t, err)

	require.NoError(t, store.Delete(context.Background(), key))
	require.NoError(t, store.Delete(context.Background(), key))
	_, err = store.Download(context.Background(), key)
	require.Error(t, err)
}

func TestUploadFailureSurfaces(t *testing.T) {
	fake := newFakeS3()
	fake.putErr = errors.New("connection reset")
	store := NewWithClient(fake, "bucket", "https://cdn.example.com")
	_, err := store.Upload(context.Background(), "k", []byte("x"), "text/plain")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection reset")
}

package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"testing"
	"time"

	v4 "github.com/aws/aws-sdk-go-v2/aws/signer/v4"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/aws/smithy-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeS3 struct {
	objects map[string][]byte
	types   map[string]string
	failErr error
}

func newFakeS3() *fakeS3 {
	return &fakeS3{objects: map[string][]byte{}, types: map[string]string{}}
}

func (f *fakeS3) PutObject(ctx context.Context, in *s3.PutObjectInput, _ ...func(*s3.Options)) (*s3.PutObjectOutput, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	data, _ := io.ReadAll(in.Body)
	f.objects[*in.Key] = data
	f.types[*in.Key] = *in.ContentType
	return &s3.PutObjectOutput{}, nil
}

func (f *fakeS3) GetObject(ctx context.Context, in *s3.GetObjectInput, _ ...func(*s3.Options)) (*s3.GetObjectOutput, error) {
	data, ok := f.objects[*in.Key]
	if !ok {
		return nil, &types.NoSuchKey{}
	}
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) HeadObject(ctx context.Context, in *s3.HeadObjectInput, _ ...func(*s3.Options)) (*s3.HeadObjectOutput, error) {
	if f.failErr != nil {
		return nil, f.failErr
	}
	if _, ok := f.objects[*in.Key]; !ok {
		return nil, &smithy.GenericAPIError{Code: "NotFound", Message: "Not Found"}
	}
	return &s3.HeadObjectOutput{}, nil
}

type fakePresigner struct {
	lastTTL time.Duration
}

func (p *fakePresigner) PresignGetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.PresignOptions)) (*v4.PresignedHTTPRequest, error) {
	var opts s3.PresignOptions
	for _, fn := range optFns {
		fn(&opts)
	}
	p.lastTTL = opts.Expires
	return &v4.PresignedHTTPRequest{
		URL:          "https://" + *in.Bucket + ".s3.amazonaws.com/" + *in.Key + "?X-Amz-Signature=abc",
		Method:       http.MethodGet,
		SignedHeader: http.Header{},
	}, nil
}

func TestS3RoundTrip(t *testing.T) {
	ctx := context.Background()
	client := newFakeS3()
	store, err := NewS3(client, &fakePresigner{}, "audio", nil)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, "input/u1/c1/r1.audio", []byte("pcm"), "audio/wav"))
	assert.Equal(t, "audio/wav", client.types["input/u1/c1/r1.audio"])

	data, err := store.Get(ctx, "input/u1/c1/r1.audio")
	require.NoError(t, err)
	assert.Equal(t, []byte("pcm"), data)

	ok, err := store.Exists(ctx, "input/u1/c1/r1.audio")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestS3NotFound(t *testing.T) {
	ctx := context.Background()
	store, err := NewS3(newFakeS3(), &fakePresigner{}, "audio", nil)
	require.NoError(t, err)

	_, err = store.Get(ctx, "missing")
	assert.True(t, IsNotFound(err))

	ok, err := store.Exists(ctx, "missing")
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestS3ExistsPropagatesOtherErrors(t *testing.T) {
	client := newFakeS3()
	client.failErr = errors.New("access denied")
	store, err := NewS3(client, &fakePresigner{}, "audio", nil)
	require.NoError(t, err)

	_, err = store.Exists(context.Background(), "k")
	assert.Error(t, err)
	assert.False(t, IsNotFound(err))
}

func TestS3SignedURL(t *testing.T) {
	p := &fakePresigner{}
	store, err := NewS3(newFakeS3(), p, "audio", nil)
	require.NoError(t, err)

	u, err := store.SignedURL(context.Background(), "output/u1/c1/r1.audio", 15*time.Minute)
	require.NoError(t, err)
	assert.Contains(t, u, "output/u1/c1/r1.audio")
	assert.Equal(t, 15*time.Minute, p.lastTTL)

	_, err = store.SignedURL(context.Background(), "k", 0)
	assert.Error(t, err)
}

func TestNewS3Validation(t *testing.T) {
	_, err := NewS3(nil, &fakePresigner{}, "b", nil)
	assert.Error(t, err)
	_, err = NewS3(newFakeS3(), &fakePresigner{}, "", nil)
	assert.Error(t, err)
}

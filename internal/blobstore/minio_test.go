package blobstore

import (
	"context"
	"errors"
	"io"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/antiprophet/studio/internal/logging"
)

type mockObjectClient struct {
	mock.Mock
}

func (m *mockObjectClient) PutObject(ctx context.Context, bucketName, objectName string, reader io.Reader, objectSize int64, opts minio.PutObjectOptions) (minio.UploadInfo, error) {
	data, _ := io.ReadAll(reader)
	args := m.Called(bucketName, objectName, string(data), opts.ContentType)
	return minio.UploadInfo{Bucket: bucketName, Key: objectName, Size: int64(len(data))}, args.Error(0)
}

func (m *mockObjectClient) PresignedGetObject(ctx context.Context, bucketName, objectName string, expires time.Duration, reqParams url.Values) (*url.URL, error) {
	args := m.Called(bucketName, objectName, expires)
	if err := args.Error(0); err != nil {
		return nil, err
	}
	return &url.URL{Scheme: "https", Host: "minio.local", Path: "/" + bucketName + "/" + objectName, RawQuery: "X-Amz-Signature=abc"}, nil
}

func (m *mockObjectClient) RemoveObject(ctx context.Context, bucketName, objectName string, opts minio.RemoveObjectOptions) error {
	args := m.Called(bucketName, objectName)
	return args.Error(0)
}

func TestMinIOCreateAndRevoke(t *testing.T) {
	client := new(mockObjectClient)
	store := newMinIO(client, "studio", 15*time.Minute, 0, logging.NewNop())
	ctx := context.Background()

	var objectName string
	client.On("PutObject", "studio", mock.AnythingOfType("string"), "body", "video/mp4").
		Run(func(args mock.Arguments) { objectName = args.String(1) }).
		Return(nil).Once()
	client.On("PresignedGetObject", "studio", mock.AnythingOfType("string"), 15*time.Minute).Return(nil).Once()

	objectURL, err := store.Create(ctx, strings.NewReader("body"), 4, "video/mp4")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(objectName, objectPrefix))
	assert.Contains(t, objectURL, objectName)

	client.On("RemoveObject", "studio", objectName).Return(nil).Once()
	require.NoError(t, store.Revoke(ctx, objectURL))
	assert.ErrorIs(t, store.Revoke(ctx, objectURL), ErrNotFound)

	client.AssertExpectations(t)
}

func TestMinIOPresignFailureRemovesObject(t *testing.T) {
	client := new(mockObjectClient)
	store := newMinIO(client, "studio", 0, 0, logging.NewNop())

	client.On("PutObject", "studio", mock.Anything, "body", "").Return(nil)
	client.On("PresignedGetObject", "studio", mock.Anything, time.Hour).Return(errors.New("clock skew"))
	client.On("RemoveObject", "studio", mock.Anything).Return(nil).Once()

	_, err := store.Create(context.Background(), strings.NewReader("body"), 4, "")
	require.Error(t, err)
	client.AssertExpectations(t)
}

func TestMinIOSizeLimit(t *testing.T) {
	client := new(mockObjectClient)
	store := newMinIO(client, "studio", time.Minute, 2, logging.NewNop())

	_, err := store.Create(context.Background(), strings.NewReader("abc"), 3, "")
	assert.ErrorIs(t, err, ErrTooLarge)
	client.AssertNotCalled(t, "PutObject", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestLimitedReader(t *testing.T) {
	r := &limitedReader{r: strings.NewReader("abcdef"), remaining: 3}
	_, err := io.ReadAll(r)
	assert.ErrorIs(t, err, ErrTooLarge)
}

package blobstore

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNew_DisabledWhenUnconfigured(t *testing.T) {
	store, err := New(context.Background(), Config{})
	require.NoError(t, err)

	_, isDisabled := store.(*disabledStore)
	assert.True(t, isDisabled)
}

func TestDisabledStore_AllOperationsFail(t *testing.T) {
	store := &disabledStore{}

	err := store.Put(context.Background(), "key", nil, 0)
	assert.ErrorIs(t, err, ErrBlobStoreUnavailable)

	_, err = store.Get(context.Background(), "key")
	assert.ErrorIs(t, err, ErrBlobStoreUnavailable)

	err = store.Delete(context.Background(), "key")
	assert.ErrorIs(t, err, ErrBlobStoreUnavailable)
}

func TestNew_EnabledWhenConfigured(t *testing.T) {
	store, err := New(context.Background(), Config{
		Endpoint: "http://127.0.0.1:9000",
		Bucket:   "docs",
		Region:   "us-east-1",
	})
	require.NoError(t, err)

	_, isS3 := store.(*s3Store)
	assert.True(t, isS3)
}

func TestIsNotFoundError(t *testing.T) {
	assert.True(t, isNotFoundError(errors.New("NoSuchKey: the key does not exist")))
	assert.False(t, isNotFoundError(errors.New("AccessDenied")))
}

package snapshot

import (
	"context"
	"errors"
	"fmt"
	"io"

	azStorageBlob "github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/datatrails/go-datatrails-common/azblob"
)

const (
	azblobBlobNotFound      = "BlobNotFound"
	azblobBlobAlreadyExists = "BlobAlreadyExists"
	azblobConditionNotMet   = "ConditionNotMet"
)

// blobClient is the part of azblob.Storer used by BlobStore.
type blobClient interface {
	Put(ctx context.Context, identity string, source io.ReadSeekCloser, opts ...azblob.Option) (*azblob.WriteResponse, error)
	Reader(ctx context.Context, identity string, opts ...azblob.Option) (*azblob.ReaderResponse, error)
}

// BlobStore is an ObjectStore over an azure blob container.
type BlobStore struct {
	store blobClient
}

var _ ObjectStore = (*BlobStore)(nil)

func NewBlobStore(store blobClient) *BlobStore {
	return &BlobStore{store: store}
}

func (s *BlobStore) Put(ctx context.Context, path string, data []byte, failIfExists bool) error {
	var opts []azblob.Option
	if failIfExists {
		// The way to spell 'fail without modifying if the blob exists' is to
		// require that no blob matches *any* etag.
		opts = append(opts, azblob.WithEtagNoneMatch("*"))
	}
	_, err := s.store.Put(ctx, path, azblob.NewBytesReaderCloser(data), opts...)
	if err == nil {
		return nil
	}
	if code, ok := storageErrorCode(err); ok && (code == azblobBlobAlreadyExists || code == azblobConditionNotMet) {
		return fmt.Errorf("%s: %w", err.Error(), ErrExists)
	}
	return err
}

func (s *BlobStore) Get(ctx context.Context, path string) ([]byte, error) {
	rr, err := s.store.Reader(ctx, path)
	if err != nil {
		return nil, wrapBlobNotFound(err)
	}
	defer rr.Reader.Close()
	return io.ReadAll(rr.Reader)
}

func asStorageError(err error) (azStorageBlob.StorageError, bool) {
	serr := &azStorageBlob.StorageError{}
	//nolint
	ierr, ok := err.(*azStorageBlob.InternalError)
	if ierr == nil || !ok {
		return azStorageBlob.StorageError{}, false
	}
	if !ierr.As(&serr) {
		return azStorageBlob.StorageError{}, false
	}
	return *serr, true
}

func storageErrorCode(err error) (string, bool) {
	serr, ok := asStorageError(err)
	if !ok {
		return "", false
	}
	return string(serr.ErrorCode), true
}

// wrapBlobNotFound translates the azure sdk blob not found error to
// ErrNotFound. Every other error is returned as is.
func wrapBlobNotFound(err error) error {
	if errors.Is(err, ErrNotFound) {
		return err
	}
	code, ok := storageErrorCode(err)
	if !ok || code != azblobBlobNotFound {
		return err
	}
	return fmt.Errorf("%s: %w", err.Error(), ErrNotFound)
}

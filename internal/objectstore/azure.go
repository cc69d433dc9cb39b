package objectstore

import (
	"context"
	"fmt"
	"io"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
)

// Azure stores objects as block blobs in one container.
type Azure struct {
	client    *azblob.Client
	container string
}

var _ Store = (*Azure)(nil)

func NewAzure(connectionString, container string) (*Azure, error) {
	client, err := azblob.NewClientFromConnectionString(connectionString, nil)
	if err != nil {
		return nil, fmt.Errorf("creating azure blob client: %w", err)
	}
	return &Azure{client: client, container: container}, nil
}

func (a *Azure) Put(ctx context.Context, logicalPath string, data []byte, contentType string) (string, error) {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return "", err
	}
	_, err = a.client.UploadBuffer(ctx, a.container, name, data, &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &contentType},
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s/%s: %w", a.container, name, err)
	}
	return a.PublicURL(name), nil
}

func (a *Azure) Get(ctx context.Context, logicalPath string) ([]byte, error) {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return nil, err
	}
	resp, err := a.client.DownloadStream(ctx, a.container, name, nil)
	if bloberror.HasCode(err, bloberror.BlobNotFound) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, name)
	}
	if err != nil {
		return nil, fmt.Errorf("downloading %s/%s: %w", a.container, name, err)
	}
	defer resp.Body.Close()
	return io.ReadAll(resp.Body)
}

func (a *Azure) Delete(ctx context.Context, logicalPath string) error {
	name, err := CleanPath(logicalPath)
	if err != nil {
		return err
	}
	_, err = a.client.DeleteBlob(ctx, a.container, name, nil)
	if err != nil && !bloberror.HasCode(err, bloberror.BlobNotFound) {
		return fmt.Errorf("deleting %s/%s: %w", a.container, name, err)
	}
	return nil
}

func (a *Azure) PublicURL(logicalPath string) string {
	return strings.TrimRight(a.client.URL(), "/") + "/" + a.container + "/" + logicalPath
}

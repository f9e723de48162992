package evidencepack

import (
	"context"
	"fmt"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
)

// AzureUploader implements Uploader against a real Azure Blob Storage
// container using the official SDK client, the evidence-pack archive's only
// production object-storage backend.
type AzureUploader struct {
	client *azblob.Client
	container string
}

func NewAzureUploader(client *azblob.Client, container string) *AzureUploader {
	return &AzureUploader{client: client, container: container}
}

func (a *AzureUploader) Put(ctx context.Context, key string, body []byte, metadata map[string]string) error {
	meta := make(map[string]*string, len(metadata))
	for k, v := range metadata {
		val := v
		meta[k] = &val
	}

	_, err := a.client.UploadBuffer(ctx, a.container, key, body, &azblob.UploadBufferOptions{
		Metadata: meta,
	})
	if err != nil {
		return fmt.Errorf("evidencepack: azure upload: %w", err)
	}
	return nil
}

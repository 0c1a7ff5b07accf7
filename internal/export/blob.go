package export

import (
	"context"
	"errors"
	"fmt"
	"path"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"

	"github.com/MeKo-Tech/idscan/internal/scan"
)

// blobUploader is the part of *azblob.Client the sink needs.
type blobUploader interface {
	UploadBuffer(ctx context.Context, containerName, blobName string, buffer []byte,
		o *azblob.UploadBufferOptions) (azblob.UploadBufferResponse, error)
}

// BlobSink uploads <session>/<side>_{crop,display}.<ext> blobs.
type BlobSink struct {
	client    blobUploader
	container string
}

// NewBlobSink authenticates with the account's shared key.
func NewBlobSink(cfg AzureConfig) (*BlobSink, error) {
	if cfg.Account == "" || cfg.Key == "" {
		return nil, errors.New("azure account and key are required")
	}
	if cfg.Container == "" {
		return nil, errors.New("azure container is required")
	}
	credential, err := azblob.NewSharedKeyCredential(cfg.Account, cfg.Key)
	if err != nil {
		return nil, fmt.Errorf("invalid azure credentials: %w", err)
	}
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = fmt.Sprintf("https://%s.blob.core.windows.net", cfg.Account)
	}
	client, err := azblob.NewClientWithSharedKeyCredential(endpoint, credential, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create blob client: %w", err)
	}
	return &BlobSink{client: client, container: cfg.Container}, nil
}

// Name implements Sink.
func (b *BlobSink) Name() string { return "azure_blob" }

// Export implements Sink.
func (b *BlobSink) Export(ctx context.Context, sessionID string, images []scan.CapturedImage) error {
	if err := checkImages(images); err != nil {
		return err
	}
	for _, img := range images {
		name := path.Join(sessionID, string(img.Side)+"_crop"+img.CroppedImage.Extension())
		if err := b.upload(ctx, name, img.CroppedImage.MIMEType, img.CroppedImage.Data); err != nil {
			return err
		}
		if img.DisplayImage.Empty() {
			continue
		}
		name = path.Join(sessionID, string(img.Side)+"_display"+img.DisplayImage.Extension())
		if err := b.upload(ctx, name, img.DisplayImage.MIMEType, img.DisplayImage.Data); err != nil {
			return err
		}
	}
	return nil
}

func (b *BlobSink) upload(ctx context.Context, name, mime string, data []byte) error {
	opts := &azblob.UploadBufferOptions{
		HTTPHeaders: &blob.HTTPHeaders{BlobContentType: &mime},
	}
	if _, err := b.client.UploadBuffer(ctx, b.container, name, data, opts); err != nil {
		return fmt.Errorf("upload %s failed: %w", name, err)
	}
	return nil
}

package storage

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob"

	apperrors "github.com/verilens/detection-engine/internal/errors"
)

// AzureSource fetches image bytes from Azure Blob Storage. Blob URLs carry
// the container in the path and the blob name in the "blob" query parameter.
type AzureSource struct {
	client   *azblob.Client
	maxBytes int64
}

// NewAzureSource creates a blob fetcher authenticated with a shared key.
func NewAzureSource(accountName, accountKey string, maxBytes int64) (*AzureSource, error) {
	credential, err := azblob.NewSharedKeyCredential(accountName, accountKey)
	if err != nil {
		return nil, fmt.Errorf("azure credential: %w", err)
	}

	client, err := azblob.NewClientWithSharedKeyCredential(
		fmt.Sprintf("https://%s.blob.core.windows.net", accountName),
		credential,
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("azure client: %w", err)
	}

	return &AzureSource{client: client, maxBytes: maxBytes}, nil
}

// Fetch downloads the blob's bytes, bounded by the configured cap.
func (s *AzureSource) Fetch(ctx context.Context, blobURL string) ([]byte, error) {
	parsed, err := url.Parse(blobURL)
	if err != nil {
		return nil, apperrors.NewInvalidRequest("invalid blob URL", err)
	}

	containerName := strings.TrimPrefix(parsed.Path, "/")
	blobName := parsed.Query().Get("blob")
	if containerName == "" || blobName == "" {
		return nil, apperrors.NewInvalidRequest(
			"blob URL must carry a container path and a blob query parameter", nil)
	}

	response, err := s.client.DownloadStream(ctx, containerName, blobName, nil)
	if err != nil {
		return nil, apperrors.NewInternal("blob download failed", err)
	}
	defer response.Body.Close()

	data, err := io.ReadAll(io.LimitReader(response.Body, s.maxBytes+1))
	if err != nil {
		return nil, apperrors.NewInternal("blob read failed", err)
	}
	if int64(len(data)) > s.maxBytes {
		return nil, apperrors.NewSizeExceeded(
			fmt.Sprintf("blob exceeds %d bytes", s.maxBytes), nil)
	}
	return data, nil
}

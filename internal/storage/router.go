package storage

import (
	"context"
	"net/url"
	"strings"

	apperrors "github.com/verilens/detection-engine/internal/errors"
)

const azureBlobHostSuffix = ".blob.core.windows.net"

// SourceRouter picks the fetch backend for a source URL. Azure blob hosts
// use the authenticated blob client when one is configured; everything else
// goes over plain HTTP.
type SourceRouter struct {
	http  SourceFetcher
	azure SourceFetcher
}

// NewSourceRouter creates a router over the given backends. azure may be
// nil, in which case blob-host URLs fall through to the HTTP fetcher and
// only public blobs resolve.
func NewSourceRouter(httpSource, azureSource SourceFetcher) *SourceRouter {
	return &SourceRouter{http: httpSource, azure: azureSource}
}

// Fetch routes the URL to its backend.
func (r *SourceRouter) Fetch(ctx context.Context, sourceURL string) ([]byte, error) {
	parsed, err := url.Parse(sourceURL)
	if err != nil {
		return nil, apperrors.NewInvalidRequest("invalid source URL", err)
	}
	if r.azure != nil && strings.HasSuffix(strings.ToLower(parsed.Hostname()), azureBlobHostSuffix) {
		return r.azure.Fetch(ctx, sourceURL)
	}
	return r.http.Fetch(ctx, sourceURL)
}

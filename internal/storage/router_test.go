package storage

import (
	"context"
	"testing"
)

type recordingFetcher struct {
	calls []string
	data  []byte
}

func (r *recordingFetcher) Fetch(_ context.Context, sourceURL string) ([]byte, error) {
	r.calls = append(r.calls, sourceURL)
	return r.data, nil
}

func TestSourceRouter_RoutesByHost(t *testing.T) {
	tests := []struct {
		name        string
		url         string
		expectAzure bool
	}{
		{"plain https", "https://images.example.com/photo.jpg", false},
		{"azure blob host", "https://acct.blob.core.windows.net/images?blob=photo.jpg", true},
		{"azure host uppercase", "https://ACCT.Blob.Core.Windows.NET/images?blob=x", true},
		{"lookalike host", "https://blob.core.windows.net.evil.example/x", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			httpFetcher := &recordingFetcher{data: []byte("http")}
			azureFetcher := &recordingFetcher{data: []byte("azure")}
			router := NewSourceRouter(httpFetcher, azureFetcher)

			data, err := router.Fetch(context.Background(), tt.url)
			if err != nil {
				t.Fatalf("Unexpected error: %v", err)
			}

			if tt.expectAzure {
				if len(azureFetcher.calls) != 1 || len(httpFetcher.calls) != 0 {
					t.Errorf("Expected azure backend, got http=%d azure=%d",
						len(httpFetcher.calls), len(azureFetcher.calls))
				}
				if string(data) != "azure" {
					t.Errorf("Wrong backend payload: %q", data)
				}
			} else {
				if len(httpFetcher.calls) != 1 || len(azureFetcher.calls) != 0 {
					t.Errorf("Expected http backend, got http=%d azure=%d",
						len(httpFetcher.calls), len(azureFetcher.calls))
				}
			}
		})
	}
}

func TestSourceRouter_BlobHostWithoutAzureFallsThrough(t *testing.T) {
	httpFetcher := &recordingFetcher{data: []byte("http")}
	router := NewSourceRouter(httpFetcher, nil)

	_, err := router.Fetch(context.Background(),
		"https://acct.blob.core.windows.net/images?blob=photo.jpg")
	if err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}
	if len(httpFetcher.calls) != 1 {
		t.Errorf("Expected HTTP fallback, got %d calls", len(httpFetcher.calls))
	}
}

package transport

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/verilens/detection-engine/internal/config"
	"github.com/verilens/detection-engine/internal/dispatch"
	"github.com/verilens/detection-engine/internal/engine"
	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/pkg/models"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type stubEngine struct {
	mu      sync.Mutex
	lastReq *models.AnalysisRequest
	result  *models.AnalysisResult
	err     error
	stats   engine.Stats
}

func (s *stubEngine) Submit(_ context.Context, req *models.AnalysisRequest) (*models.AnalysisResult, error) {
	s.mu.Lock()
	s.lastReq = req
	s.mu.Unlock()
	if s.err != nil {
		return nil, s.err
	}
	return s.result, nil
}

func (s *stubEngine) Stats() engine.Stats {
	return s.stats
}

func (s *stubEngine) received() *models.AnalysisRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastReq
}

type stubFetcher struct {
	data []byte
	err  error
	url  string
}

func (s *stubFetcher) Fetch(_ context.Context, sourceURL string) ([]byte, error) {
	s.url = sourceURL
	if s.err != nil {
		return nil, s.err
	}
	return s.data, nil
}

func testHandlerConfig() *config.Config {
	return &config.Config{
		MaxRequestBodySize: 1 << 20,
		FetchTimeout:       2 * time.Second,
	}
}

func postAnalyze(t *testing.T, handler http.Handler, body string, headers map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/v1/analyze", strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func decodeErrorResponse(t *testing.T, w *httptest.ResponseRecorder) models.ErrorResponse {
	t.Helper()
	var resp models.ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode error body %q: %v", w.Body.String(), err)
	}
	return resp
}

func TestHandler_AnalyzeBase64(t *testing.T) {
	imageBytes := []byte("raw-image-payload")
	eng := &stubEngine{
		result: &models.AnalysisResult{
			AnalysisID:     "an-123",
			Classification: models.LabelAuthentic,
			Confidence:     41.5,
		},
	}
	handler := NewHandler(eng, nil, testHandlerConfig())

	body := fmt.Sprintf(`{"image_base64":%q,"format":"png","options":{"priority":"high"}}`,
		base64.StdEncoding.EncodeToString(imageBytes))
	w := postAnalyze(t, handler, body, map[string]string{"X-Client-ID": "acme"})

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}

	var result models.AnalysisResult
	if err := json.Unmarshal(w.Body.Bytes(), &result); err != nil {
		t.Fatalf("Failed to decode result: %v", err)
	}
	if result.AnalysisID != "an-123" || result.Classification != models.LabelAuthentic {
		t.Errorf("Unexpected result: %+v", result)
	}

	got := eng.received()
	if got == nil {
		t.Fatal("Engine never received the request")
	}
	if !bytes.Equal(got.Image, imageBytes) {
		t.Errorf("Engine received wrong bytes: %q", got.Image)
	}
	if got.ClientID != "acme" {
		t.Errorf("Expected client ID acme, got %q", got.ClientID)
	}
	if got.Format != "png" {
		t.Errorf("Expected format png, got %q", got.Format)
	}
	if got.Options.Priority != models.PriorityHigh {
		t.Errorf("Expected high priority, got %v", got.Options.Priority)
	}
}

func TestHandler_AnalyzeFromURL(t *testing.T) {
	fetched := []byte("fetched-image-bytes")
	eng := &stubEngine{result: &models.AnalysisResult{AnalysisID: "an-9"}}
	fetcher := &stubFetcher{data: fetched}
	handler := NewHandler(eng, fetcher, testHandlerConfig())

	w := postAnalyze(t, handler,
		`{"image_url":"https://images.example.com/photo.jpg","format":"jpeg"}`, nil)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d: %s", w.Code, w.Body.String())
	}
	if fetcher.url != "https://images.example.com/photo.jpg" {
		t.Errorf("Fetcher got wrong URL: %q", fetcher.url)
	}
	got := eng.received()
	if got == nil {
		t.Fatal("Engine never received the request")
	}
	if !bytes.Equal(got.Image, fetched) {
		t.Errorf("Engine did not receive fetched bytes")
	}
	if got.ClientID != "anonymous" {
		t.Errorf("Expected anonymous client, got %q", got.ClientID)
	}
}

func TestHandler_RejectsAmbiguousSource(t *testing.T) {
	tests := []struct {
		name string
		body string
	}{
		{"both sources", `{"image_base64":"aGk=","image_url":"https://x.example/y.png","format":"png"}`},
		{"no source", `{"format":"png"}`},
		{"bad base64", `{"image_base64":"not base64!!","format":"png"}`},
		{"bad url scheme", `{"image_url":"ftp://x.example/y.png","format":"png"}`},
		{"malformed json", `{"image_base64":`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{}
			handler := NewHandler(eng, &stubFetcher{}, testHandlerConfig())

			w := postAnalyze(t, handler, tt.body, nil)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("Expected 400, got %d: %s", w.Code, w.Body.String())
			}
			resp := decodeErrorResponse(t, w)
			if resp.ErrorCode != string(apperrors.CodeInvalidRequest) {
				t.Errorf("Expected invalid_request, got %q", resp.ErrorCode)
			}
			if eng.received() != nil {
				t.Error("Engine must not see rejected submissions")
			}
		})
	}
}

func TestHandler_ErrorTaxonomyMapping(t *testing.T) {
	tests := []struct {
		name          string
		err           error
		expectStatus  int
		expectCode    apperrors.Code
		expectRetry   bool
		expectAfterMS int64
	}{
		{
			name:         "unsupported format",
			err:          apperrors.NewUnsupportedFormat("bmp is not supported", nil),
			expectStatus: http.StatusUnsupportedMediaType,
			expectCode:   apperrors.CodeUnsupportedFormat,
		},
		{
			name:         "corrupt image",
			err:          apperrors.NewCorruptImage("png decode failed", nil),
			expectStatus: http.StatusUnprocessableEntity,
			expectCode:   apperrors.CodeCorruptImage,
		},
		{
			name:         "size exceeded",
			err:          apperrors.NewSizeExceeded("image exceeds 32 MiB", nil),
			expectStatus: http.StatusRequestEntityTooLarge,
			expectCode:   apperrors.CodeSizeExceeded,
		},
		{
			name:          "overloaded carries retry hint",
			err:           apperrors.NewOverloaded("queue full", 2*time.Second),
			expectStatus:  http.StatusTooManyRequests,
			expectCode:    apperrors.CodeOverloaded,
			expectRetry:   true,
			expectAfterMS: 2000,
		},
		{
			name:         "timeout",
			err:          apperrors.NewTimeout("analysis budget exceeded", nil),
			expectStatus: http.StatusGatewayTimeout,
			expectCode:   apperrors.CodeTimeout,
		},
		{
			name:         "all models unavailable",
			err:          apperrors.NewAllModelsUnavailable("every adapter failed", nil),
			expectStatus: http.StatusServiceUnavailable,
			expectCode:   apperrors.CodeAllModelsUnavailable,
			expectRetry:  true,
		},
		{
			name:         "internal",
			err:          apperrors.NewInternal("buffer accounting broke", nil),
			expectStatus: http.StatusInternalServerError,
			expectCode:   apperrors.CodeInternal,
		},
	}

	body := fmt.Sprintf(`{"image_base64":%q,"format":"png"}`,
		base64.StdEncoding.EncodeToString([]byte("img")))

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			eng := &stubEngine{err: tt.err}
			handler := NewHandler(eng, nil, testHandlerConfig())

			w := postAnalyze(t, handler, body, nil)

			if w.Code != tt.expectStatus {
				t.Fatalf("Expected status %d, got %d: %s", tt.expectStatus, w.Code, w.Body.String())
			}
			resp := decodeErrorResponse(t, w)
			if resp.ErrorCode != string(tt.expectCode) {
				t.Errorf("Expected code %q, got %q", tt.expectCode, resp.ErrorCode)
			}
			if resp.Retriable != tt.expectRetry {
				t.Errorf("Expected retriable=%v, got %v", tt.expectRetry, resp.Retriable)
			}
			if resp.RetryAfterMS != tt.expectAfterMS {
				t.Errorf("Expected retry_after_ms=%d, got %d", tt.expectAfterMS, resp.RetryAfterMS)
			}
			if resp.Message == "" {
				t.Error("Error message must not be empty")
			}
			if strings.Contains(resp.Message, string(tt.expectCode)+":") {
				t.Errorf("Message should not repeat the code prefix: %q", resp.Message)
			}
		})
	}
}

func TestHandler_FetchFailurePropagatesCode(t *testing.T) {
	eng := &stubEngine{}
	fetcher := &stubFetcher{err: apperrors.NewSizeExceeded("image source exceeds 1048576 bytes", nil)}
	handler := NewHandler(eng, fetcher, testHandlerConfig())

	w := postAnalyze(t, handler, `{"image_url":"https://x.example/big.png","format":"png"}`, nil)

	if w.Code != http.StatusRequestEntityTooLarge {
		t.Fatalf("Expected 413, got %d: %s", w.Code, w.Body.String())
	}
	resp := decodeErrorResponse(t, w)
	if resp.ErrorCode != string(apperrors.CodeSizeExceeded) {
		t.Errorf("Expected size_exceeded, got %q", resp.ErrorCode)
	}
	if eng.received() != nil {
		t.Error("Engine must not run when the fetch fails")
	}
}

func TestHandler_RequestBodyLimit(t *testing.T) {
	cfg := testHandlerConfig()
	cfg.MaxRequestBodySize = 64

	eng := &stubEngine{}
	handler := NewHandler(eng, nil, cfg)

	big := strings.Repeat("A", 512)
	body := fmt.Sprintf(`{"image_base64":%q,"format":"png"}`, big)
	w := postAnalyze(t, handler, body, nil)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("Expected 400 for oversized body, got %d", w.Code)
	}
	if eng.received() != nil {
		t.Error("Engine must not see oversized submissions")
	}
}

func TestHandler_Healthz(t *testing.T) {
	eng := &stubEngine{
		stats: engine.Stats{
			Scheduler: dispatch.Stats{
				QueueDepths: map[string]int{"high": 1, "normal": 4, "low": 0},
			},
			Workers: 8,
		},
	}
	handler := NewHandler(eng, nil, testHandlerConfig())

	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	var health models.HealthResponse
	if err := json.Unmarshal(w.Body.Bytes(), &health); err != nil {
		t.Fatalf("Failed to decode health body: %v", err)
	}
	if health.Status != "available" {
		t.Errorf("Expected status available, got %q", health.Status)
	}
	if health.Workers != 8 {
		t.Errorf("Expected 8 workers, got %d", health.Workers)
	}
	if health.QueueDepth["normal"] != 4 {
		t.Errorf("Expected normal depth 4, got %d", health.QueueDepth["normal"])
	}
}

func TestHandler_MetricsEndpoint(t *testing.T) {
	handler := NewHandler(&stubEngine{}, nil, testHandlerConfig())

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("Expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "go_goroutines") {
		t.Error("Expected Prometheus exposition output")
	}
}

package engine

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/color"
	"image/png"
	"sync"
	"testing"
	"time"

	"github.com/verilens/detection-engine/internal/adapter"
	"github.com/verilens/detection-engine/internal/clientcfg"
	"github.com/verilens/detection-engine/internal/config"
	"github.com/verilens/detection-engine/internal/ensemble"
	apperrors "github.com/verilens/detection-engine/internal/errors"
	"github.com/verilens/detection-engine/internal/observer"
	"github.com/verilens/detection-engine/pkg/models"
)

func testConfig() *config.Config {
	return &config.Config{
		Workers:          4,
		QueueBound:       64,
		MaxRetries:       2,
		AgingThreshold:   5 * time.Second,
		AdapterTimeout:   2 * time.Second,
		RequestBudget:    10 * time.Second,
		LargeImageBytes:  10 << 20,
		MaxImageBytes:    32 << 20,
		DefaultThreshold: 70.0,
	}
}

func newTestEngine(t *testing.T, cfg *config.Config, registry *adapter.Registry, clients clientcfg.Provider) *Engine {
	t.Helper()
	if cfg == nil {
		cfg = testConfig()
	}
	if registry == nil {
		registry = adapter.NewRegistry(cfg.AdapterTimeout)
	}
	if clients == nil {
		clients = clientcfg.NewMemoryProvider()
	}

	eng := New(cfg, registry, ensemble.NewWeightProvider(), clients, observer.NewEventPublisher())
	eng.Start()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := eng.Stop(ctx); err != nil {
			t.Errorf("Engine stop failed: %v", err)
		}
	})
	return eng
}

// noisyImage is a deterministic grayscale texture. Zero saturation keeps the
// food hint quiet.
func noisyImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			v := uint8((x*31 + y*17 + x*y*13) % 251)
			img.Set(x, y, color.NRGBA{R: v, G: v, B: v, A: 255})
		}
	}
	return img
}

// warmImage is saturated orange with mild texture, which trips the food
// content hint.
func warmImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			jitter := uint8((x + y) % 16)
			img.Set(x, y, color.NRGBA{R: 210, G: 120 + jitter, B: 30, A: 255})
		}
	}
	return img
}

// coolImage is saturated blue, which must not trip the food hint.
func coolImage(width, height int) *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			jitter := uint8((x*3 + y*7) % 24)
			img.Set(x, y, color.NRGBA{R: 30, G: 60 + jitter, B: 200, A: 255})
		}
	}
	return img
}

func encodePNG(t *testing.T, img image.Image) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatalf("Failed to encode PNG: %v", err)
	}
	return buf.Bytes()
}

func allZero(data []byte) bool {
	for _, b := range data {
		if b != 0 {
			return false
		}
	}
	return true
}

func newRequest(data []byte, opts models.AnalysisOptions) *models.AnalysisRequest {
	return &models.AnalysisRequest{
		ClientID: "test-client",
		Image:    data,
		Format:   "png",
		Options:  opts,
	}
}

func TestEngineAnalyzeHappyPath(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	req := newRequest(encodePNG(t, noisyImage(96, 96)), models.DefaultOptions())
	result, err := eng.Submit(context.Background(), req)
	if err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if result.AnalysisID == "" {
		t.Error("Expected a generated analysis ID")
	}
	switch result.Classification {
	case models.LabelAIGenerated, models.LabelAuthentic, models.LabelUncertain:
	default:
		t.Errorf("Unexpected classification %q", result.Classification)
	}
	if result.Confidence < 0 || result.Confidence > 100 {
		t.Errorf("Confidence out of range: %f", result.Confidence)
	}
	if len(result.ModelResults) == 0 {
		t.Fatal("Expected at least one model outcome")
	}
	for _, outcome := range result.ModelResults {
		if outcome.Model == "" || outcome.Version == "" {
			t.Errorf("Outcome missing identity: %+v", outcome)
		}
	}
	if result.Features.Width != 96 || result.Features.Height != 96 {
		t.Errorf("Expected 96x96 dimensions, got %dx%d", result.Features.Width, result.Features.Height)
	}
	if result.Features.Format != "png" {
		t.Errorf("Expected format png, got %s", result.Features.Format)
	}
	if result.Metadata.FallbackTriggered {
		t.Error("Fallback should not trigger when the primary succeeds")
	}
	if result.Metadata.TotalTimeMS < 0 || result.Metadata.QueueTimeMS < 0 {
		t.Errorf("Negative timing: %+v", result.Metadata)
	}
}

func TestEngineWipesBufferAfterVerdict(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	data := encodePNG(t, noisyImage(64, 64))
	req := newRequest(data, models.DefaultOptions())

	if _, err := eng.Submit(context.Background(), req); err != nil {
		t.Fatalf("Submit failed: %v", err)
	}

	if !allZero(data) {
		t.Error("Image buffer must be zeroed before the verdict is delivered")
	}
	if outstanding := eng.Stats().BuffersOutstanding; outstanding != 0 {
		t.Errorf("Expected no outstanding buffers, got %d", outstanding)
	}
}

func TestEngineWipesBufferOnRejection(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	data := encodePNG(t, noisyImage(32, 32))
	req := newRequest(data, models.DefaultOptions())
	req.Format = "bmp"

	_, err := eng.Submit(context.Background(), req)
	if err == nil {
		t.Fatal("Expected rejection for unsupported format")
	}
	if apperrors.CodeOf(err) != apperrors.CodeUnsupportedFormat {
		t.Errorf("Expected unsupported_format, got %s", apperrors.CodeOf(err))
	}
	if !allZero(data) {
		t.Error("Buffer must be zeroed even when admission rejects the request")
	}
}

func TestEngineRejectsOversizedPayload(t *testing.T) {
	cfg := testConfig()
	cfg.LargeImageBytes = 64
	cfg.MaxImageBytes = 128
	eng := newTestEngine(t, cfg, nil, nil)

	data := encodePNG(t, noisyImage(64, 64))
	if int64(len(data)) <= cfg.MaxImageBytes {
		t.Fatalf("Fixture too small to exceed the cap: %d bytes", len(data))
	}
	req := newRequest(data, models.DefaultOptions())

	_, err := eng.Submit(context.Background(), req)
	if apperrors.CodeOf(err) != apperrors.CodeSizeExceeded {
		t.Fatalf("Expected size_exceeded, got %v", err)
	}
	if !allZero(data) {
		t.Error("Oversized buffer must still be zeroed")
	}
}

func TestEngineRejectsUnknownModel(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	data := encodePNG(t, noisyImage(48, 48))
	req := newRequest(data, models.DefaultOptions().WithModels("not-a-model"))

	_, err := eng.Submit(context.Background(), req)
	if apperrors.CodeOf(err) != apperrors.CodeInvalidRequest {
		t.Fatalf("Expected invalid_request, got %v", err)
	}
	if !allZero(data) {
		t.Error("Buffer must be zeroed after a planning rejection")
	}
}

func TestEngineClientCapSheds(t *testing.T) {
	clients := clientcfg.NewMemoryProvider()
	clients.Set(&models.ClientConfig{ClientID: "capped", ConcurrentCap: 1})

	slow := &stubScorer{
		name:       "primary-detector",
		role:       adapter.RolePrimary,
		confidence: 80,
		delay:      150 * time.Millisecond,
	}
	cfg := testConfig()
	registry := adapter.NewCustomRegistry(cfg.AdapterTimeout, slow, &stubScorer{
		name: "backup-detector", role: adapter.RoleBackup, confidence: 50,
	})
	eng := newTestEngine(t, cfg, registry, clients)

	const callers = 6
	encoded := encodePNG(t, noisyImage(32, 32))
	start := make(chan struct{})
	var wg sync.WaitGroup
	var mu sync.Mutex
	var completed, shed int

	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			<-start
			req := newRequest(append([]byte(nil), encoded...), models.DefaultOptions())
			req.ClientID = "capped"
			_, err := eng.Submit(context.Background(), req)

			mu.Lock()
			defer mu.Unlock()
			switch {
			case err == nil:
				completed++
			case apperrors.CodeOf(err) == apperrors.CodeOverloaded:
				shed++
			default:
				t.Errorf("Unexpected error: %v", err)
			}
		}()
	}
	close(start)
	wg.Wait()

	if completed+shed != callers {
		t.Fatalf("Expected %d settled callers, got %d completed + %d shed", callers, completed, shed)
	}
	if completed == 0 {
		t.Error("At least one request should pass the cap")
	}
	if shed == 0 {
		t.Error("A cap of one must shed simultaneous submissions")
	}
}

func TestEngineSubmitAfterStop(t *testing.T) {
	cfg := testConfig()
	registry := adapter.NewRegistry(cfg.AdapterTimeout)
	eng := New(cfg, registry, ensemble.NewWeightProvider(), clientcfg.NewMemoryProvider(), observer.NewEventPublisher())
	eng.Start()

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := eng.Stop(ctx); err != nil {
		t.Fatalf("Stop failed: %v", err)
	}

	data := encodePNG(t, noisyImage(32, 32))
	_, err := eng.Submit(context.Background(), newRequest(data, models.DefaultOptions()))
	if err == nil {
		t.Fatal("Submit after stop should fail")
	}
	if !allZero(data) {
		t.Error("Buffer must be zeroed when submission is refused at shutdown")
	}
}

func TestEngineStatsSnapshot(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	stats := eng.Stats()
	if len(stats.Models) != 3 {
		t.Errorf("Expected 3 models, got %v", stats.Models)
	}
	if stats.Weights == nil {
		t.Error("Expected a live weight table")
	}
	if stats.BuffersOutstanding != 0 {
		t.Errorf("Expected no outstanding buffers at rest, got %d", stats.BuffersOutstanding)
	}
	if stats.Scheduler.QueueDepths == nil {
		t.Error("Expected queue depth snapshot")
	}
}

func TestEngineResolveThreshold(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	tests := []struct {
		name          string
		requested     float64
		clientDefault float64
		want          float64
	}{
		{"engine default", 0, 0, 70.0},
		{"client override", 0, 85, 85},
		{"request override wins", 92, 85, 92},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := eng.resolveThreshold(tt.requested, tt.clientDefault); got != tt.want {
				t.Errorf("resolveThreshold(%f, %f) = %f, want %f", tt.requested, tt.clientDefault, got, tt.want)
			}
		})
	}
}

func TestEngineVerdictIsDeterministic(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	encoded := encodePNG(t, noisyImage(80, 80))

	var first *models.AnalysisResult
	for i := 0; i < 3; i++ {
		data := make([]byte, len(encoded))
		copy(data, encoded)
		result, err := eng.Submit(context.Background(), newRequest(data, models.DefaultOptions()))
		if err != nil {
			t.Fatalf("Submit %d failed: %v", i, err)
		}
		if first == nil {
			first = result
			continue
		}
		if result.Classification != first.Classification || result.Confidence != first.Confidence {
			t.Errorf("Run %d diverged: got %s/%f, want %s/%f",
				i, result.Classification, result.Confidence, first.Classification, first.Confidence)
		}
	}
}

func TestEngineCancelledCallerContext(t *testing.T) {
	eng := newTestEngine(t, nil, nil, nil)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var err error
	done := make(chan struct{})
	go func() {
		defer close(done)
		_, err = eng.Submit(ctx, newRequest(encodePNG(t, noisyImage(48, 48)), models.DefaultOptions()))
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Submit did not return after caller cancellation")
	}
	// A pre-cancelled caller either races a fast verdict or gets a timeout;
	// it must never hang.
	if err != nil && apperrors.CodeOf(err) != apperrors.CodeTimeout {
		var engineErr *apperrors.EngineError
		if !errors.As(err, &engineErr) {
			t.Errorf("Expected an engine error, got %v", err)
		}
	}
}

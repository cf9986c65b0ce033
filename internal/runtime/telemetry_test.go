package runtime

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/loqalabs/loqa-dictate/internal/config"
)

func TestTelemetryServesDictateRegistry(t *testing.T) {
	cfg := config.Default()
	cfg.STT.Mode = "exec"
	cfg.STT.Model = "ggml-base.en"
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	// A second setup in the same process must not collide with the first.
	for i := 0; i < 2; i++ {
		tel, err := setupTelemetry(context.Background(), cfg, logger)
		if err != nil {
			t.Fatalf("setup %d: %v", i, err)
		}
		rec := httptest.NewRecorder()
		tel.metrics.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
		if rec.Code != http.StatusOK {
			t.Fatalf("scrape status %d", rec.Code)
		}
		body := rec.Body.String()
		for _, want := range []string{"dictate_config_info", `engine="exec"`, `model="ggml-base.en"`, "go_goroutines"} {
			if !strings.Contains(body, want) {
				t.Fatalf("scrape missing %q", want)
			}
		}
		if err := tel.shutdown(context.Background()); err != nil {
			t.Fatalf("shutdown: %v", err)
		}
	}
}

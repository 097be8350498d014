package pipeline

import (
	"bytes"
	"context"
	"image"
	"image/png"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"inkcal/internal/config"
	"inkcal/internal/display"
	"inkcal/internal/feed"
	"inkcal/internal/render"
)

func testRunner(t *testing.T, cfg *config.Config, sinks ...display.Sink) *Runner {
	t.Helper()

	renderer, err := render.New(cfg)
	if err != nil {
		t.Fatalf("render.New: %v", err)
	}

	r := New(cfg, time.UTC, renderer, feed.NewFetcher(t.TempDir(), time.Second), sinks)
	r.Demo = true
	r.Now = func() time.Time {
		return time.Date(2025, 5, 6, 14, 30, 0, 0, time.UTC)
	}
	return r
}

func TestRenderNowPublishesPNG(t *testing.T) {
	cfg := config.DefaultConfig()
	dir := t.TempDir()
	sink := display.NewFileSink(filepath.Join(dir, "out.png"))

	r := testRunner(t, cfg, sink)

	if _, _, ok := r.LastResult(); ok {
		t.Fatal("LastResult must report no data before the first cycle")
	}

	if err := r.RenderNow(context.Background()); err != nil {
		t.Fatalf("RenderNow: %v", err)
	}

	f, err := os.Open(sink.Path)
	if err != nil {
		t.Fatalf("published file missing: %v", err)
	}
	defer f.Close()

	img, err := png.Decode(f)
	if err != nil {
		t.Fatalf("published file is not a valid PNG: %v", err)
	}
	if b := img.Bounds(); b.Dx() != cfg.CanvasWidth || b.Dy() != cfg.CanvasHeight {
		t.Errorf("published canvas = %dx%d, want %dx%d", b.Dx(), b.Dy(), cfg.CanvasWidth, cfg.CanvasHeight)
	}

	// The temp file must not survive the rename.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 || entries[0].Name() != "out.png" {
		t.Errorf("output dir contains leftovers: %v", entries)
	}

	res, renderedAt, ok := r.LastResult()
	if !ok {
		t.Fatal("LastResult must report data after a successful cycle")
	}
	if len(res.Today) == 0 || len(res.Tomorrow) == 0 {
		t.Error("demo schedule should populate both columns")
	}
	if renderedAt.IsZero() {
		t.Error("renderedAt not recorded")
	}
}

// blockingSink stalls its first push until released, so a cycle can be held
// in flight while more triggers arrive.
type blockingSink struct {
	started chan struct{}
	release chan struct{}

	mu     sync.Mutex
	pushes int
}

func newBlockingSink() *blockingSink {
	return &blockingSink{
		started: make(chan struct{}),
		release: make(chan struct{}),
	}
}

func (s *blockingSink) Push(_ context.Context, _ image.Image) error {
	s.mu.Lock()
	s.pushes++
	first := s.pushes == 1
	s.mu.Unlock()

	if first {
		close(s.started)
		<-s.release
	}
	return nil
}

func (s *blockingSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pushes
}

func TestRenderNowCoalescesTriggers(t *testing.T) {
	sink := newBlockingSink()
	r := testRunner(t, config.DefaultConfig(), sink)

	done := make(chan error, 1)
	go func() {
		done <- r.RenderNow(context.Background())
	}()

	select {
	case <-sink.started:
	case <-time.After(5 * time.Second):
		t.Fatal("first cycle never reached the sink")
	}

	// A burst of triggers while the first cycle is stuck in the sink. Each
	// must return immediately without starting a second concurrent cycle.
	for i := 0; i < 3; i++ {
		if err := r.RenderNow(context.Background()); err != nil {
			t.Fatalf("coalesced trigger %d: %v", i, err)
		}
	}
	if got := sink.count(); got != 1 {
		t.Fatalf("second cycle started while first was in flight: %d pushes", got)
	}

	close(sink.release)
	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("RenderNow: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("cycle never finished")
	}

	// The whole burst collapses into exactly one follow-up cycle.
	if got := sink.count(); got != 2 {
		t.Errorf("pushes = %d, want 2 (initial + one coalesced)", got)
	}
}

func TestRenderFailureKeepsPreviousOutput(t *testing.T) {
	dir := t.TempDir()
	outPath := filepath.Join(dir, "out.png")
	sink := display.NewFileSink(outPath)

	good := testRunner(t, config.DefaultConfig(), sink)
	if err := good.RenderNow(context.Background()); err != nil {
		t.Fatalf("RenderNow: %v", err)
	}
	before, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}

	// A canvas too small for the configured fonts makes the render stage
	// fail. The cycle must abort without touching the published file.
	tiny := config.DefaultConfig()
	tiny.CanvasWidth = 40
	tiny.CanvasHeight = 30
	bad := testRunner(t, tiny, sink)

	if err := bad.RenderNow(context.Background()); err == nil {
		t.Fatal("expected render failure on tiny canvas")
	}
	if _, _, ok := bad.LastResult(); ok {
		t.Error("failed cycle must not record a result")
	}

	after, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(before, after) {
		t.Error("published file changed despite the render failure")
	}
}

package asset

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"
	"time"

	"github.com/datallboy/mediagrab/internal/engine"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/datallboy/mediagrab/internal/netclient"
)

func testClient() *netclient.Client {
	p := netclient.DefaultPolicy()
	p.Timeout = 2 * time.Second
	p.MinInterval = 0
	p.IntervalJitter = 0
	p.BackoffBase = time.Millisecond
	p.RotateProbability = 0
	return netclient.New(p, logger.NewCapture())
}

func newProcessor(workers, batch int) *Processor {
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	log := logger.NewCapture()
	ex := engine.NewExecutor(workers, log, engine.WithSleep(noSleep))
	return NewProcessor(testClient(), ex, log, Options{BatchSize: batch, DelayMin: time.Millisecond, DelayMax: 2 * time.Millisecond})
}

func imageServer(t *testing.T) *httptest.Server {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.URL.Path, "missing") {
			http.NotFound(w, r)
			return
		}
		w.Write([]byte("img:" + r.URL.Path))
	}))
	t.Cleanup(srv.Close)
	return srv
}

func TestProcessWritesNumberedFiles(t *testing.T) {
	srv := imageServer(t)
	dir := filepath.Join(t.TempDir(), "images")

	urls := []string{srv.URL + "/a.jpg", srv.URL + "/b.png", srv.URL + "/missing.jpg", srv.URL + "/c"}

	var hookRemaining [][]string
	p := newProcessor(3, 2)
	res, err := p.Process(context.Background(), urls, dir, func(remaining []string) error {
		hookRemaining = append(hookRemaining, remaining)
		return nil
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	if res.Written != 3 {
		t.Errorf("Expected 3 written, got %d", res.Written)
	}
	if len(res.Remaining) != 1 || res.Remaining[0] != srv.URL+"/missing.jpg" {
		t.Errorf("Expected the failed URL to remain, got %v", res.Remaining)
	}
	if len(hookRemaining) != 2 {
		t.Fatalf("Expected one hook call per batch, got %d", len(hookRemaining))
	}
	if len(hookRemaining[0]) != 2 {
		t.Errorf("after first batch Expected 2 remaining, got %v", hookRemaining[0])
	}

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	var names []string
	for _, e := range entries {
		names = append(names, strings.TrimSuffix(e.Name(), filepath.Ext(e.Name())))
	}
	sort.Strings(names)
	if fmt.Sprint(names) != "[0 1 2]" {
		t.Errorf("Expected indices 0..2, got %v", names)
	}
	if len(res.Files) != 3 {
		t.Errorf("Expected 3 file paths, got %v", res.Files)
	}

	// Extensionless URLs fall back to .jpg
	var sawPNG, sawJPG int
	for _, f := range res.Files {
		switch filepath.Ext(f) {
		case ".png":
			sawPNG++
		case ".jpg":
			sawJPG++
		}
	}
	if sawPNG != 1 || sawJPG != 2 {
		t.Errorf("unexpected extensions in %v", res.Files)
	}
}

func TestProcessContinuesNumbering(t *testing.T) {
	srv := imageServer(t)
	dir := t.TempDir()
	for _, name := range []string{"0.jpg", "1.jpg", "4.png", "notes.txt"} {
		os.WriteFile(filepath.Join(dir, name), []byte("old"), 0644)
	}

	p := newProcessor(1, 10)
	res, err := p.Process(context.Background(), []string{srv.URL + "/x.jpg"}, dir)
	if err != nil {
		t.Fatal(err)
	}
	if res.Written != 1 {
		t.Fatalf("Expected 1 written, got %d", res.Written)
	}
	if _, err := os.Stat(filepath.Join(dir, "5.jpg")); err != nil {
		t.Errorf("Expected new file numbered 5: %v", err)
	}
	old, _ := os.ReadFile(filepath.Join(dir, "0.jpg"))
	if string(old) != "old" {
		t.Error("existing file was overwritten")
	}
}

func TestProcessHookErrorStops(t *testing.T) {
	srv := imageServer(t)
	stop := errors.New("save failed")

	p := newProcessor(1, 1)
	_, err := p.Process(context.Background(), []string{srv.URL + "/1.jpg", srv.URL + "/2.jpg"}, t.TempDir(), func([]string) error {
		return stop
	})
	if !errors.Is(err, stop) {
		t.Fatalf("Expected hook error, got %v", err)
	}
}

func TestProcessEmpty(t *testing.T) {
	p := newProcessor(1, 1)
	res, err := p.Process(context.Background(), nil, filepath.Join(t.TempDir(), "never"))
	if err != nil || res.Written != 0 {
		t.Fatalf("Expected no-op, got %+v %v", res, err)
	}
}

func TestNextFreeIndex(t *testing.T) {
	dir := t.TempDir()
	if n := NextFreeIndex(dir); n != 0 {
		t.Errorf("Expected 0 for empty dir, got %d", n)
	}
	if n := NextFreeIndex(filepath.Join(dir, "nope")); n != 0 {
		t.Errorf("Expected 0 for missing dir, got %d", n)
	}
	os.WriteFile(filepath.Join(dir, "9.webp"), nil, 0644)
	os.WriteFile(filepath.Join(dir, "cover.jpg"), nil, 0644)
	if n := NextFreeIndex(dir); n != 10 {
		t.Errorf("Expected 10, got %d", n)
	}
}

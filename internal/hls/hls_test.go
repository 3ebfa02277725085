package hls

import (
	"bytes"
	"context"
	"crypto/aes"
	"crypto/cipher"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/engine"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/datallboy/mediagrab/internal/netclient"
)

var testKey = []byte("0123456789abcdef")

func encrypt(t *testing.T, key, iv, plain []byte) []byte {
	t.Helper()
	n := aes.BlockSize - len(plain)%aes.BlockSize
	padded := append(append([]byte{}, plain...), bytes.Repeat([]byte{byte(n)}, n)...)

	block, err := aes.NewCipher(key)
	if err != nil {
		t.Fatal(err)
	}
	out := make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(out, padded)
	return out
}

func segmentPayload(i int) []byte {
	return []byte(fmt.Sprintf("segment-%d-%s", i, strings.Repeat("x", 20+i)))
}

// streamServer serves /v/index.m3u8, /v/key.bin and /v/seg<i>.ts. Segments
// listed in broken always answer 404.
func streamServer(t *testing.T, segments int, broken map[int]bool) *httptest.Server {
	t.Helper()

	var m strings.Builder
	m.WriteString("#EXTM3U\n#EXT-X-VERSION:3\n#EXT-X-TARGETDURATION:10\n#EXT-X-MEDIA-SEQUENCE:0\n")
	m.WriteString("#EXT-X-KEY:METHOD=AES-128,URI=\"key.bin\"\n")
	for i := 0; i < segments; i++ {
		fmt.Fprintf(&m, "#EXTINF:10.0,\nseg%d.ts\n", i)
	}
	m.WriteString("#EXT-X-ENDLIST\n")
	manifest := m.String()

	mux := http.NewServeMux()
	mux.HandleFunc("/v/index.m3u8", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(manifest))
	})
	mux.HandleFunc("/v/key.bin", func(w http.ResponseWriter, r *http.Request) {
		w.Write(testKey)
	})
	for i := 0; i < segments; i++ {
		i := i
		body := encrypt(t, testKey, SequenceIV(uint64(i)), segmentPayload(i))
		mux.HandleFunc(fmt.Sprintf("/v/seg%d.ts", i), func(w http.ResponseWriter, r *http.Request) {
			if broken[i] {
				http.NotFound(w, r)
				return
			}
			w.Write(body)
		})
	}

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testClient() *netclient.Client {
	p := netclient.DefaultPolicy()
	p.Timeout = 2 * time.Second
	p.MinInterval = 0
	p.IntervalJitter = 0
	p.BackoffBase = time.Millisecond
	p.RotateProbability = 0
	p.RateLimitCooldown = netclient.Range{}
	p.ForbiddenCooldown = netclient.Range{}
	p.ServerErrorCooldown = netclient.Range{}
	return netclient.New(p, logger.NewCapture())
}

type fakeMuxer struct {
	mu    sync.Mutex
	calls []string
	parts map[string]string
	fail  bool
}

func (f *fakeMuxer) Mux(ctx context.Context, dir, partsFile, output string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	data, err := os.ReadFile(filepath.Join(dir, partsFile))
	if err != nil {
		return err
	}
	if f.parts == nil {
		f.parts = make(map[string]string)
	}
	f.parts[dir] = string(data)
	f.calls = append(f.calls, output)

	if f.fail {
		return errors.New("exit status 1")
	}

	// Concatenate like the real tool would
	var out []byte
	for _, line := range strings.Split(strings.TrimSpace(string(data)), "\n") {
		name := strings.TrimSuffix(strings.TrimPrefix(line, "file '"), "'")
		seg, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			return err
		}
		out = append(out, seg...)
	}
	return os.WriteFile(filepath.Join(dir, output), out, 0644)
}

func newProcessor(workers int, muxer Muxer, log logger.Reporter) *Processor {
	noSleep := func(ctx context.Context, d time.Duration) error { return ctx.Err() }
	ex := engine.NewExecutor(workers, log, engine.WithSleep(noSleep))
	return NewProcessor(testClient(), ex, muxer, log, Options{BatchSize: 2})
}

func TestProcessAllSegments(t *testing.T) {
	srv := streamServer(t, 5, nil)
	out := t.TempDir()
	muxer := &fakeMuxer{}
	log := logger.NewCapture()

	// Inspect the variant before cleanup runs
	var inspected bool
	p := newProcessor(1, muxer, log)
	res, err := p.Process(context.Background(), []domain.Variant{{URL: srv.URL + "/v/index.m3u8", Tag: "hd"}}, out, func(vr VariantResult) error {
		inspected = true
		for i := 0; i < 5; i++ {
			got, err := os.ReadFile(filepath.Join(vr.Dir, fmt.Sprintf("%d.ts", i)))
			if err != nil {
				t.Errorf("missing %d.ts: %v", i, err)
				continue
			}
			if !bytes.Equal(got, segmentPayload(i)) {
				t.Errorf("%d.ts: Expected %q, got %q", i, segmentPayload(i), got)
			}
		}
		if _, err := os.Stat(filepath.Join(vr.Dir, "5.ts")); err == nil {
			t.Error("unexpected 5.ts")
		}
		if _, err := os.Stat(filepath.Join(vr.Dir, ManifestFile)); err != nil {
			t.Errorf("manifest not persisted: %v", err)
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if !inspected {
		t.Fatal("variant hook never ran")
	}

	vr := res.Variants[0]
	if vr.Err != nil {
		t.Fatalf("variant aborted: %v", vr.Err)
	}
	if vr.Segments != 5 || vr.Written != 5 {
		t.Errorf("Expected 5/5 segments, got %d/%d", vr.Written, vr.Segments)
	}

	wantParts := "file '0.ts'\nfile '1.ts'\nfile '2.ts'\nfile '3.ts'\nfile '4.ts'\n"
	if got := muxer.parts[vr.Dir]; got != wantParts {
		t.Errorf("Expected parts list %q, got %q", wantParts, got)
	}
	if len(muxer.calls) != 1 || muxer.calls[0] != "variant_1_hd.mp4" {
		t.Errorf("unexpected mux calls %v", muxer.calls)
	}

	video, err := os.ReadFile(vr.Output)
	if err != nil {
		t.Fatalf("muxed output missing: %v", err)
	}
	var want []byte
	for i := 0; i < 5; i++ {
		want = append(want, segmentPayload(i)...)
	}
	if !bytes.Equal(video, want) {
		t.Error("muxed output does not match segment order")
	}

	// Cleanup leaves only the deliverable
	entries, _ := os.ReadDir(vr.Dir)
	if len(entries) != 1 || entries[0].Name() != "variant_1_hd.mp4" {
		var names []string
		for _, e := range entries {
			names = append(names, e.Name())
		}
		t.Errorf("Expected only the mp4 after cleanup, got %v", names)
	}
}

func TestProcessSegmentPermanentFailureKeepsNumberingGapless(t *testing.T) {
	srv := streamServer(t, 5, map[int]bool{2: true})
	out := t.TempDir()
	muxer := &fakeMuxer{}

	p := newProcessor(1, muxer, logger.NewCapture())
	res, err := p.Process(context.Background(), []domain.Variant{{URL: srv.URL + "/v/index.m3u8", Tag: "sd"}}, out, func(vr VariantResult) error {
		for i, seg := range []int{0, 1, 3, 4} {
			got, err := os.ReadFile(filepath.Join(vr.Dir, fmt.Sprintf("%d.ts", i)))
			if err != nil {
				t.Errorf("missing %d.ts: %v", i, err)
				continue
			}
			if !bytes.Equal(got, segmentPayload(seg)) {
				t.Errorf("%d.ts should hold segment %d", i, seg)
			}
		}
		if _, err := os.Stat(filepath.Join(vr.Dir, "4.ts")); err == nil {
			t.Error("Expected exactly four segment files")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}

	vr := res.Variants[0]
	if vr.Err != nil {
		t.Fatalf("a missing segment must not abort the variant: %v", vr.Err)
	}
	if vr.Written != 4 {
		t.Errorf("Expected 4 written segments, got %d", vr.Written)
	}
	wantParts := "file '0.ts'\nfile '1.ts'\nfile '2.ts'\nfile '3.ts'\n"
	if got := muxer.parts[vr.Dir]; got != wantParts {
		t.Errorf("Expected parts list %q, got %q", wantParts, got)
	}
}

func TestProcessConcurrentWorkersGapless(t *testing.T) {
	srv := streamServer(t, 12, map[int]bool{3: true, 7: true})
	out := t.TempDir()
	muxer := &fakeMuxer{}

	p := newProcessor(4, muxer, logger.NewCapture())
	res, err := p.Process(context.Background(), []domain.Variant{{URL: srv.URL + "/v/index.m3u8", Tag: "hd"}}, out, func(vr VariantResult) error {
		seen := make(map[string]bool)
		for i := 0; i < 10; i++ {
			data, err := os.ReadFile(filepath.Join(vr.Dir, fmt.Sprintf("%d.ts", i)))
			if err != nil {
				t.Errorf("missing %d.ts: %v", i, err)
				continue
			}
			seen[string(data)] = true
		}
		if len(seen) != 10 {
			t.Errorf("Expected 10 distinct segments, got %d", len(seen))
		}
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if res.Variants[0].Written != 10 {
		t.Errorf("Expected 10 written, got %d", res.Variants[0].Written)
	}
}

func TestProcessAbortsOnlyBrokenVariant(t *testing.T) {
	good := streamServer(t, 3, nil)

	noKey := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXTINF:10.0,\nseg0.ts\n#EXT-X-ENDLIST\n"))
	}))
	defer noKey.Close()

	badKey := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, ".m3u8") {
			w.Write([]byte("#EXTM3U\n#EXT-X-TARGETDURATION:10\n#EXT-X-KEY:METHOD=AES-128,URI=\"/k\"\n#EXTINF:10.0,\nseg0.ts\n#EXT-X-ENDLIST\n"))
			return
		}
		http.NotFound(w, r)
	}))
	defer badKey.Close()

	variants := []domain.Variant{
		{URL: good.URL + "/missing.m3u8", Tag: "gone"},
		{URL: noKey.URL + "/plain/index.m3u8", Tag: "plain"},
		{URL: badKey.URL + "/x/index.m3u8", Tag: "nokey"},
		{URL: good.URL + "/v/index.m3u8", Tag: "ok"},
	}

	muxer := &fakeMuxer{}
	p := newProcessor(1, muxer, logger.NewCapture())
	res, err := p.Process(context.Background(), variants, t.TempDir())
	if err != nil {
		t.Fatalf("Process failed: %v", err)
	}
	if len(res.Variants) != 4 {
		t.Fatalf("Expected 4 results, got %d", len(res.Variants))
	}

	if !errors.Is(res.Variants[0].Err, domain.ErrPermanentFetch) {
		t.Errorf("manifest 404: Expected ErrPermanentFetch, got %v", res.Variants[0].Err)
	}
	if !errors.Is(res.Variants[1].Err, domain.ErrManifestStructure) {
		t.Errorf("no key directive: Expected ErrManifestStructure, got %v", res.Variants[1].Err)
	}
	if !errors.Is(res.Variants[2].Err, domain.ErrPermanentFetch) {
		t.Errorf("key 404: Expected ErrPermanentFetch, got %v", res.Variants[2].Err)
	}
	if res.Variants[3].Err != nil || res.Variants[3].Written != 3 {
		t.Errorf("good variant should complete, got %+v", res.Variants[3])
	}
	if res.Completed() != 1 {
		t.Errorf("Expected 1 completed variant, got %d", res.Completed())
	}
	if len(muxer.calls) != 1 {
		t.Errorf("Expected a single mux call, got %v", muxer.calls)
	}
}

func TestProcessMuxFailureIsLogged(t *testing.T) {
	srv := streamServer(t, 2, nil)
	log := logger.NewCapture()

	p := newProcessor(1, &fakeMuxer{fail: true}, log)
	res, err := p.Process(context.Background(), []domain.Variant{{URL: srv.URL + "/v/index.m3u8", Tag: "hd"}}, t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	if res.Variants[0].Err != nil {
		t.Errorf("mux failure must not be surfaced as a variant error, got %v", res.Variants[0].Err)
	}
	if res.Variants[0].Output != "" {
		t.Errorf("Expected no output path, got %s", res.Variants[0].Output)
	}
	if log.Count(logger.LevelError, "mux failed") != 1 {
		t.Error("Expected mux failure to be logged")
	}
}

func TestProcessHookErrorStops(t *testing.T) {
	srv := streamServer(t, 1, nil)
	stop := errors.New("checkpoint save failed")

	p := newProcessor(1, &fakeMuxer{}, logger.NewCapture())
	variants := []domain.Variant{
		{URL: srv.URL + "/v/index.m3u8", Tag: "a"},
		{URL: srv.URL + "/v/index.m3u8", Tag: "b"},
	}
	res, err := p.Process(context.Background(), variants, t.TempDir(), func(VariantResult) error { return stop })
	if !errors.Is(err, stop) {
		t.Fatalf("Expected hook error, got %v", err)
	}
	if len(res.Variants) != 1 {
		t.Errorf("Expected processing to stop after first variant, got %d", len(res.Variants))
	}
}

func TestPartsListSkipsUnwrittenIndices(t *testing.T) {
	dir := t.TempDir()
	os.WriteFile(filepath.Join(dir, "0.ts"), []byte("a"), 0644)
	os.WriteFile(filepath.Join(dir, "2.ts"), []byte("c"), 0644)
	// index 1 was issued but its rename failed onto a directory
	os.Mkdir(filepath.Join(dir, "1.ts"), 0755)

	listed, err := writePartsList(dir, 3)
	if err != nil {
		t.Fatal(err)
	}
	if listed != 2 {
		t.Errorf("Expected 2 listed segments, got %d", listed)
	}
	got, _ := os.ReadFile(filepath.Join(dir, PartsFile))
	if string(got) != "file '0.ts'\nfile '2.ts'\n" {
		t.Errorf("unexpected parts list %q", got)
	}
}

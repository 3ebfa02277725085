package hls

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/engine"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/datallboy/mediagrab/internal/netclient"
	"github.com/datallboy/mediagrab/internal/platform"
	"github.com/dustin/go-humanize"
)

const (
	ManifestFile = "media.m3u8"
	KeyFile      = "media.key"
	PartsFile    = "media.txt"
	SegmentExt   = ".ts"
)

// Fetcher is the network client as seen by the processors
type Fetcher interface {
	Fetch(ctx context.Context, url string) (*netclient.Response, error)
}

// Muxer reassembles the numbered segment files listed in partsFile
type Muxer interface {
	Mux(ctx context.Context, dir, partsFile, output string) error
}

// Observer receives per-segment and per-variant outcomes
type Observer interface {
	ObserveSegment(outcome string)
	ObserveVariant(outcome string)
	ObserveBatch(kind string)
}

type nopObserver struct{}

func (nopObserver) ObserveSegment(string) {}
func (nopObserver) ObserveVariant(string) {}
func (nopObserver) ObserveBatch(string)   {}

type Options struct {
	BatchSize       int
	SegmentDelayMin time.Duration
	SegmentDelayMax time.Duration
}

// VariantResult is the outcome of one variant. Err is set when the variant
// was aborted before producing any segment.
type VariantResult struct {
	Variant  domain.Variant
	Dir      string
	Segments int
	Written  int
	Bytes    uint64
	Output   string
	Err      error
}

type Result struct {
	Variants []VariantResult
}

// Completed counts variants that were not aborted
func (r Result) Completed() int {
	n := 0
	for _, v := range r.Variants {
		if v.Err == nil {
			n++
		}
	}
	return n
}

func (r Result) SegmentsWritten() int {
	n := 0
	for _, v := range r.Variants {
		n += v.Written
	}
	return n
}

// Outputs lists the muxed deliverables that exist on disk
func (r Result) Outputs() []string {
	var out []string
	for _, v := range r.Variants {
		if v.Output != "" {
			out = append(out, v.Output)
		}
	}
	return out
}

// VariantHook runs after each variant finishes. An error ends processing.
type VariantHook func(VariantResult) error

type Processor struct {
	fetcher  Fetcher
	exec     *engine.Executor
	muxer    Muxer
	log      logger.Reporter
	observer Observer
	opts     Options
}

func NewProcessor(fetcher Fetcher, exec *engine.Executor, muxer Muxer, log logger.Reporter, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 100
	}
	return &Processor{
		fetcher:  fetcher,
		exec:     exec,
		muxer:    muxer,
		log:      log,
		observer: nopObserver{},
		opts:     opts,
	}
}

func (p *Processor) SetObserver(o Observer) {
	if o != nil {
		p.observer = o
	}
}

// VariantDir is the working directory of the n-th variant (1-based)
func VariantDir(outDir string, n int, tag string) string {
	name := fmt.Sprintf("variant_%d_%s", n, platform.SanitizeName(tag))
	return filepath.Join(outDir, name)
}

// Process handles every variant independently, then removes the temporary
// artifacts of all of them.
func (p *Processor) Process(ctx context.Context, variants []domain.Variant, outDir string, hooks ...VariantHook) (Result, error) {
	var res Result

	defer func() {
		if removed := Cleanup(outDir, p.log); removed > 0 {
			p.log.Info("Cleanup removed %d temporary files", removed)
		}
	}()

	for i, v := range variants {
		if err := ctx.Err(); err != nil {
			return res, err
		}

		vr := p.ProcessVariant(ctx, i+1, v, outDir)
		res.Variants = append(res.Variants, vr)

		if vr.Err != nil {
			p.observer.ObserveVariant("aborted")
			p.log.Error("Variant %s aborted: %v", v.Tag, vr.Err)
		} else {
			p.observer.ObserveVariant("completed")
		}

		for _, hook := range hooks {
			if err := hook(vr); err != nil {
				return res, err
			}
		}
	}

	return res, nil
}

// ProcessVariant runs the manifest, key, segments, mux pipeline for one variant
func (p *Processor) ProcessVariant(ctx context.Context, n int, v domain.Variant, outDir string) VariantResult {
	dir := VariantDir(outDir, n, v.Tag)
	vr := VariantResult{Variant: v, Dir: dir}

	if err := os.MkdirAll(dir, 0755); err != nil {
		vr.Err = fmt.Errorf("%w: create variant dir: %v", domain.ErrFilesystem, err)
		return vr
	}

	p.log.Info("Variant %s: fetching manifest %s", v.Tag, v.URL)
	resp, err := p.fetcher.Fetch(ctx, v.URL)
	if err != nil {
		vr.Err = fmt.Errorf("manifest: %w", err)
		return vr
	}

	if err := os.WriteFile(filepath.Join(dir, ManifestFile), resp.Body, 0644); err != nil {
		p.log.Warn("Variant %s: could not persist manifest: %v", v.Tag, err)
	}

	manifest, err := ParseManifest(resp.Body, v.URL)
	if err != nil {
		vr.Err = err
		return vr
	}
	vr.Segments = len(manifest.Segments)

	keyResp, err := p.fetcher.Fetch(ctx, manifest.KeyURI)
	if err != nil {
		vr.Err = fmt.Errorf("key: %w", err)
		return vr
	}
	key := keyResp.Body
	if len(key) != 16 {
		vr.Err = fmt.Errorf("%w: key is %d bytes, want 16", domain.ErrManifestStructure, len(key))
		return vr
	}
	if err := os.WriteFile(filepath.Join(dir, KeyFile), key, 0600); err != nil {
		p.log.Warn("Variant %s: could not persist key: %v", v.Tag, err)
	}

	p.log.Info("Variant %s: %d segments", v.Tag, len(manifest.Segments))

	p.exec.ResetIndex(0)
	var written atomic.Uint64
	batchDone := func(engine.Report) error {
		p.observer.ObserveBatch("segment")
		return nil
	}
	report, err := engine.Run(ctx, p.exec, manifest.Segments, p.segmentFunc(dir, key, manifest.IV, &written), p.opts.BatchSize, "seg "+v.Tag, batchDone)
	vr.Written = p.exec.Issued()
	vr.Bytes = written.Load()
	if err != nil {
		vr.Err = err
		return vr
	}

	if report.Failed > 0 {
		p.log.Warn("Variant %s: %d of %d segments missing", v.Tag, report.Failed, len(manifest.Segments))
	}

	listed, err := writePartsList(dir, vr.Written)
	if err != nil {
		p.log.Error("Variant %s: %v", v.Tag, err)
		return vr
	}
	if listed < vr.Written {
		p.log.Warn("Variant %s: %d numbered segments missing on disk", v.Tag, vr.Written-listed)
		vr.Written = listed
	}

	if vr.Written == 0 {
		vr.Err = fmt.Errorf("%w: no segment could be downloaded", domain.ErrPermanentFetch)
		return vr
	}

	output := filepath.Base(dir) + ".mp4"
	if err := p.muxer.Mux(ctx, dir, PartsFile, output); err != nil {
		// Mux failures are reported, the segments remain the variant's result
		p.log.Error("Variant %s: mux failed: %v", v.Tag, err)
		return vr
	}

	vr.Output = filepath.Join(dir, output)
	p.log.Info("Variant %s: wrote %s (%d segments, %s)", v.Tag, vr.Output, vr.Written, humanize.Bytes(vr.Bytes))
	return vr
}

func (p *Processor) segmentFunc(dir string, key, iv []byte, written *atomic.Uint64) engine.Func[Segment] {
	return func(ctx context.Context, seg Segment) error {
		if d := p.exec.Between(p.opts.SegmentDelayMin, p.opts.SegmentDelayMax); d > 0 {
			if err := p.exec.Sleep(ctx, d); err != nil {
				return err
			}
		}

		resp, err := p.fetcher.Fetch(ctx, seg.Target.URL)
		if err != nil {
			p.observer.ObserveSegment("fetch_failed")
			return err
		}

		segIV := iv
		if segIV == nil {
			segIV = SequenceIV(seg.Sequence)
		}

		plain, err := DecryptSegment(key, segIV, resp.Body)
		if err != nil {
			p.observer.ObserveSegment("decrypt_failed")
			return fmt.Errorf("segment %d: %w", seg.Sequence, err)
		}

		if _, err := p.exec.WriteIndexed(dir, SegmentExt, plain); err != nil {
			p.observer.ObserveSegment("write_failed")
			return err
		}

		written.Add(uint64(len(plain)))
		p.observer.ObserveSegment("written")
		return nil
	}
}

// writePartsList lists 0..count-1 in order, skipping indices whose file never
// made it to disk, and returns how many entries it wrote.
func writePartsList(dir string, count int) (int, error) {
	var b strings.Builder
	listed := 0
	for i := 0; i < count; i++ {
		name := engine.IndexedName(i, SegmentExt)
		info, err := os.Stat(filepath.Join(dir, name))
		if err != nil || !info.Mode().IsRegular() {
			continue
		}
		fmt.Fprintf(&b, "file '%s'\n", name)
		listed++
	}
	if listed == 0 {
		return 0, nil
	}
	if err := os.WriteFile(filepath.Join(dir, PartsFile), []byte(b.String()), 0644); err != nil {
		return listed, fmt.Errorf("%w: write parts list: %v", domain.ErrFilesystem, err)
	}
	return listed, nil
}

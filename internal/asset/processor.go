package asset

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/engine"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/datallboy/mediagrab/internal/netclient"
	"github.com/dustin/go-humanize"
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*netclient.Response, error)
}

type Options struct {
	BatchSize  int
	DelayMin   time.Duration
	DelayMax   time.Duration
	DefaultExt string
}

type Result struct {
	Written   int
	Bytes     uint64
	Files     []string
	Remaining []string
}

// RemainingHook is called after every batch with the URLs not yet stored
type RemainingHook func(remaining []string) error

type Processor struct {
	fetcher Fetcher
	exec    *engine.Executor
	log     logger.Reporter
	opts    Options
}

func NewProcessor(fetcher Fetcher, exec *engine.Executor, log logger.Reporter, opts Options) *Processor {
	if opts.BatchSize <= 0 {
		opts.BatchSize = 50
	}
	if opts.DefaultExt == "" {
		opts.DefaultExt = ".jpg"
	}
	return &Processor{fetcher: fetcher, exec: exec, log: log, opts: opts}
}

// Process downloads every URL into dir as sequentially numbered files.
// Numbering continues after any numbered files already in dir.
func (p *Processor) Process(ctx context.Context, urls []string, dir string, hooks ...RemainingHook) (Result, error) {
	var res Result
	if len(urls) == 0 {
		return res, nil
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return res, fmt.Errorf("%w: create asset dir: %v", domain.ErrFilesystem, err)
	}

	start := NextFreeIndex(dir)
	p.exec.ResetIndex(start)
	if start > 0 {
		p.log.Info("Continuing asset numbering at %d", start)
	}

	targets := make([]domain.FetchTarget, len(urls))
	for i, u := range urls {
		targets[i] = domain.FetchTarget{URL: u, Role: domain.RoleAsset}
	}

	var bytesWritten atomic.Uint64
	fn := func(ctx context.Context, t domain.FetchTarget) error {
		if d := p.exec.Between(p.opts.DelayMin, p.opts.DelayMax); d > 0 {
			if err := p.exec.Sleep(ctx, d); err != nil {
				return err
			}
		}

		resp, err := p.fetcher.Fetch(ctx, t.URL)
		if err != nil {
			return err
		}

		if _, err := p.exec.WriteIndexed(dir, p.extFor(t.URL), resp.Body); err != nil {
			return err
		}
		bytesWritten.Add(uint64(len(resp.Body)))
		return nil
	}

	batchHook := func(r engine.Report) error {
		remaining := remainingAfter(urls, r.Done)
		for _, h := range hooks {
			if err := h(remaining); err != nil {
				return err
			}
		}
		return nil
	}

	report, err := engine.Run(ctx, p.exec, targets, fn, p.opts.BatchSize, "img", batchHook)
	res.Written = p.exec.Issued()
	res.Bytes = bytesWritten.Load()
	res.Remaining = remainingAfter(urls, report.Done)
	for i := start; i < start+res.Written; i++ {
		res.Files = append(res.Files, filepath.Join(dir, p.fileNameFor(i, dir)))
	}

	p.log.Info("Assets: %d/%d stored in %s (%s)", res.Written, len(urls), dir, humanize.Bytes(res.Bytes))
	return res, err
}

func (p *Processor) extFor(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return p.opts.DefaultExt
	}
	ext := strings.ToLower(path.Ext(u.Path))
	if ext == "" || len(ext) > 6 {
		return p.opts.DefaultExt
	}
	return ext
}

// fileNameFor finds the stored name of index i, whatever its extension
func (p *Processor) fileNameFor(i int, dir string) string {
	matches, _ := filepath.Glob(filepath.Join(dir, strconv.Itoa(i)+".*"))
	for _, m := range matches {
		if !strings.HasSuffix(m, ".part") {
			return filepath.Base(m)
		}
	}
	return engine.IndexedName(i, p.opts.DefaultExt)
}

func remainingAfter(urls []string, done []int) []string {
	ok := make(map[int]bool, len(done))
	for _, d := range done {
		ok[d] = true
	}
	out := make([]string, 0, len(urls)-len(done))
	for i, u := range urls {
		if !ok[i] {
			out = append(out, u)
		}
	}
	return out
}

// NextFreeIndex returns one past the highest <n>.<ext> file in dir
func NextFreeIndex(dir string) int {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0
	}
	next := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		stem := strings.TrimSuffix(name, filepath.Ext(name))
		n, err := strconv.Atoi(stem)
		if err != nil || n < 0 {
			continue
		}
		if n+1 > next {
			next = n + 1
		}
	}
	return next
}

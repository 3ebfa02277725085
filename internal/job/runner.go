package job

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/datallboy/mediagrab/internal/asset"
	"github.com/datallboy/mediagrab/internal/checkpoint"
	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/hls"
	"github.com/datallboy/mediagrab/internal/infra/logger"
	"github.com/datallboy/mediagrab/internal/platform"
	"github.com/segmentio/ksuid"
)

// ImagesDir holds images when the task also has video
const ImagesDir = "images"

// maxDirName keeps page directory names well under filesystem limits
const maxDirName = 96

var ErrNothingToDownload = errors.New("task has no stream variants and no images")

// History is the job ledger the runner reports into
type History interface {
	SaveJob(ctx context.Context, job *domain.JobRecord) error
	GetJob(ctx context.Context, id string) (*domain.JobRecord, error)
	ListJobs(ctx context.Context, limit int) ([]*domain.JobRecord, error)
}

// Publisher uploads finished deliverables found below root
type Publisher interface {
	Publish(ctx context.Context, root string, files []string) (int, error)
}

// Recorder receives job level measurements
type Recorder interface {
	ObserveBatch(kind string)
	AddBytes(n uint64)
	ObserveJob(status string, seconds float64)
}

type nopRecorder struct{}

func (nopRecorder) ObserveBatch(string)        {}
func (nopRecorder) AddBytes(uint64)            {}
func (nopRecorder) ObserveJob(string, float64) {}

type Options struct {
	OutDir       string
	AutoResume   bool
	MinFreeBytes uint64
}

type Runner struct {
	mu sync.Mutex

	streams   *hls.Processor
	assets    *asset.Processor
	history   History
	publisher Publisher
	recorder  Recorder
	confirmer checkpoint.Confirmer
	log       logger.Reporter
	opts      Options
	now       func() time.Time
}

type RunnerOption func(*Runner)

func WithPublisher(p Publisher) RunnerOption { return func(r *Runner) { r.publisher = p } }
func WithRecorder(rec Recorder) RunnerOption { return func(r *Runner) { r.recorder = rec } }
func WithConfirmer(c checkpoint.Confirmer) RunnerOption {
	return func(r *Runner) { r.confirmer = c }
}
func WithClock(now func() time.Time) RunnerOption { return func(r *Runner) { r.now = now } }

func NewRunner(streams *hls.Processor, assets *asset.Processor, history History, log logger.Reporter, opts Options, ropts ...RunnerOption) *Runner {
	r := &Runner{
		streams:   streams,
		assets:    assets,
		history:   history,
		recorder:  nopRecorder{},
		confirmer: checkpoint.NewStdinConfirmer(),
		log:       log,
		opts:      opts,
		now:       time.Now,
	}
	for _, opt := range ropts {
		opt(r)
	}
	return r
}

// NewRecord allocates a pending history entry for url
func (r *Runner) NewRecord(url string) *domain.JobRecord {
	return &domain.JobRecord{
		ID:        ksuid.New().String(),
		URL:       url,
		Status:    domain.StatusPending,
		StartedAt: r.now().UTC(),
	}
}

// Snapshot copies rec while no update is in flight
func (r *Runner) Snapshot(rec *domain.JobRecord) domain.JobRecord {
	r.mu.Lock()
	defer r.mu.Unlock()
	return *rec
}

// Run downloads everything in task into the output directory. Progress is
// checkpointed after every variant and every image batch; the checkpoint is
// removed only when no target is left. Only a failed checkpoint save or a
// cancelled context makes Run return an error.
func (r *Runner) Run(ctx context.Context, rec *domain.JobRecord, task domain.Task) error {
	start := r.now()
	outDir := TaskDir(r.opts.OutDir, task.URL)

	if err := os.MkdirAll(outDir, 0755); err != nil {
		return r.finalize(rec, start, fmt.Errorf("%w: create output dir: %v", domain.ErrFilesystem, err))
	}
	platform.CheckFreeSpace(outDir, r.opts.MinFreeBytes, r.log)

	// Layout follows the full task so a resumed run writes where the first one did
	imagesBeside := task.HasVideo()

	cps := checkpoint.NewStore(outDir, r.log, checkpoint.WithConfirmer(r.confirmer))
	resumed := false
	if cp, ok := cps.CheckAndResume(task.URL, r.opts.AutoResume); ok {
		task = domain.TaskFromCandidates(task.URL, cp.RemainingTargets)
		resumed = true
	}

	if !task.HasVideo() && !task.HasImage() {
		return r.finalize(rec, start, ErrNothingToDownload)
	}

	r.update(rec, func(j *domain.JobRecord) {
		j.Status = domain.StatusDownloading
		j.Resumed = resumed
		j.VariantsTotal = len(task.Variants)
		j.ImagesTotal = len(task.Images)
	})
	r.log.Info("Job %s: %d variants, %d images into %s (resumed: %v)", rec.ID, len(task.Variants), len(task.Images), outDir, resumed)

	left := newRemaining(task)
	save := func() error { return cps.Save(task.URL, left.candidates()) }
	if err := save(); err != nil {
		return r.finalize(rec, start, err)
	}

	var outputs []string

	if task.HasVideo() {
		res, err := r.streams.Process(ctx, task.Variants, outDir, func(vr hls.VariantResult) error {
			if vr.Err == nil {
				left.dropVariant(vr.Variant)
			}
			r.update(rec, func(j *domain.JobRecord) {
				if vr.Err == nil {
					j.VariantsDone++
				}
				j.SegmentsDone += vr.Written
			})
			r.recorder.AddBytes(vr.Bytes)
			return save()
		})
		outputs = append(outputs, res.Outputs()...)
		if err != nil {
			return r.finalize(rec, start, err)
		}
	}

	if task.HasImage() {
		dir := outDir
		if imagesBeside || task.HasVideo() {
			dir = filepath.Join(outDir, ImagesDir)
		}

		res, err := r.assets.Process(ctx, task.Images, dir, func(remaining []string) error {
			left.images = remaining
			r.update(rec, func(j *domain.JobRecord) {
				j.ImagesDone = j.ImagesTotal - len(remaining)
			})
			r.recorder.ObserveBatch("asset")
			return save()
		})
		r.recorder.AddBytes(res.Bytes)
		outputs = append(outputs, res.Files...)
		if err != nil {
			return r.finalize(rec, start, err)
		}
	}

	if n := len(left.candidates()); n == 0 {
		if err := cps.Delete(); err != nil {
			r.log.Warn("Could not remove checkpoint: %v", err)
		}
	} else {
		note := fmt.Sprintf("%d targets left for resume", n)
		r.update(rec, func(j *domain.JobRecord) { j.Error = note })
		r.log.Warn("Job %s: %s, checkpoint kept at %s", rec.ID, note, cps.Path())
	}

	if r.publisher != nil && len(outputs) > 0 {
		r.update(rec, func(j *domain.JobRecord) { j.Status = domain.StatusProcessing })
		// Keys are relative to the shared root so they keep the page directory
		n, err := r.publisher.Publish(ctx, r.opts.OutDir, outputs)
		if err != nil {
			r.log.Error("Publishing failed after %d uploads: %v", n, err)
		} else {
			r.log.Info("Published %d of %d deliverables", n, len(outputs))
		}
	}

	return r.finalize(rec, start, nil)
}

// TaskDir is the directory a page's downloads and checkpoint live in. It is
// derived from the page URL only, so a rerun of the same page resumes in place.
func TaskDir(root, pageURL string) string {
	name := pageURL
	if u, err := url.Parse(pageURL); err == nil && u.Host != "" {
		name = u.Host + strings.TrimRight(u.Path, "/")
		if u.RawQuery != "" {
			name += "_" + u.RawQuery
		}
	}
	name = platform.SanitizeName(name)

	if len(name) > maxDirName {
		sum := sha256.Sum256([]byte(pageURL))
		name = strings.ToValidUTF8(name[:maxDirName], "") + "_" + hex.EncodeToString(sum[:4])
	}
	return filepath.Join(root, name)
}

// update applies fn under the lock and persists the result
func (r *Runner) update(rec *domain.JobRecord, fn func(*domain.JobRecord)) {
	r.mu.Lock()
	fn(rec)
	snapshot := *rec
	r.mu.Unlock()

	// The job context may already be cancelled; history must still be written
	if err := r.history.SaveJob(context.Background(), &snapshot); err != nil {
		r.log.Warn("Could not record job %s: %v", snapshot.ID, err)
	}
}

func (r *Runner) finalize(rec *domain.JobRecord, start time.Time, err error) error {
	finished := r.now().UTC()

	r.update(rec, func(j *domain.JobRecord) {
		j.FinishedAt = &finished
		if err != nil {
			j.Status = domain.StatusFailed
			if errors.Is(err, context.Canceled) {
				j.Error = "Cancelled by user"
			} else {
				j.Error = err.Error()
			}
		} else {
			j.Status = domain.StatusCompleted
		}
	})

	snapshot := r.Snapshot(rec)
	r.recorder.ObserveJob(string(snapshot.Status), finished.Sub(start).Seconds())
	if err != nil {
		r.log.Error("Job %s failed: %v", rec.ID, err)
	} else {
		r.log.Info("Job %s completed in %s", rec.ID, finished.Sub(start).Truncate(time.Millisecond))
	}
	return err
}

// remaining tracks what would still have to be fetched on resume
type remaining struct {
	variants []domain.Variant
	images   []string
}

func newRemaining(task domain.Task) *remaining {
	return &remaining{
		variants: append([]domain.Variant(nil), task.Variants...),
		images:   append([]string(nil), task.Images...),
	}
}

func (r *remaining) dropVariant(v domain.Variant) {
	for i, cur := range r.variants {
		if cur == v {
			r.variants = append(r.variants[:i], r.variants[i+1:]...)
			return
		}
	}
}

func (r *remaining) candidates() []string {
	return domain.Task{Variants: r.variants, Images: r.images}.Candidates()
}

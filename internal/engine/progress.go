package engine

import (
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress is advanced once per successful item
type Progress interface {
	Begin(label string, total int)
	Advance(n int)
	AddBytes(n int64)
	End()
}

type NopProgress struct{}

func (NopProgress) Begin(string, int) {}
func (NopProgress) Advance(int)       {}
func (NopProgress) AddBytes(int64)    {}
func (NopProgress) End()              {}

// CLIProgress draws a single-line progress bar on w
type CLIProgress struct {
	mu        sync.Mutex
	w         io.Writer
	label     string
	total     int
	done      int
	bytes     int64
	startedAt time.Time
}

func NewCLIProgress(w io.Writer) *CLIProgress {
	return &CLIProgress{w: w}
}

func (p *CLIProgress) Begin(label string, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.label = label
	p.total = total
	p.done = 0
	p.bytes = 0
	p.startedAt = time.Now()
	p.render(false)
}

func (p *CLIProgress) Advance(n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.done += n
	p.render(false)
}

func (p *CLIProgress) AddBytes(n int64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.bytes += n
}

func (p *CLIProgress) End() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.render(true)
	fmt.Fprintln(p.w)
}

func (p *CLIProgress) render(final bool) {
	if p.total == 0 {
		return
	}

	elapsed := time.Since(p.startedAt)
	percent := float64(p.done) / float64(p.total) * 100

	etaStr := "calc..."
	if p.done > 0 && !final {
		perItem := elapsed / time.Duration(p.done)
		etaStr = (perItem * time.Duration(p.total-p.done)).Truncate(time.Second).String()
	}

	// Progress Bar go brrr [====>   ]
	const barWidth = 20
	completedWidth := int(percent / 100 * barWidth)
	bar := strings.Repeat("=", completedWidth)
	if completedWidth < barWidth {
		bar += ">" + strings.Repeat(" ", barWidth-completedWidth-1)
	}

	timeLabel := "ETA"
	if final {
		timeLabel = "Time"
		etaStr = elapsed.Truncate(time.Second).String()
	}

	// [Bar] 50% | seg 50/100 | 12 MB | ETA: 2m30s
	fmt.Fprintf(p.w, "\r[%s] %5.1f%% | %s %d/%d | %s | %s: %-7s      ",
		bar, percent, p.label, p.done, p.total, humanize.Bytes(uint64(p.bytes)), timeLabel, etaStr)
}

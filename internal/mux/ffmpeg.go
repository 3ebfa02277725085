package mux

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os/exec"
	"strings"

	"github.com/datallboy/mediagrab/internal/infra/logger"
)

type FFmpeg struct {
	BinaryPath string
	log        logger.Reporter
}

func NewFFmpeg(log logger.Reporter) (*FFmpeg, error) {
	path, err := exec.LookPath("ffmpeg")
	if err != nil {
		return nil, fmt.Errorf("ffmpeg binary not found in PATH: %w", err)
	}
	return &FFmpeg{BinaryPath: path, log: log}, nil
}

// NewFFmpegAt uses an explicit binary path
func NewFFmpegAt(path string, log logger.Reporter) *FFmpeg {
	return &FFmpeg{BinaryPath: path, log: log}
}

// Mux concatenates the files listed in partsFile into output without
// re-encoding. Both names are relative to dir.
func (f *FFmpeg) Mux(ctx context.Context, dir, partsFile, output string) error {
	// -y overwrite, concat demuxer, -safe 0 allows any file names, -c copy no transcode
	cmd := exec.CommandContext(ctx, f.BinaryPath,
		"-y", "-f", "concat", "-safe", "0", "-i", partsFile, "-c", "copy", output)
	cmd.Dir = dir

	pr, pw := io.Pipe()
	cmd.Stdout = pw
	cmd.Stderr = pw

	done := make(chan struct{})
	go func() {
		defer close(done)
		scanner := bufio.NewScanner(pr)
		for scanner.Scan() {
			if line := strings.TrimSpace(scanner.Text()); line != "" {
				f.log.Debug("[ffmpeg] %s", line)
			}
		}
		// Keep draining so ffmpeg never blocks on a full pipe
		_, _ = io.Copy(io.Discard, pr)
	}()

	err := cmd.Run()
	pw.Close()
	<-done

	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			return fmt.Errorf("ffmpeg exited with code %d", exitErr.ExitCode())
		}
		return fmt.Errorf("ffmpeg failed: %w", err)
	}
	return nil
}

// Unavailable stands in when no ffmpeg binary could be found. Every Mux call
// fails with Err, leaving the decrypted segments on disk.
type Unavailable struct {
	Err error
}

func (u Unavailable) Mux(ctx context.Context, dir, partsFile, output string) error {
	return fmt.Errorf("cannot mux %s: %w", output, u.Err)
}

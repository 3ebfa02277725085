package main

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/datallboy/mediagrab/internal/app"
	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/job"
	"github.com/spf13/cobra"
)

type downloadFlags struct {
	url        string
	streams    []string
	images     []string
	imagesFile string
	workers    int
	outDir     string
	autoResume bool
}

func newDownloadCmd() *cobra.Command {
	var f downloadFlags

	cmd := &cobra.Command{
		Use:   "download",
		Short: "Download the stream variants and images of one page",
		Example: `  mediagrab download --url https://site/watch/1 --stream 1080p=https://cdn/1080/index.m3u8
  mediagrab download --url https://site/gallery/2 --images-file urls.txt --workers 4`,
		RunE: func(cmd *cobra.Command, args []string) error {
			task, err := f.task()
			if err != nil {
				return err
			}

			a, err := bootstrap()
			if err != nil {
				return err
			}

			if cmd.Flags().Changed("workers") {
				a.Config.Download.Workers = f.workers
			}
			if cmd.Flags().Changed("out") {
				a.Config.Download.OutDir = f.outDir
			}
			if cmd.Flags().Changed("auto-resume") {
				a.Config.Download.AutoResume = f.autoResume
			}

			defer a.Close()
			if err := a.Build(cmd.Context(), app.BuildOptions{
				RequireMuxer: task.HasVideo(),
				Progress:     os.Stdout,
			}); err != nil {
				return err
			}

			rec := a.Runner.NewRecord(task.URL)
			if err := a.Runner.Run(cmd.Context(), rec, task); err != nil {
				return fmt.Errorf("download failed: %w", err)
			}

			done := a.Runner.Snapshot(rec)
			fmt.Printf("\nJob %s finished: %d/%d variants, %d segments, %d/%d images\n",
				done.ID, done.VariantsDone, done.VariantsTotal, done.SegmentsDone, done.ImagesDone, done.ImagesTotal)
			fmt.Printf("Saved to %s\n", job.TaskDir(a.Config.Download.OutDir, task.URL))
			if done.Error != "" {
				fmt.Printf("Note: %s (run again to resume)\n", done.Error)
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&f.url, "url", "", "page URL the candidates were found on (required)")
	cmd.Flags().StringArrayVar(&f.streams, "stream", nil, "stream variant as tag=manifest-url, repeatable")
	cmd.Flags().StringArrayVar(&f.images, "image", nil, "image URL, repeatable")
	cmd.Flags().StringVar(&f.imagesFile, "images-file", "", "file with one image URL per line")
	cmd.Flags().IntVarP(&f.workers, "workers", "w", 1, "concurrent fetches per batch")
	cmd.Flags().StringVarP(&f.outDir, "out", "o", "", "output directory")
	cmd.Flags().BoolVar(&f.autoResume, "auto-resume", false, "resume a matching checkpoint without asking")
	_ = cmd.MarkFlagRequired("url")

	return cmd
}

// task builds the locator output from the command line
func (f downloadFlags) task() (domain.Task, error) {
	task := domain.Task{URL: f.url}

	variants, err := parseStreams(f.streams)
	if err != nil {
		return task, err
	}
	task.Variants = variants
	task.Images = append(task.Images, f.images...)

	if f.imagesFile != "" {
		urls, err := readURLList(f.imagesFile)
		if err != nil {
			return task, err
		}
		task.Images = append(task.Images, urls...)
	}

	if !task.HasVideo() && !task.HasImage() {
		return task, fmt.Errorf("nothing to download: pass --stream, --image or --images-file")
	}
	return task, nil
}

// parseStreams accepts tag=url pairs. A bare URL gets the tag v<n>.
func parseStreams(raw []string) ([]domain.Variant, error) {
	var out []domain.Variant
	for i, s := range raw {
		s = strings.TrimSpace(s)
		tag, url, found := strings.Cut(s, "=")
		if !found || strings.Contains(tag, "://") {
			tag, url = fmt.Sprintf("v%d", i+1), s
		}
		if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
			return nil, fmt.Errorf("invalid --stream %q: want tag=https://.../index.m3u8", s)
		}
		out = append(out, domain.Variant{Tag: tag, URL: url})
	}
	return out, nil
}

func readURLList(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open images file: %w", err)
	}
	defer file.Close()

	var urls []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		urls = append(urls, line)
	}
	return urls, scanner.Err()
}

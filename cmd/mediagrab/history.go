package main

import (
	"fmt"
	"io"
	"os"
	"text/tabwriter"

	"github.com/datallboy/mediagrab/internal/domain"
	"github.com/datallboy/mediagrab/internal/store"
	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
)

func newHistoryCmd() *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "List recent download jobs",
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := bootstrap()
			if err != nil {
				return err
			}

			s, err := store.Open(a.Config.Store)
			if err != nil {
				return err
			}
			defer s.Close()

			jobs, err := s.ListJobs(cmd.Context(), limit)
			if err != nil {
				return err
			}
			printJobs(os.Stdout, jobs)
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of jobs to show")
	return cmd
}

func printJobs(out io.Writer, jobs []*domain.JobRecord) {
	if len(jobs) == 0 {
		fmt.Fprintln(out, "No jobs recorded yet.")
		return
	}

	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tVARIANTS\tIMAGES\tSTARTED\tURL\tNOTE")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%d/%d\t%d/%d\t%s\t%s\t%s\n",
			j.ID, j.Status, j.VariantsDone, j.VariantsTotal, j.ImagesDone, j.ImagesTotal,
			humanize.Time(j.StartedAt), j.URL, j.Error)
	}
	w.Flush()
}

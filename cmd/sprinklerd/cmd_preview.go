package main

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"sprinklerd/internal/app"
	logx "sprinklerd/pkg/logx"
)

var previewHours int

var previewCmd = &cobra.Command{
	Use:   "preview",
	Short: "Print the predicted schedule without driving outputs",
	Args:  cobra.NoArgs,
	RunE:  runPreview,
}

func init() {
	previewCmd.Flags().IntVar(&previewHours, "hours", 24, "length of the preview window")
}

func runPreview(cmd *cobra.Command, _ []string) error {
	if previewHours <= 0 {
		return fmt.Errorf("--hours must be > 0")
	}
	log := logx.NewConsole("warn")
	recs, err := app.Preview(cmd.Context(), cfgPath, time.Duration(previewHours)*time.Hour, log)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "STATION\tSTART\tEND\tPROGRAM\tBLOCKED")
	for _, r := range recs {
		blocked := "-"
		if r.IsBlocked() {
			blocked = r.Blocked
		}
		fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%s\n",
			r.Station,
			r.Start.Format("2006-01-02 15:04"),
			r.End.Format("2006-01-02 15:04"),
			r.ProgramName,
			blocked,
		)
	}
	return w.Flush()
}

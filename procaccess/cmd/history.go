package cmd

import (
	"fmt"
	"math"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/sarchlab/procaccess/datarecording"
)

var historyCmd = &cobra.Command{
	Use:   "history <recording.sqlite3>",
	Short: "List the requests and transfers of a recording.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		transfers, _ := cmd.Flags().GetBool("transfers")

		var filter datarecording.HistoryFilter
		filter.Limit, _ = cmd.Flags().GetInt("limit")
		filter.Session, _ = cmd.Flags().GetString("session")
		filter.Processor, _ = cmd.Flags().GetString("processor")
		filter.Kind, _ = cmd.Flags().GetString("kind")

		reader, err := datarecording.NewReader(args[0])
		if err != nil {
			return err
		}
		defer reader.Close()

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		defer w.Flush()

		if transfers {
			entries, err := datarecording.Transfers(cmd.Context(), reader, filter)
			if err != nil {
				return err
			}

			fmt.Fprintln(w, "TIME\tPROCESSOR\tKIND\tBYTES\tPATH")
			for _, e := range entries {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%s\n",
					formatTime(e.Time), e.Processor, e.Kind, e.Bytes, e.Path)
			}

			return nil
		}

		entries, err := datarecording.Requests(cmd.Context(), reader, filter)
		if err != nil {
			return err
		}

		fmt.Fprintln(w, "START\tSESSION\tPROCESSOR\tKIND\tOUTCOME\tMS\tMESSAGE")
		for _, e := range entries {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%.1f\t%s\n",
				formatTime(e.StartTime), e.Session, e.Processor, e.Kind,
				e.Outcome, e.DurationMS, e.Message)
		}

		return nil
	},
}

func init() {
	historyCmd.Flags().Int("limit", 50, "number of entries to list, 0 for all")
	historyCmd.Flags().String("session", "", "only list entries of this session")
	historyCmd.Flags().String("processor", "",
		`only list entries of this processor, e.g. "processor(1, 1)"`)
	historyCmd.Flags().String("kind", "", "only list entries of this request type")
	historyCmd.Flags().Bool("transfers", false, "list transfers instead")

	rootCmd.AddCommand(historyCmd)
}

func formatTime(seconds float64) string {
	t := time.UnixMicro(int64(math.Round(seconds * 1e6)))
	return t.Format("2006-01-02 15:04:05.000")
}

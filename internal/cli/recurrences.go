package cli

import (
	"fmt"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"github.com/yukikurage/task-hierarchy-api/internal/constants"
	"github.com/yukikurage/task-hierarchy-api/internal/models"
)

var upcomingDays int

var recurrencesCmd = &cobra.Command{
	Use:   "recurrences",
	Short: "Inspect and advance recurring tasks",
}

var upcomingCmd = &cobra.Command{
	Use:   "upcoming",
	Short: "List recurring tasks whose next occurrence is within --days",
	Args:  cobra.NoArgs,
	RunE:  runUpcoming,
}

var advanceCmd = &cobra.Command{
	Use:   "advance",
	Short: "Advance every recurring task whose next occurrence has passed",
	Long: `Advance every recurring task whose next occurrence is due.

There is no in-process scheduler: run this command periodically, e.g. from
cron, to roll recurring tasks forward.`,
	Args: cobra.NoArgs,
	RunE: runAdvance,
}

func init() {
	upcomingCmd.Flags().IntVar(&upcomingDays, "days", constants.DefaultUpcomingDays, "look-ahead window in days")

	recurrencesCmd.AddCommand(upcomingCmd)
	recurrencesCmd.AddCommand(advanceCmd)
}

func runUpcoming(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	tasks, err := a.service.GetUpcomingRecurrences(cmd.Context(), upcomingDays)
	if err != nil {
		return err
	}

	if len(tasks) == 0 {
		cmd.Printf("No recurring tasks in the next %d days\n", upcomingDays)
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTITLE\tRULE\tNEXT")
	for _, t := range tasks {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", t.ID, t.Title, t.Recurrence, formatNext(t))
	}
	return w.Flush()
}

func runAdvance(cmd *cobra.Command, args []string) error {
	a, err := newApp()
	if err != nil {
		return err
	}
	defer a.Close()

	advanced, err := a.service.AdvanceDueRecurrences(cmd.Context())
	if err != nil {
		return err
	}

	a.log.Info("recurrences advanced", "count", advanced)
	cmd.Printf("Advanced %d recurring task(s)\n", advanced)
	return nil
}

func formatNext(t models.Task) string {
	if t.NextOccurrence == nil {
		return "-"
	}
	return t.NextOccurrence.UTC().Format(time.RFC3339)
}

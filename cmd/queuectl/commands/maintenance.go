package commands

import (
	"fmt"
	"io"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/kiranshivaraju/booktranslator/internal/queue"
	"github.com/kiranshivaraju/booktranslator/pkg/models"
)

var (
	listStatus string
	listSource string
	listLimit  int
)

var resetCmd = &cobra.Command{
	Use:   "reset <submission-id>",
	Short: "Return a failed submission to pending",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := uuid.Parse(args[0])
		if err != nil {
			return fmt.Errorf("invalid submission id: %w", err)
		}

		ctx, cancel := commandContext(cmd)
		defer cancel()
		manager, _, closeFn, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		if err := manager.Reset(ctx, id); err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Submission %s is pending again\n", id)
		return nil
	},
}

var reconcileCmd = &cobra.Command{
	Use:   "reconcile",
	Short: "Requeue submissions stuck in translating",
	Long: `Returns submissions that have been translating for longer than JOB_STALE_AFTER
to pending and fails their abandoned records. Run it only while no server is
processing jobs, or rely on the reconciliation every server performs at startup.`,
	Args: cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		manager, _, closeFn, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		n, err := manager.Reconcile(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(cmd.OutOrStdout(), "Requeued %d stale submissions\n", n)
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List queued submissions by priority",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, cancel := commandContext(cmd)
		defer cancel()
		manager, _, closeFn, err := openQueue(ctx)
		if err != nil {
			return err
		}
		defer closeFn()

		subs, err := manager.List(ctx, queue.Filter{Status: listStatus, Origin: listSource, Limit: listLimit})
		if err != nil {
			return err
		}
		writeSubmissions(cmd.OutOrStdout(), subs)
		return nil
	},
}

func init() {
	listCmd.Flags().StringVar(&listStatus, "status", "", "only this status (pending, translating, completed, failed)")
	listCmd.Flags().StringVar(&listSource, "source", "", "only this origin (crawled, operator_upload, user_request)")
	listCmd.Flags().IntVar(&listLimit, "limit", 50, "maximum rows")

	rootCmd.AddCommand(resetCmd, reconcileCmd, listCmd)
}

func writeSubmissions(out io.Writer, subs []*models.Submission) {
	w := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tSTATUS\tPRIORITY\tORIGIN\tTITLE\tCREATED")
	for _, s := range subs {
		title := []rune(s.Title)
		if len(title) > 48 {
			title = append(title[:47], '…')
		}
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\t%s\t%s\n",
			s.ID, s.Status, s.Priority, s.Origin, string(title), s.CreatedAt.Format("2006-01-02 15:04"))
	}
	w.Flush()
}

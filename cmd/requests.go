package main

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/prismnews/research-engine/internal/model"
)

var requestsUser string

var requestsCmd = &cobra.Command{
	Use:   "requests",
	Short: "Show research request queue state",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := cfg.Validate("requests"); err != nil {
			return err
		}

		st, err := initStore(cmd.Context())
		if err != nil {
			return err
		}
		defer st.Close()

		statuses := []model.RequestStatus{
			model.StatusPending,
			model.StatusInProgress,
			model.StatusCompleted,
			model.StatusFailed,
		}

		fmt.Println("Queue:")
		for _, status := range statuses {
			n, err := st.CountRequestsByStatus(cmd.Context(), status)
			if err != nil {
				return eris.Wrapf(err, "count %s requests", status)
			}
			fmt.Printf("  %-12s %d\n", status, n)
		}

		if requestsUser == "" {
			return nil
		}

		requests, err := st.ListRequests(cmd.Context(), requestsUser)
		if err != nil {
			return eris.Wrap(err, "list requests")
		}

		tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(tw, "\nID\tSTATUS\tCREATED\tTITLE")
		for _, r := range requests {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
				r.ID, r.Status, r.CreatedAt.Format("2006-01-02 15:04"), r.Title)
		}
		return tw.Flush()
	},
}

func init() {
	requestsCmd.Flags().StringVar(&requestsUser, "user", "", "list requests for a specific user ID")
	rootCmd.AddCommand(requestsCmd)
}

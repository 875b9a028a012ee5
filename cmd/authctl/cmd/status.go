package cmd

import (
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the current session state",
	Long: `Verifies the stored token pair against the server and prints the result.
When the server is unreachable and the local token has not expired yet,
the session is reported in its tentative (locally decoded) state.`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		st := svc.CheckAuth(cmd.Context())
		printState(st)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

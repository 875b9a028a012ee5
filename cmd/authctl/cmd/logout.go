package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var logoutCmd = &cobra.Command{
	Use:   "logout",
	Short: "Clear the local session and revoke the refresh token",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		svc.SignOut(cmd.Context())

		// Отзыв на сервере выполняется best-effort в фоне; даём ему
		// короткое окно до выхода процесса.
		time.Sleep(500 * time.Millisecond)

		fmt.Println("signed out")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(logoutCmd)
}

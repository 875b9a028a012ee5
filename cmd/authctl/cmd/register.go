package cmd

import (
	"github.com/spf13/cobra"
)

var (
	registerEmail    string
	registerName     string
	registerPassword string
)

var registerCmd = &cobra.Command{
	Use:   "register",
	Short: "Create an account and sign in",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		password := registerPassword
		if password == "" {
			password, err = promptPassword()
			if err != nil {
				return err
			}
		}

		if err := svc.SignUp(cmd.Context(), registerEmail, registerName, password); err != nil {
			printState(svc.State())
			return err
		}

		printState(svc.State())
		return nil
	},
}

func init() {
	registerCmd.Flags().StringVar(&registerEmail, "email", "", "account email")
	registerCmd.Flags().StringVar(&registerName, "name", "", "display name")
	registerCmd.Flags().StringVar(&registerPassword, "password", "", "account password (prompted if omitted)")
	_ = registerCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(registerCmd)
}

package cmd

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	loginEmail    string
	loginPassword string
)

var loginCmd = &cobra.Command{
	Use:   "login",
	Short: "Sign in and store the token pair",
	RunE: func(cmd *cobra.Command, _ []string) error {
		svc, cleanup, err := openSession()
		if err != nil {
			return err
		}
		defer cleanup()

		password := loginPassword
		if password == "" {
			password, err = promptPassword()
			if err != nil {
				return err
			}
		}

		if err := svc.SignIn(cmd.Context(), loginEmail, password); err != nil {
			printState(svc.State())
			return err
		}

		printState(svc.State())
		return nil
	},
}

func init() {
	loginCmd.Flags().StringVar(&loginEmail, "email", "", "account email")
	loginCmd.Flags().StringVar(&loginPassword, "password", "", "account password (prompted if omitted)")
	_ = loginCmd.MarkFlagRequired("email")
	rootCmd.AddCommand(loginCmd)
}

func promptPassword() (string, error) {
	fmt.Fprint(os.Stderr, "password: ")
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

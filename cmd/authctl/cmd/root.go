// cmd — консольный клиент auth-сервиса.
//
// Все команды работают через pkg/session поверх общего файла токенов,
// поэтому authctl видит ту же сессию, что и остальные клиенты на машине,
// и наоборот: login из authctl подхватывается ими без перезапуска.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/pribylovaa/go-auth-session/pkg/authclient"
	"github.com/pribylovaa/go-auth-session/pkg/session"
	"github.com/pribylovaa/go-auth-session/pkg/tokenstore"
)

var (
	serverURL string
	tokenFile string
)

var rootCmd = &cobra.Command{
	Use:   "authctl",
	Short: "authctl is a command-line client for the auth service",
	Long: `Command-line client for the authentication service: register, login,
inspect the current session and logout. The token file is shared with other
local clients of the same service.`,
	SilenceUsage: true,
}

func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server",
		envOr("AUTH_SERVER_URL", "http://localhost:8080/api"),
		"base URL of the auth API")
	rootCmd.PersistentFlags().StringVar(&tokenFile, "token-file",
		envOr("AUTH_TOKEN_FILE", defaultTokenFile()),
		"path to the shared token file")
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func defaultTokenFile() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return "tokens.json"
	}
	return filepath.Join(dir, "auth-session", "tokens.json")
}

// openSession собирает стек клиента: хранилище токенов, HTTP-клиент, сессия.
// Закрытие — через возвращённую функцию.
func openSession() (*session.Service, func(), error) {
	store, err := tokenstore.Open(tokenFile)
	if err != nil {
		return nil, nil, fmt.Errorf("open token file: %w", err)
	}

	client := authclient.New(serverURL)
	svc := session.New(client, store)

	cleanup := func() {
		svc.Close()
		_ = store.Close()
	}

	return svc, cleanup, nil
}

// printState печатает состояние сессии в человекочитаемом виде.
func printState(st session.State) {
	fmt.Printf("phase: %s\n", st.Phase)
	if st.User != nil {
		fmt.Printf("user:  %s <%s>\n", st.User.Name, st.User.Email)
		fmt.Printf("id:    %s\n", st.User.ID)
		if !st.User.ExpiresAt.IsZero() {
			fmt.Printf("expires: %s\n", st.User.ExpiresAt.Local().Format("2006-01-02 15:04:05"))
		}
	}
	if st.Err != "" {
		fmt.Printf("error: %s\n", st.Err)
	}
}

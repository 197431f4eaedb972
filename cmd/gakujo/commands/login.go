package commands

import (
	"log/slog"

	"github.com/spf13/cobra"
)

func init() {
	rootCmd.AddCommand(loginCmd)
}

var loginCmd = &cobra.Command{
	Use:   "login <username> <password>",
	Short: "Logs in to the portal and stores the protected credentials for later syncs.",
	Args:  cobra.ExactArgs(2),
	Run: func(cmd *cobra.Command, args []string) {
		service, cleanup := setup(cmd.Context())
		defer cleanup()

		err := service.Login(cmd.Context(), args[0], args[1])
		if err != nil {
			fatal("login failed", err)
		}
		slog.Info("logged in", "student", service.Account().StudentName)
	},
}

package cli

import (
	"github.com/spf13/cobra"

	"kumascript/internal/app"
)

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP rendering service",
		Long: `Run the HTTP rendering service until interrupted.

Configuration is read from the environment and an optional .env file.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.Run()
		},
	}
}

package cli

import (
	"os"

	"github.com/spf13/cobra"

	"ragctx/internal/app"
)

func newServeCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP and MCP API, and consume ingestion triggers when enabled",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), os.Stdout, app.BootstrapOptions{Messaging: true})
			if err != nil {
				return err
			}
			defer s.Close()
			return s.app.Run(cmd.Context())
		},
	}
}

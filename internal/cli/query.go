package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"ragctx/internal/app"
	"ragctx/internal/retrieval"
)

func newQueryCommand() *cobra.Command {
	var (
		k      int
		prompt bool
	)
	cmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Retrieve the passages most similar to a question",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := open(cmd.Context(), os.Stderr, app.BootstrapOptions{})
			if err != nil {
				return err
			}
			defer s.Close()

			opts := &retrieval.QueryOptions{}
			if cmd.Flags().Changed("limit") {
				opts.Limit = &k
			}
			result, err := s.app.Retrieval.Query(cmd.Context(), strings.Join(args, " "), opts)
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if prompt {
				_, err = fmt.Fprint(out, retrieval.FormatPrompt(result))
				return err
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			return enc.Encode(result)
		},
	}
	cmd.Flags().IntVarP(&k, "limit", "k", 0, "number of passages (default DEFAULT_K)")
	cmd.Flags().BoolVar(&prompt, "prompt", false, "print the grounding prompt instead of JSON")
	return cmd
}

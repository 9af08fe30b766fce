package cli

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"ragctx/internal/app"
	"ragctx/internal/ingest"
	"ragctx/internal/manifest"
	"ragctx/internal/worker"
)

type runFlags struct {
	root    string
	mapping string
	resume  bool
}

func (f *runFlags) bind(cmd *cobra.Command, resumable bool) {
	cmd.Flags().StringVar(&f.root, "root", "", "corpus root directory (default CORPUS_ROOT)")
	cmd.Flags().StringVar(&f.mapping, "mapping", "", "URL mapping file (default URL_MAPPING_PATH or <root>/url_mapping.json)")
	if resumable {
		cmd.Flags().BoolVar(&f.resume, "resume", false, "skip chunks indexed by earlier runs")
	}
}

func (f *runFlags) request(s *session) worker.RunRequest {
	req := worker.RunRequest{
		Root:        s.cfg.CorpusRoot,
		MappingPath: s.cfg.URLMappingPath,
		Resume:      f.resume || s.cfg.ResumeRuns,
	}
	if f.root != "" {
		req.Root = f.root
		req.MappingPath = ""
	}
	if f.mapping != "" {
		req.MappingPath = f.mapping
	}
	return req
}

type runFunc func(p *ingest.Pipeline, ctx context.Context, req worker.RunRequest) (*manifest.Run, error)

func runCommand(cmd *cobra.Command, f *runFlags, fn runFunc) error {
	s, err := open(cmd.Context(), os.Stderr, app.BootstrapOptions{})
	if err != nil {
		return err
	}
	defer s.Close()

	run, err := fn(s.app.Pipeline, cmd.Context(), f.request(s))
	if run != nil {
		if werr := ingest.WriteSummary(cmd.OutOrStdout(), run); werr != nil && err == nil {
			err = werr
		}
	}
	return err
}

func newIngestCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "ingest",
		Short: "Run one ingestion pass over the corpus and print its summary",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, &f, (*ingest.Pipeline).Run)
		},
	}
	f.bind(cmd, true)
	return cmd
}

func newReindexCommand() *cobra.Command {
	var f runFlags
	cmd := &cobra.Command{
		Use:   "reindex",
		Short: "Drop the collection and its embedding stamp, then ingest from scratch",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCommand(cmd, &f, (*ingest.Pipeline).Reindex)
		},
	}
	f.bind(cmd, false)
	return cmd
}

// cmd/batch.go
package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gopkg.in/yaml.v3"

	"github.com/xkilldash9x/atlas-cli/api/schemas"
	"github.com/xkilldash9x/atlas-cli/internal/agent"
	"github.com/xkilldash9x/atlas-cli/internal/observability"
)

// batchFile is the YAML document read by `atlas batch`.
type batchFile struct {
	Concurrency int                `yaml:"concurrency"`
	Runs        []agent.RunRequest `yaml:"runs"`
}

// batchResult pairs a request with its report or start error.
type batchResult struct {
	Request agent.RunRequest `json:"-"`
	Report  *sessionReport   `json:"report,omitempty"`
	Error   string           `json:"error,omitempty"`
}

func loadBatchFile(path string) (batchFile, error) {
	var bf batchFile
	f, err := os.Open(path)
	if err != nil {
		return bf, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&bf); err != nil && !errors.Is(err, io.EOF) {
		return bf, fmt.Errorf("failed to parse batch file %s: %w", path, err)
	}
	if len(bf.Runs) == 0 {
		return bf, fmt.Errorf("batch file %s defines no runs", path)
	}
	return bf, nil
}

func newBatchCmd() *cobra.Command {
	var (
		concurrency int
		headed      bool
		asJSON      bool
	)

	batchCmd := &cobra.Command{
		Use:   "batch FILE",
		Short: "Run the sessions listed in a YAML file concurrently",
		Long: `Runs every entry under "runs" in FILE. Each entry takes url, goals,
max_steps and an optional profile. No operator is attached, so a session
that pauses for a human is stopped.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := configFrom(cmd.Context())
			if err != nil {
				return err
			}
			bf, err := loadBatchFile(args[0])
			if err != nil {
				return err
			}
			if headed {
				cfg.SetBrowserHeadless(false)
			}
			if concurrency <= 0 {
				concurrency = bf.Concurrency
			}
			if concurrency <= 0 {
				concurrency = 2
			}

			ctx := cmd.Context()
			logger := observability.GetLogger()
			logger.Info("Starting batch.", zap.Int("runs", len(bf.Runs)), zap.Int("concurrency", concurrency))

			comps, err := buildComponents(ctx, cfg, logger)
			if err != nil {
				return err
			}
			defer func() { _ = comps.shutdown() }()

			results, err := runBatch(ctx, comps.manager, bf.Runs, concurrency)
			if err != nil {
				return err
			}
			return writeBatch(cmd.OutOrStdout(), results, asJSON)
		},
	}

	batchCmd.Flags().IntVarP(&concurrency, "concurrency", "j", 0, "sessions run at once (default from file, else 2)")
	batchCmd.Flags().BoolVar(&headed, "headed", false, "show the browser windows")
	batchCmd.Flags().BoolVar(&asJSON, "json", false, "print the reports as a JSON array")
	return batchCmd
}

// runBatch runs reqs with at most limit sessions in flight. A session that
// fails to start is recorded in its result and does not stop the others.
func runBatch(ctx context.Context, m sessionDriver, reqs []agent.RunRequest, limit int) ([]batchResult, error) {
	results := make([]batchResult, len(reqs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(limit)

	for i, req := range reqs {
		results[i].Request = req
		g.Go(func() error {
			// No operator is attached, so a pause ends the run.
			report, err := runSession(gctx, m, req, eofReader{}, io.Discard)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				results[i].Error = err.Error()
				return nil
			}
			results[i].Report = &report
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}

// eofReader answers every prompt with end of input.
type eofReader struct{}

func (eofReader) Read([]byte) (int, error) { return 0, io.EOF }

func writeBatch(w io.Writer, results []batchResult, asJSON bool) error {
	if asJSON {
		return writeJSON(w, results)
	}
	var failed int
	for i, r := range results {
		if i > 0 {
			fmt.Fprintln(w)
		}
		if r.Report == nil {
			failed++
			fmt.Fprintf(w, "Run %d (%s) did not start: %s\n", i+1, r.Request.URL, r.Error)
			continue
		}
		if r.Report.Status == schemas.StatusFailed {
			failed++
		}
		if err := writeTable(w, *r.Report); err != nil {
			return err
		}
	}
	fmt.Fprintf(w, "\nBatch finished: %d runs, %d failed\n", len(results), failed)
	return nil
}

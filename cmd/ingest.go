package main

import (
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/sells-group/leadpipe/internal/discovery"
	"github.com/sells-group/leadpipe/internal/export"
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Search, deduplicate and upsert leads for niche and location pairs",
	Example: `  leadpipe ingest --niche dentist --niche "pet groomer" --location "Austin, TX"
  leadpipe ingest --file batch.yaml --dry-run --out leads.xlsx`,
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		if err := cfg.Validate("ingest"); err != nil {
			return err
		}

		file, _ := cmd.Flags().GetString("file")
		niches, _ := cmd.Flags().GetStringSlice("niche")
		locations, _ := cmd.Flags().GetStringSlice("location")
		maxPerPair, _ := cmd.Flags().GetInt("max")
		dryRun, _ := cmd.Flags().GetBool("dry-run")
		out, _ := cmd.Flags().GetString("out")
		concurrency, _ := cmd.Flags().GetInt("concurrency")

		req, err := loadRequest(file)
		if err != nil {
			return err
		}
		req = mergeFlags(req, niches, locations, maxPerPair, dryRun)
		req = applyDefaults(req)

		st, err := initStore(ctx, cfg.Store)
		if err != nil {
			return err
		}
		if st != nil {
			defer st.Close() //nolint:errcheck
			if err := st.Migrate(ctx); err != nil {
				zap.L().Warn("store migration failed", zap.Error(err))
			}
		}

		svc := newService(newPlacesClient(cfg.Google), st, concurrency)
		res, err := svc.Run(ctx, req)
		if err != nil {
			var ce *discovery.ChunkError
			if errors.As(err, &ce) {
				zap.L().Error("ingest stopped after partial commit",
					zap.Int("committed_chunks", ce.CommittedChunks()),
					zap.Int("committed_rows", ce.CommittedRows),
				)
			}
			return err
		}

		return writeResult(os.Stdout, res, out)
	},
}

func init() {
	ingestCmd.Flags().StringSlice("niche", nil, "niche to search (repeatable)")
	ingestCmd.Flags().StringSlice("location", nil, "location to search (repeatable)")
	ingestCmd.Flags().String("file", "", "YAML batch file with niches, locations, max and dry_run")
	ingestCmd.Flags().Int("max", 0, "max results per pair (default from config)")
	ingestCmd.Flags().Bool("dry-run", false, "search and deduplicate without writing leads")
	ingestCmd.Flags().String("out", "", "write previewed leads to a .json or .xlsx file")
	ingestCmd.Flags().Int("concurrency", 0, "pairs searched in parallel (default from config)")
	rootCmd.AddCommand(ingestCmd)
}

// loadRequest reads a YAML batch file. An empty path yields an empty request.
func loadRequest(path string) (discovery.Request, error) {
	var req discovery.Request
	if path == "" {
		return req, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return req, eris.Wrapf(err, "read batch file %s", path)
	}
	if err := yaml.Unmarshal(data, &req); err != nil {
		return req, eris.Wrapf(err, "parse batch file %s", path)
	}
	return req, nil
}

// mergeFlags appends flag values to the batch file request. Flags set a
// max or dry-run only when given.
func mergeFlags(req discovery.Request, niches, locations []string, maxPerPair int, dryRun bool) discovery.Request {
	req.Niches = append(req.Niches, niches...)
	req.Locations = append(req.Locations, locations...)
	if maxPerPair != 0 {
		req.Max = maxPerPair
	}
	if dryRun {
		req.DryRun = true
	}
	return req
}

// writeResult prints the result as JSON and exports previewed leads to out.
func writeResult(w io.Writer, res *discovery.Result, out string) error {
	if out != "" {
		if res.Preview() {
			if err := export.Write(out, res.Leads); err != nil {
				return err
			}
			zap.L().Info("leads exported", zap.String("path", out), zap.Int("leads", len(res.Leads)))
		} else {
			zap.L().Warn("leads were persisted, nothing to export", zap.String("path", out))
		}
	}
	return export.WriteJSON(w, res)
}

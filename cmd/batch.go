package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/pinellas-property-scraper/internal/batch"
)

func newBatchCmd() *cobra.Command {
	var (
		file    string
		workers int
	)
	cmd := &cobra.Command{
		Use:   "batch",
		Short: "Look up every address in a file and print one JSON line per address",
		Long: `Reads one address per line (blank lines and '#' comments are skipped)
from --file, or stdin when --file is "-" or empty, and runs the lookups on a
bounded worker pool. Output is newline-delimited JSON in input order. The
configured fetch rate limit still applies across workers.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}

			var in io.Reader = cmd.InOrStdin()
			if file != "" && file != "-" {
				f, err := os.Open(file)
				if err != nil {
					return fmt.Errorf("open address file: %w", err)
				}
				defer f.Close()
				in = f
			}
			addresses, err := batch.ReadAddresses(in)
			if err != nil {
				return err
			}

			items, sum := batch.New(appInstance, workers, appInstance.Logger()).Run(cmd.Context(), addresses)
			enc := json.NewEncoder(cmd.OutOrStdout())
			for _, item := range items {
				if !item.Done {
					continue
				}
				payload := item.Result.Payload()
				payload["input"] = item.Address
				if err := enc.Encode(payload); err != nil {
					return fmt.Errorf("encode result: %w", err)
				}
			}
			if sum.Failed > 0 || sum.Skipped > 0 {
				return fmt.Errorf("%w: %d failed, %d skipped of %d", errLookupFailed, sum.Failed, sum.Skipped, len(items))
			}
			return nil
		},
	}
	cmd.Flags().StringVarP(&file, "file", "f", "", "address file, one per line (default stdin)")
	cmd.Flags().IntVarP(&workers, "workers", "w", 2, "concurrent lookups")
	return cmd
}

package cmd

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
)

// errLookupFailed signals a non-zero exit after the error payload is printed.
var errLookupFailed = errors.New("lookup failed")

func newLookupCmd() *cobra.Command {
	var compact bool
	cmd := &cobra.Command{
		Use:   "lookup <address>",
		Short: "Look up a single address and print the result as JSON",
		Example: `  propertyd lookup "1505 Maple St, Clearwater"
  propertyd lookup 1505 MAPLE ST CLEARWATER --compact`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			appInstance, err := resolveApp(cmd.Context())
			if err != nil {
				return err
			}
			res := appInstance.Lookup(cmd.Context(), strings.Join(args, " "))

			enc := json.NewEncoder(cmd.OutOrStdout())
			if !compact {
				enc.SetIndent("", "  ")
			}
			if err := enc.Encode(res.Payload()); err != nil {
				return fmt.Errorf("encode result: %w", err)
			}
			if !res.OK() {
				return fmt.Errorf("%w: %s", errLookupFailed, res.Message)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&compact, "compact", false, "print single-line JSON")
	return cmd
}

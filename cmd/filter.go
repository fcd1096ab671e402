package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/JakeFAU/feed-ingestor/internal/filter"
)

func newFilterCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "filter",
		Short: "Inspect the membership filter snapshot",
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "inspect",
		Short: "Print snapshot parameters and size",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			f, path, err := loadSnapshot(cmd)
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), struct {
				Path   string        `json:"path"`
				Params filter.Params `json:"params"`
				Stats  filter.Stats  `json:"stats"`
			}{path, f.Params(), f.Stats()})
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "check <identifier>",
		Short: "Report whether an identifier (guid, link or title) is marked seen",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, _, err := loadSnapshot(cmd)
			if err != nil {
				return err
			}
			return writeIndented(cmd.OutOrStdout(), struct {
				ID   string `json:"id"`
				Seen bool   `json:"seen"`
			}{args[0], f.Contains(args[0])})
		},
	})
	return cmd
}

// loadSnapshot reads the snapshot without the Store lifecycle so inspection
// never writes the file.
func loadSnapshot(cmd *cobra.Command) (*filter.Filter, string, error) {
	rt, err := runtimeFrom(cmd.Context())
	if err != nil {
		return nil, "", err
	}
	path := rt.cfg.Filter.SnapshotPath
	blob, err := os.ReadFile(path)
	if err != nil {
		return nil, path, fmt.Errorf("read snapshot: %w", err)
	}
	f, err := filter.Restore(blob)
	if err != nil {
		return nil, path, fmt.Errorf("restore snapshot %s: %w", path, err)
	}
	return f, path, nil
}

func writeIndented(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	return nil
}

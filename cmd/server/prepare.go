package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/shaun/publisher/internal/files"
	"github.com/shaun/publisher/internal/publish"
)

var (
	prepareScaffold bool
	prepareUI       bool
	prepareMerge    bool
)

var prepareCmd = &cobra.Command{
	Use:   "prepare <files.json|->",
	Short: "Normalize a files payload and print the resulting file map",
	Long: `Prepare reads a generated files payload in any supported shape, flattens it
into a path to content map and prints it as JSON.

With --scaffold the map is also made publishable: one app root, the missing
scaffold files and a sanitized package.json, exactly as a publish would push it.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		raw, err := readInput(cmd, args[0])
		if err != nil {
			return err
		}
		m := files.Normalize(raw)
		if len(m) == 0 {
			return fmt.Errorf("no files found in %s", args[0])
		}
		if prepareScaffold {
			m = publish.Prepare(m, publish.PrepareOptions{UIPrimitives: prepareUI, MergeDependencies: prepareMerge})
		}
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetEscapeHTML(false)
		enc.SetIndent("", "  ")
		return enc.Encode(m)
	},
}

func readInput(cmd *cobra.Command, name string) ([]byte, error) {
	if name == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(name)
	if err != nil {
		return nil, fmt.Errorf("read files payload: %w", err)
	}
	return b, nil
}

func init() {
	prepareCmd.Flags().BoolVar(&prepareScaffold, "scaffold", false, "complete the tree so it builds")
	prepareCmd.Flags().BoolVar(&prepareUI, "ui", false, "add placeholder UI components (with --scaffold)")
	prepareCmd.Flags().BoolVar(&prepareMerge, "merge", false, "add missing required dependencies to package.json (with --scaffold)")
	rootCmd.AddCommand(prepareCmd)
}

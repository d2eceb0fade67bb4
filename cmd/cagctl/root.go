package main

import (
	"github.com/spf13/cobra"
)

// newRootCmd builds the cagctl command tree.
func newRootCmd() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "cagctl",
		Short: "Operate a CAG knowledge-graph store",
		Long: `Commands for inspecting, querying and maintaining a persistent
knowledge-graph store.

The store directory comes from --data-dir, or storage.path in the config
file, or ./cag-data.

Examples:
  cagctl add "Mimikatz" "uses technique" "Credential Dumping" --subject-label Tool
  cagctl query "what does mimikatz do?"
  cagctl export --format graphml --out graph.graphml
  cagctl snapshot create
  cagctl serve --metrics-addr 127.0.0.1:9090`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.load(cmd)
		},
	}

	root.PersistentFlags().StringVar(&a.configPath, "config", "",
		"Path to cag.yaml or a directory containing it")
	root.PersistentFlags().StringVar(&a.dataDir, "data-dir", "",
		"Store directory (overrides storage.path)")
	root.PersistentFlags().BoolVarP(&a.verbose, "verbose", "v", false,
		"Enable debug logging")

	root.AddCommand(
		newStatsCmd(a),
		newQueryCmd(a),
		newAddCmd(a),
		newExportCmd(a),
		newImportCmd(a),
		newSnapshotCmd(a),
		newServeCmd(a),
	)
	return root
}

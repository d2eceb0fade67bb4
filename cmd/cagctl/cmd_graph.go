package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/zero-day-ai/cag"
	"github.com/zero-day-ai/cag/graph"
	"github.com/zero-day-ai/cag/graph/id"
	"github.com/zero-day-ai/cag/persist"
)

// Export and import formats.
const (
	formatJSON    = "json"
	formatGraphML = "graphml"
)

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// statsView is the stats command output.
type statsView struct {
	DataDir           string    `json:"data_dir"`
	Backend           string    `json:"backend"`
	Nodes             int       `json:"nodes"`
	Relationships     int       `json:"relationships"`
	Labels            int       `json:"labels"`
	RelationshipTypes int       `json:"relationship_types"`
	OperationCount    int64     `json:"operation_count"`
	LastSave          time.Time `json:"last_save,omitempty"`
	Quarantined       []string  `json:"quarantined,omitempty"`
}

func newStatsCmd(a *app) *cobra.Command {
	var jsonOut bool
	cmd := &cobra.Command{
		Use:   "stats",
		Short: "Show store counts and persistence state",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.withStore(cmd.Context(), func(store *persist.Store) error {
				st := store.Stats(cmd.Context())
				view := statsView{
					DataDir:           store.Dir(),
					Backend:           a.cfg.Storage.GetBackend(),
					Nodes:             st.Nodes,
					Relationships:     st.Relationships,
					Labels:            st.Labels,
					RelationshipTypes: st.RelationshipTypes,
					OperationCount:    store.OperationCount(),
					LastSave:          store.LastLoad().Metadata.LastSave,
				}
				for _, q := range store.LastLoad().Quarantined {
					view.Quarantined = append(view.Quarantined, string(q))
				}
				if jsonOut {
					return writeJSON(cmd.OutOrStdout(), view)
				}

				tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
				fmt.Fprintf(tw, "Data dir:\t%s\n", view.DataDir)
				fmt.Fprintf(tw, "Backend:\t%s\n", view.Backend)
				fmt.Fprintf(tw, "Nodes:\t%d\n", view.Nodes)
				fmt.Fprintf(tw, "Relationships:\t%d\n", view.Relationships)
				fmt.Fprintf(tw, "Labels:\t%d\n", view.Labels)
				fmt.Fprintf(tw, "Relationship types:\t%d\n", view.RelationshipTypes)
				fmt.Fprintf(tw, "Operations:\t%d\n", view.OperationCount)
				if !view.LastSave.IsZero() {
					fmt.Fprintf(tw, "Last save:\t%s\n", view.LastSave.Format(time.RFC3339))
				}
				if len(view.Quarantined) > 0 {
					fmt.Fprintf(tw, "Quarantined:\t%s\n", strings.Join(view.Quarantined, ", "))
				}
				return tw.Flush()
			})
		},
	}
	cmd.Flags().BoolVar(&jsonOut, "json", false, "Output as JSON for scripting")
	return cmd
}

func newQueryCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "query TEXT",
		Short: "Print the graph context for a question",
		Long: `Extract entities from TEXT, expand matching nodes through the graph and
print the label-bucketed context.

Examples:
  cagctl query "what does mimikatz do?"
  cagctl query "hosts talking to 10.0.0.5"`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.withStore(cmd.Context(), func(store *persist.Store) error {
				qc, closer, err := a.openCache()
				if err != nil {
					return err
				}
				defer closer.Close()

				mgr, err := a.newManager(store, qc)
				if err != nil {
					return err
				}
				text, err := mgr.GetContextForQuery(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if text == "" {
					fmt.Fprintln(cmd.ErrOrStderr(), "no matching knowledge")
					return nil
				}
				_, err = io.WriteString(cmd.OutOrStdout(), text)
				return err
			})
		},
	}
}

func newAddCmd(a *app) *cobra.Command {
	var (
		subjectLabel string
		objectLabel  string
		props        map[string]string
	)
	cmd := &cobra.Command{
		Use:   "add SUBJECT PREDICATE OBJECT",
		Short: "Add a knowledge triplet",
		Long: `Add a (subject, predicate, object) triplet. Endpoint nodes are created
when missing and the predicate is normalized to a relationship type.

Examples:
  cagctl add Mimikatz "uses technique" "Credential Dumping" --subject-label Tool --object-label Technique
  cagctl add nmap performs "Port Scanning" --prop source=manual`,
		Args: cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			t := cag.Triplet{
				Subject:      args[0],
				SubjectLabel: subjectLabel,
				Predicate:    args[1],
				Object:       args[2],
				ObjectLabel:  objectLabel,
			}
			if len(props) > 0 {
				t.Properties = make(map[string]any, len(props))
				for k, v := range props {
					t.Properties[k] = v
				}
			}
			return a.withStore(cmd.Context(), func(store *persist.Store) error {
				qc, closer, err := a.openCache()
				if err != nil {
					return err
				}
				defer closer.Close()

				mgr, err := a.newManager(store, qc)
				if err != nil {
					return err
				}
				if err := mgr.AddKnowledgeTriplet(cmd.Context(), t); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%s -[%s]-> %s\n", t.SubjectID(), id.RelationshipType(t.Predicate), t.ObjectID())
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&subjectLabel, "subject-label", "", "Label of the subject node (default Entity)")
	cmd.Flags().StringVar(&objectLabel, "object-label", "", "Label of the object node (default Entity)")
	cmd.Flags().StringToStringVar(&props, "prop", nil, "Relationship property key=value (repeatable)")
	return cmd
}

func newExportCmd(a *app) *cobra.Command {
	var (
		format string
		out    string
	)
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export the graph as JSON or GraphML",
		Long: `Export every node and relationship. JSON is the canonical format;
GraphML is a best-effort format for visualization tools.

Examples:
  cagctl export --out graph.json
  cagctl export --format graphml --out graph.graphml`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if format != formatJSON && format != formatGraphML {
				return fmt.Errorf("unknown format %q: expected json or graphml", format)
			}
			return a.withStore(cmd.Context(), func(store *persist.Store) (err error) {
				w := cmd.OutOrStdout()
				if out != "" && out != "-" {
					f, err := os.Create(out)
					if err != nil {
						return err
					}
					defer func() {
						err = errors.Join(err, f.Close())
					}()
					w = f
				}

				if format == formatGraphML {
					return store.ExportGraphML(cmd.Context(), w)
				}
				exp, err := store.ExportGraph(cmd.Context())
				if err != nil {
					return err
				}
				return exp.WriteJSON(w)
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", formatJSON, "Output format: json, graphml")
	cmd.Flags().StringVarP(&out, "out", "o", "-", "Output file, - for stdout")
	return cmd
}

func newImportCmd(a *app) *cobra.Command {
	var (
		format string
		merge  bool
	)
	cmd := &cobra.Command{
		Use:   "import FILE",
		Short: "Import a JSON or GraphML export",
		Long: `Import an export file. By default the store contents are replaced;
--merge upserts the JSON export into the existing graph instead. The format
is taken from --format or the file extension (.graphml and .xml are GraphML).

Examples:
  cagctl import graph.json
  cagctl import graph.json --merge
  cagctl import graph.graphml`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := args[0]
			if format == "" {
				format = formatJSON
				switch strings.ToLower(filepath.Ext(path)) {
				case ".graphml", ".xml":
					format = formatGraphML
				}
			}
			if format != formatJSON && format != formatGraphML {
				return fmt.Errorf("unknown format %q: expected json or graphml", format)
			}
			if merge && format == formatGraphML {
				return errors.New("--merge is only supported for JSON exports")
			}

			f, err := os.Open(path)
			if err != nil {
				return err
			}
			defer f.Close()

			return a.withStore(cmd.Context(), func(store *persist.Store) error {
				var (
					report graph.RestoreReport
					err    error
				)
				switch {
				case format == formatGraphML:
					report, err = store.ImportGraphML(cmd.Context(), f)
				default:
					exp, rerr := graph.ReadExport(f)
					if rerr != nil {
						return rerr
					}
					if merge {
						report, err = store.MergeGraph(cmd.Context(), exp)
					} else {
						report, err = store.ImportGraph(cmd.Context(), exp)
					}
				}
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "imported %d nodes and %d relationships (dropped %d nodes, %d relationships)\n",
					report.Nodes, report.Relationships, report.DroppedNodes, report.DroppedRelationships)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&format, "format", "", "Input format: json, graphml (default from extension)")
	cmd.Flags().BoolVar(&merge, "merge", false, "Merge into the existing graph instead of replacing it")
	return cmd
}

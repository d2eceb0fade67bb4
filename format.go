package cag

import (
	"encoding/json"
	"fmt"
	"slices"
	"strings"

	"github.com/zero-day-ai/cag/graph"
)

// displayProperties are tried in order for a node's display name.
var displayProperties = []string{"name", "title"}

// FormatContext renders context nodes as plain text grouped by primary
// label. Buckets appear in the order of their first node; nodes keep their
// order within a bucket. Returns "" for an empty context.
//
// Example output:
//
//	## Tool
//	- Mimikatz [A1]
//	## Technique
//	- Credential Dumping [A2] (USES_TECHNIQUE, outgoing, depth 1)
//	  tactic: credential-access
func FormatContext(nodes []graph.ContextNode) string {
	if len(nodes) == 0 {
		return ""
	}

	var order []string
	buckets := make(map[string][]graph.ContextNode)
	for _, cn := range nodes {
		label := cn.Node.PrimaryLabel()
		if label == "" {
			label = "Unlabeled"
		}
		if _, ok := buckets[label]; !ok {
			order = append(order, label)
		}
		buckets[label] = append(buckets[label], cn)
	}

	var b strings.Builder
	for _, label := range order {
		fmt.Fprintf(&b, "## %s\n", label)
		for _, cn := range buckets[label] {
			writeNode(&b, cn)
		}
	}
	return b.String()
}

func writeNode(b *strings.Builder, cn graph.ContextNode) {
	name, nameKey := displayName(cn.Node)
	fmt.Fprintf(b, "- %s [%s]", name, cn.Node.ID)
	if cn.RelationshipType != "" {
		fmt.Fprintf(b, " (%s, %s, depth %d)", cn.RelationshipType, cn.Direction, cn.Depth)
	}
	b.WriteByte('\n')

	keys := make([]string, 0, len(cn.Node.Properties))
	for k := range cn.Node.Properties {
		if k != nameKey {
			keys = append(keys, k)
		}
	}
	slices.Sort(keys)
	for _, k := range keys {
		fmt.Fprintf(b, "  %s: %s\n", k, propertyText(cn.Node.Properties[k]))
	}
}

func displayName(n *graph.Node) (string, string) {
	for _, key := range displayProperties {
		if v, ok := n.Property(key); ok {
			if s, ok := v.(string); ok && s != "" {
				return s, key
			}
		}
	}
	return n.ID, ""
}

func propertyText(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	return string(data)
}

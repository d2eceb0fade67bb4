package graph

import (
	"context"
	"encoding/json"
	"encoding/xml"
	"fmt"
	"io"
	"sort"
	"strings"
)

const graphMLNamespace = "http://graphml.graphdrawing.org/xmlns"

// Reserved GraphML data keys.
const (
	gmlLabelsKey = "labels"
	gmlTypeKey   = "type"
)

type graphMLDoc struct {
	XMLName xml.Name     `xml:"graphml"`
	XMLNS   string       `xml:"xmlns,attr,omitempty"`
	Keys    []graphMLKey `xml:"key"`
	Graph   graphMLGraph `xml:"graph"`
}

type graphMLKey struct {
	ID   string `xml:"id,attr"`
	For  string `xml:"for,attr"`
	Name string `xml:"attr.name,attr"`
	Type string `xml:"attr.type,attr"`
}

type graphMLGraph struct {
	ID          string        `xml:"id,attr"`
	EdgeDefault string        `xml:"edgedefault,attr"`
	Nodes       []graphMLNode `xml:"node"`
	Edges       []graphMLEdge `xml:"edge"`
}

type graphMLNode struct {
	ID   string        `xml:"id,attr"`
	Data []graphMLData `xml:"data"`
}

type graphMLEdge struct {
	ID     string        `xml:"id,attr"`
	Source string        `xml:"source,attr"`
	Target string        `xml:"target,attr"`
	Data   []graphMLData `xml:"data"`
}

type graphMLData struct {
	Key   string `xml:"key,attr"`
	Value string `xml:",chardata"`
}

// ExportGraphML writes the graph as GraphML for visualization tools. Node
// labels and relationship types become reserved data keys; every property
// becomes a string-typed key holding the JSON-encoded value. Timestamps and
// versions are not carried. JSON (ExportGraph) is the canonical format.
func (s *Store) ExportGraphML(ctx context.Context, w io.Writer) error {
	st, err := s.Dump(ctx)
	if err != nil {
		return err
	}

	doc := graphMLDoc{
		XMLNS: graphMLNamespace,
		Graph: graphMLGraph{ID: "cag", EdgeDefault: "directed"},
	}
	nodeKeys := map[string]struct{}{}
	edgeKeys := map[string]struct{}{}

	for _, n := range st.Nodes {
		gn := graphMLNode{ID: n.ID}
		gn.Data = append(gn.Data, graphMLData{Key: gmlLabelsKey, Value: strings.Join(n.Labels, ",")})
		data, err := propertyData("node.", n.Properties, nodeKeys)
		if err != nil {
			return NewValidationError("Store.ExportGraphML", err)
		}
		gn.Data = append(gn.Data, data...)
		doc.Graph.Nodes = append(doc.Graph.Nodes, gn)
	}
	for _, r := range st.Relationships {
		ge := graphMLEdge{ID: r.ID, Source: r.FromNodeID, Target: r.ToNodeID}
		ge.Data = append(ge.Data, graphMLData{Key: gmlTypeKey, Value: r.Type})
		data, err := propertyData("edge.", r.Properties, edgeKeys)
		if err != nil {
			return NewValidationError("Store.ExportGraphML", err)
		}
		ge.Data = append(ge.Data, data...)
		doc.Graph.Edges = append(doc.Graph.Edges, ge)
	}

	doc.Keys = append(doc.Keys,
		graphMLKey{ID: gmlLabelsKey, For: "node", Name: gmlLabelsKey, Type: "string"},
		graphMLKey{ID: gmlTypeKey, For: "edge", Name: gmlTypeKey, Type: "string"},
	)
	doc.Keys = append(doc.Keys, declareKeys("node", "node.", nodeKeys)...)
	doc.Keys = append(doc.Keys, declareKeys("edge", "edge.", edgeKeys)...)

	if _, err := io.WriteString(w, xml.Header); err != nil {
		return err
	}
	enc := xml.NewEncoder(w)
	enc.Indent("", "  ")
	if err := enc.Encode(doc); err != nil {
		return fmt.Errorf("encode graphml: %w", err)
	}
	return enc.Flush()
}

func propertyData(prefix string, props map[string]any, seen map[string]struct{}) ([]graphMLData, error) {
	keys := make([]string, 0, len(props))
	for k := range props {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]graphMLData, 0, len(keys))
	for _, k := range keys {
		v, err := json.Marshal(props[k])
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidProperty, err)
		}
		seen[k] = struct{}{}
		out = append(out, graphMLData{Key: prefix + k, Value: string(v)})
	}
	return out, nil
}

func declareKeys(target, prefix string, names map[string]struct{}) []graphMLKey {
	sorted := make([]string, 0, len(names))
	for n := range names {
		sorted = append(sorted, n)
	}
	sort.Strings(sorted)
	out := make([]graphMLKey, 0, len(sorted))
	for _, n := range sorted {
		out = append(out, graphMLKey{ID: prefix + n, For: target, Name: n, Type: "string"})
	}
	return out
}

// ImportGraphML replaces the store contents with a GraphML document.
// Nodes without a labels key get the label "Node"; edges without a valid
// type key are dropped. Data values that are not valid JSON are kept as
// plain strings.
func (s *Store) ImportGraphML(ctx context.Context, r io.Reader) (RestoreReport, error) {
	const op = "Store.ImportGraphML"
	var doc graphMLDoc
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return RestoreReport{}, NewValidationError(op, fmt.Errorf("%w: %v", ErrInvalidFormat, err))
	}

	names := make(map[string]string, len(doc.Keys))
	for _, k := range doc.Keys {
		names[k.ID] = k.Name
	}
	now := s.opts.now()

	nodes := make([]*Node, 0, len(doc.Graph.Nodes))
	for _, gn := range doc.Graph.Nodes {
		n := &Node{ID: gn.ID, Properties: map[string]any{}, CreatedAt: now, UpdatedAt: now, Version: 1}
		for _, d := range gn.Data {
			if d.Key == gmlLabelsKey {
				n.Labels = splitLabels(d.Value)
				continue
			}
			n.Properties[dataName(names, d.Key, "node.")] = decodeData(d.Value)
		}
		if len(n.Labels) == 0 {
			n.Labels = []string{"Node"}
		}
		nodes = append(nodes, n)
	}

	rels := make([]*Relationship, 0, len(doc.Graph.Edges))
	for i, ge := range doc.Graph.Edges {
		r := &Relationship{
			ID:         ge.ID,
			FromNodeID: ge.Source,
			ToNodeID:   ge.Target,
			Properties: map[string]any{},
			CreatedAt:  now,
			UpdatedAt:  now,
			Version:    1,
		}
		for _, d := range ge.Data {
			if d.Key == gmlTypeKey {
				r.Type = strings.TrimSpace(d.Value)
				continue
			}
			r.Properties[dataName(names, d.Key, "edge.")] = decodeData(d.Value)
		}
		if r.ID == "" {
			r.ID = fmt.Sprintf("e%d", i)
		}
		rels = append(rels, r)
	}
	return s.Restore(ctx, nodes, rels)
}

func splitLabels(v string) []string {
	var out []string
	for _, l := range strings.Split(v, ",") {
		if l = strings.TrimSpace(l); l != "" {
			out = append(out, l)
		}
	}
	return out
}

func dataName(names map[string]string, key, prefix string) string {
	if n, ok := names[key]; ok && n != "" {
		return n
	}
	return strings.TrimPrefix(key, prefix)
}

func decodeData(v string) any {
	var out any
	if err := json.Unmarshal([]byte(v), &out); err != nil {
		return v
	}
	return out
}

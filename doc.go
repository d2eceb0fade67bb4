// Package cag implements Context-Aware Generation over an embedded knowledge
// graph.
//
// A Manager turns free text into grounded context for a language model. It
// extracts entities from the text, finds seed nodes whose properties match
// them, expands each seed breadth-first through the graph and renders the
// reached nodes as label-bucketed plain text. Results are memoized per query
// and the memo is dropped whenever new knowledge is added.
//
// # Stores
//
// The manager works against any Store. Two implementations ship with the
// module:
//
//   - graph.NewMemoryStore: in-memory, unscored search, used for fixtures
//   - persist.Open: disk-backed with auto-save, scored search and distance
//     scoring
//
// # Getting Started
//
//	store := graph.NewMemoryStore()
//	if err := store.Connect(ctx); err != nil {
//		log.Fatal(err)
//	}
//	defer store.Close(ctx)
//
//	mgr, err := cag.New(store)
//	if err != nil {
//		log.Fatal(err)
//	}
//
//	err = mgr.AddKnowledgeTriplet(ctx, cag.Triplet{
//		Subject:      "Mimikatz",
//		SubjectLabel: "Tool",
//		Predicate:    "uses technique",
//		Object:       "Credential Dumping",
//		ObjectLabel:  "Technique",
//	})
//
//	text, err := mgr.GetContextForQuery(ctx, "what does mimikatz do?")
//
// # Error Handling
//
// Validation failures are returned as *graph.Error values of kind
// validation. Operational failures in search, traversal, extraction or the
// cache are logged and absorbed, so a query degrades to less context rather
// than failing.
//
// # Observability
//
// The manager emits OpenTelemetry spans for each query and knowledge write,
// and counts cache hits and misses with the global meter provider.
package cag

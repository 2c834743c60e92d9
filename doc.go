// Package interrogato is a multi-strategy retrieval engine that answers
// natural-language questions against an indexed knowledge graph of entities,
// relationships, communities, community reports, and source text units.
//
// Four strategies are available: local search expands the graph around
// entities matching the query, global search map-reduces over community
// reports, basic search retrieves source texts by vector similarity, and
// drift search iteratively decomposes the question into follow-up
// sub-queries before synthesizing an answer. Every strategy returns a
// SearchResult with an exact per-phase accounting of model calls and tokens,
// and supports streaming.
//
// The Engine ties one knowledge store, one model client, and one embedder to
// all four strategies:
//
//	engine, err := interrogato.New(interrogato.Options{
//		Store:    knowledgeStore,
//		Model:    modelClient,
//		Embedder: embedderClient,
//	})
//	if err != nil {
//		log.Fatal(err)
//	}
//	result, err := engine.Search(ctx, search.GlobalSearchType, "What are the main themes?", nil)
package interrogato

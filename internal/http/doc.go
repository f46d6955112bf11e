// Package http provides the workspace data API client.
//
// This package handles:
//   - Connection pooling for concurrent page fetches and chunk uploads
//   - Bearer authentication from an oauth2.TokenSource
//   - The success-code contract on top of the retry package
//   - Decoding entity type descriptions and entity query pages
//
// # Usage
//
//	client, err := http.NewClient(http.Options{
//	    BaseURL:     "https://api.firecloud.org/api/",
//	    TokenSource: ts,
//	    Retry:       retry.FixedChain(),
//	    Logger:      logger,
//	})
//
//	ws := http.Workspace{Project: "my-project", Name: "my-workspace"}
//
//	// Describe entity types
//	types, err := client.ListEntityTypes(ctx, ws)
//
//	// Fetch one page of entities
//	page, err := client.QueryEntities(ctx, ws, "sample", http.Query{Page: 1, PageSize: 1000})
//
//	// Upload a table
//	err = client.ImportEntities(ctx, ws, tsvBytes)
package http

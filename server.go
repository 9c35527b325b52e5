package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gamma-omg/docqa/docstore"
	"github.com/gamma-omg/docqa/qa"
)

type docRetriever interface {
	Retrieve(ctx context.Context, question string, topK int, minScore float32) ([]docstore.SearchResult, error)
}

type answerer interface {
	Answer(ctx context.Context, question string, retrieved []docstore.SearchResult) (qa.Answer, error)
}

type collectionStore interface {
	Stats(ctx context.Context) (docstore.Stats, error)
	ListDocuments(ctx context.Context) ([]docstore.Document, error)
}

type resetter interface {
	Reset(ctx context.Context) (int, error)
}

func NewRagServer(retriever docRetriever, assembler answerer, store collectionStore, res resetter) *server.MCPServer {
	srv := server.NewMCPServer("DocQA", "0.1.0", server.WithToolCapabilities(false))

	ask := mcp.NewTool("ask",
		mcp.WithDescription("Answer a question from the uploaded documents, with citations"),
		mcp.WithString("question",
			mcp.Required(),
			mcp.Description("Question to answer"),
		))
	srv.AddTool(ask, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("question")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		retrieved, err := retriever.Retrieve(ctx, q, 0, 0)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		answer, err := assembler.Answer(ctx, q, retrieved)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		raw, err := json.Marshal(answer)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(raw)), nil
	})

	search := mcp.NewTool("search",
		mcp.WithDescription("Search the uploaded documents and return the most similar chunks"),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Search query"),
		),
		mcp.WithNumber("top_k",
			mcp.Description("Maximum number of results to return"),
		),
		mcp.WithNumber("min_score",
			mcp.Description("Minimum similarity score, 0..1"),
		))
	srv.AddTool(search, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		q, err := request.RequireString("query")
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		topK := request.GetInt("top_k", 0)
		minScore := request.GetFloat("min_score", 0)

		results, err := retriever.Retrieve(ctx, q, topK, float32(minScore))
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		var response string
		for _, r := range results {
			raw, err := json.Marshal(struct {
				Score   float32 `json:"score"`
				File    string  `json:"file"`
				Locator string  `json:"locator,omitempty"`
				Text    string  `json:"text"`
			}{
				Score:   r.Score,
				File:    r.File,
				Locator: r.Locator,
				Text:    r.Text,
			})
			if err != nil {
				return mcp.NewToolResultError(err.Error()), nil
			}

			response += fmt.Sprintf("%s\n", string(raw))
		}

		return mcp.NewToolResultText(response), nil
	})

	stats := mcp.NewTool("stats",
		mcp.WithDescription("Report collection statistics: documents, chunks and storage use"))
	srv.AddTool(stats, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		st, err := store.Stats(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		docs, err := store.ListDocuments(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		files := make([]string, 0, len(docs))
		for _, d := range docs {
			files = append(files, d.Filename)
		}

		raw, err := json.Marshal(struct {
			Documents    int            `json:"documents"`
			Chunks       int            `json:"chunks"`
			ByType       map[string]int `json:"by_type"`
			StorageBytes int64          `json:"storage_bytes"`
			Files        []string       `json:"files"`
		}{
			Documents:    st.Documents,
			Chunks:       st.Chunks,
			ByType:       st.ByType,
			StorageBytes: st.StorageBytes,
			Files:        files,
		})
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(string(raw)), nil
	})

	reset := mcp.NewTool("reset",
		mcp.WithDescription("Remove every document, chunk and retained upload from the collection"))
	srv.AddTool(reset, func(ctx context.Context, request mcp.CallToolRequest) (*mcp.CallToolResult, error) {
		evicted, err := res.Reset(ctx)
		if err != nil {
			return mcp.NewToolResultError(err.Error()), nil
		}

		return mcp.NewToolResultText(fmt.Sprintf("collection reset, %d documents removed", evicted)), nil
	})

	return srv
}

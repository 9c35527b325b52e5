package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/amikos-tech/chroma-go/pkg/embeddings"
	gemini "github.com/amikos-tech/chroma-go/pkg/embeddings/gemini"
	openai "github.com/amikos-tech/chroma-go/pkg/embeddings/openai"
	"github.com/mark3labs/mcp-go/server"

	"github.com/gamma-omg/docqa/chunker"
	"github.com/gamma-omg/docqa/cleanup"
	"github.com/gamma-omg/docqa/docstore"
	"github.com/gamma-omg/docqa/embedding"
	"github.com/gamma-omg/docqa/llm"
	"github.com/gamma-omg/docqa/qa"
	"github.com/gamma-omg/docqa/readers"
)

func createEmbeddingFunction(cfg *Config) (embeddings.EmbeddingFunction, error) {
	if cfg.OpenAI != nil {
		ef, err := openai.NewOpenAIEmbeddingFunction(
			cfg.OpenAI.ApiKey,
			openai.WithModel(openai.EmbeddingModel(cfg.OpenAI.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create OpenAI embedding function: %w", err)
		}

		return ef, nil
	}

	if cfg.Gemini != nil {
		ef, err := gemini.NewGeminiEmbeddingFunction(
			gemini.WithAPIKey(cfg.Gemini.ApiKey),
			gemini.WithDefaultModel(embeddings.EmbeddingModel(cfg.Gemini.Model)))
		if err != nil {
			return nil, fmt.Errorf("failed to create Gemini embedding function: %w", err)
		}

		return ef, nil
	}

	return nil, errors.New("invalid embeddings provider configuration")
}

func createGenerator(cfg *Config) (llm.Generator, error) {
	if cfg.OpenAI == nil {
		return nil, errors.New("answer generation requires the open_ai provider")
	}

	return llm.NewOpenAIGenerator(llm.Config{
		APIKey: cfg.OpenAI.ApiKey,
		Model:  cfg.OpenAI.ChatModel,
	})
}

func main() {
	reset := flag.Bool("reset", false, "Reinitialize the database from scratch if set")
	cfgPath := flag.String("config", "cfg/config.yaml", "Configuration file for the MCP server")
	flag.Parse()

	cfg, err := readConfig(*cfgPath)
	if err != nil {
		log.Fatal(err)
	}

	logFile, err := os.OpenFile(cfg.LogFile, os.O_APPEND|os.O_WRONLY|os.O_CREATE, 0o644)
	if err != nil {
		log.Fatalf("failed to open log file: %s", err)
	}
	defer logFile.Close()

	logger := slog.New(slog.NewJSONHandler(logFile, nil))

	dim, err := cfg.embeddingDimension()
	if err != nil {
		log.Fatal(err)
	}

	ef, err := createEmbeddingFunction(cfg)
	if err != nil {
		log.Fatal(err)
	}

	embedder, err := embedding.NewService(ef, dim, cfg.RequestSize)
	if err != nil {
		log.Fatal(err)
	}

	store, err := docstore.NewSQLiteStore(docstore.Config{
		Path:      filepath.Join(cfg.DataDir, "docqa.db"),
		Dimension: dim,
		Reset:     *reset,
	})
	if err != nil {
		log.Fatal(err)
	}
	defer store.Close()

	generator, err := createGenerator(cfg)
	if err != nil {
		log.Fatal(err)
	}

	chunkifier, err := chunker.New(cfg.ChunkSize, cfg.ChunkOverlap)
	if err != nil {
		log.Fatal(err)
	}

	reg := DocRegistry{
		log:              logger,
		root:             cfg.DocRoot,
		uploadDir:        cfg.UploadDir,
		maxFileSize:      cfg.maxFileSizeBytes(),
		mergeEventsDelay: time.Duration(cfg.MergeEventsMs) * time.Millisecond,
		store:            store,
		embedder:         embedder,
		chunkifier:       chunkifier,
		readers: []readers.FileReader{
			&readers.TxtFileReader{},
			&readers.MarkdownFileReader{},
			&readers.CsvFileReader{},
			&readers.PdfFileReader{},
			&readers.UniversalFileReader{},
		},
	}

	manager, err := cleanup.NewManager(logger, store, cfg.UploadDir, cleanup.Policy{
		MaxFileAge:      cfg.maxFileAge(),
		MaxStorageBytes: cfg.maxStorageBytes(),
		Interval:        cfg.cleanupInterval(),
	})
	if err != nil {
		log.Fatal(err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if *reset {
		if _, err := manager.Reset(ctx); err != nil {
			log.Fatal(err)
		}
	}

	if cfg.Cleanup.Enabled {
		go manager.Run(ctx)
	}

	go func() {
		err = reg.Sync(ctx)
		if err != nil {
			log.Fatal(err)
		}

		err = reg.Watch(ctx)
		if err != nil {
			log.Fatal(err)
		}
	}()

	retriever := qa.NewRetriever(embedder, store, cfg.Results, cfg.MaxResults, cfg.MinScore)
	assembler := qa.NewAssembler(generator, cfg.ContextBudget)

	srv := NewRagServer(retriever, assembler, store, manager)
	sse := server.NewSSEServer(srv, server.WithBaseURL(fmt.Sprintf("http://%s", cfg.ServerAddr)))
	log.Println(sse.Start(cfg.ServerAddr))
}

// Command timelined runs the conversational memory engine as an HTTP
// service, wiring config, storage, the indexing pipeline, and the gin
// server together, mirroring the teacher's cmd/agentize flag+log style.
package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"convomem/chain"
	"convomem/config"
	"convomem/embedclient"
	"convomem/llmclient"
	"convomem/log"
	"convomem/pipeline"
	"convomem/retriever"
	"convomem/server"
	"convomem/store"
	"convomem/summarizer"
	"convomem/vectorindex"
	"convomem/window"
)

func main() {
	configPath := flag.String("config", "", "Path to an optional YAML config overlay")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Log.Errorf("failed loading configuration: %v", err)
		os.Exit(1)
	}

	log.Log.Infof("=== convomem ===")
	log.Log.Infof("store backend: %s", cfg.Store.Backend)
	log.Log.Infof("listening on: %s", cfg.GetAddress())

	messages, closeMessages, err := buildMessageStore(cfg)
	if err != nil {
		log.Log.Errorf("failed building message store: %v", err)
		os.Exit(1)
	}
	defer closeMessages()

	vectorBackend, closeVector, err := buildVectorBackend(cfg)
	if err != nil {
		log.Log.Errorf("failed building vector backend: %v", err)
		os.Exit(1)
	}
	defer closeVector()

	openaiConfig := openai.DefaultConfig(cfg.LLM.APIKey)
	client := openai.NewClientWithConfig(openaiConfig)

	embedder := embedclient.NewOpenAIEmbedder(client, cfg.Embed)
	completer := llmclient.NewOpenAICompleter(client, cfg.LLM.CompletionModel)

	index := vectorindex.New(vectorBackend, vectorindex.DefaultConfig())
	summ := summarizer.New(completer, cfg.Window.MaxSummaryChars)
	win := window.New(cfg.Window, summ)
	win.StartSweep()
	defer win.Stop()

	ret := retriever.New(embedder, index)
	validator := chain.New(messages)

	pipelineCfg := pipeline.Config{
		Chunker:   cfg.Chunker,
		Retriever: cfg.Retriever,
		Merger:    cfg.Merger,
		Prompt:    cfg.Prompt,
	}
	p := pipeline.New(messages, win, ret, index, embedder, completer, pipelineCfg, cfg.Workers)
	defer p.Shutdown()

	srv := server.New(cfg, p, messages, win, validator, index, embedder)

	go func() {
		if err := srv.Start(); err != nil && err != http.ErrServerClosed {
			log.Log.Errorf("HTTP server stopped: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	log.Log.Infof("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Log.Errorf("HTTP shutdown error: %v", err)
	}
}

func buildMessageStore(cfg *config.Config) (store.MessageStore, func(), error) {
	switch cfg.Store.Backend {
	case "sqlite", "postgres":
		s, err := store.NewSQLiteMessageStore(cfg.Store.SQLitePath)
		if err != nil {
			return nil, func() {}, err
		}
		return s, func() { s.Close() }, nil
	default:
		return store.NewMemoryMessageStore(), func() {}, nil
	}
}

func buildVectorBackend(cfg *config.Config) (store.VectorBackend, func(), error) {
	if cfg.Store.Backend == "postgres" {
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		b, err := store.NewPostgresVectorBackend(ctx, cfg.Store.PostgresDSN, cfg.Store.PostgresPoolSize, cfg.Embed.Dimension)
		if err != nil {
			return nil, func() {}, err
		}
		return b, func() { b.Close() }, nil
	}
	return store.NewMemoryVectorBackend(), func() {}, nil
}

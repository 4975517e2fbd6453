// Package pipeline implements the Pipeline Orchestrator (§4.K): it
// glues every other component together for one user turn — ingest,
// retrieve, build, call the LLM, persist — and dispatches background
// indexing to a bounded worker pool so response latency is unaffected.
package pipeline

import (
	"context"
	"strconv"
	"sync"

	"convomem/chunker"
	"convomem/embedclient"
	"convomem/llmclient"
	"convomem/log"
	"convomem/merger"
	"convomem/model"
	"convomem/prompt"
	"convomem/retriever"
	"convomem/store"
	"convomem/vectorindex"
	"convomem/window"
)

const systemPreamble = "You are a helpful assistant. Use the provided context only if relevant."

// Config bundles every per-call config the orchestrator threads through
// to its collaborators.
type Config struct {
	Chunker   chunker.Config
	Retriever retriever.Config
	Merger    merger.Config
	Prompt    prompt.Config
}

// DefaultConfig mirrors every component's own example defaults.
func DefaultConfig() Config {
	return Config{
		Chunker:   chunker.DefaultConfig(),
		Retriever: retriever.DefaultConfig(),
		Merger:    merger.DefaultConfig(),
		Prompt:    prompt.DefaultConfig(),
	}
}

// TurnResult is what handleUserTurn returns on success.
type TurnResult struct {
	UserMessage      *model.Message
	AssistantMessage *model.Message
	Prompt           string
	Degraded         bool // true if retrieval context was dropped due to EMBEDDING_UNAVAILABLE
}

// Pipeline wires the Message Store, Conversation Window, Context
// Retriever, Group Merger, Prompt Builder, Vector Index, Chunker,
// Embedder, and LLM Completer into the single operation the HTTP
// surface calls for a chat turn. Indexing (step 10) is dispatched to a
// bounded worker pool. Each indexing job is attempted once; a failed job
// is logged and not retried.
type Pipeline struct {
	messages  store.MessageStore
	win       *window.Window
	retriever *retriever.Retriever
	index     *vectorindex.Index
	embedder  embedclient.Embedder
	completer llmclient.Completer
	cfg       Config

	jobs   chan indexJob
	wg     sync.WaitGroup
	stop   chan struct{}
	stopOnce sync.Once

	labelCache *labelCache
}

type indexJob struct {
	message *model.Message
}

// New builds a Pipeline and starts its background indexing workers.
func New(messages store.MessageStore, win *window.Window, ret *retriever.Retriever, index *vectorindex.Index, embedder embedclient.Embedder, completer llmclient.Completer, cfg Config, workerCount int) *Pipeline {
	if workerCount <= 0 {
		workerCount = 4
	}
	p := &Pipeline{
		messages:  messages,
		win:       win,
		retriever: ret,
		index:     index,
		embedder:  embedder,
		completer: completer,
		cfg:       cfg,
		jobs:      make(chan indexJob, 256),
		stop:      make(chan struct{}),
		labelCache: newLabelCache(),
	}
	for i := 0; i < workerCount; i++ {
		p.wg.Add(1)
		go p.indexWorker()
	}
	return p
}

// Shutdown signals workers to stop accepting new jobs and waits for
// in-flight jobs to drain.
func (p *Pipeline) Shutdown() {
	p.stopOnce.Do(func() { close(p.stop) })
	close(p.jobs)
	p.wg.Wait()
}

func (p *Pipeline) indexWorker() {
	defer p.wg.Done()
	for job := range p.jobs {
		if err := p.indexMessage(context.Background(), job.message); err != nil {
			log.Log.Errorf("pipeline: background indexing failed for message %s: %v", job.message.ID, err)
		}
	}
}

// HandleUserTurn runs the full synchronous turn flow for sessionID and
// persists both messages, dispatching indexing asynchronously.
func (p *Pipeline) HandleUserTurn(ctx context.Context, sessionID, text string) (*TurnResult, error) {
	if text == "" {
		return nil, model.NewError(model.KindBadInput, "message text is required", nil)
	}

	parent, err := p.lastMessage(sessionID)
	if err != nil {
		return nil, err
	}

	userMsg := model.NewMessageAfter(sessionID, model.RoleUser, text, parent)
	if err := p.messages.Put(userMsg); err != nil {
		return nil, err
	}

	winCtx := p.win.Context(sessionID)

	var groups []retriever.ExpandedGroup
	degraded := false
	groups, err = p.retriever.Retrieve(ctx, text, sessionID, userMsg.ID, p.cfg.Retriever)
	if err != nil {
		if model.KindOf(err) == model.KindEmbeddingUnavailable {
			log.Log.Warnf("pipeline: embedding unavailable during retrieval, continuing without context: %v", err)
			groups = nil
			degraded = true
		} else {
			return nil, err
		}
	}

	merged := merger.Merge(groups, p.cfg.Merger)
	builtPrompt, err := prompt.Build(winCtx.Summary, winCtx.RecentMessages, merged, text, p.cfg.Prompt)
	if err != nil {
		return nil, err
	}

	reply, err := p.completer.Complete(ctx, systemPreamble, builtPrompt)
	if err != nil {
		return nil, model.NewError(model.KindLLMUnavailable, "LLM completion failed", err)
	}

	assistantMsg := model.NewMessageAfter(sessionID, model.RoleAssistant, reply, userMsg)
	if err := p.messages.Put(assistantMsg); err != nil {
		return nil, err
	}

	p.win.Append(ctx, sessionID, userMsg)
	p.win.Append(ctx, sessionID, assistantMsg)

	p.scheduleIndex(userMsg)
	p.scheduleIndex(assistantMsg)

	return &TurnResult{UserMessage: userMsg, AssistantMessage: assistantMsg, Prompt: builtPrompt, Degraded: degraded}, nil
}

// CompleteDirect bypasses the window, retriever, and persistence
// entirely and calls the LLM directly, for the /chat/simple diagnostic
// endpoint.
func (p *Pipeline) CompleteDirect(ctx context.Context, text string) (string, error) {
	if text == "" {
		return "", model.NewError(model.KindBadInput, "message text is required", nil)
	}
	reply, err := p.completer.Complete(ctx, systemPreamble, text)
	if err != nil {
		return "", model.NewError(model.KindLLMUnavailable, "LLM completion failed", err)
	}
	return reply, nil
}

func (p *Pipeline) scheduleIndex(m *model.Message) {
	select {
	case p.jobs <- indexJob{message: m}:
	default:
		log.Log.Warnf("pipeline: indexing queue full, indexing message %s synchronously", m.ID)
		if err := p.indexMessage(context.Background(), m); err != nil {
			log.Log.Errorf("pipeline: synchronous fallback indexing failed for message %s: %v", m.ID, err)
		}
	}
}

// IndexMessage exposes indexMessage for manual reindexing requests
// (the /vector/process endpoint).
func (p *Pipeline) IndexMessage(ctx context.Context, m *model.Message) error {
	return p.indexMessage(ctx, m)
}

// ReprocessSession reindexes every message in sessionID from scratch.
func (p *Pipeline) ReprocessSession(ctx context.Context, sessionID string) (int, error) {
	msgs, err := p.messages.ListBySessionInChronoOrder(sessionID)
	if err != nil {
		return 0, err
	}
	for _, m := range msgs {
		if err := p.indexMessage(ctx, m); err != nil {
			return 0, err
		}
	}
	return len(msgs), nil
}

// indexMessage is idempotent over (messageId, chunkIndex): it deletes
// any prior chunks for m before reinserting its freshly-chunked,
// freshly-embedded set.
func (p *Pipeline) indexMessage(ctx context.Context, m *model.Message) error {
	if err := p.index.DeleteByMessage(ctx, m.ID); err != nil {
		return err
	}

	fragments := chunker.Chunk(m.Content, p.cfg.Chunker)
	if len(fragments) == 0 {
		return nil
	}

	chunks := make([]*model.ChunkEmbedding, 0, len(fragments))
	for i, text := range fragments {
		vector, err := p.embedder.Embed(ctx, text)
		if err != nil {
			return err
		}
		chunks = append(chunks, &model.ChunkEmbedding{
			ChunkID:    m.ID + ":" + strconv.Itoa(i),
			MessageID:  m.ID,
			SessionID:  m.SessionID,
			ChunkIndex: i,
			Text:       text,
			Vector:     vector,
			Timestamp:  m.Timestamp,
		})
	}

	return p.index.PutBatch(ctx, chunks)
}

// lastMessage returns the chronologically last message in sessionID, or
// nil if the session is empty.
func (p *Pipeline) lastMessage(sessionID string) (*model.Message, error) {
	msgs, err := p.messages.ListBySessionInChronoOrder(sessionID)
	if err != nil {
		return nil, err
	}
	if len(msgs) == 0 {
		return nil, nil
	}
	return msgs[len(msgs)-1], nil
}

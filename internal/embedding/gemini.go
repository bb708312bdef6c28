// Package embedding produces vectors for the RAG store via the Gemini
// embedding API.
package embedding

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/qanatlabs/qanat/internal/metrics"
)

// Generator turns text into embedding vectors. Document and query embeddings
// are generated with different task types, which matters for retrieval
// quality, so the interface keeps them distinct.
type Generator interface {
	EmbedDocument(ctx context.Context, text string) ([]float32, error)
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, text string) ([]float32, error)
	Close() error
}

// Gemini implements Generator against the Gemini embedding API.
type Gemini struct {
	client *genai.Client
	model  string
	mets   *metrics.Metrics
}

// NewGemini creates a generator using the given API key and embedding model
// name (for example "text-embedding-004").
func NewGemini(ctx context.Context, apiKey, model string) (*Gemini, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("failed to create gemini client: %w", err)
	}
	return &Gemini{client: client, model: model, mets: metrics.NewMetrics()}, nil
}

// EmbedDocument embeds content that will be stored and retrieved later.
func (g *Gemini) EmbedDocument(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, genai.TaskTypeRetrievalDocument)
}

// EmbedDocuments embeds a batch of documents in one request. The result is
// index-aligned with the input.
func (g *Gemini) EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	em := g.client.EmbeddingModel(g.model)
	em.TaskType = genai.TaskTypeRetrievalDocument

	batch := em.NewBatch()
	for _, text := range texts {
		if text == "" {
			return nil, fmt.Errorf("cannot embed empty text")
		}
		batch.AddContent(genai.Text(text))
	}

	start := time.Now()
	res, err := em.BatchEmbedContents(ctx, batch)
	g.mets.GeminiRequests.WithLabelValues("embed_batch").Inc()
	g.mets.GeminiLatency.WithLabelValues("embed_batch").Observe(time.Since(start).Seconds())
	if err != nil {
		g.mets.GeminiErrors.WithLabelValues("embed_batch").Inc()
		return nil, fmt.Errorf("batch embedding request failed: %w", err)
	}
	if len(res.Embeddings) != len(texts) {
		return nil, fmt.Errorf("batch embedding returned %d vectors for %d texts", len(res.Embeddings), len(texts))
	}

	vecs := make([][]float32, len(res.Embeddings))
	for i, e := range res.Embeddings {
		if e == nil || len(e.Values) == 0 {
			return nil, fmt.Errorf("batch embedding %d was empty", i)
		}
		vecs[i] = e.Values
	}
	log.Printf("[Embedding] generated %d vectors: model=%s dim=%d", len(vecs), g.model, len(vecs[0]))
	return vecs, nil
}

// EmbedQuery embeds a search query against stored documents.
func (g *Gemini) EmbedQuery(ctx context.Context, text string) ([]float32, error) {
	return g.embed(ctx, text, genai.TaskTypeRetrievalQuery)
}

func (g *Gemini) embed(ctx context.Context, text string, task genai.TaskType) ([]float32, error) {
	if text == "" {
		return nil, fmt.Errorf("cannot embed empty text")
	}
	em := g.client.EmbeddingModel(g.model)
	em.TaskType = task

	kind := "embed_document"
	if task == genai.TaskTypeRetrievalQuery {
		kind = "embed_query"
	}
	start := time.Now()
	res, err := em.EmbedContent(ctx, genai.Text(text))
	g.mets.GeminiRequests.WithLabelValues(kind).Inc()
	g.mets.GeminiLatency.WithLabelValues(kind).Observe(time.Since(start).Seconds())
	if err != nil {
		g.mets.GeminiErrors.WithLabelValues(kind).Inc()
		return nil, fmt.Errorf("embedding request failed: %w", err)
	}
	if res.Embedding == nil || len(res.Embedding.Values) == 0 {
		return nil, fmt.Errorf("embedding response was empty")
	}
	log.Printf("[Embedding] generated vector: model=%s dim=%d text_len=%d",
		g.model, len(res.Embedding.Values), len(text))
	return res.Embedding.Values, nil
}

// Close releases the underlying API client.
func (g *Gemini) Close() error {
	return g.client.Close()
}

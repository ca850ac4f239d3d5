package pdfquiz

import (
	"context"
	"fmt"
	"math"

	openai "github.com/sashabaranov/go-openai"
)

// Embedder is the slice of the OpenAI client the diversity scorer needs.
// *openai.Client satisfies it.
type Embedder interface {
	CreateEmbeddings(ctx context.Context, req openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

// DiversityScorer measures how varied a batch of generated answers is by
// comparing their embedding vectors pairwise.
type DiversityScorer struct {
	client Embedder
	model  openai.EmbeddingModel
}

// NewDiversityScorer creates a scorer over the given embedding client.
func NewDiversityScorer(client Embedder, model openai.EmbeddingModel) *DiversityScorer {
	return &DiversityScorer{client: client, model: model}
}

// EmbedStrings obtains one embedding vector per input string in a single
// batched request, preserving input order.
func (d *DiversityScorer) EmbedStrings(ctx context.Context, inputs []string) ([][]float32, error) {
	if len(inputs) == 0 {
		return nil, fmt.Errorf("no inputs to embed")
	}

	resp, err := d.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input: inputs,
		Model: d.model,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create embeddings: %w", err)
	}
	if len(resp.Data) != len(inputs) {
		return nil, fmt.Errorf("embedding count mismatch: sent %d inputs, got %d vectors", len(inputs), len(resp.Data))
	}

	vectors := make([][]float32, len(inputs))
	for _, item := range resp.Data {
		if item.Index < 0 || item.Index >= len(inputs) {
			return nil, fmt.Errorf("embedding index %d out of range", item.Index)
		}
		vectors[item.Index] = item.Embedding
	}
	return vectors, nil
}

// ScoreBatch embeds the correct-answer text of every record and returns
// the mean pairwise similarity and the per-record mean similarity against
// the rest of the batch. The batch must contain at least two records.
func (d *DiversityScorer) ScoreBatch(ctx context.Context, batch *QuestionBatch) (mean float64, perItem []float64, err error) {
	if len(batch.Records) < 2 {
		return 0, nil, fmt.Errorf("diversity is undefined for a batch of %d", len(batch.Records))
	}

	answers := make([]string, len(batch.Records))
	for i, rec := range batch.Records {
		answers[i] = rec.CorrectText()
	}

	vectors, err := d.EmbedStrings(ctx, answers)
	if err != nil {
		return 0, nil, err
	}

	mean, err = MeanSimilarity(vectors)
	if err != nil {
		return 0, nil, err
	}
	perItem, err = PerItemSimilarities(vectors)
	if err != nil {
		return 0, nil, err
	}
	return mean, perItem, nil
}

// CosineSimilarity computes dot(a,b) / (|a|*|b|). Vectors of unequal
// dimension are a DimensionMismatchError. A zero vector yields 0.
func CosineSimilarity(a, b []float32) (float64, error) {
	if len(a) != len(b) {
		return 0, &DimensionMismatchError{Want: len(a), Got: len(b)}
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0, nil
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB)), nil
}

// PairwiseSimilarities computes the cosine similarity of every unordered
// pair (i, j), i < j, in index order.
func PairwiseSimilarities(vectors [][]float32) ([]float64, error) {
	if len(vectors) < 2 {
		return nil, fmt.Errorf("need at least 2 vectors, got %d", len(vectors))
	}
	sims := make([]float64, 0, len(vectors)*(len(vectors)-1)/2)
	for i := 0; i < len(vectors); i++ {
		for j := i + 1; j < len(vectors); j++ {
			sim, err := CosineSimilarity(vectors[i], vectors[j])
			if err != nil {
				return nil, err
			}
			sims = append(sims, sim)
		}
	}
	return sims, nil
}

// MeanSimilarity is the arithmetic mean of all pairwise similarities.
// Fewer than two vectors is an error, never zero.
func MeanSimilarity(vectors [][]float32) (float64, error) {
	sims, err := PairwiseSimilarities(vectors)
	if err != nil {
		return 0, err
	}
	var sum float64
	for _, s := range sims {
		sum += s
	}
	return sum / float64(len(sims)), nil
}

// PerItemSimilarities returns, for each vector i, its mean cosine
// similarity against all j != i.
func PerItemSimilarities(vectors [][]float32) ([]float64, error) {
	if len(vectors) < 2 {
		return nil, fmt.Errorf("need at least 2 vectors, got %d", len(vectors))
	}
	perItem := make([]float64, len(vectors))
	for i := range vectors {
		var sum float64
		for j := range vectors {
			if i == j {
				continue
			}
			sim, err := CosineSimilarity(vectors[i], vectors[j])
			if err != nil {
				return nil, err
			}
			sum += sim
		}
		perItem[i] = sum / float64(len(vectors)-1)
	}
	return perItem, nil
}

package pdfquiz

import (
	"math/rand"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// Passage is one unit of source text used to ground a generated question.
// Passages are immutable once stored and replaced wholesale on re-ingestion.
type Passage string

// QuestionRecord is a single four-choice question derived from one passage.
type QuestionRecord struct {
	ID            string    `json:"id"`
	Question      string    `json:"question"`
	Choices       [4]string `json:"choices"`
	CorrectAnswer int       `json:"correct_answer"` // 1-based, in [1,4]
	CreatedAt     time.Time `json:"created_at"`
}

// Choice returns the choice text for a 1-based index, or "" if the index
// is out of range.
func (q QuestionRecord) Choice(n int) string {
	if n < 1 || n > len(q.Choices) {
		return ""
	}
	return q.Choices[n-1]
}

// CorrectText returns the text of the correct choice.
func (q QuestionRecord) CorrectText() string {
	return q.Choice(q.CorrectAnswer)
}

// QuestionBatch is an ordered sequence of questions, all derived from the
// same source passage. Failed generation attempts are recorded rather than
// aborting the batch, so len(Records)+len(Failures) equals the requested
// count.
type QuestionBatch struct {
	Passage  Passage          `json:"passage"`
	Records  []QuestionRecord `json:"records"`
	Failures []error          `json:"-"`
}

// FaithfulnessScore holds the evaluation of one question's correct answer
// against its source passage.
type FaithfulnessScore struct {
	Faithfulness float64 `json:"faithfulness"` // in [0,1]
	Relevancy    float64 `json:"relevancy"`    // in [0,1]
	Reason       string  `json:"reason"`
}

// ScoreSet is the per-batch score aggregate. It is derived, never
// persisted as the source of truth, and recomputed for every batch.
type ScoreSet struct {
	// Similarity statistics over the embeddings of the batch's correct
	// answers. MeanSimilarity is the mean pairwise cosine similarity
	// (higher = less diverse); PerItemSimilarity[i] is record i's mean
	// similarity against the rest of the batch.
	MeanSimilarity    float64   `json:"mean_similarity"`
	PerItemSimilarity []float64 `json:"per_item_similarity"`
	DiversityOK       bool      `json:"diversity_ok"`

	Faithfulness     []FaithfulnessScore `json:"faithfulness"`
	FaithfulnessMean float64             `json:"faithfulness_mean"`
	RelevancyMean    float64             `json:"relevancy_mean"`
	FaithfulnessOK   bool                `json:"faithfulness_ok"`

	// Notes carries human-readable scorer failure messages for display.
	Notes []string `json:"notes,omitempty"`
}

// Diversity is 1 minus the mean pairwise similarity, so higher means the
// generated answers are more varied.
func (s *ScoreSet) Diversity() float64 {
	return 1 - s.MeanSimilarity
}

// PipelineConfig parameterizes one quiz pipeline: temperature, variant
// count, and which scorers run.
type PipelineConfig struct {
	Model          string
	EmbeddingModel openai.EmbeddingModel
	Temperature    float32 // typical values: 0.0, 0.5, 0.6, 1.0, 1.4
	BatchSize      int     // generation attempts per passage: 1, 5, or 15
	RefinePassages bool    // rewrite raw extracted text before synthesis
	Diversity      bool    // embedding-based similarity scoring (needs BatchSize >= 2)
	Faithfulness   bool    // LLM-judge faithfulness/relevancy scoring
}

// DefaultConfig returns the standard run: five variants at temperature
// 0.5 with both scorers enabled.
func DefaultConfig() PipelineConfig {
	return PipelineConfig{
		Model:          openai.GPT4Dot1,
		EmbeddingModel: openai.SmallEmbedding3,
		Temperature:    0.5,
		BatchSize:      5,
		Diversity:      true,
		Faithfulness:   true,
	}
}

func generateID(n int) string {
	const charset = "abcdefghijklmnopqrstuvwxyz0123456789"
	b := make([]byte, n)
	for i := range b {
		b[i] = charset[rand.Intn(len(charset))]
	}
	return string(b)
}

func generateQuestionID() string { return generateID(8) }

func generateSessionID() string { return generateID(12) }

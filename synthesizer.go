package pdfquiz

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"
)

// effectiveTemperature maps 0 to the smallest positive float32. The
// request's Temperature field is tagged omitempty, so a literal 0 never
// reaches the wire and the API falls back to its default of 1.0.
func effectiveTemperature(t float32) float32 {
	if t == 0 {
		return math.SmallestNonzeroFloat32
	}
	return t
}

// ChatCompleter is the slice of the OpenAI client the pipeline needs.
// *openai.Client satisfies it.
type ChatCompleter interface {
	CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
}

// Synthesizer generates four-choice questions from a single passage using
// structured chat completions.
type Synthesizer struct {
	client ChatCompleter
	cfg    PipelineConfig
	logger *LLMLogger
}

// NewSynthesizer creates a synthesizer over the given client.
func NewSynthesizer(client ChatCompleter, cfg PipelineConfig) *Synthesizer {
	return &Synthesizer{client: client, cfg: cfg}
}

// SetLogger attaches an LLM transcript logger. May be nil.
func (s *Synthesizer) SetLogger(logger *LLMLogger) {
	s.logger = logger
}

const synthesizerInstruction = "You are a quiz author. Create one four-choice question from the passage " +
	"the user provides. The question must be grounded in the passage content. " +
	"Do not ask about page numbers or text position. Respond in JSON."

// questionSchema is the strict response schema demanded from the model:
// exactly the fields Question, Choice1..Choice4, CorrectAnswer.
var questionSchema = json.RawMessage(`{
	"type": "object",
	"properties": {
		"Question": {"type": "string"},
		"Choice1": {"type": "string"},
		"Choice2": {"type": "string"},
		"Choice3": {"type": "string"},
		"Choice4": {"type": "string"},
		"CorrectAnswer": {"type": "number"}
	},
	"required": ["Question", "Choice1", "Choice2", "Choice3", "Choice4", "CorrectAnswer"],
	"additionalProperties": false
}`)

// questionPayload mirrors the wire schema. CorrectAnswer is decoded as a
// float because the schema constrains it to "number", not "integer".
type questionPayload struct {
	Question      string  `json:"Question"`
	Choice1       string  `json:"Choice1"`
	Choice2       string  `json:"Choice2"`
	Choice3       string  `json:"Choice3"`
	Choice4       string  `json:"Choice4"`
	CorrectAnswer float64 `json:"CorrectAnswer"`
}

// Synthesize issues count independent generation requests against the
// same passage and returns the resulting batch. Each attempt is one-shot:
// a malformed response drops that single item, records a
// SynthesisParseError on the batch, and the remaining attempts continue.
// An error is returned only when every attempt failed.
func (s *Synthesizer) Synthesize(ctx context.Context, passage Passage, count int) (*QuestionBatch, error) {
	if count < 1 {
		return nil, fmt.Errorf("batch size must be at least 1, got %d", count)
	}

	VerboseLog("Synthesizing %d question(s) at temperature %.1f", count, s.cfg.Temperature)

	batch := &QuestionBatch{Passage: passage}
	for attempt := 1; attempt <= count; attempt++ {
		record, err := s.synthesizeOne(ctx, passage)
		if err != nil {
			perr := &SynthesisParseError{Attempt: attempt, Err: err}
			batch.Failures = append(batch.Failures, perr)
			VerboseLog("Attempt %d/%d failed: %v", attempt, count, err)
			continue
		}
		batch.Records = append(batch.Records, record)
	}

	if len(batch.Records) == 0 {
		return nil, fmt.Errorf("all %d generation attempts failed, first failure: %w", count, batch.Failures[0])
	}
	return batch, nil
}

func (s *Synthesizer) synthesizeOne(ctx context.Context, passage Passage) (QuestionRecord, error) {
	if s.logger != nil {
		s.logger.LogLLMRequest("Synthesizer", string(passage))
	}

	resp, err := s.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: s.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: synthesizerInstruction,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: string(passage),
				},
			},
			ResponseFormat: &openai.ChatCompletionResponseFormat{
				Type: openai.ChatCompletionResponseFormatTypeJSONSchema,
				JSONSchema: &openai.ChatCompletionResponseFormatJSONSchema{
					Name:   "QuestionData",
					Schema: questionSchema,
					Strict: true,
				},
			},
			Temperature: effectiveTemperature(s.cfg.Temperature),
		},
	)
	if err != nil {
		return QuestionRecord{}, fmt.Errorf("failed to generate question: %w", err)
	}

	if len(resp.Choices) == 0 {
		return QuestionRecord{}, fmt.Errorf("no choices in model response")
	}
	content := resp.Choices[0].Message.Content

	if s.logger != nil {
		s.logger.LogLLMResponse("Synthesizer", content)
	}

	return parseQuestionPayload(content)
}

// parseQuestionPayload validates a generation response against the fixed
// schema once, at the parse boundary. Missing fields, extra fields, empty
// choices, and an out-of-range correct answer are all rejected rather
// than coerced.
func parseQuestionPayload(content string) (QuestionRecord, error) {
	dec := json.NewDecoder(bytes.NewReader([]byte(content)))
	dec.DisallowUnknownFields()

	var payload questionPayload
	if err := dec.Decode(&payload); err != nil {
		return QuestionRecord{}, fmt.Errorf("failed to parse question JSON: %w", err)
	}

	choices := [4]string{payload.Choice1, payload.Choice2, payload.Choice3, payload.Choice4}
	for i, c := range choices {
		if strings.TrimSpace(c) == "" {
			return QuestionRecord{}, fmt.Errorf("Choice%d is empty", i+1)
		}
	}
	if strings.TrimSpace(payload.Question) == "" {
		return QuestionRecord{}, fmt.Errorf("Question is empty")
	}

	correct := int(payload.CorrectAnswer)
	if float64(correct) != payload.CorrectAnswer || correct < 1 || correct > 4 {
		return QuestionRecord{}, fmt.Errorf("CorrectAnswer %v is not an integer in [1,4]", payload.CorrectAnswer)
	}

	return QuestionRecord{
		ID:            generateQuestionID(),
		Question:      payload.Question,
		Choices:       choices,
		CorrectAnswer: correct,
		CreatedAt:     time.Now(),
	}, nil
}

const refineInstruction = "You are an editor of study material. Rewrite the text the user provides " +
	"into clear, natural prose that reads on its own. Fill in broken sentence joins, keep proper " +
	"nouns exact, and do not invent new facts."

// RefinePassage rewrites a raw extracted passage into readable prose at
// temperature 0. On failure the original passage is returned along with
// the error so the caller can fall back to the raw text.
func (s *Synthesizer) RefinePassage(ctx context.Context, passage Passage) (Passage, error) {
	resp, err := s.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: s.cfg.Model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role:    openai.ChatMessageRoleSystem,
					Content: refineInstruction,
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: string(passage),
				},
			},
			Temperature: effectiveTemperature(0),
		},
	)
	if err != nil {
		return passage, fmt.Errorf("failed to refine passage: %w", err)
	}
	if len(resp.Choices) == 0 {
		return passage, fmt.Errorf("no choices in refine response")
	}

	refined := strings.TrimSpace(resp.Choices[0].Message.Content)
	if refined == "" {
		return passage, fmt.Errorf("refine response is empty")
	}
	return Passage(refined), nil
}

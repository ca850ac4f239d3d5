package pdfquiz

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"
)

// FaithfulnessScorer judges whether a generated answer is supported by
// its source passage. The judgment itself is delegated to the model; this
// type only owns the call contract: one (question, answer, context)
// triple in, one score pair in [0,1] out.
type FaithfulnessScorer struct {
	client ChatCompleter
	model  string
	logger *LLMLogger
}

// NewFaithfulnessScorer creates a scorer over the given client.
func NewFaithfulnessScorer(client ChatCompleter, model string) *FaithfulnessScorer {
	return &FaithfulnessScorer{client: client, model: model}
}

// SetLogger attaches an LLM transcript logger. May be nil.
func (f *FaithfulnessScorer) SetLogger(logger *LLMLogger) {
	f.logger = logger
}

// Score evaluates one question/answer/context triple synchronously.
// Failures are EvaluationErrors; there is no partial-credit fallback and
// no retry.
func (f *FaithfulnessScorer) Score(ctx context.Context, question, answer, context_ string) (FaithfulnessScore, error) {
	prompt := f.buildPrompt(question, answer, context_)

	if f.logger != nil {
		f.logger.LogLLMRequest("FaithfulnessScorer", prompt)
	}

	resp, err := f.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model: f.model,
			Messages: []openai.ChatCompletionMessage{
				{
					Role: openai.ChatMessageRoleSystem,
					Content: "You are a strict grader of question-answering systems. Judge whether an answer " +
						"is supported by the given context and how relevant it is to the question.",
				},
				{
					Role:    openai.ChatMessageRoleUser,
					Content: prompt,
				},
			},
			Tools: []openai.Tool{
				{
					Type: openai.ToolTypeFunction,
					Function: &openai.FunctionDefinition{
						Name:        "report_scores",
						Description: "Report the faithfulness and relevancy scores for the answer",
						Parameters: map[string]interface{}{
							"type": "object",
							"properties": map[string]interface{}{
								"faithfulness": map[string]interface{}{
									"type":        "number",
									"description": "Degree to which the answer is supported by the context, from 0.0 to 1.0",
								},
								"relevancy": map[string]interface{}{
									"type":        "number",
									"description": "Degree to which the answer addresses the question, from 0.0 to 1.0",
								},
								"reason": map[string]interface{}{
									"type":        "string",
									"description": "One-sentence justification for the scores",
								},
							},
							"required": []string{"faithfulness", "relevancy", "reason"},
						},
					},
				},
			},
			ToolChoice: openai.ToolChoice{
				Type: openai.ToolTypeFunction,
				Function: openai.ToolFunction{
					Name: "report_scores",
				},
			},
			Temperature: effectiveTemperature(0),
		},
	)
	if err != nil {
		return FaithfulnessScore{}, &EvaluationError{Err: err}
	}

	if len(resp.Choices) == 0 {
		return FaithfulnessScore{}, &EvaluationError{Err: fmt.Errorf("no choices in response")}
	}
	choice := resp.Choices[0]
	if len(choice.Message.ToolCalls) == 0 {
		return FaithfulnessScore{}, &EvaluationError{Err: fmt.Errorf("no tool calls in response")}
	}
	toolCall := choice.Message.ToolCalls[0]
	if toolCall.Function.Name != "report_scores" {
		return FaithfulnessScore{}, &EvaluationError{Err: fmt.Errorf("unexpected tool call: %s", toolCall.Function.Name)}
	}

	if f.logger != nil {
		f.logger.LogLLMResponse("FaithfulnessScorer", toolCall.Function.Arguments)
	}

	var toolArgs struct {
		Faithfulness float64 `json:"faithfulness"`
		Relevancy    float64 `json:"relevancy"`
		Reason       string  `json:"reason"`
	}
	if err := json.Unmarshal([]byte(toolCall.Function.Arguments), &toolArgs); err != nil {
		return FaithfulnessScore{}, &EvaluationError{Err: fmt.Errorf("failed to parse tool arguments: %w", err)}
	}

	if toolArgs.Faithfulness < 0 || toolArgs.Faithfulness > 1 {
		return FaithfulnessScore{}, &EvaluationError{Err: fmt.Errorf("faithfulness %v outside [0,1]", toolArgs.Faithfulness)}
	}
	if toolArgs.Relevancy < 0 || toolArgs.Relevancy > 1 {
		return FaithfulnessScore{}, &EvaluationError{Err: fmt.Errorf("relevancy %v outside [0,1]", toolArgs.Relevancy)}
	}

	score := FaithfulnessScore{
		Faithfulness: toolArgs.Faithfulness,
		Relevancy:    toolArgs.Relevancy,
		Reason:       toolArgs.Reason,
	}
	VerboseLog("Faithfulness %.2f, relevancy %.2f: %s", score.Faithfulness, score.Relevancy, score.Reason)
	return score, nil
}

// ScoreBatch evaluates every record's correct answer against the batch's
// source passage and returns the per-record scores plus both means. Any
// single failure fails the whole score set: score display degrades to
// unavailable, but the questions themselves remain usable.
func (f *FaithfulnessScorer) ScoreBatch(ctx context.Context, batch *QuestionBatch) ([]FaithfulnessScore, float64, float64, error) {
	if len(batch.Records) == 0 {
		return nil, 0, 0, &EvaluationError{Err: fmt.Errorf("empty batch")}
	}

	scores := make([]FaithfulnessScore, 0, len(batch.Records))
	var faithSum, relSum float64
	for _, rec := range batch.Records {
		score, err := f.Score(ctx, rec.Question, rec.CorrectText(), string(batch.Passage))
		if err != nil {
			return nil, 0, 0, err
		}
		scores = append(scores, score)
		faithSum += score.Faithfulness
		relSum += score.Relevancy
	}

	n := float64(len(scores))
	return scores, faithSum / n, relSum / n, nil
}

func (f *FaithfulnessScorer) buildPrompt(question, answer, context_ string) string {
	var sb strings.Builder

	sb.WriteString("Evaluate the following answer.\n\n")
	sb.WriteString(fmt.Sprintf("Question: %s\n\n", question))
	sb.WriteString(fmt.Sprintf("Answer: %s\n\n", answer))
	sb.WriteString(fmt.Sprintf("Context:\n%s\n\n", context_))

	sb.WriteString("Scoring rules:\n")
	sb.WriteString("- faithfulness: 1.0 if every claim in the answer is stated in or directly entailed by the context, ")
	sb.WriteString("0.0 if the context gives no support at all. Score partial support proportionally.\n")
	sb.WriteString("- relevancy: 1.0 if the answer fully addresses the question, 0.0 if it is off-topic.\n")
	sb.WriteString("- Judge only against the given context. Outside knowledge must not raise the faithfulness score.\n\n")
	sb.WriteString("Report the scores using the report_scores tool.")

	return sb.String()
}

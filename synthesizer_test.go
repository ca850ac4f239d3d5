package pdfquiz

import (
	"context"
	"encoding/json"
	"errors"
	"math"
	"strings"
	"testing"

	openai "github.com/sashabaranov/go-openai"
)

// fakeChat replays a scripted sequence of chat completion results.
type fakeChat struct {
	script []func(req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error)
	calls  int
	reqs   []openai.ChatCompletionRequest
}

func (f *fakeChat) CreateChatCompletion(ctx context.Context, req openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	f.reqs = append(f.reqs, req)
	idx := f.calls
	f.calls++
	if idx >= len(f.script) {
		idx = len(f.script) - 1
	}
	return f.script[idx](req)
}

func contentResponse(content string) func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{
			Choices: []openai.ChatCompletionChoice{
				{Message: openai.ChatCompletionMessage{Content: content}},
			},
		}, nil
	}
}

func failResponse(err error) func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
	return func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error) {
		return openai.ChatCompletionResponse{}, err
	}
}

const validQuestionJSON = `{
	"Question": "Which river is described in the passage?",
	"Choice1": "The Mukogawa",
	"Choice2": "The Yodogawa",
	"Choice3": "The Kakogawa",
	"Choice4": "The Ibogawa",
	"CorrectAnswer": 2
}`

func testConfig() PipelineConfig {
	cfg := DefaultConfig()
	cfg.Temperature = 1.4
	return cfg
}

func TestSynthesize_FullBatch(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		contentResponse(validQuestionJSON),
	}}
	s := NewSynthesizer(chat, testConfig())

	batch, err := s.Synthesize(context.Background(), "some passage", 3)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if chat.calls != 3 {
		t.Errorf("expected 3 API calls, got %d", chat.calls)
	}
	if len(batch.Records) != 3 {
		t.Fatalf("expected 3 records, got %d", len(batch.Records))
	}
	if len(batch.Failures) != 0 {
		t.Errorf("expected no failures, got %v", batch.Failures)
	}
	for i, rec := range batch.Records {
		if rec.CorrectAnswer != 2 {
			t.Errorf("record %d: CorrectAnswer = %d, want 2", i, rec.CorrectAnswer)
		}
		if rec.CorrectText() != "The Yodogawa" {
			t.Errorf("record %d: CorrectText = %q", i, rec.CorrectText())
		}
		if rec.ID == "" {
			t.Errorf("record %d has no ID", i)
		}
	}
	if batch.Passage != "some passage" {
		t.Errorf("batch passage = %q", batch.Passage)
	}
}

func TestSynthesize_RequestShape(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		contentResponse(validQuestionJSON),
	}}
	cfg := testConfig()
	s := NewSynthesizer(chat, cfg)

	if _, err := s.Synthesize(context.Background(), "the passage text", 1); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	req := chat.reqs[0]
	if req.Model != cfg.Model {
		t.Errorf("model = %q, want %q", req.Model, cfg.Model)
	}
	if req.Temperature != cfg.Temperature {
		t.Errorf("temperature = %v, want %v", req.Temperature, cfg.Temperature)
	}
	if req.ResponseFormat == nil || req.ResponseFormat.Type != openai.ChatCompletionResponseFormatTypeJSONSchema {
		t.Fatalf("expected a JSON-schema response format, got %+v", req.ResponseFormat)
	}
	if req.ResponseFormat.JSONSchema.Name != "QuestionData" {
		t.Errorf("schema name = %q", req.ResponseFormat.JSONSchema.Name)
	}
	if !req.ResponseFormat.JSONSchema.Strict {
		t.Error("schema is not strict")
	}
	if len(req.Messages) != 2 || req.Messages[1].Content != "the passage text" {
		t.Errorf("unexpected messages: %+v", req.Messages)
	}
}

func TestSynthesize_PartialBatchContinues(t *testing.T) {
	ok := contentResponse(validQuestionJSON)
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		ok,
		ok,
		contentResponse(`{"broken`),
		ok,
		ok,
	}}
	s := NewSynthesizer(chat, testConfig())

	batch, err := s.Synthesize(context.Background(), "passage", 5)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	if len(batch.Records) != 4 {
		t.Errorf("expected 4 valid records, got %d", len(batch.Records))
	}
	if len(batch.Failures) != 1 {
		t.Fatalf("expected 1 recorded failure, got %d", len(batch.Failures))
	}
	var parseErr *SynthesisParseError
	if !errors.As(batch.Failures[0], &parseErr) {
		t.Fatalf("expected SynthesisParseError, got %v", batch.Failures[0])
	}
	if parseErr.Attempt != 3 {
		t.Errorf("failure attempt = %d, want 3", parseErr.Attempt)
	}
	if chat.calls != 5 {
		t.Errorf("expected 5 attempts despite the failure, got %d", chat.calls)
	}
}

func TestSynthesize_TransportFailureIsRecorded(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		failResponse(errors.New("rate limited")),
		contentResponse(validQuestionJSON),
	}}
	s := NewSynthesizer(chat, testConfig())

	batch, err := s.Synthesize(context.Background(), "passage", 2)
	if err != nil {
		t.Fatalf("Synthesize: %v", err)
	}
	if len(batch.Records) != 1 || len(batch.Failures) != 1 {
		t.Errorf("got %d records, %d failures", len(batch.Records), len(batch.Failures))
	}
}

func TestSynthesize_AllAttemptsFailed(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		contentResponse("not json at all"),
	}}
	s := NewSynthesizer(chat, testConfig())

	_, err := s.Synthesize(context.Background(), "passage", 3)
	if err == nil {
		t.Fatal("expected an error when every attempt fails")
	}
	var parseErr *SynthesisParseError
	if !errors.As(err, &parseErr) {
		t.Errorf("expected the error to wrap a SynthesisParseError, got %v", err)
	}
}

func TestParseQuestionPayload_Rejections(t *testing.T) {
	cases := []struct {
		name    string
		content string
	}{
		{"extra field", `{"Question":"q","Choice1":"a","Choice2":"b","Choice3":"c","Choice4":"d","CorrectAnswer":1,"Hint":"nope"}`},
		{"missing choice", `{"Question":"q","Choice1":"a","Choice2":"b","Choice3":"c","CorrectAnswer":1}`},
		{"empty question", `{"Question":"  ","Choice1":"a","Choice2":"b","Choice3":"c","Choice4":"d","CorrectAnswer":1}`},
		{"answer zero", `{"Question":"q","Choice1":"a","Choice2":"b","Choice3":"c","Choice4":"d","CorrectAnswer":0}`},
		{"answer five", `{"Question":"q","Choice1":"a","Choice2":"b","Choice3":"c","Choice4":"d","CorrectAnswer":5}`},
		{"fractional answer", `{"Question":"q","Choice1":"a","Choice2":"b","Choice3":"c","Choice4":"d","CorrectAnswer":2.5}`},
		{"string answer", `{"Question":"q","Choice1":"a","Choice2":"b","Choice3":"c","Choice4":"d","CorrectAnswer":"2"}`},
		{"not an object", `[1,2,3]`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := parseQuestionPayload(tc.content); err == nil {
				t.Errorf("expected %s to be rejected", tc.name)
			}
		})
	}
}

func TestParseQuestionPayload_Valid(t *testing.T) {
	rec, err := parseQuestionPayload(validQuestionJSON)
	if err != nil {
		t.Fatalf("parseQuestionPayload: %v", err)
	}
	if rec.Question != "Which river is described in the passage?" {
		t.Errorf("question = %q", rec.Question)
	}
	if rec.Choices != [4]string{"The Mukogawa", "The Yodogawa", "The Kakogawa", "The Ibogawa"} {
		t.Errorf("choices = %v", rec.Choices)
	}
	if rec.CorrectAnswer != 2 {
		t.Errorf("correct answer = %d", rec.CorrectAnswer)
	}
}

func TestRefinePassage(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		contentResponse("  A cleaned up passage.  "),
	}}
	s := NewSynthesizer(chat, testConfig())

	refined, err := s.RefinePassage(context.Background(), "raw ocr text")
	if err != nil {
		t.Fatalf("RefinePassage: %v", err)
	}
	if refined != "A cleaned up passage." {
		t.Errorf("refined = %q", refined)
	}
	if chat.reqs[0].Temperature != math.SmallestNonzeroFloat32 {
		t.Errorf("refine temperature = %v, want effective zero", chat.reqs[0].Temperature)
	}
	if !strings.Contains(chat.reqs[0].Messages[0].Content, "editor") {
		t.Errorf("unexpected system prompt: %q", chat.reqs[0].Messages[0].Content)
	}
}

func TestRefinePassage_FailureReturnsOriginal(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		failResponse(errors.New("boom")),
	}}
	s := NewSynthesizer(chat, testConfig())

	refined, err := s.RefinePassage(context.Background(), "raw text")
	if err == nil {
		t.Fatal("expected an error")
	}
	if refined != "raw text" {
		t.Errorf("expected the original passage back, got %q", refined)
	}
}

// wireTemperature marshals a request the way the client does and returns
// the serialized temperature value, or ok=false when the key was dropped.
func wireTemperature(t *testing.T, req openai.ChatCompletionRequest) (float64, bool) {
	t.Helper()
	data, err := json.Marshal(req)
	if err != nil {
		t.Fatalf("marshal request: %v", err)
	}
	var wire map[string]json.RawMessage
	if err := json.Unmarshal(data, &wire); err != nil {
		t.Fatalf("unmarshal request: %v", err)
	}
	raw, ok := wire["temperature"]
	if !ok {
		return 0, false
	}
	var v float64
	if err := json.Unmarshal(raw, &v); err != nil {
		t.Fatalf("unmarshal temperature: %v", err)
	}
	return v, true
}

func TestSynthesize_TemperatureZeroReachesWire(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		contentResponse(validQuestionJSON),
	}}
	cfg := testConfig()
	cfg.Temperature = 0
	s := NewSynthesizer(chat, cfg)

	if _, err := s.Synthesize(context.Background(), "some passage", 1); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	v, ok := wireTemperature(t, chat.reqs[0])
	if !ok {
		t.Fatal("temperature key missing from the serialized request")
	}
	if v <= 0 || v > 1e-6 {
		t.Errorf("wire temperature = %v, want a positive effective zero", v)
	}
}

func TestRefinePassage_TemperatureReachesWire(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		contentResponse("cleaned"),
	}}
	s := NewSynthesizer(chat, testConfig())

	if _, err := s.RefinePassage(context.Background(), "raw"); err != nil {
		t.Fatalf("RefinePassage: %v", err)
	}

	v, ok := wireTemperature(t, chat.reqs[0])
	if !ok {
		t.Fatal("temperature key missing from the serialized refine request")
	}
	if v <= 0 || v > 1e-6 {
		t.Errorf("wire temperature = %v, want a positive effective zero", v)
	}
}

func TestSynthesize_NonZeroTemperaturePassedThrough(t *testing.T) {
	chat := &fakeChat{script: []func(openai.ChatCompletionRequest) (openai.ChatCompletionResponse, error){
		contentResponse(validQuestionJSON),
	}}
	s := NewSynthesizer(chat, testConfig())

	if _, err := s.Synthesize(context.Background(), "some passage", 1); err != nil {
		t.Fatalf("Synthesize: %v", err)
	}

	v, ok := wireTemperature(t, chat.reqs[0])
	if !ok {
		t.Fatal("temperature key missing from the serialized request")
	}
	if v < 1.39 || v > 1.41 {
		t.Errorf("wire temperature = %v, want 1.4", v)
	}
}

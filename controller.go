package pdfquiz

import (
	"context"
	"fmt"
	"io"
	"log"
	"sync"
)

// SessionPhase is the state of one quiz session.
type SessionPhase string

const (
	PhaseEmpty       SessionPhase = "empty"        // no passages loaded
	PhaseReady       SessionPhase = "ready"        // passages loaded, no active batch
	PhaseBatchActive SessionPhase = "batch_active" // batch generated and scored, awaiting an answer
	PhaseAnswered    SessionPhase = "answered"     // answer submitted, correctness shown
)

// SessionState holds everything a session knows: the loaded passages, the
// active batch and its scores, and the phase. It is owned exclusively by
// the Controller and fully replaced each batch cycle.
type SessionState struct {
	Phase    SessionPhase
	Passages []Passage
	Batch    *QuestionBatch
	Scores   *ScoreSet
}

// AnswerResult is the outcome of submitting a choice.
type AnswerResult struct {
	Selected      int
	Correct       bool
	CorrectChoice int
	CorrectText   string
	Explanation   string // the source passage
}

// Controller orchestrates passage selection, batch synthesis, and scoring
// for one quiz session. The session is single-flight: no concurrent
// batches exist, and the mutex only guards against overlapping HTTP
// requests touching the same session.
type Controller struct {
	mu sync.Mutex

	cfg       PipelineConfig
	extractor Extractor
	synth     *Synthesizer
	diversity *DiversityScorer
	faith     *FaithfulnessScorer
	history   *DB // optional
	logger    *LLMLogger
	sessionID string

	state SessionState

	// pick selects the next passage; injectable for tests.
	pick func([]Passage) Passage
}

// NewController wires a controller from one shared OpenAI-compatible
// client. The history DB may be nil.
func NewController(client interface {
	ChatCompleter
	Embedder
}, extractor Extractor, cfg PipelineConfig, history *DB) *Controller {
	return &Controller{
		cfg:       cfg,
		extractor: extractor,
		synth:     NewSynthesizer(client, cfg),
		diversity: NewDiversityScorer(client, cfg.EmbeddingModel),
		faith:     NewFaithfulnessScorer(client, cfg.Model),
		history:   history,
		sessionID: generateSessionID(),
		state:     SessionState{Phase: PhaseEmpty},
		pick:      PickPassage,
	}
}

// SessionID identifies this session in logs and the history store.
func (c *Controller) SessionID() string { return c.sessionID }

// SetLogger attaches an LLM transcript logger to both LLM-backed stages
// and to the controller's own score reporting.
func (c *Controller) SetLogger(logger *LLMLogger) {
	c.logger = logger
	c.synth.SetLogger(logger)
	c.faith.SetLogger(logger)
}

// Phase returns the current session phase.
func (c *Controller) Phase() SessionPhase {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Phase
}

// PassageCount returns the number of loaded passages.
func (c *Controller) PassageCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.state.Passages)
}

// Load ingests a document, persists the passages to persistPath, and
// moves the session to READY. Any previous passages, batch, and scores
// are discarded wholesale.
func (c *Controller) Load(r io.ReaderAt, size int64, persistPath string) (int, error) {
	passages, err := ExtractPassages(c.extractor, r, size)
	if err != nil {
		return 0, err
	}
	if len(passages) == 0 {
		return 0, &ExtractionError{Err: fmt.Errorf("document contains no usable text")}
	}
	if err := SavePassages(persistPath, passages); err != nil {
		return 0, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = SessionState{Phase: PhaseReady, Passages: passages}

	if c.history != nil {
		if err := c.history.CreateSession(c.sessionID, persistPath, len(passages)); err != nil {
			log.Printf("Failed to record session %s: %v", c.sessionID, err)
		}
	}

	VerboseLog("Loaded %d passages into session %s", len(passages), c.sessionID)
	return len(passages), nil
}

// LoadStored resumes from a previously persisted passage file.
func (c *Controller) LoadStored(path string) (int, error) {
	passages, err := LoadPassages(path)
	if err != nil {
		return 0, err
	}
	if len(passages) == 0 {
		return 0, &DecodeError{Path: path, Err: fmt.Errorf("no passages in file")}
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	c.state = SessionState{Phase: PhaseReady, Passages: passages}
	return len(passages), nil
}

// RequestBatch picks one passage, synthesizes the configured number of
// question variants, and scores the batch. On success the session becomes
// BATCH_ACTIVE with a fresh batch and score set. On failure the previous
// batch, if any, stays untouched.
func (c *Controller) RequestBatch(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requestBatchLocked(ctx)
}

func (c *Controller) requestBatchLocked(ctx context.Context) error {
	switch c.state.Phase {
	case PhaseReady, PhaseBatchActive:
	default:
		return fmt.Errorf("cannot request a batch in phase %q", c.state.Phase)
	}

	passage := c.pick(c.state.Passages)

	if c.cfg.RefinePassages {
		refined, err := c.synth.RefinePassage(ctx, passage)
		if err != nil {
			// Fall back to the raw extracted text.
			log.Printf("Passage refinement failed, using raw text: %v", err)
		}
		passage = refined
	}

	batch, err := c.synth.Synthesize(ctx, passage, c.cfg.BatchSize)
	if err != nil {
		return err
	}
	for _, failure := range batch.Failures {
		log.Printf("Session %s: %v", c.sessionID, failure)
	}

	scores, err := c.scoreBatch(ctx, batch)
	if err != nil {
		return err
	}
	if c.logger != nil {
		c.logger.LogScores(scores)
	}

	c.state.Batch = batch
	c.state.Scores = scores
	c.state.Phase = PhaseBatchActive

	if c.history != nil {
		if err := c.history.RecordBatch(c.sessionID, batch, scores); err != nil {
			log.Printf("Failed to record batch for session %s: %v", c.sessionID, err)
		}
	}
	return nil
}

// scoreBatch attaches a ScoreSet to a freshly synthesized batch. An
// embedding contract violation is fatal for the batch; a faithfulness
// evaluation failure only degrades the score display.
func (c *Controller) scoreBatch(ctx context.Context, batch *QuestionBatch) (*ScoreSet, error) {
	scores := &ScoreSet{}

	if c.cfg.Diversity && len(batch.Records) >= 2 {
		mean, perItem, err := c.diversity.ScoreBatch(ctx, batch)
		if err != nil {
			return nil, err
		}
		scores.MeanSimilarity = mean
		scores.PerItemSimilarity = perItem
		scores.DiversityOK = true
	} else if c.cfg.Diversity {
		scores.Notes = append(scores.Notes, fmt.Sprintf("diversity not computed: batch has %d question(s)", len(batch.Records)))
	}

	if c.cfg.Faithfulness {
		perRecord, faithMean, relMean, err := c.faith.ScoreBatch(ctx, batch)
		if err != nil {
			log.Printf("Session %s: faithfulness unavailable: %v", c.sessionID, err)
			scores.Notes = append(scores.Notes, fmt.Sprintf("faithfulness unavailable: %v", err))
		} else {
			scores.Faithfulness = perRecord
			scores.FaithfulnessMean = faithMean
			scores.RelevancyMean = relMean
			scores.FaithfulnessOK = true
		}
	}

	return scores, nil
}

// CurrentQuestion returns the question being presented: the first record
// of the active batch. The remaining variants exist to be scored, not
// shown.
func (c *Controller) CurrentQuestion() (QuestionRecord, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Batch == nil || len(c.state.Batch.Records) == 0 {
		return QuestionRecord{}, false
	}
	return c.state.Batch.Records[0], true
}

// CurrentScores returns the active batch's score set. After Advance the
// previous set is gone, never served stale.
func (c *Controller) CurrentScores() (*ScoreSet, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state.Scores == nil {
		return nil, false
	}
	return c.state.Scores, true
}

// SubmitAnswer compares a 1-based choice against the presented question.
// Pure comparison, no external calls.
func (c *Controller) SubmitAnswer(choice int) (AnswerResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.state.Phase != PhaseBatchActive {
		return AnswerResult{}, fmt.Errorf("cannot submit an answer in phase %q", c.state.Phase)
	}
	if choice < 1 || choice > 4 {
		return AnswerResult{}, fmt.Errorf("choice %d out of range [1,4]", choice)
	}

	question := c.state.Batch.Records[0]
	result := AnswerResult{
		Selected:      choice,
		Correct:       choice == question.CorrectAnswer,
		CorrectChoice: question.CorrectAnswer,
		CorrectText:   question.CorrectText(),
		Explanation:   string(c.state.Batch.Passage),
	}
	c.state.Phase = PhaseAnswered

	if c.history != nil {
		if err := c.history.RecordAnswer(question.ID, choice, result.Correct); err != nil {
			log.Printf("Failed to record answer for question %s: %v", question.ID, err)
		}
	}
	return result, nil
}

// Advance discards the current batch and score set and generates a new
// batch from a newly picked passage.
func (c *Controller) Advance(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state.Phase {
	case PhaseBatchActive, PhaseAnswered:
	default:
		return fmt.Errorf("cannot advance in phase %q", c.state.Phase)
	}

	c.state.Batch = nil
	c.state.Scores = nil
	c.state.Phase = PhaseReady

	return c.requestBatchLocked(ctx)
}

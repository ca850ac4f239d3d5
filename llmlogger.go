package pdfquiz

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// LLMLogger writes a transcript of all LLM interactions for one session
// to log/<session>.log.
type LLMLogger struct {
	file      *os.File
	mu        sync.Mutex
	sessionID string
}

// NewLLMLogger creates a transcript logger for a session.
func NewLLMLogger(sessionID string, cfg PipelineConfig) (*LLMLogger, error) {
	if err := os.MkdirAll("log", 0755); err != nil {
		return nil, fmt.Errorf("failed to create log directory: %w", err)
	}

	filename := filepath.Join("log", fmt.Sprintf("%s.log", sessionID))
	file, err := os.Create(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to create log file: %w", err)
	}

	logger := &LLMLogger{
		file:      file,
		sessionID: sessionID,
	}

	logger.Logf("=== Quiz Session Log ===\n")
	logger.Logf("Session ID: %s\n", sessionID)
	logger.Logf("Model: %s\n", cfg.Model)
	logger.Logf("Embedding Model: %s\n", cfg.EmbeddingModel)
	logger.Logf("Temperature: %.1f\n", cfg.Temperature)
	logger.Logf("Batch Size: %d\n", cfg.BatchSize)
	logger.Logf("Scorers: diversity=%v faithfulness=%v\n", cfg.Diversity, cfg.Faithfulness)
	logger.Logf("Started: %s\n", time.Now().Format(time.RFC3339))
	logger.Logf("========================\n\n")

	return logger, nil
}

// Logf writes a formatted log entry with timestamp
func (ll *LLMLogger) Logf(format string, args ...interface{}) {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	timestamp := time.Now().Format("15:04:05.000")
	message := fmt.Sprintf(format, args...)

	fmt.Fprintf(ll.file, "[%s] %s", timestamp, message)
	ll.file.Sync()
}

// LogLLMRequest logs an LLM request
func (ll *LLMLogger) LogLLMRequest(stage, prompt string) {
	ll.Logf("=== LLM REQUEST (%s) ===\n", stage)
	ll.Logf("Prompt:\n%s\n", prompt)
	ll.Logf("=====================\n\n")
}

// LogLLMResponse logs an LLM response
func (ll *LLMLogger) LogLLMResponse(stage, response string) {
	ll.Logf("=== LLM RESPONSE (%s) ===\n", stage)
	ll.Logf("Response:\n%s\n", response)
	ll.Logf("======================\n\n")
}

// LogScores logs the score set attached to a batch.
func (ll *LLMLogger) LogScores(scores *ScoreSet) {
	if scores.DiversityOK {
		ll.Logf("Mean similarity: %.4f (diversity %.4f)\n", scores.MeanSimilarity, scores.Diversity())
	}
	if scores.FaithfulnessOK {
		ll.Logf("Faithfulness mean: %.4f, relevancy mean: %.4f\n", scores.FaithfulnessMean, scores.RelevancyMean)
	}
	for _, note := range scores.Notes {
		ll.Logf("Score note: %s\n", note)
	}
}

// Close closes the log file
func (ll *LLMLogger) Close() error {
	ll.mu.Lock()
	defer ll.mu.Unlock()

	if ll.file != nil {
		timestamp := time.Now().Format("15:04:05.000")
		fmt.Fprintf(ll.file, "[%s] === Session Complete: %s ===\n", timestamp, time.Now().Format(time.RFC3339))
		return ll.file.Close()
	}
	return nil
}

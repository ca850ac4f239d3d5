package pdfquiz

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// DB records quiz history: one row per session, one per generated batch,
// one per question, plus the answer once the user submits one. The live
// session state never reads from here; this is a record, not a cache.
type DB struct {
	db *sql.DB
}

// SessionRow is a session as stored in the database.
type SessionRow struct {
	ID          string    `json:"id"`
	PassageFile string    `json:"passage_file"`
	NumPassages int       `json:"num_passages"`
	CreatedAt   time.Time `json:"created_at"`
}

// BatchRow is a generated batch as stored in the database.
type BatchRow struct {
	ID               string    `json:"id"`
	SessionID        string    `json:"session_id"`
	Passage          string    `json:"passage"`
	NumQuestions     int       `json:"num_questions"`
	NumFailures      int       `json:"num_failures"`
	MeanSimilarity   *float64  `json:"mean_similarity,omitempty"`
	FaithfulnessMean *float64  `json:"faithfulness_mean,omitempty"`
	RelevancyMean    *float64  `json:"relevancy_mean,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
}

// QuestionRow is a question as stored in the database.
type QuestionRow struct {
	ID            string `json:"id"`
	BatchID       string `json:"batch_id"`
	QuestionNum   int    `json:"question_num"`
	Text          string `json:"text"`
	Choices       string `json:"choices"` // JSON array of 4 strings
	CorrectAnswer int    `json:"correct_answer"`
	UserAnswer    *int   `json:"user_answer,omitempty"`
	WasCorrect    *bool  `json:"was_correct,omitempty"`
}

// OpenDB opens a new history database connection
func OpenDB(dbPath string) (*DB, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// Test the connection
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &DB{db: db}, nil
}

// CloseDB closes the database connection
func (db *DB) CloseDB() error {
	return db.db.Close()
}

// CreateTables creates the necessary tables if they don't exist
func (db *DB) CreateTables() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			passage_file TEXT NOT NULL,
			num_passages INTEGER NOT NULL,
			created_at DATETIME NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS batches (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			passage TEXT NOT NULL,
			num_questions INTEGER NOT NULL,
			num_failures INTEGER NOT NULL,
			mean_similarity REAL,
			faithfulness_mean REAL,
			relevancy_mean REAL,
			created_at DATETIME NOT NULL,
			FOREIGN KEY (session_id) REFERENCES sessions(id)
		)`,
		`CREATE TABLE IF NOT EXISTS batch_questions (
			id TEXT PRIMARY KEY,
			batch_id TEXT NOT NULL,
			question_num INTEGER NOT NULL,
			text TEXT NOT NULL,
			choices TEXT NOT NULL,
			correct_answer INTEGER NOT NULL,
			user_answer INTEGER,
			was_correct INTEGER,
			FOREIGN KEY (batch_id) REFERENCES batches(id)
		)`,
	}

	for _, query := range queries {
		if _, err := db.db.Exec(query); err != nil {
			return fmt.Errorf("failed to execute %s: %w", query, err)
		}
	}
	return nil
}

// CreateSession records a new session.
func (db *DB) CreateSession(id, passageFile string, numPassages int) error {
	_, err := db.db.Exec(
		"INSERT INTO sessions (id, passage_file, num_passages, created_at) VALUES (?, ?, ?, ?)",
		id, passageFile, numPassages, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to create session: %w", err)
	}
	return nil
}

// RecordBatch records a generated batch, its questions, and its scores.
func (db *DB) RecordBatch(sessionID string, batch *QuestionBatch, scores *ScoreSet) error {
	batchID := generateSessionID()

	var meanSim, faithMean, relMean *float64
	if scores != nil && scores.DiversityOK {
		meanSim = &scores.MeanSimilarity
	}
	if scores != nil && scores.FaithfulnessOK {
		faithMean = &scores.FaithfulnessMean
		relMean = &scores.RelevancyMean
	}

	_, err := db.db.Exec(
		`INSERT INTO batches (id, session_id, passage, num_questions, num_failures,
			mean_similarity, faithfulness_mean, relevancy_mean, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		batchID, sessionID, string(batch.Passage), len(batch.Records), len(batch.Failures),
		meanSim, faithMean, relMean, time.Now(),
	)
	if err != nil {
		return fmt.Errorf("failed to record batch: %w", err)
	}

	for i, rec := range batch.Records {
		choicesJSON, err := ChoicesToJSON(rec.Choices)
		if err != nil {
			return err
		}
		_, err = db.db.Exec(
			"INSERT INTO batch_questions (id, batch_id, question_num, text, choices, correct_answer) VALUES (?, ?, ?, ?, ?, ?)",
			rec.ID, batchID, i+1, rec.Question, choicesJSON, rec.CorrectAnswer,
		)
		if err != nil {
			return fmt.Errorf("failed to record question: %w", err)
		}
	}
	return nil
}

// RecordAnswer stores the user's submitted choice for a question.
func (db *DB) RecordAnswer(questionID string, answer int, correct bool) error {
	_, err := db.db.Exec(
		"UPDATE batch_questions SET user_answer = ?, was_correct = ? WHERE id = ?",
		answer, correct, questionID,
	)
	if err != nil {
		return fmt.Errorf("failed to record answer: %w", err)
	}
	return nil
}

// GetSessions retrieves all sessions, newest first, optionally limited.
func (db *DB) GetSessions(limit int) ([]SessionRow, error) {
	query := "SELECT id, passage_file, num_passages, created_at FROM sessions ORDER BY created_at DESC"
	if limit > 0 {
		query += fmt.Sprintf(" LIMIT %d", limit)
	}

	rows, err := db.db.Query(query)
	if err != nil {
		return nil, fmt.Errorf("failed to get sessions: %w", err)
	}
	defer rows.Close()

	var sessions []SessionRow
	for rows.Next() {
		var s SessionRow
		if err := rows.Scan(&s.ID, &s.PassageFile, &s.NumPassages, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, s)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating sessions: %w", err)
	}
	return sessions, nil
}

// GetBatches retrieves all batches for a session, oldest first.
func (db *DB) GetBatches(sessionID string) ([]BatchRow, error) {
	rows, err := db.db.Query(
		`SELECT id, session_id, passage, num_questions, num_failures,
			mean_similarity, faithfulness_mean, relevancy_mean, created_at
		FROM batches WHERE session_id = ? ORDER BY created_at`,
		sessionID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get batches: %w", err)
	}
	defer rows.Close()

	var batches []BatchRow
	for rows.Next() {
		var b BatchRow
		err := rows.Scan(&b.ID, &b.SessionID, &b.Passage, &b.NumQuestions, &b.NumFailures,
			&b.MeanSimilarity, &b.FaithfulnessMean, &b.RelevancyMean, &b.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to scan batch: %w", err)
		}
		batches = append(batches, b)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating batches: %w", err)
	}
	return batches, nil
}

// GetBatchQuestions retrieves the questions of a batch in order.
func (db *DB) GetBatchQuestions(batchID string) ([]QuestionRow, error) {
	rows, err := db.db.Query(
		`SELECT id, batch_id, question_num, text, choices, correct_answer, user_answer, was_correct
		FROM batch_questions WHERE batch_id = ? ORDER BY question_num`,
		batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to get questions: %w", err)
	}
	defer rows.Close()

	var questions []QuestionRow
	for rows.Next() {
		var q QuestionRow
		err := rows.Scan(&q.ID, &q.BatchID, &q.QuestionNum, &q.Text, &q.Choices, &q.CorrectAnswer, &q.UserAnswer, &q.WasCorrect)
		if err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		questions = append(questions, q)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating questions: %w", err)
	}
	return questions, nil
}

// ChoicesToJSON encodes the four choices as a JSON array for storage.
func ChoicesToJSON(choices [4]string) (string, error) {
	data, err := json.Marshal(choices[:])
	if err != nil {
		return "", fmt.Errorf("failed to marshal choices: %w", err)
	}
	return string(data), nil
}

// JSONToChoices decodes a stored choices column.
func JSONToChoices(choicesJSON string) ([4]string, error) {
	var list []string
	if err := json.Unmarshal([]byte(choicesJSON), &list); err != nil {
		return [4]string{}, fmt.Errorf("failed to unmarshal choices: %w", err)
	}
	if len(list) != 4 {
		return [4]string{}, fmt.Errorf("expected 4 choices, got %d", len(list))
	}
	var choices [4]string
	copy(choices[:], list)
	return choices, nil
}

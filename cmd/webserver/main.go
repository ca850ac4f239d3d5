package main

import (
	"bytes"
	"context"
	"fmt"
	"html/template"
	"io"
	"log"
	"net/http"
	"os"
	"strconv"
	"strings"
	"sync"
	"time"

	"pdfquiz"

	"github.com/gorilla/sessions"
	openai "github.com/sashabaranov/go-openai"
)

const sessionCookie = "pdfquiz-session"

type Server struct {
	cfg       pdfquiz.PipelineConfig
	apiKey    string
	db        *pdfquiz.DB
	store     *sessions.CookieStore
	templates map[string]*template.Template

	mu       sync.Mutex
	sessions map[string]*liveSession
}

// liveSession is one in-memory quiz session: the controller plus the
// transcript logger whose file handle must be closed on eviction.
type liveSession struct {
	ctrl   *pdfquiz.Controller
	logger *pdfquiz.LLMLogger
}

func main() {
	pdfquiz.SetVerbose(true)

	apiKey, err := pdfquiz.LoadAPIKey()
	if err != nil {
		log.Fatal(err)
	}

	db, err := pdfquiz.OpenDB("./quizhistory.db")
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}
	defer db.CloseDB()

	if err := db.CreateTables(); err != nil {
		log.Fatalf("Failed to create tables: %v", err)
	}

	secret := os.Getenv("SESSION_SECRET")
	if secret == "" {
		secret = "pdfquiz-dev-secret"
	}
	store := sessions.NewCookieStore([]byte(secret))

	funcMap := template.FuncMap{
		"add": func(a, b int) int {
			return a + b
		},
		"pct": func(v float64) string {
			return fmt.Sprintf("%.1f%%", v*100)
		},
		"score": func(v float64) string {
			return fmt.Sprintf("%.4f", v)
		},
		"deref": func(v *float64) float64 {
			if v == nil {
				return 0
			}
			return *v
		},
		"deref_int": func(v *int) int {
			if v == nil {
				return 0
			}
			return *v
		},
	}

	templates := make(map[string]*template.Template)
	templateFiles := []struct {
		name string
		file string
	}{
		{"home", "templates/home.html"},
		{"question", "templates/question.html"},
		{"answered", "templates/answered.html"},
		{"history", "templates/history.html"},
	}
	for _, tmpl := range templateFiles {
		templates[tmpl.name] = template.Must(template.New(tmpl.name).Funcs(funcMap).ParseFiles("templates/base.html", tmpl.file))
	}

	server := &Server{
		cfg:       pdfquiz.DefaultConfig(),
		apiKey:    apiKey,
		db:        db,
		store:     store,
		templates: templates,
		sessions:  make(map[string]*liveSession),
	}

	http.HandleFunc("/", server.handleHome)
	http.HandleFunc("/upload", server.handleUpload)
	http.HandleFunc("/quiz", server.handleQuiz)
	http.HandleFunc("/quiz/answer", server.handleAnswer)
	http.HandleFunc("/quiz/next", server.handleNext)
	http.HandleFunc("/history/", server.handleHistory)

	port := os.Getenv("PORT")
	if port == "" {
		port = "8180"
	}

	log.Printf("Starting server on port %s", port)
	log.Fatal(http.ListenAndServe(":"+port, nil))
}

// controller looks up the controller bound to the request's cookie
// session, if any.
func (s *Server) controller(r *http.Request) (*pdfquiz.Controller, bool) {
	session, _ := s.store.Get(r, sessionCookie)
	id, ok := session.Values["controller_id"].(string)
	if !ok {
		return nil, false
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	live, ok := s.sessions[id]
	if !ok {
		return nil, false
	}
	return live.ctrl, true
}

// bindSession makes the new session the one the cookie points at. The
// previously bound session, if any, is evicted and its transcript
// closed; its passages and batch become unreachable.
func (s *Server) bindSession(w http.ResponseWriter, r *http.Request, live *liveSession) error {
	session, _ := s.store.Get(r, sessionCookie)

	if prev, ok := session.Values["controller_id"].(string); ok {
		s.dropSession(prev)
	}

	s.mu.Lock()
	s.sessions[live.ctrl.SessionID()] = live
	s.mu.Unlock()

	session.Values["controller_id"] = live.ctrl.SessionID()
	return session.Save(r, w)
}

// dropSession removes a session from the map and closes its transcript.
func (s *Server) dropSession(id string) {
	s.mu.Lock()
	live, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()

	if ok && live.logger != nil {
		if err := live.logger.Close(); err != nil {
			log.Printf("Failed to close transcript for session %s: %v", id, err)
		}
	}
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	if r.URL.Path != "/" {
		http.NotFound(w, r)
		return
	}

	past, err := s.db.GetSessions(20)
	if err != nil {
		log.Printf("Failed to get sessions: %v", err)
		http.Error(w, "Failed to get sessions", http.StatusInternalServerError)
		return
	}

	err = s.templates["home"].ExecuteTemplate(w, "base.html", map[string]interface{}{
		"Sessions": past,
	})
	if err != nil {
		log.Printf("Template error in home: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	// The whole document is read into memory before extraction.
	if err := r.ParseMultipartForm(64 << 20); err != nil {
		http.Error(w, "Failed to parse upload", http.StatusBadRequest)
		return
	}
	file, header, err := r.FormFile("document")
	if err != nil {
		http.Error(w, "A PDF file is required", http.StatusBadRequest)
		return
	}
	defer file.Close()

	data, err := io.ReadAll(file)
	if err != nil {
		http.Error(w, "Failed to read upload", http.StatusInternalServerError)
		return
	}

	client := openai.NewClient(s.apiKey)
	ctrl := pdfquiz.NewController(client, pdfquiz.PDFExtractor{}, s.cfg, s.db)

	logger, err := pdfquiz.NewLLMLogger(ctrl.SessionID(), s.cfg)
	if err != nil {
		log.Printf("Failed to create session logger: %v", err)
	} else {
		ctrl.SetLogger(logger)
	}

	closeLogger := func() {
		if logger != nil {
			logger.Close()
		}
	}

	persistPath := fmt.Sprintf("passages-%s.csv", ctrl.SessionID())
	n, err := ctrl.Load(bytes.NewReader(data), int64(len(data)), persistPath)
	if err != nil {
		log.Printf("Failed to ingest %s: %v", header.Filename, err)
		closeLogger()
		http.Error(w, fmt.Sprintf("Could not read %s: %v", header.Filename, err), http.StatusBadRequest)
		return
	}
	log.Printf("Session %s: ingested %d passages from %s", ctrl.SessionID(), n, header.Filename)

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	if err := ctrl.RequestBatch(ctx); err != nil {
		log.Printf("Failed to generate first batch: %v", err)
		closeLogger()
		http.Error(w, fmt.Sprintf("Question generation failed: %v", err), http.StatusInternalServerError)
		return
	}

	if err := s.bindSession(w, r, &liveSession{ctrl: ctrl, logger: logger}); err != nil {
		log.Printf("Session save error: %v", err)
	}

	http.Redirect(w, r, "/quiz", http.StatusSeeOther)
}

func (s *Server) handleQuiz(w http.ResponseWriter, r *http.Request) {
	ctrl, ok := s.controller(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	question, ok := ctrl.CurrentQuestion()
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	err := s.templates["question"].ExecuteTemplate(w, "base.html", map[string]interface{}{
		"Question": question,
		"Choices":  question.Choices,
		"Answered": ctrl.Phase() == pdfquiz.PhaseAnswered,
	})
	if err != nil {
		log.Printf("Template error in question: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

func (s *Server) handleAnswer(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctrl, ok := s.controller(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	if err := r.ParseForm(); err != nil {
		http.Error(w, "Failed to parse form", http.StatusBadRequest)
		return
	}
	choice, err := strconv.Atoi(r.FormValue("choice"))
	if err != nil || choice < 1 || choice > 4 {
		http.Error(w, "Choose an answer from 1 to 4", http.StatusBadRequest)
		return
	}

	question, _ := ctrl.CurrentQuestion()
	result, err := ctrl.SubmitAnswer(choice)
	if err != nil {
		http.Error(w, err.Error(), http.StatusConflict)
		return
	}

	var scores *pdfquiz.ScoreSet
	if set, ok := ctrl.CurrentScores(); ok {
		scores = set
	}

	err = s.templates["answered"].ExecuteTemplate(w, "base.html", map[string]interface{}{
		"Question": question,
		"Result":   result,
		"Scores":   scores,
	})
	if err != nil {
		log.Printf("Template error in answered: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

func (s *Server) handleNext(w http.ResponseWriter, r *http.Request) {
	if r.Method != "POST" {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	ctrl, ok := s.controller(r)
	if !ok {
		http.Redirect(w, r, "/", http.StatusSeeOther)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Minute)
	defer cancel()
	if err := ctrl.Advance(ctx); err != nil {
		log.Printf("Failed to advance session %s: %v", ctrl.SessionID(), err)
		http.Error(w, fmt.Sprintf("Question generation failed: %v", err), http.StatusInternalServerError)
		return
	}

	http.Redirect(w, r, "/quiz", http.StatusSeeOther)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	sessionID := strings.TrimPrefix(r.URL.Path, "/history/")
	if sessionID == "" {
		http.NotFound(w, r)
		return
	}

	batches, err := s.db.GetBatches(sessionID)
	if err != nil {
		log.Printf("Failed to get batches: %v", err)
		http.Error(w, "Failed to get history", http.StatusInternalServerError)
		return
	}

	type batchView struct {
		Batch     pdfquiz.BatchRow
		Questions []pdfquiz.QuestionRow
	}
	views := make([]batchView, 0, len(batches))
	for _, b := range batches {
		questions, err := s.db.GetBatchQuestions(b.ID)
		if err != nil {
			log.Printf("Failed to get questions for batch %s: %v", b.ID, err)
			continue
		}
		views = append(views, batchView{Batch: b, Questions: questions})
	}

	err = s.templates["history"].ExecuteTemplate(w, "base.html", map[string]interface{}{
		"SessionID": sessionID,
		"Batches":   views,
	})
	if err != nil {
		log.Printf("Template error in history: %v", err)
		http.Error(w, "Template error", http.StatusInternalServerError)
	}
}

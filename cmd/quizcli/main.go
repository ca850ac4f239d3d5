package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"pdfquiz"

	openai "github.com/sashabaranov/go-openai"
)

func main() {
	var (
		pdfPath      = flag.String("pdf", "", "PDF document to ingest")
		passagesPath = flag.String("passages", "passages.csv", "Passage store file (written on ingest, read with -resume)")
		resume       = flag.Bool("resume", false, "Skip ingestion and load the existing passage store")
		batchSize    = flag.Int("variants", 5, "Question variants to generate per passage (1, 5, or 15)")
		temperature  = flag.Float64("temperature", 0.5, "Sampling temperature (0.0 to 1.4)")
		model        = flag.String("model", openai.GPT4Dot1, "Chat model")
		refine       = flag.Bool("refine", false, "Rewrite raw passages into clean prose before generating")
		noDiversity  = flag.Bool("no-diversity", false, "Disable embedding-based diversity scoring")
		noFaith      = flag.Bool("no-faithfulness", false, "Disable faithfulness/relevancy scoring")
		dbPath       = flag.String("db", "quizhistory.db", "History database path (empty to disable)")
		verbose      = flag.Bool("verbose", false, "Enable verbose debugging output")
	)

	flag.Parse()

	pdfquiz.SetVerbose(*verbose)

	apiKey, err := pdfquiz.LoadAPIKey()
	if err != nil {
		log.Fatal(err)
	}

	if *pdfPath == "" && !*resume {
		log.Fatal("A document is required. Use -pdf, or -resume to reuse the passage store.")
	}

	cfg := pdfquiz.PipelineConfig{
		Model:          *model,
		EmbeddingModel: openai.SmallEmbedding3,
		Temperature:    float32(*temperature),
		BatchSize:      *batchSize,
		RefinePassages: *refine,
		Diversity:      !*noDiversity,
		Faithfulness:   !*noFaith,
	}

	var history *pdfquiz.DB
	if *dbPath != "" {
		history, err = pdfquiz.OpenDB(*dbPath)
		if err != nil {
			log.Fatalf("Failed to open history database: %v", err)
		}
		defer history.CloseDB()
		if err := history.CreateTables(); err != nil {
			log.Fatalf("Failed to create tables: %v", err)
		}
	}

	client := openai.NewClient(apiKey)
	ctrl := pdfquiz.NewController(client, pdfquiz.PDFExtractor{}, cfg, history)

	logger, err := pdfquiz.NewLLMLogger(ctrl.SessionID(), cfg)
	if err != nil {
		log.Printf("Failed to create session logger: %v", err)
	} else {
		ctrl.SetLogger(logger)
		defer logger.Close()
	}

	if *resume {
		n, err := ctrl.LoadStored(*passagesPath)
		if err != nil {
			log.Fatalf("Failed to load passage store: %v", err)
		}
		fmt.Printf("📂 Loaded %d passages from %s\n", n, *passagesPath)
	} else {
		f, err := os.Open(*pdfPath)
		if err != nil {
			log.Fatalf("Failed to open PDF: %v", err)
		}
		info, err := f.Stat()
		if err != nil {
			f.Close()
			log.Fatalf("Failed to stat PDF: %v", err)
		}
		n, err := ctrl.Load(f, info.Size(), *passagesPath)
		f.Close()
		if err != nil {
			log.Fatalf("Failed to ingest document: %v", err)
		}
		fmt.Printf("📄 Ingested %d passages from %s (saved to %s)\n", n, *pdfPath, *passagesPath)
	}

	playQuiz(ctrl, cfg)
}

func playQuiz(ctrl *pdfquiz.Controller, cfg pdfquiz.PipelineConfig) {
	fmt.Printf("🎯 Starting quiz session %s\n", ctrl.SessionID())
	fmt.Printf("📝 Variants per question: %d, temperature: %.1f\n", cfg.BatchSize, cfg.Temperature)
	fmt.Println()

	scanner := bufio.NewScanner(os.Stdin)

	first := true
	for {
		fmt.Println("⏳ Generating a question... (this may take a moment)")

		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
		var err error
		if first {
			err = ctrl.RequestBatch(ctx)
			first = false
		} else {
			err = ctrl.Advance(ctx)
		}
		cancel()
		if err != nil {
			log.Fatalf("Failed to generate a question: %v", err)
		}

		question, ok := ctrl.CurrentQuestion()
		if !ok {
			log.Fatal("No question available after generation")
		}

		fmt.Println()
		fmt.Println(question.Question)
		for i, choice := range question.Choices {
			fmt.Printf("  %d. %s\n", i+1, choice)
		}

		choice := readChoice(scanner)
		result, err := ctrl.SubmitAnswer(choice)
		if err != nil {
			log.Fatalf("Failed to submit answer: %v", err)
		}

		fmt.Println()
		if result.Correct {
			fmt.Println("✅ Correct!")
		} else {
			fmt.Printf("❌ Incorrect. The answer is %d: %s\n", result.CorrectChoice, result.CorrectText)
		}
		fmt.Printf("📖 Source passage:\n%s\n", result.Explanation)

		printScores(ctrl)

		fmt.Print("\nNext question? (y/n): ")
		if !scanner.Scan() || !strings.HasPrefix(strings.ToLower(strings.TrimSpace(scanner.Text())), "y") {
			fmt.Println("👋 Thanks for playing!")
			return
		}
		fmt.Println()
	}
}

func readChoice(scanner *bufio.Scanner) int {
	for {
		fmt.Print("Your answer (1-4): ")
		if !scanner.Scan() {
			os.Exit(0)
		}
		choice, err := strconv.Atoi(strings.TrimSpace(scanner.Text()))
		if err == nil && choice >= 1 && choice <= 4 {
			return choice
		}
		fmt.Println("Please enter a number from 1 to 4.")
	}
}

func printScores(ctrl *pdfquiz.Controller) {
	scores, ok := ctrl.CurrentScores()
	if !ok {
		return
	}

	fmt.Println()
	if scores.DiversityOK {
		fmt.Printf("🔀 Diversity (1 - mean similarity): %.4f\n", scores.Diversity())
		for i, sim := range scores.PerItemSimilarity {
			fmt.Printf("   variant %d mean similarity: %.4f\n", i+1, sim)
		}
	}
	if scores.FaithfulnessOK {
		fmt.Printf("🧭 Faithfulness: %.4f, relevancy: %.4f\n", scores.FaithfulnessMean, scores.RelevancyMean)
	}
	for _, note := range scores.Notes {
		fmt.Printf("⚠️  %s\n", note)
	}
}

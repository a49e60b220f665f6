// End-to-end smoke test against live services: uploads a document,
// ingests it, and asks a question. Requires a running embedding service
// and the LLM credential in the environment.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/bodrovkirill/askdocs"
)

const sampleDocument = `Правила внутреннего трудового распорядка.

Заработная плата выплачивается работникам два раза в месяц:
12-го числа (за вторую половину предыдущего месяца) и
27-го числа (аванс за первую половину текущего месяца).

Ежегодный оплачиваемый отпуск составляет 28 календарных дней.
Рабочий день начинается в 9:00 и заканчивается в 18:00.`

func main() {
	slog.SetDefault(slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo})))

	credential := os.Getenv("ASKDOCS_LLM_CREDENTIAL")
	if credential == "" {
		fmt.Fprintln(os.Stderr, "ASKDOCS_LLM_CREDENTIAL not set")
		os.Exit(1)
	}

	tmpDir, _ := os.MkdirTemp("", "askdocs-e2e-*")
	defer os.RemoveAll(tmpDir)

	cfg := askdocs.DefaultConfig()
	cfg.DBPath = tmpDir + "/test.db"
	cfg.Uploads.Dir = tmpDir + "/uploads"
	cfg.LLM.Credential = credential
	if v := os.Getenv("ASKDOCS_EMBED_BASE_URL"); v != "" {
		cfg.Embedding.BaseURL = v
	}

	engine, err := askdocs.New(cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "creating engine: %v\n", err)
		os.Exit(1)
	}
	defer engine.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Minute)
	defer cancel()

	fmt.Fprintln(os.Stderr, "\n=== UPLOADING ===")
	doc, err := engine.UploadDocument(ctx, "правила.txt", "Правила внутреннего трудового распорядка",
		strings.NewReader(sampleDocument))
	if err != nil {
		fmt.Fprintf(os.Stderr, "upload error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Uploaded doc_id=%d\n", doc.ID)

	fmt.Fprintln(os.Stderr, "\n=== INGESTING ===")
	report, err := engine.Ingest(ctx, doc.ID)
	if err != nil {
		fmt.Fprintf(os.Stderr, "ingest error: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "Ingest status=%s chunks=%d\n", report.Status, report.ChunksCreated)
	if report.Status != "completed" {
		fmt.Fprintf(os.Stderr, "ingest failed: %s\n", report.Err)
		os.Exit(1)
	}

	question := "Когда выплачивается зарплата?"
	fmt.Fprintf(os.Stderr, "\n=== ASKING: %s ===\n", question)
	answer, err := engine.Ask(ctx, question, askdocs.WithLimit(5))
	if err != nil {
		fmt.Fprintf(os.Stderr, "ask error: %v\n", err)
		os.Exit(1)
	}

	fmt.Fprintf(os.Stderr, "\n=== ANSWER ===\n%s\n", answer.Text)

	out, _ := json.MarshalIndent(answer, "", "  ")
	fmt.Println(string(out))
}

// Package answer assembles the final response: it formats retrieved
// chunks into a prompt, invokes the LLM, validates the output against
// refusal patterns, and falls back to canned domain answers.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"github.com/bodrovkirill/askdocs/llm"
	"github.com/bodrovkirill/askdocs/retrieve"
)

// maxSources caps the citation list on a generated answer.
const maxSources = 3

// dayToken matches a standalone one- or two-digit number, the minimal
// evidence that a payment-date question actually got a date back.
var dayToken = regexp.MustCompile(`\b[0-9]{1,2}\b`)

// Retriever is the slice of the retrieval engine the answer flow needs.
type Retriever interface {
	Retrieve(ctx context.Context, question string, limit int) ([]retrieve.Result, error)
}

// Answer is the structured result returned to callers. OK is false only
// on internal errors; a not-found or canned response still carries true.
type Answer struct {
	Text        string   `json:"text"`
	Sources     []string `json:"sources"`
	OK          bool     `json:"ok"`
	TokensUsed  int      `json:"tokens_used"`
	ChunksFound int      `json:"chunks_found"`
}

// Rule is a data-driven canned answer. When the question contains any
// keyword (case-insensitive), the rule applies. Rules without the date
// post-check bypass the LLM entirely; rules with it let the LLM answer
// first and substitute the canned text when the output has no
// day-of-month token or trips a blocked pattern.
type Rule struct {
	Name                   string
	Keywords               []string
	Answer                 string
	Sources                []string
	RequireDateInLLMAnswer bool
}

// Config controls the answer flow.
type Config struct {
	Rules            []Rule
	BlockedPatterns  []string
	NotFoundTemplate string
	MaxTokens        int
	Temperature      float64
}

// Engine runs the retrieve, prompt, generate, validate flow.
type Engine struct {
	retriever Retriever
	llm       llm.Client
	cfg       Config
}

// New returns an Engine. Zero-value config fields get defaults.
func New(r Retriever, c llm.Client, cfg Config) *Engine {
	if cfg.MaxTokens == 0 {
		cfg.MaxTokens = 1500
	}
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.3
	}
	if cfg.NotFoundTemplate == "" {
		cfg.NotFoundTemplate = "Информация по вашему вопросу не найдена в загруженных документах."
	}
	return &Engine{retriever: r, llm: c, cfg: cfg}
}

// Answer produces a response for the question. limit bounds the number
// of retrieved chunks; limit <= 0 uses the retriever's default. The
// error return is reserved for retrieval failures and context
// cancellation; LLM refusals and outages degrade to canned or
// not-found answers instead.
func (e *Engine) Answer(ctx context.Context, question string, limit int) (*Answer, error) {
	results, err := e.retriever.Retrieve(ctx, question, limit)
	if err != nil {
		return nil, fmt.Errorf("retrieving context: %w", err)
	}

	rule := e.matchRule(question)

	if len(results) == 0 {
		if rule != nil {
			slog.Info("answer: no context, canned rule applied", "rule", rule.Name)
			return e.canned(rule, 0), nil
		}
		return &Answer{Text: e.cfg.NotFoundTemplate, OK: true}, nil
	}

	if rule != nil && !rule.RequireDateInLLMAnswer {
		slog.Info("answer: canned rule short-circuit", "rule", rule.Name)
		return e.canned(rule, len(results)), nil
	}

	prompt := BuildPrompt(FormatContext(results), question)
	resp, err := e.llm.Generate(ctx, prompt, e.cfg.MaxTokens, e.cfg.Temperature)
	if err != nil {
		return nil, fmt.Errorf("generating answer: %w", err)
	}

	if reason := e.invalidReason(resp, rule); reason != "" {
		slog.Warn("answer: generated response rejected", "reason", reason)
		if rule != nil {
			return e.canned(rule, len(results)), nil
		}
		return &Answer{Text: e.cfg.NotFoundTemplate, OK: true, ChunksFound: len(results)}, nil
	}

	return &Answer{
		Text:        strings.TrimSpace(resp.Text),
		Sources:     sourceTitles(results),
		OK:          true,
		TokensUsed:  resp.TokensUsed,
		ChunksFound: len(results),
	}, nil
}

// invalidReason reports why the generated response is unusable, or ""
// when it may be returned to the user.
func (e *Engine) invalidReason(resp *llm.Response, rule *Rule) string {
	if !resp.OK {
		return "llm " + resp.Err
	}
	text := strings.TrimSpace(resp.Text)
	if text == "" {
		return "empty response"
	}
	lower := strings.ToLower(text)
	for _, pat := range e.cfg.BlockedPatterns {
		if strings.Contains(lower, strings.ToLower(pat)) {
			return "blocked pattern"
		}
	}
	if rule != nil && rule.RequireDateInLLMAnswer && !dayToken.MatchString(text) {
		return "missing date token"
	}
	return ""
}

func (e *Engine) canned(rule *Rule, found int) *Answer {
	return &Answer{
		Text:        rule.Answer,
		Sources:     append([]string(nil), rule.Sources...),
		OK:          true,
		ChunksFound: found,
	}
}

// sourceTitles deduplicates document titles in ranking order, capped.
func sourceTitles(results []retrieve.Result) []string {
	seen := make(map[string]bool, len(results))
	var titles []string
	for _, r := range results {
		if r.DocumentTitle == "" || seen[r.DocumentTitle] {
			continue
		}
		seen[r.DocumentTitle] = true
		titles = append(titles, r.DocumentTitle)
		if len(titles) == maxSources {
			break
		}
	}
	return titles
}

// FormatContext renders retrieved chunks for the prompt. Only the
// document title and chunk text appear; ids and embeddings never reach
// the LLM.
func FormatContext(results []retrieve.Result) string {
	parts := make([]string, len(results))
	for i, r := range results {
		parts[i] = fmt.Sprintf("[Источник %d: %s]\n%s\n", i+1, r.DocumentTitle, r.Chunk.Content)
	}
	return strings.Join(parts, "\n")
}

// BuildPrompt combines the fixed instruction header, the formatted
// context, and the user question.
func BuildPrompt(contextBlock, question string) string {
	var b strings.Builder
	b.WriteString("Ты — корпоративный HR-ассистент. Отвечай на вопросы сотрудников ")
	b.WriteString("на основе внутренних документов компании.\n\n")
	b.WriteString("КОНТЕКСТ:\n")
	b.WriteString(contextBlock)
	b.WriteString("\n\nВОПРОС: ")
	b.WriteString(question)
	b.WriteString("\n\nИНСТРУКЦИИ:\n")
	b.WriteString("- Отвечай только на основе предоставленного контекста.\n")
	b.WriteString("- Если в контексте нет нужной информации, прямо скажи об этом.\n")
	b.WriteString("- Отвечай кратко и по делу, на языке вопроса.\n")
	b.WriteString("- Не выдумывай факты, даты и суммы.")
	return b.String()
}

// matchRule returns the first rule whose keyword occurs in the
// question, case-insensitively, or nil.
func (e *Engine) matchRule(question string) *Rule {
	q := strings.ToLower(question)
	for i := range e.cfg.Rules {
		for _, kw := range e.cfg.Rules[i].Keywords {
			if kw != "" && strings.Contains(q, strings.ToLower(kw)) {
				return &e.cfg.Rules[i]
			}
		}
	}
	return nil
}

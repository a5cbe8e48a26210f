// Package engine generates interview questions through an LLM while
// guaranteeing the caller always gets a usable question back: malformed
// model output degrades to a canned fallback, never to an error.
package engine

import (
	"context"
	"encoding/json"
	"log/slog"
	"regexp"
	"strings"

	"github.com/google/uuid"
	"github.com/kaptinlin/jsonrepair"

	"github.com/avirahq/interviewd/pkg/core/types"
)

// LLM is the single-method text-generation collaborator.
type LLM interface {
	GenerateText(ctx context.Context, prompt string) (string, error)
}

// Question is one generated interview question.
type Question struct {
	QuestionID   string `json:"questionId"`
	QuestionText string `json:"questionText"`
	Topic        string `json:"topic"`
	Difficulty   string `json:"difficulty"`
}

// Fallback texts used when the model's output cannot be salvaged.
const (
	fallbackFirstQuestion = "Sorry there is some issues, can you start interview again ?"
	fallbackNextQuestion  = "Can you explain your recent project?"
	fallbackClosing       = "Thanks so much for your time today. It was great learning about your experience!"
)

// Engine drives the question-generation loop.
type Engine struct {
	llm LLM
	log *slog.Logger
}

// New creates an engine over the given model.
func New(llm LLM, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{llm: llm, log: logger.With("component", "engine")}
}

var codeFenceRe = regexp.MustCompile("```json\\s*|\\s*```")

// decodeModelJSON parses the model's output: strip code fences, unmarshal,
// then retry once through jsonrepair on a syntax error.
func decodeModelJSON(text string, v any) error {
	cleaned := strings.TrimSpace(codeFenceRe.ReplaceAllString(text, ""))
	err := json.Unmarshal([]byte(cleaned), v)
	if err == nil {
		return nil
	}
	fixed, repairErr := jsonrepair.JSONRepair(cleaned)
	if repairErr != nil {
		return err
	}
	return json.Unmarshal([]byte(fixed), v)
}

// FirstQuestion generates the opening question. A transport failure is
// returned; a parse failure yields a question wrapping the raw model text.
func (e *Engine) FirstQuestion(ctx context.Context, systemPrompt string) (Question, error) {
	text, err := e.llm.GenerateText(ctx, firstQuestionPrompt(systemPrompt))
	if err != nil {
		return Question{}, err
	}

	var q Question
	if err := decodeModelJSON(text, &q); err != nil || q.QuestionText == "" {
		e.log.Warn("first question parse failed, using raw text", "error", err)
		questionText := strings.TrimSpace(codeFenceRe.ReplaceAllString(text, ""))
		if questionText == "" {
			questionText = fallbackFirstQuestion
		}
		q = Question{
			QuestionText: questionText,
			Topic:        "general",
			Difficulty:   "medium",
		}
	}
	return normalize(q), nil
}

type nextEnvelope struct {
	NextQuestion   *Question `json:"nextQuestion"`
	ClosingMessage string    `json:"closingMessage"`
}

// NextQuestion evaluates the latest answer and generates the next question.
// Any parse failure degrades to the canned clarifying question.
func (e *Engine) NextQuestion(ctx context.Context, sess *types.Session, resumeJSON, jdJSON, position string) (Question, error) {
	prompt := loopPrompt(sess.SystemPrompt, sess.ContextSummary, sess.QAHistory, resumeJSON, jdJSON, position)
	text, err := e.llm.GenerateText(ctx, prompt)
	if err != nil {
		return Question{}, err
	}

	var env nextEnvelope
	if err := decodeModelJSON(text, &env); err != nil || env.NextQuestion == nil || env.NextQuestion.QuestionText == "" {
		e.log.Warn("next question parse failed, using fallback", "error", err)
		return normalize(Question{
			QuestionText: fallbackNextQuestion,
			Topic:        "projects",
			Difficulty:   "medium",
		}), nil
	}
	return normalize(*env.NextQuestion), nil
}

// ClosingMessage generates the end-of-interview acknowledgment.
func (e *Engine) ClosingMessage(ctx context.Context, sess *types.Session) (string, error) {
	text, err := e.llm.GenerateText(ctx, closingPrompt(sess.SystemPrompt))
	if err != nil {
		return "", err
	}

	var env nextEnvelope
	if err := decodeModelJSON(text, &env); err != nil || strings.TrimSpace(env.ClosingMessage) == "" {
		e.log.Warn("closing message parse failed, using fallback", "error", err)
		return fallbackClosing, nil
	}
	return strings.TrimSpace(env.ClosingMessage), nil
}

// normalize fills in anything the model left out. Question IDs are always
// server-minted when missing so history lookups stay unambiguous.
func normalize(q Question) Question {
	if q.QuestionID == "" {
		q.QuestionID = uuid.NewString()
	}
	if q.Topic == "" {
		q.Topic = "general"
	}
	if q.Difficulty == "" {
		q.Difficulty = "medium"
	}
	return q
}

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/surveyease/surveyease/pkg/llm"
	"github.com/surveyease/surveyease/pkg/models"
)

const conditionPrompt = `你是一个严谨的判断助手。请根据对话记录判断是否满足判断条件，只回答 Y 或 N，不要输出任何其他内容。

判断条件:
%s

对话记录:
%s`

// Evaluator decides CONDITION branches by asking the oracle a Y/N question
// about the per-step transcript.
type Evaluator struct {
	oracle llm.Oracle
}

// NewEvaluator creates an Evaluator.
func NewEvaluator(oracle llm.Oracle) *Evaluator {
	return &Evaluator{oracle: oracle}
}

// Evaluate returns true when the predicate holds for the transcript. An
// oracle failure is never fatal: it falls back to a literal case-insensitive
// match of the predicate in the last user reply.
func (e *Evaluator) Evaluate(ctx context.Context, predicate string, transcript []models.Message) bool {
	prompt := fmt.Sprintf(conditionPrompt, predicate, renderTranscript(transcript))

	reply, err := e.oracle.Invoke(ctx, []models.Message{models.NewHumanMessage(prompt)})
	if err != nil {
		slog.Warn("Condition evaluation failed, falling back to substring match",
			"predicate", predicate, "error", err)
		return fallbackMatch(predicate, transcript)
	}

	verdict := strings.ToLower(reply)
	return strings.Contains(verdict, "y") ||
		strings.Contains(verdict, "yes") ||
		strings.Contains(verdict, "true")
}

// renderTranscript formats the per-step transcript the way the judgment
// prompt expects. SYSTEM messages carry no survey content and are skipped.
func renderTranscript(transcript []models.Message) string {
	var b strings.Builder
	for _, msg := range transcript {
		switch msg.Role {
		case models.RoleHuman:
			b.WriteString("用户回复: ")
		case models.RoleAssistant:
			b.WriteString("AI提问: ")
		default:
			continue
		}
		b.WriteString(msg.Content)
		b.WriteString("\n")
	}
	return b.String()
}

// fallbackMatch checks the last user reply for the predicate text.
func fallbackMatch(predicate string, transcript []models.Message) bool {
	for i := len(transcript) - 1; i >= 0; i-- {
		if transcript[i].Role == models.RoleHuman {
			return strings.Contains(
				strings.ToLower(transcript[i].Content),
				strings.ToLower(predicate))
		}
	}
	return false
}

package graph

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/surveyease/surveyease/pkg/llm"
	"github.com/surveyease/surveyease/pkg/models"
	"github.com/surveyease/surveyease/pkg/state"
)

// goalPrefix marks a model reply that echoed the injected step instruction
// instead of producing a user-facing question.
const goalPrefix = "# 目标"

// Outcome tells the runner what to do after a node executes.
type Outcome int

const (
	// OutcomeContinue means the cursor moved and the next node should run.
	OutcomeContinue Outcome = iota
	// OutcomeSuspend means the session is waiting for a user reply.
	OutcomeSuspend
	// OutcomeFinished means the terminal node ran and the session is over.
	OutcomeFinished
)

// EmitFunc receives each assistant utterance as it is produced.
type EmitFunc func(text string)

// Executor runs graph nodes against session state.
type Executor struct {
	graph     *Graph
	oracle    llm.Oracle
	evaluator *Evaluator
}

// NewExecutor creates an Executor for a compiled graph.
func NewExecutor(g *Graph, oracle llm.Oracle) *Executor {
	return &Executor{
		graph:     g,
		oracle:    oracle,
		evaluator: NewEvaluator(oracle),
	}
}

// ExecuteNode runs the node addressed by state.CurrentStep. Failures leave
// the cursor untouched, so the session stays resumable from its last
// checkpoint.
func (e *Executor) ExecuteNode(ctx context.Context, st *state.SessionState, emit EmitFunc) (Outcome, error) {
	label, err := state.ParseLabel(st.CurrentStep)
	if err != nil {
		return OutcomeFinished, fmt.Errorf("corrupt step cursor: %w", err)
	}
	if !e.graph.ValidLabel(label) {
		return OutcomeFinished, fmt.Errorf("step cursor %q addresses no node", st.CurrentStep)
	}

	switch label.Kind {
	case state.NodeQuestion:
		return e.generateQuestion(ctx, st, label.Index, emit)
	case state.NodeAnswer:
		// Waiting for the user; Resume delivers the reply.
		return OutcomeSuspend, nil
	default:
		return e.endSurvey(st, emit)
	}
}

// Resume delivers a user reply to the suspended answer node and re-enters
// the same step's question node. A cursor that is not an answer node means
// another request already consumed this suspension point.
func (e *Executor) Resume(st *state.SessionState, userReply string) error {
	label, err := state.ParseLabel(st.CurrentStep)
	if err != nil {
		return fmt.Errorf("corrupt step cursor: %w", err)
	}
	if label.Kind != state.NodeAnswer {
		return fmt.Errorf("session is not waiting for a reply at %q", st.CurrentStep)
	}

	st.AppendMessage(models.NewHumanMessage(userReply))
	st.CurrentStep = state.QuestionLabel(label.Index).String()
	return nil
}

// ────────────────────────────────────────────────────────────
// Node implementations
// ────────────────────────────────────────────────────────────

func (e *Executor) generateQuestion(ctx context.Context, st *state.SessionState, i int, emit EmitFunc) (Outcome, error) {
	step := e.graph.steps[i]

	// Freshly entered step: inject the step instruction for the model.
	if len(st.CurrentStepMessages) == 0 {
		st.AppendMessage(models.NewAssistantMessage(step.Content))
	}

	text, err := e.oracle.Invoke(ctx, st.Messages)
	if err != nil {
		return OutcomeSuspend, fmt.Errorf("question generation failed: %w", err)
	}
	if strings.HasPrefix(text, goalPrefix) {
		slog.Debug("Model echoed the step instruction, retrying once",
			"thread_id", st.ThreadID, "step", i)
		text, err = e.oracle.Invoke(ctx, st.Messages)
		if err != nil {
			return OutcomeSuspend, fmt.Errorf("question generation retry failed: %w", err)
		}
	}

	// The turn bound dominates: the step finishes even without FINISH.
	finished := containsFold(text, "FINISH") ||
		len(st.CurrentStepMessages) >= 2*st.MaxTurns+1

	if !finished {
		st.AppendMessage(models.NewAssistantMessage(text))
		emit(text)
		st.CurrentStep = state.AnswerLabel(i).String()
		return OutcomeContinue, nil
	}

	next := e.nextStep(ctx, st, i, step)
	slog.Info("Survey step finished",
		"thread_id", st.ThreadID, "step", i, "next", next)
	st.CurrentStep = next
	st.ResetStepMessages()
	return OutcomeContinue, nil
}

// nextStep picks the label that follows a finished step.
func (e *Executor) nextStep(ctx context.Context, st *state.SessionState, i int, step models.Step) string {
	if step.Type != models.StepCondition {
		if i+1 < len(e.graph.steps) {
			return state.QuestionLabel(i + 1).String()
		}
		return state.EndSurvey
	}

	// Empty transcript means there is nothing to judge; take the
	// "not satisfied" branch.
	if len(st.CurrentStepMessages) == 0 {
		if len(step.Branches) < 2 {
			return state.EndSurvey
		}
		return e.resolveBranch(step.Branches[1])
	}

	var branch string
	if e.evaluator.Evaluate(ctx, step.Condition, st.CurrentStepMessages) {
		branch = step.Branches[0]
	} else {
		branch = step.Branches[1]
	}
	return e.resolveBranch(branch)
}

// resolveBranch maps a branch value ("END" or a 1-based step number) to a
// node label. Anything malformed or out of range forces the terminal node.
func (e *Executor) resolveBranch(branch string) string {
	if branch == models.BranchEnd {
		return state.EndSurvey
	}
	k, err := strconv.Atoi(branch)
	if err != nil || k < 1 || k > len(e.graph.steps) {
		slog.Warn("Malformed branch target, ending survey", "branch", branch)
		return state.EndSurvey
	}
	return state.QuestionLabel(k - 1).String()
}

func (e *Executor) endSurvey(st *state.SessionState, emit EmitFunc) (Outcome, error) {
	st.Messages = append(st.Messages, models.NewAssistantMessage(st.EndMessage))
	emit(st.EndMessage)
	return OutcomeFinished, nil
}

// containsFold is a case-insensitive substring match.
func containsFold(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}

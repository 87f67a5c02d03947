// Package session owns the lifecycle of live survey sessions: starting,
// resuming from checkpoints, and finalizing.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/surveyease/surveyease/pkg/checkpoint"
	"github.com/surveyease/surveyease/pkg/graph"
	"github.com/surveyease/surveyease/pkg/models"
	"github.com/surveyease/surveyease/pkg/services"
	"github.com/surveyease/surveyease/pkg/state"
)

// purgeDelay gives in-flight checkpoint writes time to land before the
// thread's keys are deleted.
const purgeDelay = 150 * time.Millisecond

// Runner drives one session through the graph. At most one request may be
// executing a runner at a time; a second concurrent request is rejected
// instead of queued.
type Runner struct {
	mu sync.Mutex

	templateID     string
	conversationID string
	exec           *graph.Executor
	st             *state.SessionState
}

func newRunner(templateID, conversationID string, exec *graph.Executor, st *state.SessionState) *Runner {
	return &Runner{
		templateID:     templateID,
		conversationID: conversationID,
		exec:           exec,
		st:             st,
	}
}

// run executes nodes until the session suspends at an answer node or
// reaches the terminal node. A checkpoint is written after every node that
// advances state. The caller must hold r.mu.
func (r *Runner) run(ctx context.Context, reg *Registry, emit graph.EmitFunc) (finished bool, err error) {
	for {
		outcome, err := r.exec.ExecuteNode(ctx, r.st, emit)
		if err != nil {
			// State did not advance; the last checkpoint stays authoritative.
			return false, err
		}

		switch outcome {
		case graph.OutcomeSuspend:
			// The answer node mutates nothing; the previous checkpoint
			// already captured the suspension point.
			return false, nil

		case graph.OutcomeFinished:
			if _, err := reg.checkpoints.Put(ctx, r.conversationID, r.st); err != nil {
				return false, fmt.Errorf("failed to checkpoint final state: %w", err)
			}
			reg.finalize(ctx, r)
			return true, nil

		default:
			if _, err := reg.checkpoints.Put(ctx, r.conversationID, r.st); err != nil {
				return false, fmt.Errorf("failed to checkpoint session: %w", err)
			}
		}
	}
}

// Registry is the process-local cache of live runners, keyed by
// template_id + conversation_id. Entries are disposable: a cache miss falls
// back to checkpoint rehydration, so any replica can continue any session.
type Registry struct {
	mu      sync.Mutex
	runners map[string]*Runner

	resolver    TemplateResolver
	oracle      Oracle
	checkpoints *checkpoint.Store
	chatLogs    ChatLogWriter
	transcripts TranscriptSink
}

// TemplateResolver yields the effective template for a session.
type TemplateResolver interface {
	Resolve(ctx context.Context, templateID string) (*models.Template, error)
}

// Oracle is the LLM abstraction the graph executes against.
type Oracle interface {
	Invoke(ctx context.Context, messages []models.Message) (string, error)
}

// ChatLogWriter persists a final transcript to file storage.
type ChatLogWriter interface {
	Write(conversationID string, messages []models.Message) (string, error)
}

// TranscriptSink persists conversations to the relational side-store.
type TranscriptSink interface {
	CreateConversation(ctx context.Context, conversationID, templateID string) error
	SaveTranscript(ctx context.Context, conversationID string, messages []models.Message) error
}

// NewRegistry wires a Registry.
func NewRegistry(resolver TemplateResolver, oracle Oracle, checkpoints *checkpoint.Store, chatLogs ChatLogWriter, transcripts TranscriptSink) *Registry {
	return &Registry{
		runners:     make(map[string]*Runner),
		resolver:    resolver,
		oracle:      oracle,
		checkpoints: checkpoints,
		chatLogs:    chatLogs,
		transcripts: transcripts,
	}
}

func runnerKey(templateID, conversationID string) string {
	return templateID + ":" + conversationID
}

// StartStream creates a fresh session and executes it until its first
// suspension point (or completion), emitting assistant output as it goes.
func (g *Registry) StartStream(ctx context.Context, templateID, conversationID, firstMessage string, emit graph.EmitFunc) error {
	if conversationID == "" {
		return services.NewValidationError("conversation_id", "required")
	}
	if firstMessage == "" {
		return services.NewValidationError("message", "required")
	}

	tpl, err := g.resolver.Resolve(ctx, templateID)
	if err != nil {
		return err
	}
	compiled, err := graph.Compile(tpl.Steps)
	if err != nil {
		return fmt.Errorf("%w: %s", services.ErrInvalidInput, err)
	}

	st := &state.SessionState{
		ThreadID: conversationID,
		Messages: []models.Message{
			models.NewSystemMessage(tpl.SystemPrompt),
			models.NewAssistantMessage(tpl.WelcomeMessage),
			models.NewHumanMessage(firstMessage),
		},
		Steps:        tpl.Steps,
		SystemPrompt: tpl.SystemPrompt,
		EndMessage:   tpl.EndMessage,
		MaxTurns:     tpl.MaxTurns,
		CurrentStep:  state.QuestionLabel(0).String(),
	}

	runner := newRunner(templateID, conversationID, graph.NewExecutor(compiled, g.oracle), st)
	if !g.register(runner) {
		return services.ErrSessionBusy
	}
	if !runner.mu.TryLock() {
		return services.ErrSessionBusy
	}
	defer runner.mu.Unlock()

	if g.transcripts != nil {
		if err := g.transcripts.CreateConversation(ctx, conversationID, templateID); err != nil {
			slog.Error("Failed to record conversation", "conversation_id", conversationID, "error", err)
		}
	}

	slog.Info("Survey session started",
		"conversation_id", conversationID, "template_id", templateID, "steps", len(tpl.Steps))

	_, err = runner.run(ctx, g, emit)
	if err != nil {
		// A failed start leaves nothing to resume; drop the runner so the
		// client can retry /chat/stream.
		g.mu.Lock()
		delete(g.runners, runnerKey(templateID, conversationID))
		g.mu.Unlock()
	}
	return err
}

// Continue resumes a suspended session with the user's reply. When the
// runner is not cached (another replica started it, or this process
// restarted), the session is rehydrated from the latest checkpoint.
func (g *Registry) Continue(ctx context.Context, templateID, conversationID, userResponse string, emit graph.EmitFunc) error {
	if conversationID == "" {
		return services.NewValidationError("conversation_id", "required")
	}
	if userResponse == "" {
		return services.NewValidationError("user_response", "required")
	}

	runner, err := g.lookupOrRehydrate(ctx, templateID, conversationID)
	if err != nil {
		return err
	}
	if !runner.mu.TryLock() {
		return services.ErrSessionBusy
	}
	defer runner.mu.Unlock()

	label, err := state.ParseLabel(runner.st.CurrentStep)
	if err != nil {
		return fmt.Errorf("corrupt step cursor: %w", err)
	}
	if label.Kind == state.NodeAnswer {
		if err := runner.exec.Resume(runner.st, userResponse); err != nil {
			return fmt.Errorf("%w: %s", services.ErrSessionBusy, err)
		}
		if _, err := g.checkpoints.Put(ctx, conversationID, runner.st); err != nil {
			return fmt.Errorf("failed to checkpoint resumed session: %w", err)
		}
	}
	// Any other cursor means an earlier continue already consumed the reply
	// but failed before the next question landed. The retry drives the graph
	// forward from the checkpoint without appending the reply again.

	_, err = runner.run(ctx, g, emit)
	return err
}

func (g *Registry) register(runner *Runner) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	key := runnerKey(runner.templateID, runner.conversationID)
	if _, exists := g.runners[key]; exists {
		return false
	}
	g.runners[key] = runner
	return true
}

// EvictTemplate drops every cached runner built from the given template.
// In-flight sessions are unaffected: their state carries its own copy of the
// steps and rehydrates from the latest checkpoint on the next request.
func (g *Registry) EvictTemplate(templateID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	prefix := templateID + ":"
	for key := range g.runners {
		if strings.HasPrefix(key, prefix) {
			delete(g.runners, key)
		}
	}
}

func (g *Registry) lookupOrRehydrate(ctx context.Context, templateID, conversationID string) (*Runner, error) {
	g.mu.Lock()
	runner, ok := g.runners[runnerKey(templateID, conversationID)]
	g.mu.Unlock()
	if ok {
		return runner, nil
	}

	st, err := g.checkpoints.GetLatest(ctx, conversationID)
	if err != nil {
		return nil, fmt.Errorf("failed to load checkpoint: %w", err)
	}
	if st == nil {
		return nil, fmt.Errorf("%w: no active session for conversation %s", services.ErrNotFound, conversationID)
	}

	compiled, err := graph.Compile(st.Steps)
	if err != nil {
		return nil, fmt.Errorf("checkpointed session is not runnable: %w", err)
	}
	runner = newRunner(templateID, conversationID, graph.NewExecutor(compiled, g.oracle), st)

	g.mu.Lock()
	defer g.mu.Unlock()
	key := runnerKey(templateID, conversationID)
	if existing, ok := g.runners[key]; ok {
		// Another request rehydrated first.
		return existing, nil
	}
	g.runners[key] = runner
	slog.Info("Session rehydrated from checkpoint",
		"conversation_id", conversationID, "current_step", st.CurrentStep)
	return runner, nil
}

// finalize persists the completed transcript and schedules the checkpoint
// purge. Persistence failures are logged, not surfaced: the user already
// received the end message.
func (g *Registry) finalize(ctx context.Context, runner *Runner) {
	g.mu.Lock()
	delete(g.runners, runnerKey(runner.templateID, runner.conversationID))
	g.mu.Unlock()

	if g.chatLogs != nil {
		if path, err := g.chatLogs.Write(runner.conversationID, runner.st.Messages); err != nil {
			slog.Error("Failed to write chat log", "conversation_id", runner.conversationID, "error", err)
		} else {
			slog.Info("Chat log written", "conversation_id", runner.conversationID, "path", path)
		}
	}

	if g.transcripts != nil {
		if err := g.transcripts.SaveTranscript(ctx, runner.conversationID, runner.st.Messages); err != nil {
			slog.Error("Failed to save transcript", "conversation_id", runner.conversationID, "error", err)
		}
	}

	conversationID := runner.conversationID
	go func() {
		time.Sleep(purgeDelay)
		purgeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if _, err := g.checkpoints.Purge(purgeCtx, conversationID); err != nil {
			slog.Error("Failed to purge session checkpoints", "conversation_id", conversationID, "error", err)
		}
	}()
}

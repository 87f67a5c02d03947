// Package state defines the durable session state of a survey conversation
// and the serializer that turns it into checkpoint bytes.
package state

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/surveyease/surveyease/pkg/models"
)

// EndSurvey is the label of the terminal node.
const EndSurvey = "end_survey"

// NodeKind classifies a graph node.
type NodeKind int

const (
	// NodeQuestion generates the next assistant utterance for a step.
	NodeQuestion NodeKind = iota
	// NodeAnswer suspends and waits for the user's reply.
	NodeAnswer
	// NodeEnd emits the end message and finalizes the session.
	NodeEnd
)

// NodeLabel is a parsed control-flow cursor: "<i>_q", "<i>_a" or "end_survey".
type NodeLabel struct {
	Kind  NodeKind
	Index int
}

// QuestionLabel returns the label of step i's question node.
func QuestionLabel(i int) NodeLabel { return NodeLabel{Kind: NodeQuestion, Index: i} }

// AnswerLabel returns the label of step i's answer node.
func AnswerLabel(i int) NodeLabel { return NodeLabel{Kind: NodeAnswer, Index: i} }

// EndLabel returns the terminal node label.
func EndLabel() NodeLabel { return NodeLabel{Kind: NodeEnd} }

// String renders the canonical label form.
func (l NodeLabel) String() string {
	switch l.Kind {
	case NodeQuestion:
		return strconv.Itoa(l.Index) + "_q"
	case NodeAnswer:
		return strconv.Itoa(l.Index) + "_a"
	default:
		return EndSurvey
	}
}

// ParseLabel parses a node label string.
func ParseLabel(s string) (NodeLabel, error) {
	if s == EndSurvey {
		return EndLabel(), nil
	}
	var kind NodeKind
	switch {
	case strings.HasSuffix(s, "_q"):
		kind = NodeQuestion
	case strings.HasSuffix(s, "_a"):
		kind = NodeAnswer
	default:
		return NodeLabel{}, fmt.Errorf("invalid node label %q", s)
	}
	idx, err := strconv.Atoi(strings.TrimSuffix(strings.TrimSuffix(s, "_q"), "_a"))
	if err != nil || idx < 0 {
		return NodeLabel{}, fmt.Errorf("invalid node label %q", s)
	}
	return NodeLabel{Kind: kind, Index: idx}, nil
}

// SessionState is everything a replica needs to resume a survey session.
//
// CurrentStepMessages is always a suffix of Messages: the messages produced
// since the current step was entered. It is cleared whenever a step finishes.
type SessionState struct {
	ThreadID            string           `json:"thread_id"`
	Messages            []models.Message `json:"messages"`
	Steps               []models.Step    `json:"steps"`
	SystemPrompt        string           `json:"system_prompt"`
	EndMessage          string           `json:"end_message"`
	MaxTurns            int              `json:"max_turns"`
	CurrentStep         string           `json:"current_step"`
	CurrentStepMessages []models.Message `json:"current_step_messages"`
}

// AppendMessage records a message on both the full transcript and the
// per-step transcript.
func (s *SessionState) AppendMessage(msg models.Message) {
	s.Messages = append(s.Messages, msg)
	s.CurrentStepMessages = append(s.CurrentStepMessages, msg)
}

// ResetStepMessages clears the per-step transcript. Called on every step
// change, including backward jumps.
func (s *SessionState) ResetStepMessages() {
	s.CurrentStepMessages = nil
}

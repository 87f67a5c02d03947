package models

// StepType distinguishes how a survey step decides its successor.
type StepType string

const (
	// StepLinear falls through to the next step (or the end) once finished.
	StepLinear StepType = "LINEAR"
	// StepCondition evaluates a natural-language predicate over the per-step
	// transcript and picks one of exactly two branches.
	StepCondition StepType = "CONDITION"
)

// BranchEnd is the branch value that terminates the survey.
// Any other branch value is the 1-based number of the target step.
const BranchEnd = "END"

// Step is one unit of a survey template's data-collection plan.
type Step struct {
	ID        string   `json:"id"`
	Content   string   `json:"content"`
	Type      StepType `json:"type"`
	Condition string   `json:"condition,omitempty"`
	// Branches[0] is taken when the condition is satisfied, Branches[1]
	// when it is not. Required (len == 2) for CONDITION steps.
	Branches []string `json:"branches,omitempty"`
}

// Template declares an ordered survey plan.
type Template struct {
	ID                  string            `json:"id"`
	Theme               string            `json:"theme"`
	SystemPrompt        string            `json:"system_prompt"`
	BackgroundKnowledge string            `json:"background_knowledge,omitempty"`
	MaxTurns            int               `json:"max_turns"`
	WelcomeMessage      string            `json:"welcome_message"`
	EndMessage          string            `json:"end_message"`
	Steps               []Step            `json:"steps"`
	Variables           map[string]string `json:"variables,omitempty"`
	HostID              string            `json:"host_id,omitempty"`
}

// Host is a survey moderator persona whose role text is prepended to the
// effective system prompt.
type Host struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Role string `json:"role"`
}

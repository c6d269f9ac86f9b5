package agent

// ActionType discriminates the structured actions the agent may emit.
type ActionType string

const (
	ActionUpdateEvaluations     ActionType = "UPDATE_EVALUATIONS"
	ActionAskClarifyingQuestion ActionType = "ASK_CLARIFYING_QUESTION"
	ActionUpdatePreferences     ActionType = "UPDATE_PREFERENCES"
)

// Evaluation scores one listing 0-100 with a rationale.
type Evaluation struct {
	ListingID string `json:"listing_id"`
	Score     int    `json:"score"`
	Rationale string `json:"rationale"`
}

// PreferencePatch is a partial preference document merged (not
// replaced) into stored user preferences.
type PreferencePatch struct {
	Categories map[string]map[string]any `json:"categories,omitempty"`
	Summary    *string                   `json:"summary,omitempty"`
}

// Action is one tagged variant of the agent protocol. Exactly one of
// the per-type field groups is populated depending on Type; unknown
// types carry only the tag and pass through untouched.
type Action struct {
	Type ActionType `json:"type"`

	// UPDATE_EVALUATIONS
	Evaluations []Evaluation `json:"evaluations,omitempty"`

	// ASK_CLARIFYING_QUESTION
	Question  string `json:"question,omitempty"`
	Blocking  *bool  `json:"blocking,omitempty"`
	ListingID string `json:"listing_id,omitempty"`

	// UPDATE_PREFERENCES
	PreferencePatch *PreferencePatch `json:"preference_patch,omitempty"`
}

// IsBlocking reports the blocking flag of a clarification action;
// absent means blocking.
func (a *Action) IsBlocking() bool {
	return a.Blocking == nil || *a.Blocking
}

// ParsedResponse is the structured shape the agent is asked to emit.
type ParsedResponse struct {
	Message string   `json:"message"`
	Actions []Action `json:"actions"`
}

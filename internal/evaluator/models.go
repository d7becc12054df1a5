// internal/evaluator/models.go
package evaluator

import (
	"github.com/xkilldash9x/shopscope/api/schemas"
)

// State is the dispatcher's position while it works through one model reply.
type State string

const (
	StateAwaitingAction State = "AWAITING_ACTION" // Ready for the next action in the batch.
	StateNavigating     State = "NAVIGATING"      // Loading a URL and capturing the new page.
	StateClicking       State = "CLICKING"        // Clicking an element and capturing the result.
	StateScoring        State = "SCORING"         // Writing a framework row and its evidence.
	StateAwaitingUser   State = "AWAITING_USER"   // Blocked on one line of human input.
)

// ActionKind names the structured directives the model may embed in a reply.
type ActionKind string

const (
	ActionURL       ActionKind = "url"
	ActionClick     ActionKind = "click"
	ActionScore     ActionKind = "score_ready"
	ActionUserInput ActionKind = "user_input_needed"
)

// ErrorCode classifies why an action did not complete.
type ErrorCode string

const (
	ErrCodeNavigationError   ErrorCode = "NAVIGATION_ERROR"
	ErrCodeElementNotFound   ErrorCode = "ELEMENT_NOT_FOUND"
	ErrCodeClickFailed       ErrorCode = "CLICK_FAILED"
	ErrCodeRowOutOfRange     ErrorCode = "ROW_OUT_OF_RANGE"
	ErrCodeInvalidParameters ErrorCode = "INVALID_PARAMETERS"
	ErrCodeEvidenceFailed    ErrorCode = "EVIDENCE_CAPTURE_FAILED"
	ErrCodeTimeoutError      ErrorCode = "TIMEOUT_ERROR"
	ErrCodeStaleAction       ErrorCode = "STALE_ACTION"
)

// Action is one directive decoded from a model reply. It lives for a single
// dispatch cycle.
type Action struct {
	Kind   ActionKind `json:"kind"`
	URL    string     `json:"url,omitempty"`
	Target string     `json:"click,omitempty"`

	RowIndex     int             `json:"framework_row_index"`
	Score        int             `json:"score"`
	ScoringNotes string          `json:"scoring_notes,omitempty"`
	RelevantLink string          `json:"relevant_link,omitempty"`
	Region       *schemas.Region `json:"region,omitempty"`

	// DecodeErr is set when the object named a known kind but its fields were
	// unusable. The dispatcher reports it to the model.
	DecodeErr error `json:"-"`
	// Offset is the byte position of the object in the reply.
	Offset int `json:"offset"`
}

// ChangesPage reports whether a successful run of the action replaces the
// page that later actions in the batch were written against.
func (a Action) ChangesPage() bool {
	return a.Kind == ActionURL || a.Kind == ActionClick
}

// DependsOnPage reports whether the action needs the page the model saw.
func (a Action) DependsOnPage() bool {
	switch a.Kind {
	case ActionURL, ActionClick:
		return true
	case ActionScore:
		return a.Region != nil
	}
	return false
}

// Outcome records how one action ended. Outcome strings double as metric labels.
type Outcome struct {
	Action    Action
	Status    string
	ErrorCode ErrorCode
	Err       error
}

const (
	StatusOK      = "ok"
	StatusFailed  = "failed"
	StatusSkipped = "skipped"
)

// DispatchResult summarizes one reply's worth of actions.
type DispatchResult struct {
	Outcomes []Outcome
	// Observation is set when the page changed and the model must see it
	// before its next turn.
	Observation *schemas.Message
}

// Executed counts actions that ran, successfully or not.
func (r DispatchResult) Executed() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Status != StatusSkipped {
			n++
		}
	}
	return n
}

// Skipped counts actions dropped as stale.
func (r DispatchResult) Skipped() int {
	return len(r.Outcomes) - r.Executed()
}

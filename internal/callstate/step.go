package callstate

// Step is the call's position in the conversation workflow.
type Step string

const (
	StepGreeting       Step = "greeting"
	StepIdentifyIntent Step = "identify_intent"
	StepGatherDetails  Step = "gather_details"
	StepConfirm        Step = "confirm"
	StepEnding         Step = "ending"
)

var stepRank = map[Step]int{
	StepGreeting:       0,
	StepIdentifyIntent: 1,
	StepGatherDetails:  2,
	StepConfirm:        3,
	StepEnding:         4,
}

// CanAdvance reports whether moving from one step to another is allowed.
// Steps only move forward, except that a confirmed call may return to
// gathering details for a follow-up request. Ending is absorbing.
func CanAdvance(from, to Step) bool {
	if from == StepEnding {
		return to == StepEnding
	}
	if from == StepConfirm && to == StepGatherDetails {
		return true
	}
	return stepRank[to] >= stepRank[from]
}

// Outcome is what the model declared during one turn.
type Outcome struct {
	IntentSet       bool
	Booked          bool
	RequestRecorded bool
	EndCall         bool
}

// ApplyOutcome returns the step a call moves to after a turn with the given
// outcome. Declarations apply in order: intent, completed action, end call.
func ApplyOutcome(step Step, o Outcome) Step {
	next := step
	if o.IntentSet {
		switch next {
		case StepGreeting, StepIdentifyIntent, StepConfirm:
			next = StepGatherDetails
		}
	}
	if o.Booked || o.RequestRecorded {
		switch next {
		case StepGreeting, StepIdentifyIntent, StepGatherDetails:
			next = StepConfirm
		}
	}
	if o.EndCall {
		next = StepEnding
	}
	if !CanAdvance(step, next) {
		return step
	}
	return next
}

package live

import (
	"sync"
)

// Phase is the single active turn-state governing which party may transmit
// audio. Exactly one phase is active at any instant.
type Phase int

const (
	// PhaseInit is the state before the first question has been spoken.
	PhaseInit Phase = iota
	// PhaseAISpeaking is when the interviewer's audio is being synthesized
	// and played; human input is ignored.
	PhaseAISpeaking
	// PhaseUserSpeaking is when the candidate may speak; captured audio is
	// transcribed and accumulated.
	PhaseUserSpeaking
	// PhaseProcessingAnswer is when a submitted answer is awaiting the
	// backend's next question; both capture and AI audio are suppressed.
	PhaseProcessingAnswer
	// PhaseEnded is terminal; all pipelines are torn down.
	PhaseEnded
)

// String returns a human-readable phase name.
func (p Phase) String() string {
	switch p {
	case PhaseInit:
		return "INIT"
	case PhaseAISpeaking:
		return "AI_SPEAKING"
	case PhaseUserSpeaking:
		return "USER_SPEAKING"
	case PhaseProcessingAnswer:
		return "PROCESSING_ANSWER"
	case PhaseEnded:
		return "ENDED"
	default:
		return "UNKNOWN"
	}
}

// PhaseMachine arbitrates turn-taking between the AI interviewer and the
// candidate. Transitions go through Transition (compare-and-set); illegal
// transitions are rejected, never silently overwritten. The one exception is
// End, which is legal from every state.
type PhaseMachine struct {
	mu       sync.Mutex
	phase    Phase
	onChange func(from, to Phase)
}

// NewPhaseMachine creates a machine in PhaseInit.
func NewPhaseMachine() *PhaseMachine {
	return &PhaseMachine{phase: PhaseInit}
}

// SetOnChange registers a callback invoked after every successful
// transition. The callback runs outside the machine's lock.
func (m *PhaseMachine) SetOnChange(fn func(from, to Phase)) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.onChange = fn
}

// Phase returns the current phase.
func (m *PhaseMachine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phase
}

// legalTransition reports whether from→to is part of the turn cycle.
func legalTransition(from, to Phase) bool {
	if to == PhaseEnded {
		return true
	}
	switch from {
	case PhaseInit:
		return to == PhaseAISpeaking
	case PhaseAISpeaking:
		return to == PhaseUserSpeaking
	case PhaseUserSpeaking:
		return to == PhaseProcessingAnswer
	case PhaseProcessingAnswer:
		return to == PhaseAISpeaking
	default:
		return false
	}
}

// Transition moves from→to if and only if the machine is currently in from
// and the transition is legal. Returns true on success.
func (m *PhaseMachine) Transition(from, to Phase) bool {
	var fn func(Phase, Phase)

	m.mu.Lock()
	if m.phase != from || !legalTransition(from, to) {
		m.mu.Unlock()
		return false
	}
	m.phase = to
	fn = m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(from, to)
	}
	return true
}

// End force-sets the terminal phase from any state. It short-circuits every
// pending gated callback: once ended, no audio in either direction passes
// the guards. Returns false if already ended.
func (m *PhaseMachine) End() bool {
	var (
		fn   func(Phase, Phase)
		from Phase
	)

	m.mu.Lock()
	if m.phase == PhaseEnded {
		m.mu.Unlock()
		return false
	}
	from = m.phase
	m.phase = PhaseEnded
	fn = m.onChange
	m.mu.Unlock()

	if fn != nil {
		fn(from, PhaseEnded)
	}
	return true
}

// AcceptsUserAudio reports whether outbound microphone frames and inbound
// transcription fragments may be processed right now.
func (m *PhaseMachine) AcceptsUserAudio() bool {
	return m.Phase() == PhaseUserSpeaking
}

// AcceptsAIAudio reports whether inbound synthesized speech may be scheduled
// for playback right now. A stale chunk delivered after the candidate has
// started speaking must not be played.
func (m *PhaseMachine) AcceptsAIAudio() bool {
	p := m.Phase()
	return p == PhaseAISpeaking || p == PhaseInit
}

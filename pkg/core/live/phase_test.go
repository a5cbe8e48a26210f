package live

import (
	"testing"
)

func TestPhaseMachineStartsInInit(t *testing.T) {
	m := NewPhaseMachine()
	if got := m.Phase(); got != PhaseInit {
		t.Fatalf("initial phase = %v, want INIT", got)
	}
}

func TestPhaseMachineTurnCycle(t *testing.T) {
	m := NewPhaseMachine()

	steps := []struct{ from, to Phase }{
		{PhaseInit, PhaseAISpeaking},
		{PhaseAISpeaking, PhaseUserSpeaking},
		{PhaseUserSpeaking, PhaseProcessingAnswer},
		{PhaseProcessingAnswer, PhaseAISpeaking},
		{PhaseAISpeaking, PhaseUserSpeaking},
	}
	for _, st := range steps {
		if !m.Transition(st.from, st.to) {
			t.Fatalf("Transition(%v, %v) rejected", st.from, st.to)
		}
		if got := m.Phase(); got != st.to {
			t.Fatalf("phase after %v→%v = %v", st.from, st.to, got)
		}
	}
}

func TestPhaseMachineRejectsIllegalTransitions(t *testing.T) {
	cases := []struct {
		name     string
		setup    []Phase
		from, to Phase
	}{
		{"init to user", nil, PhaseInit, PhaseUserSpeaking},
		{"init to processing", nil, PhaseInit, PhaseProcessingAnswer},
		{"ai to processing", []Phase{PhaseAISpeaking}, PhaseAISpeaking, PhaseProcessingAnswer},
		{"user to ai", []Phase{PhaseAISpeaking, PhaseUserSpeaking}, PhaseUserSpeaking, PhaseAISpeaking},
		{"processing to user", []Phase{PhaseAISpeaking, PhaseUserSpeaking, PhaseProcessingAnswer}, PhaseProcessingAnswer, PhaseUserSpeaking},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			m := NewPhaseMachine()
			prev := PhaseInit
			for _, p := range tc.setup {
				if !m.Transition(prev, p) {
					t.Fatalf("setup transition %v→%v rejected", prev, p)
				}
				prev = p
			}
			before := m.Phase()
			if m.Transition(tc.from, tc.to) {
				t.Fatalf("Transition(%v, %v) accepted", tc.from, tc.to)
			}
			if got := m.Phase(); got != before {
				t.Fatalf("phase changed to %v after rejected transition", got)
			}
		})
	}
}

func TestPhaseMachineRejectsStaleFrom(t *testing.T) {
	m := NewPhaseMachine()
	if !m.Transition(PhaseInit, PhaseAISpeaking) {
		t.Fatal("setup transition rejected")
	}
	// A caller holding an outdated view must not win the race.
	if m.Transition(PhaseInit, PhaseAISpeaking) {
		t.Fatal("stale CAS accepted")
	}
}

func TestPhaseMachineEndFromAnyState(t *testing.T) {
	for _, setup := range [][]Phase{
		nil,
		{PhaseAISpeaking},
		{PhaseAISpeaking, PhaseUserSpeaking},
		{PhaseAISpeaking, PhaseUserSpeaking, PhaseProcessingAnswer},
	} {
		m := NewPhaseMachine()
		prev := PhaseInit
		for _, p := range setup {
			m.Transition(prev, p)
			prev = p
		}
		if !m.End() {
			t.Fatalf("End from %v returned false", prev)
		}
		if got := m.Phase(); got != PhaseEnded {
			t.Fatalf("phase after End = %v", got)
		}
		if m.End() {
			t.Fatal("second End returned true")
		}
	}
}

func TestPhaseMachineEndedIsTerminal(t *testing.T) {
	m := NewPhaseMachine()
	m.End()
	if m.Transition(PhaseEnded, PhaseAISpeaking) {
		t.Fatal("transition out of ENDED accepted")
	}
}

func TestPhaseMachineOnChange(t *testing.T) {
	m := NewPhaseMachine()
	var got [][2]Phase
	m.SetOnChange(func(from, to Phase) {
		got = append(got, [2]Phase{from, to})
	})

	m.Transition(PhaseInit, PhaseAISpeaking)
	m.Transition(PhaseInit, PhaseAISpeaking) // rejected, no callback
	m.End()

	want := [][2]Phase{
		{PhaseInit, PhaseAISpeaking},
		{PhaseAISpeaking, PhaseEnded},
	}
	if len(got) != len(want) {
		t.Fatalf("got %d callbacks, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("callback %d = %v, want %v", i, got[i], want[i])
		}
	}
}

func TestAudioAcceptanceGuards(t *testing.T) {
	cases := []struct {
		phase     []Phase
		userAudio bool
		aiAudio   bool
	}{
		{nil, false, true}, // INIT
		{[]Phase{PhaseAISpeaking}, false, true},
		{[]Phase{PhaseAISpeaking, PhaseUserSpeaking}, true, false},
		{[]Phase{PhaseAISpeaking, PhaseUserSpeaking, PhaseProcessingAnswer}, false, false},
	}
	for _, tc := range cases {
		m := NewPhaseMachine()
		prev := PhaseInit
		for _, p := range tc.phase {
			m.Transition(prev, p)
			prev = p
		}
		if got := m.AcceptsUserAudio(); got != tc.userAudio {
			t.Errorf("%v: AcceptsUserAudio = %v, want %v", m.Phase(), got, tc.userAudio)
		}
		if got := m.AcceptsAIAudio(); got != tc.aiAudio {
			t.Errorf("%v: AcceptsAIAudio = %v, want %v", m.Phase(), got, tc.aiAudio)
		}
	}

	m := NewPhaseMachine()
	m.End()
	if m.AcceptsUserAudio() || m.AcceptsAIAudio() {
		t.Error("ENDED accepts audio")
	}
}

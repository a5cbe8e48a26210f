package live

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/avirahq/interviewd/pkg/core"
	"github.com/avirahq/interviewd/pkg/core/types"
)

// fakeBackend scripts Start and Advance responses.
type fakeBackend struct {
	mu          sync.Mutex
	startResp   *types.StartResponse
	startErr    error
	startCalls  int
	advanceResp []*types.AdvanceResponse
	advanceErr  []error
	advanceReqs []types.AdvanceRequest
}

func (b *fakeBackend) Start(ctx context.Context, req types.StartRequest) (*types.StartResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startCalls++
	return b.startResp, b.startErr
}

func (b *fakeBackend) Advance(ctx context.Context, req types.AdvanceRequest) (*types.AdvanceResponse, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.advanceReqs = append(b.advanceReqs, req)
	i := len(b.advanceReqs) - 1
	var err error
	if i < len(b.advanceErr) {
		err = b.advanceErr[i]
	}
	var resp *types.AdvanceResponse
	if i < len(b.advanceResp) {
		resp = b.advanceResp[i]
	}
	return resp, err
}

// fakeSpeechConn records spoken questions and lets tests inject events.
type fakeSpeechConn struct {
	mu       sync.Mutex
	spoken   []string
	closed   bool
	speakErr error
}

func (c *fakeSpeechConn) SpeakQuestion(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.speakErr != nil {
		return c.speakErr
	}
	c.spoken = append(c.spoken, text)
	return nil
}

func (c *fakeSpeechConn) SendAudio(pcm []byte) error { return nil }

func (c *fakeSpeechConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed = true
	return nil
}

func (c *fakeSpeechConn) spokenQuestions() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.spoken...)
}

type fakeDialer struct {
	mu       sync.Mutex
	conns    []*fakeSpeechConn
	handler  func(SpeechEvent)
	dialErr  error
	speakErr error
}

func (d *fakeDialer) Dial(handler func(SpeechEvent)) (SpeechConn, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.dialErr != nil {
		return nil, d.dialErr
	}
	conn := &fakeSpeechConn{speakErr: d.speakErr}
	d.conns = append(d.conns, conn)
	d.handler = handler
	return conn, nil
}

func (d *fakeDialer) emit(ev SpeechEvent) {
	d.mu.Lock()
	h := d.handler
	d.mu.Unlock()
	if h != nil {
		h(ev)
	}
}

// memSnapshotStore is an in-memory SnapshotStore.
type memSnapshotStore struct {
	mu   sync.Mutex
	snap Snapshot
	set  bool
}

func (s *memSnapshotStore) Load() (Snapshot, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snap, s.set, nil
}

func (s *memSnapshotStore) Save(snap Snapshot) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.set = snap, true
	return nil
}

func (s *memSnapshotStore) Clear() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snap, s.set = Snapshot{}, false
	return nil
}

type clientFixture struct {
	client    *Client
	backend   *fakeBackend
	dialer    *fakeDialer
	snapshots *memSnapshotStore
	sink      *fakeSink
	notices   []Notice
	ended     []string
}

func newClientFixture(t *testing.T, backend *fakeBackend) *clientFixture {
	t.Helper()
	f := &clientFixture{
		backend:   backend,
		dialer:    &fakeDialer{},
		snapshots: &memSnapshotStore{},
		sink:      &fakeSink{},
	}
	client, err := NewClient(ClientConfig{
		UserID:    "user-1",
		Backend:   backend,
		Dialer:    f.dialer,
		Snapshots: f.snapshots,
		Scheduler: NewScheduler(&fakeClock{}, f.sink),
		Logger:    slog.New(slog.DiscardHandler),
		OnNotice:  func(n Notice) { f.notices = append(f.notices, n) },
		OnEnded:   func(reason string) { f.ended = append(f.ended, reason) },
	})
	if err != nil {
		t.Fatalf("NewClient: %v", err)
	}
	f.client = client
	return f
}

func startedBackend() *fakeBackend {
	return &fakeBackend{
		startResp: &types.StartResponse{
			Success:    true,
			SessionID:  "sess-1",
			QuestionID: "q-1",
			Question:   "Tell me about yourself.",
		},
	}
}

// drainToUserTurn simulates the interviewer finishing speaking.
func (f *clientFixture) drainToUserTurn(t *testing.T) {
	t.Helper()
	f.dialer.emit(SpeechEvent{Type: SpeechAudioChunk, Audio: buf(100 * time.Millisecond)})
	f.sink.finish(len(f.sink.sources) - 1)
	if got := f.client.Phases().Phase(); got != PhaseUserSpeaking {
		t.Fatalf("phase after drain = %v, want USER_SPEAKING", got)
	}
}

func TestClientInitStartsSession(t *testing.T) {
	f := newClientFixture(t, startedBackend())

	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if f.client.SessionID() != "sess-1" {
		t.Errorf("SessionID = %q", f.client.SessionID())
	}
	if got := f.client.Phases().Phase(); got != PhaseAISpeaking {
		t.Errorf("phase = %v, want AI_SPEAKING", got)
	}
	spoken := f.dialer.conns[0].spokenQuestions()
	if len(spoken) != 1 || spoken[0] != "Tell me about yourself." {
		t.Errorf("spoken = %v", spoken)
	}
	if snap, ok, _ := f.snapshots.Load(); !ok || snap.SessionID != "sess-1" {
		t.Errorf("snapshot not saved: %+v ok=%v", snap, ok)
	}
}

func TestClientInitIsIdempotent(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	ctx := context.Background()

	if err := f.client.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if err := f.client.Init(ctx); err != nil {
		t.Fatalf("second Init: %v", err)
	}
	if f.backend.startCalls != 1 {
		t.Errorf("Start called %d times, want 1", f.backend.startCalls)
	}
}

func TestClientInitResumesFromSnapshot(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	f.snapshots.Save(Snapshot{
		SessionID:  "sess-old",
		QuestionID: "q-old",
		Question:   "Where were we?",
		SavedAt:    time.Now().Add(-10 * time.Minute),
	})

	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if f.backend.startCalls != 0 {
		t.Errorf("Start called %d times, want 0", f.backend.startCalls)
	}
	if f.client.SessionID() != "sess-old" {
		t.Errorf("SessionID = %q, want sess-old", f.client.SessionID())
	}
	spoken := f.dialer.conns[0].spokenQuestions()
	if len(spoken) != 1 || spoken[0] != "Where were we?" {
		t.Errorf("spoken = %v", spoken)
	}
}

func TestClientInitIgnoresExpiredSnapshot(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	f.snapshots.Save(Snapshot{
		SessionID:  "sess-old",
		QuestionID: "q-old",
		Question:   "Where were we?",
		SavedAt:    time.Now().Add(-2 * time.Hour),
	})

	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	if f.backend.startCalls != 1 {
		t.Errorf("Start called %d times, want 1", f.backend.startCalls)
	}
	if f.client.SessionID() != "sess-1" {
		t.Errorf("SessionID = %q, want sess-1", f.client.SessionID())
	}
}

func TestClientTranscriptionGatedByPhase(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// AI_SPEAKING: fragments dropped.
	f.dialer.emit(SpeechEvent{Type: SpeechTranscription, Text: "ignored", Final: true})
	if got := f.client.AnswerText(); got != "" {
		t.Errorf("answer while AI speaking = %q", got)
	}

	f.drainToUserTurn(t)

	f.dialer.emit(SpeechEvent{Type: SpeechTranscription, Text: "I built", Final: true})
	f.dialer.emit(SpeechEvent{Type: SpeechTranscription, Text: "partial", Final: false})
	f.dialer.emit(SpeechEvent{Type: SpeechTranscription, Text: "a gateway", Final: true})
	if got := f.client.AnswerText(); got != "I built a gateway" {
		t.Errorf("answer = %q", got)
	}
}

func TestClientSubmitAdvances(t *testing.T) {
	backend := startedBackend()
	backend.advanceResp = []*types.AdvanceResponse{{
		Success:    true,
		Question:   "What was the hardest bug?",
		QuestionID: "q-2",
	}}
	f := newClientFixture(t, backend)
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	f.drainToUserTurn(t)
	f.dialer.emit(SpeechEvent{Type: SpeechTranscription, Text: "my answer", Final: true})

	if err := f.client.Submit(context.Background()); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	req := f.backend.advanceReqs[0]
	if req.SessionID != "sess-1" || req.QuestionID != "q-1" || req.AnswerText != "my answer" {
		t.Errorf("advance request = %+v", req)
	}
	if req.End {
		t.Error("End set on a manual submit")
	}
	if req.SubmitToken == "" {
		t.Error("submit token missing")
	}

	if got := f.client.Phases().Phase(); got != PhaseAISpeaking {
		t.Errorf("phase = %v, want AI_SPEAKING", got)
	}
	if got := f.client.AnswerText(); got != "" {
		t.Errorf("answer buffer not cleared: %q", got)
	}
	id, q := f.client.CurrentQuestion()
	if id != "q-2" || q != "What was the hardest bug?" {
		t.Errorf("current question = %q %q", id, q)
	}
	spoken := f.dialer.conns[0].spokenQuestions()
	if len(spoken) != 2 || spoken[1] != "What was the hardest bug?" {
		t.Errorf("spoken = %v", spoken)
	}
	if snap, _, _ := f.snapshots.Load(); snap.QuestionID != "q-2" {
		t.Errorf("snapshot question = %q, want q-2", snap.QuestionID)
	}
}

func TestClientSubmitRejectsEmptyAnswer(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	f.drainToUserTurn(t)

	err := f.client.Submit(context.Background())
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Type != core.ErrInvalidRequest {
		t.Fatalf("err = %v, want invalid request", err)
	}
	if len(f.backend.advanceReqs) != 0 {
		t.Error("empty answer reached the backend")
	}
}

func TestClientSubmitRejectedOutsideUserTurn(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	// Still AI_SPEAKING.
	if err := f.client.Submit(context.Background()); err == nil {
		t.Fatal("submit accepted during AI turn")
	}
}

func TestClientSubmitFailureRestoresAnswer(t *testing.T) {
	backend := startedBackend()
	backend.advanceErr = []error{errors.New("gateway timeout")}
	f := newClientFixture(t, backend)
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	f.drainToUserTurn(t)
	f.dialer.emit(SpeechEvent{Type: SpeechTranscription, Text: "my answer", Final: true})

	if err := f.client.Submit(context.Background()); err == nil {
		t.Fatal("Submit succeeded, want error")
	}

	if got := f.client.Phases().Phase(); got != PhaseUserSpeaking {
		t.Errorf("phase = %v, want USER_SPEAKING", got)
	}
	if got := f.client.AnswerText(); got != "my answer" {
		t.Errorf("answer not restored: %q", got)
	}
	if len(f.notices) != 1 || f.notices[0].Terminal || f.notices[0].DismissAfter == 0 {
		t.Errorf("notices = %+v, want one transient", f.notices)
	}
}

func TestClientEndSubstitutesFillerAnswer(t *testing.T) {
	backend := startedBackend()
	backend.advanceResp = []*types.AdvanceResponse{{
		Success:          true,
		End:              true,
		CompletionReason: "user_ended",
		Message:          "Thanks for your time.",
	}}
	f := newClientFixture(t, backend)
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	f.drainToUserTurn(t)

	if err := f.client.End(context.Background()); err != nil {
		t.Fatalf("End: %v", err)
	}

	req := f.backend.advanceReqs[0]
	if req.AnswerText != EndFillerAnswer {
		t.Errorf("answer = %q, want filler", req.AnswerText)
	}
	if !req.End {
		t.Error("End flag not set")
	}
	if got := f.client.Phases().Phase(); got != PhaseEnded {
		t.Errorf("phase = %v, want ENDED", got)
	}
	if _, ok, _ := f.snapshots.Load(); ok {
		t.Error("snapshot not cleared after end")
	}
	if len(f.ended) != 1 || f.ended[0] != "user_ended" {
		t.Errorf("ended = %v", f.ended)
	}
	if !f.dialer.conns[0].closed {
		t.Error("speech connection left open")
	}
}

func TestClientQuotaErrorEndsSession(t *testing.T) {
	backend := startedBackend()
	backend.advanceErr = []error{core.NewQuotaExceededError("daily limit reached", true)}
	f := newClientFixture(t, backend)
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}
	f.drainToUserTurn(t)
	f.dialer.emit(SpeechEvent{Type: SpeechTranscription, Text: "answer", Final: true})

	err := f.client.Submit(context.Background())
	var cerr *core.Error
	if !errors.As(err, &cerr) || cerr.Type != core.ErrQuotaExceeded {
		t.Fatalf("err = %v, want quota exceeded", err)
	}
	if got := f.client.Phases().Phase(); got != PhaseEnded {
		t.Errorf("phase = %v, want ENDED", got)
	}
	if len(f.ended) != 1 || f.ended[0] != "quota_exceeded" {
		t.Errorf("ended = %v", f.ended)
	}
}

func TestClientReconnectCapOnConsecutiveFailures(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	ctx := context.Background()
	if err := f.client.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f.dialer.dialErr = errors.New("gateway unreachable")

	for i := 0; i < MaxReconnectAttempts; i++ {
		if err := f.client.Reconnect(ctx); err == nil {
			t.Fatalf("reconnect %d succeeded with dialing down", i+1)
		}
		if got := f.client.Phases().Phase(); got == PhaseEnded {
			t.Fatalf("session ended after %d failures, cap is %d", i+1, MaxReconnectAttempts)
		}
	}

	// One past the cap is terminal.
	if err := f.client.Reconnect(ctx); err == nil {
		t.Fatal("reconnect past cap succeeded")
	}
	if got := f.client.Phases().Phase(); got != PhaseEnded {
		t.Errorf("phase = %v, want ENDED", got)
	}
	found := false
	for _, n := range f.notices {
		if n.Terminal {
			found = true
		}
	}
	if !found {
		t.Error("no terminal notice raised")
	}
	if len(f.ended) != 1 || f.ended[0] != "connection_lost" {
		t.Errorf("ended = %v", f.ended)
	}
}

func TestClientReconnectBudgetResetsOnSuccess(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	ctx := context.Background()
	if err := f.client.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Several successful recoveries spread over the session's lifetime.
	for i := 0; i < MaxReconnectAttempts; i++ {
		if err := f.client.Reconnect(ctx); err != nil {
			t.Fatalf("reconnect %d: %v", i+1, err)
		}
	}

	// A later genuine drop starts a fresh budget, not a terminal failure.
	f.dialer.dialErr = errors.New("gateway unreachable")
	if err := f.client.Reconnect(ctx); err == nil {
		t.Fatal("reconnect succeeded with dialing down")
	}
	if got := f.client.Phases().Phase(); got == PhaseEnded {
		t.Fatal("single failure after successful recoveries ended the session")
	}

	// Once the network is back the session recovers again.
	f.dialer.dialErr = nil
	if err := f.client.Reconnect(ctx); err != nil {
		t.Fatalf("reconnect after recovery: %v", err)
	}
	if len(f.ended) != 0 {
		t.Errorf("ended = %v, session should still be live", f.ended)
	}
}

func TestClientReconnectExhaustionClosesConn(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	ctx := context.Background()
	if err := f.client.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	// Replacement connections dial fine but reject the re-spoken question.
	f.dialer.speakErr = errors.New("speak rejected")
	for i := 0; i < MaxReconnectAttempts; i++ {
		if err := f.client.Reconnect(ctx); err == nil {
			t.Fatalf("reconnect %d succeeded, want dispatch failure", i+1)
		}
	}
	if err := f.client.Reconnect(ctx); err == nil {
		t.Fatal("reconnect past cap succeeded")
	}

	for i, conn := range f.dialer.conns {
		if !conn.closed {
			t.Errorf("conn %d left open after terminal reconnect", i)
		}
	}
	if len(f.ended) != 1 || f.ended[0] != "connection_lost" {
		t.Errorf("ended = %v", f.ended)
	}
}

func TestClientReconnectFailureRaisesNotice(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	ctx := context.Background()
	if err := f.client.Init(ctx); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f.dialer.dialErr = errors.New("gateway unreachable")
	if err := f.client.Reconnect(ctx); err == nil {
		t.Fatal("reconnect succeeded, want dial failure")
	}

	if len(f.notices) != 1 {
		t.Fatalf("notices = %+v, want one", f.notices)
	}
	n := f.notices[0]
	if n.Terminal || n.DismissAfter == 0 {
		t.Errorf("notice = %+v, want transient", n)
	}
	if !strings.Contains(n.Message, "attempt 1/3") {
		t.Errorf("notice message = %q, want attempt count", n.Message)
	}
}

func TestClientCancelAbandonsInit(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	f.client.Cancel()

	if got := f.client.Phases().Phase(); got != PhaseEnded {
		t.Errorf("phase = %v, want ENDED", got)
	}
}

func TestClientAudioChunksGatedByPhase(t *testing.T) {
	f := newClientFixture(t, startedBackend())
	if err := f.client.Init(context.Background()); err != nil {
		t.Fatalf("Init: %v", err)
	}

	f.dialer.emit(SpeechEvent{Type: SpeechAudioChunk, Audio: buf(50 * time.Millisecond)})
	if len(f.sink.sources) != 1 {
		t.Fatalf("scheduled %d sources, want 1", len(f.sink.sources))
	}
	f.sink.finish(0)

	// USER_SPEAKING: stale chunks dropped.
	f.dialer.emit(SpeechEvent{Type: SpeechAudioChunk, Audio: buf(50 * time.Millisecond)})
	if len(f.sink.sources) != 1 {
		t.Errorf("stale chunk scheduled, sources = %d", len(f.sink.sources))
	}
}

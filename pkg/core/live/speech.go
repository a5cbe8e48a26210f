package live

// SpeechEventType discriminates events emitted by a speech connection.
type SpeechEventType string

const (
	// SpeechAudioChunk carries a decoded chunk of synthesized speech.
	SpeechAudioChunk SpeechEventType = "audio_chunk"
	// SpeechTranscription carries a fragment of the candidate's transcribed
	// speech.
	SpeechTranscription SpeechEventType = "transcription"
	// SpeechInterrupted means the model cut its own speech short.
	SpeechInterrupted SpeechEventType = "interrupted"
	// SpeechClosed means the connection ended, cleanly or not.
	SpeechClosed SpeechEventType = "closed"
	// SpeechErr carries a non-fatal connection error.
	SpeechErr SpeechEventType = "error"
)

// SpeechEvent is one event from the realtime speech collaborator.
type SpeechEvent struct {
	Type SpeechEventType

	// Audio is set for SpeechAudioChunk.
	Audio PlayableBuffer

	// Text is set for SpeechTranscription.
	Text string
	// Final marks the end of a transcription segment.
	Final bool

	// Err is set for SpeechErr and optionally for SpeechClosed.
	Err error
}

// SpeechConn is a live connection to the realtime speech model. The model
// speaks questions aloud, streams synthesized audio back, and transcribes
// the candidate's microphone audio. Implementations deliver events on a
// single goroutine via the handler passed at connect time.
type SpeechConn interface {
	// SpeakQuestion asks the model to read the question text aloud. Audio
	// arrives as SpeechAudioChunk events.
	SpeakQuestion(text string) error

	// SendAudio forwards one gated microphone frame of 16 kHz PCM16.
	SendAudio(pcm []byte) error

	// Close tears the connection down. A SpeechClosed event follows.
	Close() error
}

// SpeechDialer opens speech connections. The session client depends on this
// interface so front ends can supply a native realtime client or the
// websocket gateway implementation.
type SpeechDialer interface {
	Dial(handler func(SpeechEvent)) (SpeechConn, error)
}

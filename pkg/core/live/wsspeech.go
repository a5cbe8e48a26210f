package live

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
)

const defaultSpeechConnectTimeout = 15 * time.Second

// speechFrame is the wire envelope of the websocket speech gateway. Every
// frame in both directions is a JSON text message with a type discriminator.
type speechFrame struct {
	Type string `json:"type"`

	// hello (client → server)
	InputFormat  *AudioConfig `json:"input_format,omitempty"`
	OutputFormat *AudioConfig `json:"output_format,omitempty"`
	Voice        string       `json:"voice,omitempty"`

	// speak (client → server)
	Text string `json:"text,omitempty"`

	// audio (both directions), base64 PCM16LE
	Data string `json:"data,omitempty"`

	// transcript (server → client)
	Final bool `json:"final,omitempty"`

	// error (server → client)
	Message string `json:"message,omitempty"`
}

// WSSpeechDialer opens speech connections through a websocket gateway that
// fronts the realtime model.
type WSSpeechDialer struct {
	// URL is the ws:// or wss:// endpoint.
	URL string

	// APIKey, when set, is sent as a bearer token on the upgrade request.
	APIKey string

	// Voice selects the synthesized voice; empty means gateway default.
	Voice string

	// ConnectTimeout bounds the dial + hello handshake. Zero means the
	// package default.
	ConnectTimeout time.Duration
}

// Dial connects, performs the hello handshake, and starts the read loop.
// Events are delivered to handler from a single goroutine.
func (d *WSSpeechDialer) Dial(handler func(SpeechEvent)) (SpeechConn, error) {
	if d == nil || d.URL == "" {
		return nil, errors.New("speech gateway url not configured")
	}
	if handler == nil {
		return nil, errors.New("handler must not be nil")
	}

	timeout := d.ConnectTimeout
	if timeout <= 0 {
		timeout = defaultSpeechConnectTimeout
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	headers := make(http.Header)
	if d.APIKey != "" {
		headers.Set("Authorization", "Bearer "+d.APIKey)
	}

	conn, resp, err := websocket.DefaultDialer.DialContext(ctx, d.URL, headers)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("speech dial failed (status %d): %w", resp.StatusCode, err)
		}
		return nil, fmt.Errorf("speech dial failed: %w", err)
	}

	in := CaptureAudioConfig()
	out := PlaybackAudioConfig()
	hello := speechFrame{
		Type:         "hello",
		InputFormat:  &in,
		OutputFormat: &out,
		Voice:        d.Voice,
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("send speech hello: %w", err)
	}

	s := &wsSpeechConn{
		conn:    conn,
		handler: handler,
		done:    make(chan struct{}),
	}
	go s.readLoop()
	return s, nil
}

type wsSpeechConn struct {
	conn    *websocket.Conn
	handler func(SpeechEvent)

	writeMu   sync.Mutex
	closed    atomic.Bool
	closeOnce sync.Once
	done      chan struct{}
}

func (s *wsSpeechConn) SpeakQuestion(text string) error {
	return s.sendJSON(speechFrame{Type: "speak", Text: text})
}

func (s *wsSpeechConn) SendAudio(pcm []byte) error {
	return s.sendJSON(speechFrame{
		Type: "audio",
		Data: base64.StdEncoding.EncodeToString(pcm),
	})
}

func (s *wsSpeechConn) sendJSON(frame speechFrame) error {
	if s.closed.Load() {
		return errors.New("speech connection is closed")
	}
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.conn.WriteJSON(frame)
}

func (s *wsSpeechConn) Close() error {
	s.closeOnce.Do(func() {
		s.closed.Store(true)
		s.writeMu.Lock()
		_ = s.conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			time.Now().Add(2*time.Second))
		s.writeMu.Unlock()
		_ = s.conn.Close()
	})
	<-s.done
	return nil
}

func (s *wsSpeechConn) readLoop() {
	defer close(s.done)

	playback := PlaybackAudioConfig()
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) || s.closed.Load() {
				s.handler(SpeechEvent{Type: SpeechClosed})
			} else {
				s.handler(SpeechEvent{Type: SpeechClosed, Err: err})
			}
			return
		}
		if messageType != websocket.TextMessage {
			continue
		}

		var frame speechFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			s.handler(SpeechEvent{Type: SpeechErr, Err: fmt.Errorf("malformed speech frame: %w", err)})
			continue
		}

		switch frame.Type {
		case "audio":
			buf, err := DecodeSpeechPayload(frame.Data, playback)
			if err != nil {
				// Decode failure drops the chunk, not the connection.
				s.handler(SpeechEvent{Type: SpeechErr, Err: err})
				continue
			}
			s.handler(SpeechEvent{Type: SpeechAudioChunk, Audio: buf})
		case "transcript":
			s.handler(SpeechEvent{Type: SpeechTranscription, Text: frame.Text, Final: frame.Final})
		case "interrupted":
			s.handler(SpeechEvent{Type: SpeechInterrupted})
		case "error":
			s.handler(SpeechEvent{Type: SpeechErr, Err: errors.New(frame.Message)})
		default:
			// Unknown frame types are ignored for forward compatibility.
		}
	}
}

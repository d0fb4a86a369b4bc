package transcript

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

// DefaultSilenceWindow is the inactivity window after the most recent
// finalized segment before the accumulated turn text is emitted as one
// completed utterance. Deepgram's own UtteranceEnd event short-circuits it.
const DefaultSilenceWindow = 2 * time.Second

// Adapter-level failures. Callers distinguish a busy adapter from a broken
// transcription channel.
var (
	ErrAlreadyCapturing  = errors.New("transcript: already capturing")
	ErrStreamUnavailable = errors.New("transcript: stream unavailable")
)

// State is a point-in-time snapshot of the transcript buffer for one
// listening turn.
type State struct {
	Finalized string
	Interim   string
	Capturing bool
}

// Options tunes the Deepgram live session. Zero values fall back to the
// defaults used by the intake flow.
type Options struct {
	SampleRate     int
	SilenceWindow  time.Duration
	UtteranceEndMs int
	EndpointingMs  int
	Language       string
}

// DeepgramLive is a streaming transcription session against Deepgram's
// live listen API. It accumulates finalized segments per listening turn
// and emits one completed utterance per turn on silence.
type DeepgramLive struct {
	apiKey string
	opts   Options

	conn       *websocket.Conn
	interims   chan string
	finalizeCh chan string
	audioData  chan []byte
	stopCh     chan struct{}
	mu         sync.RWMutex
	connected  bool
	// chanMu serializes output-channel sends with their close so a late
	// silence timer cannot send on a closed channel.
	chanMu      sync.Mutex
	chansClosed bool

	// per-turn utterance accumulation
	accMu         sync.Mutex
	finalizedText string
	interimText   string
	capturing     bool
	silenceTimer  *time.Timer
	// last time voice energy was observed in outgoing PCM
	lastVoiceTime time.Time
}

// Deepgram live message shapes (the subset the adapter consumes).
type resultsMessage struct {
	Type        string `json:"type"`
	IsFinal     bool   `json:"is_final"`
	SpeechFinal bool   `json:"speech_final"`
	Channel     struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float64 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`
}

type metadataMessage struct {
	Type      string `json:"type"`
	RequestID string `json:"request_id"`
}

type errorMessage struct {
	Type        string `json:"type"`
	Description string `json:"description"`
	Message     string `json:"message"`
}

// NewDeepgramLive creates a live transcription adapter. Connect must be
// called before audio is sent.
func NewDeepgramLive(apiKey string, opts Options) *DeepgramLive {
	if opts.SampleRate == 0 {
		opts.SampleRate = 16000
	}
	if opts.SilenceWindow == 0 {
		opts.SilenceWindow = DefaultSilenceWindow
	}
	if opts.UtteranceEndMs == 0 {
		opts.UtteranceEndMs = 1500
	}
	if opts.EndpointingMs == 0 {
		opts.EndpointingMs = 300
	}
	if opts.Language == "" {
		opts.Language = "en-US"
	}
	return &DeepgramLive{
		apiKey:     apiKey,
		opts:       opts,
		interims:   make(chan string, 100),
		finalizeCh: make(chan string, 10),
		audioData:  make(chan []byte, 1000),
		stopCh:     make(chan struct{}),
	}
}

// Interims returns the channel of interim transcript replacements.
func (s *DeepgramLive) Interims() <-chan string { return s.interims }

// Finalize returns a channel signaling end-of-utterance with the full
// accumulated text for the current listening turn.
func (s *DeepgramLive) Finalize() <-chan string { return s.finalizeCh }

// Connect establishes the WebSocket session to Deepgram. Calling Connect
// while a session is live is an error rather than a silent no-op so the
// orchestrator's capture lifecycle stays explicit.
func (s *DeepgramLive) Connect() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.connected {
		return ErrAlreadyCapturing
	}
	if s.apiKey == "" {
		return fmt.Errorf("%w: Deepgram API key is empty", ErrStreamUnavailable)
	}

	params := url.Values{}
	params.Set("encoding", "linear16")
	params.Set("sample_rate", strconv.Itoa(s.opts.SampleRate))
	params.Set("channels", "1")
	params.Set("language", s.opts.Language)
	params.Set("punctuate", "true")
	params.Set("interim_results", "true")
	params.Set("endpointing", strconv.Itoa(s.opts.EndpointingMs))
	params.Set("utterance_end_ms", strconv.Itoa(s.opts.UtteranceEndMs))

	wsURL := fmt.Sprintf("wss://api.deepgram.com/v1/listen?%s", params.Encode())

	headers := map[string][]string{
		"Authorization": {"Token " + s.apiKey},
	}

	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}
	conn, resp, err := dialer.Dial(wsURL, headers)
	if err != nil {
		if resp != nil {
			log.Printf("Deepgram connection failed with status: %d", resp.StatusCode)
		}
		return fmt.Errorf("%w: %v", ErrStreamUnavailable, err)
	}

	s.conn = conn
	s.connected = true

	s.accMu.Lock()
	s.lastVoiceTime = time.Now()
	s.accMu.Unlock()

	go s.handleMessages()
	go s.sendAudioData()

	log.Println("Connected to Deepgram live transcription")
	return nil
}

// BeginTurn resets the per-turn transcript buffer and arms capture for a
// new listening turn. Finalized text accumulates only within one turn.
func (s *DeepgramLive) BeginTurn() {
	s.accMu.Lock()
	s.finalizedText = ""
	s.interimText = ""
	s.capturing = true
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()
}

// SendPCM16KLE queues 16kHz little-endian mono PCM for the live session.
func (s *DeepgramLive) SendPCM16KLE(pcm []byte) error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if !s.connected {
		return fmt.Errorf("not connected to Deepgram")
	}
	s.detectVoiceActivity(pcm)
	select {
	case s.audioData <- pcm:
		return nil
	default:
		log.Println("Audio buffer full, dropping packet")
		return nil
	}
}

// detectVoiceActivity updates lastVoiceTime if the PCM buffer carries voice
// energy above a conservative RMS threshold. Expects 16-bit LE mono.
func (s *DeepgramLive) detectVoiceActivity(pcm []byte) {
	const minSamples = 160 // 10ms at 16kHz
	if len(pcm) < minSamples*2 {
		return
	}
	step := 2
	if len(pcm) > 3200 {
		step = 4
	}
	var sumSquares float64
	count := 0
	for i := 0; i+1 < len(pcm); i += 2 * step {
		v := int16(binary.LittleEndian.Uint16(pcm[i : i+2]))
		sumSquares += float64(v) * float64(v)
		count++
	}
	if count == 0 {
		return
	}
	rms := math.Sqrt(sumSquares / float64(count))
	const voiceRMS = 250.0
	if rms >= voiceRMS {
		s.accMu.Lock()
		s.lastVoiceTime = time.Now()
		s.accMu.Unlock()
	}
}

// RecentlyDetectedVoice reports whether voice energy was observed within
// the given window.
func (s *DeepgramLive) RecentlyDetectedVoice(window time.Duration) bool {
	s.accMu.Lock()
	last := s.lastVoiceTime
	s.accMu.Unlock()
	return time.Since(last) <= window
}

// State returns a snapshot of the current turn's transcript buffer.
func (s *DeepgramLive) State() State {
	s.accMu.Lock()
	defer s.accMu.Unlock()
	return State{Finalized: s.finalizedText, Interim: s.interimText, Capturing: s.capturing}
}

// Close terminates the session and releases the socket. It is safe to call
// on every exit path; a pending utterance is flushed best-effort.
func (s *DeepgramLive) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.connected {
		return nil
	}
	close(s.stopCh)
	s.accMu.Lock()
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.capturing = false
	s.accMu.Unlock()
	if s.conn != nil {
		closeMsg := map[string]string{"type": "CloseStream"}
		_ = s.conn.WriteJSON(closeMsg)
		_ = s.conn.Close()
	}
	s.connected = false
	s.conn = nil
	s.chanMu.Lock()
	s.chansClosed = true
	close(s.audioData)
	close(s.interims)
	close(s.finalizeCh)
	s.chanMu.Unlock()
	log.Println("Deepgram connection closed")
	return nil
}

func (s *DeepgramLive) handleMessages() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in handleMessages: %v", r)
		}
	}()
	for {
		select {
		case <-s.stopCh:
			return
		default:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn == nil {
				return
			}
			_, message, err := conn.ReadMessage()
			if err != nil {
				log.Printf("Error reading Deepgram message: %v", err)
				return
			}
			s.processMessage(message)
		}
	}
}

func (s *DeepgramLive) processMessage(message []byte) {
	var baseMsg map[string]interface{}
	if err := json.Unmarshal(message, &baseMsg); err != nil {
		log.Printf("Error unmarshaling message: %v", err)
		return
	}
	msgType, ok := baseMsg["type"].(string)
	if !ok {
		log.Printf("Message missing type field")
		return
	}
	switch msgType {
	case "Metadata":
		var msg metadataMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Metadata message: %v", err)
			return
		}
		log.Printf("Deepgram session metadata: request_id=%s", msg.RequestID)
	case "Results":
		var msg resultsMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Results message: %v", err)
			return
		}
		if len(msg.Channel.Alternatives) == 0 {
			return
		}
		text := strings.TrimSpace(msg.Channel.Alternatives[0].Transcript)
		if msg.IsFinal {
			s.appendFinalSegment(text, msg.SpeechFinal)
		} else {
			s.replaceInterim(text)
		}
	case "UtteranceEnd":
		// Deepgram's own endpointing decided the utterance is over.
		s.finalizeTurn()
	case "SpeechStarted":
		// informational only
	case "Error":
		var msg errorMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Error unmarshaling Error message: %v", err)
			return
		}
		log.Printf("Deepgram error: %s %s", msg.Description, msg.Message)
	default:
		log.Printf("Unknown Deepgram message type: %s", msgType)
	}
}

// replaceInterim swaps the provisional text wholesale and mirrors it to the
// interim channel for display.
func (s *DeepgramLive) replaceInterim(text string) {
	s.accMu.Lock()
	if !s.capturing {
		s.accMu.Unlock()
		return
	}
	s.interimText = text
	s.accMu.Unlock()
	if text == "" {
		return
	}
	s.sendInterim(text)
}

// appendFinalSegment appends one finalized segment to the turn buffer and
// arms (or resets) the silence timer. speech_final segments finalize the
// turn immediately.
func (s *DeepgramLive) appendFinalSegment(text string, speechFinal bool) {
	s.accMu.Lock()
	if !s.capturing {
		s.accMu.Unlock()
		return
	}
	if text != "" {
		if s.finalizedText == "" {
			s.finalizedText = text
		} else {
			s.finalizedText += " " + text
		}
		s.interimText = ""
		s.sendInterim(s.finalizedText)
	}
	if speechFinal {
		s.accMu.Unlock()
		s.finalizeTurn()
		return
	}
	if text != "" {
		if s.silenceTimer == nil {
			s.silenceTimer = time.AfterFunc(s.opts.SilenceWindow, s.silenceExpired)
		} else {
			_ = s.silenceTimer.Stop()
			s.silenceTimer.Reset(s.opts.SilenceWindow)
		}
	}
	s.accMu.Unlock()
}

// silenceExpired runs when the per-turn silence timer fires. Audio that
// still carries voice energy without producing new segments (trailing
// speech Deepgram has not finalized yet) defers the cutoff until the
// microphone itself has gone quiet for the full window.
func (s *DeepgramLive) silenceExpired() {
	s.accMu.Lock()
	sinceVoice := time.Since(s.lastVoiceTime)
	if s.capturing && s.silenceTimer != nil && sinceVoice < s.opts.SilenceWindow {
		s.silenceTimer.Reset(s.opts.SilenceWindow - sinceVoice)
		s.accMu.Unlock()
		return
	}
	s.accMu.Unlock()
	s.finalizeTurn()
}

// finalizeTurn emits the accumulated turn text as one completed utterance
// and leaves capture off until the next BeginTurn.
func (s *DeepgramLive) finalizeTurn() {
	select {
	case <-s.stopCh:
		return
	default:
	}

	s.accMu.Lock()
	if !s.capturing {
		s.accMu.Unlock()
		return
	}
	utterance := strings.TrimSpace(s.finalizedText)
	s.capturing = false
	s.interimText = ""
	if s.silenceTimer != nil {
		_ = s.silenceTimer.Stop()
		s.silenceTimer = nil
	}
	s.accMu.Unlock()

	if utterance == "" {
		return
	}
	// Deliver without dropping so no accepted words are lost downstream.
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	if s.chansClosed {
		return
	}
	select {
	case <-s.stopCh:
	case s.finalizeCh <- utterance:
	}
}

// sendInterim mirrors caption text without blocking the ASR reader.
func (s *DeepgramLive) sendInterim(text string) {
	s.chanMu.Lock()
	defer s.chanMu.Unlock()
	if s.chansClosed {
		return
	}
	select {
	case s.interims <- text:
	default:
	}
}

func (s *DeepgramLive) sendAudioData() {
	defer func() {
		if r := recover(); r != nil {
			log.Printf("Recovered from panic in sendAudioData: %v", r)
		}
	}()
	keepAlive := time.NewTicker(5 * time.Second)
	defer keepAlive.Stop()
	for {
		select {
		case <-s.stopCh:
			return
		case <-keepAlive.C:
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				_ = conn.WriteJSON(map[string]string{"type": "KeepAlive"})
			}
		case audioData, ok := <-s.audioData:
			if !ok {
				return
			}
			s.mu.RLock()
			conn := s.conn
			s.mu.RUnlock()
			if conn != nil {
				if err := conn.WriteMessage(websocket.BinaryMessage, audioData); err != nil {
					log.Printf("Error sending audio data: %v", err)
					return
				}
			}
		}
	}
}

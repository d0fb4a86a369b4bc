// Package phone runs the intake interview over a regular phone call.
// Twilio gathers each spoken answer and posts it back as a webhook, so
// the same session machinery runs with a manually fed transcript source.
package phone

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/twilio/twilio-go"
	twilioApi "github.com/twilio/twilio-go/rest/api/v2010"
	"github.com/twilio/twilio-go/twiml"

	"github.com/Abhinav-676/telehealth-landing/internal/config"
	"github.com/Abhinav-676/telehealth-landing/internal/intake"
	"github.com/Abhinav-676/telehealth-landing/internal/llm"
)

// Storage persists call recordings next to the reports.
type Storage interface {
	Put(key string, data []byte) error
}

// answerWait bounds how long a webhook response waits for the session to
// judge an answer before re-asking.
const answerWait = 12 * time.Second

type activeCall struct {
	sess *intake.Session
	src  *intake.ManualSource
}

// Service handles the Twilio webhook surface.
type Service struct {
	accountSID string
	authToken  string
	cfg        config.Config
	rest       *twilio.RestClient
	httpClient *http.Client
	storage    Storage
	compiler   intake.ReportCompiler

	mu    sync.Mutex
	calls map[string]*activeCall
}

func New(cfg config.Config, compiler intake.ReportCompiler, storage Storage) *Service {
	rest := twilio.NewRestClientWithParams(twilio.ClientParams{
		Username: cfg.TwilioAccountSID,
		Password: cfg.TwilioAuthToken,
	})
	return &Service{
		accountSID: cfg.TwilioAccountSID,
		authToken:  cfg.TwilioAuthToken,
		cfg:        cfg,
		rest:       rest,
		httpClient: &http.Client{Timeout: 30 * time.Second},
		storage:    storage,
		compiler:   compiler,
		calls:      make(map[string]*activeCall),
	}
}

func (s *Service) RegisterHandlers(e *echo.Echo) {
	e.POST("/twilio/voice", s.handleVoice, s.authMiddleware)
	e.POST("/twilio/answer", s.handleAnswer, s.authMiddleware)
	e.POST("/twilio/call-status", s.handleCallStatus, s.authMiddleware)
	e.POST("/twilio/recording-status", s.handleRecordingStatus, s.authMiddleware)
}

// handleVoice starts a new interview for an inbound call and asks the
// first question.
func (s *Service) handleVoice(c echo.Context) error {
	params, ok := twilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "failed to get Twilio parameters")
	}
	callSID := params["CallSid"]
	from := params["From"]
	if callSID == "" {
		return c.String(http.StatusBadRequest, "missing CallSid")
	}
	log.Printf("phone: call from %s, CallSid=%s", from, callSID)

	llmClient := llm.NewOpenRouterClient(s.cfg.OpenRouterKey, s.cfg.OpenRouterModel)
	src := intake.NewManualSource()
	sess := intake.NewSession(src,
		intake.NewLLMValidator(llmClient),
		intake.NewLLMFollowUpGenerator(llmClient),
		s.compiler,
		intake.SessionConfig{
			PivotQuestionID: s.cfg.PivotQuestionID,
			// webhook turns carry their own pacing; keep the internal
			// delays short so the next Gather opens promptly
			RelistenDelay: 200 * time.Millisecond,
			PromptDelay:   200 * time.Millisecond,
		},
		nil,
	)
	if err := sess.Start(context.Background()); err != nil {
		log.Printf("phone[%s]: session start failed: %v", callSID, err)
		elements, buildErr := s.sayAndHangup("We are unable to start your consultation right now. Please call back later.")
		return s.respondTwiML(c, elements, buildErr)
	}

	s.mu.Lock()
	s.calls[callSID] = &activeCall{sess: sess, src: src}
	s.mu.Unlock()

	callback := s.BuildAbsoluteURL(c, "/twilio/recording-status")
	go func() {
		if err := s.startCallRecording(callSID, callback); err != nil {
			log.Printf("phone[%s]: start recording failed: %v", callSID, err)
		}
	}()

	question, _ := sess.CurrentQuestion()
	elements, buildErr := s.askTwiML(question.Text)
	return s.respondTwiML(c, elements, buildErr)
}

// handleAnswer feeds the gathered speech into the session and speaks
// whatever the interview says next.
func (s *Service) handleAnswer(c echo.Context) error {
	params, ok := twilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "failed to get Twilio parameters")
	}
	callSID := params["CallSid"]

	s.mu.Lock()
	call := s.calls[callSID]
	s.mu.Unlock()
	if call == nil {
		elements, buildErr := s.sayAndHangup("Your consultation session has ended. Goodbye.")
		return s.respondTwiML(c, elements, buildErr)
	}

	speech := strings.TrimSpace(params["SpeechResult"])
	if speech == "" {
		question, ok := call.sess.CurrentQuestion()
		if !ok {
			return s.finishCall(c, callSID, call)
		}
		elements, buildErr := s.askTwiML(intake.DefaultRepromptText + " " + question.Text)
		return s.respondTwiML(c, elements, buildErr)
	}

	before := len(call.sess.Messages())
	if !waitUntil(answerWait, call.src.Capturing) {
		log.Printf("phone[%s]: capture window never opened", callSID)
	}
	call.src.Push(speech)

	// Wait for the validator verdict: a new AI message (the next
	// question or a re-prompt) or the session landing in ended.
	waitUntil(answerWait, func() bool {
		if call.sess.Phase() == intake.PhaseEnded {
			return true
		}
		msgs := call.sess.Messages()
		return len(msgs) > before && msgs[len(msgs)-1].Sender == intake.SenderAI
	})

	if call.sess.Phase() == intake.PhaseEnded {
		return s.finishCall(c, callSID, call)
	}
	if _, ok := call.sess.CurrentQuestion(); !ok {
		// every question is answered; the report compile is in flight
		return s.finishCall(c, callSID, call)
	}

	prompt := lastAIText(call.sess.Messages())
	if prompt == "" {
		if question, ok := call.sess.CurrentQuestion(); ok {
			prompt = question.Text
		}
	}
	elements, buildErr := s.askTwiML(prompt)
	return s.respondTwiML(c, elements, buildErr)
}

// finishCall voices the closing copy plus the recommendations and hangs
// up.
func (s *Service) finishCall(c echo.Context, callSID string, call *activeCall) error {
	s.mu.Lock()
	delete(s.calls, callSID)
	s.mu.Unlock()

	// give the report compiler a moment when the last answer just landed
	waitUntil(answerWait, func() bool {
		_, ok := call.sess.Recommendations()
		return ok || call.sess.Phase() == intake.PhaseEnded
	})

	parts := []string{lastAIText(call.sess.Messages())}
	if recs, ok := call.sess.Recommendations(); ok {
		parts = append(parts, fmt.Sprintf("Based on your answers, we recommend consulting a %s.", recs.RecommendedDoctor))
		if len(recs.Precautions) > 0 {
			parts = append(parts, "In the meantime: "+strings.Join(recs.Precautions, ". ")+".")
		}
	}
	elements, buildErr := s.sayAndHangup(strings.Join(parts, " "))
	return s.respondTwiML(c, elements, buildErr)
}

// handleCallStatus ends the session when the caller hangs up mid
// interview.
func (s *Service) handleCallStatus(c echo.Context) error {
	params, ok := twilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "failed to get Twilio parameters")
	}
	callSID := params["CallSid"]
	status := params["CallStatus"]
	switch status {
	case "completed", "failed", "busy", "no-answer", "canceled":
		s.mu.Lock()
		call := s.calls[callSID]
		delete(s.calls, callSID)
		s.mu.Unlock()
		if call != nil {
			log.Printf("phone[%s]: call %s, ending session", callSID, status)
			call.sess.End()
		}
	}
	return c.String(http.StatusOK, "OK")
}

// handleRecordingStatus archives the finished call recording.
func (s *Service) handleRecordingStatus(c echo.Context) error {
	params, ok := twilioParams(c)
	if !ok {
		return c.String(http.StatusInternalServerError, "failed to get Twilio parameters")
	}
	recordingSID := params["RecordingSid"]
	recordingURL := params["RecordingUrl"]
	status := params["RecordingStatus"]
	log.Printf("phone: recording status SID=%s status=%s", recordingSID, status)

	switch status {
	case "completed":
		if s.storage == nil {
			log.Printf("phone: no storage configured, skipping recording %s", recordingSID)
			break
		}
		key := fmt.Sprintf("recordings/%s.wav", recordingSID)
		go func() {
			if err := s.archiveRecording(recordingURL, key); err != nil {
				log.Printf("phone: archive recording %s: %v", recordingSID, err)
			} else {
				log.Printf("phone: recording archived as %s", key)
			}
		}()
	case "failed", "absent":
		log.Printf("phone: recording failed or absent: SID=%s status=%s", recordingSID, status)
	}
	return c.String(http.StatusOK, "OK")
}

// startCallRecording turns on a continuous call-scoped recording.
func (s *Service) startCallRecording(callSID, callbackURL string) error {
	if s.accountSID == "" || s.authToken == "" {
		return fmt.Errorf("missing Twilio credentials")
	}
	params := &twilioApi.CreateCallRecordingParams{}
	params.SetRecordingStatusCallback(callbackURL)
	params.SetRecordingStatusCallbackMethod("POST")
	params.SetRecordingStatusCallbackEvent([]string{"completed", "absent"})
	params.SetRecordingChannels("mono")
	params.SetRecordingTrack("both")
	params.SetTrim("do-not-trim")
	_, err := s.rest.Api.CreateCallRecording(callSID, params)
	if err != nil {
		return fmt.Errorf("create call recording: %w", err)
	}
	return nil
}

// archiveRecording downloads the recording media and uploads it to
// storage.
func (s *Service) archiveRecording(recordingURL, key string) error {
	req, err := http.NewRequest(http.MethodGet, recordingURL+".wav", nil)
	if err != nil {
		return err
	}
	req.SetBasicAuth(s.accountSID, s.authToken)
	resp, err := s.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("download recording: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		preview, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("download recording: status %d: %s", resp.StatusCode, preview)
	}
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read recording: %w", err)
	}
	return s.storage.Put(key, body)
}

// BuildAbsoluteURL builds a public callback URL. Priority: BASE_URL env,
// X-Forwarded-* headers, then the request host.
func (s *Service) BuildAbsoluteURL(c echo.Context, path string) string {
	baseURL := os.Getenv("BASE_URL")
	if baseURL == "" {
		proto := c.Request().Header.Get("X-Forwarded-Proto")
		host := c.Request().Header.Get("X-Forwarded-Host")
		if proto != "" && host != "" {
			baseURL = fmt.Sprintf("%s://%s", proto, host)
		}
	}
	if baseURL == "" {
		host := c.Request().Host
		proto := "https"
		if strings.HasPrefix(host, "localhost:") || strings.HasPrefix(host, "127.0.0.1:") {
			proto = "http"
		}
		baseURL = fmt.Sprintf("%s://%s", proto, host)
	}
	if !strings.HasPrefix(path, "/") {
		path = "/" + path
	}
	return baseURL + path
}

// askTwiML speaks the prompt inside a speech Gather, so the caller can
// answer as soon as they are ready.
func (s *Service) askTwiML(prompt string) ([]twiml.Element, error) {
	say := &twiml.VoiceSay{Message: prompt}
	gather := &twiml.VoiceGather{
		Input:               "speech",
		Action:              "/twilio/answer",
		Method:              "POST",
		SpeechTimeout:       "2",
		ActionOnEmptyResult: "true",
		InnerElements:       []twiml.Element{say},
	}
	redirect := &twiml.VoiceRedirect{Url: "/twilio/answer", Method: "POST"}
	return []twiml.Element{gather, redirect}, nil
}

func (s *Service) sayAndHangup(message string) ([]twiml.Element, error) {
	say := &twiml.VoiceSay{Message: message}
	hangup := &twiml.VoiceHangup{}
	return []twiml.Element{say, hangup}, nil
}

func (s *Service) respondTwiML(c echo.Context, elements []twiml.Element, buildErr error) error {
	if buildErr != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	response, err := twiml.Voice(elements)
	if err != nil {
		return c.String(http.StatusInternalServerError, "failed to build TwiML")
	}
	c.Response().Header().Set(echo.HeaderContentType, "application/xml")
	return c.String(http.StatusOK, response)
}

func lastAIText(messages []intake.Message) string {
	for i := len(messages) - 1; i >= 0; i-- {
		if messages[i].Sender == intake.SenderAI {
			return messages[i].Text
		}
	}
	return ""
}

func waitUntil(d time.Duration, cond func() bool) bool {
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return true
		}
		time.Sleep(20 * time.Millisecond)
	}
	return cond()
}

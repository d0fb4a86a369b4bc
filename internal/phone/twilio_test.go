package phone

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sort"
	"strings"
	"testing"

	"github.com/labstack/echo/v4"

	"github.com/Abhinav-676/telehealth-landing/internal/config"
)

const testAuthToken = "twilio-test-token"

func newTestService() (*Service, *echo.Echo) {
	cfg := config.Config{
		TwilioAuthToken: testAuthToken,
		PivotQuestionID: "severity",
	}
	s := New(cfg, nil, nil)
	e := echo.New()
	s.RegisterHandlers(e)
	return s, e
}

func sign(fullURL string, params map[string]string) string {
	data := fullURL
	keys := make([]string, 0, len(params))
	for k := range params {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		data += k + params[k]
	}
	mac := hmac.New(sha1.New, []byte(testAuthToken))
	mac.Write([]byte(data))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}

func signedRequest(path string, params map[string]string) *http.Request {
	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	r := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", sign("https://"+r.Host+path, params))
	return r
}

func TestValidateSignature(t *testing.T) {
	params := map[string]string{"CallSid": "CA123", "From": "+15550001111"}
	fullURL := "https://example.com/twilio/voice"
	sig := sign(fullURL, params)
	if !validateSignature(testAuthToken, sig, fullURL, params) {
		t.Fatalf("expected valid signature")
	}
	if validateSignature(testAuthToken, sig, fullURL, map[string]string{"CallSid": "CA999"}) {
		t.Fatalf("expected tampered params to fail")
	}
	if validateSignature(testAuthToken, "", fullURL, params) {
		t.Fatalf("expected missing signature to fail")
	}
}

func TestVoice_RejectsBadSignature(t *testing.T) {
	_, e := newTestService()
	form := url.Values{}
	form.Set("CallSid", "CA123")
	r := httptest.NewRequest(http.MethodPost, "/twilio/voice", strings.NewReader(form.Encode()))
	r.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	r.Header.Set("X-Twilio-Signature", "bogus")
	w := httptest.NewRecorder()
	e.ServeHTTP(w, r)
	if w.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", w.Code)
	}
}

func TestVoice_AsksFirstQuestion(t *testing.T) {
	_, e := newTestService()
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest("/twilio/voice", map[string]string{
		"CallSid": "CA100",
		"From":    "+15550001111",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", w.Code, w.Body.String())
	}
	body := w.Body.String()
	if !strings.Contains(body, "full name") {
		t.Fatalf("expected first question in TwiML, got: %s", body)
	}
	if !strings.Contains(body, "Gather") || !strings.Contains(body, "/twilio/answer") {
		t.Fatalf("expected speech gather in TwiML, got: %s", body)
	}
}

func TestAnswer_AdvancesToNextQuestion(t *testing.T) {
	_, e := newTestService()
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest("/twilio/voice", map[string]string{
		"CallSid": "CA200",
		"From":    "+15550001111",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("voice: expected 200, got %d", w.Code)
	}

	// empty OpenRouter credentials fail the validator open, so the
	// interview advances without any remote calls
	w2 := httptest.NewRecorder()
	e.ServeHTTP(w2, signedRequest("/twilio/answer", map[string]string{
		"CallSid":      "CA200",
		"SpeechResult": "John Doe",
	}))
	if w2.Code != http.StatusOK {
		t.Fatalf("answer: expected 200, got %d", w2.Code)
	}
	if !strings.Contains(w2.Body.String(), "how old are you") {
		t.Fatalf("expected second question, got: %s", w2.Body.String())
	}
}

func TestAnswer_EmptySpeechReprompts(t *testing.T) {
	_, e := newTestService()
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest("/twilio/voice", map[string]string{
		"CallSid": "CA300",
		"From":    "+15550001111",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("voice: expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	e.ServeHTTP(w2, signedRequest("/twilio/answer", map[string]string{
		"CallSid":      "CA300",
		"SpeechResult": "",
	}))
	if w2.Code != http.StatusOK {
		t.Fatalf("answer: expected 200, got %d", w2.Code)
	}
	body := w2.Body.String()
	if !strings.Contains(body, "full name") {
		t.Fatalf("expected same question re-asked, got: %s", body)
	}
}

func TestAnswer_UnknownCallHangsUp(t *testing.T) {
	_, e := newTestService()
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest("/twilio/answer", map[string]string{
		"CallSid":      "CA999",
		"SpeechResult": "hello",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !strings.Contains(w.Body.String(), "Hangup") {
		t.Fatalf("expected hangup TwiML, got: %s", w.Body.String())
	}
}

func TestCallStatus_CompletedEndsSession(t *testing.T) {
	s, e := newTestService()
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest("/twilio/voice", map[string]string{
		"CallSid": "CA400",
		"From":    "+15550001111",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("voice: expected 200, got %d", w.Code)
	}

	w2 := httptest.NewRecorder()
	e.ServeHTTP(w2, signedRequest("/twilio/call-status", map[string]string{
		"CallSid":    "CA400",
		"CallStatus": "completed",
	}))
	if w2.Code != http.StatusOK {
		t.Fatalf("status: expected 200, got %d", w2.Code)
	}
	s.mu.Lock()
	_, exists := s.calls["CA400"]
	s.mu.Unlock()
	if exists {
		t.Fatalf("expected call unregistered after completion")
	}
}

func TestRecordingStatus_NoStorageOK(t *testing.T) {
	_, e := newTestService()
	w := httptest.NewRecorder()
	e.ServeHTTP(w, signedRequest("/twilio/recording-status", map[string]string{
		"RecordingSid":    "RE123",
		"RecordingStatus": "completed",
		"RecordingUrl":    "https://api.twilio.com/recordings/RE123",
	}))
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
}

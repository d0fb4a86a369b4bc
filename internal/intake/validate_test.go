package intake

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"testing"

	"github.com/Abhinav-676/telehealth-landing/internal/llm"
)

type rewriteTransport struct{ target *url.URL }

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func validatorClient(t *testing.T, handler http.HandlerFunc) *llm.OpenRouterClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	u, err := url.Parse(srv.URL)
	if err != nil {
		t.Fatalf("parse server url: %v", err)
	}
	return &llm.OpenRouterClient{
		HTTPClient: &http.Client{Transport: rewriteTransport{target: u}},
		APIKey:     "test-key",
		Model:      "test-model",
	}
}

func chatCompletion(content string) string {
	return `{"choices":[{"message":{"content":` + jsonString(content) + `}}]}`
}

func jsonString(s string) string {
	out := `"`
	for _, r := range s {
		switch r {
		case '"':
			out += `\"`
		case '\\':
			out += `\\`
		case '\n':
			out += `\n`
		default:
			out += string(r)
		}
	}
	return out + `"`
}

func TestLLMValidator_RejectsWithFeedback(t *testing.T) {
	client := validatorClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletion(`{"isValid": false, "feedback": "Could you repeat your age?"}`)))
	})
	v := NewLLMValidator(client)
	res := v.Validate(context.Background(), Question{ID: "age", Text: "How old are you?"}, "purple sandwich")
	if res.IsValid {
		t.Fatalf("expected invalid")
	}
	if res.Feedback != "Could you repeat your age?" {
		t.Fatalf("unexpected feedback: %q", res.Feedback)
	}
}

func TestLLMValidator_AcceptsFencedPayload(t *testing.T) {
	client := validatorClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletion("```json\n{\"isValid\": true}\n```")))
	})
	v := NewLLMValidator(client)
	res := v.Validate(context.Background(), Question{ID: "name", Text: "Your name?"}, "John Doe")
	if !res.IsValid {
		t.Fatalf("expected valid")
	}
}

func TestLLMValidator_FailsOpenOnBackendError(t *testing.T) {
	client := validatorClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	})
	v := NewLLMValidator(client)
	res := v.Validate(context.Background(), Question{ID: "name", Text: "Your name?"}, "John Doe")
	if !res.IsValid {
		t.Fatalf("backend failure must fail open")
	}
}

func TestLLMValidator_FailsOpenOnProseResponse(t *testing.T) {
	client := validatorClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(chatCompletion("Sure! The answer looks fine to me.")))
	})
	v := NewLLMValidator(client)
	res := v.Validate(context.Background(), Question{ID: "name", Text: "Your name?"}, "John Doe")
	if !res.IsValid {
		t.Fatalf("unparseable judgment must fail open")
	}
}

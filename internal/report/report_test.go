package report

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/Abhinav-676/telehealth-landing/internal/intake"
	"github.com/Abhinav-676/telehealth-landing/internal/llm"
)

type rewriteTransport struct{ target *url.URL }

func (rt rewriteTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	req.URL.Scheme = rt.target.Scheme
	req.URL.Host = rt.target.Host
	return http.DefaultTransport.RoundTrip(req)
}

func testClient(t *testing.T, handler http.HandlerFunc) *llm.OpenRouterClient {
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

func completionWith(content string) string {
	content = strings.ReplaceAll(content, `"`, `\"`)
	content = strings.ReplaceAll(content, "\n", `\n`)
	return `{"choices":[{"message":{"content":"` + content + `"}}]}`
}

var sampleAnswers = []intake.Answer{
	{Field: "Name", Text: "John Doe"},
	{Field: "Symptoms", Text: "Severe headache"},
	{Field: "Severity", Text: "8"},
}

func TestCompiler_ParsesRecommendations(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(`{"recommendedDoctor": "Neurologist", "precautions": ["Rest in a dark room", "Stay hydrated"]}`)))
	})
	c := NewCompiler(client, nil)
	recs, err := c.Compile(context.Background(), "session-1", sampleAnswers)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if recs.RecommendedDoctor != "Neurologist" {
		t.Fatalf("unexpected doctor: %q", recs.RecommendedDoctor)
	}
	if len(recs.Precautions) != 2 {
		t.Fatalf("unexpected precautions: %v", recs.Precautions)
	}
}

func TestCompiler_StripsMarkdownFences(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith("```json\n{\"recommendedDoctor\": \"Cardiologist\", \"precautions\": [\"Avoid exertion\"]}\n```")))
	})
	c := NewCompiler(client, nil)
	recs, err := c.Compile(context.Background(), "session-2", sampleAnswers)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if recs.RecommendedDoctor != "Cardiologist" {
		t.Fatalf("unexpected doctor: %q", recs.RecommendedDoctor)
	}
}

func TestCompiler_DefaultsDoctorWhenMissing(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(completionWith(`{"precautions": ["Rest"]}`)))
	})
	c := NewCompiler(client, nil)
	recs, err := c.Compile(context.Background(), "session-3", sampleAnswers)
	if err != nil {
		t.Fatalf("compile: %v", err)
	}
	if recs.RecommendedDoctor != "General Practitioner" {
		t.Fatalf("expected fallback doctor, got %q", recs.RecommendedDoctor)
	}
}

func TestCompiler_BackendFailureReturnsError(t *testing.T) {
	client := testClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "upstream overloaded", http.StatusBadGateway)
	})
	c := NewCompiler(client, nil)
	if _, err := c.Compile(context.Background(), "session-4", sampleAnswers); err == nil {
		t.Fatalf("expected error on backend failure")
	}
}

package report

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/supabase-community/supabase-go"

	"github.com/Abhinav-676/telehealth-landing/internal/intake"
)

// Archive stores finished reports in a Supabase storage bucket, one JSON
// object per session.
type Archive struct {
	client *supabase.Client
	bucket string
}

// NewArchive connects to Supabase storage. An error here means bad
// configuration; callers may run without an archive instead.
func NewArchive(url, serviceKey, bucket string) (*Archive, error) {
	client, err := supabase.NewClient(url, serviceKey, &supabase.ClientOptions{})
	if err != nil {
		return nil, fmt.Errorf("create supabase client: %w", err)
	}
	return &Archive{client: client, bucket: bucket}, nil
}

type archivedReport struct {
	SessionID       string                 `json:"sessionId"`
	CompletedAt     time.Time              `json:"completedAt"`
	Answers         []intake.Answer        `json:"answers"`
	Recommendations intake.Recommendations `json:"recommendations"`
}

// Store uploads the report as reports/<session-id>.json.
func (a *Archive) Store(sessionID string, answers []intake.Answer, recs intake.Recommendations) error {
	doc := archivedReport{
		SessionID:       sessionID,
		CompletedAt:     time.Now().UTC(),
		Answers:         answers,
		Recommendations: recs,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	return a.Put(fmt.Sprintf("reports/%s.json", sessionID), data)
}

// Put uploads an arbitrary object into the bucket. Phone call recordings
// land here next to the reports.
func (a *Archive) Put(key string, data []byte) error {
	if _, err := a.client.Storage.UploadFile(a.bucket, key, bytes.NewReader(data)); err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

package transcript

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"
)

func TestConnect_MissingKeyIsStreamUnavailable(t *testing.T) {
	s := NewDeepgramLive("", Options{})
	err := s.Connect()
	if !errors.Is(err, ErrStreamUnavailable) {
		t.Fatalf("expected ErrStreamUnavailable, got %v", err)
	}
}

func TestConnect_WhileConnectedIsAlreadyCapturing(t *testing.T) {
	s := NewDeepgramLive("key", Options{})
	s.mu.Lock()
	s.connected = true
	s.mu.Unlock()
	if err := s.Connect(); !errors.Is(err, ErrAlreadyCapturing) {
		t.Fatalf("expected ErrAlreadyCapturing, got %v", err)
	}
}

func TestTurn_AccumulatesSegmentsAndFinalizesOnSilence(t *testing.T) {
	s := NewDeepgramLive("key", Options{SilenceWindow: 40 * time.Millisecond})
	s.BeginTurn()
	s.appendFinalSegment("my head hurts", false)
	s.appendFinalSegment("since yesterday", false)

	select {
	case got := <-s.Finalize():
		if got != "my head hurts since yesterday" {
			t.Fatalf("unexpected utterance: %q", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for finalize")
	}
	if st := s.State(); st.Capturing {
		t.Fatalf("expected capture to stop after finalize")
	}
}

func TestTurn_SegmentResetsSilenceTimer(t *testing.T) {
	s := NewDeepgramLive("key", Options{SilenceWindow: 60 * time.Millisecond})
	s.BeginTurn()
	s.appendFinalSegment("one", false)
	time.Sleep(30 * time.Millisecond)
	s.appendFinalSegment("two", false)
	// 30ms after the second segment the original deadline has passed but
	// the reset timer has not fired yet.
	time.Sleep(30 * time.Millisecond)
	select {
	case got := <-s.Finalize():
		t.Fatalf("finalized too early with %q", got)
	default:
	}
	select {
	case got := <-s.Finalize():
		if got != "one two" {
			t.Fatalf("unexpected utterance: %q", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("timeout waiting for finalize")
	}
}

func TestTurn_SpeechFinalShortCircuitsTimer(t *testing.T) {
	s := NewDeepgramLive("key", Options{SilenceWindow: 10 * time.Second})
	s.BeginTurn()
	s.appendFinalSegment("yes", true)
	select {
	case got := <-s.Finalize():
		if got != "yes" {
			t.Fatalf("unexpected utterance: %q", got)
		}
	case <-time.After(500 * time.Millisecond):
		t.Fatalf("speech_final should finalize without waiting for the silence window")
	}
}

func TestFinalizeTurn_IdempotentPerTurn(t *testing.T) {
	s := NewDeepgramLive("key", Options{SilenceWindow: 10 * time.Second})
	s.BeginTurn()
	s.appendFinalSegment("hello", false)
	s.finalizeTurn()
	s.finalizeTurn()

	<-s.Finalize()
	select {
	case got := <-s.Finalize():
		t.Fatalf("expected exactly one finalize event, got extra %q", got)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestBeginTurn_ResetsBufferNotSession(t *testing.T) {
	s := NewDeepgramLive("key", Options{SilenceWindow: 10 * time.Second})
	s.BeginTurn()
	s.appendFinalSegment("first answer", false)
	s.finalizeTurn()
	<-s.Finalize()

	s.BeginTurn()
	st := s.State()
	if st.Finalized != "" || st.Interim != "" {
		t.Fatalf("expected empty buffer on new turn, got %+v", st)
	}
	if !st.Capturing {
		t.Fatalf("expected capturing after BeginTurn")
	}
}

func TestSegmentsIgnoredWhenNotCapturing(t *testing.T) {
	s := NewDeepgramLive("key", Options{SilenceWindow: 40 * time.Millisecond})
	// no BeginTurn: late ASR events between turns must not accumulate
	s.appendFinalSegment("stale words", false)
	if st := s.State(); st.Finalized != "" {
		t.Fatalf("expected stale segment to be dropped, got %q", st.Finalized)
	}
	select {
	case got := <-s.Finalize():
		t.Fatalf("unexpected finalize %q", got)
	case <-time.After(100 * time.Millisecond):
	}
}

func TestClose_RacingSilenceTimerDoesNotPanic(t *testing.T) {
	for i := 0; i < 50; i++ {
		s := NewDeepgramLive("key", Options{SilenceWindow: time.Millisecond})
		s.mu.Lock()
		s.connected = true
		s.mu.Unlock()
		s.BeginTurn()
		s.appendFinalSegment("racing words", false)
		if err := s.Close(); err != nil {
			t.Fatalf("close: %v", err)
		}
	}
	// settle so a buggy timer would have fired on a closed channel
	time.Sleep(20 * time.Millisecond)
}

func loudFrame() []byte {
	samples := make([]byte, 160*2)
	for i := 0; i < 160; i++ {
		binary.LittleEndian.PutUint16(samples[i*2:(i+1)*2], 3000)
	}
	return samples
}

func TestDetectVoiceActivity_SetsLastVoiceOnLoudFrame(t *testing.T) {
	s := NewDeepgramLive("key", Options{})
	s.detectVoiceActivity(loudFrame())
	if !s.RecentlyDetectedVoice(time.Second) {
		t.Fatalf("expected voice detection on loud frame")
	}
}

func TestTurn_VoiceEnergyDefersSilenceCutoff(t *testing.T) {
	s := NewDeepgramLive("key", Options{SilenceWindow: 50 * time.Millisecond})
	s.BeginTurn()
	s.appendFinalSegment("I was going to say", false)

	// keep the mic hot past the silence window without any new segments
	frame := loudFrame()
	deadline := time.Now().Add(150 * time.Millisecond)
	for time.Now().Before(deadline) {
		s.detectVoiceActivity(frame)
		select {
		case got := <-s.Finalize():
			t.Fatalf("finalized while voice energy was still arriving: %q", got)
		case <-time.After(10 * time.Millisecond):
		}
	}

	// once the audio goes quiet the deferred timer finishes the turn
	select {
	case got := <-s.Finalize():
		if got != "I was going to say" {
			t.Fatalf("unexpected utterance: %q", got)
		}
	case <-time.After(time.Second):
		t.Fatalf("timeout waiting for finalize after voice stopped")
	}
}

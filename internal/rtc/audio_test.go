package rtc

import (
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v3/pkg/media"
)

type fakeTrack struct{ writes int32 }

func (f *fakeTrack) WriteSample(s media.Sample) error {
	atomic.AddInt32(&f.writes, 1)
	return nil
}

func newTestWriter(track sampleWriter) *OpusPacedWriter {
	return &OpusPacedWriter{
		track:        track,
		frameSamples: 960,
		frames:       make(chan []byte, 8),
		stopCh:       make(chan struct{}),
	}
}

func TestOpusPacedWriter_PacerWritesFrames(t *testing.T) {
	ft := &fakeTrack{}
	w := newTestWriter(ft)
	done := make(chan struct{})
	go func() { w.pacer(); close(done) }()

	for i := 0; i < 3; i++ {
		w.pushFrame([]byte{0x01, 0x02})
	}

	time.Sleep(60 * time.Millisecond)
	close(w.stopCh)
	<-done

	if atomic.LoadInt32(&ft.writes) == 0 {
		t.Fatalf("expected pacer to write at least one frame")
	}
}

func TestOpusPacedWriter_ResetDrains(t *testing.T) {
	w := newTestWriter(&fakeTrack{})
	w.pcmBuf = []int16{1, 2, 3}
	w.frames <- []byte{0x01}
	w.frames <- []byte{0x02}
	w.Reset()
	select {
	case <-w.frames:
		t.Fatalf("expected frames channel to be drained")
	default:
	}
	if len(w.pcmBuf) != 0 {
		t.Fatalf("expected pcm buffer cleared, got len=%d", len(w.pcmBuf))
	}
}

func TestOpusPacedWriter_CloseIdempotent(t *testing.T) {
	w := newTestWriter(&fakeTrack{})
	go w.pacer()
	w.Close()
	w.Close()
}

func TestParseICEServers(t *testing.T) {
	servers := parseICEServers(`[{"urls":["stun:stun.example.org:3478"]}]`)
	if len(servers) != 1 || servers[0].URLs[0] != "stun:stun.example.org:3478" {
		t.Fatalf("unexpected servers: %+v", servers)
	}
	fallback := parseICEServers("not json")
	if len(fallback) != 1 || fallback[0].URLs[0] != "stun:stun.l.google.com:19302" {
		t.Fatalf("expected stun fallback, got %+v", fallback)
	}
}

func TestAuthOK(t *testing.T) {
	mk := func(mod func(*http.Request)) *http.Request {
		r := httptest.NewRequest(http.MethodGet, "/consult/ws", nil)
		mod(r)
		return r
	}
	cases := []struct {
		name string
		req  *http.Request
		want bool
	}{
		{"query", mk(func(r *http.Request) {
			q := r.URL.Query()
			q.Set("password", "secret")
			r.URL.RawQuery = q.Encode()
		}), true},
		{"bearer", mk(func(r *http.Request) { r.Header.Set("Authorization", "Bearer secret") }), true},
		{"header", mk(func(r *http.Request) { r.Header.Set("X-Auth-Token", "secret") }), true},
		{"wrong", mk(func(r *http.Request) { r.Header.Set("Authorization", "Bearer nope") }), false},
		{"none", mk(func(r *http.Request) {}), false},
	}
	for _, tc := range cases {
		if got := AuthOK(tc.req, "secret"); got != tc.want {
			t.Fatalf("%s: AuthOK=%v want %v", tc.name, got, tc.want)
		}
	}
	if AuthOK(nil, "secret") {
		t.Fatalf("nil request must not authenticate")
	}
	if AuthOK(cases[0].req, "") {
		t.Fatalf("empty password must not authenticate")
	}
}

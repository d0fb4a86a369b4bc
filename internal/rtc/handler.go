package rtc

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"log"
	"strings"
	"sync/atomic"
	"time"

	"github.com/hraban/opus"
	"github.com/pion/interceptor"
	"github.com/pion/webrtc/v3"

	"github.com/Abhinav-676/telehealth-landing/internal/config"
	"github.com/Abhinav-676/telehealth-landing/internal/intake"
	"github.com/Abhinav-676/telehealth-landing/internal/llm"
	"github.com/Abhinav-676/telehealth-landing/internal/report"
	"github.com/Abhinav-676/telehealth-landing/internal/transcript"
	"github.com/Abhinav-676/telehealth-landing/internal/tts"
)

// SessionDescription is a small DTO so transports never expose webrtc
// types.
type SessionDescription struct {
	Type string `json:"type"`
	SDP  string `json:"sdp"`
}

// transcriptEvent is what the browser receives on the "transcript" data
// channel: interview messages, live interim text and the final report.
type transcriptEvent struct {
	Type    string                  `json:"type"`
	Message *intake.Message         `json:"message,omitempty"`
	Text    string                  `json:"text,omitempty"`
	Report  *intake.Recommendations `json:"report,omitempty"`
}

// Handler runs one voice intake interview per WebRTC peer connection.
type Handler struct {
	cfg config.Config
}

func NewHandler(cfg config.Config) *Handler { return &Handler{cfg: cfg} }

// HandleOffer accepts an SDP offer and returns an SDP answer with ICE
// gathering completed, for clients that signal over plain HTTP.
func (h *Handler) HandleOffer(ctx context.Context, offer SessionDescription) (SessionDescription, error) {
	if offer.Type != "offer" || offer.SDP == "" {
		return SessionDescription{}, errors.New("invalid offer")
	}

	pc, outTrack, err := h.createPeer()
	if err != nil {
		return SessionDescription{}, err
	}
	callID := generateCallID()
	h.attachIntake(callID, pc, outTrack)

	remoteOffer := webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: offer.SDP}
	if err := pc.SetRemoteDescription(remoteOffer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	answer, err := pc.CreateAnswer(nil)
	if err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	gatherComplete := webrtc.GatheringCompletePromise(pc)
	if err := pc.SetLocalDescription(answer); err != nil {
		_ = pc.Close()
		return SessionDescription{}, err
	}
	select {
	case <-gatherComplete:
	case <-ctx.Done():
		_ = pc.Close()
		return SessionDescription{}, ctx.Err()
	}
	local := pc.LocalDescription()
	if local == nil {
		_ = pc.Close()
		return SessionDescription{}, errors.New("no local description")
	}
	return SessionDescription{Type: "answer", SDP: local.SDP}, nil
}

// createPeer prepares a PeerConnection with default codecs and
// interceptors plus the outbound prompt audio track.
func (h *Handler) createPeer() (*webrtc.PeerConnection, *webrtc.TrackLocalStaticSample, error) {
	mediaEngine := &webrtc.MediaEngine{}
	if err := mediaEngine.RegisterDefaultCodecs(); err != nil {
		return nil, nil, err
	}
	ir := &interceptor.Registry{}
	if err := webrtc.RegisterDefaultInterceptors(mediaEngine, ir); err != nil {
		return nil, nil, err
	}
	api := webrtc.NewAPI(webrtc.WithMediaEngine(mediaEngine), webrtc.WithInterceptorRegistry(ir))

	pc, err := api.NewPeerConnection(webrtc.Configuration{ICEServers: parseICEServers(h.cfg.ICEServersJSON)})
	if err != nil {
		return nil, nil, err
	}
	outTrack, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus, ClockRate: 48000, Channels: 1},
		"intake-audio", "intake",
	)
	if err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	if _, err := pc.AddTrack(outTrack); err != nil {
		_ = pc.Close()
		return nil, nil, err
	}
	return pc, outTrack, nil
}

// attachIntake wires the interview session to the peer: mic audio flows
// into live transcription, prompts flow back as paced opus, and the
// "transcript" data channel mirrors the conversation for display.
func (h *Handler) attachIntake(callID string, pc *webrtc.PeerConnection, outTrack *webrtc.TrackLocalStaticSample) {
	stt := transcript.NewDeepgramLive(h.cfg.DeepgramAPIKey, transcript.Options{
		SilenceWindow:  h.cfg.SilenceWindow,
		UtteranceEndMs: h.cfg.UtteranceEndMs,
		EndpointingMs:  h.cfg.EndpointingMs,
	})
	llmClient := llm.NewOpenRouterClient(h.cfg.OpenRouterKey, h.cfg.OpenRouterModel)

	var archive *report.Archive
	if h.cfg.SupabaseURL != "" && h.cfg.SupabaseServiceKey != "" {
		a, err := report.NewArchive(h.cfg.SupabaseURL, h.cfg.SupabaseServiceKey, h.cfg.SupabaseBucket)
		if err != nil {
			log.Printf("[%s] report archive disabled: %v", callID, err)
		} else {
			archive = a
		}
	}
	compiler := report.NewCompiler(llmClient, archive)

	speaker := tts.Chain{tts.NewDeepgramSpeaker(h.cfg.DeepgramAPIKey, h.cfg.DeepgramTTSModel)}
	if h.cfg.ElevenLabsKey != "" && h.cfg.ElevenLabsVoiceID != "" {
		speaker = append(speaker, tts.NewElevenLabsSpeaker(h.cfg.ElevenLabsKey, h.cfg.ElevenLabsVoiceID))
	}

	var sessPtr atomic.Pointer[intake.Session]
	var pacedPtr atomic.Pointer[OpusPacedWriter]
	var transcriptDC atomic.Pointer[webrtc.DataChannel]

	sendEvent := func(ev transcriptEvent) {
		dc := transcriptDC.Load()
		if dc == nil {
			return
		}
		data, err := json.Marshal(ev)
		if err != nil {
			return
		}
		if err := dc.SendText(string(data)); err != nil {
			log.Printf("[%s] transcript channel send: %v", callID, err)
		}
	}

	pc.OnDataChannel(func(dc *webrtc.DataChannel) {
		switch dc.Label() {
		case "transcript":
			dc.OnOpen(func() { transcriptDC.Store(dc) })
		case "control":
			dc.OnMessage(func(msg webrtc.DataChannelMessage) {
				cmd := strings.TrimSpace(strings.ToLower(string(msg.Data)))
				switch cmd {
				case "end", "stop", "hangup":
					if s := sessPtr.Load(); s != nil {
						s.End()
					}
					if p := pacedPtr.Load(); p != nil {
						p.Reset()
					}
				}
			})
		}
	})
	pc.OnICEConnectionStateChange(func(state webrtc.ICEConnectionState) {
		log.Printf("[%s] ICE state: %s", callID, state.String())
	})
	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		log.Printf("[%s] PeerConnection state: %s", callID, state.String())
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed, webrtc.PeerConnectionStateDisconnected:
			if s := sessPtr.Load(); s != nil {
				s.End()
			}
			if p := pacedPtr.Load(); p != nil {
				p.FlushTail()
				time.AfterFunc(400*time.Millisecond, p.Close)
			}
			_ = pc.Close()
		}
	})

	pc.OnTrack(func(remote *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		if remote.Kind() != webrtc.RTPCodecTypeAudio {
			return
		}
		log.Printf("[%s] Remote audio track received: codec=%s", callID, remote.Codec().MimeType)

		paced, err := NewOpusPacedWriter(outTrack)
		if err != nil {
			log.Printf("[%s] Opus encoder error: %v", callID, err)
			return
		}
		pacedPtr.Store(paced)

		speakCtx, cancelSpeak := context.WithCancel(context.Background())
		speak := func(text string) {
			audio, errs := speaker.StreamPCM48k(speakCtx, text)
			for chunk := range audio {
				paced.WritePCM(chunk)
			}
			if err := <-errs; err != nil {
				log.Printf("[%s] prompt speech failed: %v", callID, err)
			}
		}

		sess := intake.NewSession(stt,
			intake.NewLLMValidator(llmClient),
			intake.NewLLMFollowUpGenerator(llmClient),
			compiler,
			intake.SessionConfig{
				PivotQuestionID: h.cfg.PivotQuestionID,
				RelistenDelay:   h.cfg.RelistenDelay,
				PromptDelay:     h.cfg.PromptDelay,
				Speak:           speak,
			},
			func(m intake.Message) {
				sendEvent(transcriptEvent{Type: "message", Message: &m})
			},
		)
		sessPtr.Store(sess)

		if err := sess.Start(context.Background()); err != nil {
			log.Printf("[%s] intake start failed: %v", callID, err)
			cancelSpeak()
			return
		}
		log.Printf("[%s] intake session %s started", callID, sess.ID())

		// Mirror live interim text for on-screen captions.
		go func() {
			for text := range stt.Interims() {
				sendEvent(transcriptEvent{Type: "interim", Text: text})
			}
		}()

		// Push the report once the interview lands in ended.
		go func() {
			ticker := time.NewTicker(250 * time.Millisecond)
			defer ticker.Stop()
			for range ticker.C {
				if sess.Phase() != intake.PhaseEnded {
					continue
				}
				if recs, ok := sess.Recommendations(); ok {
					sendEvent(transcriptEvent{Type: "report", Report: &recs})
				}
				cancelSpeak()
				return
			}
		}()

		dec, derr := opus.NewDecoder(16000, 1)
		if derr != nil {
			log.Printf("[%s] Opus decoder error: %v", callID, derr)
			return
		}
		go h.readMic(callID, remote, dec, stt)
	})
}

// readMic decodes inbound opus to 16kHz PCM and forwards it to the live
// transcription stream in fixed 100ms chunks.
func (h *Handler) readMic(callID string, remote *webrtc.TrackRemote, dec *opus.Decoder, stt *transcript.DeepgramLive) {
	const chunkBytes = 3200
	buf := make([]byte, 0, chunkBytes*4)
	samples := make([]int16, 1920)
	for {
		pkt, _, readErr := remote.ReadRTP()
		if readErr != nil {
			log.Printf("[%s] RTP read ended: %v", callID, readErr)
			return
		}
		if len(pkt.Payload) == 0 {
			continue
		}
		n, decErr := dec.Decode(pkt.Payload, samples)
		if decErr != nil {
			log.Printf("[%s] Opus decode error: %v", callID, decErr)
			continue
		}
		start := len(buf)
		need := n * 2
		if cap(buf)-start < need {
			tmp := make([]byte, start, start+need+chunkBytes)
			copy(tmp, buf)
			buf = tmp
		}
		buf = buf[:start+need]
		out := buf[start:]
		for i := 0; i < n; i++ {
			binary.LittleEndian.PutUint16(out[i*2:(i+1)*2], uint16(samples[i]))
		}
		for len(buf) >= chunkBytes {
			if err := stt.SendPCM16KLE(buf[:chunkBytes]); err != nil {
				log.Printf("[%s] transcription send error: %v", callID, err)
			}
			copy(buf, buf[chunkBytes:])
			buf = buf[:len(buf)-chunkBytes]
		}
	}
}

func parseICEServers(iceJSON string) []webrtc.ICEServer {
	var servers []webrtc.ICEServer
	if err := json.Unmarshal([]byte(iceJSON), &servers); err == nil && len(servers) > 0 {
		return servers
	}
	return []webrtc.ICEServer{{URLs: []string{"stun:stun.l.google.com:19302"}}}
}

func generateCallID() string { return time.Now().Format("0102150405.000") }

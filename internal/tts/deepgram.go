package tts

import (
	"context"
	"fmt"
	"log"
	"sync/atomic"
	"time"

	msginterfaces "github.com/deepgram/deepgram-go-sdk/pkg/api/speak/v1/websocket/interfaces"
	clientinterfaces "github.com/deepgram/deepgram-go-sdk/pkg/client/interfaces/v1"
	"github.com/deepgram/deepgram-go-sdk/pkg/client/speak"
)

// DeepgramSpeaker synthesizes prompts over Deepgram's speak websocket.
type DeepgramSpeaker struct {
	apiKey     string
	model      string
	sampleRate int
}

func NewDeepgramSpeaker(apiKey, model string) *DeepgramSpeaker {
	if model == "" {
		model = "aura-2-thalia-en"
	}
	return &DeepgramSpeaker{apiKey: apiKey, model: model, sampleRate: 48000}
}

func (d *DeepgramSpeaker) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)

	go func() {
		defer close(pcmCh)
		defer close(errCh)

		if d.apiKey == "" {
			errCh <- fmt.Errorf("deepgram speak: API key missing")
			return
		}
		if text == "" {
			return
		}

		options := &clientinterfaces.WSSpeakOptions{
			Model:      d.model,
			Encoding:   "linear16",
			SampleRate: d.sampleRate,
		}

		var lastAudioUnix int64
		var gotAudio int32
		cb := &audioSink{onBinary: func(data []byte) error {
			if len(data) == 0 {
				return nil
			}
			atomic.StoreInt64(&lastAudioUnix, time.Now().UnixNano())
			atomic.StoreInt32(&gotAudio, 1)
			chunk := make([]byte, len(data))
			copy(chunk, data)
			select {
			case pcmCh <- chunk:
			default:
				// peer is not draining; dropping keeps the stream live
			}
			return nil
		}}

		client, err := speak.NewWSUsingCallback(ctx, d.apiKey, &clientinterfaces.ClientOptions{}, options, cb)
		if err != nil {
			errCh <- fmt.Errorf("deepgram speak: create client: %w", err)
			return
		}

		var stopOnce atomic.Bool
		stop := func() {
			if stopOnce.CompareAndSwap(false, true) {
				client.Stop()
			}
		}
		defer stop()

		if ok := client.Connect(); !ok {
			errCh <- fmt.Errorf("deepgram speak: connect failed")
			return
		}

		if err := client.SpeakWithText(text); err != nil {
			errCh <- fmt.Errorf("deepgram speak: send text: %w", err)
			return
		}
		if err := client.Flush(); err != nil {
			log.Printf("deepgram speak: flush: %v", err)
		}

		// The speak socket has no end-of-utterance signal on the binary
		// stream; treat a quiet tail after audio as completion.
		const idleWindow = 400 * time.Millisecond
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		deadline := time.Now().Add(12 * time.Second)
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if atomic.LoadInt32(&gotAudio) == 1 {
					last := time.Unix(0, atomic.LoadInt64(&lastAudioUnix))
					if time.Since(last) > idleWindow {
						return
					}
				}
				if time.Now().After(deadline) {
					return
				}
			}
		}
	}()

	return pcmCh, errCh
}

type audioSink struct{ onBinary func([]byte) error }

func (s *audioSink) Open(*msginterfaces.OpenResponse) error         { return nil }
func (s *audioSink) Metadata(*msginterfaces.MetadataResponse) error { return nil }
func (s *audioSink) Flush(*msginterfaces.FlushedResponse) error     { return nil }
func (s *audioSink) Clear(*msginterfaces.ClearedResponse) error     { return nil }
func (s *audioSink) Close(*msginterfaces.CloseResponse) error       { return nil }
func (s *audioSink) Warning(*msginterfaces.WarningResponse) error   { return nil }
func (s *audioSink) Error(*msginterfaces.ErrorResponse) error       { return nil }
func (s *audioSink) UnhandledEvent([]byte) error                    { return nil }
func (s *audioSink) Binary(msg []byte) error {
	if s.onBinary != nil {
		return s.onBinary(msg)
	}
	return nil
}

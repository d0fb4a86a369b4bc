// Package tts voices interview prompts. Synthesis is streamed as 48kHz
// linear16 PCM so the RTC layer can pace it straight into an opus track.
package tts

import "context"

// Speaker streams synthesized speech for one prompt. The PCM channel
// closes when synthesis finishes; the error channel reports at most one
// failure.
type Speaker interface {
	StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error)
}

// Chain tries each speaker in order and moves on when one fails before
// producing audio.
type Chain []Speaker

func (c Chain) StreamPCM48k(ctx context.Context, text string) (<-chan []byte, <-chan error) {
	pcmCh := make(chan []byte, 4096)
	errCh := make(chan error, 1)
	go func() {
		defer close(pcmCh)
		defer close(errCh)
		var lastErr error
		for _, s := range c {
			if ctx.Err() != nil {
				return
			}
			audio, errs := s.StreamPCM48k(ctx, text)
			produced := false
			for chunk := range audio {
				produced = true
				select {
				case pcmCh <- chunk:
				case <-ctx.Done():
					return
				}
			}
			if err := <-errs; err != nil {
				lastErr = err
			}
			if produced {
				return
			}
		}
		if lastErr != nil {
			errCh <- lastErr
		}
	}()
	return pcmCh, errCh
}

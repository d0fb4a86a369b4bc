package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	apihttp "github.com/Abhinav-676/telehealth-landing/api/http"
	"github.com/Abhinav-676/telehealth-landing/internal/config"
	"github.com/Abhinav-676/telehealth-landing/internal/httpserver"
	"github.com/Abhinav-676/telehealth-landing/internal/llm"
	"github.com/Abhinav-676/telehealth-landing/internal/phone"
	"github.com/Abhinav-676/telehealth-landing/internal/report"
	"github.com/Abhinav-676/telehealth-landing/internal/rtc"
)

func main() {
	// sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	e := httpserver.New()

	// browser consults over WebRTC
	apihttp.NewHandlers(rtc.NewHandler(cfg), cfg.AuthPassword).Register(e)

	// phone consults over Twilio webhooks
	var archive *report.Archive
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		a, err := report.NewArchive(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.SupabaseBucket)
		if err != nil {
			log.Printf("report archive disabled: %v", err)
		} else {
			archive = a
		}
	}
	compiler := report.NewCompiler(llm.NewOpenRouterClient(cfg.OpenRouterKey, cfg.OpenRouterModel), archive)
	var recordingStore phone.Storage
	if archive != nil {
		recordingStore = archive
	}
	phone.New(cfg, compiler, recordingStore).RegisterHandlers(e)

	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- e.Start(cfg.HTTPAddress)
	}()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		if err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	case sig := <-sigChan:
		log.Printf("shutdown signal received: %v", sig)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = e.Close()
	}
}

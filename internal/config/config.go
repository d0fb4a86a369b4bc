package config

import (
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string

	// Deepgram powers both live transcription and prompt speech.
	DeepgramAPIKey   string
	DeepgramTTSModel string

	// OpenRouter backs the advisory calls (validation, follow-ups, report).
	OpenRouterKey   string
	OpenRouterModel string

	ElevenLabsKey     string
	ElevenLabsVoiceID string

	TwilioAccountSID string
	TwilioAuthToken  string

	SupabaseURL        string
	SupabaseServiceKey string
	SupabaseBucket     string

	// Optional shared secret for the signaling endpoints.
	AuthPassword   string
	ICEServersJSON string

	// Interview tuning.
	PivotQuestionID string
	SilenceWindow   time.Duration
	UtteranceEndMs  int
	EndpointingMs   int
	RelistenDelay   time.Duration
	PromptDelay     time.Duration
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file loaded; relying on process environment")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	deepgramKey := os.Getenv("DEEPGRAM_API_KEY")
	if deepgramKey == "" {
		log.Println("Warning: DEEPGRAM_API_KEY not set - transcription and prompt speech will not work")
	}
	ttsModel := os.Getenv("DEEPGRAM_TTS_MODEL")
	if ttsModel == "" {
		ttsModel = "aura-2-thalia-en"
	}

	openRouterKey := os.Getenv("OPEN_ROUTER")
	if openRouterKey == "" {
		log.Println("Warning: OPEN_ROUTER not set - answer validation, follow-ups and report recommendations will fail open")
	}
	openRouterModel := os.Getenv("OPEN_ROUTER_MODEL_ID")
	if openRouterModel == "" {
		openRouterModel = "google/gemini-2.0-flash-exp:free"
	}

	iceServers := os.Getenv("ICE_SERVERS_JSON")
	if iceServers == "" {
		iceServers = `[{"urls":["stun:stun.l.google.com:19302"]}]`
	}

	pivot := os.Getenv("INTAKE_PIVOT_QUESTION_ID")
	if pivot == "" {
		pivot = "severity"
	}

	cfg := Config{
		HTTPAddress:        addr,
		DeepgramAPIKey:     deepgramKey,
		DeepgramTTSModel:   ttsModel,
		OpenRouterKey:      openRouterKey,
		OpenRouterModel:    openRouterModel,
		ElevenLabsKey:      os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID:  os.Getenv("ELEVENLABS_VOICE_ID"),
		TwilioAccountSID:   os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:    os.Getenv("TWILIO_AUTH_TOKEN"),
		SupabaseURL:        os.Getenv("SUPABASE_URL"),
		SupabaseServiceKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:     envDefault("SUPABASE_BUCKET", "reports"),
		AuthPassword:       os.Getenv("AUTH_PASSWORD"),
		ICEServersJSON:     iceServers,
		PivotQuestionID:    pivot,
		SilenceWindow:      envDuration("INTAKE_SILENCE_WINDOW_MS", 2000),
		UtteranceEndMs:     envInt("DEEPGRAM_UTTERANCE_END_MS", 1500),
		EndpointingMs:      envInt("DEEPGRAM_ENDPOINTING_MS", 300),
		RelistenDelay:      envDuration("INTAKE_RELISTEN_DELAY_MS", 1000),
		PromptDelay:        envDuration("INTAKE_PROMPT_DELAY_MS", 1000),
	}

	log.Printf("config: HTTP_ADDRESS=%s pivot=%s silence=%s", cfg.HTTPAddress, cfg.PivotQuestionID, cfg.SilenceWindow)
	return cfg
}

func envDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		log.Printf("Warning: %s=%q is not a positive integer, using %d", key, v, def)
		return def
	}
	return n
}

func envDuration(key string, defMs int) time.Duration {
	return time.Duration(envInt(key, defMs)) * time.Millisecond
}

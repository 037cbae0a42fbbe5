package config

import (
	"log"
	"os"
	"strconv"

	"github.com/joho/godotenv"
)

// VADTuning holds the speech detector thresholds. Two tuning generations are in
// production; both ship as presets and every value can be overridden per deployment.
type VADTuning struct {
	RMSThreshold     float64
	PeakThreshold    int
	MinSpeechFrames  int
	MinSilenceFrames int
}

// Preset tunings. "legacy" is the original aggressive tuning, "current" trades
// reaction time for fewer false triggers on line noise.
var (
	VADLegacy  = VADTuning{RMSThreshold: 300, PeakThreshold: 2500, MinSpeechFrames: 3, MinSilenceFrames: 10}
	VADCurrent = VADTuning{RMSThreshold: 500, PeakThreshold: 4000, MinSpeechFrames: 8, MinSilenceFrames: 15}
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string
	PublicHost  string

	ElevenLabsAPIKey  string
	ElevenLabsAgentID string

	TwilioAccountSID string
	TwilioAuthToken  string
	TwilioFromNumber string

	SupabaseURL        string
	SupabaseServiceKey string
	LeadsTable         string

	HotPoolSize int
	VAD         VADTuning
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("Error loading .env file")
	}

	addr := os.Getenv("HTTP_ADDRESS")
	if addr == "" {
		addr = ":8080"
	}

	elevenKey := os.Getenv("ELEVENLABS_API_KEY")
	if elevenKey == "" {
		log.Println("Warning: ELEVENLABS_API_KEY not set - agent connections will not work")
	}
	agentID := os.Getenv("ELEVENLABS_AGENT_ID")
	if agentID == "" {
		log.Println("Warning: ELEVENLABS_AGENT_ID not set - agent connections will not work")
	}

	accountSID := os.Getenv("TWILIO_ACCOUNT_SID")
	authToken := os.Getenv("TWILIO_AUTH_TOKEN")
	if accountSID == "" || authToken == "" {
		log.Println("Warning: TWILIO_ACCOUNT_SID / TWILIO_AUTH_TOKEN not set - outbound calls and webhook auth will not work")
	}

	supabaseURL := os.Getenv("SUPABASE_URL")
	supabaseKey := os.Getenv("SUPABASE_SERVICE_ROLE_KEY")
	if supabaseURL == "" || supabaseKey == "" {
		log.Println("Warning: SUPABASE_URL / SUPABASE_SERVICE_ROLE_KEY not set - leads will be kept in memory only")
	}
	leadsTable := os.Getenv("SUPABASE_LEADS_TABLE")
	if leadsTable == "" {
		leadsTable = "leads"
	}

	vad := VADCurrent
	if os.Getenv("VAD_TUNING") == "legacy" {
		vad = VADLegacy
	}
	vad.RMSThreshold = envFloat("VAD_RMS_THRESHOLD", vad.RMSThreshold)
	vad.PeakThreshold = envInt("VAD_PEAK_THRESHOLD", vad.PeakThreshold)
	vad.MinSpeechFrames = envInt("VAD_MIN_SPEECH_FRAMES", vad.MinSpeechFrames)
	vad.MinSilenceFrames = envInt("VAD_MIN_SILENCE_FRAMES", vad.MinSilenceFrames)

	log.Printf("config: HTTP_ADDRESS=%s hot_pool=%d vad=%+v", addr, envInt("HOT_POOL_SIZE", 3), vad)
	return Config{
		HTTPAddress:        addr,
		PublicHost:         os.Getenv("PUBLIC_HOST"),
		ElevenLabsAPIKey:   elevenKey,
		ElevenLabsAgentID:  agentID,
		TwilioAccountSID:   accountSID,
		TwilioAuthToken:    authToken,
		TwilioFromNumber:   os.Getenv("TWILIO_FROM_NUMBER"),
		SupabaseURL:        supabaseURL,
		SupabaseServiceKey: supabaseKey,
		LeadsTable:         leadsTable,
		HotPoolSize:        envInt("HOT_POOL_SIZE", 3),
		VAD:                vad,
	}
}

func envInt(key string, def int) int {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		log.Printf("Warning: %s=%q is not an integer, using %d", key, v, def)
		return def
	}
	return n
}

func envFloat(key string, def float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return def
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("Warning: %s=%q is not a number, using %g", key, v, def)
		return def
	}
	return f
}

package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/neonpush/elevenlabs-realtime-agent/internal/config"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/convai"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/httpserver"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/lead"
	"github.com/neonpush/elevenlabs-realtime-agent/internal/telephony"
)

func main() {
	// Include sub-second precision in all log timestamps
	log.SetFlags(log.Ldate | log.Ltime | log.Lmicroseconds)

	cfg := config.Load()

	var leads lead.Store
	if cfg.SupabaseURL != "" && cfg.SupabaseServiceKey != "" {
		store, err := lead.NewSupabaseStore(cfg.SupabaseURL, cfg.SupabaseServiceKey, cfg.LeadsTable)
		if err != nil {
			log.Fatalf("supabase store: %v", err)
		}
		leads = store
	} else {
		leads = lead.NewMemoryStore()
	}

	creds := convai.Credentials{APIKey: cfg.ElevenLabsAPIKey, AgentID: cfg.ElevenLabsAgentID}
	pool := convai.NewPool(func(ctx context.Context) (convai.Conn, error) {
		return convai.Dial(ctx, creds)
	}, cfg.HotPoolSize)
	pool.Start()
	defer pool.Stop()

	var caller httpserver.CallStarter
	if cfg.TwilioAccountSID != "" && cfg.TwilioAuthToken != "" {
		caller = telephony.NewCaller(cfg.TwilioAccountSID, cfg.TwilioAuthToken, cfg.TwilioFromNumber)
	}

	srv := httpserver.New(cfg, pool, leads, caller)

	server := &http.Server{
		Addr:              cfg.HTTPAddress,
		Handler:           srv.Router,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	// Start server in background
	serverErrors := make(chan error, 1)
	go func() {
		log.Printf("server listening on %s", cfg.HTTPAddress)
		serverErrors <- server.ListenAndServe()
	}()

	// Graceful shutdown
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
	if err := server.Shutdown(ctx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
		_ = server.Close()
	}
}

// cmd/smoketest/main.go
//
// Standalone binary for manual end-to-end verification of the EVE SSO login
// and ESI connectivity. NOT part of the production application: nothing is
// persisted.
//
// Prerequisites:
//   - A valid corpsso.yaml in the working directory with:
//       esi:
//         client_id:     <your CCP Developer App client_id>
//         client_secret: <your CCP Developer App client_secret>
//         callback_url:  http://localhost:8081/auth/eve/callback
//       session_secret: <at least 32 bytes>
//
// Usage:
//
//	go run ./cmd/smoketest/ [-scope basic|enhanced|corporation]
//	Open http://localhost:8081/auth/eve/login in your browser.
//	After the callback the resolved identity, EVE roles and access decision
//	are printed to stdout; the server shuts down automatically.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/dpleshakov/corpsso/internal/auth"
	"github.com/dpleshakov/corpsso/internal/config"
	"github.com/dpleshakov/corpsso/internal/esi"
	"github.com/dpleshakov/corpsso/internal/logging"
	"github.com/dpleshakov/corpsso/internal/session"
	"github.com/dpleshakov/corpsso/internal/sso"
)

// browserKey is fixed: the smoketest serves a single browser.
const browserKey = "smoketest"

func main() {
	scope := flag.String("scope", "basic", "scope tier to request")
	flag.Parse()

	scopeType, err := sso.ParseScopeType(*scope)
	if err != nil {
		log.Fatalf("scope: %v", err)
	}

	cfg, err := config.Load("corpsso.yaml")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger, err := logging.New("debug")
	if err != nil {
		log.Fatalf("logger: %v", err)
	}

	ssoClient := sso.NewClient(sso.Config{
		ClientID:     cfg.ESI.ClientID,
		ClientSecret: cfg.ESI.ClientSecret,
		RedirectURL:  cfg.ESI.CallbackURL,
		BaseURL:      cfg.ESI.SSOBaseURL,
	}, http.DefaultClient, logger)
	esiClient := esi.NewClient(http.DefaultClient, cfg.ESI.ESIBaseURL, logger)
	sessions := session.NewManager(ssoClient, 0, logger)
	svc := auth.NewService(ssoClient, esiClient, auth.NewMemoryStateStore(), sessions, 0, logger)

	shutdown := make(chan struct{})

	mux := http.NewServeMux()

	mux.HandleFunc("/auth/eve/login", func(w http.ResponseWriter, r *http.Request) {
		authURL, err := svc.InitiateLogin(r.Context(), browserKey, scopeType)
		if err != nil {
			http.Error(w, "failed to start login: "+err.Error(), http.StatusInternalServerError)
			return
		}
		http.Redirect(w, r, authURL, http.StatusFound)
	})

	mux.HandleFunc(cfg.CallbackPath(), func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		// No corporations are registered: members are denied, management
		// characters would be offered self-registration.
		login, err := svc.HandleCallback(r.Context(), browserKey, q.Get("code"), q.Get("state"), nil)
		var denied *auth.AccessDeniedError
		if err != nil && !errors.As(err, &denied) {
			http.Error(w, "callback error: "+err.Error(), http.StatusBadRequest)
			return
		}

		who := login.Identity
		fmt.Printf("\n=== Smoke test passed ===\n")
		fmt.Printf("Character  : %s (ID: %d)\n", who.CharacterName, who.CharacterID)
		fmt.Printf("Corporation: %s (ID: %d)\n", who.CorporationName, who.CorporationID)
		if who.AllianceID != 0 {
			fmt.Printf("Alliance   : %s (ID: %d)\n", who.AllianceName, who.AllianceID)
		}
		fmt.Printf("EVE roles  : %s\n", strings.Join(login.EveRoles, ", "))
		fmt.Printf("Scopes     : %d granted\n", len(who.Scopes))
		if denied != nil {
			fmt.Printf("Access     : denied (%s)\n", denied.Reason)
		} else {
			fmt.Printf("Access     : granted as %s, self-registration=%t\n",
				login.User.Role, login.Validation.NeedsRegistration())
			sessions.Logout(r.Context(), login.User)
		}
		fmt.Printf("========================\n\n")

		fmt.Fprintln(w, "Login complete! Check the terminal for results. Server is shutting down.")

		// Signal shutdown from a goroutine so the response is flushed first.
		go func() { close(shutdown) }()
	})

	srv := &http.Server{
		Addr:    ":8081",
		Handler: mux,
	}

	// Shut down when callback completes or OS signal received.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-shutdown:
		case <-sigCh:
		}
		if err := srv.Shutdown(context.Background()); err != nil {
			log.Printf("server shutdown error: %v", err)
		}
	}()

	log.Printf("Smoketest server listening on http://localhost:8081")
	log.Printf("Open http://localhost:8081/auth/eve/login in your browser to start the flow")

	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server: %v", err)
	}

	log.Printf("Server shut down cleanly. Smoketest complete.")
}

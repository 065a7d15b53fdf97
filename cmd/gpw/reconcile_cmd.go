package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/authorization"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/config"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/devicetoken"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/registration"
)

// runReconcileCmd implements `gpw reconcile`.
//
// Builds the registration core against the configured identity and record
// stores, feeds it the given authorization status and device tokens, runs
// reconciliation to quiescence and prints the resulting status.
func runReconcileCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("reconcile", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		userID, auth, pushHex, voipHex string
		writerKind, profilesDir        string
		profile, environment           string
		prompt                         bool
	)
	cmd.StringVar(&userID, "user", cfg.UserID, "User id owning the registration")
	cmd.StringVar(&auth, "auth", "authorized", "Authorization status: authorized|provisional|denied|undetermined")
	cmd.BoolVar(&prompt, "prompt", false, "Prompt for authorization when undetermined (the prompt is accepted)")
	cmd.StringVar(&pushHex, "push", "", "Push token as hex")
	cmd.StringVar(&voipHex, "voip", "", "VoIP token as hex")
	cmd.StringVar(&writerKind, "writer", "store", "Where writes go: store|functions")
	cmd.StringVar(&profilesDir, "profiles", envOrDefault("GPW_PROFILES_DIR", "pkg/config/profiles"), "Client profile directory")
	cmd.StringVar(&profile, "profile", "", "Client profile name")
	cmd.StringVar(&environment, "environment", "", "Push environment, overrides the provisioning profile")
	if err := cmd.Parse(args); err != nil {
		return 2
	}
	if userID == "" {
		_, _ = fmt.Fprintln(stderr, "Error: --user or GPW_USER_ID is required")
		return 2
	}
	status, ok := parseAuthorization(auth)
	if !ok {
		_, _ = fmt.Fprintf(stderr, "Error: unknown authorization status %q\n", auth)
		return 2
	}
	pushToken, err := decodeToken(pushHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --push: %v\n", err)
		return 2
	}
	voipToken, err := decodeToken(voipHex)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: --voip: %v\n", err)
		return 2
	}
	if err := applyProfile(cfg, profilesDir, profile); err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	ctx := context.Background()
	env := contracts.ParseEnvironment(environment)
	if environment == "" {
		if env, err = devicetoken.LoadEnvironment(cfg.ProvisioningProfile); err != nil {
			_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
			return 1
		}
	}

	obs, err := openObservability(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer shutdown(obs)

	ident, closeIdentity, err := openIdentity(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: identity: %v\n", err)
		return 1
	}
	defer closeIdentity()

	records, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: store: %v\n", err)
		return 1
	}
	defer closeStore()

	writer, err := newWriter(writerKind, cfg, records, obs)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 2
	}

	platform := authorization.NewStaticPlatform(status)
	platform.Answer = true
	observer := authorization.NewObserver(platform)
	if prompt {
		_, err = observer.RequestAuthorization(ctx)
	} else {
		_, err = observer.Refresh(ctx)
	}
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: authorization: %v\n", err)
		return 1
	}

	tokens := devicetoken.NewStream()
	tokens.SetPushToken(pushToken)
	tokens.SetVoIPToken(voipToken)

	policy := registration.DefaultPolicy()
	policy.StaleAfter = cfg.StaleAfter
	opts := []registration.Option{
		registration.WithPolicy(policy),
		registration.WithObservability(obs),
	}
	if l := newLimiter(cfg); l != nil {
		opts = append(opts, registration.WithLimiter(l))
	}
	rec, err := registration.New(registration.Deps{
		UserID:        userID,
		Environment:   env,
		Identity:      ident,
		Authorization: observer,
		Tokens:        tokens,
		Writer:        writer,
		Records:       records,
	}, opts...)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer rec.Close()

	rec.Start(ctx)
	// A completed write signals the identity, which may run one more pass.
	rec.Wait()
	rec.Wait()

	return writeJSON(stdout, stderr, rec.Status())
}

func parseAuthorization(s string) (contracts.AuthorizationStatus, bool) {
	switch strings.ToLower(s) {
	case "authorized":
		return contracts.AuthorizationAuthorized, true
	case "provisional":
		return contracts.AuthorizationProvisional, true
	case "denied":
		return contracts.AuthorizationDenied, true
	case "undetermined", "notdetermined":
		return contracts.AuthorizationUndetermined, true
	}
	return "", false
}

// decodeToken turns hex into raw token bytes. Empty means no token.
func decodeToken(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	return hex.DecodeString(s)
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

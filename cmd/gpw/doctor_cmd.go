package main

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"runtime"
	"time"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/config"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/devicetoken"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/identity"
)

type checkResult struct {
	Name   string `json:"name"`
	Status string `json:"status"` // "ok", "warn", "fail"
	Detail string `json:"detail,omitempty"`
}

// runDoctorCmd checks configuration and backend reachability. Exit 1 when
// any check fails.
func runDoctorCmd(cfg *config.Config, stdout io.Writer) int {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	results := []checkResult{{
		Name:   "go_runtime",
		Status: "ok",
		Detail: fmt.Sprintf("%s %s/%s", runtime.Version(), runtime.GOOS, runtime.GOARCH),
	}}
	results = append(results, checkUserID(cfg), checkFunctionsURL(cfg), checkEnvironment(cfg))
	results = append(results, checkIdentity(ctx, cfg), checkStore(ctx, cfg), checkTelemetry(cfg))

	allOK := true
	fmt.Fprintln(stdout, "gpw doctor")
	fmt.Fprintln(stdout, "──────────")
	for _, r := range results {
		if r.Status == "fail" {
			allOK = false
		}
		fmt.Fprintf(stdout, "  %-5s %-16s %s\n", r.Status, r.Name, r.Detail)
	}
	if !allOK {
		return 1
	}
	fmt.Fprintln(stdout, "\nAll checks passed.")
	return 0
}

func checkUserID(cfg *config.Config) checkResult {
	if cfg.UserID == "" {
		return checkResult{Name: "user_id", Status: "warn", Detail: "GPW_USER_ID not set (reconcile needs --user)"}
	}
	return checkResult{Name: "user_id", Status: "ok", Detail: cfg.UserID}
}

func checkFunctionsURL(cfg *config.Config) checkResult {
	u, err := url.Parse(cfg.FunctionsURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return checkResult{Name: "functions_url", Status: "fail", Detail: fmt.Sprintf("invalid %q", cfg.FunctionsURL)}
	}
	return checkResult{
		Name:   "functions_url",
		Status: "ok",
		Detail: fmt.Sprintf("%s (%s, %s)", cfg.FunctionsURL, cfg.InsertOrUpdateRegion, cfg.DeleteRegion),
	}
}

func checkEnvironment(cfg *config.Config) checkResult {
	env, err := devicetoken.LoadEnvironment(cfg.ProvisioningProfile)
	if err != nil {
		return checkResult{Name: "push_environment", Status: "fail", Detail: err.Error()}
	}
	if cfg.ProvisioningProfile == "" {
		return checkResult{Name: "push_environment", Status: "warn", Detail: string(env) + " (no provisioning profile)"}
	}
	return checkResult{Name: "push_environment", Status: "ok", Detail: string(env)}
}

func checkIdentity(ctx context.Context, cfg *config.Config) checkResult {
	if cfg.IdentityDB == "" {
		return checkResult{Name: "identity_store", Status: "warn", Detail: "GPW_IDENTITY_DB not set (identity kept in memory)"}
	}
	s, err := identity.OpenSQLiteStore(cfg.IdentityDB)
	if err != nil {
		return checkResult{Name: "identity_store", Status: "fail", Detail: err.Error()}
	}
	defer s.Close()
	id, err := s.Load(ctx)
	if err != nil {
		return checkResult{Name: "identity_store", Status: "fail", Detail: err.Error()}
	}
	detail := "no token id"
	if !id.Empty() {
		detail = fmt.Sprintf("token id %s (registered: %t)", id.TokenID, id.Registered)
	}
	return checkResult{Name: "identity_store", Status: "ok", Detail: detail}
}

func checkStore(ctx context.Context, cfg *config.Config) checkResult {
	_, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		return checkResult{Name: "record_store", Status: "fail", Detail: err.Error()}
	}
	closeStore()
	return checkResult{Name: "record_store", Status: "ok", Detail: cfg.Store}
}

func checkTelemetry(cfg *config.Config) checkResult {
	if cfg.OTLPEndpoint == "" {
		return checkResult{Name: "telemetry", Status: "warn", Detail: "GPW_OTLP_ENDPOINT not set (export disabled)"}
	}
	return checkResult{Name: "telemetry", Status: "ok", Detail: cfg.OTLPEndpoint}
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/callsession"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/config"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
	"github.com/gp-webrtc/gp-webrtc-ios/pkg/notification"
)

type simulation struct {
	Outcome  callsession.Outcome    `json:"outcome"`
	Session  *contracts.CallSession `json:"session,omitempty"`
	Reports  []callsession.Report   `json:"reports"`
	Envelope contracts.RawPush      `json:"envelope"`
}

// runSimulateCallCmd implements `gpw simulate-call`.
//
// Builds a VoIP push, hands it to a call reporter backed by a recording
// host and prints every host report it produced.
func runSimulateCallCmd(cfg *config.Config, args []string, stdout, stderr io.Writer) int {
	cmd := flag.NewFlagSet("simulate-call", flag.ContinueOnError)
	cmd.SetOutput(stderr)

	var (
		callID, callerID, name, category string
		video, failReport, failUpdate    bool
		delay                            time.Duration
	)
	cmd.StringVar(&callID, "call-id", uuid.NewString(), "Call UUID")
	cmd.StringVar(&callerID, "caller", "alice", "Caller id")
	cmd.StringVar(&name, "name", "Alice", "Caller display name")
	cmd.StringVar(&category, "category", contracts.CategoryPrefix+contracts.CategoryUserCallReceived, "Encrypted category identifier")
	cmd.BoolVar(&video, "video", false, "Offer video")
	cmd.BoolVar(&failReport, "fail-report", false, "Host rejects the new-call report")
	cmd.BoolVar(&failUpdate, "fail-update", false, "Host rejects the detail update")
	cmd.DurationVar(&delay, "host-delay", 0, "Host latency for the new-call report")
	if err := cmd.Parse(args); err != nil {
		return 2
	}

	push, err := notification.BuildEnvelope(category, contracts.IncomingCall{
		CallID:      callID,
		CallerID:    callerID,
		DisplayName: name,
		HasVideo:    video,
	}, nil)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}

	d, err := notification.NewDecryptor()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	host := &callsession.RecordingProvider{Delay: delay}
	if failReport {
		host.NewErr = errors.New("host rejected call")
	}
	if failUpdate {
		host.UpdateErr = errors.New("host rejected update")
	}

	ctx := context.Background()
	obs, err := openObservability(ctx, cfg)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer shutdown(obs)

	r := callsession.NewReporter(host, d,
		callsession.WithDeadline(cfg.VoIPDeadline),
		callsession.WithObservability(obs),
	)
	out := r.HandlePush(ctx, push)
	r.Wait()

	result := simulation{Outcome: out, Reports: host.Reports(), Envelope: push}
	if s, ok := r.Session(ctx, out.CallID); ok {
		result.Session = &s
	}
	r.Close()

	if code := writeJSON(stdout, stderr, result); code != 0 {
		return code
	}
	if out.State == contracts.CallStateFailed && !out.Synthetic {
		return 1
	}
	return 0
}

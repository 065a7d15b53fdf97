package callsession

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

// Provider is the host call-reporting subsystem.
type Provider interface {
	ReportNewIncomingCall(ctx context.Context, callID uuid.UUID, update contracts.CallUpdate) error
	ReportCallUpdated(ctx context.Context, callID uuid.UUID, update contracts.CallUpdate) error
	ReportCallEnded(ctx context.Context, callID uuid.UUID, endedAt time.Time, reason contracts.EndReason) error
}

// ReportKind names a Provider method.
type ReportKind string

const (
	ReportNew     ReportKind = "NEW"
	ReportUpdated ReportKind = "UPDATED"
	ReportEnded   ReportKind = "ENDED"
)

// Report is one call into a RecordingProvider.
type Report struct {
	Kind   ReportKind           `json:"kind"`
	CallID uuid.UUID            `json:"call_id"`
	Update contracts.CallUpdate `json:"update"`
	Reason contracts.EndReason  `json:"reason,omitempty"`
	Err    string               `json:"error,omitempty"`
}

// RecordingProvider records every report and answers with the configured
// errors. Delay simulates a slow host for the new-call report.
type RecordingProvider struct {
	NewErr     error
	UpdateErr  error
	EndErr     error
	Delay      time.Duration
	IgnoreStop bool

	mu      sync.Mutex
	reports []Report
}

func (p *RecordingProvider) ReportNewIncomingCall(ctx context.Context, callID uuid.UUID, update contracts.CallUpdate) error {
	err := p.NewErr
	if p.Delay > 0 {
		t := time.NewTimer(p.Delay)
		defer t.Stop()
		if p.IgnoreStop {
			<-t.C
		} else {
			select {
			case <-t.C:
			case <-ctx.Done():
				err = ctx.Err()
			}
		}
	}
	p.record(Report{Kind: ReportNew, CallID: callID, Update: update}, err)
	return err
}

func (p *RecordingProvider) ReportCallUpdated(_ context.Context, callID uuid.UUID, update contracts.CallUpdate) error {
	p.record(Report{Kind: ReportUpdated, CallID: callID, Update: update}, p.UpdateErr)
	return p.UpdateErr
}

func (p *RecordingProvider) ReportCallEnded(_ context.Context, callID uuid.UUID, _ time.Time, reason contracts.EndReason) error {
	p.record(Report{Kind: ReportEnded, CallID: callID, Reason: reason}, p.EndErr)
	return p.EndErr
}

func (p *RecordingProvider) record(r Report, err error) {
	if err != nil {
		r.Err = err.Error()
	}
	p.mu.Lock()
	p.reports = append(p.reports, r)
	p.mu.Unlock()
}

// Reports returns a copy of everything recorded so far.
func (p *RecordingProvider) Reports() []Report {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]Report(nil), p.reports...)
}

// Count returns how many reports of kind were made for callID.
func (p *RecordingProvider) Count(kind ReportKind, callID uuid.UUID) int {
	n := 0
	for _, r := range p.Reports() {
		if r.Kind == kind && r.CallID == callID {
			n++
		}
	}
	return n
}

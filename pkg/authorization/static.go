package authorization

import (
	"context"
	"sync"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

// StaticPlatform is a Platform with a settable status. The prompt resolves
// to Answer. It backs the CLI simulator and tests.
type StaticPlatform struct {
	mu            sync.Mutex
	status        contracts.AuthorizationStatus
	Answer        bool
	Prompts       int
	Registrations int
}

func NewStaticPlatform(status contracts.AuthorizationStatus) *StaticPlatform {
	return &StaticPlatform{status: status}
}

// SetStatus changes the status returned by Status, as if the user edited
// the permission in system settings.
func (p *StaticPlatform) SetStatus(s contracts.AuthorizationStatus) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.status = s
}

func (p *StaticPlatform) Status(ctx context.Context) (contracts.AuthorizationStatus, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status, nil
}

func (p *StaticPlatform) RequestAuthorization(ctx context.Context) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Prompts++
	if p.Answer {
		p.status = contracts.AuthorizationAuthorized
	} else {
		p.status = contracts.AuthorizationDenied
	}
	return p.Answer, nil
}

func (p *StaticPlatform) RegisterForRemoteNotifications(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.Registrations++
	return nil
}

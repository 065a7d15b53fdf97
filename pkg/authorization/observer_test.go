package authorization

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/gp-webrtc/gp-webrtc-ios/pkg/contracts"
)

func TestObserver_RequestPromptsOnlyWhenUndetermined(t *testing.T) {
	ctx := context.Background()
	p := NewStaticPlatform(contracts.AuthorizationUndetermined)
	p.Answer = true
	o := NewObserver(p)

	status, err := o.RequestAuthorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, contracts.AuthorizationAuthorized, status)
	assert.Equal(t, 1, p.Prompts)
	assert.Equal(t, 1, p.Registrations)

	_, err = o.RequestAuthorization(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Prompts)
}

func TestObserver_DeniedDoesNotRegister(t *testing.T) {
	p := NewStaticPlatform(contracts.AuthorizationUndetermined)
	o := NewObserver(p)

	status, err := o.RequestAuthorization(context.Background())
	require.NoError(t, err)
	assert.Equal(t, contracts.AuthorizationDenied, status)
	assert.Zero(t, p.Registrations)
}

func TestObserver_RefreshNotifiesEvenWhenUnchanged(t *testing.T) {
	ctx := context.Background()
	p := NewStaticPlatform(contracts.AuthorizationProvisional)
	o := NewObserver(p)

	var seen []contracts.AuthorizationStatus
	o.Subscribe(func(s contracts.AuthorizationStatus) { seen = append(seen, s) }, false)

	_, err := o.Refresh(ctx)
	require.NoError(t, err)
	_, err = o.Refresh(ctx)
	require.NoError(t, err)
	p.SetStatus(contracts.AuthorizationDenied)
	_, err = o.Refresh(ctx)
	require.NoError(t, err)

	assert.Equal(t, []contracts.AuthorizationStatus{
		contracts.AuthorizationProvisional,
		contracts.AuthorizationProvisional,
		contracts.AuthorizationDenied,
	}, seen)
	assert.Equal(t, 2, p.Registrations)
}

type failingPlatform struct{ StaticPlatform }

func (*failingPlatform) Status(context.Context) (contracts.AuthorizationStatus, error) {
	return "", errors.New("unavailable")
}

func TestObserver_StatusErrorKeepsLastValue(t *testing.T) {
	o := NewObserver(&failingPlatform{})
	status, err := o.Refresh(context.Background())
	require.Error(t, err)
	assert.Equal(t, contracts.AuthorizationUndetermined, status)
}

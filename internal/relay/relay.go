// Package relay drives the two transfer loops: the Fetcher copies new
// recordings from the camera into staging while the radio is on the camera
// network, and the Pusher uploads staged recordings while it is on any other
// network. The optional Switcher moves the radio between the two.
package relay

import (
	"context"

	"github.com/google/uuid"

	"github.com/rjsadow/camrelay/internal/camera"
	"github.com/rjsadow/camrelay/internal/radio"
	"github.com/rjsadow/camrelay/internal/staging"
)

// Radio is the view of the radio the orchestrators react to.
type Radio interface {
	CurrentNetwork() string
	OnConnect(fn func(ssid string)) func()
	OnDisconnect(fn func()) func()
}

// SwitchingRadio is a Radio that can also be told to join a network.
type SwitchingRadio interface {
	Radio
	Connect(ctx context.Context, ssid string) error
	ConnectExcept(ctx context.Context, avoid string) error
}

// Camera lists and deletes recordings on the camera.
type Camera interface {
	ListLockedVideos(ctx context.Context) ([]*camera.Recording, error)
	Delete(ctx context.Context, rec *camera.Recording) error
}

// Stager writes recordings into staging.
type Stager interface {
	StoreVideo(ctx context.Context, src staging.Source) (bool, error)
}

// Staged is the push side's view of staging.
type Staged interface {
	LoadVideos() ([]staging.Video, error)
	DeleteVideo(name string) error
}

var (
	_ SwitchingRadio = (*radio.Controller)(nil)
	_ Camera         = (*camera.Client)(nil)
	_ Stager         = (*staging.Store)(nil)
	_ Staged         = (*staging.Store)(nil)
)

// trigger is a one-slot wakeup; posting while one is pending is a no-op.
type trigger chan struct{}

func newTrigger() trigger { return make(trigger, 1) }

func (t trigger) poke() {
	select {
	case t <- struct{}{}:
	default:
	}
}

func newPassID() string {
	return uuid.NewString()
}

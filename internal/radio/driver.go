package radio

import "context"

// Network is a network the host has stored credentials for.
type Network struct {
	ID      string
	SSID    string
	Current bool
}

// Status is the association state reported by the driver.
type Status struct {
	Associated bool
	SSID       string
}

// Driver is the set of OS wifi primitives the controller needs. Only the
// controller calls it, and never concurrently.
type Driver interface {
	// KnownNetworks lists networks with stored credentials.
	KnownNetworks(ctx context.Context) ([]Network, error)

	// Scan returns the SSIDs currently in range.
	Scan(ctx context.Context) ([]string, error)

	// Select associates with one known network, disabling the others.
	Select(ctx context.Context, id string) error

	// Reassociate re-enables every known network and lets the OS pick one.
	Reassociate(ctx context.Context) error

	// Status reports the current association.
	Status(ctx context.Context) (Status, error)
}

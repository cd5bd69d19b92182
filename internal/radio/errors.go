package radio

import "errors"

var (
	// ErrNetworkNotConfigured is returned when the SSID has no stored credentials.
	ErrNetworkNotConfigured = errors.New("network not configured")

	// ErrNetworkNotInRange is returned when a scan does not observe the SSID.
	ErrNetworkNotInRange = errors.New("network not in range")

	// ErrConnectionFailed is returned when association does not complete
	// within the attempt budget.
	ErrConnectionFailed = errors.New("connection failed")
)

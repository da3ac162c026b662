package relay

import "errors"

var (
	// ErrConfiguration is wrapped by every error New returns.
	ErrConfiguration = errors.New("relay: invalid configuration")

	// ErrInsufficientAgents is returned by BusinessScore when fewer than two agents exist.
	ErrInsufficientAgents = errors.New("relay: business score needs at least two agents")
)

package profile

import "errors"

// ErrNoScope is returned by profile-scoped components when no scope has
// been injected, or when it was cleared for an in-progress switch.
// Components must refuse scoped work rather than guess an identity.
var ErrNoScope = errors.New("no active profile scope")

// Scoped is implemented by every component that holds profile-scoped
// state. The Switch Coordinator is the only caller of these methods;
// components never determine their own scope.
type Scoped interface {
	SetScope(profileID string)
	ClearScope()
}

// Runner is implemented by components with background loops that must be
// quiesced during a profile switch.
type Runner interface {
	Pause()
	Resume()
}

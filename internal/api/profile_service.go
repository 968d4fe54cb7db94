package api

import (
	"context"

	"github.com/paychat-app/paychat/internal/profile"
)

// ProfileService exposes profile lifecycle control to the UI.
type ProfileService struct {
	coord *profile.Coordinator
}

// NewProfileService creates a profile service.
func NewProfileService(coord *profile.Coordinator) *ProfileService {
	return &ProfileService{coord: coord}
}

// Current returns the active profile name.
func (s *ProfileService) Current() string {
	return s.coord.Current()
}

// Switch moves the daemon to another profile.
func (s *ProfileService) Switch(ctx context.Context, profileID string) error {
	return s.coord.Switch(ctx, profileID)
}

// Wipe deletes all durable data of an inactive profile.
func (s *ProfileService) Wipe(profileID string) error {
	return s.coord.Wipe(profileID)
}

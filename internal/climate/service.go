package climate

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/nerrad567/hid-climate-bridge/internal/causal"
)

// Service issues climate service calls with causal tagging.
//
// Thread Safety: safe for concurrent use.
type Service struct {
	platform Platform
	newID    func() string
}

// NewService creates a Service bound to a platform.
func NewService(platform Platform) *Service {
	return &Service{
		platform: platform,
		newID:    uuid.NewString,
	}
}

// GetState returns the current state of an entity.
func (s *Service) GetState(entityID string) (*State, bool) {
	return s.platform.GetState(entityID)
}

// Call runs service against targetEntityID. When triggeringEntityID is set it
// is encoded into the call's Context.ParentID so the resulting state change
// can be attributed to it.
func (s *Service) Call(ctx context.Context, service, targetEntityID string, data map[string]any, triggeringEntityID string) error {
	if targetEntityID == "" {
		return ErrMissingTarget
	}
	if service == "" {
		return ErrUnknownService
	}

	call := ServiceCall{
		Domain:   Domain,
		Service:  service,
		EntityID: targetEntityID,
		Data:     data,
		Context: Context{
			ID:       s.newID(),
			ParentID: causal.Encode(triggeringEntityID),
		},
	}

	if err := s.platform.CallService(ctx, call); err != nil {
		return fmt.Errorf("%w: %s on %s: %w", ErrServiceCallFailed, service, targetEntityID, err)
	}
	return nil
}

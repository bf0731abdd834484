// Package climate is the command facade over the platform's climate entities.
//
// It defines the platform-facing types (State, StateChangedEvent,
// ServiceCall), the Platform interface the bridge consumes, and the Commands
// used by device controllers to act on a climate entity.
//
// Every command records the entity that triggered it:
//
//	cmds := climate.NewCommands(climate.NewService(platform))
//	cmds.SetHVACMode(ctx, "climate.living_room", climate.HVACModeHeat, "TC-HID-ABCDEF1234567890")
//
// The triggering id is encoded with causal.Encode and travels in
// Context.ParentID. The state change the platform emits in response carries
// the same ParentID, which is how a bridge recognises a controller's own echo.
package climate

// Package flow links discovered HID controllers to climate entities.
//
// It plays the part of the platform's config flow:
//
//   - the discovery step consumes announcements on hid/+/config, validates
//     them and remembers the device until it is linked;
//   - the user step validates a (controller, climate entity) pair, creates
//     the entry and hands it to the registration coordinator;
//   - RemoveEntry unloads and deletes an entry together with its device
//     record once nothing references it.
//
// Usage:
//
//	m := flow.New(flow.Options{...})
//	if err := m.Start(ctx); err != nil { ... }
//	defer m.Stop()
//	n, err := m.LoadAll(ctx)
package flow

// Package device is the registry of physical HID controllers.
//
// Every controller that has been linked to a climate entity gets a device
// record holding its hardware metadata (manufacturer, model, firmware and
// hardware versions). Records are created or refreshed through
// Registry.UpsertDevice when an entry registers and removed when the last
// entry referencing the controller is deleted.
//
// The Registry wraps a Repository with a read-through cache:
//
//	repo := device.NewSQLiteRepository(db.DB)
//	registry := device.NewRegistry(repo)
//	if err := registry.RefreshCache(ctx); err != nil {
//	    return err
//	}
//	dev, err := registry.UpsertDevice(ctx, device.Seed{
//	    Domain: device.DomainHIDClimate,
//	    ID:     "HID-TH01-A1B2C3D4E5",
//	    Model:  "TH01",
//	})
package device

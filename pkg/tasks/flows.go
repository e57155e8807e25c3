package tasks

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/enrolld/enrolld/pkg/device"
	"github.com/enrolld/enrolld/pkg/engine"
)

// ForRequest selects the ordered task list for the request's action. The
// order encodes real dependency order (a profile must exist before its
// admin package is installed, ownership comes last) and is fixed for the
// lifetime of the run. For profile flows the returned handle carries the
// created profile's user ID once the first task has run; it is nil for
// device flows.
func ForRequest(req *engine.ProvisioningRequest, dev device.Facade, logger zerolog.Logger) ([]engine.Task, *ProfileHandle, error) {
	switch {
	case req.Action.IsDeviceOwner():
		return []engine.Task{
			NewDisallowAddUser(dev.Users, dev.Status, logger),
			NewInstallAdminPackage(dev.Packages, req.AdminComponent.Package, nil, logger),
			NewSetDeviceOwner(dev.Policy, req.AdminComponent, logger),
		}, nil, nil
	case req.Action.IsProfileOwner():
		handle := &ProfileHandle{}
		return []engine.Task{
			NewCreateManagedProfile(dev.Users, handle, logger),
			NewInstallAdminPackage(dev.Packages, req.AdminComponent.Package, handle, logger),
			NewSetProfileRestrictions(dev.Users, dev.Packages, handle, logger),
			NewSetProfileOwner(dev.Policy, req.AdminComponent, handle, logger),
		}, handle, nil
	default:
		return nil, nil, fmt.Errorf("no task flow for action %s", req.Action)
	}
}

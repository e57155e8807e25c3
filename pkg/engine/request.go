package engine

import (
	"encoding/json"
	"fmt"

	"github.com/go-playground/validator/v10"
)

var validate = validator.New(validator.WithRequiredStructEnabled())

// ComponentName identifies the admin application component that will own
// the provisioned device or profile.
type ComponentName struct {
	// Package is the admin application package name.
	Package string `json:"package" validate:"required"`

	// Class is the receiver class within the package, if any.
	Class string `json:"class,omitempty"`
}

// String renders the component in package/class form.
func (c ComponentName) String() string {
	if c.Class == "" {
		return c.Package
	}
	return c.Package + "/" + c.Class
}

// DownloadInfo describes a role holder package the platform can download
// before delegating provisioning to it.
type DownloadInfo struct {
	// Location is the URL the package is downloaded from.
	Location string `json:"location" validate:"required,url"`

	// Checksum is the expected SHA-256 of the downloaded package.
	Checksum string `json:"checksum,omitempty"`

	// CookieHeader is an optional cookie header sent with the download.
	CookieHeader string `json:"cookie_header,omitempty"`
}

// ProvisioningRequest describes one provisioning run. It is created once at
// request time, never mutated afterwards, and serialized verbatim into the
// resume slot. After a restart the persisted copy is the authority.
type ProvisioningRequest struct {
	// Action selects the provisioning flow.
	Action Action `json:"action" validate:"required"`

	// AdminComponent is the management app component to hand the device or
	// profile to.
	AdminComponent ComponentName `json:"admin_component"`

	// AccountToMigrate is an optional account moved into the managed
	// profile once provisioning completes.
	AccountToMigrate string `json:"account_to_migrate,omitempty"`

	// AdminExtras are opaque key-value pairs passed through to the admin
	// app in the completion notification.
	AdminExtras map[string]string `json:"admin_extras,omitempty"`

	// RoleHolderDownload is set when the requester supplied platform-side
	// download info for the role holder.
	RoleHolderDownload *DownloadInfo `json:"role_holder_download,omitempty"`
}

// Validate checks the request for structural validity.
func (r *ProvisioningRequest) Validate() error {
	if err := r.Action.Validate(); err != nil {
		return err
	}
	if err := validate.Struct(r); err != nil {
		return fmt.Errorf("invalid provisioning request: %w", err)
	}
	return nil
}

// Encode serializes the request to its persisted form.
func (r *ProvisioningRequest) Encode() ([]byte, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("failed to encode provisioning request: %w", err)
	}
	return b, nil
}

// DecodeRequest deserializes a request from its persisted form and
// validates it.
func DecodeRequest(data []byte) (*ProvisioningRequest, error) {
	var r ProvisioningRequest
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to decode provisioning request: %w", err)
	}
	if err := r.Validate(); err != nil {
		return nil, err
	}
	return &r, nil
}

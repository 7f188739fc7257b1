package catalog

import (
	"fmt"
	"net/url"
	"strings"

	"github.com/Future-Outlier/smart-glass-OS-system-AugmentOS-sub000/internal/hardware"
)

// SystemDashboard is the package name of the built-in dashboard app.
// The display arbiter gives it its own view that never contends with
// app displays.
const SystemDashboard = "system.augmentos.dashboard"

// AppType determines how an app's lifecycle and displays are handled.
type AppType string

const (
	// AppStandard apps own the foreground. Starting one stops the
	// previously running standard app.
	AppStandard AppType = "standard"
	// AppBackground apps run alongside others and may only take the
	// display through the background lock.
	AppBackground AppType = "background"
	// AppSystem apps are cloud-owned (dashboard). They skip the normal
	// start/stop rules.
	AppSystem AppType = "system"
)

// Valid reports whether t is a known app type.
func (t AppType) Valid() bool {
	switch t {
	case AppStandard, AppBackground, AppSystem:
		return true
	}
	return false
}

// Permission gates access to data streams.
type Permission string

const (
	PermissionMicrophone    Permission = "MICROPHONE"
	PermissionLocation      Permission = "LOCATION"
	PermissionCalendar      Permission = "CALENDAR"
	PermissionNotifications Permission = "NOTIFICATIONS"
	PermissionAll           Permission = "ALL"
)

// App is one catalog entry.
type App struct {
	PackageName string  `json:"packageName" yaml:"packageName"`
	Name        string  `json:"name" yaml:"name"`
	Description string  `json:"description,omitempty" yaml:"description,omitempty"`
	Type        AppType `json:"type" yaml:"type"`

	// PublicURL is the base URL of the app's server. Session webhooks
	// POST to PublicURL + "/webhook".
	PublicURL string `json:"publicUrl" yaml:"publicUrl"`

	// APIKeyHash is the bcrypt hash of the app's API key.
	APIKeyHash string `json:"apiKeyHash" yaml:"apiKeyHash"`

	Permissions []Permission           `json:"permissions,omitempty" yaml:"permissions,omitempty"`
	Hardware    []hardware.Requirement `json:"hardware,omitempty" yaml:"hardware,omitempty"`
	Version     string                 `json:"version,omitempty" yaml:"version,omitempty"`
}

// Validate checks the fields a manifest must carry.
func (a *App) Validate() error {
	if a.PackageName == "" {
		return fmt.Errorf("app package name is required")
	}
	if a.Name == "" {
		return fmt.Errorf("app %s: name is required", a.PackageName)
	}
	if a.Type == "" {
		a.Type = AppBackground
	}
	if !a.Type.Valid() {
		return fmt.Errorf("app %s: unknown type %q", a.PackageName, a.Type)
	}
	if a.PublicURL != "" {
		u, err := url.Parse(a.PublicURL)
		if err != nil || u.Scheme == "" || u.Host == "" {
			return fmt.Errorf("app %s: invalid public url %q", a.PackageName, a.PublicURL)
		}
	}
	return nil
}

// WebhookURL is where session lifecycle webhooks are delivered.
func (a *App) WebhookURL() string {
	if a.PublicURL == "" {
		return ""
	}
	return strings.TrimRight(a.PublicURL, "/") + "/webhook"
}

// HasPermission reports whether the app declared p. The ALL permission
// covers everything.
func (a *App) HasPermission(p Permission) bool {
	for _, have := range a.Permissions {
		if have == PermissionAll || have == p {
			return true
		}
	}
	return false
}

// Compatible checks the app's hardware requirements against a device's
// reported capabilities. A device that reported nothing is assumed
// compatible.
func (a *App) Compatible(caps *hardware.Capabilities) hardware.Compatibility {
	if caps == nil {
		return hardware.Compatibility{Compatible: true}
	}
	return hardware.Check(a.Hardware, *caps)
}

package shop

import "time"

// Installation records that a tenant completed OAuth and has the app installed.
// It is created once per install cycle and removed by the uninstall webhook.
type Installation struct {
	Shop        Domain
	InstalledAt time.Time
	Scope       string
}

// NewInstallation creates an installation record stamped with the current time
func NewInstallation(d Domain, scope string) *Installation {
	return &Installation{
		Shop:        d,
		InstalledAt: time.Now(),
		Scope:       scope,
	}
}

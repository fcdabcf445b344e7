package events

import "time"

// DeviceRegistered is published after a registration fully completes.
type DeviceRegistered struct {
	DeviceID   string
	OwnerID    string
	Timezone   string
	StationRef string
	At         time.Time
}

// DeviceUnregistered is published after a device is released.
type DeviceUnregistered struct {
	DeviceID string
	OwnerID  string
	At       time.Time
}

package events

import "time"

// ZoneTriggered is published when a zone enters its midnight window
// and its members have been dispatched.
type ZoneTriggered struct {
	Timezone    string
	LocalDate   string
	MemberCount int
	Errors      int
	At          time.Time
}

package topic

// Standard MQTT wildcard definitions.
const (
	// Wildcard is the single-level wildcard "+".
	Wildcard = "+"

	// MultiWildcard is the multi-level wildcard "#".
	// It must be the last character in the topic filter.
	MultiWildcard = "#"

	// Separator splits topic levels.
	Separator = "/"
)

// Device subtopics. Together with the base topic they form the contract
// between the device and whoever drives it over the broker.
const (
	// Command carries {"cmd": "...", "payload": "..."} requests to the device.
	Command = "cmd"

	// Status carries the periodic status report.
	Status = "status"

	// Online carries the retained online flag and the last will.
	Online = "online"
)

package mqtt

import "fmt"

// Topic prefix for all bridge topics.
//
// The scheme is flat: avrbridge/{category}/{code_or_id}
const (
	// TopicPrefix is the base for all bridge topics.
	TopicPrefix = "avrbridge"

	// TopicPrefixSystem is the base for system topics.
	TopicPrefixSystem = "avrbridge/system"
)

// Topics provides builders for bridge MQTT topics.
// Using these helpers ensures consistent topic naming across the codebase.
//
//	topics := mqtt.Topics{}
//	stateTopic := topics.State("PWR")
//	// Returns: "avrbridge/state/PWR"
type Topics struct{}

// Command returns the topic for commands addressed to a specific eISCP code.
//
// Example: avrbridge/command/MVL
func (Topics) Command(code string) string {
	return fmt.Sprintf("%s/command/%s", TopicPrefix, code)
}

// Raw returns the topic for raw eISCP messages sent verbatim to the receiver.
//
// Example: avrbridge/raw
func (Topics) Raw() string {
	return fmt.Sprintf("%s/raw", TopicPrefix)
}

// State returns the topic for receiver state updates for a specific code.
//
// Example: avrbridge/state/PWR
func (Topics) State(code string) string {
	return fmt.Sprintf("%s/state/%s", TopicPrefix, code)
}

// Ack returns the topic for command acknowledgements.
//
// Example: avrbridge/ack/MVL
func (Topics) Ack(code string) string {
	return fmt.Sprintf("%s/ack/%s", TopicPrefix, code)
}

// Health returns the topic for bridge health status.
//
// Example: avrbridge/health
func (Topics) Health() string {
	return fmt.Sprintf("%s/health", TopicPrefix)
}

// Discovery returns the topic for receiver discovery announcements.
//
// Example: avrbridge/discovery
func (Topics) Discovery() string {
	return fmt.Sprintf("%s/discovery", TopicPrefix)
}

// SystemStatus returns the system status topic used for LWT and
// online/offline announcements.
//
// Example: avrbridge/system/status
func (Topics) SystemStatus() string {
	return fmt.Sprintf("%s/status", TopicPrefixSystem)
}

// AllCommands returns a pattern matching all command topics.
//
// Pattern: avrbridge/command/+
func (Topics) AllCommands() string {
	return fmt.Sprintf("%s/command/+", TopicPrefix)
}

// AllStates returns a pattern matching all state topics.
//
// Pattern: avrbridge/state/+
func (Topics) AllStates() string {
	return fmt.Sprintf("%s/state/+", TopicPrefix)
}

// AllTopics returns a pattern matching all bridge topics.
// Use with caution - this receives ALL traffic.
//
// Pattern: avrbridge/#
func (Topics) AllTopics() string {
	return "avrbridge/#"
}

package events

import "fmt"

var allowedEvents = map[string]struct{}{
	// engine lifecycle
	"engine.started":  {},
	"engine.stopped":  {},
	"engine.paused":   {},
	"engine.resumed":  {},
	"engine.reloaded": {},

	// scan loop
	"scan.overrun": {},

	// blocks
	"block.error": {},

	// signals
	"signal.changed": {},

	// drivers
	"driver.connected":    {},
	"driver.disconnected": {},
	"driver.error":        {},

	// operator
	"operator.command": {},

	// system
	"system.startup":  {},
	"system.shutdown": {},
	"system.error":    {},
}

func Validate(event string) error {
	if _, ok := allowedEvents[event]; !ok {
		return fmt.Errorf("unknown event: %s", event)
	}
	return nil
}

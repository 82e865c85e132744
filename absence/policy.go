package absence

// Policy holds the tunable intake rules. Built by factory from JSON or YAML.
type Policy struct {
	WeeklyCap WeeklyCap

	// AutoAcceptRemoteWork stores new RemoteWork events as Accepted
	// instead of Pending.
	AutoAcceptRemoteWork bool
}

func DefaultPolicy() Policy {
	return Policy{WeeklyCap: DefaultWeeklyCap}
}

// InitialStatus is the status a new event of type t is stored with.
func (p Policy) InitialStatus(t EventType) EventStatus {
	if p.AutoAcceptRemoteWork && t == EventRemoteWork {
		return StatusAccepted
	}
	return StatusPending
}

package crdt

// Outcome is the tag of a reconciliation result.
type Outcome uint8

const (
	// NoChange means the message lost the conflict or had nothing to remove.
	NoChange Outcome = iota
	// StateUpdated means the store changed and the host must be told.
	StateUpdated
	// MissingDependency means the message targets an entity deleted earlier in
	// the same batch. The write is dropped.
	MissingDependency
)

func (o Outcome) String() string {
	switch o {
	case NoChange:
		return "NoChange"
	case StateUpdated:
		return "StateUpdated"
	case MissingDependency:
		return "MissingDependency"
	}
	return "Outcome(?)"
}

// Effect describes what a StateUpdated result did to the world.
type Effect uint8

const (
	// EffectNone accompanies every non-StateUpdated outcome.
	EffectNone Effect = iota
	// ComponentModified covers put, append and component delete.
	ComponentModified
	// EntityDeleted covers entity delete.
	EntityDeleted
)

func (e Effect) String() string {
	switch e {
	case EffectNone:
		return "None"
	case ComponentModified:
		return "ComponentModified"
	case EntityDeleted:
		return "EntityDeleted"
	}
	return "Effect(?)"
}

// Result is the outcome of processing one message.
type Result struct {
	Outcome Outcome
	Effect  Effect
}

// Updated reports whether the result must be forwarded to the host.
func (r Result) Updated() bool { return r.Outcome == StateUpdated }

var (
	resultNoChange  = Result{Outcome: NoChange}
	resultMissing   = Result{Outcome: MissingDependency}
	resultModified  = Result{Outcome: StateUpdated, Effect: ComponentModified}
	resultEntityDel = Result{Outcome: StateUpdated, Effect: EntityDeleted}
)

package harness

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/scenebridge/internal/wire"
)

// Scenario is a scripted sequence of ticks with expectations.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// SceneID tags diagnostics. Defaults to "scene-test".
	SceneID string `yaml:"scene_id,omitempty"`

	// Host configures the recording host world.
	Host HostSpec `yaml:"host,omitempty"`

	// Ticks run in order, one bridge call each.
	Ticks []Tick `yaml:"ticks"`

	// Assertions validate the final state.
	Assertions []Assertion `yaml:"assertions,omitempty"`
}

// HostSpec injects host world failures by entity.
type HostSpec struct {
	FailEntities  []uint32 `yaml:"fail_entities,omitempty"`
	PanicEntities []uint32 `yaml:"panic_entities,omitempty"`
}

// MessageSpec is one wire message written in YAML.
type MessageSpec struct {
	// Op is put, append, delete_component or delete_entity.
	Op        string `yaml:"op"`
	Entity    uint32 `yaml:"entity"`
	Component uint32 `yaml:"component,omitempty"`
	TS        uint32 `yaml:"ts,omitempty"`
	Payload   string `yaml:"payload,omitempty"`
}

// Message op constants.
const (
	OpPut             = "put"
	OpAppend          = "append"
	OpDeleteComponent = "delete_component"
	OpDeleteEntity    = "delete_entity"
)

var opTypes = map[string]wire.Type{
	OpPut:             wire.TypePutComponent,
	OpAppend:          wire.TypeAppendComponent,
	OpDeleteComponent: wire.TypeDeleteComponent,
	OpDeleteEntity:    wire.TypeDeleteEntity,
}

// Message converts the YAML record to a wire message.
func (m MessageSpec) Message() (wire.Message, error) {
	typ, ok := opTypes[m.Op]
	if !ok {
		return wire.Message{}, fmt.Errorf("unknown op %q", m.Op)
	}
	msg := wire.Message{
		Type:      typ,
		Entity:    wire.EntityID(m.Entity),
		Component: wire.ComponentID(m.Component),
		Timestamp: wire.Timestamp(m.TS),
	}
	if m.Payload != "" {
		msg.Payload = []byte(m.Payload)
	}
	return msg, nil
}

// Tick is one bridge call.
type Tick struct {
	// Send lists the messages of the inbound batch.
	Send []MessageSpec `yaml:"send,omitempty"`

	// Trailer is hex appended after the encoded batch.
	Trailer string `yaml:"trailer,omitempty"`

	// HostPush lists mutations the host pushes before the call.
	HostPush []MessageSpec `yaml:"host_push,omitempty"`

	// GetState makes this tick a snapshot request. Send must be empty.
	GetState bool `yaml:"get_state,omitempty"`

	// Expect validates the call.
	Expect *TickExpect `yaml:"expect,omitempty"`
}

// TickExpect validates one tick.
type TickExpect struct {
	// Outcomes lists the expected result per decoded inbound message:
	// updated, no_change or missing_dependency.
	Outcomes []string `yaml:"outcomes,omitempty"`

	// Response is the exact decoded response. Nil skips the check; an
	// empty list expects an empty response.
	Response []MessageSpec `yaml:"response"`
}

// Batch encodes the tick's inbound bytes.
func (t Tick) Batch() ([]byte, error) {
	msgs, err := messages(t.Send)
	if err != nil {
		return nil, err
	}
	buf := make([]byte, wire.EncodedLen(msgs))
	if _, err := wire.EncodeBatch(buf, msgs); err != nil {
		return nil, err
	}
	if t.Trailer != "" {
		raw, err := hex.DecodeString(t.Trailer)
		if err != nil {
			return nil, fmt.Errorf("trailer: %w", err)
		}
		buf = append(buf, raw...)
	}
	return buf, nil
}

func messages(specs []MessageSpec) ([]wire.Message, error) {
	msgs := make([]wire.Message, 0, len(specs))
	for i, s := range specs {
		m, err := s.Message()
		if err != nil {
			return nil, fmt.Errorf("message %d: %w", i, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

// Outcome names used in expectations.
const (
	OutcomeUpdated           = "updated"
	OutcomeNoChange          = "no_change"
	OutcomeMissingDependency = "missing_dependency"
)

// Assertion validates the final state of the scene.
type Assertion struct {
	// Type is one of slot, absent, slot_count, host_applied, failure_count
	// or replay_stable.
	Type string `yaml:"type"`

	Entity    uint32 `yaml:"entity,omitempty"`
	Component uint32 `yaml:"component,omitempty"`

	// Payload, Timestamp and Entries are optional checks for slot.
	Payload   *string  `yaml:"payload,omitempty"`
	Timestamp *uint32  `yaml:"timestamp,omitempty"`
	Entries   []string `yaml:"entries,omitempty"`

	// Count is used by slot_count, host_applied and failure_count.
	Count int `yaml:"count,omitempty"`

	// Code selects the failure code for failure_count.
	Code string `yaml:"code,omitempty"`
}

// Assertion type constants.
const (
	AssertSlot         = "slot"
	AssertAbsent       = "absent"
	AssertSlotCount    = "slot_count"
	AssertHostApplied  = "host_applied"
	AssertFailureCount = "failure_count"
	AssertReplayStable = "replay_stable"
)

// LoadScenario reads and parses a scenario YAML file. Unknown fields are
// rejected so typos fail loudly.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}
	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	if scenario.SceneID == "" {
		scenario.SceneID = "scene-test"
	}
	return &scenario, nil
}

func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Ticks) == 0 {
		return fmt.Errorf("ticks list is required and must be non-empty")
	}

	for i, t := range s.Ticks {
		if t.GetState && (len(t.Send) > 0 || t.Trailer != "") {
			return fmt.Errorf("ticks[%d]: get_state tick cannot send a batch", i)
		}
		if _, err := t.Batch(); err != nil {
			return fmt.Errorf("ticks[%d]: %w", i, err)
		}
		if _, err := messages(t.HostPush); err != nil {
			return fmt.Errorf("ticks[%d].host_push: %w", i, err)
		}
		if t.Expect != nil {
			for j, o := range t.Expect.Outcomes {
				switch o {
				case OutcomeUpdated, OutcomeNoChange, OutcomeMissingDependency:
				default:
					return fmt.Errorf("ticks[%d].expect.outcomes[%d]: unknown outcome %q", i, j, o)
				}
			}
			if _, err := messages(t.Expect.Response); err != nil {
				return fmt.Errorf("ticks[%d].expect.response: %w", i, err)
			}
		}
	}

	for i, a := range s.Assertions {
		if err := validateAssertion(i, a); err != nil {
			return err
		}
	}
	return nil
}

func validateAssertion(index int, a Assertion) error {
	switch a.Type {
	case "":
		return fmt.Errorf("assertions[%d]: type is required", index)
	case AssertSlot, AssertAbsent, AssertReplayStable:
	case AssertSlotCount, AssertHostApplied:
		if a.Count < 0 {
			return fmt.Errorf("assertions[%d]: count must be non-negative for %s", index, a.Type)
		}
	case AssertFailureCount:
		if a.Code == "" {
			return fmt.Errorf("assertions[%d]: code is required for failure_count", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

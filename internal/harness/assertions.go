package harness

import (
	"bytes"
	"fmt"
	"slices"

	"github.com/roach88/scenebridge/internal/crdt"
	"github.com/roach88/scenebridge/internal/diag"
	"github.com/roach88/scenebridge/internal/wire"
)

// AssertionContext is the final scene state assertions run against.
type AssertionContext struct {
	Store    *crdt.Store
	Applied  int
	Failures *diag.Recorder
}

// AssertionError describes one failed assertion.
type AssertionError struct {
	Index    int
	Type     string
	Expected string
	Actual   string
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	return fmt.Sprintf("assertions[%d] %s: expected %s, got %s", e.Index, e.Type, e.Expected, e.Actual)
}

// EvaluateAssertions runs every assertion and returns the failure messages.
func EvaluateAssertions(assertions []Assertion, actx *AssertionContext) []string {
	var errs []string
	for i, a := range assertions {
		if err := evaluate(i, a, actx); err != nil {
			errs = append(errs, err.Error())
		}
	}
	return errs
}

func evaluate(i int, a Assertion, actx *AssertionContext) error {
	fail := func(expected, actual string, args ...any) error {
		return &AssertionError{Index: i, Type: a.Type, Expected: fmt.Sprintf(expected, args...), Actual: actual}
	}

	switch a.Type {
	case AssertSlot:
		return assertSlot(a, actx.Store, fail)

	case AssertAbsent:
		if _, ok := actx.Store.Slot(wire.EntityID(a.Entity), wire.ComponentID(a.Component)); ok {
			return fail("no slot at (%d,%d)", "present", a.Entity, a.Component)
		}

	case AssertSlotCount:
		if n := actx.Store.Len(); n != a.Count {
			return fail("%d slots", fmt.Sprint(n), a.Count)
		}

	case AssertHostApplied:
		if actx.Applied != a.Count {
			return fail("%d host applies", fmt.Sprint(actx.Applied), a.Count)
		}

	case AssertFailureCount:
		if n := actx.Failures.Count(diag.Code(a.Code)); n != a.Count {
			return fail("%d %s failures", fmt.Sprint(n), a.Count, a.Code)
		}

	case AssertReplayStable:
		return assertReplayStable(actx.Store, fail)

	default:
		return fail("known assertion type", a.Type)
	}
	return nil
}

func assertSlot(a Assertion, store *crdt.Store, fail func(string, string, ...any) error) error {
	v, ok := store.Slot(wire.EntityID(a.Entity), wire.ComponentID(a.Component))
	if !ok {
		return fail("slot at (%d,%d)", "absent", a.Entity, a.Component)
	}
	if a.Payload != nil && string(v.Payload) != *a.Payload {
		return fail("payload %q", fmt.Sprintf("%q", v.Payload), *a.Payload)
	}
	if a.Timestamp != nil && uint32(v.Timestamp) != *a.Timestamp {
		return fail("timestamp %d", fmt.Sprint(v.Timestamp), *a.Timestamp)
	}
	if a.Entries != nil {
		got := make([]string, len(v.Entries))
		for i, e := range v.Entries {
			got[i] = string(e)
		}
		if !slices.Equal(got, a.Entries) {
			return fail("entries %q", fmt.Sprintf("%q", got), a.Entries)
		}
	}
	return nil
}

// assertReplayStable feeds the store's snapshot into a fresh store and checks
// that the second snapshot is byte-identical.
func assertReplayStable(store *crdt.Store, fail func(string, string, ...any) error) error {
	first := make([]byte, store.EncodedSize())
	n, err := store.CreateMessagesFromCurrentState(first)
	if err != nil {
		return fail("encodable state", err.Error())
	}
	first = first[:n]

	replica := crdt.New()
	replica.BeginBatch()
	msgs, err := wire.DecodeAll(first)
	if err != nil {
		return fail("decodable snapshot", err.Error())
	}
	for _, m := range msgs {
		replica.ProcessMessage(m)
	}

	second := make([]byte, replica.EncodedSize())
	n, err = replica.CreateMessagesFromCurrentState(second)
	if err != nil {
		return fail("encodable replica", err.Error())
	}
	if !bytes.Equal(first, second[:n]) {
		return fail("identical snapshot after replay", fmt.Sprintf("%d vs %d bytes", len(first), n))
	}
	if store.Digest() != replica.Digest() {
		return fail("digest %s", replica.Digest(), store.Digest())
	}
	return nil
}

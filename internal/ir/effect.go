package ir

import "strings"

// Effect is a bitmask of observable behaviours.
type Effect uint16

const (
	EffectVoid Effect = 1 << iota
	EffectRead
	EffectWrite
	EffectPersist
	EffectNetwork
	EffectTimer
	EffectAlloc
	EffectPanic
	EffectDiverge

	EffectNone Effect = 0
	EffectAll         = EffectVoid | EffectRead | EffectWrite | EffectPersist |
		EffectNetwork | EffectTimer | EffectAlloc | EffectPanic | EffectDiverge
)

var effectNames = []struct {
	bit  Effect
	name string
}{
	{EffectVoid, "void"},
	{EffectRead, "read"},
	{EffectWrite, "write"},
	{EffectPersist, "persist"},
	{EffectNetwork, "network"},
	{EffectTimer, "timer"},
	{EffectAlloc, "alloc"},
	{EffectPanic, "panic"},
	{EffectDiverge, "diverge"},
}

// Union returns e | o.
func (e Effect) Union(o Effect) Effect { return e | o }

// Has reports whether every bit of o is set in e.
func (e Effect) Has(o Effect) bool { return e&o == o }

// SubsetOf reports whether e ⊆ o.
func (e Effect) SubsetOf(o Effect) bool { return e&^o == 0 }

func (e Effect) String() string {
	var parts []string
	for _, n := range effectNames {
		if e&n.bit != 0 {
			parts = append(parts, n.name)
		}
	}
	return "effects{" + strings.Join(parts, ",") + "}"
}

// ParseEffect maps an effect name to its bit.
func ParseEffect(name string) (Effect, bool) {
	for _, n := range effectNames {
		if n.name == name {
			return n.bit, true
		}
	}
	return 0, false
}

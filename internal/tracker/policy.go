package tracker

import "reflect"

type policyKind int

const (
	policyUnrestricted policyKind = iota
	policySet
	policyEnum
)

// Enum is implemented by enumeration types that can report whether a value
// belongs to their fixed value set.
type Enum interface {
	Validate() error
}

// Policy decides which values a tracker accepts. Build one with
// Unrestricted, AllowedSet or AllowedEnum.
type Policy[T any] struct {
	kind    policyKind
	members []T
	check   func(T) error
}

// Unrestricted accepts every value.
func Unrestricted[T any]() Policy[T] {
	return Policy[T]{kind: policyUnrestricted}
}

// AllowedSet accepts only the listed values. Membership uses structural
// comparison so composite values can be listed too.
func AllowedSet[T any](values ...T) Policy[T] {
	members := make([]T, len(values))
	copy(members, values)
	return Policy[T]{kind: policySet, members: members}
}

// AllowedEnum accepts the value set of an enumeration type, as reported by
// its Validate method.
func AllowedEnum[T Enum]() Policy[T] {
	return Policy[T]{kind: policyEnum, check: func(v T) error { return v.Validate() }}
}

func (p Policy[T]) allows(v T) bool {
	switch p.kind {
	case policySet:
		for _, m := range p.members {
			if reflect.DeepEqual(m, v) {
				return true
			}
		}
		return false
	case policyEnum:
		return p.check(v) == nil
	default:
		return true
	}
}

// Equality reports whether two values are the same for change detection.
type Equality[T any] func(a, b T) bool

// Shallow compares with ==. Only available for comparable types.
func Shallow[T comparable]() Equality[T] {
	return func(a, b T) bool { return a == b }
}

// Deep compares structurally, so distinct but identical composites are equal.
func Deep[T any]() Equality[T] {
	return func(a, b T) bool { return reflect.DeepEqual(a, b) }
}

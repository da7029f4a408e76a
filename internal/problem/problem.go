// Package problem defines the error taxonomy shared by the tree
// canonicalizer, the definition registry and the draft manager.
//
// Every failure surfaces as a *Problem (rule kind + offending path + message)
// or a List of them. Kind values double as sentinels:
//
//	if errors.Is(err, problem.Conflict) { ... }
//
// matches both a single *Problem and any List containing one.
package problem

import (
	"errors"
	"fmt"
	"strings"
)

// Kind names the violated rule or failed precondition.
type Kind string

func (k Kind) Error() string { return string(k) }

const (
	MalformedNode          Kind = "MalformedNode"
	DuplicateUUID          Kind = "DuplicateUuid"
	DanglingParent         Kind = "DanglingParent"
	IllegalSlot            Kind = "IllegalSlot"
	UnknownVersion         Kind = "UnknownVersion"
	MissingRequiredInput   Kind = "MissingRequiredInput"
	ForbiddenCapability    Kind = "ForbiddenCapability"
	ForbiddenDynamicSource Kind = "ForbiddenDynamicSource"
	InvalidExposedSlot     Kind = "InvalidExposedSlot"
	VersionInUse           Kind = "VersionInUse"
	Conflict               Kind = "Conflict"
	NotFound               Kind = "NotFound"
)

// IsValidation reports whether k is produced by content validation, as
// opposed to a lookup or concurrency failure.
func (k Kind) IsValidation() bool {
	switch k {
	case MalformedNode, DuplicateUUID, DanglingParent, IllegalSlot, UnknownVersion,
		MissingRequiredInput, ForbiddenCapability, ForbiddenDynamicSource, InvalidExposedSlot:
		return true
	}
	return false
}

// Problem is one structured, addressable failure.
type Problem struct {
	Kind    Kind   `json:"kind"`
	Path    string `json:"path,omitempty"` // e.g. "uuid-1.inputs.heading", "" for the whole tree
	Message string `json:"message"`
}

// New returns a problem of kind k at path.
func New(k Kind, path, format string, args ...any) *Problem {
	return &Problem{Kind: k, Path: path, Message: fmt.Sprintf(format, args...)}
}

func (p *Problem) Error() string {
	if p.Path == "" {
		return fmt.Sprintf("%s: %s", p.Kind, p.Message)
	}
	return fmt.Sprintf("%s at %s: %s", p.Kind, p.Path, p.Message)
}

// Unwrap exposes the kind so errors.Is can match it.
func (p *Problem) Unwrap() error { return p.Kind }

// List accumulates problems. A non-empty List is an error.
type List []*Problem

// Add appends a new problem.
func (l *List) Add(k Kind, path, format string, args ...any) {
	*l = append(*l, New(k, path, format, args...))
}

// Err returns the list as an error, or nil when it is empty.
func (l List) Err() error {
	if len(l) == 0 {
		return nil
	}
	return l
}

func (l List) Error() string {
	msgs := make([]string, len(l))
	for i, p := range l {
		msgs[i] = p.Error()
	}
	return strings.Join(msgs, "; ")
}

// Unwrap exposes each problem to errors.Is / errors.As.
func (l List) Unwrap() []error {
	errs := make([]error, len(l))
	for i, p := range l {
		errs[i] = p
	}
	return errs
}

// Has reports whether any problem in the list is of kind k.
func (l List) Has(k Kind) bool {
	for _, p := range l {
		if p.Kind == k {
			return true
		}
	}
	return false
}

// Kinds returns the kind of every problem, in order.
func (l List) Kinds() []Kind {
	out := make([]Kind, len(l))
	for i, p := range l {
		out[i] = p.Kind
	}
	return out
}

// From flattens err into a List. A *Problem becomes a one-element list,
// a List is returned as is, anything else yields nil.
func From(err error) List {
	var l List
	if errors.As(err, &l) {
		return l
	}
	var p *Problem
	if errors.As(err, &p) {
		return List{p}
	}
	return nil
}

// KindOf returns the kind of the first problem in err, or "".
func KindOf(err error) Kind {
	if l := From(err); len(l) > 0 {
		return l[0].Kind
	}
	return ""
}

// Copyright 2024 The Cockroach Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fixed

import (
	"fmt"
	"path/filepath"
	"reflect"
	"runtime"
	"strings"

	"go.uber.org/zap"
)

// ViolationKind classifies a programmer error detected by a container.
type ViolationKind int

const (
	// CapacityExceeded is reported when an insertion would exceed the fixed
	// capacity of a container.
	CapacityExceeded ViolationKind = iota + 1
	// InvalidIndex is reported when an index does not refer to a live
	// element, or a position is used on an empty container.
	InvalidIndex
	// InvalidConfiguration is reported by constructors for unusable
	// parameters: negative capacities, too few buckets, element types
	// containing pointers and the like.
	InvalidConfiguration
)

func (k ViolationKind) String() string {
	switch k {
	case CapacityExceeded:
		return "capacity exceeded"
	case InvalidIndex:
		return "invalid index"
	case InvalidConfiguration:
		return "invalid configuration"
	default:
		return fmt.Sprintf("violation(%d)", int(k))
	}
}

// Violation describes a single programmer error.
type Violation struct {
	Kind ViolationKind
	// Attempted is the size the container would have had (CapacityExceeded)
	// or the offending index (InvalidIndex).
	Attempted int
	Capacity  int
	// Location is the file:line of the call into this package.
	Location string
	// Detail is set for InvalidConfiguration.
	Detail string
}

func (v Violation) String() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "%s: attempted=%d capacity=%d", v.Kind, v.Attempted, v.Capacity)
	if v.Detail != "" {
		fmt.Fprintf(&buf, " (%s)", v.Detail)
	}
	if v.Location != "" {
		fmt.Fprintf(&buf, " at %s", v.Location)
	}
	return buf.String()
}

// CheckingPolicy is invoked when a container detects a programmer error. A
// policy that returns (rather than panicking) turns the offending operation
// into a no-op which returns a zero value or the null index.
type CheckingPolicy interface {
	Violated(v Violation)
}

// ViolationError is the panic value raised by AbortPolicy.
type ViolationError struct {
	Violation
}

func (e *ViolationError) Error() string {
	return "fixed: " + e.Violation.String()
}

// AbortPolicy panics with a *ViolationError. It is the default policy.
type AbortPolicy struct{}

// Violated implements CheckingPolicy.
func (AbortPolicy) Violated(v Violation) {
	panic(&ViolationError{Violation: v})
}

// LoggingPolicy logs every violation and then hands it to Next, which
// defaults to AbortPolicy.
type LoggingPolicy struct {
	Logger *zap.Logger
	Next   CheckingPolicy
}

// Violated implements CheckingPolicy.
func (p LoggingPolicy) Violated(v Violation) {
	if p.Logger != nil {
		p.Logger.Error("fixed: container violation",
			zap.String("kind", v.Kind.String()),
			zap.Int("attempted", v.Attempted),
			zap.Int("capacity", v.Capacity),
			zap.String("location", v.Location),
			zap.String("detail", v.Detail))
	}
	next := p.Next
	if next == nil {
		next = AbortPolicy{}
	}
	next.Violated(v)
}

// packagePrefix is the function name prefix of everything in this package.
var packagePrefix = reflect.TypeOf(AbortPolicy{}).PkgPath() + "."

// callerLocation returns the file:line of the innermost frame outside of
// this package's non-test sources.
func callerLocation() string {
	var pcs [16]uintptr
	n := runtime.Callers(2, pcs[:])
	frames := runtime.CallersFrames(pcs[:n])
	for {
		f, more := frames.Next()
		if !strings.HasPrefix(f.Function, packagePrefix) || strings.HasSuffix(f.File, "_test.go") {
			return fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		}
		if !more {
			return ""
		}
	}
}

func violate(p CheckingPolicy, kind ViolationKind, attempted, capacity int) {
	p.Violated(Violation{
		Kind:      kind,
		Attempted: attempted,
		Capacity:  capacity,
		Location:  callerLocation(),
	})
}

func violateConfig(p CheckingPolicy, capacity int, format string, args ...interface{}) {
	p.Violated(Violation{
		Kind:     InvalidConfiguration,
		Capacity: capacity,
		Location: callerLocation(),
		Detail:   fmt.Sprintf(format, args...),
	})
}

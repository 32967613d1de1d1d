// Package xerr provides the error-kind taxonomy shared by the runtime,
// the control plane, and the orchestration routines.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package xerr

import (
	"fmt"

	"github.com/pkg/errors"
)

type Kind string

const (
	NotFound          Kind = "NotFound"
	AlreadyExists     Kind = "AlreadyExists"
	InvalidTransition Kind = "InvalidTransition"
	InvalidRequest    Kind = "InvalidRequest"
	NodeLoad          Kind = "NodeLoad"
	ChannelClosed     Kind = "ChannelClosed"
	Transport         Kind = "Transport"
	PeerTimeout       Kind = "PeerTimeout"
	Internal          Kind = "Internal"
)

// Error is the concrete error type carried across the control plane. It
// always has a Kind; the wrapped cause (if any) is preserved via
// github.com/pkg/errors so that %+v still prints a stack where available.
type Error struct {
	Kind   Kind   `json:"kind"`
	Detail string `json:"detail,omitempty"`
	cause  error
}

func New(kind Kind, format string, a ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, a...)}
}

func Wrap(kind Kind, cause error, format string, a ...any) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, a...), cause: errors.WithStack(cause)}
}

func (e *Error) Error() string {
	if e.Detail == "" {
		return string(e.Kind)
	}
	return string(e.Kind) + ": " + e.Detail
}

func (e *Error) Unwrap() error { return e.cause }

func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Kind == e.Kind
}

func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return Internal
}

func IsKind(err error, kind Kind) bool { return KindOf(err) == kind }

// Outcome is the per-daemon result shape §9's Design Notes commits to for
// fan-out reply aggregation: {local: Outcome, peers: {RuntimeId: Outcome}}.
type Outcome struct {
	OK     bool   `json:"ok"`
	Kind   Kind   `json:"kind,omitempty"`
	Detail string `json:"detail,omitempty"`
}

func OutcomeOf(err error) Outcome {
	if err == nil {
		return Outcome{OK: true}
	}
	return Outcome{OK: false, Kind: KindOf(err), Detail: err.Error()}
}

func (o Outcome) Err() error {
	if o.OK {
		return nil
	}
	return New(o.Kind, "%s", o.Detail)
}

// Aggregate batches per-node (or per-peer) errors the way cmn.Errs batches
// and joins up to a bounded count, keeping the registry from logging the
// same root cause N times over for an N-node failure.
type Aggregate struct {
	errs []error
}

const maxAggregated = 8

func (a *Aggregate) Add(err error) {
	if err == nil {
		return
	}
	for _, e := range a.errs {
		if e.Error() == err.Error() {
			return
		}
	}
	if len(a.errs) < maxAggregated {
		a.errs = append(a.errs, err)
	}
}

func (a *Aggregate) Empty() bool { return len(a.errs) == 0 }
func (a *Aggregate) Count() int  { return len(a.errs) }

func (a *Aggregate) Err() error {
	if len(a.errs) == 0 {
		return nil
	}
	if len(a.errs) == 1 {
		return a.errs[0]
	}
	return fmt.Errorf("%v (and %d more error(s))", a.errs[0], len(a.errs)-1)
}

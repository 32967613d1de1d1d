// Package cos provides low-level identifier generation and validation
// shared by every id type in package flow. Adapted from the teacher's
// cmn/cos uuid helpers (GenUUID/IsAlphaNice), trimmed to the subset this
// daemon needs: no daemon-type prefixes, no k8s proxy-id hashing.
/*
 * Copyright (c) 2024, Zenoh-Flow Project. All rights reserved.
 */
package cos

import (
	"fmt"

	"github.com/teris-io/shortid"
)

const (
	// alphabet for generating short, URL-safe, selector-safe ids
	idABC = "-5nZJDft6LuzsjGNpPwY7rQa39vehq4i1cV2FROo8yHSlC0BUEdWbIxMmTgKXAk_"

	LenShortID = 9
	tooLongID  = 32
)

var sid *shortid.Shortid

func init() {
	sid = shortid.MustNew(4 /*worker*/, idABC, 1)
}

// GenUUID returns a short, alphanumeric-plus-dash/underscore id suitable for
// an InstanceID or RuntimeID when the caller doesn't supply one.
func GenUUID() string {
	for {
		id, err := sid.Generate()
		if err != nil {
			// shortid only fails on worker/seed misconfiguration, which init()
			// above guarantees cannot happen.
			panic(fmt.Sprintf("cos: shortid generate: %v", err))
		}
		// idABC contains '-' and '_', which IsAlphaNice refuses at either end.
		if IsAlphaNice(id) {
			return id
		}
	}
}

func IsValidUUID(s string) bool {
	return len(s) >= LenShortID && IsAlphaNice(s)
}

func isAlpha(c byte) bool {
	return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
}

// IsAlphaNice reports whether s is letters/digits with interior '-'/'_',
// bounded to tooLongID, the same shape the teacher enforces on daemon ids.
func IsAlphaNice(s string) bool {
	l := len(s)
	if l == 0 || l > tooLongID {
		return false
	}
	for i := 0; i < l; i++ {
		c := s[i]
		if isAlpha(c) || (c >= '0' && c <= '9') {
			continue
		}
		if c != '-' && c != '_' {
			return false
		}
		if i == 0 || i == l-1 {
			return false
		}
	}
	return true
}

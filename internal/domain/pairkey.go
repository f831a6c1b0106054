package domain

import (
	"strings"

	"github.com/google/uuid"
)

// PairKey builds the canonical lookup key for a conversation scoped to an
// unordered device pair between an unordered user pair. (A,B) and (B,A) hash
// to the same key on both axes. A conversation whose target device is still
// unknown keys on the user pair alone, marked open: both sides resolving
// without a device hint must collapse onto one row, whichever device created
// it.
func PairKey(userA, userB uuid.UUID, createdBy uuid.UUID, target *uuid.UUID) string {
	users := []string{userA.String(), userB.String()}
	if users[1] < users[0] {
		users[0], users[1] = users[1], users[0]
	}
	if target == nil {
		return strings.Join([]string{users[0], users[1], "open"}, "/")
	}
	devices := []string{createdBy.String(), target.String()}
	if devices[1] < devices[0] {
		devices[0], devices[1] = devices[1], devices[0]
	}
	return strings.Join([]string{users[0], users[1], devices[0], devices[1]}, "/")
}

package app

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func newID() string {
	return uuid.NewString()
}

// newReservationNumber builds the human-readable reservation number,
// e.g. RES-20250114-4F2A9C.
func newReservationNumber(now time.Time) string {
	return newNumber("RES", now)
}

func newOrderNumber(now time.Time) string {
	return newNumber("ORD", now)
}

func newNumber(prefix string, now time.Time) string {
	b := make([]byte, 3)
	if _, err := rand.Read(b); err != nil {
		// Fall back to the uuid space; collisions caught by the unique index.
		return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(uuid.NewString()[:6]))
	}
	return fmt.Sprintf("%s-%s-%s", prefix, now.Format("20060102"), strings.ToUpper(hex.EncodeToString(b)))
}

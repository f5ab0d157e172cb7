package xid

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

func New(prefix string) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return fmt.Sprintf("%s-%s", prefix, id.String())
}

// Receipt returns a short, human-readable receipt number such as
// RCPT-20261019-1A2B3C4D.
func Receipt(at time.Time) string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("RCPT-%s-%d", at.Format("20060102"), at.UnixNano())
	}
	suffix := strings.ToUpper(strings.ReplaceAll(id.String(), "-", "")[:8])
	return fmt.Sprintf("RCPT-%s-%s", at.Format("20060102"), suffix)
}

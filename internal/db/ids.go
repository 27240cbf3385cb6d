package db

import (
	"strings"

	"github.com/google/uuid"
)

// NewID returns prefix + "_" + a dash-less random UUID, e.g. "ord_3f2c...".
func NewID(prefix string) string {
	return prefix + "_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

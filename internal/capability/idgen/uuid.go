// Package idgen implements capability.IDGenerator using UUIDv7, grounded on
// the teacher's uuid.New().String() calls (registry/health_tracker.go,
// registry/result_stream.go) but upgraded to a time-ordered variant so IDs
// sort by creation time, which the step recorder and artifact store both
// rely on for natural chronological listing.
package idgen

import (
	"fmt"

	"github.com/google/uuid"

	"github.com/grandcanyonsmith/leadengine/internal/capability"
)

// Generator produces UUIDv7 IDs, optionally prefixed.
type Generator struct{}

// New constructs a Generator.
func New() *Generator { return &Generator{} }

var _ capability.IDGenerator = (*Generator)(nil)

func (g *Generator) NewID(prefix string) string {
	id, err := uuid.NewV7()
	if err != nil {
		// uuid.NewV7 only fails if the global random source is broken; fall
		// back to a random v4 rather than panic.
		id = uuid.New()
	}
	if prefix == "" {
		return id.String()
	}
	return fmt.Sprintf("%s_%s", prefix, id.String())
}

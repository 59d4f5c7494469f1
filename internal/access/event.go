// Package access defines the wire form of one recorded I/O, shared by the
// HTTP API, the Kafka ingest consumer and the load generator.
package access

import (
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	OpRead  = "read"
	OpWrite = "write"

	// MaxLength bounds a single recorded I/O.
	MaxLength = 1 << 30
)

type Event struct {
	Version  int       `json:"version"`
	Domain   string    `json:"domain"`
	ObjectID uint64    `json:"object_id"`
	Offset   uint64    `json:"offset"`
	Length   uint64    `json:"length"`
	Op       string    `json:"op"`
	TS       time.Time `json:"ts,omitzero"`
}

func (e Event) Validate() error {
	if e.Version != 1 {
		return fmt.Errorf("version must be 1")
	}
	switch e.Op {
	case OpRead, OpWrite:
	default:
		return fmt.Errorf("op must be read|write")
	}
	if strings.TrimSpace(e.Domain) == "" {
		return fmt.Errorf("domain is required")
	}
	if e.Length == 0 {
		return fmt.Errorf("length must be positive")
	}
	if e.Length > MaxLength {
		return fmt.Errorf("length must not exceed %d", MaxLength)
	}
	if e.Offset > math.MaxUint64-e.Length+1 {
		return fmt.Errorf("offset+length overflows")
	}
	return nil
}

func (e Event) Write() bool { return e.Op == OpWrite }

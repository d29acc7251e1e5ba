package generator

import (
	"fmt"
	"os"
	"sync/atomic"

	"github.com/google/uuid"
)

type IDGenerator interface {
	GrantID() string
}

type UUIDGenerator struct{}

func NewUUIDGenerator() *UUIDGenerator {
	return &UUIDGenerator{}
}

func (g *UUIDGenerator) GrantID() string {
	return uuid.NewString()
}

// ConsumerName identifies a flush worker in the pending log consumer group.
// It is stable per host and worker slot.
func ConsumerName(worker int) string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "seckill"
	}
	return fmt.Sprintf("%s-%d", host, worker)
}

// SequenceGenerator hands out predictable ids. Used by tests.
type SequenceGenerator struct {
	prefix string
	last   atomic.Int64
}

func NewSequenceGenerator(prefix string) *SequenceGenerator {
	return &SequenceGenerator{prefix: prefix}
}

func (g *SequenceGenerator) GrantID() string {
	return fmt.Sprintf("%s-%d", g.prefix, g.last.Add(1))
}

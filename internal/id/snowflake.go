package id

import (
	"fmt"
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node    *snowflake.Node
	once    sync.Once
	initErr error
)

// Init sets up the snowflake node for this process. Only the first call has
// any effect.
func Init(nodeID int64) error {
	once.Do(func() {
		node, initErr = snowflake.NewNode(nodeID)
	})
	return initErr
}

// New returns a time-ordered int64 id. Ids from one node are strictly
// increasing, which makes them a stable tie-breaker for equal timestamps.
// Uses node 0 when Init was never called.
func New() int64 {
	if err := Init(0); err != nil {
		panic(fmt.Sprintf("snowflake node: %v", err))
	}
	return node.Generate().Int64()
}

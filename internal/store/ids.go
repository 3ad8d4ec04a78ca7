package store

import (
	"sync"

	"github.com/bwmarrin/snowflake"
)

var (
	node     *snowflake.Node
	initOnce sync.Once
)

// InitSnowflake configures the ID generator node. nodeID must be unique
// per executor instance (0-1023).
func InitSnowflake(nodeID int64) error {
	var err error
	initOnce.Do(func() {
		node, err = snowflake.NewNode(nodeID)
	})
	return err
}

// NewID generates a snowflake ID for orders, fills and bridge commands.
func NewID() int64 {
	if node == nil {
		InitSnowflake(0)
	}
	return node.Generate().Int64()
}

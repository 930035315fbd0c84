package utilities

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
	"github.com/segmentio/ksuid"
)

// NewKSUID generates a new globally unique KSUID string. Used as the
// primary key for trip records so ids sort roughly by creation time.
func NewKSUID() string {
	return ksuid.New().String()
}

// NewSnowflakeID generates a snowflake ID string using a node ID from the
// environment variable SNOWFLAKE_NODE, defaulting to node 1. Used for
// per-request correlation ids.
func NewSnowflakeID() string {
	nodeEnv := os.Getenv("SNOWFLAKE_NODE")
	if nodeEnv == "" {
		return NewSnowflakeIDWithNode(1)
	}
	nodeID, err := strconv.ParseInt(nodeEnv, 10, 64)
	if err != nil {
		return NewSnowflakeIDWithNode(1)
	}
	return NewSnowflakeIDWithNode(nodeID)
}

// NewSnowflakeIDWithNode generates a snowflake ID string using the provided
// node ID. If the node cannot be initialized, it falls back to a KSUID.
func NewSnowflakeIDWithNode(nodeID int64) string {
	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return NewKSUID()
	}
	return node.Generate().String()
}

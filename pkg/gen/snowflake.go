package gen

import (
	"os"
	"strconv"

	"github.com/bwmarrin/snowflake"
)

type SnowflakeNode struct {
	node *snowflake.Node
}

// NewSnowflakeNode builds the process-wide ID generator. The node number
// comes from SNOWFLAKE_NODE_ID so replicas never mint colliding IDs.
func NewSnowflakeNode() (*SnowflakeNode, error) {
	nodeID := int64(1)
	if v, err := strconv.ParseInt(os.Getenv("SNOWFLAKE_NODE_ID"), 10, 64); err == nil {
		nodeID = v
	}

	node, err := snowflake.NewNode(nodeID)
	if err != nil {
		return nil, err
	}

	return &SnowflakeNode{node: node}, nil
}

func (s *SnowflakeNode) GenerateID() snowflake.ID {
	return s.node.Generate()
}

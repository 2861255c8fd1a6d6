package strategy

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

func toolWithSchema(schema map[string]any) *mcp.Tool {
	return &mcp.Tool{Name: "search_flights", InputSchema: schema}
}

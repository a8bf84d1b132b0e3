package gateway

import (
	"github.com/modelcontextprotocol/go-sdk/mcp"
)

// DiscoverModelsTool returns the MCP tool definition for discover_models.
func DiscoverModelsTool() mcp.Tool {
	return mcp.Tool{
		Name:        "discover_models",
		Description: "Find the generative models best suited to a task and turn them into callable tools in one step. Describe what you want to produce in plain language, set hasImage when the task starts from an existing picture, and read the returned toolName plus inputSchema for each match; example: query=\"photorealistic portrait, natural lighting\", hasImage=false, limit=3.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "Natural-language description of the generation task. Models are ranked by relevance to this text.",
				},
				"hasImage": map[string]any{
					"type":        "boolean",
					"description": "Set true when the task supplies an input image, unlocking image-to-image and image-to-video models.",
				},
				"limit": map[string]any{
					"type":        "integer",
					"description": "Maximum number of models to return. Omit for the server default.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// InvokeModelTool returns the MCP tool definition for invoke_model.
func InvokeModelTool() mcp.Tool {
	return mcp.Tool{
		Name:        "invoke_model",
		Description: "Run a model tool that discover_models returned. Pass the exact toolName (or the raw endpoint id) and an arguments object matching the advertised input schema; the call submits the job to the generation queue and returns its queue state and request id.",
		InputSchema: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"toolName": map[string]any{
					"type":        "string",
					"description": "Name of the generated tool, as returned by discover_models. Endpoint ids are accepted too.",
				},
				"arguments": map[string]any{
					"type":        "object",
					"description": "Arguments for the model, matching its input schema.",
				},
			},
			"required": []string{"toolName", "arguments"},
		},
	}
}

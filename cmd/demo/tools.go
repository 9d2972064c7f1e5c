package main

import (
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strings"

	"github.com/openai/openai-go"
)

// toolPrefix is the namespace the Claude Code CLI gives gateway tools.
const toolPrefix = "mcp__gateway__"

func toolDefinitions() []openai.ChatCompletionToolParam {
	return []openai.ChatCompletionToolParam{
		{Function: openai.FunctionDefinitionParam{
			Name:        toolPrefix + "calculate",
			Description: openai.String("Evaluate an arithmetic expression. Supports + - * / ^, parentheses and sqrt."),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"expression": map[string]any{"type": "string", "description": "arithmetic expression"},
				},
				"required": []string{"expression"},
			},
		}},
		{Function: openai.FunctionDefinitionParam{
			Name:        toolPrefix + "search",
			Description: openai.String("Search for information"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"query": map[string]any{"type": "string"},
					"limit": map[string]any{"type": "integer", "default": 5},
				},
				"required": []string{"query"},
			},
		}},
		{Function: openai.FunctionDefinitionParam{
			Name:        toolPrefix + "get_weather",
			Description: openai.String("Get the current weather for a location"),
			Parameters: openai.FunctionParameters{
				"type": "object",
				"properties": map[string]any{
					"location": map[string]any{"type": "string"},
					"units": map[string]any{
						"type":    "string",
						"enum":    []string{"celsius", "fahrenheit"},
						"default": "celsius",
					},
				},
				"required": []string{"location"},
			},
		}},
	}
}

// executeTool runs a tool locally. Failures are reported in the result so
// the agent can see them.
func executeTool(name, arguments string) map[string]any {
	var args struct {
		Expression string `json:"expression"`
		Query      string `json:"query"`
		Limit      int    `json:"limit"`
		Location   string `json:"location"`
		Units      string `json:"units"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return map[string]any{"success": false, "error": "invalid arguments: " + err.Error()}
	}

	switch strings.TrimPrefix(name, toolPrefix) {
	case "calculate":
		return calculate(args.Expression)
	case "search":
		return search(args.Query, args.Limit)
	case "get_weather":
		return weather(args.Location, args.Units)
	default:
		return map[string]any{"success": false, "error": "unknown tool: " + name}
	}
}

func calculate(expression string) map[string]any {
	v, err := evaluate(expression)
	if err != nil {
		return map[string]any{"expression": expression, "success": false, "error": err.Error()}
	}
	return map[string]any{"expression": expression, "success": true, "result": v}
}

func search(query string, limit int) map[string]any {
	if limit <= 0 {
		limit = 5
	}
	limit = min(limit, 5)

	results := make([]map[string]string, limit)
	for i := range results {
		results[i] = map[string]string{
			"title":   fmt.Sprintf("%s - result %d", query, i+1),
			"url":     fmt.Sprintf("https://example.com/search/%d", i+1),
			"snippet": fmt.Sprintf("Result %d about %s...", i+1, query),
		}
	}
	return map[string]any{"query": query, "results": results, "total": limit, "success": true}
}

var conditions = []string{"sunny", "cloudy", "light rain", "overcast"}

func weather(location, units string) map[string]any {
	if units == "" {
		units = "celsius"
	}
	temp := 10 + rand.IntN(26)
	if units == "fahrenheit" {
		temp = temp*9/5 + 32
	}
	return map[string]any{
		"location":    location,
		"temperature": temp,
		"units":       units,
		"condition":   conditions[rand.IntN(len(conditions))],
		"humidity":    40 + rand.IntN(41),
		"wind_speed":  5 + rand.IntN(21),
		"success":     true,
	}
}

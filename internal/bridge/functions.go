package bridge

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/ambralabs/voicebridge/internal/mathexpr"
)

// FunctionHandler executes one tool call. Handlers return a structured
// payload in every case; failures are fields of the payload, never
// faults.
type FunctionHandler func(args map[string]any) map[string]any

// FunctionRegistry maps tool names to local implementations.
type FunctionRegistry struct {
	handlers map[string]FunctionHandler
}

func NewFunctionRegistry() *FunctionRegistry {
	return &FunctionRegistry{handlers: make(map[string]FunctionHandler)}
}

// Register adds or replaces a handler.
func (r *FunctionRegistry) Register(name string, h FunctionHandler) {
	r.handlers[name] = h
}

// Execute parses the raw argument payload (malformed arguments are
// tolerated as empty) and invokes the named handler. Unknown names
// produce an error payload.
func (r *FunctionRegistry) Execute(name, rawArgs string) map[string]any {
	args := map[string]any{}
	if rawArgs != "" {
		// Tolerate malformed payloads as empty arguments.
		_ = json.Unmarshal([]byte(rawArgs), &args)
	}
	h, ok := r.handlers[name]
	if !ok {
		return map[string]any{"error": fmt.Sprintf("unknown function: %s", name)}
	}
	return h(args)
}

// NewBuiltinRegistry returns the registry with the stock demo tools.
func NewBuiltinRegistry() *FunctionRegistry {
	r := NewFunctionRegistry()
	r.Register("get_time", getTime)
	r.Register("get_weather", getWeather)
	r.Register("calculate", calculate)
	return r
}

func getTime(map[string]any) map[string]any {
	return map[string]any{"time": time.Now().Format("2006-01-02 15:04:05")}
}

func getWeather(args map[string]any) map[string]any {
	location, _ := args["location"].(string)
	if location == "" {
		location = "unknown"
	}
	return map[string]any{"location": location, "temperature": "72°F", "condition": "Sunny"}
}

func calculate(args map[string]any) map[string]any {
	expression, _ := args["expression"].(string)
	result, err := mathexpr.Eval(expression)
	if err != nil {
		return map[string]any{"expression": expression, "error": "could not evaluate"}
	}
	return map[string]any{"expression": expression, "result": mathexpr.Format(result)}
}

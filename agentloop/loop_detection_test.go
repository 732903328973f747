package agentloop

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/georgesalapa/micro-cc/convstore"
)

func assistantCallTurn(name, args string) convstore.Turn {
	return convstore.NewTurn(convstore.RoleAssistant,
		convstore.ToolCallBlockOf("id", name, json.RawMessage(args)))
}

func TestDetectLoopSingleRepeatedCall(t *testing.T) {
	var history []convstore.Turn
	for i := 0; i < 6; i++ {
		history = append(history, assistantCallTurn("read", `{"path":"same.txt"}`))
	}
	assert.True(t, detectLoop(history, 6))
}

func TestDetectLoopAlternatingPair(t *testing.T) {
	var history []convstore.Turn
	for i := 0; i < 3; i++ {
		history = append(history, assistantCallTurn("read", `{"path":"a.txt"}`))
		history = append(history, assistantCallTurn("grep", `{"pattern":"x"}`))
	}
	assert.True(t, detectLoop(history, 6))
}

func TestNoLoopWhenArgumentsVary(t *testing.T) {
	var history []convstore.Turn
	for i := 0; i < 6; i++ {
		history = append(history, assistantCallTurn("read", fmt.Sprintf(`{"path":"file%d.txt"}`, i)))
	}
	assert.False(t, detectLoop(history, 6))
}

func TestNoLoopWithTooFewCalls(t *testing.T) {
	history := []convstore.Turn{
		assistantCallTurn("read", `{"path":"a.txt"}`),
		assistantCallTurn("read", `{"path":"a.txt"}`),
	}
	assert.False(t, detectLoop(history, 6))
}

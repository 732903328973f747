package agentloop

import (
	"encoding/json"

	"github.com/georgesalapa/micro-cc/convstore"
	"github.com/georgesalapa/micro-cc/llm"
)

// turnsToMessages converts stored turns to service messages. Thinking
// blocks never round-trip: they are dropped on conversion just as the
// store drops them on write.
func turnsToMessages(history []convstore.Turn) []llm.Message {
	messages := make([]llm.Message, 0, len(history))
	for _, turn := range history {
		var parts []llm.ContentPart
		for _, block := range turn.Blocks {
			switch block.Type {
			case convstore.BlockText:
				parts = append(parts, llm.TextPart(block.Text))
			case convstore.BlockToolCall:
				parts = append(parts, llm.ToolCallPart(block.ToolCall.ID, block.ToolCall.Name, block.ToolCall.Arguments))
			case convstore.BlockToolResult:
				raw, _ := json.Marshal(block.ToolResult.Payload)
				parts = append(parts, llm.ToolResultPart(block.ToolResult.ToolCallID, raw, block.ToolResult.Status == convstore.StatusError))
			}
		}
		if len(parts) == 0 {
			continue
		}
		messages = append(messages, llm.Message{Role: roleToLLM(turn.Role), Content: parts})
	}
	return messages
}

func roleToLLM(role convstore.Role) llm.Role {
	switch role {
	case convstore.RoleAssistant:
		return llm.RoleAssistant
	case convstore.RoleToolResult:
		return llm.RoleTool
	default:
		return llm.RoleUser
	}
}

// assistantTurnFromResponse builds the assistant turn for one service
// response. Thinking blocks are kept here for live consumers; the store
// strips them at write time.
func assistantTurnFromResponse(resp *llm.Response) convstore.Turn {
	var blocks []convstore.Block
	for _, part := range resp.Message.Content {
		switch part.Kind {
		case llm.ContentThinking:
			if part.Thinking != nil && part.Thinking.Text != "" {
				blocks = append(blocks, convstore.ThinkingBlock(part.Thinking.Text))
			}
		case llm.ContentText:
			if part.Text != "" {
				blocks = append(blocks, convstore.TextBlock(part.Text))
			}
		case llm.ContentToolCall:
			if part.ToolCall != nil {
				blocks = append(blocks, convstore.ToolCallBlockOf(part.ToolCall.ID, part.ToolCall.Name, part.ToolCall.Arguments))
			}
		}
	}
	return convstore.NewTurn(convstore.RoleAssistant, blocks...)
}

// toolResultTurn builds the turn holding the outcomes of one round of tool
// calls, in dispatch order.
func toolResultTurn(calls []llm.ToolCall, outcomes []Outcome) convstore.Turn {
	blocks := make([]convstore.Block, 0, len(outcomes))
	for i, outcome := range outcomes {
		status := convstore.StatusOK
		if outcome.IsError() {
			status = convstore.StatusError
		}
		blocks = append(blocks, convstore.ToolResultBlockOf(calls[i].ID, status, outcome.Payload, outcome.DisplayHint))
	}
	return convstore.NewTurn(convstore.RoleToolResult, blocks...)
}

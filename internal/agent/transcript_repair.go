package agent

import "github.com/haasonsaas/belay/pkg/models"

// repairTranscript returns a copy of history that is safe to submit to a
// model endpoint: every tool call has a matching result and every result
// answers a call issued earlier in the transcript. Orphaned tool calls are
// left behind when a run is interrupted between the model requesting a tool
// and the result being recorded; submitting them would be rejected by the
// provider protocol.
//
// The input is never mutated. The function is deterministic and idempotent:
// repairing an already-clean history yields an equivalent history.
func repairTranscript(history []*models.Message) []*models.Message {
	if len(history) == 0 {
		return history
	}

	// A result only answers a call issued earlier in the transcript.
	answered := make(map[string]struct{})
	seen := make(map[string]struct{})
	for _, msg := range history {
		if msg == nil {
			continue
		}
		switch msg.Role {
		case models.RoleAssistant:
			for _, call := range msg.ToolCalls {
				if call.ID != "" {
					seen[call.ID] = struct{}{}
				}
			}
		case models.RoleTool:
			for _, res := range msg.ToolResults {
				if _, ok := seen[res.ToolCallID]; ok {
					answered[res.ToolCallID] = struct{}{}
				}
			}
		}
	}

	issued := make(map[string]struct{})
	repaired := make([]*models.Message, 0, len(history))

	for _, msg := range history {
		if msg == nil {
			continue
		}

		switch msg.Role {
		case models.RoleAssistant:
			kept := msg.ToolCalls
			dropped := false
			for _, call := range msg.ToolCalls {
				if _, ok := answered[call.ID]; call.ID == "" || !ok {
					dropped = true
					break
				}
			}
			if dropped {
				kept = make([]models.ToolCall, 0, len(msg.ToolCalls))
				for _, call := range msg.ToolCalls {
					if call.ID == "" {
						continue
					}
					if _, ok := answered[call.ID]; ok {
						kept = append(kept, call)
					}
				}
			}
			for _, call := range kept {
				issued[call.ID] = struct{}{}
			}
			if len(kept) == 0 && msg.Content == "" {
				continue
			}
			if !dropped {
				repaired = append(repaired, msg)
				continue
			}
			copied := *msg
			copied.ToolCalls = kept
			repaired = append(repaired, &copied)
		case models.RoleTool:
			kept := make([]models.ToolResult, 0, len(msg.ToolResults))
			for _, res := range msg.ToolResults {
				if res.ToolCallID == "" {
					continue
				}
				if _, ok := issued[res.ToolCallID]; ok {
					kept = append(kept, res)
				}
			}
			if len(kept) == 0 {
				continue
			}
			if len(kept) == len(msg.ToolResults) {
				repaired = append(repaired, msg)
				continue
			}
			copied := *msg
			copied.ToolResults = kept
			repaired = append(repaired, &copied)
		default:
			repaired = append(repaired, msg)
		}
	}

	return repaired
}

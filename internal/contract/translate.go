package contract

import (
	"strings"
	"time"
)

// displayLabels maps engineering status labels to user-facing display labels.
var displayLabels = map[string]string{
	"PENDING":   "等待执行",
	"RUNNING":   "执行中",
	"COMPLETED": "已完成",
	"FAILED":    "失败",
	"REJECTED":  "已拒绝",
	"SUSPENDED": "等待你的回应",
	"WAITING":   "等待你的回应",
	"CANCELLED": "已取消",
	"SUCCESS":   "已完成",
	"tool_call": "工具调用",

	"ecs_request": "向你提问",
}

// forbiddenTokens are engineering labels that must never leak into translated
// output keys.
var forbiddenTokens = []string{
	"execution_id", "idempotency", "transition", "snapshot",
	"contract", "terminal", "actor", "trigger",
}

// TranslateConsequence renders a consequence view as a human-labeled map.
func TranslateConsequence(view ConsequenceView) map[string]string {
	out := map[string]string{
		"动作": displayLabel(view.ActionType) + "：" + view.ActionSummary,
		"状态": displayLabel(view.ConsequenceLabel),
	}
	if view.Result != "" {
		out["结果"] = view.Result
	}
	if view.ErrorMessage != "" {
		out["出错原因"] = view.ErrorMessage
	}
	if view.HasSideEffects {
		out["已产生影响"] = "是"
	}
	if view.WasSuspended {
		out["曾等待确认"] = "是"
	}
	out["耗时"] = (time.Duration(view.TotalDurationMs) * time.Millisecond).String()
	return scrub(out)
}

// TranslateSnapshot renders a snapshot as a human-labeled map.
func TranslateSnapshot(snap Snapshot) map[string]string {
	out := map[string]string{
		"动作":   displayLabel(snap.ActionType) + "：" + snap.ActionSummary,
		"当前状态": displayLabel(snap.CurrentStatus),
	}
	if snap.IsResumable {
		out["可继续"] = "是"
	}
	if snap.ErrorMessage != "" {
		out["出错原因"] = snap.ErrorMessage
	}
	return scrub(out)
}

func displayLabel(engineering string) string {
	if label, ok := displayLabels[engineering]; ok {
		return label
	}
	return engineering
}

// scrub drops any entry whose key contains a forbidden engineering token.
func scrub(m map[string]string) map[string]string {
	for key := range m {
		lower := strings.ToLower(key)
		for _, token := range forbiddenTokens {
			if strings.Contains(lower, token) {
				delete(m, key)
				break
			}
		}
	}
	return m
}

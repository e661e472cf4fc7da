package form

import (
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"time"

	kokoroErrors "github.com/harunnryd/kokoro/internal/errors"
	"github.com/harunnryd/kokoro/internal/memory"
	"github.com/harunnryd/kokoro/internal/store"
)

// Submission is one user response to a pending request.
type Submission struct {
	RequestID string         `json:"request_id"`
	SessionID string         `json:"session_id"`
	Action    string         `json:"action"`
	Data      map[string]any `json:"data,omitempty"`
}

// Outcome tells the graph how to continue after a submission was absorbed.
type Outcome struct {
	// Continuation is the context the next reasoning call restarts with.
	Continuation string `json:"continuation"`
	// Complexity labels how detailed the follow-up response should be.
	Complexity string `json:"complexity,omitempty"`
	// FieldError names a validation problem surfaced back to the user.
	FieldError string `json:"field_error,omitempty"`
}

// Handler absorbs form submissions: validates, writes memories, persists the
// submission into working memory, and builds the continuation context.
type Handler struct {
	pending  *PendingTable
	longterm *memory.LongTermManager
	plans    *memory.PlanManager
	working  *memory.WorkingManager
}

func NewHandler(pending *PendingTable, longterm *memory.LongTermManager, plans *memory.PlanManager, working *memory.WorkingManager) *Handler {
	return &Handler{pending: pending, longterm: longterm, plans: plans, working: working}
}

// Handle processes one submission against its pending request.
func (h *Handler) Handle(sub Submission) (*Outcome, error) {
	req, sessionID, ok := h.pending.Get(sub.RequestID)
	if !ok {
		return nil, kokoroErrors.ErrExpired
	}
	if sessionID != sub.SessionID {
		return nil, kokoroErrors.ErrSessionMismatch
	}

	if req.Type == TypeVisualDisplay {
		return h.handleDismiss(req, sub)
	}

	switch sub.Action {
	case "reject":
		h.pending.Remove(req.ID)
		return &Outcome{Continuation: fmt.Sprintf("The user skipped the %q form. Continue the conversation without that information.", req.Title)}, nil

	case "approve", "edit":
		return h.handleApprove(req, sub)

	default:
		return nil, kokoroErrors.InvalidInput(fmt.Sprintf("action %q not allowed for this request", sub.Action))
	}
}

func (h *Handler) handleDismiss(req *Request, sub Submission) (*Outcome, error) {
	if sub.Action != "dismiss" {
		return nil, kokoroErrors.InvalidInput("visual displays only support dismiss")
	}
	if err := h.persistSubmission(sub.SessionID, req, map[string]any{"dismissed": true}); err != nil {
		slog.Warn("Could not persist dismissed display", "error", err)
	}
	h.pending.Remove(req.ID)
	return &Outcome{Continuation: fmt.Sprintf("The user dismissed the %q display.", req.Title)}, nil
}

func (h *Handler) handleApprove(req *Request, sub Submission) (*Outcome, error) {
	for _, field := range req.Fields {
		if !field.Required {
			continue
		}
		if isEmptyValue(sub.Data[field.Name]) {
			return &Outcome{
				Continuation: fmt.Sprintf("The %q form is missing the required field %q. Ask the user for it.", req.Title, field.Label),
				FieldError:   fmt.Sprintf("missing required field: %s", field.Name),
			}, nil
		}
	}

	switch {
	case req.Type == TypeImageMemoryConfirm || req.Type == TypeImagePlanConfirm:
		if err := h.writeImageConfirm(req, sub); err != nil {
			return nil, err
		}
	case req.Context != nil && req.Context.Intent == "collect_plan":
		if err := h.writePlan(sub); err != nil {
			return nil, err
		}
	case req.Context != nil && req.Context.Intent == "collect_preference":
		h.writePreferences(req, sub)
	}

	if err := h.persistSubmission(sub.SessionID, req, sub.Data); err != nil {
		slog.Warn("Could not persist form submission", "error", err)
	}
	h.pending.Remove(req.ID)

	return &Outcome{
		Continuation: buildContinuation(req, sub),
		Complexity:   complexityLabel(req, sub),
	}, nil
}

// writePreferences stores each non-empty field as a long-term entry.
func (h *Handler) writePreferences(req *Request, sub Submission) {
	category := store.CategoryPreference
	if req.Context != nil && req.Context.MemoryCategory != "" {
		category = store.MemoryCategory(req.Context.MemoryCategory)
	}

	for _, field := range req.Fields {
		value := submittedLabel(&field, sub.Data[field.Name])
		if value == "" {
			continue
		}
		_, err := h.longterm.Create(memory.CreateParams{
			SessionID:  sub.SessionID,
			Category:   category,
			Key:        field.Label,
			Value:      value,
			Confidence: 0.9,
			Source:     store.SourceECSForm,
		})
		if err != nil {
			slog.Warn("Could not store form preference", "field", field.Name, "error", err)
		}
	}
}

// writePlan builds a plan entry from the conventional plan fields.
func (h *Handler) writePlan(sub Submission) error {
	title := stringValue(sub.Data["title"])
	if title == "" {
		return kokoroErrors.InvalidInput("plan form requires a title")
	}
	target, err := parseDatetime(stringValue(sub.Data["target_datetime"]))
	if err != nil {
		return kokoroErrors.InvalidInput("plan form requires a valid target_datetime")
	}

	_, err = h.plans.Create(memory.PlanParams{
		SessionID:        sub.SessionID,
		Title:            title,
		Description:      stringValue(sub.Data["description"]),
		TargetTime:       target,
		ReminderOffsetMn: intValue(sub.Data["reminder_offset"]),
		RepeatType:       store.RepeatType(stringValue(sub.Data["repeat_type"])),
	})
	return err
}

// writeImageConfirm handles the image-derived confirmations. A category
// changed between plan and non-plan in flight switches to the sibling policy.
func (h *Handler) writeImageConfirm(req *Request, sub Submission) error {
	category := stringValue(sub.Data["category"])
	wantPlan := category == string(store.CategoryPlan)

	if wantPlan {
		title := stringValue(sub.Data["key"])
		if title == "" {
			title = stringValue(sub.Data["value"])
		}
		target := time.Now().UTC().Add(24 * time.Hour)
		if raw := stringValue(sub.Data["target_time"]); raw != "" {
			parsed, err := parseDatetime(raw)
			if err != nil {
				return kokoroErrors.InvalidInput("invalid target_time")
			}
			target = parsed
		}
		_, err := h.plans.Create(memory.PlanParams{
			SessionID:   sub.SessionID,
			Title:       title,
			Description: describeImageContext(sub),
			TargetTime:  target,
		})
		return err
	}

	cat := store.MemoryCategory(category)
	if cat == "" {
		cat = store.CategoryFact
	}
	_, err := h.longterm.Create(memory.CreateParams{
		SessionID:  sub.SessionID,
		Category:   cat,
		Key:        stringValue(sub.Data["key"]),
		Value:      stringValue(sub.Data["value"]),
		Confidence: 0.9,
		Source:     store.SourceECSForm,
	})
	return err
}

func describeImageContext(sub Submission) string {
	var parts []string
	if loc := stringValue(sub.Data["location"]); loc != "" {
		parts = append(parts, "location: "+loc)
	}
	if who := stringValue(sub.Data["participants"]); who != "" {
		parts = append(parts, "participants: "+who)
	}
	if v := stringValue(sub.Data["value"]); v != "" {
		parts = append(parts, v)
	}
	return strings.Join(parts, "; ")
}

// persistSubmission stores the human-labeled answers plus the field schema
// into working memory under a key derived from the title, for replay.
func (h *Handler) persistSubmission(sessionID string, req *Request, data map[string]any) error {
	labeled := make(map[string]any, len(data))
	for _, field := range req.Fields {
		if v, ok := data[field.Name]; ok && !isEmptyValue(v) {
			labeled[field.Label] = submittedLabel(&field, v)
		}
	}
	return h.working.SetContextVariable(sessionID, "form_"+req.Title, map[string]any{
		"data":         labeled,
		"raw":          data,
		"fields":       req.Fields,
		"submitted_at": time.Now().UTC(),
	})
}

func buildContinuation(req *Request, sub Submission) string {
	var b strings.Builder
	fmt.Fprintf(&b, "The user approved the %q form with these fields:\n", req.Title)

	names := make([]string, 0, len(req.Fields))
	for _, field := range req.Fields {
		if v, ok := sub.Data[field.Name]; ok && !isEmptyValue(v) {
			names = append(names, fmt.Sprintf("- %s: %s", field.Label, submittedLabel(&field, v)))
		}
	}
	sort.Strings(names)
	for _, line := range names {
		b.WriteString(line)
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "Response detail level: %s. Acknowledge the information and continue naturally.", complexityLabel(req, sub))
	return b.String()
}

// complexityLabel grades the submission: many fields or long content calls
// for a detailed response, tiny ones for a brief acknowledgement.
func complexityLabel(req *Request, sub Submission) string {
	filled := 0
	contentLen := 0
	for _, field := range req.Fields {
		if v, ok := sub.Data[field.Name]; ok && !isEmptyValue(v) {
			filled++
			contentLen += len(submittedLabel(&field, v))
		}
	}
	switch {
	case filled >= 5 || contentLen > 400:
		return "high"
	case filled >= 2 || contentLen > 80:
		return "medium"
	default:
		return "low"
	}
}

// submittedLabel renders a submitted value as its human label: options are
// resolved, lists joined, scalars stringified.
func submittedLabel(field *Field, value any) string {
	switch v := value.(type) {
	case nil:
		return ""
	case string:
		return field.OptionLabel(v)
	case []any:
		var labels []string
		for _, item := range v {
			if s := submittedLabel(field, item); s != "" {
				labels = append(labels, s)
			}
		}
		return strings.Join(labels, ", ")
	case []string:
		var labels []string
		for _, item := range v {
			labels = append(labels, field.OptionLabel(item))
		}
		return strings.Join(labels, ", ")
	default:
		return stringValue(value)
	}
}

func stringValue(v any) string {
	switch val := v.(type) {
	case nil:
		return ""
	case string:
		return val
	case bool:
		return strconv.FormatBool(val)
	case float64:
		if val == float64(int64(val)) {
			return strconv.FormatInt(int64(val), 10)
		}
		return strconv.FormatFloat(val, 'g', -1, 64)
	case int:
		return strconv.Itoa(val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

func intValue(v any) int {
	switch val := v.(type) {
	case float64:
		return int(val)
	case int:
		return val
	case string:
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return 0
}

func isEmptyValue(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(val) == ""
	case []any:
		return len(val) == 0
	case []string:
		return len(val) == 0
	}
	return false
}

var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04",
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"2006-01-02",
}

func parseDatetime(raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, fmt.Errorf("empty datetime")
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized datetime %q", raw)
}

package form

import (
	"time"

	"github.com/oklog/ulid/v2"
)

// RequestType distinguishes interactive forms from dismissible displays.
type RequestType string

const (
	TypeForm               RequestType = "form"
	TypeVisualDisplay      RequestType = "visual_display"
	TypeImageMemoryConfirm RequestType = "image_memory_confirm"
	TypeImagePlanConfirm   RequestType = "image_plan_confirm"
)

// FieldType is the closed set of renderable field kinds.
type FieldType string

const (
	FieldText        FieldType = "text"
	FieldTextarea    FieldType = "textarea"
	FieldSelect      FieldType = "select"
	FieldMultiselect FieldType = "multiselect"
	FieldRadio       FieldType = "radio"
	FieldCheckbox    FieldType = "checkbox"
	FieldNumber      FieldType = "number"
	FieldSlider      FieldType = "slider"
	FieldDate        FieldType = "date"
	FieldDatetime    FieldType = "datetime"
	FieldBoolean     FieldType = "boolean"
)

// Option is one choice of a select-like field.
type Option struct {
	Value string `json:"value"`
	Label string `json:"label"`
}

// Field is one entry of a form's ordered field list.
type Field struct {
	Name     string    `json:"name"`
	Type     FieldType `json:"type"`
	Label    string    `json:"label"`
	Required bool      `json:"required"`
	Default  any       `json:"default,omitempty"`
	Options  []Option  `json:"options,omitempty"`
	Min      *float64  `json:"min,omitempty"`
	Max      *float64  `json:"max,omitempty"`
	Step     *float64  `json:"step,omitempty"`
}

// Context carries the intent that raised the form and the target memory
// category for its answers.
type Context struct {
	Intent         string `json:"intent,omitempty"`
	MemoryCategory string `json:"memory_category,omitempty"`
}

// Request is one external step posed to the user. In-memory only, bounded
// by its TTL.
type Request struct {
	ID          string      `json:"id"`
	Type        RequestType `json:"type"`
	Title       string      `json:"title"`
	Description string      `json:"description,omitempty"`
	Fields      []Field     `json:"fields,omitempty"`
	Actions     []string    `json:"actions,omitempty"`
	Context     *Context    `json:"context,omitempty"`
	TTLSeconds  int         `json:"ttl_seconds"`
	CreatedAt   time.Time   `json:"created_at"`
}

// NewRequest fills in id, creation time, and default actions.
func NewRequest(reqType RequestType, title string, fields []Field, ttl time.Duration) *Request {
	actions := []string{"approve", "edit", "reject"}
	if reqType == TypeVisualDisplay {
		actions = []string{"dismiss"}
	}
	return &Request{
		ID:         ulid.Make().String(),
		Type:       reqType,
		Title:      title,
		Fields:     fields,
		Actions:    actions,
		TTLSeconds: int(ttl.Seconds()),
		CreatedAt:  time.Now().UTC(),
	}
}

// FieldByName returns the field definition, or nil.
func (r *Request) FieldByName(name string) *Field {
	for i := range r.Fields {
		if r.Fields[i].Name == name {
			return &r.Fields[i]
		}
	}
	return nil
}

// OptionLabel resolves a submitted value to its human label when the field
// has options; otherwise the raw value comes back unchanged.
func (f *Field) OptionLabel(value string) string {
	for _, opt := range f.Options {
		if opt.Value == value {
			return opt.Label
		}
	}
	return value
}

package configflow

import (
	"errors"
	"time"

	"github.com/berfenger/cozylife2mqtt/internal/core/domain"
)

type ResultType string

const (
	RESULT_TYPE_FORM         ResultType = "form"
	RESULT_TYPE_CREATE_ENTRY ResultType = "create_entry"
	RESULT_TYPE_ABORT        ResultType = "abort"
)

const (
	SOURCE_USER   = "user"
	SOURCE_IMPORT = "import"

	STEP_START       = "start"
	STEP_MANUAL      = "manual"
	STEP_IMPORT_LINK = "import_link"

	MODE_MANUAL    = "manual"
	MODE_FROM_FILE = "from_file"
	MODE_FROM_LINK = "from_link"
)

// form errors
const (
	ERROR_BASE                = "base"
	ERROR_CANNOT_CONNECT      = "cannot_connect"
	ERROR_LINK_ERROR          = "link_error"
	ERROR_REQUIRED            = "required"
	ERROR_INVALID_MODE        = "invalid_mode"
	ERROR_INVALID_DEVICE_TYPE = "invalid_device_type"
)

// abort reasons
const (
	ABORT_ALREADY_CONFIGURED    = "already_configured"
	ABORT_CANNOT_CONNECT        = "cannot_connect"
	ABORT_FILE_NOT_FOUND        = "file_not_found"
	ABORT_FILE_IMPORT_FAILED    = "file_import_failed"
	ABORT_EMPTY_OR_INVALID_FILE = "empty_or_invalid_file"
	ABORT_NO_NEW_DEVICES        = "no_new_devices"
	ABORT_IMPORT_SUCCESS        = "import_success"
	ABORT_UNKNOWN               = "unknown"
)

var (
	ErrFlowNotFound  = errors.New("configflow: flow not found")
	ErrUnknownSource = errors.New("configflow: unknown source")
)

// FieldSchema describes one form field.
type FieldSchema struct {
	Name     string   `json:"name"`
	Type     string   `json:"type"`
	Required bool     `json:"required"`
	Default  any      `json:"default,omitempty"`
	Options  []string `json:"options,omitempty"`
}

// FlowResult is what a step hands back to the caller: a form to fill in, a created entry or an
// abort reason.
type FlowResult struct {
	FlowId    string               `json:"flow_id"`
	Source    string               `json:"source"`
	Type      ResultType           `json:"type"`
	StepId    string               `json:"step_id,omitempty"`
	Schema    []FieldSchema        `json:"data_schema,omitempty"`
	Errors    map[string]string    `json:"errors,omitempty"`
	Reason    string               `json:"reason,omitempty"`
	Title     string               `json:"title,omitempty"`
	Data      *domain.DeviceRecord `json:"data,omitempty"`
	Scheduled int                  `json:"scheduled,omitempty"`
}

func (r FlowResult) Terminal() bool {
	return r.Type != RESULT_TYPE_FORM
}

type flow struct {
	id      string
	source  string
	step    string
	touched time.Time
}

func (f *flow) form(step string, schema []FieldSchema, errs map[string]string) FlowResult {
	f.step = step
	return FlowResult{
		FlowId: f.id,
		Source: f.source,
		Type:   RESULT_TYPE_FORM,
		StepId: step,
		Schema: schema,
		Errors: errs,
	}
}

func (f *flow) abort(reason string) FlowResult {
	return FlowResult{
		FlowId: f.id,
		Source: f.source,
		Type:   RESULT_TYPE_ABORT,
		Reason: reason,
	}
}

func (f *flow) createEntry(record domain.DeviceRecord) FlowResult {
	return FlowResult{
		FlowId: f.id,
		Source: f.source,
		Type:   RESULT_TYPE_CREATE_ENTRY,
		Title:  record.Title(),
		Data:   &record,
	}
}

func startSchema() []FieldSchema {
	return []FieldSchema{{
		Name:     domain.CONF_MODE,
		Type:     "select",
		Required: true,
		Default:  MODE_MANUAL,
		Options:  []string{MODE_MANUAL, MODE_FROM_FILE, MODE_FROM_LINK},
	}}
}

func manualSchema() []FieldSchema {
	return []FieldSchema{
		{Name: domain.CONF_IP_ADDRESS, Type: "string", Required: true},
		{Name: domain.CONF_TYPE, Type: "select", Required: true, Default: string(domain.DEVICE_TYPE_SWITCH), Options: []string{string(domain.DEVICE_TYPE_SWITCH)}},
		{Name: domain.CONF_NAME, Type: "string"},
	}
}

func linkSchema(defaultLink string) []FieldSchema {
	return []FieldSchema{{Name: domain.CONF_LINK, Type: "string", Required: true, Default: defaultLink}}
}

func baseError(code string) map[string]string {
	return map[string]string{ERROR_BASE: code}
}

package models

import "strings"

// ResultField names which job record column carries the worker's result.
type ResultField string

const (
	ResultURL      ResultField = "result_url"
	ResultItems    ResultField = "result_items"
	ResultDocument ResultField = "result"
)

// Policy describes how one job kind is stored, dispatched and reconciled.
type Policy struct {
	Kind         JobKind
	Table        string
	WorkflowName string
	// IDKey is the webhook payload key carrying the job record id.
	IDKey                string
	SuccessStatuses      []string
	FailureStatuses      []string
	DispatchFailedStatus string
	ConfigFailedStatus   string
	Result               ResultField
	MaxPolls             int
}

// DefaultMaxPolls bounds watching at roughly three minutes with a 3s interval.
const DefaultMaxPolls = 60

var policies = map[JobKind]Policy{
	KindGeneration: {
		Kind:                 KindGeneration,
		Table:                "job_records_generation",
		WorkflowName:         "image_generation",
		IDKey:                "image_id",
		SuccessStatuses:      []string{"generated"},
		FailureStatuses:      []string{"failed", "failed_config", "error"},
		DispatchFailedStatus: "failed",
		ConfigFailedStatus:   "failed_config",
		Result:               ResultURL,
		MaxPolls:             DefaultMaxPolls,
	},
	KindSegmentation: {
		Kind:                 KindSegmentation,
		Table:                "job_records_segmentation",
		WorkflowName:         "image_segmentation",
		IDKey:                "segmentation_id",
		SuccessStatuses:      []string{"completed"},
		FailureStatuses:      []string{"failed", "failed_config", "error"},
		DispatchFailedStatus: "failed",
		ConfigFailedStatus:   "failed_config",
		Result:               ResultItems,
		MaxPolls:             DefaultMaxPolls,
	},
	KindQualityCheck: {
		Kind:                 KindQualityCheck,
		Table:                "job_records_quality_check",
		WorkflowName:         "quality_check",
		IDKey:                "check_id",
		SuccessStatuses:      []string{"completed"},
		FailureStatuses:      []string{"failed", "failed_config", "error"},
		DispatchFailedStatus: "failed",
		ConfigFailedStatus:   "failed_config",
		Result:               ResultDocument,
		MaxPolls:             DefaultMaxPolls,
	},
	KindCanvasLayer: {
		Kind:                 KindCanvasLayer,
		Table:                "job_records_canvas_layer",
		WorkflowName:         "canvas_layer",
		IDKey:                "layer_id",
		SuccessStatuses:      []string{"completed", "generated"},
		FailureStatuses:      []string{"failed", "failed_config", "error"},
		DispatchFailedStatus: "failed",
		ConfigFailedStatus:   "failed_config",
		Result:               ResultURL,
		MaxPolls:             DefaultMaxPolls,
	},
}

// PolicyFor returns the policy registered for kind.
func PolicyFor(kind JobKind) (Policy, bool) {
	p, ok := policies[kind]
	return p, ok
}

// Kinds lists every supported job kind in a stable order.
func Kinds() []JobKind {
	return []JobKind{KindGeneration, KindSegmentation, KindQualityCheck, KindCanvasLayer}
}

// KindForTable reverses Policy.Table.
func KindForTable(table string) (JobKind, bool) {
	for k, p := range policies {
		if p.Table == table {
			return k, true
		}
	}
	return "", false
}

// NormalizeStatus maps a job record status onto an Outcome. Comparison is
// case-insensitive ("Generated" and "generated" are the same marker).
// Unrecognized values are treated as still pending.
func (p Policy) NormalizeStatus(status string) Outcome {
	s := strings.ToLower(strings.TrimSpace(status))
	for _, v := range p.SuccessStatuses {
		if s == v {
			return OutcomeSucceeded
		}
	}
	for _, v := range p.FailureStatuses {
		if s == v {
			return OutcomeFailed
		}
	}
	switch s {
	case "processing", "running", "in_progress":
		return OutcomeRunning
	default:
		return OutcomePending
	}
}

// ResultReady reports whether the record's result field has been populated.
func (p Policy) ResultReady(job JobRecord) bool {
	switch p.Result {
	case ResultURL:
		return job.ResultURL != nil && strings.TrimSpace(*job.ResultURL) != ""
	case ResultItems:
		return len(job.ResultItems) > 0
	case ResultDocument:
		return len(job.Result) > 0
	default:
		return false
	}
}

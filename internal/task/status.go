package task

import (
	"fmt"
	"strings"
)

// Kind identifies one family of asynchronous work submitted to the AI service.
type Kind string

const (
	KindAsking             Kind = "asking"
	KindBreakdown          Kind = "breakdown"
	KindAnswer             Kind = "answer"
	KindChart              Kind = "chart"
	KindChartAdjustment    Kind = "chart_adjustment"
	KindRecommendation     Kind = "recommendation"
	KindFeedbackAdjustment Kind = "feedback_adjustment"
	KindSQLQuestions       Kind = "sql_questions"
	KindDeploy             Kind = "deploy"
)

// Status is the normalized (upper-case) state of a remote task. The set of
// valid values depends on the Kind; use Parse to go from a wire string to a
// validated Status for a given kind.
type Status string

const (
	StatusUnderstanding Status = "UNDERSTANDING"
	StatusSearching     Status = "SEARCHING"
	StatusPlanning      Status = "PLANNING"
	StatusGenerating    Status = "GENERATING"
	StatusCorrecting    Status = "CORRECTING"
	StatusPreprocessing Status = "PREPROCESSING"
	StatusStreaming     Status = "STREAMING"
	StatusFetching      Status = "FETCHING"
	StatusIndexing      Status = "INDEXING"
	StatusFinished      Status = "FINISHED"
	StatusFailed        Status = "FAILED"
	StatusStopped       Status = "STOPPED"
	StatusInterrupted   Status = "INTERRUPTED"
)

var statusesByKind = map[Kind][]Status{
	KindAsking: {
		StatusUnderstanding, StatusSearching, StatusPlanning, StatusGenerating,
		StatusCorrecting, StatusFinished, StatusFailed, StatusStopped,
	},
	KindBreakdown: {
		StatusUnderstanding, StatusSearching, StatusGenerating,
		StatusFinished, StatusFailed, StatusStopped,
	},
	KindAnswer: {
		StatusPreprocessing, StatusStreaming,
		StatusFinished, StatusFailed, StatusInterrupted,
	},
	KindChart: {
		StatusFetching, StatusGenerating,
		StatusFinished, StatusFailed, StatusStopped,
	},
	KindChartAdjustment: {
		StatusFetching, StatusGenerating,
		StatusFinished, StatusFailed, StatusStopped,
	},
	KindRecommendation: {
		StatusGenerating, StatusFinished, StatusFailed,
	},
	KindFeedbackAdjustment: {
		StatusUnderstanding, StatusSearching, StatusGenerating,
		StatusFinished, StatusFailed, StatusStopped,
	},
	KindSQLQuestions: {
		StatusGenerating, StatusFinished, StatusFailed,
	},
	KindDeploy: {
		StatusIndexing, StatusFinished, StatusFailed,
	},
}

// Terminal reports whether the status ends the task's lifecycle. Terminal
// tasks must be removed from their tracker's active set.
func (s Status) Terminal() bool {
	switch s {
	case StatusFinished, StatusFailed, StatusStopped, StatusInterrupted:
		return true
	default:
		return false
	}
}

// Parse normalizes a lower-case wire status into the typed enumeration for
// the given kind. An unrecognized status is an error, never swallowed: the
// poll cycle that hit it fails and the entity stays tracked.
func Parse(kind Kind, raw string) (Status, error) {
	normalized := Status(strings.ToUpper(strings.TrimSpace(raw)))
	valid, ok := statusesByKind[kind]
	if !ok {
		return "", fmt.Errorf("unknown task kind %q", kind)
	}
	for _, s := range valid {
		if s == normalized {
			return s, nil
		}
	}
	return "", fmt.Errorf("unknown %s status %q", kind, raw)
}

// Wire returns the lower-case representation used by the AI service.
func (s Status) Wire() string {
	return strings.ToLower(string(s))
}

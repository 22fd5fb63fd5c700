// Package model defines the Monitor, Trigger and Alert data model
// described in spec §3. Monitor and Trigger are mutable configuration;
// Alert is immutable once written. The three form a tree — alerts hold
// only ids, never back-pointers — and that shape is intentional: it is
// what lets the sweeper reconcile alerts against monitors without
// chasing cycles.
package model

import (
	"strconv"
	"time"
)

// EpochMillis marshals as a bare JSON number of milliseconds since the
// Unix epoch (spec §6's wire format for triggered_time/expiration_time),
// rather than time.Time's default RFC3339 string.
type EpochMillis time.Time

// NewEpochMillis wraps a time.Time for storage on an Alert.
func NewEpochMillis(t time.Time) EpochMillis {
	return EpochMillis(t)
}

// Time unwraps back to a time.Time for comparisons and arithmetic.
func (e EpochMillis) Time() time.Time {
	return time.Time(e)
}

func (e EpochMillis) MarshalJSON() ([]byte, error) {
	return []byte(strconv.FormatInt(time.Time(e).UnixMilli(), 10)), nil
}

func (e *EpochMillis) UnmarshalJSON(data []byte) error {
	ms, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return err
	}
	*e = EpochMillis(time.UnixMilli(ms).UTC())
	return nil
}

// Severity is shared by Trigger (declared severity) and Alert (the
// severity an alert was raised with).
type Severity string

const (
	SeverityInfo     Severity = "INFO"
	SeverityWarn     Severity = "WARN"
	SeverityError    Severity = "ERROR"
	SeverityCritical Severity = "CRITICAL"
)

// Mode controls how a fired trigger's query response is sliced into
// alert payloads.
type Mode string

const (
	ModeResultSet Mode = "RESULT_SET"
	ModePerResult Mode = "PER_RESULT"
)

// ConditionType selects which of Trigger's two condition shapes applies.
type ConditionType string

const (
	ConditionNumberOfResults ConditionType = "NUMBER_OF_RESULTS"
	ConditionCustom          ConditionType = "CUSTOM"
)

// Comparator is the operator a NUMBER_OF_RESULTS condition applies to
// response.Total.
type Comparator string

const (
	OpGreater        Comparator = ">"
	OpGreaterOrEqual Comparator = ">="
	OpLess           Comparator = "<"
	OpLessOrEqual    Comparator = "<="
	OpEqual          Comparator = "="
	OpNotEqual       Comparator = "!="
)

// Principal is the owner identity stashed on a monitor at create/update
// time and later pushed as the scoped caller identity for every
// privileged external call the runner makes on the monitor's behalf.
type Principal struct {
	Name         string   `json:"name"`
	BackendRoles []string `json:"backend_roles,omitempty"`
	Roles        []string `json:"roles,omitempty"`
}

// Schedule is a monitor's recurrence: every Interval Unit (e.g. every 5
// MINUTES).
type Schedule struct {
	Interval int    `json:"interval" validate:"required,gt=0"`
	Unit     string `json:"unit" validate:"required,oneof=SECONDS MINUTES HOURS DAYS"`
}

// NumberOfResultsCondition is the NUMBER_OF_RESULTS condition shape.
type NumberOfResultsCondition struct {
	Op    Comparator `json:"op" validate:"required,oneof=> >= < <= = !="`
	Value int        `json:"value" validate:"gte=0"`
}

// CustomCondition is the CUSTOM condition shape: a PQL fragment that
// must produce an `eval <name> = <bool-expr>` column (§4.2).
type CustomCondition struct {
	Fragment string `json:"fragment" validate:"required"`
}

// Action is one notification destination attached to a trigger.
type Action struct {
	ID              string `json:"id"`
	DestinationID   string `json:"destination_id" validate:"required"`
	SubjectTemplate string `json:"subject_template"`
	MessageTemplate string `json:"message_template" validate:"required"`
}

// Trigger is one condition/action pair owned by a Monitor (spec §3).
type Trigger struct {
	ID              string                    `json:"id"`
	Name            string                    `json:"name" validate:"required"`
	Severity        Severity                  `json:"severity" validate:"required,oneof=INFO WARN ERROR CRITICAL"`
	Mode            Mode                      `json:"mode" validate:"required,oneof=RESULT_SET PER_RESULT"`
	ConditionType   ConditionType             `json:"condition_type" validate:"required,oneof=NUMBER_OF_RESULTS CUSTOM"`
	NumberOfResults *NumberOfResultsCondition `json:"number_of_results,omitempty"`
	Custom          *CustomCondition          `json:"custom,omitempty"`

	// ThrottleDuration is in minutes; nil means no throttling.
	ThrottleDuration *int `json:"throttle_duration,omitempty" validate:"omitempty,gte=1"`
	// ExpireDuration is in minutes and is required (spec invariant 3).
	ExpireDuration int `json:"expire_duration" validate:"required,gte=1"`

	Actions []Action `json:"actions,omitempty" validate:"dive"`

	// LastFiredTime is the only field the Monitor Runner is allowed to
	// mutate internally (spec §3 mutation policy).
	LastFiredTime *time.Time `json:"last_fired_time,omitempty"`
}

// Monitor is the top-level scheduled entity (spec §3).
type Monitor struct {
	ID      string `json:"id"`
	Version int64  `json:"version"`
	Name    string `json:"name" validate:"required"`

	Enabled     bool       `json:"enabled"`
	EnabledTime *time.Time `json:"enabled_time,omitempty"`

	Owner Principal `json:"owner"`

	Schedule Schedule `json:"schedule" validate:"required"`

	// LookBackWindow is whole minutes, nullable; when set TimestampField
	// must be non-empty (enforced in Validate, not via struct tags,
	// since it is a cross-field invariant).
	LookBackWindow *int   `json:"look_back_window,omitempty" validate:"omitempty,gte=1"`
	TimestampField string `json:"timestamp_field,omitempty"`

	QueryLanguage string `json:"query_language" validate:"required"`
	Query         string `json:"query" validate:"required"`

	Triggers []Trigger `json:"triggers" validate:"required,min=1,max=10,dive"`
}

// Alert is immutable once written (spec §3).
type Alert struct {
	ID string `json:"id,omitempty"`

	MonitorID      string    `json:"monitor_id"`
	MonitorName    string    `json:"monitor_name"`
	MonitorVersion int64     `json:"monitor_version"`
	User           Principal `json:"user"`

	TriggerID   string `json:"trigger_id"`
	TriggerName string `json:"trigger_name"`

	// Query is the original, unrewritten query string — not the
	// time-filtered/capped version actually executed.
	Query string `json:"query"`

	// QueryResults is a size-capped copy of the results that justified
	// the alert. It is declared as interface{} because package trigger,
	// whose ResultSlice alertbuild stores here, imports model; error
	// alerts leave it nil.
	QueryResults interface{} `json:"query_results"`

	TriggeredTime  EpochMillis `json:"triggered_time"`
	ExpirationTime EpochMillis `json:"expiration_time"`

	Severity     Severity `json:"severity"`
	ErrorMessage *string  `json:"error_message,omitempty"`

	ExecutionID string `json:"execution_id"`
}

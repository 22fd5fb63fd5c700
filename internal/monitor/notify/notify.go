// Package notify defines the notification external collaborators (spec
// §6): the Notifier transport and the template engine used to render a
// trigger action's subject/message before dispatch. Both are narrow
// interfaces — the transport and the full template language are out of
// scope (spec §1) — grounded on the teacher's notifier package shape
// (Notifier.Send, NotificationResult) without carrying over its
// concrete email/webhook/wechat/dingtalk channel implementations.
package notify

import (
	"context"
	"strconv"

	"alertengine/internal/monitor/model"
	"alertengine/internal/monitor/trigger"

	"github.com/valyala/fasttemplate"
)

// Principal is model.Principal, the monitor owner identity handed to a
// Notifier; notify uses it instead of query.Principal so it stays free of
// a dependency on the query package.
type Principal = model.Principal

// Notifier accepts a rendered action and reports success/failure,
// at-least-once (spec §6).
type Notifier interface {
	Send(ctx context.Context, actionID, subject, body, destinationID string, principal Principal) error
}

// TriggerExecutionContext is rendered against an action's templates.
type TriggerExecutionContext struct {
	Monitor *model.Monitor
	Trigger *model.Trigger
	Error   error
	Slice   *trigger.ResultSlice
}

func (c TriggerExecutionContext) fields() map[string]interface{} {
	f := map[string]interface{}{
		"monitor.name": c.Monitor.Name,
		"monitor.id":   c.Monitor.ID,
		"trigger.name": c.Trigger.Name,
		"trigger.id":   c.Trigger.ID,
		"severity":     string(c.Trigger.Severity),
	}
	if c.Error != nil {
		f["error"] = c.Error.Error()
	} else {
		f["error"] = ""
	}
	if c.Slice != nil {
		f["result.total"] = c.Slice.Total
	}
	return f
}

// TemplateEngine renders an action's subject/message templates against
// a TriggerExecutionContext. This is the narrow slice of "template
// expansion" the runner needs — not a general template language (spec
// §1 carve-out).
type TemplateEngine interface {
	Render(template string, ctx TriggerExecutionContext) (string, error)
}

// FastTemplateEngine implements TemplateEngine with simple `{{var}}`
// substitution via fasttemplate, the pack's lightweight templating
// dependency (sourced from mcpany-core/server's go.mod, since the
// teacher itself has no equivalent).
type FastTemplateEngine struct{}

func NewFastTemplateEngine() FastTemplateEngine { return FastTemplateEngine{} }

func (FastTemplateEngine) Render(tpl string, ctx TriggerExecutionContext) (string, error) {
	t, err := fasttemplate.NewTemplate(tpl, "{{", "}}")
	if err != nil {
		return "", err
	}
	fields := make(map[string]interface{})
	for k, v := range ctx.fields() {
		switch x := v.(type) {
		case int:
			fields[k] = strconv.Itoa(x)
		default:
			fields[k] = v
		}
	}
	return t.ExecuteString(fields), nil
}

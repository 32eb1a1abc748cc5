package trigger

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/mhorvath/guest-notify/internal/model"
	"github.com/mhorvath/guest-notify/internal/observability"
)

// RecipientKind says who a template is addressed to.
type RecipientKind string

const (
	// RecipientGuest sends to the invitation's stored number.
	RecipientGuest RecipientKind = "guest"
	// RecipientCouple sends to the identity's own linked number.
	RecipientCouple RecipientKind = "couple"
)

// Template is one configured message reacting to an invitation status.
// Template CRUD lives outside this service; the engine only consumes them.
type Template struct {
	ID        string         `json:"id"`
	OnStatus  string         `json:"on_status"`
	Identity  model.Identity `json:"identity"`
	Recipient RecipientKind  `json:"recipient"`
	Body      string         `json:"body"`
	Active    bool           `json:"active"`
}

// TemplateSource yields the active templates for an invitation status.
type TemplateSource interface {
	ActiveForStatus(ctx context.Context, status string) ([]Template, error)
}

// Invitation is the slice of the external invitation record the engine needs.
type Invitation struct {
	ID        string
	GuestName string
	Code      string
	Phone     string
	Link      string
	GuestList string
}

// StatusChanged is the explicit event published when an invitation moves to a
// new status. It replaces implicit persistence hooks so re-triggering is
// impossible unless the publisher calls again.
type StatusChanged struct {
	InvitationID string
	OldStatus    string
	NewStatus    string
}

// QueueWriter is the enqueue half of the queue repository.
type QueueWriter interface {
	Enqueue(ctx context.Context, e model.QueueEntry) error
}

// Engine turns invitation status changes into queue entries.
type Engine struct {
	templates TemplateSource
	queue     QueueWriter
	now       func() time.Time
}

func NewEngine(templates TemplateSource, queue QueueWriter) *Engine {
	return &Engine{
		templates: templates,
		queue:     queue,
		now:       time.Now,
	}
}

// WithClock overrides the time source. Tests only.
func (e *Engine) WithClock(now func() time.Time) *Engine {
	e.now = now
	return e
}

// HandleStatusChange enqueues one entry per active template for the new
// status. Returns how many entries were enqueued. Rendering problems never
// drop a message; an unrenderable template goes out as its raw text.
func (e *Engine) HandleStatusChange(ctx context.Context, ev StatusChanged, inv Invitation) (int, error) {
	templates, err := e.templates.ActiveForStatus(ctx, ev.NewStatus)
	if err != nil {
		return 0, fmt.Errorf("failed to load templates for status %q: %w", ev.NewStatus, err)
	}

	vars := map[string]string{
		"name":       inv.GuestName,
		"code":       inv.Code,
		"link":       inv.Link,
		"guest_list": inv.GuestList,
	}

	enqueued := 0
	for _, tpl := range templates {
		recipient, ok := resolveRecipient(tpl, inv)
		if !ok {
			slog.Warn("template skipped, invitation has no phone number",
				"template", tpl.ID, "invitation", inv.ID)
			observability.TriggerEnqueues.WithLabelValues("no_recipient").Inc()
			continue
		}

		body := Render(tpl.Body, vars)
		if leftover := unresolvedPlaceholders(body); len(leftover) > 0 {
			slog.Error("template references unknown placeholders, sending raw text",
				"template", tpl.ID, "placeholders", strings.Join(leftover, ","))
			body = tpl.Body
		}

		entry := model.QueueEntry{
			ID:          model.NewQueueID(),
			Identity:    tpl.Identity,
			Recipient:   recipient,
			Body:        body,
			Status:      model.Pending,
			ScheduledAt: e.now().UTC(),
		}
		if err := e.queue.Enqueue(ctx, entry); err != nil {
			observability.TriggerEnqueues.WithLabelValues("error").Inc()
			return enqueued, fmt.Errorf("failed to enqueue entry for template %q: %w", tpl.ID, err)
		}

		observability.TriggerEnqueues.WithLabelValues("ok").Inc()
		slog.Info("queued notification",
			"template", tpl.ID, "invitation", inv.ID,
			"old_status", ev.OldStatus, "new_status", ev.NewStatus)
		enqueued++
	}
	return enqueued, nil
}

func resolveRecipient(tpl Template, inv Invitation) (string, bool) {
	if tpl.Recipient == RecipientCouple {
		return model.RecipientSelf, true
	}
	if strings.TrimSpace(inv.Phone) == "" {
		return "", false
	}
	return inv.Phone, true
}

// Render substitutes {var} placeholders. Unknown placeholders are left in
// place for the caller to detect.
func Render(body string, vars map[string]string) string {
	out := body
	for k, v := range vars {
		out = strings.ReplaceAll(out, "{"+k+"}", v)
	}
	return out
}

var placeholderRe = regexp.MustCompile(`\{[a-z_]+\}`)

func unresolvedPlaceholders(body string) []string {
	return placeholderRe.FindAllString(body, -1)
}

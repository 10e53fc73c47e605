package events

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"sort"
	"strings"
	"sync"

	"github.com/saeid-a/TherapyCallBack/internal/models"
)

type Pusher interface {
	Notify(userIDs []int64, event models.Event)
}

type Mailer interface {
	Send(to, subject, body string) error
}

type SMSSender interface {
	Send(ctx context.Context, phone, body string) error
}

type OpsAlerter interface {
	Alert(text string) error
}

type ContactLookup interface {
	GetContacts(ctx context.Context, userIDs []int64) ([]models.Contact, error)
}

var mailSubjects = map[string]string{
	"schedule_reminder": "Your session starts in 5 minutes",
	"request_accepted":  "Your session request was accepted",
	"session_receipt":   "Your session summary",
}

// Dispatcher drains a bus subscription and routes each event to push, mail, SMS
// and ops sinks. Delivery errors are logged and never returned.
type Dispatcher struct {
	bus      *Bus
	pusher   Pusher
	mailer   Mailer
	sms      SMSSender
	ops      OpsAlerter
	contacts ContactLookup
	logger   *slog.Logger
	workers  int
}

type DispatcherConfig struct {
	Pusher   Pusher
	Mailer   Mailer
	SMS      SMSSender
	Ops      OpsAlerter
	Contacts ContactLookup
	Workers  int
}

func NewDispatcher(bus *Bus, cfg DispatcherConfig, logger *slog.Logger) *Dispatcher {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Dispatcher{
		bus:      bus,
		pusher:   cfg.Pusher,
		mailer:   cfg.Mailer,
		sms:      cfg.SMS,
		ops:      cfg.Ops,
		contacts: cfg.Contacts,
		logger:   logger,
		workers:  workers,
	}
}

// Run blocks until ctx is cancelled.
func (d *Dispatcher) Run(ctx context.Context) {
	ch, unsubscribe := d.bus.Subscribe()
	defer unsubscribe()

	var wg sync.WaitGroup
	for i := 0; i < d.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-ctx.Done():
					return
				case evt, ok := <-ch:
					if !ok {
						return
					}
					d.Dispatch(ctx, evt)
				}
			}
		}()
	}
	wg.Wait()
}

func (d *Dispatcher) Dispatch(ctx context.Context, evt models.Event) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error("dispatch panic", "type", evt.Type, "panic", r)
		}
	}()

	if d.pusher != nil && len(evt.UserIDs) > 0 {
		d.pusher.Notify(evt.UserIDs, evt)
	}

	if evt.MailTemplate != "" || evt.SMSBody != "" {
		d.deliverDirect(ctx, evt)
	}

	if evt.Ops && d.ops != nil {
		if err := d.ops.Alert(opsText(evt)); err != nil {
			d.logger.Warn("ops alert failed", "type", evt.Type, "error", err)
		}
	}
}

func (d *Dispatcher) deliverDirect(ctx context.Context, evt models.Event) {
	if d.contacts == nil || len(evt.UserIDs) == 0 {
		return
	}
	contacts, err := d.contacts.GetContacts(ctx, evt.UserIDs)
	if err != nil {
		d.logger.Warn("contact lookup failed", "type", evt.Type, "error", err)
		return
	}

	for _, contact := range contacts {
		if evt.MailTemplate != "" && d.mailer != nil && contact.Email != "" {
			subject, body := renderMail(evt, contact)
			if err := d.mailer.Send(contact.Email, subject, body); err != nil {
				d.logger.Warn("mail failed", "type", evt.Type, "user_id", contact.UserID, "error", err)
			}
		}
		if evt.SMSBody != "" && d.sms != nil && contact.Phone != nil && *contact.Phone != "" {
			if err := d.sms.Send(ctx, *contact.Phone, evt.SMSBody); err != nil {
				d.logger.Warn("sms failed", "type", evt.Type, "user_id", contact.UserID, "error", err)
			}
		}
	}
}

var mailBody = template.Must(template.New("mail").Parse(
	`<p>Hi {{.Name}},</p>{{if .Intro}}<p>{{.Intro}}</p>{{end}}{{range .Lines}}<p>{{.Key}}: {{.Value}}</p>{{end}}`,
))

type mailLine struct {
	Key   string
	Value string
}

func renderMail(evt models.Event, contact models.Contact) (string, string) {
	subject, ok := mailSubjects[evt.MailTemplate]
	if !ok {
		subject = strings.ReplaceAll(strings.ToLower(evt.Type), "_", " ")
	}

	name := "there"
	if contact.FullName != nil && *contact.FullName != "" {
		name = *contact.FullName
	}

	lines := make([]mailLine, 0, len(evt.Payload))
	for _, key := range sortedKeys(evt.Payload) {
		lines = append(lines, mailLine{Key: key, Value: fmt.Sprint(evt.Payload[key])})
	}

	var b strings.Builder
	// Writes to a strings.Builder cannot fail.
	_ = mailBody.Execute(&b, struct {
		Name  string
		Intro string
		Lines []mailLine
	}{Name: name, Intro: evt.SMSBody, Lines: lines})
	return subject, b.String()
}

func opsText(evt models.Event) string {
	parts := make([]string, 0, len(evt.Payload)+1)
	parts = append(parts, "["+evt.Type+"]")
	for _, key := range sortedKeys(evt.Payload) {
		parts = append(parts, fmt.Sprintf("%s=%v", key, evt.Payload[key]))
	}
	return strings.Join(parts, " ")
}

func sortedKeys(payload map[string]any) []string {
	keys := make([]string, 0, len(payload))
	for key := range payload {
		keys = append(keys, key)
	}
	sort.Strings(keys)
	return keys
}

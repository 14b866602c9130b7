package notify

import (
	"context"
	"errors"
	"fmt"
	"html/template"

	"github.com/wneessen/go-mail"
)

var ErrNoRecipient = errors.New("event has no recipient email")

var subjects = map[EventType]string{
	EventAppointmentBooked:      "Your appointment is booked",
	EventAppointmentRescheduled: "Your appointment was rescheduled",
	EventAppointmentCancelled:   "Your appointment was cancelled",
	EventAppointmentStatus:      "Your appointment was updated",
}

var bodyTemplate = template.Must(template.New("appointment").Parse(`<p>Hello {{if .PatientName}}{{.PatientName}}{{else}}there{{end}},</p>
{{- if eq .Type "appointment_booked"}}
<p>Your appointment <strong>{{.AppointmentNumber}}</strong>{{if .DoctorName}} with Dr. {{.DoctorName}}{{end}} is booked for {{.Date}} at {{.StartTime}}-{{.EndTime}}.</p>
{{- else if eq .Type "appointment_rescheduled"}}
<p>Your appointment <strong>{{.AppointmentNumber}}</strong> has moved to {{.Date}} at {{.StartTime}}-{{.EndTime}}.</p>
{{- else if eq .Type "appointment_cancelled"}}
<p>Your appointment <strong>{{.AppointmentNumber}}</strong> on {{.Date}} at {{.StartTime}} was cancelled.{{if .Reason}} Reason: {{.Reason}}{{end}}</p>
{{- else}}
<p>Your appointment <strong>{{.AppointmentNumber}}</strong> on {{.Date}} is now {{.Status}}.</p>
{{- end}}
`))

// Sender is the subset of *mail.Client used by Mailer.
type Sender interface {
	DialAndSendWithContext(ctx context.Context, messages ...*mail.Msg) error
}

type Mailer struct {
	sender Sender
	from   string
}

func NewMailer(sender Sender, from string) *Mailer {
	return &Mailer{sender: sender, from: from}
}

// BuildMessage renders the email for ev.
func (m *Mailer) BuildMessage(ev Event) (*mail.Msg, error) {
	if ev.PatientEmail == "" {
		return nil, ErrNoRecipient
	}
	subject, ok := subjects[ev.Type]
	if !ok {
		return nil, fmt.Errorf("unsupported event type %q", ev.Type)
	}

	msg := mail.NewMsg()
	if err := msg.From(m.from); err != nil {
		return nil, fmt.Errorf("set sender: %w", err)
	}
	if err := msg.To(ev.PatientEmail); err != nil {
		return nil, fmt.Errorf("set recipient: %w", err)
	}
	msg.Subject(subject)
	if err := msg.SetBodyHTMLTemplate(bodyTemplate, ev); err != nil {
		return nil, fmt.Errorf("render body: %w", err)
	}
	return msg, nil
}

func (m *Mailer) Send(ctx context.Context, ev Event) error {
	msg, err := m.BuildMessage(ev)
	if err != nil {
		return err
	}
	if err := m.sender.DialAndSendWithContext(ctx, msg); err != nil {
		return fmt.Errorf("send mail: %w", err)
	}
	return nil
}

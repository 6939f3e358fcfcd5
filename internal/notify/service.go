package notify

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wattlehealth/platform/pkg/logging"
)

// BookingConfirmation carries the details rendered into a confirmation email.
type BookingConfirmation struct {
	PatientName      string
	PatientEmail     string
	PractitionerName string
	SessionType      string
	Start            time.Time
	End              time.Time
	LocationType     string
}

// Service sends patient-facing notifications. Sending is best effort; a
// booking never fails because the confirmation email did.
type Service struct {
	email  EmailSender
	logger *logging.Logger
}

func NewService(email EmailSender, logger *logging.Logger) *Service {
	if logger == nil {
		logger = logging.Default()
	}
	return &Service{email: email, logger: logger}
}

// SendBookingConfirmation emails the patient their appointment details.
func (s *Service) SendBookingConfirmation(ctx context.Context, conf BookingConfirmation) error {
	if s.email == nil {
		s.logger.Debug("notify: email sender not configured, skipping booking confirmation")
		return nil
	}
	if conf.PatientEmail == "" {
		s.logger.Debug("notify: booking has no patient email, skipping confirmation")
		return nil
	}

	msg := EmailMessage{
		To:      conf.PatientEmail,
		ToName:  conf.PatientName,
		Subject: "Your appointment is confirmed",
		Body:    renderBookingBody(conf),
	}
	if err := s.email.Send(ctx, msg); err != nil {
		s.logger.Error("notify: booking confirmation failed", "error", err, "to", conf.PatientEmail)
		return fmt.Errorf("notify: booking confirmation: %w", err)
	}
	return nil
}

func renderBookingBody(conf BookingConfirmation) string {
	var b strings.Builder

	name := conf.PatientName
	if name == "" {
		name = "there"
	}
	fmt.Fprintf(&b, "Hi %s,\n\n", name)
	b.WriteString("Your appointment has been booked.\n\n")

	if conf.SessionType != "" {
		fmt.Fprintf(&b, "Session: %s\n", conf.SessionType)
	}
	if conf.PractitionerName != "" {
		fmt.Fprintf(&b, "Practitioner: %s\n", conf.PractitionerName)
	}
	fmt.Fprintf(&b, "When: %s", conf.Start.Format("Monday, 2 January 2006 at 3:04 PM"))
	if !conf.End.IsZero() && conf.End.After(conf.Start) {
		fmt.Fprintf(&b, " (%d minutes)", int(conf.End.Sub(conf.Start).Minutes()))
	}
	b.WriteString("\n")

	switch conf.LocationType {
	case "telehealth":
		b.WriteString("Where: Telehealth, a video link will be sent before your session\n")
	case "phone":
		b.WriteString("Where: Phone consultation\n")
	default:
		b.WriteString("Where: In clinic\n")
	}

	b.WriteString("\nIf you need to reschedule, reply to this email or call the practice.\n\nWattle Health\n")
	return b.String()
}

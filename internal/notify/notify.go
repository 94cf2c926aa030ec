// Package notify tells guardians that their missing person was found.
package notify

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/kozaktomas/missing-persons/internal/database"
)

// FoundSubject is the subject of the guardian notification.
const FoundSubject = "Missing Person Found"

// Notifier delivers the "person found" message to the guardian.
type Notifier interface {
	NotifyFound(ctx context.Context, person *database.MissingPerson) error
}

// FoundMessage returns the subject and plain-text body sent to the guardian.
func FoundMessage(person *database.MissingPerson) (string, string) {
	body := fmt.Sprintf(
		"Your missing person %s has been found. Please contact the authorities for more information.",
		person.Name,
	)
	return FoundSubject, body
}

// LogNotifier only logs the notification. Used when no SMTP server is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a notifier that writes to the logger.
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

// NotifyFound logs the message that would have been sent.
func (n *LogNotifier) NotifyFound(ctx context.Context, person *database.MissingPerson) error {
	subject, body := FoundMessage(person)
	n.logger.InfoContext(ctx, "guardian notification (smtp disabled)",
		"person_id", person.ID,
		"to", person.GuardianEmail,
		"subject", subject,
		"body", body,
	)
	return nil
}

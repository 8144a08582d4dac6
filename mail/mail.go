package mail

import (
	"fmt"
	"html"
	"sort"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	"github.com/sendgrid/sendgrid-go/helpers/mail"

	"speedrun-backend/reconcile"
)

// Sender is the part of the SendGrid client the notifier uses.
type Sender interface {
	Send(email *mail.SGMailV3) (*rest.Response, error)
}

type Notifier struct {
	sender Sender
	from   string
	to     string
}

func NewNotifier(apiKey, from, to string) *Notifier {
	return &Notifier{sender: sendgrid.NewSendClient(apiKey), from: from, to: to}
}

func newNotifierWithSender(sender Sender, from, to string) *Notifier {
	return &Notifier{sender: sender, from: from, to: to}
}

// SendImportReport emails the outcome of an import run to the configured admin address.
func (n *Notifier) SendImportReport(result *reconcile.ImportResult) error {
	subject := fmt.Sprintf("Run import: %d imported, %d skipped", result.Imported, result.Skipped)
	plainTextContent, htmlContent := renderImportReport(result)

	from := mail.NewEmail("Speedrun Leaderboards", n.from)
	toEmail := mail.NewEmail("", n.to)
	message := mail.NewSingleEmail(from, subject, toEmail, plainTextContent, htmlContent)

	response, err := n.sender.Send(message)
	if err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	if response.StatusCode >= 400 {
		return fmt.Errorf("sendgrid error: %d - %s", response.StatusCode, response.Body)
	}

	return nil
}

func renderImportReport(result *reconcile.ImportResult) (string, string) {
	var text, body strings.Builder

	text.WriteString(result.Summary() + "\n")
	fmt.Fprintf(&body, "<h2>Run import finished</h2>\n<p>%s</p>\n", html.EscapeString(result.Summary()))

	if len(result.UnmatchedPlayers) > 0 {
		ids := make([]string, 0, len(result.UnmatchedPlayers))
		for id := range result.UnmatchedPlayers {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		text.WriteString("\nUnmatched players:\n")
		body.WriteString("<h3>Unmatched players</h3>\n<ul>\n")
		for _, id := range ids {
			names := strings.Join(result.UnmatchedPlayers[id], ", ")
			fmt.Fprintf(&text, "  %s: %s\n", id, names)
			fmt.Fprintf(&body, "<li>%s: %s</li>\n", html.EscapeString(id), html.EscapeString(names))
		}
		body.WriteString("</ul>\n")
	}

	if len(result.Errors) > 0 {
		text.WriteString("\nErrors:\n")
		body.WriteString("<h3>Errors</h3>\n<ul>\n")
		for _, e := range result.Errors {
			fmt.Fprintf(&text, "  %s\n", e)
			fmt.Fprintf(&body, "<li>%s</li>\n", html.EscapeString(e))
		}
		body.WriteString("</ul>\n")
	}

	return text.String(), "<html><body>\n" + body.String() + "</body></html>"
}

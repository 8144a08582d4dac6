package mail

import (
	"errors"
	"testing"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go/helpers/mail"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"speedrun-backend/reconcile"
)

type fakeSender struct {
	sent     []*mail.SGMailV3
	response *rest.Response
	err      error
}

func (f *fakeSender) Send(email *mail.SGMailV3) (*rest.Response, error) {
	f.sent = append(f.sent, email)
	if f.err != nil {
		return nil, f.err
	}
	return f.response, nil
}

func sampleResult() *reconcile.ImportResult {
	return &reconcile.ImportResult{
		GameID:           "g1",
		Candidates:       3,
		Imported:         2,
		Skipped:          1,
		UnmatchedPlayers: map[string][]string{"entry-2": {"bob"}},
		Errors:           []string{"run r3: time: invalid format \"<b>\""},
	}
}

func TestSendImportReport(t *testing.T) {
	sender := &fakeSender{response: &rest.Response{StatusCode: 202}}
	n := newNotifierWithSender(sender, "noreply@example.com", "admin@example.com")

	require.NoError(t, n.SendImportReport(sampleResult()))
	require.Len(t, sender.sent, 1)

	msg := sender.sent[0]
	assert.Equal(t, "Run import: 2 imported, 1 skipped", msg.Subject)
	assert.Equal(t, "noreply@example.com", msg.From.Address)
	require.Len(t, msg.Personalizations, 1)
	assert.Equal(t, "admin@example.com", msg.Personalizations[0].To[0].Address)
}

func TestSendImportReportErrors(t *testing.T) {
	n := newNotifierWithSender(&fakeSender{response: &rest.Response{StatusCode: 401, Body: "unauthorized"}}, "a@example.com", "b@example.com")
	assert.ErrorContains(t, n.SendImportReport(sampleResult()), "401")

	n = newNotifierWithSender(&fakeSender{err: errors.New("dial tcp")}, "a@example.com", "b@example.com")
	assert.ErrorContains(t, n.SendImportReport(sampleResult()), "dial tcp")
}

func TestRenderImportReportEscapesHTML(t *testing.T) {
	text, body := renderImportReport(sampleResult())

	assert.Contains(t, text, "entry-2: bob")
	assert.Contains(t, text, `invalid format "<b>"`)
	assert.Contains(t, body, "&lt;b&gt;")
	assert.NotContains(t, body, "<b>")
}

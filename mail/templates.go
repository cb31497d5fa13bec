package mail

import (
	"bytes"
	htmltemplate "html/template"
	texttemplate "text/template"
	"time"
)

// Confirmation is the data rendered into a confirmation email.
type Confirmation struct {
	Email   string
	Code    string
	Link    string
	Expires time.Time
}

var confirmText = texttemplate.Must(texttemplate.New("confirm.txt").Parse(
	`Your confirmation code is {{.Code}}.
{{if .Link}}
Or confirm by opening this link:
{{.Link}}
{{end}}
The code expires at {{.Expires.UTC.Format "2006-01-02 15:04 MST"}}.
`))

var confirmHTML = htmltemplate.Must(htmltemplate.New("confirm.html").Parse(
	`<p>Your confirmation code is <strong>{{.Code}}</strong>.</p>
{{if .Link}}<p><a href="{{.Link}}">Confirm your account</a></p>
{{end}}<p>The code expires at {{.Expires.UTC.Format "2006-01-02 15:04 MST"}}.</p>
`))

// ConfirmationMessage renders the confirmation email for c.
func ConfirmationMessage(subject string, c Confirmation) (Message, error) {
	var text, html bytes.Buffer
	if err := confirmText.Execute(&text, c); err != nil {
		return Message{}, err
	}
	if err := confirmHTML.Execute(&html, c); err != nil {
		return Message{}, err
	}
	return Message{To: c.Email, Subject: subject, Text: text.String(), HTML: html.String()}, nil
}

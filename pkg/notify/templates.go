package notify

import (
	"bytes"
	"embed"
	"errors"
	"fmt"
	"text/template"
)

//go:embed templates/*.txt
var templateFiles embed.FS

// Kind identifies a notification and selects its template.
type Kind string

const (
	KindDeleteCode          Kind = "delete_code"
	KindSignupCode          Kind = "signup_code"
	KindPaperSubmittedAdmin Kind = "paper_submitted_admin"
	KindPaperSubmitted      Kind = "paper_submitted"
	KindPaperApproved       Kind = "paper_approved"
	KindPaperRejected       Kind = "paper_rejected"
	KindRewardPaid          Kind = "reward_paid"
)

var subjects = map[Kind]string{
	KindDeleteCode:          "Your BookHaven paper deletion code",
	KindSignupCode:          "Verify your BookHaven email",
	KindPaperSubmittedAdmin: "New paper pending review",
	KindPaperSubmitted:      "We received your paper",
	KindPaperApproved:       "Your paper was approved",
	KindPaperRejected:       "Your paper was not approved",
	KindRewardPaid:          "Your BookHaven reward was paid",
}

// ErrUnknownKind is returned for a Kind with no template.
var ErrUnknownKind = errors.New("unknown notification kind")

type entry struct {
	subject string
	tmpl    *template.Template
}

// Templates renders notification bodies.
type Templates map[Kind]entry

// NewTemplates parses every embedded template. It panics on a broken
// template since they ship with the binary.
func NewTemplates() Templates {
	t := Templates{}
	for kind, subject := range subjects {
		content, err := templateFiles.ReadFile(fmt.Sprintf("templates/%s.txt", kind))
		if err != nil {
			panic(fmt.Sprintf("reading %s template: %v", kind, err))
		}
		parsed, err := template.New(string(kind)).Option("missingkey=zero").Parse(string(content))
		if err != nil {
			panic(fmt.Sprintf("parsing %s template: %v", kind, err))
		}
		t[kind] = entry{subject: subject, tmpl: parsed}
	}
	return t
}

// Has reports whether kind can be rendered.
func (t Templates) Has(kind Kind) bool {
	_, ok := t[kind]
	return ok
}

// Render returns the subject and plain-text body for msg.
func (t Templates) Render(msg Message) (subject, body string, err error) {
	e, ok := t[msg.Kind]
	if !ok {
		return "", "", fmt.Errorf("%w: %q", ErrUnknownKind, msg.Kind)
	}
	var buf bytes.Buffer
	if err := e.tmpl.Execute(&buf, msg.Data); err != nil {
		return "", "", fmt.Errorf("executing %s template: %w", msg.Kind, err)
	}
	return e.subject, buf.String(), nil
}

package mailer

import (
	"bytes"
	"fmt"
	"html/template"
	"time"

	"github.com/careerpilot/careerpilot/internal/models"
)

type content struct {
	Subject string
	Heading string
	Lead    string
}

var contents = map[models.Purpose]content{
	models.PurposeVerify: {
		Subject: "Verify your CareerPilot account",
		Heading: "Verify your email",
		Lead:    "Enter the code below to verify your CareerPilot account.",
	},
	models.PurposeReset: {
		Subject: "Reset your CareerPilot password",
		Heading: "Reset your password",
		Lead:    "Use this code to reset your password.",
	},
}

var htmlTemplate = template.Must(template.New("otp").Parse(`<div style="font-family: Inter, sans-serif; max-width: 480px; margin: 0 auto; background: #0d1117; color: #e6edf3; padding: 40px; border-radius: 16px; border: 1px solid #1e2938;">
  <div style="margin-bottom: 32px;">
    <span style="font-size: 20px; font-weight: 700; color: #22d3ee;">CareerPilot</span>
  </div>
  <h2 style="font-size: 22px; font-weight: 700; margin-bottom: 8px;">{{.Heading}}</h2>
  <p style="color: #8b949e; margin-bottom: 32px;">{{.Lead}}</p>
  <div style="background: #161b22; border: 1px solid #1e2938; border-radius: 12px; padding: 24px; text-align: center; margin-bottom: 32px;">
    <div style="font-size: 40px; font-weight: 800; letter-spacing: 12px; color: #22d3ee; font-family: 'JetBrains Mono', monospace;">{{.Code}}</div>
    <p style="color: #8b949e; font-size: 13px; margin-top: 12px;">This code expires in <strong style="color: #e6edf3;">{{.Expiry}}</strong></p>
  </div>
  <p style="color: #8b949e; font-size: 13px;">If you didn't request this, you can safely ignore this email.</p>
</div>
`))

type Message struct {
	Subject string
	HTML    string
	Text    string
}

// Render builds the purpose-specific email for code.
func Render(code string, purpose models.Purpose, expiry time.Duration) (*Message, error) {
	c, ok := contents[purpose]
	if !ok {
		return nil, fmt.Errorf("no email template for purpose %q", purpose)
	}

	data := struct {
		content
		Code   string
		Expiry string
	}{c, code, humanDuration(expiry)}

	var buf bytes.Buffer
	if err := htmlTemplate.Execute(&buf, data); err != nil {
		return nil, fmt.Errorf("failed to render email: %w", err)
	}

	text := fmt.Sprintf("%s\n\n%s\n\n    %s\n\nThis code expires in %s.\nIf you didn't request this, you can safely ignore this email.\n",
		c.Heading, c.Lead, code, data.Expiry)

	return &Message{Subject: c.Subject, HTML: buf.String(), Text: text}, nil
}

func humanDuration(d time.Duration) string {
	if d%time.Minute == 0 {
		m := int(d / time.Minute)
		if m == 1 {
			return "1 minute"
		}
		return fmt.Sprintf("%d minutes", m)
	}
	return d.String()
}

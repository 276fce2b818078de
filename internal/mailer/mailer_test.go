package mailer

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/careerpilot/careerpilot/internal/models"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	tests := []struct {
		purpose models.Purpose
		subject string
		heading string
	}{
		{models.PurposeVerify, "Verify your CareerPilot account", "Verify your email"},
		{models.PurposeReset, "Reset your CareerPilot password", "Reset your password"},
	}

	for _, tt := range tests {
		t.Run(string(tt.purpose), func(t *testing.T) {
			msg, err := Render("123456", tt.purpose, 10*time.Minute)
			require.NoError(t, err)

			assert.Equal(t, tt.subject, msg.Subject)
			assert.Contains(t, msg.HTML, tt.heading)
			assert.Contains(t, msg.HTML, "123456")
			assert.Contains(t, msg.HTML, "10 minutes")
			assert.Contains(t, msg.Text, "123456")
			assert.Contains(t, msg.Text, "10 minutes")
		})
	}
}

func TestRender_UnknownPurpose(t *testing.T) {
	_, err := Render("123456", models.Purpose("login"), time.Minute)
	assert.Error(t, err)
}

func TestHumanDuration(t *testing.T) {
	assert.Equal(t, "1 minute", humanDuration(time.Minute))
	assert.Equal(t, "10 minutes", humanDuration(10*time.Minute))
	assert.Equal(t, "1m30s", humanDuration(90*time.Second))
}

func TestLogSender(t *testing.T) {
	var buf bytes.Buffer
	logger := logrus.New()
	logger.SetOutput(&buf)
	logger.SetFormatter(&logrus.JSONFormatter{})

	sender := NewLogSender(10*time.Minute, logger)
	require.NoError(t, sender.Send(context.Background(), "a@x.com", "654321", models.PurposeReset))

	out := buf.String()
	assert.True(t, strings.Contains(out, `"otp":"654321"`), out)
	assert.Contains(t, out, "Reset your CareerPilot password")
}

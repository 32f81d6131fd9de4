package email

import (
	"net/smtp"
	"strings"
	"testing"
)

func TestServiceIsConfigured(t *testing.T) {
	tests := []struct {
		name     string
		config   Config
		expected bool
	}{
		{
			name:     "empty config",
			config:   Config{},
			expected: false,
		},
		{
			name: "missing host",
			config: Config{
				Port: "587",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing port",
			config: Config{
				Host: "smtp.example.com",
				From: "test@example.com",
			},
			expected: false,
		},
		{
			name: "missing from",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
			},
			expected: false,
		},
		{
			name: "fully configured",
			config: Config{
				Host: "smtp.example.com",
				Port: "587",
				From: "test@example.com",
			},
			expected: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc := NewService(tt.config)
			if svc.IsConfigured() != tt.expected {
				t.Errorf("IsConfigured() = %v, want %v", svc.IsConfigured(), tt.expected)
			}
		})
	}
}

func TestRenderMagicLinkTemplate(t *testing.T) {
	data := MagicLinkData{
		AppName:  "Markdown CMS",
		LoginURL: "https://example.com/auth/magic?token=abc123",
	}

	html, err := renderTemplate(magicLinkEmailTemplate, data)
	if err != nil {
		t.Fatalf("renderTemplate failed: %v", err)
	}

	if !strings.Contains(html, "Markdown CMS") {
		t.Error("template should contain app name")
	}
	if !strings.Contains(html, "https://example.com/auth/magic?token=abc123") {
		t.Error("template should contain login URL")
	}
	if !strings.Contains(html, "15 minutes") {
		t.Error("template should mention expiration time")
	}
}

func TestSendMagicLinkEmailBuildsMessage(t *testing.T) {
	svc := NewService(Config{
		Host:     "smtp.example.com",
		Port:     "587",
		From:     "cms@example.com",
		FromName: "Markdown CMS",
	})

	var gotAddr, gotFrom string
	var gotTo []string
	var gotMsg []byte
	svc.send = func(addr string, a smtp.Auth, from string, to []string, msg []byte) error {
		gotAddr, gotFrom, gotTo, gotMsg = addr, from, to, msg
		return nil
	}

	if err := svc.SendMagicLinkEmail("avery@example.com", "https://example.com/auth/magic?token=t"); err != nil {
		t.Fatalf("SendMagicLinkEmail failed: %v", err)
	}

	if gotAddr != "smtp.example.com:587" {
		t.Errorf("unexpected server address %q", gotAddr)
	}
	if gotFrom != "cms@example.com" {
		t.Errorf("unexpected envelope from %q", gotFrom)
	}
	if len(gotTo) != 1 || gotTo[0] != "avery@example.com" {
		t.Errorf("unexpected recipients %v", gotTo)
	}
	body := string(gotMsg)
	if !strings.Contains(body, "From: Markdown CMS <cms@example.com>") {
		t.Error("message should carry the display from header")
	}
	if !strings.Contains(body, "Subject: Your Markdown CMS sign-in link") {
		t.Error("message should carry the subject")
	}
	if !strings.Contains(body, "https://example.com/auth/magic?token=t") {
		t.Error("message should contain the login URL")
	}
}

func TestSendFailsWhenUnconfigured(t *testing.T) {
	svc := NewService(Config{})
	if err := svc.SendMagicLinkEmail("a@b.com", "https://example.com"); err == nil {
		t.Fatal("expected error when email is not configured")
	}
}

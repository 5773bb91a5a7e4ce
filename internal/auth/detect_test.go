package auth

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/maestro-sh/maestro/internal/model"
)

func writeCredentials(t *testing.T, content string) *LocalDetector {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, ".credentials.json")
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	return &LocalDetector{ClaudeDir: dir}
}

func TestDetectLocalAuth(t *testing.T) {
	tests := []struct {
		name  string
		creds string
		want  Detection
	}{
		{
			name:  "oauth max subscription",
			creds: `{"claudeAiOauth":{"accessToken":"tok-123","subscriptionType":"Max"}}`,
			want:  Detection{BillingMode: model.BillingMax, Source: "oauth", SubscriptionType: "max"},
		},
		{
			name:  "oauth without subscription type defaults to max",
			creds: `{"claudeAiOauth":{"accessToken":"tok-123"}}`,
			want:  Detection{BillingMode: model.BillingMax, Source: "oauth", SubscriptionType: "max"},
		},
		{
			name:  "oauth wins over api key",
			creds: `{"claudeAiOauth":{"accessToken":"tok-123","subscriptionType":"pro"},"apiKey":"sk-ant-xyz"}`,
			want:  Detection{BillingMode: model.BillingMax, Source: "oauth", SubscriptionType: "pro"},
		},
		{
			name:  "bare api key",
			creds: `{"apiKey":"sk-ant-xyz"}`,
			want:  Detection{BillingMode: model.BillingAPI, Source: "api_key"},
		},
		{
			name:  "empty oauth block falls through to api key",
			creds: `{"claudeAiOauth":{"accessToken":""},"apiKey":"sk-ant-xyz"}`,
			want:  Detection{BillingMode: model.BillingAPI, Source: "api_key"},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := writeCredentials(t, tt.creds)
			got, err := d.DetectLocalAuth(context.Background())
			if err != nil {
				t.Fatalf("DetectLocalAuth: %v", err)
			}
			if got != tt.want {
				t.Errorf("detection = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestDetectLocalAuth_EnvKey(t *testing.T) {
	d := &LocalDetector{ClaudeDir: t.TempDir()}

	t.Setenv("ANTHROPIC_API_KEY", "sk-ant-abc123")
	got, err := d.DetectLocalAuth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got.BillingMode != model.BillingAPI || got.Source != "env" {
		t.Errorf("detection = %+v", got)
	}

	// A key without the Anthropic prefix carries no billing signal.
	t.Setenv("ANTHROPIC_API_KEY", "some-other-token")
	got, err = d.DetectLocalAuth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != (Detection{}) {
		t.Errorf("detection = %+v, want empty", got)
	}
}

func TestDetectLocalAuth_NothingPresent(t *testing.T) {
	d := &LocalDetector{ClaudeDir: t.TempDir()}
	t.Setenv("ANTHROPIC_API_KEY", "")

	got, err := d.DetectLocalAuth(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if got != (Detection{}) {
		t.Errorf("detection = %+v, want empty", got)
	}
}

func TestDetectLocalAuth_CorruptCredentials(t *testing.T) {
	d := writeCredentials(t, `{not json`)
	if _, err := d.DetectLocalAuth(context.Background()); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestDetectLocalAuth_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	d := &LocalDetector{ClaudeDir: t.TempDir()}
	if _, err := d.DetectLocalAuth(ctx); err == nil {
		t.Fatal("expected context error")
	}
}

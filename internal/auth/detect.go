// Package auth detects the billing mode implied by local Claude
// credentials: an OAuth subscription token means Max billing, a bare API
// key means metered API billing.
package auth

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/maestro-sh/maestro/internal/model"
)

// Detection is the result of inspecting local auth material.
type Detection struct {
	BillingMode      model.BillingMode
	Source           string // "oauth", "api_key", "env"
	SubscriptionType string // "max", "pro", "" for API keys
}

// credentialsFile mirrors the relevant slice of ~/.claude/.credentials.json.
type credentialsFile struct {
	ClaudeAiOauth *struct {
		AccessToken      string `json:"accessToken"`
		SubscriptionType string `json:"subscriptionType"`
	} `json:"claudeAiOauth"`
	APIKey string `json:"apiKey"`
}

// LocalDetector reads credentials from the filesystem and environment.
type LocalDetector struct {
	// ClaudeDir overrides the credentials location, for tests.
	ClaudeDir string
}

func (d *LocalDetector) credentialsPath() string {
	dir := d.ClaudeDir
	if dir == "" {
		home, _ := os.UserHomeDir()
		dir = filepath.Join(home, ".claude")
	}
	return filepath.Join(dir, ".credentials.json")
}

// DetectLocalAuth inspects local credentials. An OAuth subscription
// token wins over an API key: a user signed into a Max or Pro plan is
// billed under the subscription even when an API key is also present.
func (d *LocalDetector) DetectLocalAuth(ctx context.Context) (Detection, error) {
	if err := ctx.Err(); err != nil {
		return Detection{}, err
	}

	data, err := os.ReadFile(d.credentialsPath())
	if err == nil {
		var creds credentialsFile
		if jsonErr := json.Unmarshal(data, &creds); jsonErr != nil {
			return Detection{}, fmt.Errorf("parsing credentials: %w", jsonErr)
		}
		if creds.ClaudeAiOauth != nil && creds.ClaudeAiOauth.AccessToken != "" {
			sub := strings.ToLower(creds.ClaudeAiOauth.SubscriptionType)
			mode := model.BillingMax
			if sub == "" {
				sub = "max"
			}
			return Detection{BillingMode: mode, Source: "oauth", SubscriptionType: sub}, nil
		}
		if creds.APIKey != "" {
			return Detection{BillingMode: model.BillingAPI, Source: "api_key"}, nil
		}
	} else if !os.IsNotExist(err) {
		return Detection{}, fmt.Errorf("reading credentials: %w", err)
	}

	if key := os.Getenv("ANTHROPIC_API_KEY"); strings.HasPrefix(key, "sk-ant-") {
		return Detection{BillingMode: model.BillingAPI, Source: "env"}, nil
	}

	// Nothing detected; caller keeps its defaults.
	return Detection{}, nil
}

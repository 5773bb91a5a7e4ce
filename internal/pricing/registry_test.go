package pricing

import "testing"

func TestNormalizeModelName(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"claude-opus-4-5-20251101", "claude-opus-4-5"},
		{"claude-sonnet-4-5", "claude-sonnet-4-5"},
		{"claude-haiku-4-5-20250929", "claude-haiku-4-5"},
		{"unknown-model", "unknown-model"},
		{"claude-opus-4-5-abc", "claude-opus-4-5-abc"},
	}

	for _, tt := range tests {
		if got := NormalizeModelName(tt.in); got != tt.want {
			t.Errorf("NormalizeModelName(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestForModel(t *testing.T) {
	tests := []struct {
		name   string
		id     string
		wantOK bool
	}{
		{"canonical", "claude-opus-4-6", true},
		{"date suffix", "claude-sonnet-4-5-20250929", true},
		{"alias", "opus", true},
		{"alias mixed case", "Sonnet", true},
		{"uppercase canonical", "CLAUDE-HAIKU-4-5", true},
		{"whitespace", "  haiku  ", true},
		{"unknown", "gpt-untracked", false},
		{"empty", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, ok := ForModel(tt.id)
			if ok != tt.wantOK {
				t.Fatalf("ForModel(%q) ok = %v, want %v", tt.id, ok, tt.wantOK)
			}
			if ok && p.InputPerMTok <= 0 {
				t.Errorf("ForModel(%q) returned zero pricing", tt.id)
			}
		})
	}
}

func TestAliasOpusPointsAtCurrentGeneration(t *testing.T) {
	alias, _ := ForModel("opus")
	canonical, _ := ForModel("claude-opus-4-6")
	if alias != canonical {
		t.Errorf("alias pricing %+v != canonical %+v", alias, canonical)
	}
}

func TestDefaultModelHasPricing(t *testing.T) {
	if _, ok := ForModel(DefaultModel); !ok {
		t.Fatalf("default model %q missing from registry", DefaultModel)
	}
	if Default().InputPerMTok <= 0 {
		t.Error("default pricing is zero")
	}
}

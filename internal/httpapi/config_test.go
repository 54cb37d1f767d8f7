package httpapi

import (
	"reflect"
	"testing"
)

func TestConfigValidateAppliesDefaults(test *testing.T) {
	test.Parallel()
	cfg := Config{SessionSigningKey: "secret"}
	if err := cfg.Validate(); err != nil {
		test.Fatalf("validate: %v", err)
	}
	if cfg.ListenAddr != ":9090" {
		test.Fatalf("unexpected listen addr %q", cfg.ListenAddr)
	}
	if cfg.SessionIssuer != "tauth" {
		test.Fatalf("unexpected issuer %q", cfg.SessionIssuer)
	}
	if cfg.SessionCookieName != "app_session" {
		test.Fatalf("unexpected cookie name %q", cfg.SessionCookieName)
	}
	if len(cfg.AllowedOrigins) != 1 || cfg.AllowedOrigins[0] != "http://localhost:8000" {
		test.Fatalf("unexpected origins %v", cfg.AllowedOrigins)
	}
}

func TestConfigValidateRequiresSigningKey(test *testing.T) {
	test.Parallel()
	cfg := Config{}
	if err := cfg.Validate(); err == nil {
		test.Fatal("expected error for missing signing key")
	}
}

func TestParseAllowedOrigins(test *testing.T) {
	test.Parallel()
	cases := []struct {
		name string
		raw  string
		want []string
	}{
		{name: "empty", raw: " ", want: []string{}},
		{name: "single", raw: "http://localhost:8000", want: []string{"http://localhost:8000"}},
		{name: "multiple with spaces", raw: "http://a.example, http://b.example ,", want: []string{"http://a.example", "http://b.example"}},
	}
	for _, testCase := range cases {
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			got := ParseAllowedOrigins(testCase.raw)
			if !reflect.DeepEqual(got, testCase.want) {
				test.Fatalf("expected %v, got %v", testCase.want, got)
			}
		})
	}
}

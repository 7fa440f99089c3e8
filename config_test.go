package rdc

import "testing"

func TestValidateConfig_Defaults(t *testing.T) {
	cfg := defaultConfig()
	if err := validateConfig(&cfg); err != nil {
		t.Fatalf("validateConfig returned error for defaults: %v", err)
	}
}

func TestDefaultConfig_Values(t *testing.T) {
	cfg := defaultConfig()
	if cfg.TrackerURI != "127.0.0.1" {
		t.Fatalf("TrackerURI default = %q; want 127.0.0.1", cfg.TrackerURI)
	}
	if cfg.TrackerPort != 9000 {
		t.Fatalf("TrackerPort default = %d; want 9000", cfg.TrackerPort)
	}
	if cfg.Restart {
		t.Fatalf("Restart default = true; want false")
	}
	if cfg.ConnectRetry != 5 {
		t.Fatalf("ConnectRetry default = %d; want 5", cfg.ConnectRetry)
	}
	if cfg.ReduceRingMincount != 32<<20 {
		t.Fatalf("ReduceRingMincount default = %d; want %d", cfg.ReduceRingMincount, 32<<20)
	}
	if cfg.MetricsProvider == nil {
		t.Fatalf("MetricsProvider default is nil")
	}
}

func TestValidateConfig_RejectsInvalidValues(t *testing.T) {
	cases := []struct {
		name string
		mut  func(*Config)
	}{
		{"zero tracker port", func(c *Config) { c.TrackerPort = 0 }},
		{"negative tracker port", func(c *Config) { c.TrackerPort = -1 }},
		{"negative connect retry", func(c *Config) { c.ConnectRetry = -1 }},
		{"negative ring mincount", func(c *Config) { c.ReduceRingMincount = -1 }},
		{"nil metrics provider", func(c *Config) { c.MetricsProvider = nil }},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			cfg := defaultConfig()
			tc.mut(&cfg)
			if err := validateConfig(&cfg); err == nil {
				t.Fatalf("expected error for %s, got nil", tc.name)
			}
		})
	}
}

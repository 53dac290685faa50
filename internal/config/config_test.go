package config

import (
	"os"
	"path/filepath"
	"testing"
)

func TestDefault(t *testing.T) {
	cfg := Default()

	if cfg.MinLevel != 3 || cfg.MaxLevel != 7 {
		t.Errorf("expected levels 3..7, got %d..%d", cfg.MinLevel, cfg.MaxLevel)
	}
	if cfg.NumAnchors() != 9 {
		t.Errorf("expected 9 anchors, got %d", cfg.NumAnchors())
	}
	if cfg.BatchNormEpsilon != 1e-3 {
		t.Errorf("expected epsilon 1e-3, got %v", cfg.BatchNormEpsilon)
	}
	if !cfg.SeparableConv || !cfg.ApplyBNForResampling || !cfg.IsTrainingBN {
		t.Error("expected separable conv, bn for resampling and training bn to be on")
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr bool
	}{
		{"valid", func(c *Config) {}, false},
		{"zero image", func(c *Config) { c.ImageSize = Size{} }, true},
		{"min level too high", func(c *Config) { c.MinLevel = 6 }, true},
		{"max below min", func(c *Config) { c.MaxLevel = 2 }, true},
		{"no filters", func(c *Config) { c.FPNNumFilters = 0 }, true},
		{"channels first", func(c *Config) { c.DataFormat = "channels_first" }, true},
		{"unknown act", func(c *Config) { c.ActType = "gelu" }, true},
		{"unknown pooling", func(c *Config) { c.PoolingType = "median" }, true},
		{"unknown strategy", func(c *Config) { c.Strategy = "cpu" }, true},
		{"unknown fpn", func(c *Config) { c.FPNName = "qufpn" }, true},
		{"survival out of range", func(c *Config) { c.SurvivalProb = 1.5 }, true},
		{"avg pooling", func(c *Config) { c.PoolingType = "avg" }, false},
		{"tpu strategy", func(c *Config) { c.Strategy = "tpu" }, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetPresets(t *testing.T) {
	tests := []struct {
		name     string
		backbone string
		image    int
		filters  int
		cells    int
		repeats  int
	}{
		{"efficientdet-d0", "efficientnet-b0", 512, 64, 3, 3},
		{"efficientdet-d1", "efficientnet-b1", 640, 88, 4, 3},
		{"efficientdet-d3", "efficientnet-b3", 896, 160, 6, 4},
		{"efficientdet-d7", "efficientnet-b6", 1536, 384, 8, 5},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, err := Get(tt.name)
			if err != nil {
				t.Fatalf("Get(%s): %v", tt.name, err)
			}
			if cfg.BackboneName != tt.backbone {
				t.Errorf("backbone: expected %s, got %s", tt.backbone, cfg.BackboneName)
			}
			if cfg.ImageSize.Height != tt.image || cfg.ImageSize.Width != tt.image {
				t.Errorf("image size: expected %d, got %s", tt.image, cfg.ImageSize)
			}
			if cfg.FPNNumFilters != tt.filters || cfg.FPNCellRepeats != tt.cells || cfg.BoxClassRepeats != tt.repeats {
				t.Errorf("unexpected fpn params: %d/%d/%d", cfg.FPNNumFilters, cfg.FPNCellRepeats, cfg.BoxClassRepeats)
			}
		})
	}

	if cfg, err := Get(""); err != nil || cfg.Name != DefaultModelName {
		t.Errorf("empty name should select %s, got %v (%v)", DefaultModelName, cfg, err)
	}
	if _, err := Get("efficientdet-d9"); err == nil {
		t.Error("expected error for unknown preset")
	}
	if d7, _ := Get("efficientdet-d7"); d7.FPNWeightMethod != "sum" || d7.AnchorScale != 5.0 {
		t.Errorf("d7 should use sum fusion and anchor scale 5, got %q %v", d7.FPNWeightMethod, d7.AnchorScale)
	}
}

func TestFeatSizes(t *testing.T) {
	sizes := FeatSizes(Size{Height: 512, Width: 512}, 7)
	want := []int{512, 256, 128, 64, 32, 16, 8, 4}
	if len(sizes) != len(want) {
		t.Fatalf("expected %d sizes, got %d", len(want), len(sizes))
	}
	for i, w := range want {
		if sizes[i].Height != w || sizes[i].Width != w {
			t.Errorf("level %d: expected %d, got %s", i, w, sizes[i])
		}
	}

	odd := FeatSizes(Size{Height: 5, Width: 9}, 2)
	if odd[1] != (Size{Height: 3, Width: 5}) || odd[2] != (Size{Height: 2, Width: 3}) {
		t.Errorf("odd sizes should round up, got %v", odd)
	}
}

func TestParseImageSize(t *testing.T) {
	tests := []struct {
		in      string
		want    Size
		wantErr bool
	}{
		{"512", Size{Height: 512, Width: 512}, false},
		{"1280x640", Size{Height: 640, Width: 1280}, false},
		{"640x", Size{}, true},
		{"big", Size{}, true},
	}
	for _, tt := range tests {
		got, err := ParseImageSize(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseImageSize(%q) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseImageSize(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestOverride(t *testing.T) {
	cfg, err := Get("efficientdet-d0")
	if err != nil {
		t.Fatal(err)
	}
	orig := cfg.Clone()

	ov, err := ParseOverrides("fpn_num_filters=32, separable_conv=false, pooling_type=avg, image_size=1280x640")
	if err != nil {
		t.Fatalf("ParseOverrides: %v", err)
	}
	if err := cfg.Override(ov); err != nil {
		t.Fatalf("Override: %v", err)
	}

	if cfg.FPNNumFilters != 32 || cfg.SeparableConv || cfg.PoolingType != "avg" {
		t.Errorf("overrides not applied: %+v", cfg)
	}
	if cfg.ImageSize != (Size{Height: 640, Width: 1280}) {
		t.Errorf("image size override not applied: %s", cfg.ImageSize)
	}
	if cfg.BackboneName != "efficientnet-b0" || len(cfg.AspectRatios) != 3 {
		t.Errorf("untouched fields must survive the round trip: %+v", cfg)
	}
	if orig.FPNNumFilters != 64 {
		t.Error("Clone must not share state with the overridden config")
	}
}

func TestOverrideRejectsUnknownKeysAndInvalidValues(t *testing.T) {
	cfg := Default()
	if err := cfg.Override(map[string]interface{}{"fpn_num_filter": 32}); err == nil {
		t.Error("expected error for misspelled key")
	}
	if err := cfg.Override(map[string]interface{}{"min_level": 9}); err == nil {
		t.Error("expected validation error")
	}
	if cfg.MinLevel != 3 {
		t.Errorf("failed override must leave config untouched, got min_level %d", cfg.MinLevel)
	}
	if _, err := ParseOverrides("novalue"); err == nil {
		t.Error("expected error for pair without '='")
	}
}

func TestLoadOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "overrides.yaml")
	if err := os.WriteFile(path, []byte("act_type: relu\nbox_class_repeats: 1\n"), 0644); err != nil {
		t.Fatal(err)
	}
	ov, err := LoadOverrides(path)
	if err != nil {
		t.Fatalf("LoadOverrides: %v", err)
	}
	cfg := Default()
	if err := cfg.Override(ov); err != nil {
		t.Fatalf("Override: %v", err)
	}
	if cfg.ActType != "relu" || cfg.BoxClassRepeats != 1 {
		t.Errorf("file overrides not applied: %s %d", cfg.ActType, cfg.BoxClassRepeats)
	}

	if _, err := LoadOverrides(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}

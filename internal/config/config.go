package config

import (
	"fmt"
	"strings"
)

const (
	DefaultModelName = "efficientdet-d1"
	ChannelsLast     = "channels_last"
)

// Config holds the detector hyper-parameters shared by both architecture
// variants. Builders treat it as read-only; use Clone before overriding.
type Config struct {
	Name         string `yaml:"name"`
	BackboneName string `yaml:"backbone_name"`
	ImageSize    Size   `yaml:"image_size"`
	NumClasses   int    `yaml:"num_classes"`

	MinLevel     int          `yaml:"min_level"`
	MaxLevel     int          `yaml:"max_level"`
	NumScales    int          `yaml:"num_scales"`
	AspectRatios [][2]float64 `yaml:"aspect_ratios"`
	AnchorScale  float64      `yaml:"anchor_scale"`

	IsTrainingBN      bool    `yaml:"is_training_bn"`
	BatchNormMomentum float64 `yaml:"batch_norm_momentum"`
	BatchNormEpsilon  float64 `yaml:"batch_norm_epsilon"`
	ActType           string  `yaml:"act_type"`
	Strategy          string  `yaml:"strategy"`
	DataFormat        string  `yaml:"data_format"`

	BoxClassRepeats      int     `yaml:"box_class_repeats"`
	FPNCellRepeats       int     `yaml:"fpn_cell_repeats"`
	FPNNumFilters        int     `yaml:"fpn_num_filters"`
	SeparableConv        bool    `yaml:"separable_conv"`
	ApplyBNForResampling bool    `yaml:"apply_bn_for_resampling"`
	ConvAfterDownsample  bool    `yaml:"conv_after_downsample"`
	ConvBNActPattern     bool    `yaml:"conv_bn_act_pattern"`
	UseNativeResizeOp    bool    `yaml:"use_native_resize_op"`
	PoolingType          string  `yaml:"pooling_type"`
	FPNName              string  `yaml:"fpn_name"`
	FPNWeightMethod      string  `yaml:"fpn_weight_method"`
	SurvivalProb         float64 `yaml:"survival_prob"`
}

var (
	knownActs       = []string{"swish", "swish_native", "relu", "relu6"}
	knownStrategies = []string{"", "tpu", "gpus"}
	knownPooling    = []string{"", "max", "avg"}
	knownFPN        = []string{"", "bifpn", "bifpn_dyn", "fpn"}
	knownWeights    = []string{"", "attn", "fastattn", "sum", "channel_attn", "channel_fastattn"}
)

// Default returns the base detection configuration without a model preset applied.
func Default() Config {
	return Config{
		Name:         DefaultModelName,
		BackboneName: "efficientnet-b1",
		ImageSize:    Size{Height: 640, Width: 640},
		NumClasses:   90,

		MinLevel:     3,
		MaxLevel:     7,
		NumScales:    3,
		AspectRatios: [][2]float64{{1.0, 1.0}, {1.4, 0.7}, {0.7, 1.4}},
		AnchorScale:  4.0,

		IsTrainingBN:      true,
		BatchNormMomentum: 0.99,
		BatchNormEpsilon:  1e-3,
		ActType:           "swish",
		DataFormat:        ChannelsLast,

		BoxClassRepeats:      3,
		FPNCellRepeats:       3,
		FPNNumFilters:        88,
		SeparableConv:        true,
		ApplyBNForResampling: true,
	}
}

func (c *Config) Validate() error {
	if c.ImageSize.Height <= 0 || c.ImageSize.Width <= 0 {
		return fmt.Errorf("invalid image_size: %s (must be positive)", c.ImageSize)
	}
	if c.NumClasses <= 0 {
		return fmt.Errorf("invalid num_classes: %d (must be positive)", c.NumClasses)
	}
	if c.MinLevel < 1 || c.MinLevel > 5 {
		return fmt.Errorf("invalid min_level: %d (backbone provides levels 1..5)", c.MinLevel)
	}
	if c.MaxLevel < c.MinLevel {
		return fmt.Errorf("invalid max_level: %d (must be >= min_level: %d)", c.MaxLevel, c.MinLevel)
	}
	if c.NumScales <= 0 {
		return fmt.Errorf("invalid num_scales: %d (must be positive)", c.NumScales)
	}
	if len(c.AspectRatios) == 0 {
		return fmt.Errorf("invalid aspect_ratios: at least one ratio required")
	}
	if c.FPNNumFilters <= 0 {
		return fmt.Errorf("invalid fpn_num_filters: %d (must be positive)", c.FPNNumFilters)
	}
	if c.FPNCellRepeats < 0 {
		return fmt.Errorf("invalid fpn_cell_repeats: %d (must be non-negative)", c.FPNCellRepeats)
	}
	if c.BoxClassRepeats < 0 {
		return fmt.Errorf("invalid box_class_repeats: %d (must be non-negative)", c.BoxClassRepeats)
	}
	if c.BatchNormEpsilon <= 0 {
		return fmt.Errorf("invalid batch_norm_epsilon: %g (must be positive)", c.BatchNormEpsilon)
	}
	if c.SurvivalProb < 0 || c.SurvivalProb > 1 {
		return fmt.Errorf("invalid survival_prob: %g (must be in [0, 1])", c.SurvivalProb)
	}
	if c.DataFormat != ChannelsLast {
		return fmt.Errorf("unsupported data_format: %q (only %s)", c.DataFormat, ChannelsLast)
	}
	if !oneOf(c.ActType, knownActs) {
		return fmt.Errorf("unknown act_type: %q", c.ActType)
	}
	if !oneOf(c.Strategy, knownStrategies) {
		return fmt.Errorf("unknown strategy: %q", c.Strategy)
	}
	if !oneOf(c.PoolingType, knownPooling) {
		return fmt.Errorf("unknown pooling_type: %q", c.PoolingType)
	}
	if !oneOf(c.FPNName, knownFPN) {
		return fmt.Errorf("unknown fpn_name: %q", c.FPNName)
	}
	if !oneOf(c.FPNWeightMethod, knownWeights) {
		return fmt.Errorf("unknown fpn_weight_method: %q", c.FPNWeightMethod)
	}
	if !strings.HasPrefix(c.BackboneName, "efficientnet-b") {
		return fmt.Errorf("unsupported backbone_name: %q", c.BackboneName)
	}
	return nil
}

// NumAnchors is the number of anchors per feature map location.
func (c *Config) NumAnchors() int {
	return len(c.AspectRatios) * c.NumScales
}

func (c *Config) Clone() *Config {
	out := *c
	out.AspectRatios = make([][2]float64, len(c.AspectRatios))
	copy(out.AspectRatios, c.AspectRatios)
	return &out
}

func oneOf(v string, set []string) bool {
	for _, s := range set {
		if v == s {
			return true
		}
	}
	return false
}

package backbone

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// BlockArgs describes one stage of MBConv blocks.
type BlockArgs struct {
	KernelSize    int
	NumRepeat     int
	InputFilters  int
	OutputFilters int
	ExpandRatio   int
	IDSkip        bool
	Strides       [2]int
	SERatio       float64
}

// DefaultBlocks is the EfficientNet-B0 stage layout.
var DefaultBlocks = []string{
	"r1_k3_s11_e1_i32_o16_se0.25",
	"r2_k3_s22_e6_i16_o24_se0.25",
	"r2_k5_s22_e6_i24_o40_se0.25",
	"r3_k3_s22_e6_i40_o80_se0.25",
	"r3_k5_s11_e6_i80_o112_se0.25",
	"r4_k5_s22_e6_i112_o192_se0.25",
	"r1_k3_s11_e6_i192_o320_se0.25",
}

// DecodeBlockArgs parses the compact notation, e.g. "r2_k3_s22_e6_i16_o24_se0.25".
// A "noskip" part disables the identity shortcut.
func DecodeBlockArgs(s string) (BlockArgs, error) {
	b := BlockArgs{IDSkip: true}
	seen := map[string]bool{}
	for _, part := range strings.Split(s, "_") {
		if part == "noskip" {
			b.IDSkip = false
			continue
		}
		key, val := splitOption(part)
		if key == "" {
			return b, fmt.Errorf("block args %q: malformed option %q", s, part)
		}
		seen[key] = true
		var err error
		switch key {
		case "r":
			b.NumRepeat, err = strconv.Atoi(val)
		case "k":
			b.KernelSize, err = strconv.Atoi(val)
		case "i":
			b.InputFilters, err = strconv.Atoi(val)
		case "o":
			b.OutputFilters, err = strconv.Atoi(val)
		case "e":
			b.ExpandRatio, err = strconv.Atoi(val)
		case "se":
			b.SERatio, err = strconv.ParseFloat(val, 64)
		case "s":
			if len(val) != 2 {
				return b, fmt.Errorf("block args %q: strides %q must have two digits", s, val)
			}
			b.Strides = [2]int{int(val[0] - '0'), int(val[1] - '0')}
		default:
			return b, fmt.Errorf("block args %q: unknown option %q", s, key)
		}
		if err != nil {
			return b, fmt.Errorf("block args %q: option %s: %w", s, key, err)
		}
	}
	if !seen["s"] {
		return b, fmt.Errorf("block args %q: strides option is required", s)
	}
	for _, k := range []string{"r", "k", "i", "o", "e"} {
		if !seen[k] {
			return b, fmt.Errorf("block args %q: option %s is required", s, k)
		}
	}
	return b, nil
}

func splitOption(part string) (key, val string) {
	for i, r := range part {
		if r >= '0' && r <= '9' {
			return part[:i], part[i:]
		}
	}
	return "", ""
}

// String encodes the arguments back into the compact notation.
func (b BlockArgs) String() string {
	parts := []string{
		fmt.Sprintf("r%d", b.NumRepeat),
		fmt.Sprintf("k%d", b.KernelSize),
		fmt.Sprintf("s%d%d", b.Strides[0], b.Strides[1]),
		fmt.Sprintf("e%d", b.ExpandRatio),
		fmt.Sprintf("i%d", b.InputFilters),
		fmt.Sprintf("o%d", b.OutputFilters),
	}
	if b.SERatio > 0 && b.SERatio <= 1 {
		parts = append(parts, "se"+strconv.FormatFloat(b.SERatio, 'g', -1, 64))
	}
	if !b.IDSkip {
		parts = append(parts, "noskip")
	}
	return strings.Join(parts, "_")
}

func (b BlockArgs) hasSE() bool { return b.SERatio > 0 && b.SERatio <= 1 }

// Params are the global scaling parameters of one EfficientNet variant.
type Params struct {
	WidthCoefficient float64
	DepthCoefficient float64
	Resolution       int
	DropoutRate      float64
	DepthDivisor     int
	MinDepth         int
	SurvivalProb     float64
}

var scaling = map[string]Params{
	"efficientnet-b0": {WidthCoefficient: 1.0, DepthCoefficient: 1.0, Resolution: 224, DropoutRate: 0.2},
	"efficientnet-b1": {WidthCoefficient: 1.0, DepthCoefficient: 1.1, Resolution: 240, DropoutRate: 0.2},
	"efficientnet-b2": {WidthCoefficient: 1.1, DepthCoefficient: 1.2, Resolution: 260, DropoutRate: 0.3},
	"efficientnet-b3": {WidthCoefficient: 1.2, DepthCoefficient: 1.4, Resolution: 300, DropoutRate: 0.3},
	"efficientnet-b4": {WidthCoefficient: 1.4, DepthCoefficient: 1.8, Resolution: 380, DropoutRate: 0.4},
	"efficientnet-b5": {WidthCoefficient: 1.6, DepthCoefficient: 2.2, Resolution: 456, DropoutRate: 0.4},
	"efficientnet-b6": {WidthCoefficient: 1.8, DepthCoefficient: 2.6, Resolution: 528, DropoutRate: 0.5},
	"efficientnet-b7": {WidthCoefficient: 2.0, DepthCoefficient: 3.1, Resolution: 600, DropoutRate: 0.5},
}

// ParamsFor returns the scaling parameters of a named backbone.
func ParamsFor(name string) (Params, error) {
	p, ok := scaling[name]
	if !ok {
		return Params{}, fmt.Errorf("unknown backbone %q", name)
	}
	p.DepthDivisor = 8
	p.SurvivalProb = 0.8
	return p, nil
}

// RoundFilters scales a channel count by the width coefficient and rounds
// it to a multiple of the depth divisor, never dropping more than 10%.
func RoundFilters(filters int, p Params) int {
	if p.WidthCoefficient == 0 {
		return filters
	}
	divisor := p.DepthDivisor
	if divisor == 0 {
		divisor = 8
	}
	minDepth := p.MinDepth
	if minDepth == 0 {
		minDepth = divisor
	}
	f := float64(filters) * p.WidthCoefficient
	n := int(f+float64(divisor)/2) / divisor * divisor
	if n < minDepth {
		n = minDepth
	}
	if float64(n) < 0.9*f {
		n += divisor
	}
	return n
}

// RoundRepeats scales a repeat count by the depth coefficient.
func RoundRepeats(repeats int, p Params) int {
	if p.DepthCoefficient == 0 {
		return repeats
	}
	return int(math.Ceil(p.DepthCoefficient * float64(repeats)))
}

package backbone

import (
	"strings"
	"testing"

	"github.com/Suraj520/automl/internal/config"
	"github.com/Suraj520/automl/internal/graph"
	"github.com/Suraj520/automl/internal/tensor"
)

func TestDecodeBlockArgs(t *testing.T) {
	tests := []struct {
		in      string
		want    BlockArgs
		wantErr bool
	}{
		{
			in:   "r2_k3_s22_e6_i16_o24_se0.25",
			want: BlockArgs{KernelSize: 3, NumRepeat: 2, InputFilters: 16, OutputFilters: 24, ExpandRatio: 6, IDSkip: true, Strides: [2]int{2, 2}, SERatio: 0.25},
		},
		{
			in:   "r1_k5_s11_e1_i32_o16_noskip",
			want: BlockArgs{KernelSize: 5, NumRepeat: 1, InputFilters: 32, OutputFilters: 16, ExpandRatio: 1, IDSkip: false, Strides: [2]int{1, 1}},
		},
		{in: "r1_k3_e1_i32_o16", wantErr: true},
		{in: "r1_k3_s1_e1_i32_o16", wantErr: true},
		{in: "r1_k3_s11_e1_i32_o16_x9", wantErr: true},
		{in: "r1_kk_s11", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := DecodeBlockArgs(tt.in)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error, got %+v", got)
				}
				return
			}
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("got %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestBlockArgsRoundTrip(t *testing.T) {
	for _, s := range DefaultBlocks {
		args, err := DecodeBlockArgs(s)
		if err != nil {
			t.Fatal(err)
		}
		if got := args.String(); got != s {
			t.Errorf("encode(%s) = %s", s, got)
		}
	}
}

func TestRoundFiltersAndRepeats(t *testing.T) {
	b0, _ := ParamsFor("efficientnet-b0")
	b4, _ := ParamsFor("efficientnet-b4")
	b7, _ := ParamsFor("efficientnet-b7")
	tests := []struct {
		name    string
		filters int
		p       Params
		want    int
	}{
		{"b0 unchanged", 32, b0, 32},
		{"b4 stem", 32, b4, 48},
		{"b4 head", 320, b4, 448},
		{"b7 small", 16, b7, 32},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := RoundFilters(tt.filters, tt.p); got != tt.want {
				t.Errorf("RoundFilters(%d) = %d, want %d", tt.filters, got, tt.want)
			}
		})
	}
	if got := RoundRepeats(3, b4); got != 6 {
		t.Errorf("RoundRepeats(3, b4) = %d, want 6", got)
	}
	if _, err := ParamsFor("resnet50"); err == nil {
		t.Error("expected unknown backbone error")
	}
}

func TestModelBlocks(t *testing.T) {
	m, err := NewModel("efficientnet-b0", Options{})
	if err != nil {
		t.Fatal(err)
	}
	blocks := m.Blocks()
	if len(blocks) != 16 {
		t.Fatalf("b0 has %d blocks, want 16", len(blocks))
	}
	if blocks[2].Strides != [2]int{1, 1} || blocks[2].InputFilters != 24 {
		t.Errorf("repeated block args = %+v", blocks[2])
	}
}

func TestBuildFeatureLevels(t *testing.T) {
	cfg, err := config.Get("efficientdet-d0")
	if err != nil {
		t.Fatal(err)
	}
	g := graph.New()
	images := g.Placeholder("images", 1, 512, 512, 3)
	feats, err := Build(g, images, cfg)
	if err != nil {
		t.Fatal(err)
	}
	want := map[int]string{
		0: "[1,512,512,3]",
		1: "[1,256,256,16]",
		2: "[1,128,128,24]",
		3: "[1,64,64,40]",
		4: "[1,32,32,112]",
		5: "[1,16,16,320]",
	}
	for level, shape := range want {
		if got := tensor.ShapeString(feats[level].Shape()); got != shape {
			t.Errorf("level %d shape = %s, want %s", level, got, shape)
		}
	}

	names := graph.Names(g.GlobalVariables())
	head := []string{
		"efficientnet-b0/stem/conv2d/kernel:0",
		"efficientnet-b0/stem/tpu_batch_normalization/gamma:0",
		"efficientnet-b0/stem/tpu_batch_normalization/beta:0",
		"efficientnet-b0/stem/tpu_batch_normalization/moving_mean:0",
		"efficientnet-b0/stem/tpu_batch_normalization/moving_variance:0",
		"efficientnet-b0/blocks_0/depthwise_conv2d/depthwise_kernel:0",
		"efficientnet-b0/blocks_0/tpu_batch_normalization/gamma:0",
	}
	for i, n := range head {
		if names[i] != n {
			t.Errorf("name %d = %s, want %s", i, names[i], n)
		}
	}
	for _, n := range []string{
		"efficientnet-b0/blocks_0/se/conv2d/kernel:0",
		"efficientnet-b0/blocks_0/se/conv2d_1/bias:0",
		"efficientnet-b0/blocks_0/conv2d/kernel:0",
		"efficientnet-b0/blocks_0/tpu_batch_normalization_1/moving_variance:0",
		"efficientnet-b0/blocks_1/conv2d/kernel:0",
		"efficientnet-b0/blocks_1/tpu_batch_normalization_2/gamma:0",
		"efficientnet-b0/blocks_1/conv2d_1/kernel:0",
		"efficientnet-b0/blocks_15/tpu_batch_normalization_2/beta:0",
	} {
		if _, ok := g.Lookup(strings.TrimSuffix(n, ":0")); !ok {
			t.Errorf("missing variable %s", n)
		}
	}
	if _, ok := g.Lookup("efficientnet-b0/blocks_16/conv2d/kernel"); ok {
		t.Error("b0 should stop at blocks_15")
	}
}

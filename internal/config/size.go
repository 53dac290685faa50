package config

import (
	"fmt"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Size is a spatial height/width pair.
type Size struct {
	Height int
	Width  int
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

// ParseImageSize accepts "512" for a square image or "WxH", e.g. "1280x640".
func ParseImageSize(s string) (Size, error) {
	s = strings.TrimSpace(s)
	if n, err := strconv.Atoi(s); err == nil {
		return Size{Height: n, Width: n}, nil
	}
	parts := strings.Split(s, "x")
	if len(parts) != 2 {
		return Size{}, fmt.Errorf("invalid image size %q (want N or WxH)", s)
	}
	w, err := strconv.Atoi(parts[0])
	if err != nil {
		return Size{}, fmt.Errorf("invalid image width in %q: %w", s, err)
	}
	h, err := strconv.Atoi(parts[1])
	if err != nil {
		return Size{}, fmt.Errorf("invalid image height in %q: %w", s, err)
	}
	return Size{Height: h, Width: w}, nil
}

func (s *Size) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("image_size must be a scalar, got %v at line %d", value.Tag, value.Line)
	}
	parsed, err := ParseImageSize(value.Value)
	if err != nil {
		return err
	}
	*s = parsed
	return nil
}

func (s Size) MarshalYAML() (interface{}, error) {
	if s.Height == s.Width {
		return s.Height, nil
	}
	return s.String(), nil
}

// FeatSizes returns the spatial size of every level from 0 (the image) to
// maxLevel; each level halves the previous one rounding up.
func FeatSizes(image Size, maxLevel int) []Size {
	sizes := make([]Size, 0, maxLevel+1)
	sizes = append(sizes, image)
	cur := image
	for i := 1; i <= maxLevel; i++ {
		cur = Size{Height: (cur.Height-1)/2 + 1, Width: (cur.Width-1)/2 + 1}
		sizes = append(sizes, cur)
	}
	return sizes
}

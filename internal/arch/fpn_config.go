package arch

import "fmt"

// FNode is one fusion node: the level it produces and the indices of the
// feature list entries it consumes. The feature list starts with the input
// levels and grows by one entry per node.
type FNode struct {
	FeatLevel     int
	InputsOffsets []int
}

func (n FNode) String() string {
	return fmt.Sprintf("{feat_level: %d, inputs_offsets: %v}", n.FeatLevel, n.InputsOffsets)
}

// FPNConfig is a fusion topology plus its weighting method.
type FPNConfig struct {
	Name         string
	Nodes        []FNode
	WeightMethod string
}

// GetFPNConfig returns the topology for fpnName over [minLevel, maxLevel].
// An empty name selects "bifpn".
func GetFPNConfig(fpnName string, minLevel, maxLevel int, weightMethod string) (*FPNConfig, error) {
	if maxLevel < minLevel {
		return nil, fmt.Errorf("fpn config: max_level %d < min_level %d", maxLevel, minLevel)
	}
	switch fpnName {
	case "", "bifpn":
		return biFPNConfig("bifpn", minLevel, maxLevel, orDefault(weightMethod, "fastattn")), nil
	case "bifpn_dyn":
		return biFPNConfig("bifpn_dyn", minLevel, maxLevel, orDefault(weightMethod, "sum")), nil
	case "fpn":
		return topDownConfig(minLevel, maxLevel, orDefault(weightMethod, "sum")), nil
	}
	return nil, fmt.Errorf("unknown fpn_name: %s", fpnName)
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// nodeIDs tracks, per level, the feature list indices holding that level.
type nodeIDs map[int][]int

func newNodeIDs(minLevel, maxLevel int) nodeIDs {
	ids := nodeIDs{}
	for i := 0; i <= maxLevel-minLevel; i++ {
		ids[minLevel+i] = []int{i}
	}
	return ids
}

func (ids nodeIDs) last(level int) int { return ids[level][len(ids[level])-1] }

func (ids nodeIDs) all(level int) []int { return append([]int(nil), ids[level]...) }

// biFPNConfig builds a top-down pass followed by a bottom-up pass where every
// bottom-up node also takes all earlier nodes of its level.
func biFPNConfig(name string, minLevel, maxLevel int, weightMethod string) *FPNConfig {
	ids := newNodeIDs(minLevel, maxLevel)
	next := maxLevel - minLevel + 1
	p := &FPNConfig{Name: name, WeightMethod: weightMethod}
	for i := maxLevel - 1; i >= minLevel; i-- {
		p.Nodes = append(p.Nodes, FNode{FeatLevel: i, InputsOffsets: []int{ids.last(i), ids.last(i + 1)}})
		ids[i] = append(ids[i], next)
		next++
	}
	for i := minLevel + 1; i <= maxLevel; i++ {
		p.Nodes = append(p.Nodes, FNode{FeatLevel: i, InputsOffsets: append(ids.all(i), ids.last(i-1))})
		ids[i] = append(ids[i], next)
		next++
	}
	return p
}

// topDownConfig is the classic FPN: a single top-down pass.
func topDownConfig(minLevel, maxLevel int, weightMethod string) *FPNConfig {
	ids := newNodeIDs(minLevel, maxLevel)
	next := maxLevel - minLevel + 1
	p := &FPNConfig{Name: "fpn", WeightMethod: weightMethod}
	for i := maxLevel - 1; i >= minLevel; i-- {
		p.Nodes = append(p.Nodes, FNode{FeatLevel: i, InputsOffsets: []int{ids.last(i), ids.last(i + 1)}})
		ids[i] = append(ids[i], next)
		next++
	}
	return p
}

// OutputNodes maps every level to the index of the last node producing it.
// Levels no node produces keep their input index.
func (p *FPNConfig) OutputNodes(minLevel, maxLevel int) map[int]int {
	out := make(map[int]int)
	numInputs := maxLevel - minLevel + 1
	for level := minLevel; level <= maxLevel; level++ {
		out[level] = level - minLevel
		for i := len(p.Nodes) - 1; i >= 0; i-- {
			if p.Nodes[i].FeatLevel == level {
				out[level] = numInputs + i
				break
			}
		}
	}
	return out
}

package search

import (
	"math"
	"strings"

	"github.com/zen-systems/thinkgate/pkg/reasoning"
)

// node is a position in the reasoning tree. The root carries no step.
type node struct {
	step     *reasoning.Step
	parent   *node
	children []*node
	depth    int

	confidence float64
	visits     int
	value      float64
}

func newRoot() *node {
	return &node{confidence: 0.5, visits: 1, value: 0.5}
}

func (n *node) index() int {
	if n.step == nil {
		return 0
	}
	return n.step.Index
}

func (n *node) strategy() reasoning.Strategy {
	if n.step == nil {
		return ""
	}
	return n.step.Strategy
}

func (n *node) mean() float64 {
	if n.visits == 0 {
		return 0
	}
	return n.value / float64(n.visits)
}

// path returns the steps from the root down to n.
func (n *node) path() []reasoning.Step {
	var out []reasoning.Step
	for cur := n; cur != nil && cur.step != nil; cur = cur.parent {
		out = append(out, *cur.step)
	}
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out
}

func (n *node) backpropagate(reward float64) {
	for cur := n; cur != nil; cur = cur.parent {
		cur.visits++
		cur.value += reward
	}
}

// tree tracks nodes and strategy usage for one search.
type tree struct {
	root  *node
	nodes []*node

	strategyCount map[reasoning.Strategy]int
	strategyConf  map[reasoning.Strategy]float64
}

func newTree() *tree {
	root := newRoot()
	return &tree{
		root:          root,
		nodes:         []*node{root},
		strategyCount: make(map[reasoning.Strategy]int),
		strategyConf:  make(map[reasoning.Strategy]float64),
	}
}

func (t *tree) steps() int {
	return len(t.nodes) - 1
}

func (t *tree) add(parent *node, step reasoning.Step) *node {
	s := step
	child := &node{step: &s, parent: parent, depth: parent.depth + 1, confidence: step.Confidence}
	parent.children = append(parent.children, child)
	t.nodes = append(t.nodes, child)
	t.strategyCount[step.Strategy]++
	t.strategyConf[step.Strategy] += step.Confidence
	return child
}

// share is the fraction of steps that used strategy s.
func (t *tree) share(s reasoning.Strategy) float64 {
	total := t.steps()
	if total == 0 || s == "" {
		return 0
	}
	return float64(t.strategyCount[s]) / float64(total)
}

// score is the upper-confidence-bound used to pick the node to expand. It
// trades the node's recorded confidence against how often the node was
// already expanded and how common its strategy is in the tree.
func (t *tree) score(n *node, c, penalty float64) float64 {
	total := float64(t.steps())
	explore := c * math.Sqrt(math.Log(total+1)/float64(len(n.children)+1))
	return n.confidence + explore - penalty*t.share(n.strategy())
}

// selectNode returns the highest-scoring node whose children would stay
// within maxDepth. Ties prefer deeper, then later, nodes.
func (t *tree) selectNode(c, penalty float64, maxDepth int) (*node, float64) {
	var best *node
	bestScore := math.Inf(-1)
	for _, n := range t.nodes {
		if n.depth >= maxDepth {
			continue
		}
		s := t.score(n, c, penalty)
		if best == nil || s > bestScore ||
			(s == bestScore && (n.depth > best.depth || (n.depth == best.depth && n.index() > best.index()))) {
			best, bestScore = n, s
		}
	}
	return best, bestScore
}

// strategyHint picks the strategy with the best UCB over past use. Untried
// strategies start from a neutral prior so they get explored.
func (t *tree) strategyHint(c float64) reasoning.Strategy {
	total := float64(t.steps())
	var best reasoning.Strategy
	bestScore := math.Inf(-1)
	for _, s := range reasoning.Strategies {
		count := t.strategyCount[s]
		avg := 0.5
		if count > 0 {
			avg = t.strategyConf[s] / float64(count)
		}
		score := avg + c*math.Sqrt(math.Log(total+1)/float64(count+1))
		if score > bestScore {
			best, bestScore = s, score
		}
	}
	return best
}

// reward blends the step's advisory confidence with a structural estimate of
// path quality: depth, step length and strategy diversity along the path.
func reward(n *node, confidence float64) float64 {
	depthValue := math.Min(float64(n.depth)/5.0, 1)

	words := 0
	if n.step != nil {
		words = len(strings.Fields(n.step.Content))
	}
	lengthValue := math.Min(float64(words)/50.0, 1)

	seen := make(map[reasoning.Strategy]bool)
	for cur := n; cur != nil && cur.step != nil; cur = cur.parent {
		seen[cur.step.Strategy] = true
	}
	diversity := float64(len(seen)) / float64(len(reasoning.Strategies))

	structural := depthValue*0.4 + lengthValue*0.4 + diversity*0.2
	return 0.5*confidence + 0.5*structural
}

// bestLeaf follows the highest mean child from the root.
func (t *tree) bestLeaf() *node {
	cur := t.root
	for len(cur.children) > 0 {
		next := cur.children[0]
		for _, child := range cur.children[1:] {
			if child.mean() > next.mean() || (child.mean() == next.mean() && child.visits > next.visits) {
				next = child
			}
		}
		cur = next
	}
	return cur
}

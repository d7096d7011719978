package hbl

import (
	"fmt"
	"runtime"
	"strings"

	"github.com/goccy/go-graphviz"
	"github.com/goccy/go-graphviz/cgraph"
	"github.com/tarstars/binned_boosting/golang/hist_boost/binning"
	"gonum.org/v1/gonum/mat"
)

//TreeNode is a node of a tree. Tree is stored in an array. LeftIndex and RightIndex are equal to -1
//when the current node is a leaf otherwise they contain array indices of children.
type TreeNode struct {
	TreeNodeId            int
	FeatureNumber         int     // -1 for a leaf
	Threshold             float64 // samples with value <= Threshold go left
	BinThreshold          uint8   // samples with code <= BinThreshold go left
	LeftIndex, RightIndex int     // -1, -1 if it is a leaf
	IsLeaf                bool
	Value                 float64
	Depth                 int
	NumberOfObjects       int
	Gain                  float64
}

//NewTreeNode creates a leaf without a value.
func NewTreeNode(treeNodeId, depth, numberOfObjects int) TreeNode {
	return TreeNode{
		TreeNodeId:      treeNodeId,
		FeatureNumber:   -1,
		LeftIndex:       -1,
		RightIndex:      -1,
		IsLeaf:          true,
		Depth:           depth,
		NumberOfObjects: numberOfObjects,
	}
}

//GraphDescription returns the description of a tree node for tree rendering as a graph
func (node TreeNode) GraphDescription() string {
	var sb strings.Builder
	sb.WriteString(fmt.Sprintln("#", node.NumberOfObjects))
	sb.WriteString(fmt.Sprintln("id: ", node.TreeNodeId))
	if node.IsLeaf {
		sb.WriteString(fmt.Sprintf("value: %6.5f", node.Value))
		return sb.String()
	}
	sb.WriteString(fmt.Sprintln("gain: ", node.Gain))
	sb.WriteString(fmt.Sprintf("f_%d <= %6.5f (bin %d)", node.FeatureNumber, node.Threshold, node.BinThreshold))
	return sb.String()
}

//Predictor is a compiled read-only tree.
type Predictor struct {
	Nodes []TreeNode
}

//NewPredictor wraps a node array; the root is the first node.
func NewPredictor(nodes []TreeNode) *Predictor {
	return &Predictor{Nodes: nodes}
}

//NLeafNodes returns the number of leaves.
func (p *Predictor) NLeafNodes() int {
	n := 0
	for _, node := range p.Nodes {
		if node.IsLeaf {
			n++
		}
	}
	return n
}

//MaxDepth returns the depth of the deepest leaf.
func (p *Predictor) MaxDepth() int {
	depth := 0
	for _, node := range p.Nodes {
		if node.Depth > depth {
			depth = node.Depth
		}
	}
	return depth
}

//Predict evaluates the tree on raw features by comparing values with real thresholds.
func (p *Predictor) Predict(features mat.Matrix) []float64 {
	h, _ := features.Dims()
	prediction := make([]float64, h)
	p.forEachSample(h, func(sample int) {
		ind := 0
		for !p.Nodes[ind].IsLeaf {
			node := &p.Nodes[ind]
			if features.At(sample, node.FeatureNumber) <= node.Threshold {
				ind = node.LeftIndex
			} else {
				ind = node.RightIndex
			}
		}
		prediction[sample] = p.Nodes[ind].Value
	})
	return prediction
}

//PredictBinned evaluates the tree on bin codes produced by the mapper the tree was trained with.
func (p *Predictor) PredictBinned(binned *binning.BinnedMatrix) []float64 {
	h, _ := binned.Dims()
	prediction := make([]float64, h)
	p.forEachSample(h, func(sample int) {
		ind := 0
		for !p.Nodes[ind].IsLeaf {
			node := &p.Nodes[ind]
			if binned.At(sample, node.FeatureNumber) <= node.BinThreshold {
				ind = node.LeftIndex
			} else {
				ind = node.RightIndex
			}
		}
		prediction[sample] = p.Nodes[ind].Value
	})
	return prediction
}

//predictChunk is the smallest number of samples worth a separate goroutine.
const predictChunk = 4096

func (p *Predictor) forEachSample(h int, predict func(sample int)) {
	threadsNum := runtime.GOMAXPROCS(0)
	if chunks := h / predictChunk; chunks < threadsNum {
		threadsNum = chunks
	}
	if threadsNum <= 1 {
		for sample := 0; sample < h; sample++ {
			predict(sample)
		}
		return
	}
	taskPool := NewPool(threadsNum)
	for _, rng := range ChunkRanges(h, threadsNum) {
		taskPool.AddTask(&TaskPredictRange{rng: rng, predict: predict})
	}
	taskPool.Close()
	taskPool.WaitAll()
}

func recurrentDraw(g *cgraph.Graph, tree *Predictor, nodeNumber int, parentNode *cgraph.Node) error {
	if nodeNumber < 0 || nodeNumber >= len(tree.Nodes) {
		return fmt.Errorf("node index %d is out of range [0, %d)", nodeNumber, len(tree.Nodes))
	}
	currentNode, err := g.CreateNode(fmt.Sprint(tree.Nodes[nodeNumber].TreeNodeId))
	if err != nil {
		return err
	}

	if parentNode != nil {
		if _, err := g.CreateEdge("", parentNode, currentNode); err != nil {
			return err
		}
	}

	currentNode.Set("label", tree.Nodes[nodeNumber].GraphDescription())
	if tree.Nodes[nodeNumber].IsLeaf {
		currentNode.Set("shape", "box")
		return nil
	}
	if err := recurrentDraw(g, tree, tree.Nodes[nodeNumber].LeftIndex, currentNode); err != nil {
		return err
	}
	return recurrentDraw(g, tree, tree.Nodes[nodeNumber].RightIndex, currentNode)
}

//DrawGraph builds a graphviz representation of the tree. The caller closes both values.
func (p *Predictor) DrawGraph() (*graphviz.Graphviz, *cgraph.Graph, error) {
	graphViz := graphviz.New()
	graph, err := graphViz.Graph()
	if err != nil {
		_ = graphViz.Close()
		return nil, nil, err
	}

	if err := recurrentDraw(graph, p, 0, nil); err != nil {
		_ = graph.Close()
		_ = graphViz.Close()
		return nil, nil, err
	}

	return graphViz, graph, nil
}

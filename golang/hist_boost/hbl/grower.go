package hbl

import (
	"container/heap"
	"fmt"
	"time"

	"github.com/tarstars/binned_boosting/golang/hist_boost/binning"
)

type growerState int

const (
	growing growerState = iota
	finished
)

//growingLeaf is a leaf of a tree under construction. Its samples are
//partition[start:end] of the owning grower.
type growingLeaf struct {
	start, end   int
	depth        int
	sumGradients float64
	sumHessians  float64
	histograms   []Histogram
	split        SplitInfo
	nodeIndex    int
}

func (leaf *growingLeaf) nSamples() int {
	return leaf.end - leaf.start
}

//FinalizedLeaf is a leaf of a finished tree. SampleIndices are the training samples routed
//to it; the slice aliases the grower's partition array.
type FinalizedLeaf struct {
	NodeIndex     int
	Value         float64
	Depth         int
	SampleIndices []int
}

//leafHeap orders frontier leaves by gain, ties going to the earlier created leaf.
type leafHeap struct {
	leaves  []growingLeaf
	indices []int
}

func (h *leafHeap) Len() int { return len(h.indices) }
func (h *leafHeap) Less(i, j int) bool {
	gi := h.leaves[h.indices[i]].split.Gain
	gj := h.leaves[h.indices[j]].split.Gain
	if gi != gj {
		return gi > gj
	}
	return h.indices[i] < h.indices[j]
}
func (h *leafHeap) Swap(i, j int) { h.indices[i], h.indices[j] = h.indices[j], h.indices[i] }
func (h *leafHeap) Push(x any)   { h.indices = append(h.indices, x.(int)) }
func (h *leafHeap) Pop() any {
	old := h.indices
	n := len(old)
	item := old[n-1]
	h.indices = old[:n-1]
	return item
}

//TreeGrower builds one regression tree best-first from binned data and the gradients and
//hessians of the current boosting round.
type TreeGrower struct {
	binned        *binning.BinnedMatrix
	binThresholds [][]float64
	params        GrowerParams
	histBuilder   *HistogramBuilder

	partition []int
	buffer    []int
	leaves    []growingLeaf
	frontier  *leafHeap
	nodes     []TreeNode
	finalized []int
	nLeaves   int
	state     growerState

	TotalFindSplitTime  time.Duration
	TotalApplySplitTime time.Duration
}

//NewTreeGrower validates inputs and evaluates the root. binThresholds are the thresholds
//the data was binned with; they give every feature its number of bins and every split its
//real-valued threshold.
func NewTreeGrower(binned *binning.BinnedMatrix, gradients, hessians []float64, binThresholds [][]float64, params GrowerParams) (*TreeGrower, error) {
	if err := params.Validate(); err != nil {
		return nil, err
	}
	h, w := binned.Dims()
	if len(binThresholds) != w {
		return nil, fmt.Errorf("got thresholds of %d features, the binned data has %d", len(binThresholds), w)
	}
	nBinsPerFeature := make([]int, w)
	for q, featureThresholds := range binThresholds {
		nBinsPerFeature[q] = len(featureThresholds) + 1
	}
	histBuilder, err := NewHistogramBuilder(binned, gradients, hessians, nBinsPerFeature, params.ThreadsNum)
	if err != nil {
		return nil, err
	}

	grower := &TreeGrower{
		binned:        binned,
		binThresholds: binThresholds,
		params:        params,
		histBuilder:   histBuilder,
		partition:     make([]int, h),
		buffer:        make([]int, h),
		state:         growing,
	}
	grower.frontier = &leafHeap{}
	for p := range grower.partition {
		grower.partition[p] = p
	}

	sumGradients, sumHessians := histBuilder.SumGradientsHessians(grower.partition)
	grower.nodes = append(grower.nodes, NewTreeNode(0, 0, h))
	grower.leaves = append(grower.leaves, growingLeaf{
		start:        0,
		end:          h,
		sumGradients: sumGradients,
		sumHessians:  sumHessians,
		nodeIndex:    0,
	})
	grower.nLeaves = 1

	root := &grower.leaves[0]
	if grower.canBeSplit(root) {
		root.histograms = histBuilder.Build(grower.samples(root))
	}
	grower.evaluateLeaf(0)
	grower.checkFinished()
	return grower, nil
}

func (grower *TreeGrower) samples(leaf *growingLeaf) []int {
	return grower.partition[leaf.start:leaf.end]
}

//canBeSplit tells whether a leaf is worth a split search.
func (grower *TreeGrower) canBeSplit(leaf *growingLeaf) bool {
	if grower.params.MaxDepth > 0 && leaf.depth >= grower.params.MaxDepth {
		return false
	}
	if leaf.nSamples() < 2*grower.params.MinSamplesLeaf {
		return false
	}
	return leaf.sumHessians >= grower.params.MinHessianToSplit
}

//evaluateLeaf computes the best split of a new leaf and either pushes it to the frontier or
//finalizes it.
func (grower *TreeGrower) evaluateLeaf(leafIndex int) {
	leaf := &grower.leaves[leafIndex]
	if leaf.histograms == nil {
		grower.finalizeLeaf(leafIndex)
		return
	}

	tic := time.Now()
	leaf.split = TheBestSplit(leaf.histograms, leaf.sumGradients, leaf.sumHessians, leaf.nSamples(), grower.params)
	grower.TotalFindSplitTime += time.Since(tic)

	if !leaf.split.ValidSplit {
		grower.finalizeLeaf(leafIndex)
		return
	}
	grower.frontier.leaves = grower.leaves
	heap.Push(grower.frontier, leafIndex)
}

func (grower *TreeGrower) finalizeLeaf(leafIndex int) {
	leaf := &grower.leaves[leafIndex]
	leaf.histograms = nil
	node := &grower.nodes[leaf.nodeIndex]
	node.IsLeaf = true
	node.Value = LeafValue(leaf.sumGradients, leaf.sumHessians, grower.params.L2Regularization, grower.params.Shrinkage)
	grower.finalized = append(grower.finalized, leafIndex)
}

//CanSplitFurther reports whether the tree is still growing.
func (grower *TreeGrower) CanSplitFurther() bool {
	return grower.state == growing
}

func (grower *TreeGrower) checkFinished() {
	if grower.frontier.Len() == 0 {
		grower.state = finished
	}
}

//SplitNext applies the best split of the frontier. It returns false when the tree is finished.
func (grower *TreeGrower) SplitNext() bool {
	if !grower.CanSplitFurther() {
		return false
	}

	grower.frontier.leaves = grower.leaves
	parentIndex := heap.Pop(grower.frontier).(int)

	tic := time.Now()
	leftIndex, rightIndex := grower.applySplit(parentIndex)
	grower.TotalApplySplitTime += time.Since(tic)
	grower.nLeaves++

	if grower.params.MaxLeafNodes > 0 && grower.nLeaves >= grower.params.MaxLeafNodes {
		grower.finalizeLeaf(leftIndex)
		grower.finalizeLeaf(rightIndex)
		grower.finalizeFrontier()
		grower.state = finished
		return false
	}

	grower.evaluateLeaf(leftIndex)
	grower.evaluateLeaf(rightIndex)
	grower.checkFinished()
	return grower.CanSplitFurther()
}

//finalizeFrontier turns every pending candidate into a leaf, best candidates first.
func (grower *TreeGrower) finalizeFrontier() {
	grower.frontier.leaves = grower.leaves
	for grower.frontier.Len() > 0 {
		grower.finalizeLeaf(heap.Pop(grower.frontier).(int))
	}
}

//applySplit partitions the parent's samples, turns its node into an internal node and creates
//both children with their histograms when they may be split later.
func (grower *TreeGrower) applySplit(parentIndex int) (leftIndex, rightIndex int) {
	parent := grower.leaves[parentIndex]
	split := parent.split
	nLeft := grower.partitionSamples(&parent, split)

	leftNode := len(grower.nodes)
	rightNode := leftNode + 1
	grower.nodes = append(grower.nodes,
		NewTreeNode(leftNode, parent.depth+1, nLeft),
		NewTreeNode(rightNode, parent.depth+1, parent.nSamples()-nLeft))

	node := &grower.nodes[parent.nodeIndex]
	node.IsLeaf = false
	node.FeatureNumber = split.FeatureIndex
	node.BinThreshold = split.BinThreshold
	node.Threshold = grower.binThresholds[split.FeatureIndex][split.BinThreshold]
	node.LeftIndex = leftNode
	node.RightIndex = rightNode
	node.Gain = split.Gain

	leftIndex = len(grower.leaves)
	rightIndex = leftIndex + 1
	grower.leaves = append(grower.leaves,
		growingLeaf{
			start:        parent.start,
			end:          parent.start + nLeft,
			depth:        parent.depth + 1,
			sumGradients: split.GradientLeft,
			sumHessians:  split.HessianLeft,
			nodeIndex:    leftNode,
		},
		growingLeaf{
			start:        parent.start + nLeft,
			end:          parent.end,
			depth:        parent.depth + 1,
			sumGradients: split.GradientRight,
			sumHessians:  split.HessianRight,
			nodeIndex:    rightNode,
		})
	grower.leaves[parentIndex].histograms = nil

	left, right := &grower.leaves[leftIndex], &grower.leaves[rightIndex]
	if grower.params.MaxLeafNodes > 0 && grower.nLeaves+1 >= grower.params.MaxLeafNodes {
		return
	}
	if !grower.canBeSplit(left) && !grower.canBeSplit(right) {
		return
	}

	small, large := left, right
	if small.nSamples() > large.nSamples() {
		small, large = large, small
	}
	small.histograms = grower.histBuilder.Build(grower.samples(small))
	large.histograms = Subtract(parent.histograms, small.histograms)
	if !grower.canBeSplit(left) {
		left.histograms = nil
	}
	if !grower.canBeSplit(right) {
		right.histograms = nil
	}
	return
}

//partitionSamples reorders the parent's range so left samples come first. The partition is
//stable to keep the summation order of later histograms deterministic.
func (grower *TreeGrower) partitionSamples(parent *growingLeaf, split SplitInfo) int {
	codes := grower.binned.Feature(split.FeatureIndex)
	samples := grower.partition[parent.start:parent.end]
	right := grower.buffer[:0]
	nLeft := 0
	for _, sample := range samples {
		if codes[sample] <= split.BinThreshold {
			samples[nLeft] = sample
			nLeft++
		} else {
			right = append(right, sample)
		}
	}
	copy(samples[nLeft:], right)
	return nLeft
}

//Grow splits leaves until the tree is finished and returns the compiled nodes together with
//the finalized leaves.
func (grower *TreeGrower) Grow() ([]TreeNode, []FinalizedLeaf) {
	for grower.SplitNext() {
	}
	return grower.nodes, grower.FinalizedLeaves()
}

//Nodes returns the node array built so far.
func (grower *TreeGrower) Nodes() []TreeNode {
	return grower.nodes
}

//NLeaves returns the current number of leaves, finalized or not.
func (grower *TreeGrower) NLeaves() int {
	return grower.nLeaves
}

//FinalizedLeaves lists the leaves finalized so far in finalization order.
func (grower *TreeGrower) FinalizedLeaves() []FinalizedLeaf {
	out := make([]FinalizedLeaf, 0, len(grower.finalized))
	for _, leafIndex := range grower.finalized {
		leaf := &grower.leaves[leafIndex]
		out = append(out, FinalizedLeaf{
			NodeIndex:     leaf.nodeIndex,
			Value:         grower.nodes[leaf.nodeIndex].Value,
			Depth:         leaf.depth,
			SampleIndices: grower.samples(leaf),
		})
	}
	return out
}

//Predictor compiles the finished tree.
func (grower *TreeGrower) Predictor() (*Predictor, error) {
	if grower.CanSplitFurther() {
		return nil, fmt.Errorf("the tree has %d leaves and is still growing", grower.nLeaves)
	}
	nodes := make([]TreeNode, len(grower.nodes))
	copy(nodes, grower.nodes)
	return NewPredictor(nodes), nil
}

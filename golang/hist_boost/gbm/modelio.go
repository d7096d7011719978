package gbm

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"strings"

	"github.com/tarstars/binned_boosting/golang/hist_boost/hbl"
	"google.golang.org/protobuf/encoding/protowire"
)

//The binary model starts with the two bytes "HB" and a little endian uint16 version
//followed by a protobuf wire format message:
//
//	Booster:   1 loss_name, 2 n_trees_per_iteration, 3 n_iter, 4 repeated Thresholds,
//	           5 repeated Tree, 6 repeated learning_curve_titles, 7 repeated Curve
//	Thresholds, Curve: 1 packed double values
//	Tree:      1 iteration, 2 output, 3 repeated Node
//	Node:      1 tree_node_id, 2 feature_number (sint), 3 threshold, 4 bin_threshold,
//	           5 left_index (sint), 6 right_index (sint), 7 is_leaf, 8 value, 9 depth,
//	           10 number_of_objects, 11 gain
const binaryModelVersion uint16 = 1

var ErrInvalidModel = errors.New("invalid binary model")

func appendPackedDoubles(b []byte, num protowire.Number, values []float64) []byte {
	if len(values) == 0 {
		return b
	}
	packed := make([]byte, 0, 8*len(values))
	for _, v := range values {
		packed = protowire.AppendFixed64(packed, math.Float64bits(v))
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, packed)
}

func appendDouble(b []byte, num protowire.Number, v float64) []byte {
	b = protowire.AppendTag(b, num, protowire.Fixed64Type)
	return protowire.AppendFixed64(b, math.Float64bits(v))
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

func appendSint(b []byte, num protowire.Number, v int) []byte {
	return appendVarint(b, num, protowire.EncodeZigZag(int64(v)))
}

func appendMessage(b []byte, num protowire.Number, message []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, message)
}

func marshalNode(node hbl.TreeNode) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(node.TreeNodeId))
	b = appendSint(b, 2, node.FeatureNumber)
	b = appendDouble(b, 3, node.Threshold)
	b = appendVarint(b, 4, uint64(node.BinThreshold))
	b = appendSint(b, 5, node.LeftIndex)
	b = appendSint(b, 6, node.RightIndex)
	b = appendVarint(b, 7, protowire.EncodeBool(node.IsLeaf))
	b = appendDouble(b, 8, node.Value)
	b = appendVarint(b, 9, uint64(node.Depth))
	b = appendVarint(b, 10, uint64(node.NumberOfObjects))
	b = appendDouble(b, 11, node.Gain)
	return b
}

func marshalTree(tree *Tree) []byte {
	var b []byte
	b = appendVarint(b, 1, uint64(tree.Iteration))
	b = appendVarint(b, 2, uint64(tree.Output))
	for _, node := range tree.Nodes {
		b = appendMessage(b, 3, marshalNode(node))
	}
	return b
}

//MarshalBinary encodes the model in the compact binary format.
func (booster *Booster) MarshalBinary() ([]byte, error) {
	b := []byte{'H', 'B'}
	b = binary.LittleEndian.AppendUint16(b, binaryModelVersion)

	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, booster.LossName)
	b = appendVarint(b, 2, uint64(booster.NTreesPerIteration))
	b = appendVarint(b, 3, uint64(booster.NIter))
	for _, thresholds := range booster.BinThresholds {
		b = appendMessage(b, 4, appendPackedDoubles(nil, 1, thresholds))
	}
	for ind := range booster.Trees {
		b = appendMessage(b, 5, marshalTree(&booster.Trees[ind]))
	}
	for _, title := range booster.LearningCurveTitles {
		b = protowire.AppendTag(b, 6, protowire.BytesType)
		b = protowire.AppendString(b, title)
	}
	for _, row := range booster.LearningCurves {
		b = appendMessage(b, 7, appendPackedDoubles(nil, 1, row))
	}
	return b, nil
}

//fieldFunc consumes the value of one field and returns the number of bytes read.
type fieldFunc func(num protowire.Number, typ protowire.Type, b []byte) (int, error)

//walkFields calls consume for every field of a message. Unknown fields are skipped by consume
//returning zero.
func walkFields(b []byte, consume fieldFunc) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return fmt.Errorf("%w: %v", ErrInvalidModel, protowire.ParseError(n))
		}
		b = b[n:]
		m, err := consume(num, typ, b)
		if err != nil {
			return err
		}
		if m == 0 {
			m = protowire.ConsumeFieldValue(num, typ, b)
		}
		if m < 0 {
			return fmt.Errorf("%w: field %d: %v", ErrInvalidModel, num, protowire.ParseError(m))
		}
		b = b[m:]
	}
	return nil
}

func wireError(num protowire.Number, n int) error {
	return fmt.Errorf("%w: field %d: %v", ErrInvalidModel, num, protowire.ParseError(n))
}

func consumeVarint(num protowire.Number, typ protowire.Type, b []byte, dst *uint64) (int, error) {
	if typ != protowire.VarintType {
		return 0, fmt.Errorf("%w: field %d is not a varint", ErrInvalidModel, num)
	}
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, wireError(num, n)
	}
	*dst = v
	return n, nil
}

func consumeInt(num protowire.Number, typ protowire.Type, b []byte, dst *int) (int, error) {
	var v uint64
	n, err := consumeVarint(num, typ, b, &v)
	*dst = int(v)
	return n, err
}

func consumeSint(num protowire.Number, typ protowire.Type, b []byte, dst *int) (int, error) {
	var v uint64
	n, err := consumeVarint(num, typ, b, &v)
	*dst = int(protowire.DecodeZigZag(v))
	return n, err
}

func consumeDouble(num protowire.Number, typ protowire.Type, b []byte, dst *float64) (int, error) {
	if typ != protowire.Fixed64Type {
		return 0, fmt.Errorf("%w: field %d is not a double", ErrInvalidModel, num)
	}
	v, n := protowire.ConsumeFixed64(b)
	if n < 0 {
		return 0, wireError(num, n)
	}
	*dst = math.Float64frombits(v)
	return n, nil
}

func consumeBytes(num protowire.Number, typ protowire.Type, b []byte) ([]byte, int, error) {
	if typ != protowire.BytesType {
		return nil, 0, fmt.Errorf("%w: field %d is not length delimited", ErrInvalidModel, num)
	}
	v, n := protowire.ConsumeBytes(b)
	if n < 0 {
		return nil, 0, wireError(num, n)
	}
	return v, n, nil
}

//unmarshalDoubles decodes a message whose field 1 holds packed doubles.
func unmarshalDoubles(message []byte) ([]float64, error) {
	values := []float64{}
	err := walkFields(message, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num != 1 {
			return 0, nil
		}
		packed, n, err := consumeBytes(num, typ, b)
		if err != nil {
			return 0, err
		}
		if len(packed)%8 != 0 {
			return 0, fmt.Errorf("%w: packed doubles of %d bytes", ErrInvalidModel, len(packed))
		}
		for len(packed) > 0 {
			v, m := protowire.ConsumeFixed64(packed)
			values = append(values, math.Float64frombits(v))
			packed = packed[m:]
		}
		return n, nil
	})
	return values, err
}

func unmarshalNode(message []byte) (hbl.TreeNode, error) {
	var node hbl.TreeNode
	err := walkFields(message, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt(num, typ, b, &node.TreeNodeId)
		case 2:
			return consumeSint(num, typ, b, &node.FeatureNumber)
		case 3:
			return consumeDouble(num, typ, b, &node.Threshold)
		case 4:
			var v uint64
			n, err := consumeVarint(num, typ, b, &v)
			if v > math.MaxUint8 {
				return 0, fmt.Errorf("%w: bin threshold %d", ErrInvalidModel, v)
			}
			node.BinThreshold = uint8(v)
			return n, err
		case 5:
			return consumeSint(num, typ, b, &node.LeftIndex)
		case 6:
			return consumeSint(num, typ, b, &node.RightIndex)
		case 7:
			var v uint64
			n, err := consumeVarint(num, typ, b, &v)
			node.IsLeaf = protowire.DecodeBool(v)
			return n, err
		case 8:
			return consumeDouble(num, typ, b, &node.Value)
		case 9:
			return consumeInt(num, typ, b, &node.Depth)
		case 10:
			return consumeInt(num, typ, b, &node.NumberOfObjects)
		case 11:
			return consumeDouble(num, typ, b, &node.Gain)
		}
		return 0, nil
	})
	return node, err
}

func unmarshalTree(message []byte) (Tree, error) {
	var tree Tree
	err := walkFields(message, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1:
			return consumeInt(num, typ, b, &tree.Iteration)
		case 2:
			return consumeInt(num, typ, b, &tree.Output)
		case 3:
			nodeMessage, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			node, err := unmarshalNode(nodeMessage)
			if err != nil {
				return 0, err
			}
			tree.Nodes = append(tree.Nodes, node)
			return n, nil
		}
		return 0, nil
	})
	return tree, err
}

//UnmarshalBinary decodes a model encoded with MarshalBinary.
func (booster *Booster) UnmarshalBinary(data []byte) error {
	if len(data) < 4 || data[0] != 'H' || data[1] != 'B' {
		return fmt.Errorf("%w: invalid header", ErrInvalidModel)
	}
	if version := binary.LittleEndian.Uint16(data[2:4]); version != binaryModelVersion {
		return fmt.Errorf("%w: unsupported version %d", ErrInvalidModel, version)
	}

	var decoded Booster
	err := walkFields(data[4:], func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch num {
		case 1, 6:
			value, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			if num == 1 {
				decoded.LossName = string(value)
			} else {
				decoded.LearningCurveTitles = append(decoded.LearningCurveTitles, string(value))
			}
			return n, nil
		case 2:
			return consumeInt(num, typ, b, &decoded.NTreesPerIteration)
		case 3:
			return consumeInt(num, typ, b, &decoded.NIter)
		case 4, 7:
			message, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			values, err := unmarshalDoubles(message)
			if err != nil {
				return 0, err
			}
			if num == 4 {
				decoded.BinThresholds = append(decoded.BinThresholds, values)
			} else {
				decoded.LearningCurves = append(decoded.LearningCurves, values)
			}
			return n, nil
		case 5:
			message, n, err := consumeBytes(num, typ, b)
			if err != nil {
				return 0, err
			}
			tree, err := unmarshalTree(message)
			if err != nil {
				return 0, err
			}
			decoded.Trees = append(decoded.Trees, tree)
			return n, nil
		}
		return 0, nil
	})
	if err != nil {
		return err
	}
	if err := decoded.validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidModel, err)
	}
	*booster = decoded
	return nil
}

//SaveBinary stores the model in the compact binary format.
func (booster *Booster) SaveBinary(filename string) error {
	data, err := booster.MarshalBinary()
	if err != nil {
		return err
	}
	return os.WriteFile(filename, data, 0o644)
}

//LoadBinaryModel reads a model saved with SaveBinary.
func LoadBinaryModel(filename string) (*Booster, error) {
	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	booster := &Booster{}
	if err := booster.UnmarshalBinary(data); err != nil {
		return nil, fmt.Errorf("%s: %w", filename, err)
	}
	return booster, nil
}

//BinaryModelSuffix marks file names stored in the compact binary format.
const BinaryModelSuffix = ".hb"

//SaveFile stores the model in the binary format when filename ends with BinaryModelSuffix
//and in json otherwise.
func (booster *Booster) SaveFile(filename string) error {
	if strings.HasSuffix(filename, BinaryModelSuffix) {
		return booster.SaveBinary(filename)
	}
	return booster.Save(filename)
}

//LoadFile reads a model stored with SaveFile.
func LoadFile(filename string) (*Booster, error) {
	if strings.HasSuffix(filename, BinaryModelSuffix) {
		return LoadBinaryModel(filename)
	}
	return LoadModel(filename)
}

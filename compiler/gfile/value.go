package gfile

import (
	"fmt"
	"math"
	"strconv"

	"tlog.app/go/errors"

	"github.com/slowlang/armjit/compiler/graph"
)

// ParseValue parses s as a value of type mt and returns its bit pattern.
// Tagged values are taken as raw words.
func ParseValue(mt graph.MachineType, s string) (uint64, error) {
	switch mt {
	case graph.MachInt32:
		v, err := strconv.ParseInt(s, 0, 32)
		if err != nil {
			return 0, errors.Wrap(err, "int32")
		}

		return uint64(uint32(v)), nil
	case graph.MachUint32:
		v, err := strconv.ParseUint(s, 0, 32)
		if err != nil {
			return 0, errors.Wrap(err, "uint32")
		}

		return v, nil
	case graph.MachInt64, graph.MachTagged:
		v, err := strconv.ParseInt(s, 0, 64)
		if err != nil {
			return 0, errors.Wrap(err, "%v", mt)
		}

		return uint64(v), nil
	case graph.MachFloat64:
		v, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, errors.Wrap(err, "float64")
		}

		return math.Float64bits(v), nil
	case graph.MachBool:
		v, err := strconv.ParseBool(s)
		if err != nil {
			return 0, errors.Wrap(err, "bool")
		}

		if v {
			return 1, nil
		}

		return 0, nil
	}

	return 0, errors.New("unsupported machine type %v", mt)
}

// FormatValue renders the bit pattern v of type mt.
func FormatValue(mt graph.MachineType, v uint64) string {
	switch mt {
	case graph.MachInt32:
		return strconv.FormatInt(int64(int32(v)), 10)
	case graph.MachUint32:
		return strconv.FormatUint(uint64(uint32(v)), 10)
	case graph.MachInt64:
		return strconv.FormatInt(int64(v), 10)
	case graph.MachFloat64:
		return strconv.FormatFloat(math.Float64frombits(v), 'g', -1, 64)
	case graph.MachBool:
		return strconv.FormatBool(v != 0)
	}

	return fmt.Sprintf("%#x", v)
}

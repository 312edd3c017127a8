package sqlite

import (
	"database/sql/driver"
	"fmt"

	"github.com/poiesic/embedvector/core"
	"github.com/poiesic/embedvector/storage"
	"modernc.org/sqlite"
)

const (
	cosineFunc = "vec_distance_cosine"
	l2Func     = "vec_distance_l2"
)

func init() {
	sqlite.MustRegisterDeterministicScalarFunction(cosineFunc, 2, distanceFunc(core.MetricCosine))
	sqlite.MustRegisterDeterministicScalarFunction(l2Func, 2, distanceFunc(core.MetricL2))
}

// distanceFunc adapts a metric to a SQL scalar function over two vector BLOBs.
// NULL in, NULL out.
func distanceFunc(metric core.Metric) func(*sqlite.FunctionContext, []driver.Value) (driver.Value, error) {
	return func(_ *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		if args[0] == nil || args[1] == nil {
			return nil, nil
		}
		a, err := blobArg(args[0])
		if err != nil {
			return nil, err
		}
		b, err := blobArg(args[1])
		if err != nil {
			return nil, err
		}
		return metric.Distance(a, b)
	}
}

func blobArg(v driver.Value) ([]float32, error) {
	switch b := v.(type) {
	case []byte:
		return storage.DecodeVector(b)
	case string:
		return storage.DecodeVector([]byte(b))
	}
	return nil, fmt.Errorf("vector argument must be a blob, got %T", v)
}

func distanceSQL(metric core.Metric) string {
	if metric == core.MetricL2 {
		return l2Func
	}
	return cosineFunc
}

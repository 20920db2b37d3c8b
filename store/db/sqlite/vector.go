package sqlite

import (
	"database/sql/driver"
	"encoding/binary"
	"log/slog"
	"math"

	"github.com/pkg/errors"
	msqlite "modernc.org/sqlite"
)

// cosineFunc is the SQL function that scores a stored embedding against a query.
const cosineFunc = "vec_cosine"

func init() {
	// Registered once for every connection the pure-Go driver opens.
	err := msqlite.RegisterDeterministicScalarFunction(cosineFunc, 2, func(_ *msqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
		return vecCosine(args[0], args[1]), nil
	})
	if err != nil {
		slog.Error("failed to register sqlite function", "name", cosineFunc, "error", err)
	}
}

// encodeEmbedding stores a vector as little-endian float32s.
func encodeEmbedding(v []float32) []byte {
	if v == nil {
		return nil
	}
	buf := make([]byte, 4*len(v))
	for i, f := range v {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func decodeEmbedding(b []byte) ([]float32, error) {
	if b == nil {
		return nil, nil
	}
	if len(b)%4 != 0 {
		return nil, errors.Errorf("invalid embedding blob length %d", len(b))
	}
	v := make([]float32, len(b)/4)
	for i := range v {
		v[i] = math.Float32frombits(binary.LittleEndian.Uint32(b[i*4:]))
	}
	return v, nil
}

// vecCosine scores two encoded embeddings. It returns NULL for anything that
// has no defined similarity, which the caller's score filter then drops.
func vecCosine(a, b driver.Value) driver.Value {
	x, ok := a.([]byte)
	if !ok {
		return nil
	}
	y, ok := b.([]byte)
	if !ok || len(x) != len(y) || len(x)%4 != 0 {
		return nil
	}

	var dot, normX, normY float64
	for i := 0; i < len(x); i += 4 {
		fx := float64(math.Float32frombits(binary.LittleEndian.Uint32(x[i:])))
		fy := float64(math.Float32frombits(binary.LittleEndian.Uint32(y[i:])))
		dot += fx * fy
		normX += fx * fx
		normY += fy * fy
	}
	if normX == 0 || normY == 0 {
		return nil
	}
	return dot / (math.Sqrt(normX) * math.Sqrt(normY))
}

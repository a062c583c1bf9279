// Package encoding provides the on-disk binary/JSON codecs shared by the table
// store and vector store. Neither format is spec-bearing; it is an internal
// storage detail the rest of the engine never observes directly.
package encoding

import (
	"bytes"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
)

// ErrInvalidVector is returned when vector bytes are malformed or a vector
// fails validation (NaN/Inf components, nil slice).
var ErrInvalidVector = errors.New("encoding: invalid vector")

// EncodeVector serializes a float32 vector as a length-prefixed little-endian
// byte blob suitable for a BLOB column.
func EncodeVector(vector []float32) ([]byte, error) {
	if vector == nil {
		return nil, ErrInvalidVector
	}
	if len(vector) > math.MaxInt32 {
		return nil, fmt.Errorf("encoding: vector too large: %d elements", len(vector))
	}

	buf := new(bytes.Buffer)
	buf.Grow(4 + len(vector)*4)
	if err := binary.Write(buf, binary.LittleEndian, int32(len(vector))); err != nil {
		return nil, fmt.Errorf("encoding: write vector length: %w", err)
	}
	if err := binary.Write(buf, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("encoding: write vector values: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeVector is the inverse of EncodeVector.
func DecodeVector(data []byte) ([]float32, error) {
	if len(data) < 4 {
		return nil, ErrInvalidVector
	}

	buf := bytes.NewReader(data)
	var length int32
	if err := binary.Read(buf, binary.LittleEndian, &length); err != nil {
		return nil, fmt.Errorf("encoding: read vector length: %w", err)
	}
	if length < 0 {
		return nil, ErrInvalidVector
	}
	if length == 0 {
		return []float32{}, nil
	}

	if buf.Len() < int(length)*4 {
		return nil, ErrInvalidVector
	}
	vector := make([]float32, length)
	if err := binary.Read(buf, binary.LittleEndian, vector); err != nil {
		return nil, fmt.Errorf("encoding: read vector values: %w", err)
	}
	return vector, nil
}

// EncodeJSON marshals any value to its JSON string form, returning "" for nil.
func EncodeJSON(v any) (string, error) {
	if v == nil {
		return "", nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encoding: marshal: %w", err)
	}
	return string(data), nil
}

// DecodeJSON unmarshals a JSON string into v, leaving v untouched for an
// empty string.
func DecodeJSON(jsonStr string, v any) error {
	if jsonStr == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(jsonStr), v); err != nil {
		return fmt.Errorf("encoding: unmarshal: %w", err)
	}
	return nil
}

// ValidateVector rejects nil/empty vectors and vectors containing NaN or Inf.
func ValidateVector(vector []float32) error {
	if len(vector) == 0 {
		return ErrInvalidVector
	}
	for _, val := range vector {
		f := float64(val)
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return ErrInvalidVector
		}
	}
	return nil
}

package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// marshalClaims renders JWT claims back to compact JSON so they can be fed
// through the same decoding path as inline documents.
func marshalClaims(claims jwt.MapClaims) ([]byte, error) {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	if err := enc.Encode(map[string]any(claims)); err != nil {
		return nil, fmt.Errorf("encoding claims: %w", err)
	}
	return bytes.TrimSpace(buf.Bytes()), nil
}

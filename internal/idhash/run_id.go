// Package idhash derives deterministic identifiers so identical inputs
// produce byte-identical results across runs and machines.
package idhash

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"

	"github.com/mr-tron/base58"
)

// ComputeRunID fingerprints a strategy configuration.
// Formula: base58(SHA256(canonical-JSON(config)))[:16].
// Two runs share a RunID exactly when their configs are identical.
func ComputeRunID(config any) (string, error) {
	data, err := json.Marshal(config)
	if err != nil {
		return "", fmt.Errorf("marshal config for run id: %w", err)
	}

	hash := sha256.Sum256(data)
	return base58.Encode(hash[:])[:16], nil
}

// ComputeDataID fingerprints a symbol's loaded market data span.
// Formula: base58(SHA256(symbol|start|end|rows))[:16].
func ComputeDataID(symbol, start, end string, rows int) string {
	data := fmt.Sprintf("%s|%s|%s|%d", symbol, start, end, rows)
	hash := sha256.Sum256([]byte(data))
	return base58.Encode(hash[:])[:16]
}

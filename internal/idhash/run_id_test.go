package idhash

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeConfig struct {
	Name   string   `json:"name"`
	Cash   int      `json:"cash"`
	Assets []string `json:"assets"`
}

func TestComputeRunID_Deterministic(t *testing.T) {
	cfg := fakeConfig{Name: "sixty-forty", Cash: 10000, Assets: []string{"SPY", "AGG"}}

	id1, err := ComputeRunID(cfg)
	require.NoError(t, err)
	id2, err := ComputeRunID(cfg)
	require.NoError(t, err)

	assert.Equal(t, id1, id2)
	assert.Len(t, id1, 16)
}

func TestComputeRunID_SensitiveToContent(t *testing.T) {
	a, err := ComputeRunID(fakeConfig{Name: "a", Cash: 10000})
	require.NoError(t, err)
	b, err := ComputeRunID(fakeConfig{Name: "a", Cash: 10001})
	require.NoError(t, err)
	assert.NotEqual(t, a, b)
}

func TestComputeDataID_Deterministic(t *testing.T) {
	a := ComputeDataID("SPY", "2020-01-02", "2020-12-31", 253)
	b := ComputeDataID("SPY", "2020-01-02", "2020-12-31", 253)
	c := ComputeDataID("SPY", "2020-01-02", "2020-12-31", 252)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
	assert.Len(t, a, 16)
}

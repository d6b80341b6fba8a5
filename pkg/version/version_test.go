package version

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestString_ContainsAllFields(t *testing.T) {
	s := String()

	assert.True(t, strings.HasPrefix(s, "nexus "))
	assert.Contains(t, s, Version)
	assert.Contains(t, s, Commit)
	assert.Contains(t, s, GoVersion)
}

func TestShort(t *testing.T) {
	assert.Equal(t, Version, Short())
}

func TestGetInfo_SerializesToJSON(t *testing.T) {
	info := GetInfo()

	data, err := json.Marshal(info)
	require.NoError(t, err)

	var decoded map[string]string
	require.NoError(t, json.Unmarshal(data, &decoded))
	assert.Equal(t, Version, decoded["version"])
	assert.NotEmpty(t, decoded["os"])
	assert.NotEmpty(t, decoded["arch"])
}

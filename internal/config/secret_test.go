package config

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func TestSecretRedactsEverywhere(t *testing.T) {
	s := Secret("super-secret")

	assert.Equal(t, "[REDACTED]", s.String())
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%v", s))
	assert.Equal(t, "[REDACTED]", fmt.Sprintf("%#v", s))

	j, err := json.Marshal(s)
	require.NoError(t, err)
	assert.Equal(t, `"[REDACTED]"`, string(j))

	y, err := yaml.Marshal(s)
	require.NoError(t, err)
	assert.Contains(t, string(y), "[REDACTED]")
	assert.NotContains(t, string(y), "super-secret")
}

func TestSecretValueAndUnmarshal(t *testing.T) {
	var s Secret
	require.NoError(t, yaml.Unmarshal([]byte(`"hunter2"`), &s))
	assert.Equal(t, "hunter2", s.Value())
}

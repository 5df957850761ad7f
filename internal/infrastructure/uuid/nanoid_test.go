package uuid

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNanoIDGenerator(t *testing.T) {
	g := NewNanoIDGenerator(12, "view_")
	id, err := g.Generate()
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(id, "view_"))
	assert.Len(t, id, len("view_")+12)

	other := MustGenerate(g)
	assert.NotEqual(t, id, other)
}

func TestNanoIDGeneratorInvalidLength(t *testing.T) {
	assert.Panics(t, func() { NewNanoIDGenerator(0, "") })
}

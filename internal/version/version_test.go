package version

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestString(t *testing.T) {
	assert.Equal(t, "bagwatch "+Version+" (commit "+GitCommit+", built "+BuildDate+")", String())
	assert.Equal(t, Version, Map()["version"])
	assert.Len(t, Map(), 3)
}

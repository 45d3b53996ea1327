package sha1sum

import (
	"crypto/sha1"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSumMatchesStdlib(t *testing.T) {
	data := []byte("the quick brown fox")
	assert.Equal(t, sha1.Sum(data), Sum(data))
}

func TestSumIsDeterministic(t *testing.T) {
	data := []byte("deterministic")
	assert.Equal(t, Sum(data), Sum(data))
}

package client

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNewPeerIDKeepsPrefixAndFillsSuffix(t *testing.T) {
	id := NewPeerID("-LE0001-")
	assert.Equal(t, "-LE0001-", string(id[:8]))
	assert.NotEqual(t, [12]byte{}, [12]byte(id[8:20]))
}

func TestNewPeerIDDiffersAcrossCalls(t *testing.T) {
	a := NewPeerID("-LE0001-")
	b := NewPeerID("-LE0001-")
	assert.NotEqual(t, a, b)
}

package lifecycle

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNamingRoundTrip(t *testing.T) {
	n := Naming{}
	assert.Equal(t, "design_alice", n.Identity("alice"))

	owner, ok := n.Owner("design_alice")
	assert.True(t, ok)
	assert.Equal(t, "alice", owner)

	_, ok = n.Owner("world")
	assert.False(t, ok)
	_, ok = n.Owner("design_")
	assert.False(t, ok)

	custom := Naming{Prefix: "sandbox-"}
	assert.Equal(t, "sandbox-bob", custom.Identity("bob"))
	assert.True(t, custom.IsClone("sandbox-bob"))
	assert.False(t, custom.IsClone("design_bob"))
}

func TestValidateOwner(t *testing.T) {
	for _, ok := range []string{"alice", "3f2b1c7e-uuid", "Bob_99"} {
		assert.NoError(t, ValidateOwner(ok), ok)
	}
	for _, bad := range []string{"", ".", "..", "a/b", `a\b`, "a\x00b"} {
		assert.Error(t, ValidateOwner(bad), "%q", bad)
	}
}

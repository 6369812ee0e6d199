package lifecycle

import (
	"fmt"
	"strings"
)

const DefaultPrefix = "design_"

// Naming maps an owner to the identity of their clone and back.
type Naming struct {
	Prefix string
}

func (n Naming) prefix() string {
	if n.Prefix == "" {
		return DefaultPrefix
	}
	return n.Prefix
}

func (n Naming) Identity(owner string) string {
	return n.prefix() + owner
}

// Owner strips the prefix from identity. ok is false when identity is not
// a clone name.
func (n Naming) Owner(identity string) (owner string, ok bool) {
	owner, ok = strings.CutPrefix(identity, n.prefix())
	if !ok || owner == "" {
		return "", false
	}
	return owner, true
}

func (n Naming) IsClone(identity string) bool {
	_, ok := n.Owner(identity)
	return ok
}

// ValidateOwner rejects owners that cannot be used as a single path element.
func ValidateOwner(owner string) error {
	switch {
	case owner == "":
		return fmt.Errorf("owner is empty")
	case owner == "." || owner == "..":
		return fmt.Errorf("owner %q is not allowed", owner)
	case strings.ContainsAny(owner, `/\`):
		return fmt.Errorf("owner %q contains a path separator", owner)
	case strings.ContainsRune(owner, 0):
		return fmt.Errorf("owner contains a NUL byte")
	}
	return nil
}

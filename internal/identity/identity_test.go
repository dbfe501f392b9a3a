// internal/identity/identity_test.go
package identity

import (
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("librarian")
	assert.NoError(t, err)
	assert.Equal(t, RoleLibrarian, role)

	role, err = ParseRole("member")
	assert.NoError(t, err)
	assert.Equal(t, RoleMember, role)

	_, err = ParseRole("admin")
	assert.Error(t, err)
	_, err = ParseRole("")
	assert.Error(t, err)
}

func TestIsLibrarian(t *testing.T) {
	assert.True(t, Actor{ID: uuid.New(), Role: RoleLibrarian}.IsLibrarian())
	assert.False(t, Actor{ID: uuid.New(), Role: RoleMember}.IsLibrarian())
}

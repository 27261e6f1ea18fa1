package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRankOrdering(t *testing.T) {
	assert.True(t, CanWrite(LevelAdmin), "admin should satisfy write requirement")
	assert.False(t, CanWrite(LevelRead), "read should not satisfy write requirement")
	assert.False(t, CanRead(LevelNone), "none should not satisfy read requirement")
	assert.True(t, CanAdmin(LevelAdmin), "admin should satisfy admin requirement")
	assert.False(t, CanAdmin(LevelWrite), "write should not satisfy admin requirement")
}

func TestMaxTakesMostPermissive(t *testing.T) {
	assert.Equal(t, LevelWrite, max(LevelRead, LevelWrite))
	assert.Equal(t, LevelAdmin, max(LevelAdmin, LevelNone))
	assert.Equal(t, LevelNone, max(LevelNone, LevelNone))
}

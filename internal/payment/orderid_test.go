package payment

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"gaiya/internal/types"
)

func TestGenerateOutTradeNo(t *testing.T) {
	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

	id, err := GenerateOutTradeNo(now)
	require.NoError(t, err)
	assert.True(t, types.IsOutTradeNo(id), "got %q", id)
	assert.Len(t, id, 26)
	assert.True(t, strings.HasPrefix(id, types.OutTradeNoPrefix+strconv.FormatInt(now.UnixMilli(), 10)))
}

func TestGenerateOutTradeNo_Unique(t *testing.T) {
	now := time.Now()
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		id, err := GenerateOutTradeNo(now)
		require.NoError(t, err)
		assert.False(t, seen[id], "duplicate id %q", id)
		seen[id] = true
	}
}

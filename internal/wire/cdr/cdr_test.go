package cdr_test

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/rclgo/rclgo/internal/wire/cdr"
)

func TestPreviewRendersPrimitives(t *testing.T) {
	assert.Equal(t, `"forward"`, cdr.Preview("forward", 0))
	assert.Equal(t, "null", cdr.Preview(nil, 0))
	assert.Equal(t, `"boom"`, cdr.Preview(errors.New("boom"), 0))
}

func TestPreviewRendersSlice(t *testing.T) {
	assert.Equal(t, `[1,2,3]`, cdr.Preview([]int{1, 2, 3}, 0))
}

func TestPreviewRendersSingleEntryMap(t *testing.T) {
	assert.Equal(t, `{"speed":1.5}`, cdr.Preview(map[string]float64{"speed": 1.5}, 0))
}

func TestPreviewTruncatesToMaxLen(t *testing.T) {
	long := strings.Repeat("x", 100)
	out := cdr.Preview(long, 10)
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, len([]rune(out)), 13)
}

func TestPreviewFallsBackToStringer(t *testing.T) {
	assert.Equal(t, `"goal-handle"`, cdr.Preview(stringerGoal{}, 0))
}

type stringerGoal struct{}

func (stringerGoal) String() string { return "goal-handle" }

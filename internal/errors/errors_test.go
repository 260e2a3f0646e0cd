package errors

import (
	"fmt"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuilderSetsCategoryAndContext(t *testing.T) {
	t.Parallel()

	err := New(io.ErrUnexpectedEOF).
		Category(CategoryStorage).
		Component("capture").
		Context("capture_id", "motion_1").
		Build()

	assert.Equal(t, CategoryStorage, err.Category)
	assert.Equal(t, "capture", err.Component)
	assert.Equal(t, io.ErrUnexpectedEOF.Error(), err.Error())
	assert.True(t, Is(err, io.ErrUnexpectedEOF))
	assert.True(t, err.Recoverable())

	fields := err.Fields()
	assert.Equal(t, "storage", fields["category"])
	assert.Equal(t, "motion_1", fields["capture_id"])
}

func TestDefaultCategoryIsGeneric(t *testing.T) {
	t.Parallel()

	err := Newf("boom %d", 1).Build()
	assert.Equal(t, CategoryGeneric, err.Category)
	assert.Equal(t, "boom 1", err.Error())
}

func TestCategoryOfWrappedError(t *testing.T) {
	t.Parallel()

	inner := New(io.EOF).Category(CategoryInference).Build()
	wrapped := fmt.Errorf("detect: %w", inner)

	assert.Equal(t, CategoryInference, CategoryOf(wrapped))
	assert.True(t, IsCategory(wrapped, CategoryInference))
	assert.False(t, IsCategory(wrapped, CategoryStorage))
	assert.False(t, IsCategory(nil, CategoryInference))
	assert.Equal(t, CategoryGeneric, CategoryOf(io.EOF))
}

func TestIsMatchesByCategory(t *testing.T) {
	t.Parallel()

	a := New(io.EOF).Category(CategoryTransient).Build()
	b := New(io.ErrClosedPipe).Category(CategoryTransient).Build()
	c := New(io.EOF).Category(CategoryStorage).Build()

	assert.True(t, Is(a, b))
	assert.False(t, Is(a, c))
}

func TestValidationErrors(t *testing.T) {
	t.Parallel()

	var v ValidationErrors
	require.NoError(t, v.Err())

	v.Add("motion.cooldown must not be negative (got %s)", "-1s")
	v.Add("status.recent must be greater than status.active")

	err := v.Err()
	require.Error(t, err)
	assert.True(t, IsCategory(err, CategoryConfig))
	assert.Contains(t, err.Error(), "motion.cooldown")
	assert.Contains(t, err.Error(), "status.recent")

	var ee *EnhancedError
	require.True(t, As(err, &ee))
	assert.False(t, ee.Recoverable())
}

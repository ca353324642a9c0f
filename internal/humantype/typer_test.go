package humantype

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	pressed []string
	sleeps  []time.Duration
}

func (r *recorder) press(_ context.Context, ch string) error {
	r.pressed = append(r.pressed, ch)
	return nil
}

func (r *recorder) sleep(_ context.Context, d time.Duration) error {
	r.sleeps = append(r.sleeps, d)
	return nil
}

func TestTypeDeliversEveryCharacter(t *testing.T) {
	rec := &recorder{}
	typer := NewWithRand(Options{}, rand.New(rand.NewSource(1)), rec.sleep)

	err := typer.Type(context.Background(), "好的cat", rec.press)
	require.NoError(t, err)
	assert.Equal(t, []string{"好", "的", "c", "a", "t"}, rec.pressed)
}

func TestTypeDelayBounds(t *testing.T) {
	rec := &recorder{}
	typer := NewWithRand(Options{}, rand.New(rand.NewSource(42)), rec.sleep)

	require.NoError(t, typer.Type(context.Background(), "hello world", rec.press))
	require.NotEmpty(t, rec.sleeps)
	for _, d := range rec.sleeps {
		assert.GreaterOrEqual(t, d, 100*time.Millisecond)
		assert.LessOrEqual(t, d, 800*time.Millisecond)
	}
}

func TestTypeNoTrailingDelay(t *testing.T) {
	rec := &recorder{}
	// PauseChance 1 forces a pause after every non-final character, so the
	// sleep count pins down that nothing follows the last keystroke.
	typer := NewWithRand(Options{PauseChance: 1}, rand.New(rand.NewSource(7)), rec.sleep)

	require.NoError(t, typer.Type(context.Background(), "abc", rec.press))
	// two gaps, each a key delay plus a pause
	assert.Len(t, rec.sleeps, 4)
}

func TestTypeSingleCharacterSleepsNever(t *testing.T) {
	rec := &recorder{}
	typer := NewWithRand(Options{PauseChance: 1}, rand.New(rand.NewSource(7)), rec.sleep)

	require.NoError(t, typer.Type(context.Background(), "x", rec.press))
	assert.Empty(t, rec.sleeps)
}

func TestTypeStopsOnCancelledContext(t *testing.T) {
	rec := &recorder{}
	typer := NewWithRand(Options{}, rand.New(rand.NewSource(3)), rec.sleep)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := typer.Type(ctx, "abc", rec.press)
	assert.ErrorIs(t, err, context.Canceled)
	assert.Empty(t, rec.pressed)
}

func TestTypePropagatesPressError(t *testing.T) {
	boom := errors.New("input detached")
	typer := NewWithRand(Options{}, rand.New(rand.NewSource(3)), func(context.Context, time.Duration) error { return nil })

	err := typer.Type(context.Background(), "abc", func(context.Context, string) error { return boom })
	assert.ErrorIs(t, err, boom)
}

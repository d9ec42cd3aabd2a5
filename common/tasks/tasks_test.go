package tasks

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestGroupRecoversPanic(t *testing.T) {
	var crit error
	g := &Group{HandleCrit: func(err error) { crit = err }}
	g.Go(func() error {
		panic("header loop exploded")
	})
	err := g.Wait()
	require.Error(t, err)
	require.Contains(t, err.Error(), "header loop exploded")
	require.Equal(t, err, crit)
}

func TestGroupReturnsFirstError(t *testing.T) {
	boom := errors.New("boom")
	g := &Group{}
	g.Go(func() error { return nil })
	g.Go(func() error { return boom })
	require.ErrorIs(t, g.Wait(), boom)
}

// Package test wraps testify so tests read like the rest of the repo:
//
//	tt := test.FromT(t)
//	tt.CheckErr(err)
//	tt.Assert(ok)
package test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

// T is a testing.T with the assertion helpers used across the repo.
// Every helper stops the test on failure, so they must only be called from
// the test goroutine.
type T struct {
	*testing.T
	req *require.Assertions
}

// FromT wraps t.
func FromT(t *testing.T) *T {
	return &T{T: t, req: require.New(t)}
}

// Assert fails the test if cond is false.
func (t *T) Assert(cond bool, msgAndArgs ...any) {
	t.Helper()
	t.req.True(cond, msgAndArgs...)
}

// CheckErr fails the test if err is not nil.
func (t *T) CheckErr(err error, msgAndArgs ...any) {
	t.Helper()
	t.req.NoError(err, msgAndArgs...)
}

// ExpectErr fails the test unless err matches target with errors.Is.
func (t *T) ExpectErr(err, target error, msgAndArgs ...any) {
	t.Helper()
	t.req.ErrorIs(err, target, msgAndArgs...)
}

// Equal fails the test if expected and actual are not equal.
func (t *T) Equal(expected, actual any, msgAndArgs ...any) {
	t.Helper()
	t.req.Equal(expected, actual, msgAndArgs...)
}

// Eventually waits up to waitFor for cond to hold, polling every tick.
func (t *T) Eventually(cond func() bool, waitFor, tick time.Duration, msgAndArgs ...any) {
	t.Helper()
	t.req.Eventually(cond, waitFor, tick, msgAndArgs...)
}

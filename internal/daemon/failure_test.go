package daemon

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCategoryOfWrappedError(t *testing.T) {
	err := Fail(CategoryConnection, errors.New("dial failed"))
	assert.Equal(t, CategoryConnection, CategoryOf(err))

	wrapped := fmt.Errorf("startup: %w", err)
	assert.Equal(t, CategoryConnection, CategoryOf(wrapped))

	assert.Equal(t, CategoryNone, CategoryOf(errors.New("plain")))
	assert.Equal(t, CategoryNone, CategoryOf(nil))
}

func TestFailNilPassthrough(t *testing.T) {
	assert.NoError(t, Fail(CategoryConnection, nil))
}

func TestIsCycleLocal(t *testing.T) {
	assert.True(t, IsCycleLocal(Failf(CategoryApply, "pin rejected")))
	assert.False(t, IsCycleLocal(Failf(CategoryStatsRead, "counter read failed")))
	assert.False(t, IsCycleLocal(errors.New("plain")))
}

func TestExitCodes(t *testing.T) {
	cases := map[Category]int{
		CategoryConnection:  10,
		CategoryNoDomains:   11,
		CategoryEnumeration: 12,
		CategorySetup:       13,
		CategoryStatsRead:   14,
		CategoryDomainInfo:  15,
		CategoryIdleCounter: 16,
		CategoryHostMemory:  17,
	}
	for cat, want := range cases {
		assert.Equal(t, want, ExitCode(Failf(cat, "boom")), "category %s", cat)
	}

	// Apply failures never terminate the process on their own; if one
	// ever reaches the exit path it maps to the generic failure code.
	assert.Equal(t, 1, ExitCode(Failf(CategoryApply, "boom")))
	assert.Equal(t, 1, ExitCode(errors.New("plain")))
	assert.Equal(t, 0, ExitCode(nil))
}

func TestFailureMessageCarriesCategory(t *testing.T) {
	err := Failf(CategoryNoDomains, "nothing to balance")
	assert.Equal(t, "no-domains: nothing to balance", err.Error())
}

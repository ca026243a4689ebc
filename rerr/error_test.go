package rerr_test

import (
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/icgood/ratchet-sub000/rerr"
)

func TestErrorsIsMatchesByCode(t *testing.T) {
	err := rerr.New(rerr.ETIMEDOUT, "Recv", "deadline exceeded")
	assert.True(t, errors.Is(err, rerr.TimedOut))
	assert.False(t, errors.Is(err, rerr.Deadlock))
}

func TestFromErrnoMapsKnownErrno(t *testing.T) {
	err := rerr.FromErrno("Connect", "connect", syscall.ECONNREFUSED)
	assert.Equal(t, rerr.ECONNREFUSED, err.Code)
	assert.Equal(t, syscall.ECONNREFUSED, err.Errno)
}

func TestFromErrnoFallsBackForUnmappedErrno(t *testing.T) {
	err := rerr.FromErrno("Foo", "foo", syscall.ENOTTY)
	assert.NotEmpty(t, err.Code)
}

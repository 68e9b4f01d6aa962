package safe

import (
	"testing"
	"time"

	"PPRelay/tools/errs"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	s, n := "x", 3
	assert.Equal(t, "x", DefaultString(&s, "y"))
	assert.Equal(t, "y", DefaultString(nil, "y"))
	assert.Equal(t, 3, DefaultInt(&n, 50))
	assert.Equal(t, 50, DefaultInt(nil, 50))
}

func TestRecoverCapturesPanic(t *testing.T) {
	run := func() (err error) {
		defer Recover("test", &err)
		panic("boom")
	}
	err := run()
	require.Error(t, err)
	assert.Equal(t, errs.ServerInternalError, errs.Code(err))
}

func TestSafeGoSurvivesPanic(t *testing.T) {
	done := make(chan struct{})
	SafeGo("test", func() {
		defer close(done)
		panic("boom")
	})
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("goroutine did not run")
	}
}

package logger

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestInitLevel(t *testing.T) {
	defer Init("debug")

	Init("warn")
	assert.Equal(t, zapcore.WarnLevel, Level())
	assert.False(t, Log.Core().Enabled(zapcore.InfoLevel))

	Init(" ERROR ")
	assert.Equal(t, zapcore.ErrorLevel, Level())

	Init("nonsense")
	assert.Equal(t, zapcore.InfoLevel, Level())
}

// 热更新级别时其他协程仍在打日志，需要在 -race 下通过
func TestInitWhileLogging(t *testing.T) {
	defer Init("debug")
	Init("error")

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		l := With(zap.String("conn_id", "c1"))
		for i := 0; i < 2000; i++ {
			Debug("session log", zap.Int("i", i))
			l.Debug("child log")
		}
	}()
	go func() {
		defer wg.Done()
		for i := 0; i < 2000; i++ {
			if i%2 == 0 {
				Init("error")
			} else {
				Init("warn")
			}
		}
	}()
	wg.Wait()
	assert.Equal(t, zapcore.WarnLevel, Level())
}

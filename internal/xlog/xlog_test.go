package xlog

import (
	"bytes"
	"context"
	"log/slog"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestLevelName(t *testing.T) {
	cases := []struct {
		level slog.Level
		want  string
	}{
		{slog.LevelDebug, "DEBUG"},
		{slog.LevelInfo, "INFO"},
		{LevelNotice, "NOTICE"},
		{slog.LevelWarn, "WARNING"},
		{slog.LevelError, "ERROR"},
		{LevelCritical, "CRITICAL"},
		{LevelAlert, "ALERT"},
		{LevelEmergency, "EMERGENCY"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, levelName(tc.level))
	}
}

func TestHandlerIncludesSubject(t *testing.T) {
	r, w, err := os.Pipe()
	assert.NoError(t, err)

	h := newHandler(w)
	rec := slog.NewRecord(time.Now(), slog.LevelInfo, "hello", 0)
	rec.AddAttrs(slog.String("subject", "layer-0"))

	assert.NoError(t, h.Handle(context.Background(), rec))
	w.Close()

	var buf bytes.Buffer
	buf.ReadFrom(r)
	out := buf.String()
	assert.True(t, strings.Contains(out, "INFO"))
	assert.True(t, strings.Contains(out, "layer-0"))
	assert.True(t, strings.Contains(out, "hello"))
}

package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

func TestZapLoggerCarriesAttributes(t *testing.T) {
	zcore, logs := observer.New(zapcore.DebugLevel)
	logger := NewZapLogger(zap.New(zcore)).With(map[string]any{"job_id": "J1"})

	logger.Info("metadata parsed", "specialist", "Cardiologist")
	logger.Warnf("retry %d", 2)

	entries := logs.All()
	if assert.Len(t, entries, 2) {
		assert.Equal(t, "metadata parsed", entries[0].Message)
		assert.Equal(t, "J1", entries[0].ContextMap()["job_id"])
		assert.Equal(t, "Cardiologist", entries[0].ContextMap()["specialist"])
		assert.Equal(t, zapcore.WarnLevel, entries[1].Level)
		assert.Equal(t, "retry 2", entries[1].Message)
	}
}

func TestLoggerWithDoesNotMutateParent(t *testing.T) {
	var got map[string]any
	parent := NewLogger(func(_ string, _ string, attrs map[string]any) { got = attrs })
	_ = parent.With(map[string]any{"a": 1})

	parent.Info("x")
	assert.Empty(t, got)
}

func TestFormattedCallsNeverBecomeAttributes(t *testing.T) {
	var (
		gotMsg   string
		gotAttrs map[string]any
	)
	logger := NewLogger(func(_ string, msg string, attrs map[string]any) {
		gotMsg, gotAttrs = msg, attrs
	})

	logger.Infof("%s joined %s", "patient_7", "healthos_doctor_1")

	assert.Equal(t, "patient_7 joined healthos_doctor_1", gotMsg)
	assert.NotContains(t, gotAttrs, "patient_7")
}

func TestKeyValueCallsBecomeAttributes(t *testing.T) {
	var (
		gotMsg   string
		gotAttrs map[string]any
	)
	logger := NewLogger(func(_ string, msg string, attrs map[string]any) {
		gotMsg, gotAttrs = msg, attrs
	})

	logger.Info("participant joined", "identity", "patient_7")

	assert.Equal(t, "participant joined", gotMsg)
	assert.Equal(t, "patient_7", gotAttrs["identity"])
}

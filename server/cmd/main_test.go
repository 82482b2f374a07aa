package main

import (
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProcessAliveTrueForCurrentProcess(t *testing.T) {
	assert.True(t, processAlive(os.Getpid()))
}

func TestProcessAliveFalseForUnlikelyPID(t *testing.T) {
	assert.False(t, processAlive(999999999))
}

func TestWithinTradingHoursBoundaries(t *testing.T) {
	morning := time.Date(2026, 7, 30, 8, 0, 0, 0, time.Local)
	assert.True(t, withinTradingHours(morning))

	beforeOpen := time.Date(2026, 7, 30, 7, 59, 0, 0, time.Local)
	assert.False(t, withinTradingHours(beforeOpen))

	atClose := time.Date(2026, 7, 30, 16, 0, 0, 0, time.Local)
	assert.False(t, withinTradingHours(atClose))
}

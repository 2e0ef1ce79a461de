package format

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSpeed(t *testing.T) {
	tests := []struct {
		name string
		bps  float64
		want string
	}{
		{"bytes", 512, "512 B/s"},
		{"zero", 0, "0 B/s"},
		{"kilobytes", 1500, "1.50 KB/s"},
		{"exact threshold", 1000, "1.00 KB/s"},
		{"megabytes", 2_345_000, "2.35 MB/s"},
		{"gigabytes", 1.5e9, "1.50 GB/s"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Speed(tt.bps))
		})
	}
}

func TestPercent(t *testing.T) {
	assert.Equal(t, "45.7%", Percent(45.678))
	assert.Equal(t, "0.0%", Percent(0))
	assert.Equal(t, "100.0%", Percent(100))
}

func TestETA(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{45 * time.Second, "45s"},
		{0, "0s"},
		{-5 * time.Second, "0s"},
		{3*time.Minute + 20*time.Second, "3m 20s"},
		{time.Hour + 5*time.Minute, "1h 5m"},
		{26*time.Hour + 30*time.Minute, "26h 30m"},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, ETA(tt.d))
	}
}

func TestBytes(t *testing.T) {
	assert.Equal(t, "0 B", Bytes(0))
	assert.Equal(t, "512 B", Bytes(512))
	assert.Equal(t, "1.5 KB", Bytes(1536))
	assert.Equal(t, "2.0 MB", Bytes(2*1024*1024))
}

func TestNumber(t *testing.T) {
	assert.Equal(t, "1,234,567", Number(1234567))
	assert.Equal(t, "1.2M", NumberCompact(1234567))
	assert.Equal(t, "999", NumberCompact(999))
}

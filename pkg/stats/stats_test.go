package stats

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFormat(t *testing.T) {
	cases := []struct {
		bytes int64
		d     time.Duration
		want  string
	}{
		{3_000_000, 2 * time.Second, "(3MB) [2s] {1.500MB/s}"},
		{1500, 500 * time.Microsecond, "(1KB) [500u] {3.000MB/s}"},
		{999, 0, "(999B)"},
		{120_000_000, 2 * time.Minute, "(120MB) [2m] {1.000MB/s}"},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Format(c.bytes, c.d))
	}
}

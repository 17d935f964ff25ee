package inventory

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalendar(t *testing.T) {
	tests := []struct {
		schedule string
		want     string
	}{
		{"hourly", "hourly"},
		{"@hourly", "hourly"},
		{"@daily", "daily"},
		{"0 * * * *", "*-*-* *:0:00"},
		{"*/15 * * * *", "*-*-* *:0/15:00"},
		{"30 2 * * 1", "Mon *-*-* 2:30:00"},
		{"30 2 * * Mon-Fri", "Mon-Fri *-*-* 2:30:00"},
		{"0 */6 1 * *", "*-*-1 0/6:0:00"},
	}
	for _, tt := range tests {
		t.Run(tt.schedule, func(t *testing.T) {
			got, err := Calendar(tt.schedule)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCalendar_Invalid(t *testing.T) {
	for _, s := range []string{"", "every hour", "* * * *", "0 0 * * * *", "0 x * * *", "@reboot"} {
		_, err := Calendar(s)
		assert.Error(t, err, s)
	}
}

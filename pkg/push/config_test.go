package push

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestPushSettings(t *testing.T) {
	req := require.New(t)
	for _, v := range []string{"Y", "y", "true", "1", " TRUE "} {
		req.True(PushSettings{Enabled: v}.On(), v)
	}
	for _, v := range []string{"", "N", "false", "0", "yes"} {
		req.False(PushSettings{Enabled: v}.On(), v)
	}

	d := PushSettings{}.WithDefaults()
	req.Equal("N", d.Enabled)
	req.Equal("https://restapi.getui.com/v2", d.BaseURL)
	req.Equal(int64(7200000), d.TTLMillis)
}

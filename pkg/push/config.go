package push

import "strings"

// PushSettings configures the GeTui vendor channel used for offline
// notifications.
type PushSettings struct {
	Enabled      string `yaml:"enabled" json:"enabled"`
	AppID        string `yaml:"appId" json:"appId"`
	AppKey       string `yaml:"appKey" json:"appKey"`
	AppSecret    string `yaml:"appSecret" json:"appSecret"`
	MasterSecret string `yaml:"masterSecret" json:"masterSecret"`
	BaseURL      string `yaml:"baseUrl" json:"baseUrl"`
	TTLMillis    int64  `yaml:"ttl" json:"ttl"`
	Title        string `yaml:"title" json:"title"`
}

func (s PushSettings) WithDefaults() PushSettings {
	o := s
	o.Enabled = normalizeYN(o.Enabled)
	if o.BaseURL == "" {
		o.BaseURL = "https://restapi.getui.com/v2"
	}
	if o.TTLMillis <= 0 {
		o.TTLMillis = 2 * 60 * 60 * 1000
	}
	return o
}

// On reports whether the vendor channel is enabled (Y/true/1).
func (s PushSettings) On() bool { return normalizeYN(s.Enabled) == "Y" }

func normalizeYN(v string) string {
	switch strings.TrimSpace(strings.ToUpper(v)) {
	case "Y", "TRUE", "1":
		return "Y"
	default:
		return "N"
	}
}

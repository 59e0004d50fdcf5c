package config

import "github.com/spf13/pflag"

type ClientConfig struct {
	Client Client
	Webrtc Webrtc
}

type Client struct {
	Debug      bool
	Monitoring Monitoring
	Network    struct {
		RelayAddress string `fig:"relay_address"`
		Endpoint     string `default:"/ws"`
		Secure       bool
	}
	Room  string
	Name  string
	Media Media
}

// Media holds the capture quality targets and the documented fallback
// used when the primary constraints are unsatisfiable.
type Media struct {
	Video struct {
		Width     int `default:"1920"`
		Height    int `default:"1080"`
		FrameRate int `fig:"frame_rate" default:"60"`
	}
	VideoFallback struct {
		Width     int `default:"1280"`
		Height    int `default:"720"`
		FrameRate int `fig:"frame_rate" default:"30"`
	} `fig:"video_fallback"`
	Audio struct {
		SampleRate       int  `fig:"sample_rate" default:"48000"`
		Channels         int  `default:"2"`
		EchoCancellation bool `fig:"echo_cancellation" default:"true"`
		NoiseSuppression bool `fig:"noise_suppression" default:"true"`
	}
}

// allows custom config path
var clientConfigPath string

func NewClientConfig() (conf ClientConfig) {
	if err := LoadConfig(&conf, clientConfigPath); err != nil {
		panic(err)
	}
	return
}

func (c *ClientConfig) WithFlags(fs *pflag.FlagSet) *ClientConfig {
	fs.BoolVar(&c.Client.Debug, "debug", c.Client.Debug, "Enable debug logs")
	fs.StringVar(&c.Client.Network.RelayAddress, "relay", c.Client.Network.RelayAddress, "Relay address to connect (host:port)")
	fs.StringVar(&c.Client.Room, "room", c.Client.Room, "Room to join")
	fs.StringVar(&c.Client.Name, "name", c.Client.Name, "Display name")
	fs.IntVar(&c.Client.Monitoring.Port, "monitoring.port", c.Client.Monitoring.Port, "Monitoring server port")
	fs.StringVarP(&clientConfigPath, "conf", "c", clientConfigPath, "Set custom configuration file path")
	return c
}

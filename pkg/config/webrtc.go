package config

type Webrtc struct {
	DisableDefaultInterceptors bool        `fig:"disable_default_interceptors"`
	IceServers                 []IceServer `fig:"ice_servers"`
	IcePorts                   struct {
		Min uint16
		Max uint16
	} `fig:"ice_ports"`
	IceIpMap   string `fig:"ice_ip_map"`
	SinglePort int    `fig:"single_port"`
	LogLevel   int    `fig:"log_level"`
}

type IceServer struct {
	Urls       string `json:"urls,omitempty"`
	Username   string `json:"username,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func (w *Webrtc) HasPortRange() bool  { return w.IcePorts.Min > 0 && w.IcePorts.Max > 0 }
func (w *Webrtc) HasSinglePort() bool { return w.SinglePort > 0 }
func (w *Webrtc) HasIceIpMap() bool   { return w.IceIpMap != "" }

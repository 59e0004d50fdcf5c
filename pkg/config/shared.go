package config

import "github.com/spf13/pflag"

type Server struct {
	Address string
	Https   bool
	Tls     struct {
		Address string
		Domain  string
		Key     string
		Cert    string
	}
}

func (s *Server) WithFlags(fs *pflag.FlagSet) {
	fs.StringVar(&s.Address, "address", s.Address, "HTTP server address (host:port)")
	fs.StringVar(&s.Tls.Address, "httpsAddress", s.Tls.Address, "HTTPS server address (host:port)")
	fs.StringVar(&s.Tls.Key, "httpsKey", s.Tls.Key, "HTTPS key")
	fs.StringVar(&s.Tls.Cert, "httpsCert", s.Tls.Cert, "HTTPS chain")
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

type Monitoring struct {
	Port             int
	URLPrefix        string `fig:"url_prefix"`
	MetricEnabled    bool   `fig:"metric_enabled"`
	ProfilingEnabled bool   `fig:"profiling_enabled"`
}

func (m *Monitoring) IsEnabled() bool { return m.MetricEnabled || m.ProfilingEnabled }

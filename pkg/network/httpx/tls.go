package httpx

import "golang.org/x/crypto/acme/autocert"

type TLSConfig struct {
	CertManager *autocert.Manager
}

func NewTLSConfig(domain string) *TLSConfig {
	manager := &autocert.Manager{
		Prompt: autocert.AcceptTOS,
		Cache:  autocert.DirCache("assets/cache"),
	}
	if domain != "" {
		manager.HostPolicy = autocert.HostWhitelist(domain)
	}
	return &TLSConfig{CertManager: manager}
}

package main

import (
	"context"
	goflag "flag"

	"github.com/meshmeet/meshmeet/pkg/client"
	"github.com/meshmeet/meshmeet/pkg/config"
	"github.com/meshmeet/meshmeet/pkg/logger"
	"github.com/meshmeet/meshmeet/pkg/media"
	"github.com/meshmeet/meshmeet/pkg/monitoring"
	"github.com/meshmeet/meshmeet/pkg/os"
	"github.com/meshmeet/meshmeet/pkg/webrtc"
	flag "github.com/spf13/pflag"
)

var Version = "?"

func main() {
	conf := config.NewClientConfig()
	conf.WithFlags(flag.CommandLine)
	flag.CommandLine.AddGoFlagSet(goflag.CommandLine)
	flag.Parse()

	log := logger.NewConsole(conf.Client.Debug, "m", false)
	log.Info().Msgf("version %s", Version)
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}

	api, err := webrtc.NewApiFactory(conf.Webrtc, log, nil)
	if err != nil {
		log.Fatal().Err(err).Msg("webrtc init fail")
	}
	links := client.LinkFactoryFunc(func(initiator bool) (client.PeerLink, error) {
		return webrtc.NewPeer(api, initiator, log)
	})

	relay, err := client.ConnectRelay(conf.Client, log)
	if err != nil {
		log.Fatal().Err(err).Msg("relay connect fail")
	}

	orc := client.New(conf.Client, &media.Synthetic{}, links, relay, log)
	relay.Bind(orc)
	done := relay.Listen()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if conf.Client.Monitoring.IsEnabled() {
		if mon := monitoring.New(conf.Client.Monitoring, "client", log); mon != nil {
			mon.Run()
			defer func() { _ = mon.Shutdown(ctx) }()
		}
	}

	if err := orc.Join(ctx, conf.Client.Room); err != nil {
		log.Fatal().Err(err).Msg("room join fail")
	}

	select {
	case <-os.ExpectTermination():
	case <-done:
		log.Error().Msg("relay connection lost")
	}
	orc.Close()
}

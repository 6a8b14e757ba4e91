package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/viktarcynam/zensch/config"
	"github.com/viktarcynam/zensch/pkg/gateway/alpacagw"
	"github.com/viktarcynam/zensch/pkg/gateway/simgw"
	redis_wrapper "github.com/viktarcynam/zensch/pkg/infra/redis"
	"github.com/viktarcynam/zensch/pkg/logging"
	"github.com/viktarcynam/zensch/pkg/notify"
	"github.com/viktarcynam/zensch/pkg/tracker"
)

func main() {
	var configFile string
	var useSim bool
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.BoolVar(&useSim, "sim", false, "Use the simulated broker gateway")
	flag.Parse()

	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		panic(err)
	}

	configBytes, err := json.MarshalIndent(cfg, "", "   ")
	if err != nil {
		zap.S().Warnf("could not convert config to JSON: %v", err)
	} else {
		zap.S().Debugf("load config %s", string(configBytes))
	}

	log := logging.NewLogger(logging.INFO)
	defer log.Sync() // nolint

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	var gw tracker.BrokerGateway
	if useSim || cfg.Alpaca == nil {
		gw = simgw.New()
	} else {
		gw = alpacagw.New(alpacagw.Config{
			APIKey:    cfg.Alpaca.APIKey,
			APISecret: cfg.Alpaca.APISecret,
			BaseURL:   cfg.Alpaca.BaseURL,
			AccountID: cfg.Alpaca.AccountID,
		})
	}

	t := tracker.New(gw, trackerConfig(cfg.Tracker), log)
	t.OnAuthExpired(func(accountID string, err error) {
		log.Error(ctx, "broker auth expired, poll loop paused",
			zap.String("account", accountID), zap.Error(err))
	})

	sinks := buildSinks(ctx, cfg, log)
	fanout := notify.NewFanout(log, sinks...)
	go fanout.Run(ctx, t.Events())

	if err := t.Start(ctx); err != nil {
		panic(err)
	}
	log.Info(ctx, "tracker daemon started")

	<-sigs
	log.Info(ctx, "shutting down")

	t.Stop()
	cancel()
	fanout.Close()

	log.Info(context.Background(), "exited cleanly")
}

func trackerConfig(tc *config.TrackerConfig) tracker.Config {
	if tc == nil {
		return tracker.Config{}
	}
	return tracker.Config{
		PollInterval:           time.Duration(tc.PollIntervalMs) * time.Millisecond,
		BackgroundPollInterval: time.Duration(tc.BackgroundPollIntervalMs) * time.Millisecond,
		GatewayTimeout:         time.Duration(tc.GatewayTimeoutMs) * time.Millisecond,
		LineageWindowTicks:     tc.LineageWindowTicks,
		ShutdownGrace:          time.Duration(tc.ShutdownGraceMs) * time.Millisecond,
	}
}

func buildSinks(ctx context.Context, cfg *config.AppConfig, log *logging.Logger) []notify.Sink {
	var sinks []notify.Sink

	if cfg.Nats != nil {
		ns, err := notify.NewNatsSink(cfg.Nats.URL, cfg.Nats.Stream, cfg.Nats.Subject)
		if err != nil {
			log.Warn(ctx, "nats sink unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, ns)
		}
	}

	if cfg.Kafka != nil && len(cfg.Kafka.Brokers) > 0 {
		sinks = append(sinks, notify.NewKafkaSink(cfg.Kafka.Brokers, cfg.Kafka.Topic))
	}

	if cfg.Redis != nil && cfg.RedisNotify != nil {
		client, err := redis_wrapper.InitRedis(cfg.Redis)
		if err != nil {
			log.Warn(ctx, "redis sink unavailable", zap.Error(err))
		} else {
			sinks = append(sinks, notify.NewRedisSink(client, cfg.RedisNotify.Channel))
		}
	}

	return sinks
}

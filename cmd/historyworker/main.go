package main

import (
	"context"
	"encoding/json"
	"flag"
	"os"
	"os/signal"
	"syscall"

	_ "github.com/lib/pq"
	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/viktarcynam/zensch/config"
	"github.com/viktarcynam/zensch/pkg/history"
	postgres_wrapper "github.com/viktarcynam/zensch/pkg/infra/postgres"
)

func main() {
	var configFile string
	flag.StringVar(&configFile, "config-file", "", "Specify config file path")
	flag.Parse()

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

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	natsURL := nats.DefaultURL
	stream, subject, durable := "ORDER_EVENTS", "ORDER_EVENTS.tracker", "history_worker"
	if cfg.Nats != nil {
		if cfg.Nats.URL != "" {
			natsURL = cfg.Nats.URL
		}
		if cfg.Nats.Stream != "" {
			stream = cfg.Nats.Stream
		}
		if cfg.Nats.Subject != "" {
			subject = cfg.Nats.Subject
		}
		if cfg.Nats.Durable != "" {
			durable = cfg.Nats.Durable
		}
	}

	nc, err := nats.Connect(natsURL)
	if err != nil {
		zap.S().Errorf("connect nats fail with err: %v", err)
		panic(err)
	}
	defer nc.Close()

	js, err := nc.JetStream()
	if err != nil {
		panic(err)
	}

	_, _ = js.AddStream(&nats.StreamConfig{
		Name:     stream,
		Subjects: []string{stream + ".*"},
	})

	db, err := postgres_wrapper.InitPostgres(cfg.HistoryDB)
	if err != nil {
		zap.S().Errorf("init db fail with err: %v", err)
		panic(err)
	}

	w := history.NewWorker(history.NewSQLRepo(db))
	go func() {
		if err := w.StartConsumer(ctx, js, subject, durable); err != nil && err != context.Canceled {
			zap.S().Errorf("consumer stopped: %v", err)
		}
	}()

	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)
	<-sigs
	cancel()
}

package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"vte-ng/internal/config"
	"vte-ng/internal/udp"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "./dev.yaml", "Path to YAML config")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	publisher, err := udp.NewPublisher(cfg.Publish.Dest)
	if err != nil {
		log.Fatalf("udp publisher init failed: %v", err)
	}
	defer publisher.Close()

	rt, err := newRuntime(cfg, publisher)
	if err != nil {
		log.Fatalf("runtime init failed: %v", err)
	}

	log.Printf("vte-ng starting")
	log.Printf("udp dest=%s interval=%s sources=%s", cfg.Publish.Dest, cfg.Publish.Interval, rt.sources)

	if err := rt.run(ctx); err != nil && ctx.Err() == nil {
		log.Fatalf("runtime stopped: %v", err)
	}
	log.Printf("vte-ng stopping")
}

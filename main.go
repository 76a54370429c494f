package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"example.com/chainfeed/cmd/gateway"
	"example.com/chainfeed/cmd/indexer"
	"example.com/chainfeed/internal/feed"
	"example.com/chainfeed/internal/follow"
	config "example.com/chainfeed/internal/init"
	"example.com/chainfeed/internal/store"
	"example.com/chainfeed/internal/stream"
)

func main() {
	// Initialize application configuration
	cfg := config.Init()
	mode := cfg.Mode

	// Initialize Cassandra read model connection
	st, err := store.New()
	if err != nil {
		log.Fatalf("Cassandra connection failed: %v", err)
	}
	defer st.Close()

	// Setup OS signal handling for graceful shutdown (SIGINT, SIGTERM)
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Run application depending on selected mode
	switch mode {
	case "gateway":
		if cfg.ViewerAddress == "" {
			log.Fatal("VIEWER_ADDRESS is required in gateway mode")
		}

		// Submission writer towards the transaction pipeline
		writer, err := stream.NewKafkaWriter(stream.KafkaConfig{
			Brokers:      []string{cfg.KafkaBroker},
			Topic:        cfg.KafkaSubmissionTopic,
			Partition:    cfg.KafkaPartition,
			WriteTimeout: cfg.KafkaWriteTO,
		})
		if err != nil {
			log.Fatalf("Kafka writer init failed: %v", err)
		}
		defer writer.Close()

		// Push subscription over finalized chain events
		reader := stream.NewKafkaReader(stream.KafkaConfig{
			Brokers:     []string{cfg.KafkaBroker},
			Topic:       cfg.KafkaEventsTopic,
			GroupID:     "gateway-" + cfg.ViewerAddress,
			ReadTimeout: cfg.KafkaReadTO,
		})
		strm := stream.NewStream(reader)
		defer strm.Close()
		go strm.Run(ctx)

		// Viewer-local follow graph
		follows, err := follow.Open(cfg.FollowDBPath)
		if err != nil {
			log.Fatalf("Follow graph init failed: %v", err)
		}
		defer follows.Close()

		engine := feed.NewEngine(cfg.ViewerAddress, st, follows, feed.Options{
			RefreshDelay: cfg.RefreshDelay,
		})
		engine.AttachStream(strm)

		if registered, err := st.IsRegistered(ctx, cfg.ViewerAddress); err == nil {
			engine.SetRegistered(ctx, registered)
		}

		gateway.Run(ctx, gateway.Options{
			Viewer:    cfg.ViewerAddress,
			Store:     st,
			Engine:    engine,
			Follows:   follows,
			Submitter: stream.NewSubmitter(writer),
			Addr:      cfg.ServerAddr,
			CertFile:  cfg.CertFile,
			KeyFile:   cfg.KeyFile,
		})
	case "indexer":
		reader := stream.NewKafkaReader(stream.KafkaConfig{
			Brokers:     []string{cfg.KafkaBroker},
			Topic:       cfg.KafkaEventsTopic,
			GroupID:     cfg.KafkaGroupID,
			ReadTimeout: cfg.KafkaReadTO,
		})
		defer reader.Close()

		ix := indexer.New(st, reader, 0, 0)
		ix.Run(ctx)
	default:
		log.Fatalf("unknown mode: %s", mode)
	}

	log.Println("Shutdown completed")
}

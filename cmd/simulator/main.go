package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"go.uber.org/zap"
)

func main() {
	serverURL := flag.String("server", "ws://localhost:9000", "central station WebSocket base URL")
	chargerID := flag.String("id", "SIM-CP-001", "charge point id (prefix when count > 1)")
	count := flag.Int("count", 1, "number of simulated charge points")
	flag.Parse()

	logger, err := zap.NewDevelopment()
	if err != nil {
		log.Fatal("Failed to initialize logger:", err)
	}
	defer logger.Sync()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var wg sync.WaitGroup
	for i := 0; i < *count; i++ {
		id := *chargerID
		if *count > 1 {
			id = fmt.Sprintf("%s-%03d", *chargerID, i+1)
		}
		sim := NewSimulator(*serverURL, id, logger)
		wg.Add(1)
		go func() {
			defer wg.Done()
			sim.Run(ctx)
		}()
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Info("Stopping simulators")
	cancel()
	wg.Wait()
}

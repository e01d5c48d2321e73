package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/orbita-network/go-rollup-client/db/badgerdb"
	"github.com/orbita-network/go-rollup-client/log"
	"github.com/orbita-network/go-rollup-client/rpc"
	"github.com/orbita-network/go-rollup-client/store"
	"github.com/orbita-network/go-rollup-client/syncer"
)

var (
	config = flag.String("config", "/tmp/rollup_client/config", "Config directory")
	dbDir  = flag.String("db", "/tmp/rollup_client/db", "Client DB directory")
)

func main() {
	flag.Parse()
	viper.AddConfigPath(*config)
	viper.SetConfigName("parameters")
	viper.MergeInConfig()

	logger := log.NewLogger("clientdemo")

	database, err := badgerdb.NewDB(*dbDir)
	if err != nil {
		logger.Error().Err(err).Msg("opening client db")
		os.Exit(1)
	}
	clientStore := store.NewStore(database)
	defer clientStore.Close()

	client, err := rpc.Dial(viper.GetString("nodeEndpoint"))
	if err != nil {
		logger.Error().Err(err).Msg("connecting to the chain authority")
		os.Exit(1)
	}
	engine := syncer.NewEngine(clientStore, client, nil)

	interval := viper.GetDuration("syncInterval")
	if interval == 0 {
		interval = 10 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		cancel()
	}()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		summary, err := engine.SyncToTip(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			logger.Error().Err(err).Msg("sync failed")
		} else if summary != nil {
			logger.Info().Uint64("height", summary.BlockNum).Msg("synced to tip")
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

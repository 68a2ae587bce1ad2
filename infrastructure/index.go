package infrastructure

import (
	"os"
	"os/signal"
	"syscall"

	"sentinel.io/infrastructure/config"
	"sentinel.io/infrastructure/ipc"
	"sentinel.io/infrastructure/logger"
	startup "sentinel.io/infrastructure/startUp"
)

// StartDaemon boots the daemon: logging, configuration, the RPC service
// with its stores, a background model warmup, and the socket accept loop.
func StartDaemon() {
	dataDir := config.DataDir()
	startup.StartServices(dataDir)
	cfg := config.Load(dataDir)

	service, err := ipc.NewService(cfg)
	if err != nil {
		logger.Error("could not build service", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		os.Exit(1)
	}

	server, err := ipc.NewServer(service, ipc.SocketPath())
	if err != nil {
		logger.Error("could not bind socket", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
		os.Exit(1)
	}

	// Warm the models so the first PAM request does not pay the load cost.
	service.WarmInBackground()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-stop
		logger.Info("shutting down")
		server.Close()
		service.Close()
		os.Exit(0)
	}()

	if err := server.Serve(); err != nil {
		logger.Error("accept loop failed", logger.LoggerOptions{
			Key:  "error",
			Data: err.Error(),
		})
	}
	service.Close()
}

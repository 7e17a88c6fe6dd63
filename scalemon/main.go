package main

import (
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/itohio/goweigh/pkg/api"
	"github.com/itohio/goweigh/pkg/config"
	"github.com/itohio/goweigh/pkg/link"
	"github.com/itohio/goweigh/pkg/mock"
	"github.com/itohio/goweigh/pkg/scale"
	"github.com/itohio/goweigh/pkg/stabilize"
)

func main() {
	var (
		portFlag   = flag.String("p", "", "Serial port override (e.g., COM3 or /dev/ttyUSB0)")
		configFlag = flag.String("config", "config.yaml", "Configuration file path")
		mockFlag   = flag.Bool("mock", false, "Use simulated scale instead of serial port")
		debugFlag  = flag.Bool("debug", false, "Enable debug logging (overrides config)")
		listenFlag = flag.String("listen", "", "Serve the REST API on this address (overrides config)")
		listFlag   = flag.Bool("list", false, "List available serial ports and exit")
	)
	flag.Parse()

	if *listFlag {
		listPorts()
		return
	}

	// Load configuration
	cfg, err := config.Load(*configFlag)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	// Override configuration if provided via command line
	if *portFlag != "" {
		cfg.Serial.Port = *portFlag
	}
	if *debugFlag {
		cfg.Log.Debug = true
	}
	if *listenFlag != "" {
		cfg.API.Listen = *listenFlag
	}

	logger, err := scale.NewLogger(cfg.Log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to instantiate logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	linkCfg, err := link.ConfigFrom(cfg.Serial)
	if err != nil {
		logger.Fatalf("Invalid serial configuration: %s", err)
	}

	options := []func(*scale.Scale){
		scale.WithLogger(logger),
		scale.WithStabilization(stabilize.ConfigFrom(cfg.Stabilization)),
		scale.WithFrameCapacity(cfg.Serial.FrameCapacity),
		scale.WithCommandTimeout(cfg.Command.Timeout),
	}
	if *mockFlag {
		logger.Info("Using simulated scale")
		options = append(options, scale.WithOpener(mock.NewSimulator(&cfg.Mock).Opener()))
	} else if !link.Exists(linkCfg.Port) {
		logger.Warnf("Serial port %s not listed by the system", linkCfg.Port)
	}

	s := scale.New(options...)

	s.OnStableWeight(func(ev scale.StableWeight) {
		logger.Infof("Stable weight %s [%s] settled in %s", ev.Weight, ev.ID, ev.SettleTime)
	})
	s.OnSample(func(sample scale.Sample) {
		logger.Debugf("Sample #%d: %s", sample.Sequence, sample.Weight)
	})
	s.OnPortError(func(ev scale.PortError) {
		logger.Errorf("Port error: %s", ev.Err)
	})

	if err := s.Open(linkCfg); err != nil {
		logger.Fatalf("Failed to open %s: %s", linkCfg, err)
	}

	var server *api.API
	if cfg.API.Listen != "" {
		server = api.New(s, logger)
		go func() {
			if err := server.Listen(cfg.API.Listen); err != nil {
				logger.Errorf("API server stopped: %s", err)
			}
		}()
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGTERM, os.Interrupt)
	<-sigChan

	logger.Info("Got signal, closing connection to scale")
	if server != nil {
		if err := server.Shutdown(); err != nil {
			logger.Warnf("Failed to shut down API server: %s", err)
		}
	}
	if err := s.Close(); err != nil {
		logger.Warnf("Failed to close scale: %s", err)
	}
}

func listPorts() {
	ports, err := link.Ports()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	if len(ports) == 0 {
		fmt.Println("No serial ports found")
		return
	}
	for _, p := range ports {
		fmt.Println(p)
	}
}

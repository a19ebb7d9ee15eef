package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/benbjohnson/clock"
	"github.com/pkg/errors"

	"github.com/NmBoyd/faster/internal/config"
	"github.com/NmBoyd/faster/internal/ingest"
	"github.com/NmBoyd/faster/internal/logging"
	"github.com/NmBoyd/faster/internal/mqttlink"
	"github.com/NmBoyd/faster/internal/optimizer"
	"github.com/NmBoyd/faster/internal/pathsearch"
	"github.com/NmBoyd/faster/internal/replanner"
	"github.com/NmBoyd/faster/internal/spatialindex"
	"github.com/NmBoyd/faster/internal/streamer"
	"github.com/NmBoyd/faster/internal/types"
	"github.com/NmBoyd/faster/internal/verifier"
	"github.com/NmBoyd/faster/internal/worldstate"
)

const busSize = 32

var (
	deafultFlagSet    = flag.NewFlagSet(os.Args[0], flag.ContinueOnError)
	configPath        = deafultFlagSet.String("config", "", "YAML configuration file")
	deviceID          = deafultFlagSet.String("device_id", "", "The provisioned device id")
	mqttBrokerAddress = deafultFlagSet.String("mqtt_broker", "", "MQTT broker protocol, address and port")
	privateKeyPath    = deafultFlagSet.String("private_key", "", "The private key for the MQTT authentication")
)

func main() {
	if err := deafultFlagSet.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	cfg, err := config.Load(*configPath)
	if *deviceID != "" {
		cfg.DeviceID = *deviceID
	}
	if *mqttBrokerAddress != "" {
		cfg.MQTT.Broker = *mqttBrokerAddress
	}
	if *privateKeyPath != "" {
		cfg.MQTT.PrivateKey = *privateKeyPath
	}

	log := logging.NewLogger("faster", cfg.LogLevel)
	defer log.Sync() //nolint:errcheck
	if err != nil {
		log.Fatalw("Invalid configuration", "path", *configPath, "error", err)
	}

	terminationSignals := make(chan os.Signal, 1)
	signal.Notify(terminationSignals, syscall.SIGINT, syscall.SIGTERM)
	ctx, quitFunc := context.WithCancel(context.Background())
	var wg sync.WaitGroup
	// cancel the main context on termination, also while still connecting
	go func() {
		<-terminationSignals
		log.Info("Shutting down..")
		quitFunc()
	}()

	clk := clock.New()
	index := spatialindex.New(clk, cfg.Observations.MaxAge)
	world := worldstate.New(index)

	search, err := pathsearch.New(cfg.PathSearch())
	if err != nil {
		log.Fatalw("Could not create path search", "error", err)
	}
	solver, err := optimizer.New(cfg.Solver())
	if err != nil {
		log.Fatalw("Could not create optimizer", "error", err)
	}
	checker, err := verifier.New(verifier.Config{
		Clearance:    cfg.Verifier.Clearance,
		SubSteps:     cfg.Verifier.SubSteps,
		StartupGrace: cfg.Verifier.StartupGrace,
	}, index)
	if err != nil {
		log.Fatalw("Could not create verifier", "error", err)
	}
	ctrl, err := replanner.New(replanner.Config{
		Horizon:        cfg.Planner.Horizon,
		GoalTolerance:  cfg.Planner.GoalTolerance,
		InputLimit:     cfg.Optimizer.InputLimit,
		RelaxAttempts:  cfg.Optimizer.RelaxAttempts,
		ShrinkFactor:   cfg.Optimizer.ShrinkFactor,
		RetainRejected: cfg.Verifier.RetainRejected,
	}, world, search, solver, checker, clk, log.Named("replanner"))
	if err != nil {
		log.Fatalw("Could not create replanner", "error", err)
	}
	stream := streamer.New(streamer.Config{
		Period:          cfg.Timing.OutputPeriod,
		TakeoffAltitude: cfg.Flight.TakeoffAltitude,
		TakeoffSpeed:    cfg.Flight.TakeoffSpeed,
		LandAltitude:    cfg.Flight.LandAltitude,
		LandSpeed:       cfg.Flight.LandSpeed,
		Feedforward:     cfg.Flight.Feedforward,
	}, world, clk)

	// Setup MQTT
	opts, err := mqttlink.ClientOptions(cfg.MQTT, cfg.DeviceID, clk.Now())
	if err != nil {
		log.Fatalw("Could not configure MQTT", "error", err)
	}
	mqttClient, err := mqttlink.Connect(ctx, opts, log.Named("mqtt"))
	if errors.Is(err, context.Canceled) {
		log.Info("Signing off before MQTT connected")
		return
	}
	if err != nil {
		log.Fatalw("Could not connect MQTT", "broker", cfg.MQTT.Broker, "error", err)
	}
	defer mqttClient.Disconnect(1000)

	bus := types.NewMessageBus(log.Named("bus"), make(chan types.Message, busSize),
		types.NewLogger(log.Named("messages")),
		ingest.New(world, cfg.Observations.QueueSize, clk, log.Named("ingest")),
		replanner.NewHandler(ctrl, clk, cfg.Timing.ReplanPeriod, cfg.DeviceID, log.Named("replanner")),
		streamer.NewHandler(stream, cfg.DeviceID, log.Named("streamer")),
		mqttlink.NewBridge(mqttClient, cfg.MQTT.TopicPrefix, cfg.MQTT.QoS, cfg.DeviceID, log.Named("mqtt")),
	)
	wg.Add(1)
	go bus.Run(ctx, &wg)

	log.Infow("Running", "device_id", cfg.DeviceID, "replan_period", cfg.Timing.ReplanPeriod, "output_period", cfg.Timing.OutputPeriod)

	// wait for termination, the signal goroutine cancels ctx
	<-ctx.Done()
	log.Info("Waiting for routines to finish..")
	wg.Wait()
	log.Info("Signing off - BYE")
}

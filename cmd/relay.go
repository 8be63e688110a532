package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/relaykit/relay/internal/utils"
	"github.com/relaykit/relay/pkg/emitter"
	"github.com/relaykit/relay/pkg/events"
	"github.com/relaykit/relay/pkg/middleware"
	"github.com/relaykit/relay/pkg/sink"
	"github.com/relaykit/relay/pkg/source"
	"github.com/relaykit/relay/pkg/version"
	"github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

func main() {
	// Define flags
	useHTTP := flag.Bool("http", false, "Deliver to an HTTP collector endpoint")
	useBeacon := flag.Bool("beacon", false, "Deliver via the beacon transport with network fallback")
	withUsage := flag.Bool("usage", false, "Also emit periodic host usage events")
	session := flag.String("session", "default", "Session identifier for usage events")
	showVersion := flag.Bool("version", false, "Print version and exit")
	flag.Parse()

	if *showVersion {
		fmt.Println(version.GetVersion())
		return
	}

	// Set the file name of the configurations file
	viper.SetConfigName("relay")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".") // optionally look for config in the working directory

	// Read the configuration file
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); ok {
			// Config file not found; ignore the error
			log.Println("No config file found, proceeding with environment variables only.")
		} else {
			// Config file was found but another error occurred
			log.Fatalf("Error reading config file, %s", err)
		}
	}

	viper.AutomaticEnv()        // Read also environment variables
	viper.SetEnvPrefix("RELAY") // Set a prefix for environment variables

	logger := utils.NewLogger(logrus.InfoLevel)

	var target sink.Sink
	var err error

	// Create the appropriate sink based on flags
	switch {
	case *useHTTP:
		config, cfgErr := sink.HTTPConfigFromViper(nil)
		if cfgErr != nil {
			log.Fatalf("Failed to load http sink config: %v", cfgErr)
		}
		config.OnDrop = func(records [][]byte, cause error) {
			logger.Warnf("Dropped %d records: %v", len(records), cause)
		}
		target, err = sink.NewHTTPSink(config, logger)
	case *useBeacon:
		config, cfgErr := sink.BeaconConfigFromViper(nil)
		if cfgErr != nil {
			log.Fatalf("Failed to load beacon sink config: %v", cfgErr)
		}
		config.OnDrop = func(records [][]byte, cause error) {
			logger.Warnf("Dropped %d records: %v", len(records), cause)
		}
		target, err = sink.NewBeaconSink(config, logger)
	default:
		config, cfgErr := sink.FileConfigFromViper(nil)
		if cfgErr != nil {
			log.Fatalf("Failed to load file sink config: %v", cfgErr)
		}
		target, err = sink.NewFileSink(config, logger)
	}
	if err != nil {
		log.Fatalf("Failed to create sink: %v", err)
	}

	em := emitter.New(emitter.Config{
		Tags:        viper.GetStringMapString("tags"),
		Middlewares: []middleware.Middleware{middleware.MaskSecrets()},
	}, []sink.Sink{target}, logger)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if *withUsage {
		usage := source.NewUsageSource(source.Config{
			Session:  *session,
			Interval: viper.GetDuration("usage_interval"),
		}, logger)
		eventChan := make(chan events.Event, 64)
		go func() {
			if err := usage.Start(ctx, eventChan); err != nil && err != context.Canceled {
				logger.Errorf("Usage source error: %v", err)
			}
		}()
		go func() {
			for event := range eventChan {
				if err := em.Emit(ctx, event); err != nil {
					logger.Debugf("Emit error: %v", err)
				}
			}
		}()
	}

	// Read JSON-lines events from stdin and emit them until EOF or signal.
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		event, err := events.Decode(line)
		if err != nil {
			logger.Warnf("Skipping malformed event: %v", err)
			continue
		}
		if err := em.Emit(ctx, event); err != nil {
			logger.Debugf("Emit error: %v", err)
		}
		if ctx.Err() != nil {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		logger.Errorf("Input error: %v", err)
	}

	closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer closeCancel()
	if err := em.Close(closeCtx); err != nil {
		logger.Errorf("Shutdown flush error: %v", err)
	}
}

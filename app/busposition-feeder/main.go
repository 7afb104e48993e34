package main

import (
	"fmt"
	logger "log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ardanlabs/conf"
	"github.com/joho/godotenv"
	"github.com/nats-io/nats.go"

	"github.com/citypulse-labs/bus-simulator/app/busposition-feeder/busposition"
	"github.com/citypulse-labs/bus-simulator/business/data/catalog"
	"github.com/citypulse-labs/bus-simulator/business/data/timeseries"
	"github.com/citypulse-labs/bus-simulator/foundation/database"
)

var build = "develop"

func main() {
	log := logger.New(os.Stdout, "BUSPOSITION_FEEDER : ", logger.LstdFlags|logger.Lmicroseconds|logger.Lshortfile)
	if err := run(log); err != nil {
		log.Printf("main: error: %v", err)
		os.Exit(1)
	}
}

func run(log *logger.Logger) error {

	// load an optional .env before reading config from the environment
	_ = godotenv.Load()

	var cfg struct {
		conf.Version
		Args conf.Args
		DB   struct {
			Driver     string `conf:"default:postgres"`
			User       string `conf:"default:postgres"`
			Password   string `conf:"default:postgres,noprint"`
			Host       string `conf:"default:0.0.0.0"`
			Name       string `conf:"default:postgres"`
			DisableTLS bool   `conf:"default:true"`
			Path       string `conf:""`
		}
		NATS struct {
			Url string `conf:"default:nats://localhost:4222"`
		}
		Sim struct {
			CatalogPath        string  `conf:"default:configs/catalog.json"`
			TickSeconds        int     `conf:"default:30"`
			MaxRetries         int     `conf:"default:3"`
			CallTimeoutSeconds int     `conf:"default:10"`
			Seed               int64   `conf:"default:0"`
			RestDayFactor      float64 `conf:"default:1"`
			StatusPort         int     `conf:"default:0"`
		}
	}
	cfg.Version.SVN = build
	cfg.Version.Desc = "Generate and record simulated bus positions"
	const prefix = "BUSPOSITION"
	if err := conf.Parse(os.Args[1:], prefix, &cfg); err != nil {
		switch err {
		case conf.ErrHelpWanted:
			usage, err := conf.Usage(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config usage: %w", err)
			}
			fmt.Println(usage)
			return nil
		case conf.ErrVersionWanted:
			version, err := conf.VersionString(prefix, &cfg)
			if err != nil {
				return fmt.Errorf("generating config version: %w", err)
			}
			fmt.Println(version)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	// =========================================================================
	// App Starting

	log.Printf("main : Started : Application initializing : version %s", build)
	defer log.Println("main: Completed")

	out, err := conf.String(&cfg)
	if err != nil {
		return fmt.Errorf("generating config for output: %w", err)
	}
	log.Printf("main: Config :\n%v\n", out)

	// =========================================================================
	// Load the catalog

	simCatalog, err := catalog.Load(cfg.Sim.CatalogPath)
	if err != nil {
		return fmt.Errorf("loading catalog: %w", err)
	}
	log.Printf("main: Loaded catalog with %d lines and %d buses",
		len(simCatalog.LineIds()), len(simCatalog.Buses()))

	// =========================================================================
	// Start Database

	log.Println("main: Initializing database support")

	db, err := database.Open(database.Config{
		Driver:     cfg.DB.Driver,
		User:       cfg.DB.User,
		Password:   cfg.DB.Password,
		Host:       cfg.DB.Host,
		Name:       cfg.DB.Name,
		DisableTLS: cfg.DB.DisableTLS,
		Path:       cfg.DB.Path,
	})
	if err != nil {
		return fmt.Errorf("connecting to db: %w", err)
	}
	defer func() {
		log.Printf("main: Database Stopping : %s", cfg.DB.Host)
		err = db.Close()
		if err != nil {
			log.Printf("main: error closing database: %v", err)
		}
	}()

	if err = timeseries.EnsureSchema(db); err != nil {
		return fmt.Errorf("ensuring time-series schema: %w", err)
	}

	// =========================================================================
	// Start NATS

	log.Printf("main: Connecting to NATS at %s", cfg.NATS.Url)
	natsConnection, err := nats.Connect(cfg.NATS.Url)
	if err != nil {
		return fmt.Errorf("connecting to nats: %w", err)
	}
	defer natsConnection.Close()

	// Make a channel to listen for an interrupt or terminate signal from the OS.
	// Use a buffered channel because the signal package requires it.
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	seed := cfg.Sim.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return busposition.RunBusPositionLoop(log, db, natsConnection, simCatalog, busposition.Settings{
		TickSeconds:        cfg.Sim.TickSeconds,
		MaxRetries:         cfg.Sim.MaxRetries,
		CallTimeoutSeconds: cfg.Sim.CallTimeoutSeconds,
		Seed:               seed,
		RestDayFactor:      cfg.Sim.RestDayFactor,
		StatusPort:         cfg.Sim.StatusPort,
	}, shutdown)
}

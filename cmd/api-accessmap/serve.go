package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/iot-for-tillgenglighet/messaging-golang/pkg/messaging"
	"github.com/redis/go-redis/v9"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/auth"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/config"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/database"
	pinmessaging "github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/messaging"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/messaging/events"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/mongostore"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/pinstore"
	"github.com/iot-for-tillgenglighet/api-accessmap/internal/pkg/ratelimit"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/catalog"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/domain"
	"github.com/iot-for-tillgenglighet/api-accessmap/pkg/handler"
)

var seedFileName string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the accessmap api",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.LoadFromEnvironment()
		if err != nil {
			return err
		}

		if seedFileName != "" {
			cfg.SeedFile = seedFileName
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg)
	},
}

func init() {
	serveCmd.Flags().StringVar(&seedFileName, "seedfile", "", "The file to seed pins from")
}

func serve(ctx context.Context, cfg config.Config) error {
	log.Infof("Starting up %s ...", serviceName)

	c, err := loadCatalog(cfg.CatalogFile)
	if err != nil {
		return err
	}

	db, closeDB, err := openDatastore(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeDB()

	seed(db, c, cfg.SeedFile)

	authenticator, err := auth.New(db, cfg.JWTSecret, cfg.JWTTTL)
	if err != nil {
		return err
	}

	options := []pinstore.Option{pinstore.WithDeletePolicy(cfg.DeletePolicy)}

	var messenger *messaging.Context
	if cfg.RabbitMQEnabled {
		messenger, err = messaging.Initialize(messaging.LoadConfiguration(serviceName))
		if err != nil {
			return fmt.Errorf("failed to initialize messaging: %w", err)
		}
		defer messenger.Close()

		options = append(options, pinstore.WithPublisher(pinmessaging.NewPublisher(messenger)))
	}

	hub := pinstore.NewHub(db, c, options...)
	defer hub.Close()

	if messenger != nil {
		receiver := pinmessaging.CreatePinChangedReceiver(hub)
		messenger.RegisterTopicMessageHandler(events.PinCreatedTopic, receiver)
		messenger.RegisterTopicMessageHandler(events.PinDeletedTopic, receiver)
	}

	limiter, closeLimiter := newCreateLimiter(ctx, cfg)
	defer closeLimiter()

	log.Infof("Deleting pins is allowed for: %s", hub.Policy())

	err = handler.CreateRouterAndStartServing(ctx, cfg.Port, handler.Services{
		Hub:            hub,
		Auth:           authenticator,
		CreateLimiter:  limiter,
		Map:            domain.NewMapSettings(cfg.MapTileURL, cfg.MapAttribution),
		AllowedOrigins: cfg.AllowedOrigins,
	})

	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func openDatastore(ctx context.Context, cfg config.Config) (database.Datastore, func(), error) {
	noop := func() {}

	switch cfg.StoreDriver {
	case config.StoreMongo:
		db, disconnect, err := mongostore.Connect(ctx, cfg.MongoURI, cfg.MongoDB)
		if err != nil {
			return nil, noop, err
		}
		return db, func() {
			dctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			if err := disconnect(dctx); err != nil {
				log.Errorf("mongo: disconnect failed: %s", err.Error())
			}
		}, nil

	case config.StorePostgres:
		db, err := database.NewDatabaseConnection(database.NewPostgreSQLConnector(
			cfg.PostgresHost, cfg.PostgresUser, cfg.PostgresPassword, cfg.PostgresDB, cfg.PostgresSSLMode,
		))
		return db, noop, err
	}

	connector := database.NewSQLiteConnector()
	if cfg.SQLitePath != "" {
		connector = database.NewSQLiteFileConnector(cfg.SQLitePath)
	}

	db, err := database.NewDatabaseConnection(connector)
	return db, noop, err
}

func seed(db database.Datastore, c *catalog.Catalog, path string) {
	if path == "" {
		return
	}

	datafile, err := os.Open(path)
	if err != nil {
		log.Infof("Failed to open the seed file %s. Datastore will not be seeded.", path)
		return
	}
	defer datafile.Close()

	count, err := database.SeedIfEmpty(db, c, datafile)
	if err != nil {
		log.Errorf("Seeding stopped after %d pins: %s", count, err.Error())
		return
	}

	if count > 0 {
		log.Infof("Seeded %d pins from %s", count, path)
	}
}

//newCreateLimiter shares the pin budget through redis when it is configured and reachable,
//otherwise every instance keeps its own
func newCreateLimiter(ctx context.Context, cfg config.Config) (ratelimit.Limiter, func()) {
	if cfg.RedisAddress != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddress,
			Password: cfg.RedisPassword,
		})

		pctx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()

		err := client.Ping(pctx).Err()
		if err == nil {
			log.Infof("Limiting pin creation to %d per %s through redis at %s", cfg.PinCreateLimit, cfg.PinCreateWindow, cfg.RedisAddress)
			return ratelimit.NewRedisLimiter(client, cfg.RedisQueuePrefix, cfg.PinCreateLimit, cfg.PinCreateWindow), func() {
				client.Close()
			}
		}

		log.Errorf("Redis at %s is unreachable, falling back to a local limiter: %s", cfg.RedisAddress, err.Error())
		client.Close()
	}

	return ratelimit.NewMemoryLimiter(cfg.PinCreateLimit, cfg.PinCreateWindow), func() {}
}

// Package main is the entry point of the application
package main

import (
	"flag"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/pixelchess/chess-server/internal/auth"
	"github.com/pixelchess/chess-server/pkg/config"
	"github.com/pixelchess/chess-server/pkg/events"
	"github.com/pixelchess/chess-server/pkg/game"
	"github.com/pixelchess/chess-server/pkg/matchmaker"
	"github.com/pixelchess/chess-server/pkg/rating"
	"github.com/pixelchess/chess-server/pkg/repository"
	"github.com/pixelchess/chess-server/pkg/server"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,

	CheckOrigin: func(r *http.Request) bool {
		path := os.Getenv("FRONTEND_PATH")
		if path == "" {
			return true
		}
		return path == r.Header.Get("Origin")
	},
}

// App encapsulates global dependencies
type application struct {
	Auth      *auth.TokenAuth
	Logger    *zap.Logger
	Config    *config.Config
	Publisher *events.Publisher
	Hub       *server.Hub
	Users     repository.UserRepository
	Server    *http.Server

	StartTime time.Time
}

func main() {
	debug := flag.Bool("debug", false, "enable debug logging")
	port := flag.String("port", "8080", "server port")
	flag.Parse()

	config := &config.Config{
		Debug: *debug,
		Port:  *port,
	}

	// Initialize logger
	logger := initLogger(config.Debug)
	defer logger.Sync()

	if err := godotenv.Load(); err != nil {
		logger.Warn("no .env file loaded", zap.Error(err))
	}

	if err := config.LoadEnv(); err != nil {
		logger.Fatal("loading env error", zap.Error(err))
	}

	// Initialize event publisher
	publisher := events.NewPublisher()

	// Initialize user repository
	var users repository.UserRepository
	if config.DatabaseURL != "" {
		pg, err := repository.NewPostgresRepository(config.DatabaseURL, logger)
		if err != nil {
			logger.Fatal("connecting to database", zap.Error(err))
		}
		users = pg
	} else {
		logger.Warn("DATABASE_URL not set, using in-memory user store")
		users = repository.NewInMemoryRepository(logger)
	}

	hub := server.NewHub(users, publisher, logger)

	updater := rating.NewUpdater(users, logger)
	gm := game.NewManager(hub, updater, publisher, logger)
	mm := matchmaker.NewMatchmaker(gm, publisher, logger)

	hub.Attach(gm, mm)

	app := &application{
		Auth:      auth.NewTokenAuth(config.TokenSecret),
		Logger:    logger,
		Config:    config,
		Hub:       hub,
		Users:     users,
		Publisher: publisher,
		StartTime: time.Now(),
	}

	go app.Hub.Run()

	if err := app.serve(); err != nil {
		logger.Fatal("error serving", zap.Error(err))
	}
}

func initLogger(debug bool) *zap.Logger {
	var cfg zap.Config
	if debug {
		cfg = zap.NewDevelopmentConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
	} else {
		cfg = zap.NewProductionConfig()
		cfg.Level = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	}

	logger, err := cfg.Build()
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}

	return logger
}

// Shutdown cleans up resources
func (app *application) Shutdown() {
	// Shut down hub
	if app.Hub != nil {
		app.Hub.Shutdown()
	}

	if closer, ok := app.Users.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			app.Logger.Error("closing user store", zap.Error(err))
		}
	}

	app.Logger.Info("All components shut down successfully")
}

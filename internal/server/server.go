package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/emdash/todoserver/internal/auth"
	"github.com/emdash/todoserver/internal/channel"
	"github.com/emdash/todoserver/internal/dispatch"
	"github.com/emdash/todoserver/internal/list"
	"github.com/emdash/todoserver/internal/server/middleware"
	"github.com/emdash/todoserver/internal/store"
	"github.com/emdash/todoserver/pkg/config"
	"github.com/emdash/todoserver/pkg/transport"
)

// ControlChannelName is the distinguished channel for list lifecycle
// operations.
const ControlChannelName = "control"

type App struct {
	logger     *slog.Logger
	config     *config.Config
	registry   *channel.Registry
	creds      *auth.Store
	dispatcher *dispatch.Dispatcher
	store      *store.Store
	flusher    *store.Flusher
	control    *channel.Channel

	mu          sync.Mutex
	lists       map[string]*list.List // keyed by list id
	order       []string              // creation order, preserved in the data file
	metaDirty   bool
	metaVersion uint64

	ipMu     sync.Mutex
	ipCounts map[string]int

	wg   sync.WaitGroup
	http *http.Server

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) (*App, error) {
	registry := channel.NewRegistry(logger)
	creds := auth.NewStore(logger)

	app := &App{
		logger:     logger,
		config:     cfg,
		registry:   registry,
		creds:      creds,
		dispatcher: dispatch.New(registry, creds, cfg.Login, logger),
		store:      store.New(cfg.Storage.DataPath, cfg.Storage.BackupDir, logger),
		lists:      make(map[string]*list.List),
		ipCounts:   make(map[string]int),
		ctx:        rootCtx,
	}
	app.flusher = store.NewFlusher(cfg.Storage.FlushInterval, app.flushTick, logger)

	app.control = channel.New(ControlChannelName, channel.Hooks{
		OnMessage: app.onControlMessage,
	}, logger)
	registry.Add(app.control)

	if err := app.restore(); err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/todo",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(logger, app.ipConnectionCount, cfg.Server.ConnectionLimit.MaxPerIP),
		),
	)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app, nil
}

func (a *App) Run() error {
	if err := a.flusher.Start(); err != nil {
		return err
	}
	if err := a.creds.Watch(a.ctx, a.config.Storage.CredentialsPath, a.onCredentialsReload); err != nil {
		a.logger.Warn("Credentials watch unavailable", slog.Any("error", err))
	}

	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		nil,
		nil,
		a.logger,
	)

	a.dispatcher.Open(conn)
	a.trackIP(reqMeta.IP, +1)

	conn.SetOnMessageHandler(a.dispatcher.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Connection closed; releasing channel memberships", slog.String("connID", id.String()))
		a.dispatcher.CloseConn(id)
		a.trackIP(reqMeta.IP, -1)
	})

	connLogger.Info("Connection fully established")
	conn.Run()
	<-conn.Done()
}

func (a *App) trackIP(ip string, delta int) {
	a.ipMu.Lock()
	defer a.ipMu.Unlock()

	a.ipCounts[ip] += delta
	if a.ipCounts[ip] <= 0 {
		delete(a.ipCounts, ip)
	}
}

func (a *App) ipConnectionCount(ip string) int {
	a.ipMu.Lock()
	defer a.ipMu.Unlock()
	return a.ipCounts[ip]
}

// AddUser registers a credential and entitles the user on the control
// channel so they can discover lists immediately.
func (a *App) AddUser(username, pwhash string) error {
	if err := a.creds.AddUser(username, pwhash); err != nil {
		return err
	}
	a.control.Entitle(username)
	return nil
}

// onCredentialsReload runs after a hot reload of the credentials file.
// Users that appeared get control-channel access; removal never revokes,
// consistent with entitlement revocation not evicting subscribers.
func (a *App) onCredentialsReload(added []string) {
	for _, username := range added {
		a.control.Entitle(username)
	}
	if len(added) > 0 {
		a.logger.Info("Entitled new users on control channel", slog.Int("count", len(added)))
	}
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	a.logger.Info("Closing all active connections...")
	a.dispatcher.CloseAll(errors.New("graceful shutdown"))

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()

	a.flusher.Stop()
	if err := a.Flush(); err != nil {
		a.logger.Error("Final flush failed", slog.Any("error", err))
		return err
	}
	a.logger.Info("Server shut down gracefully.")
	return nil
}

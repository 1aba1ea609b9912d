package server

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"interest-bank/internal/asset"
	"interest-bank/internal/chain"
	"interest-bank/internal/config"
	"interest-bank/internal/domain"
	"interest-bank/internal/handler"
	"interest-bank/internal/ledger"
	"interest-bank/internal/logging"
	"interest-bank/internal/metrics"
	"interest-bank/internal/repository"
	"interest-bank/internal/service"
)

// APIPrefix mounts every route a second time under a versioned path.
const APIPrefix = "/api/v1"

// Server represents the HTTP server
type Server struct {
	router *mux.Router
	server *http.Server
	db     *sql.DB
	chain  *chain.Chain
	cancel context.CancelFunc
	closer io.Closer
	logger *slog.Logger
	port   string
}

type backend struct {
	token   asset.Token
	journal domain.JournalRepository
	store   *repository.Store
	db      *sql.DB
}

// NewServer wires the configured storage backend, the block producer, the
// ledger and its services behind the HTTP router.
func NewServer(cfg *config.Config, logger *slog.Logger) (*Server, error) {
	if logger == nil {
		logger = logging.Discard()
	}
	ctx := context.Background()

	b, err := openBackend(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	supply, err := cfg.InitialSupply()
	if err != nil {
		b.close()
		return nil, err
	}
	if minted, err := asset.EnsureSupply(ctx, b.token, cfg.Owner(), supply); err != nil {
		b.close()
		return nil, fmt.Errorf("mint initial supply: %w", err)
	} else if minted {
		logger.Info("minted initial token supply", "owner", cfg.Owner().Hex(), "amount", supply.Dec())
	}

	blocks := chain.New(cfg.Automine, cfg.BlockInterval, logger)
	chainCtx, cancel := context.WithCancel(context.Background())
	blocks.Start(chainCtx)

	custody := cfg.Custody()
	m := metrics.New()
	l := ledger.New(asset.Custody(b.token, custody), blocks, custody, logger)

	bankService := service.NewBankService(l, blocks, b.journal, m, logger)
	tokenService := service.NewTokenService(b.token, blocks, custody, cfg.TokenDecimals, logger)
	chainService := service.NewChainService(blocks, m, logger)

	codec := handler.AmountCodec{Decimals: cfg.TokenDecimals}
	ledgerHandler := handler.NewLedgerHandler(bankService, codec)
	tokenHandler := handler.NewTokenHandler(tokenService, codec)
	chainHandler := handler.NewChainHandler(chainService)

	router := mux.NewRouter()
	router.Use(loggingMiddleware(logger))

	routes := func(r *mux.Router) {
		// Ledger
		r.HandleFunc("/ledger", ledgerHandler.GetStats).Methods("GET")
		r.HandleFunc("/accounts/{address}", ledgerHandler.GetAccount).Methods("GET")
		r.HandleFunc("/accounts/{address}/deposits", ledgerHandler.Deposit).Methods("POST")
		r.HandleFunc("/accounts/{address}/withdrawals", ledgerHandler.Withdraw).Methods("POST")
		r.HandleFunc("/loans/{address}", ledgerHandler.GetLoan).Methods("GET")
		r.HandleFunc("/loans/{address}", ledgerHandler.Borrow).Methods("POST")
		r.HandleFunc("/loans/{address}/repayment", ledgerHandler.Repay).Methods("POST")
		r.HandleFunc("/transactions/{id}", ledgerHandler.GetTransaction).Methods("GET")

		// Chain
		r.HandleFunc("/blocks/latest", chainHandler.GetLatestBlock).Methods("GET")
		r.HandleFunc("/blocks", chainHandler.Mine).Methods("POST")

		// Token
		r.HandleFunc("/token", tokenHandler.GetToken).Methods("GET")
		r.HandleFunc("/token/balances/{address}", tokenHandler.GetBalance).Methods("GET")
		r.HandleFunc("/token/faucet", tokenHandler.Faucet).Methods("POST")
		r.HandleFunc("/token/approvals", tokenHandler.Approve).Methods("POST")
	}
	routes(router.PathPrefix(APIPrefix).Subrouter())
	routes(router)

	router.Handle("/metrics", m.Handler()).Methods("GET")
	router.HandleFunc("/health", healthHandler(b.store)).Methods("GET")

	return &Server{
		router: router,
		db:     b.db,
		chain:  blocks,
		cancel: cancel,
		logger: logger,
	}, nil
}

func openBackend(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*backend, error) {
	switch cfg.StorageBackend {
	case config.BackendMemory:
		logger.Info("using in-memory storage")
		return &backend{
			token:   asset.NewMemoryToken(),
			journal: repository.NewMemoryJournal(),
		}, nil

	case config.BackendPostgres:
		db, err := repository.Open(ctx, cfg.GetDBConnectionString())
		if err != nil {
			return nil, fmt.Errorf("connect to database: %w", err)
		}
		db.SetMaxOpenConns(25)
		db.SetMaxIdleConns(25)
		db.SetConnMaxLifetime(5 * time.Minute)
		logger.Info("Successfully connected to database", "host", cfg.DBHost, "database", cfg.DBName)

		if err := repository.Migrate(ctx, db, logger); err != nil {
			db.Close()
			return nil, fmt.Errorf("migrate database: %w", err)
		}

		store := repository.NewStore(db, logger)
		return &backend{
			token:   asset.NewSQLToken(store),
			journal: store.Journal(),
			store:   store,
			db:      db,
		}, nil
	}
	return nil, fmt.Errorf("unknown storage backend %q", cfg.StorageBackend)
}

func (b *backend) close() {
	if b.db != nil {
		b.db.Close()
	}
}

// healthHandler reports liveness. With a database behind the store it also
// checks connectivity.
func healthHandler(store *repository.Store) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")

		if store != nil {
			if err := store.Ping(r.Context()); err != nil {
				w.WriteHeader(http.StatusServiceUnavailable)
				json.NewEncoder(w).Encode(map[string]string{"status": "unhealthy", "error": "database unavailable"})
				return
			}
		}

		json.NewEncoder(w).Encode(map[string]string{
			"status":    "healthy",
			"timestamp": time.Now().UTC().Format(time.RFC3339),
		})
	}
}

// loggingMiddleware adds request logging
func loggingMiddleware(logger *slog.Logger) mux.MiddlewareFunc {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()

			ww := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

			next.ServeHTTP(ww, r)

			logger.Info("request completed",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.statusCode,
				"duration", time.Since(start),
				"user_agent", r.UserAgent(),
			)
		})
	}
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Start listens on port and serves in the background. Port "0" picks a free
// port, which is returned.
func (s *Server) Start(port string) (string, error) {
	listener, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return "", err
	}

	addr := listener.Addr().(*net.TCPAddr)
	s.port = strconv.Itoa(addr.Port)

	s.server = &http.Server{
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	s.logger.Info("Starting server", "port", s.port)

	go func() {
		if err := s.server.Serve(listener); err != nil && err != http.ErrServerClosed {
			s.logger.Error("Server failed to start", "error", err)
		}
	}()

	return s.port, nil
}

// Stop drains HTTP requests, then halts block production and releases the
// database and log file.
func (s *Server) Stop(ctx context.Context) error {
	s.logger.Info("Shutting down server")

	var err error
	if s.server != nil {
		err = s.server.Shutdown(ctx)
	}

	s.chain.Stop()
	s.cancel()

	if s.db != nil {
		s.db.Close()
	}
	if s.closer != nil {
		s.closer.Close()
	}
	return err
}

// GetPort returns the port the server is listening on
func (s *Server) GetPort() string {
	return s.port
}

// GetBaseURL returns the base URL for the server
func (s *Server) GetBaseURL() string {
	return "http://localhost:" + s.port
}

// GetRouter returns the router for testing purposes
func (s *Server) GetRouter() *mux.Router {
	return s.router
}

// StartServer starts the server with the given configuration. Port "0" is
// treated as a test run and logs nothing.
func StartServer(cfg *config.Config) (*Server, string, error) {
	var (
		logger *slog.Logger
		closer io.Closer
	)
	if cfg.ServerPort == "0" {
		logger = logging.Discard()
	} else {
		logger, closer = logging.New(cfg)
	}

	server, err := NewServer(cfg, logger)
	if err != nil {
		if closer != nil {
			closer.Close()
		}
		return nil, "", err
	}
	server.closer = closer

	port, err := server.Start(cfg.ServerPort)
	if err != nil {
		server.Stop(context.Background())
		return nil, "", err
	}

	return server, port, nil
}

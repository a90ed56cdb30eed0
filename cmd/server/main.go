package main

import (
	"context"
	"encoding/json"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/zap"

	"github.com/yourorg/payment-gateway/internal/amount"
	"github.com/yourorg/payment-gateway/internal/config"
	"github.com/yourorg/payment-gateway/internal/invoker"
	"github.com/yourorg/payment-gateway/internal/metrics"
	"github.com/yourorg/payment-gateway/internal/monitor"
	"github.com/yourorg/payment-gateway/internal/orchestrator"
	"github.com/yourorg/payment-gateway/internal/policy"
	"github.com/yourorg/payment-gateway/internal/provider"
	"github.com/yourorg/payment-gateway/internal/provider/mellat"
	"github.com/yourorg/payment-gateway/internal/provider/zarinpal"
	"github.com/yourorg/payment-gateway/internal/record"
	"github.com/yourorg/payment-gateway/internal/reporting"
	"github.com/yourorg/payment-gateway/internal/statestore"
)

// sessionCookie carries the payer's session id between the authorize redirect
// and the gateway callback.
const sessionCookie = "psid"

// application bundles the wired components the HTTP handlers need.
type application struct {
	logger   *zap.Logger
	manager  *orchestrator.Manager
	reporter *reporting.Reporter
	monitor  *monitor.ContractMonitor
	registry *prometheus.Registry
}

func main() {
	logger, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("loading configuration", zap.Error(err))
	}

	shutdownTracing, err := initTracing()
	if err != nil {
		logger.Fatal("initializing tracing", zap.Error(err))
	}
	defer shutdownTracing()

	app, cleanup, err := buildApplication(context.Background(), cfg, logger)
	if err != nil {
		logger.Fatal("building application", zap.Error(err))
	}
	defer cleanup()

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           setupRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("server listening", zap.String("addr", cfg.HTTPAddr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("server failed", zap.Error(err))
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		logger.Error("shutdown", zap.Error(err))
	}
}

// initTracing installs a stdout trace exporter and returns the provider
// shutdown.
func initTracing() (func(), error) {
	exporter, err := stdouttrace.New(stdouttrace.WithPrettyPrint())
	if err != nil {
		return nil, err
	}
	tp := sdktrace.NewTracerProvider(sdktrace.WithBatcher(exporter))
	otel.SetTracerProvider(tp)
	return func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = tp.Shutdown(ctx)
	}, nil
}

// buildApplication wires the stores, drivers and the orchestration manager
// from the loaded configuration.
func buildApplication(ctx context.Context, cfg config.Config, logger *zap.Logger) (*application, func(), error) {
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}

	var store record.Store
	if cfg.DatabaseURL != "" {
		pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
		if err != nil {
			return nil, nil, err
		}
		cleanups = append(cleanups, pool.Close)
		pg := record.NewPostgresStore(pool, cfg.TablePrefix)
		if err := pg.Migrate(ctx); err != nil {
			cleanup()
			return nil, nil, err
		}
		store = pg
		logger.Info("using postgres record store", zap.String("table_prefix", cfg.TablePrefix))
	} else {
		store = record.NewMemoryStore()
		logger.Warn("using in-memory record store; transactions will not survive a restart")
	}

	var states statestore.Store
	if cfg.RedisAddr != "" {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		cleanups = append(cleanups, func() { _ = client.Close() })
		states = statestore.NewRedisStore(client, cfg.StateTTL)
		logger.Info("using redis state store", zap.String("addr", cfg.RedisAddr))
	} else {
		states = statestore.NewMemoryStore()
		logger.Warn("using in-memory state store; sessions will not survive a restart")
	}

	promRegistry := prometheus.NewRegistry()
	m := metrics.New(promRegistry)

	inv := invoker.New(invoker.Config{
		Attempts: cfg.RetryAttempts,
		Backoff:  cfg.RetryBackoff,
	}, invoker.NewBreaker(), logger)
	inv.OnRetry = m.InvokerRetry

	providers, err := config.LoadProviders(cfg.ProvidersFile)
	if err != nil {
		cleanup()
		return nil, nil, err
	}
	registry := provider.NewRegistry()
	if c := providers.Mellat; c != nil {
		registry.Register(mellat.New(mellat.Config{
			TerminalID:  c.TerminalID,
			Username:    c.Username,
			Password:    c.Password,
			Endpoint:    c.Endpoint,
			PaymentURL:  c.PaymentURL,
			CallbackURL: c.CallbackURL,
		}, nil, inv, store, m, logger))
	}
	if c := providers.Zarinpal; c != nil {
		registry.Register(zarinpal.New(zarinpal.Config{
			MerchantID:  c.MerchantID,
			Endpoint:    c.Endpoint,
			PaymentURL:  c.PaymentURL,
			CallbackURL: c.CallbackURL,
			Description: c.Description,
		}, nil, inv, m, logger))
	}
	logger.Info("providers registered", zap.Strings("providers", registry.Names()))

	var enforcer *policy.Enforcer
	if len(providers.Policy) > 0 {
		if enforcer, err = policy.NewEnforcer(providers.Policy); err != nil {
			cleanup()
			return nil, nil, err
		}
	}

	var contract *monitor.ContractMonitor
	if cfg.RequestSchemaFile != "" {
		contract, err = monitor.NewContractMonitorFromFile(cfg.RequestSchemaFile)
	} else {
		contract, err = monitor.NewContractMonitor()
	}
	if err != nil {
		cleanup()
		return nil, nil, err
	}

	workflow := provider.NewWorkflow(store, states, logger, m)
	manager := orchestrator.NewManager(registry, store, states, workflow, enforcer, logger)

	return &application{
		logger:   logger,
		manager:  manager,
		reporter: reporting.NewReporter(store),
		monitor:  contract,
		registry: promRegistry,
	}, cleanup, nil
}

func setupRouter(app *application) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), otelgin.Middleware("payment-gateway"))

	router.POST("/payments", app.authorizeHandler)
	router.GET("/payments/callback", app.callbackHandler)
	router.POST("/payments/callback", app.callbackHandler)
	router.GET("/payments/:id", app.findHandler)
	router.GET("/reports/retrospective", app.retrospectiveHandler)
	router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{})))
	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	return router
}

type amountPayload struct {
	Total    string `json:"total"`
	Currency string `json:"currency"`
}

type authorizePayload struct {
	Provider string            `json:"provider"`
	Amount   amountPayload     `json:"amount"`
	OrderID  string            `json:"order_id"`
	Extra    map[string]string `json:"extra"`
}

func (app *application) authorizeHandler(c *gin.Context) {
	body, err := c.GetRawData()
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable request body"})
		return
	}

	valid, violations, err := app.monitor.Validate(body)
	if err != nil || !valid {
		msg := monitor.FormatErrors(violations)
		if msg == "" {
			msg = "request body does not match the contract"
		}
		c.JSON(http.StatusBadRequest, gin.H{"error": msg})
		return
	}

	var payload authorizePayload
	if err := json.Unmarshal(body, &payload); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request format: " + err.Error()})
		return
	}

	total, err := decimal.NewFromString(payload.Amount.Total)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid amount: " + err.Error()})
		return
	}
	amt, err := amount.New(total, payload.Amount.Currency)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}

	var extra map[string]any
	if len(payload.Extra) > 0 {
		extra = make(map[string]any, len(payload.Extra))
		for k, v := range payload.Extra {
			extra[k] = v
		}
	}

	res, err := app.manager.Authorize(c.Request.Context(), orchestrator.AuthorizeRequest{
		Provider: payload.Provider,
		Amount:   amt,
		OrderID:  payload.OrderID,
		ClientIP: c.ClientIP(),
		Extra:    extra,
	}, app.session(c))
	if err != nil {
		app.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, res)
}

func (app *application) callbackHandler(c *gin.Context) {
	_ = c.Request.ParseForm()
	values := c.Request.Form // query merged with POST form

	tx, err := app.manager.Settle(c.Request.Context(), orchestrator.CallbackRequest{
		TransactionID: values.Get(provider.CallbackParamTransaction),
		StateToken:    values.Get(provider.CallbackParamState),
		Callback: provider.Callback{
			Values:   values,
			ClientIP: c.ClientIP(),
		},
	}, app.session(c))
	if err != nil {
		app.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (app *application) findHandler(c *gin.Context) {
	tx, err := app.manager.Find(c.Request.Context(), c.Param("id"))
	if err != nil {
		app.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, tx)
}

func (app *application) retrospectiveHandler(c *gin.Context) {
	var from, to time.Time
	var err error
	if v := c.Query("from"); v != "" {
		if from, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "from must be RFC3339"})
			return
		}
	}
	if v := c.Query("to"); v != "" {
		if to, err = time.Parse(time.RFC3339, v); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "to must be RFC3339"})
			return
		}
	}

	report, err := app.reporter.Generate(c.Request.Context(), from, to)
	if err != nil {
		app.renderError(c, err)
		return
	}
	c.JSON(http.StatusOK, report)
}

// session returns the payer's session id from the cookie, minting one when
// absent.
func (app *application) session(c *gin.Context) string {
	if sid, err := c.Cookie(sessionCookie); err == nil && sid != "" {
		return sid
	}
	sid := uuid.NewString()
	c.SetCookie(sessionCookie, sid, int((24 * time.Hour).Seconds()), "/", "", false, true)
	return sid
}

// renderError maps an orchestration error onto the HTTP surface.
func (app *application) renderError(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch orchestrator.Classify(err) {
	case orchestrator.KindInvalidRequest:
		status = http.StatusBadRequest
	case orchestrator.KindInvalidState, orchestrator.KindRetry:
		status = http.StatusConflict
	case orchestrator.KindNotFound, orchestrator.KindProviderNotFound:
		status = http.StatusNotFound
	case orchestrator.KindTransaction:
		status = http.StatusUnprocessableEntity
	}

	if status == http.StatusInternalServerError {
		app.logger.Error("request failed", zap.Error(err))
		c.JSON(status, gin.H{"error": "internal error"})
		return
	}

	resp := gin.H{"error": err.Error()}
	if te, ok := provider.AsTransactionError(err); ok {
		resp = gin.H{"error": te.Message, "code": te.Code, "provider": te.Provider}
	}
	c.JSON(status, resp)
}

// Command wsrouterd is a reference server demonstrating how to wire the
// router library into a real net/http process: configuration, structured
// logging, tracing, a pub/sub backend and a couple of example routes. It
// is not a dependency of the router package itself.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/websocket"
	goredis "github.com/redis/go-redis/v9"

	"github.com/chris-alexander-pop/wsrouter/connection"
	"github.com/chris-alexander-pop/wsrouter/internal/obslog"
	"github.com/chris-alexander-pop/wsrouter/internal/obstrace"
	"github.com/chris-alexander-pop/wsrouter/internal/routerconfig"
	"github.com/chris-alexander-pop/wsrouter/platform/wsadapter"
	"github.com/chris-alexander-pop/wsrouter/pubsub"
	pubsubmem "github.com/chris-alexander-pop/wsrouter/pubsub/adapters/memory"
	pubsubredis "github.com/chris-alexander-pop/wsrouter/pubsub/adapters/redis"
	"github.com/chris-alexander-pop/wsrouter/ratelimit"
	ratelimitmem "github.com/chris-alexander-pop/wsrouter/ratelimit/adapters/memory"
	"github.com/chris-alexander-pop/wsrouter/router"
	"github.com/chris-alexander-pop/wsrouter/schema"
	"github.com/chris-alexander-pop/wsrouter/topics"
)

// appConfig is read from .env or the process environment (the ambient
// config layer), validated with struct tags the same way the teacher
// library's pkg/config consumers do.
type appConfig struct {
	Port                   int     `env:"WSROUTERD_PORT" env-default:"8080"`
	LogLevel               string  `env:"WSROUTERD_LOG_LEVEL" env-default:"INFO"`
	LogFormat              string  `env:"WSROUTERD_LOG_FORMAT" env-default:"JSON"`
	OtlpEndpoint           string  `env:"WSROUTERD_OTLP_ENDPOINT"`
	RedisAddr              string  `env:"WSROUTERD_REDIS_ADDR"`
	RedisChannelPrefix     string  `env:"WSROUTERD_REDIS_CHANNEL_PREFIX" env-default:"wsrouterd:"`
	MaxTopicsPerConnection int     `env:"WSROUTERD_MAX_TOPICS_PER_CONNECTION" env-default:"64"`
	MaxPayloadBytes        int     `env:"WSROUTERD_MAX_PAYLOAD_BYTES" env-default:"65536"`
	MaxPending             int64   `env:"WSROUTERD_MAX_PENDING" env-default:"32"`
	RateLimitCapacity      int64   `env:"WSROUTERD_RATE_LIMIT_CAPACITY" env-default:"20"`
	RateLimitPerSecond     float64 `env:"WSROUTERD_RATE_LIMIT_PER_SECOND" env-default:"10"`
}

type chatMessagePayload struct {
	RoomID string `json:"roomId" validate:"required"`
	Body   string `json:"body" validate:"required,max=4000"`
}

type chatBroadcastPayload struct {
	RoomID string `json:"roomId"`
	UserID string `json:"userId"`
	Body   string `json:"body"`
}

type joinRoomPayload struct {
	RoomID string `json:"roomId" validate:"required"`
}

type joinRoomResultPayload struct {
	RoomID string `json:"roomId"`
}

func main() {
	var cfg appConfig
	if err := routerconfig.Load(&cfg); err != nil {
		fmt.Fprintln(os.Stderr, "wsrouterd: failed to load configuration:", err)
		os.Exit(1)
	}

	log := obslog.Init(obslog.Config{Level: cfg.LogLevel, Format: cfg.LogFormat})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OtlpEndpoint != "" {
		shutdown, err := obstrace.Init(ctx, obstrace.Config{
			ServiceName:    "wsrouterd",
			ServiceVersion: "dev",
			Endpoint:       cfg.OtlpEndpoint,
		})
		if err != nil {
			log.Warn("wsrouterd: tracing disabled", "error", err)
		} else {
			defer func() { _ = shutdown(context.Background()) }()
		}
	}

	limiter, err := ratelimitmem.New(cfg.RateLimitCapacity, cfg.RateLimitPerSecond)
	if err != nil {
		log.Error("wsrouterd: invalid rate limit policy", "error", err)
		os.Exit(1)
	}

	r := router.New(router.Config{
		MaxTopicsPerConnection: cfg.MaxTopicsPerConnection,
		MaxPayloadBytes:        cfg.MaxPayloadBytes,
		MaxPending:             cfg.MaxPending,
		Limiter:                limiter,
		RateLimitKey:           ratelimit.KeyPerUserOrIpPerType("userId"),
	})

	stopBroker, err := wirePubSub(ctx, cfg, r, log)
	if err != nil {
		log.Error("wsrouterd: failed to wire pub/sub backend", "error", err)
		os.Exit(1)
	}
	if stopBroker != nil {
		defer stopBroker()
	}

	registerRoutes(r)
	r.Freeze()

	r.OnError(func(_ context.Context, err error, conn *connection.Connection) {
		clientID := ""
		if conn != nil {
			clientID = conn.ClientID
		}
		log.Error("wsrouterd: handler error", "error", err, "client_id", clientID)
	})

	handler := &wsadapter.Handler{
		Router:   r,
		Upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	mux := http.NewServeMux()
	mux.Handle("/ws", handler)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      mux,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		<-ctx.Done()
		log.Info("wsrouterd: shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(shutdownCtx)
	}()

	log.Info("wsrouterd: listening", "port", cfg.Port)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Error("wsrouterd: server failed", "error", err)
		os.Exit(1)
	}
}

// wirePubSub picks the Redis-backed driver when WSROUTERD_REDIS_ADDR is
// set, falling back to the in-process driver otherwise (a single instance
// never needs the broker). For Redis it also starts the pattern consumer
// that re-injects externally published frames into this instance's local
// fan-out, returning a stop func for graceful shutdown.
func wirePubSub(ctx context.Context, cfg appConfig, r *router.Router, log *slog.Logger) (func(), error) {
	if cfg.RedisAddr == "" {
		r.SetPubSubDriver(pubsubmem.New(r))
		return nil, nil
	}

	client := goredis.NewClient(&goredis.Options{Addr: cfg.RedisAddr})
	driverCfg := pubsubredis.Config{Prefix: cfg.RedisChannelPrefix}
	driver := pubsubredis.New(client, r, driverCfg)
	r.SetPubSubDriver(driver)

	consumer := pubsubredis.NewConsumer(client, driverCfg)
	stop, err := consumer.Start(ctx, func(env pubsub.PublishEnvelope) {
		for _, clientID := range driver.GetLocalSubscribers(env.Topic) {
			frame, err := pubsub.JSONEncoder{}.Encode(env)
			if err != nil {
				log.Warn("wsrouterd: failed to re-encode broker envelope", "topic", env.Topic, "error", err)
				return
			}
			if err := r.SendToClient(ctx, clientID, frame); err != nil {
				log.Warn("wsrouterd: broker delivery failed", "topic", env.Topic, "client_id", clientID, "error", err)
			}
		}
	})
	if err != nil {
		return nil, err
	}
	return stop, nil
}

// registerRoutes declares the example chat protocol: a fire-and-forget
// broadcast and an RPC that joins the caller to a room's topic.
func registerRoutes(r *router.Router) {
	chatSchema := schema.New[chatMessagePayload]("CHAT_MESSAGE")
	broadcastSchema := schema.New[chatBroadcastPayload]("CHAT_BROADCAST")
	_ = router.On(r, chatSchema, func(ctx *router.EventContext[chatMessagePayload]) error {
		topic := "room:" + ctx.Payload.RoomID
		_, err := ctx.Publish(topic, broadcastSchema, chatBroadcastPayload{
			RoomID: ctx.Payload.RoomID,
			UserID: ctx.ClientID(),
			Body:   ctx.Payload.Body,
		}, router.PublishOptions{})
		return err
	})

	joinResult := schema.New[joinRoomResultPayload]("JOIN_ROOM_RESULT")
	joinSchema := schema.New[joinRoomPayload]("JOIN_ROOM", schema.WithResponse(joinResult))
	_ = router.Rpc(r, joinSchema, func(ctx *router.RpcContext[joinRoomPayload, joinRoomResultPayload]) error {
		topic := "room:" + ctx.Payload.RoomID
		if _, err := ctx.Topics().Subscribe(ctx.Context(), topic, topics.Options{}); err != nil {
			return err
		}
		return ctx.Reply(joinRoomResultPayload{RoomID: ctx.Payload.RoomID}, nil)
	})
}

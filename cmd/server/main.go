package main

import (
	"context"
	"database/sql"
	"log"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/linkup/social-core/internal/auth"
	"github.com/linkup/social-core/internal/chat"
	"github.com/linkup/social-core/internal/config"
	"github.com/linkup/social-core/internal/httpapi"
	"github.com/linkup/social-core/internal/livepool"
	"github.com/linkup/social-core/internal/match"
	"github.com/linkup/social-core/internal/messaging"
	"github.com/linkup/social-core/internal/presence"
	"github.com/linkup/social-core/internal/protocol"
	"github.com/linkup/social-core/internal/ratelimit"
	"github.com/linkup/social-core/internal/relay"
	"github.com/linkup/social-core/internal/ws"
)

func main() {
	cfg := config.FromEnv()

	// --- Postgres ---
	db, err := sql.Open("postgres", cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to open postgres: %v", err)
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := db.PingContext(pingCtx); err != nil {
		cancel()
		log.Fatalf("failed to connect to postgres: %v", err)
	}
	cancel()
	if err := chat.Migrate(db); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}
	chatStore := chat.NewStore(db)

	// --- Redis ---
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
	pingCtx, cancel = context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Printf("redis unavailable, rate limiting disabled: %v", err)
	}
	cancel()
	limiter := ratelimit.NewLimiter(redisClient)

	// --- NATS ---
	natsConfig := messaging.DefaultConfig()
	natsConfig.URL = cfg.NATSURL
	natsClient, err := messaging.Connect(natsConfig)
	if err != nil {
		log.Fatalf("failed to connect to NATS: %v", err)
	}

	// --- Core state ---
	registry := presence.NewRegistry()
	pool := livepool.NewPool(cfg.PoolStaleAfter)
	sweepCtx, stopSweeper := context.WithCancel(context.Background())
	pool.StartSweeper(sweepCtx, cfg.PoolSweepInterval)

	rng := rand.New(rand.NewSource(time.Now().UnixNano()))
	matcher := match.New(pool, chatStore, rng)
	deliverer := relay.New(registry, natsClient)

	verifier := auth.NewJWTVerifier([]byte(cfg.JWTSecret))
	roomPolicy := &auth.ParticipantPolicy{Sessions: chatStore}

	log.Printf("social-core server starting")
	log.Printf("  listen_addr:      %s", cfg.ListenAddr)
	log.Printf("  worker_pool:      %d", cfg.WorkerPoolSize)
	log.Printf("  max_connections:  %d", cfg.MaxConnections)
	log.Printf("  read_timeout:     %s", cfg.ReadTimeout)
	log.Printf("  pool_stale_after: %s", cfg.PoolStaleAfter)
	log.Printf("  nats_url:         %s", natsConfig.URL)
	log.Printf("  redis_addr:       %s", cfg.RedisAddr)

	dispatcher := ws.NewMessageDispatcher()

	serverConfig := ws.ServerConfig{
		WorkerPoolSize: cfg.WorkerPoolSize,
		MaxConnections: cfg.MaxConnections,
		ReadTimeout:    cfg.ReadTimeout,
		WriteTimeout:   cfg.WriteTimeout,
	}
	server := ws.NewServer(serverConfig, registry, verifier, dispatcher.Dispatch)
	server.SetLimiter(limiter)

	// -----------------------------------------------------------------------
	// message — append to a session and fan out to connected participants
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeMessage, func(conn *ws.Connection, msg interface{}) {
		sendMsg, ok := msg.(protocol.SendMessageMsg)
		if !ok {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if ok, _ := limiter.Allow(ctx, conn.UserID, ratelimit.RuleMessage); !ok {
			dispatcher.SendError(conn, "rate_limited", "too many messages, slow down")
			return
		}

		stored, err := chatStore.Append(ctx, sendMsg.SessionID, chat.NewMessage{
			Sender:   conn.UserID,
			Body:     sendMsg.Body,
			MediaRef: sendMsg.MediaRef,
			Kind:     chat.Kind(sendMsg.Kind),
		})
		if err != nil {
			dispatcher.SendError(conn, "message_rejected", err.Error())
			return
		}

		session, err := chatStore.Get(ctx, sendMsg.SessionID)
		if err != nil {
			log.Printf("[message] session %s vanished after append: %v", sendMsg.SessionID, err)
			return
		}
		deliverer.Deliver(session, stored)
	})

	// -----------------------------------------------------------------------
	// join_room — subscribe the connection to a broadcast room
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinRoom, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinRoomMsg)
		if !ok {
			return
		}
		if joinMsg.RoomID == "" {
			dispatcher.SendError(conn, "invalid_room", "room_id is required")
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		allowed, err := roomPolicy.CanJoin(ctx, conn.UserID, joinMsg.RoomID)
		if err != nil {
			dispatcher.SendError(conn, "server_error", "could not verify room access")
			return
		}
		if !allowed {
			dispatcher.SendError(conn, "forbidden", "not a participant of this room")
			return
		}

		roomID := joinMsg.RoomID
		err = natsClient.SubscribeRoom(roomID, conn.UserID, func(data []byte) {
			frame, err := protocol.NewServerMessage(protocol.TypeRoomEvent, protocol.RoomEventMsg{
				RoomID:  roomID,
				Payload: data,
			})
			if err != nil {
				return
			}
			if h, ok := registry.Resolve(conn.UserID); ok {
				if err := h.Send(frame); err != nil {
					log.Printf("[room] forward to %s failed: %v", conn.UserID, err)
				}
			}
		})
		if err != nil {
			dispatcher.SendError(conn, "server_error", "room subscription failed")
			return
		}

		resp, _ := protocol.NewServerMessage(protocol.TypeRoomJoined, protocol.RoomJoinedMsg{RoomID: roomID})
		conn.Send(resp)
		log.Printf("join_room user=%s room=%s", conn.UserID, roomID)
	})

	// -----------------------------------------------------------------------
	// join_pool / leave_pool — live pool membership
	// -----------------------------------------------------------------------
	dispatcher.Register(protocol.TypeJoinPool, func(conn *ws.Connection, msg interface{}) {
		joinMsg, ok := msg.(protocol.JoinPoolMsg)
		if !ok {
			return
		}
		if err := pool.Join(conn.UserID, joinMsg.Interests); err != nil {
			dispatcher.SendError(conn, "invalid_interests", err.Error())
			return
		}
		resp, _ := protocol.NewServerMessage(protocol.TypePoolJoined, protocol.PoolJoinedMsg{
			Interests: joinMsg.Interests,
		})
		conn.Send(resp)
		log.Printf("join_pool user=%s interests=%v", conn.UserID, joinMsg.Interests)
	})

	dispatcher.Register(protocol.TypeLeavePool, func(conn *ws.Connection, msg interface{}) {
		pool.Leave(conn.UserID)
		resp, _ := protocol.NewServerMessage(protocol.TypePoolLeft, protocol.PoolLeftMsg{})
		conn.Send(resp)
		log.Printf("leave_pool user=%s", conn.UserID)
	})

	// Disconnect cleanup: drop pool membership and room subscriptions for the
	// user whose registered connection went away. Displaced connections do not
	// trigger this, so a reconnecting user keeps their pool entry.
	server.SetOnDisconnect(func(userID string) {
		pool.Leave(userID)
		natsClient.UnsubscribeAll(userID)
	})

	// Any socket activity, pings included, keeps the user's pool entry fresh.
	server.SetOnActivity(func(userID string) {
		pool.Touch(userID)
	})

	if err := server.Start(); err != nil {
		log.Fatalf("ws server start: %v", err)
	}

	gin.SetMode(gin.ReleaseMode)
	apiHandler := httpapi.NewHandler(chatStore, pool, matcher, deliverer, registry, verifier, limiter)
	router := httpapi.NewRouter(apiHandler, server.HandleUpgrade)

	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		log.Printf("received signal %v, initiating graceful shutdown...", sig)

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("http shutdown error: %v", err)
		}

		stopSweeper()
		server.Stop()
		natsClient.Close()
		if err := redisClient.Close(); err != nil {
			log.Printf("redis close error: %v", err)
		}
		if err := db.Close(); err != nil {
			log.Printf("postgres close error: %v", err)
		}
	}()

	log.Printf("listening on %s", cfg.ListenAddr)
	if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("server error: %v", err)
	}
	log.Printf("server stopped")
}

package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/redis/go-redis/v9"
	"golang.org/x/crypto/bcrypt"

	"collab-session/backend/config"
	"collab-session/backend/internal/authservice"
	"collab-session/backend/internal/cache"
	"collab-session/backend/internal/collab"
	"collab-session/backend/internal/httpapi"
	"collab-session/backend/internal/store"
	"collab-session/backend/internal/ws"
)

// toAccounts 明文密码只在本地开发时使用，这里统一转成 bcrypt
func toAccounts(users []config.Account) []authservice.Account {
	out := make([]authservice.Account, 0, len(users))
	for _, u := range users {
		hash := []byte(u.PasswordHash)
		if len(hash) == 0 && u.Password != "" {
			h, err := bcrypt.GenerateFromPassword([]byte(u.Password), bcrypt.DefaultCost)
			if err != nil {
				log.Printf("[auth] hash password for %s failed: %v", u.Username, err)
				continue
			}
			log.Printf("[auth] WARNING: user %s uses a plaintext password in config", u.Username)
			hash = h
		}
		out = append(out, authservice.Account{
			ID:           u.ID,
			Username:     u.Username,
			RealName:     u.RealName,
			Role:         u.Role,
			PasswordHash: hash,
		})
	}
	return out
}

func newRedis(cfg *config.CollabConfig) redis.UniversalClient {
	if len(cfg.Redis.Addrs) == 0 {
		log.Printf("[redis] no addrs configured, presence mirror and notification relay disabled")
		return nil
	}
	// 单地址返回普通客户端，多地址返回集群客户端
	rdb := redis.NewUniversalClient(&redis.UniversalOptions{
		Addrs:    cfg.Redis.Addrs,
		Password: cfg.Redis.Password,
	})
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Printf("[redis] ping %v failed, running without redis: %v", cfg.Redis.Addrs, err)
		_ = rdb.Close()
		return nil
	}
	return rdb
}

func newProducer(cfg *config.CollabConfig) sarama.SyncProducer {
	if len(cfg.Kafka.Brokers) == 0 {
		return nil
	}
	// === 初始化 Kafka Producer ===
	kafkaCfg := sarama.NewConfig()
	// SyncProducer 必须开启 Return.Successes
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		log.Printf("[kafka] connect %v failed, history events disabled: %v", cfg.Kafka.Brokers, err)
		return nil
	}
	return producer
}

func main() {
	configFile := flag.String("config", "", "path to collabConfig.yaml")
	flag.Parse()

	cfg, v, err := config.LoadCollab(*configFile)
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}
	authservice.SetSecret(cfg.Auth.Secret)
	dir := authservice.NewDirectory(toAccounts(cfg.Auth.Users))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	opt := collab.Options{
		LockTTL:       cfg.Collab.LockTTL,
		PresenceTTL:   cfg.Collab.PresenceTTL,
		MirrorTTL:     cfg.Collab.MirrorTTL,
		SweepInterval: cfg.Collab.SweepInterval,
	}

	if cfg.Mysql.DSN != "" {
		db, err := store.InitMySQL(cfg.Mysql.DSN)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		if err := store.Migrate(db); err != nil {
			log.Fatalf("Failed to migrate database: %v", err)
		}
		opt.Content = store.NewDocumentStore(db)
		opt.History = store.NewHistoryStore(db)
	} else {
		log.Printf("[store] no mysql dsn, documents kept in memory")
	}

	// 接口变量只在真正可用时赋值，避免带类型的 nil
	var (
		presence cache.PresenceCache
		relay    ws.Relay
		inbox    ws.Inbox
	)
	var pingRedis func(ctx context.Context) error
	if rdb := newRedis(cfg); rdb != nil {
		defer rdb.Close()
		presence = cache.NewRedisPresence(rdb)
		relay = cache.NewNotificationRelay(rdb)
		inbox = cache.NewNotificationInbox(rdb, cfg.Notify.InboxMax)
		opt.Presence = presence
		pingRedis = func(ctx context.Context) error { return rdb.Ping(ctx).Err() }
	}

	var dispatcher *collab.KafkaDispatcher
	if producer := newProducer(cfg); producer != nil {
		defer producer.Close()
		// Kafka 本地队列 + worker 重试发送
		dispatcher = collab.NewKafkaDispatcher(
			producer,
			cfg.Kafka.Topic,
			collab.NewSemaphoreControl(16),
			collab.KafkaDispatcherOptions{
				//  Go 允许在数字里用下划线做分隔符，方便阅读
				QueueSize:   10_000,
				Workers:     4,
				MaxRetry:    3,
				BaseBackoff: 50 * time.Millisecond,
				MaxBackoff:  1 * time.Second,
			},
		)
		opt.Events = dispatcher
	}

	coord := collab.NewCoordinator(opt)
	go coord.Run(ctx)

	manager := ws.NewManager(ws.NewHub(), relay, inbox, cfg.Notify.AllowedOrigins)
	go func() {
		if err := manager.Listen(ctx, nil); err != nil {
			log.Printf("[ws] relay listen stopped: %v", err)
		}
	}()

	config.WatchCollab(v, func(nc *config.CollabConfig) {
		coord.SetLockTTL(nc.Collab.LockTTL)
		dir.Replace(toAccounts(nc.Auth.Users))
		log.Printf("[config] lockTTL=%s users=%d", coord.LockTTL(), len(nc.Auth.Users))
	})

	r := httpapi.NewRouter(httpapi.Deps{
		Coordinator: coord,
		Presence:    presence,
		Sem:         collab.NewSemaphoreControl(cfg.Collab.WriteConcurrency),
		WS:          manager,
		Directory:   dir,
		AccessTTL:   cfg.Auth.AccessTTL,
		RefreshTTL:  cfg.Auth.RefreshTTL,
		PingRedis:   pingRedis,
	})

	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Running.Port),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}
	go func() {
		log.Printf("collab server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown: %v", err)
	}
	// 服务停止后再排空 Kafka 队列
	if dispatcher != nil {
		dispatcher.Close()
	}
}

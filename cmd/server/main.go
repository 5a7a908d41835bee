// Command server runs the polystore HTTP API: shard-routed CRUD for
// users, products and transactions over the document, relational and
// graph stores, with a key-value location index and product cache in
// front.
//
// Configuration comes from polystore.yaml in the working directory (or
// /etc/polystore), overridable via environment variables. Any backend
// whose address is left empty falls back to an in-process implementation,
// so a bare `server` starts a self-contained demo instance.
package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/spf13/viper"

	"github.com/dreamware/polystore/internal/cache"
	"github.com/dreamware/polystore/internal/locator"
	"github.com/dreamware/polystore/internal/registry"
	"github.com/dreamware/polystore/internal/service"
	"github.com/dreamware/polystore/internal/store"
)

func main() {
	loadConfig()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	kv, err := openKV(ctx)
	if err != nil {
		log.Fatalf("key-value store: %v", err)
	}
	defer kv.Close()

	reg := registry.New(newDialFunc())
	defer reg.Close(context.Background())

	for _, addr := range viper.GetStringSlice("mongo_shards") {
		if err := reg.Register(ctx, addr); err != nil {
			log.Fatalf("register shard %s: %v", addr, err)
		}
		log.Printf("registered shard %s", addr)
	}

	relational, err := openRelational(ctx)
	if err != nil {
		log.Fatalf("relational store: %v", err)
	}
	defer relational.Close()

	graph, recommender, err := openGraph(ctx)
	if err != nil {
		log.Fatalf("graph store: %v", err)
	}
	defer graph.Close(context.Background())

	loc := locator.New(kv)
	productCache := cache.New(kv, loc, reg, recommender)
	svc := service.New(reg, loc, productCache, service.NewCounters(kv), relational, graph, recommender)

	monitor := registry.NewHealthMonitor(reg, viper.GetDuration("health_interval"))
	monitor.SetOnUnhealthy(func(addr string) {
		// One recovery attempt per transition; if the shard is really
		// gone an operator has to deregister it.
		if err := reg.Reregister(context.Background(), addr); err != nil {
			log.Printf("shard %s unhealthy and re-registration failed: %v", addr, err)
		}
	})
	go monitor.Start(ctx)
	defer monitor.Stop()

	srv := newServer(svc)
	addr := viper.GetString("listen_addr")
	httpSrv := &http.Server{
		Addr:              addr,
		Handler:           srv.routes(),
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.Printf("server listening on %s", addr)
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("listen: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	<-stop
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	_ = httpSrv.Shutdown(shutdownCtx)
	log.Println("server stopped")
}

func loadConfig() {
	viper.SetDefault("listen_addr", ":8000")
	viper.SetDefault("health_interval", 15*time.Second)
	viper.SetDefault("mongo_shards", []string{})

	viper.SetConfigName("polystore")
	viper.AddConfigPath(".")
	viper.AddConfigPath("/etc/polystore")
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err != nil {
		if _, notFound := err.(viper.ConfigFileNotFoundError); !notFound {
			log.Fatalf("config: %v", err)
		}
		log.Println("no config file found, using defaults and environment")
	}
}

func openKV(ctx context.Context) (store.KV, error) {
	addr := viper.GetString("redis_addr")
	if addr == "" {
		log.Println("no redis_addr configured, using in-memory key-value store")
		return store.NewMemoryKV(), nil
	}
	return store.NewRedisKV(ctx, addr, viper.GetString("redis_password"))
}

// newDialFunc returns the shard dialer. Without Mongo credentials
// configured, shards are in-process stores kept per address so a
// re-registered shard keeps its documents.
func newDialFunc() registry.DialFunc {
	if user := viper.GetString("mongo_user"); user != "" {
		password := viper.GetString("mongo_password")
		return func(ctx context.Context, addr string) (store.DocumentStore, error) {
			return store.DialMongo(ctx, addr, user, password)
		}
	}

	var mu sync.Mutex
	shards := make(map[string]*store.MemoryDocumentStore)
	return func(ctx context.Context, addr string) (store.DocumentStore, error) {
		mu.Lock()
		defer mu.Unlock()
		shard, exists := shards[addr]
		if !exists {
			shard = store.NewMemoryDocumentStore()
			shards[addr] = shard
		}
		return shard, nil
	}
}

func openRelational(ctx context.Context) (store.RelationalStore, error) {
	dsn := viper.GetString("postgres_dsn")
	if dsn == "" {
		log.Println("no postgres_dsn configured, using in-memory relational store")
		return store.NewMemoryRelationalStore(), nil
	}
	return store.DialPostgres(ctx, dsn)
}

func openGraph(ctx context.Context) (store.GraphStore, store.Recommender, error) {
	uri := viper.GetString("neo4j_uri")
	if uri == "" {
		log.Println("no neo4j_uri configured, using in-memory graph store")
		g := store.NewMemoryGraph()
		return g, g, nil
	}
	g, err := store.DialNeo4j(ctx, uri, viper.GetString("neo4j_user"), viper.GetString("neo4j_password"))
	if err != nil {
		return nil, nil, err
	}
	return g, g, nil
}

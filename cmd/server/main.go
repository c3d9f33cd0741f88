// Package main is the application entry point.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"carenotes-go/internal/config"
	"carenotes-go/internal/handler"
	"carenotes-go/internal/middleware"
	"carenotes-go/internal/pipeline"
	"carenotes-go/internal/repository"
	"carenotes-go/internal/service"
	"carenotes-go/pkg/database"
	"carenotes-go/pkg/embedding"
	"carenotes-go/pkg/es"
	"carenotes-go/pkg/extract"
	"carenotes-go/pkg/kafka"
	"carenotes-go/pkg/llm"
	"carenotes-go/pkg/log"
	"carenotes-go/pkg/storage"
	"carenotes-go/pkg/token"

	"github.com/gin-gonic/gin"
)

func main() {
	// 1. Configuration
	cfg, err := config.Load("./configs/config.yaml")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Logger
	log.Init(cfg.Log.Level, cfg.Log.Format, cfg.Log.OutputPath)
	defer log.Sync()
	log.Info("logger initialized")

	// 3. Datastores
	db, err := database.NewMySQL(cfg.Database.MySQL.DSN)
	if err != nil {
		log.Fatalf("failed to connect to MySQL: %v", err)
	}
	rdb, err := database.NewRedis(cfg.Database.Redis.Addr, cfg.Database.Redis.Password, cfg.Database.Redis.DB)
	if err != nil {
		log.Fatalf("failed to connect to Redis: %v", err)
	}

	embedder, err := embedding.New(cfg.Embedding)
	if err != nil {
		log.Fatalf("failed to create embedder: %v", err)
	}

	store, err := es.NewStore(cfg.Elasticsearch, embedder.Dimensions())
	if err != nil {
		log.Fatalf("failed to connect to Elasticsearch: %v", err)
	}
	if err := store.EnsureIndex(context.Background()); err != nil {
		log.Fatalf("failed to ensure search index: %v", err)
	}

	objects, err := storage.New(context.Background(), cfg.MinIO)
	if err != nil {
		log.Fatalf("failed to connect to object storage: %v", err)
	}

	// 4. Repositories
	chunkRepo := repository.NewChunkRepository(db)
	conversationRepo := repository.NewConversationRepository(rdb)

	// 5. Services
	jwtManager := token.NewJWTManager(cfg.JWT.Secret, cfg.JWT.AccessTokenExpireHours)
	extractor := extract.New(cfg.Tika)
	llmClient := llm.NewClient(cfg.LLM)
	builder := service.NewContextBuilder(cfg.RAG)
	searchService := service.NewSearchService(embedder, store, builder, rdb, cfg.Embedding.Model)
	conversationService := service.NewConversationService(conversationRepo)
	chatService := service.NewChatService(searchService, builder, llmClient, conversationRepo, cfg.LLM.Prompt, cfg.RAG.ContextTopK)

	// 6. Ingestion pipeline
	ingestor := pipeline.NewIngestor(extractor, embedder, chunkRepo, store, objects, cfg.RAG, cfg.Embedding.Model)

	// 7. Background Kafka consumer for async ingestion
	consumerCtx, cancelConsumer := context.WithCancel(context.Background())
	defer cancelConsumer()
	producer := kafka.NewProducer(cfg.Kafka)
	defer producer.Close()
	go kafka.StartConsumer(consumerCtx, cfg.Kafka, ingestor, rdb)

	// 8. Router
	gin.SetMode(cfg.Server.Mode)
	r := gin.New()
	r.Use(middleware.LoggingMiddleware(), gin.Recovery())

	documentHandler := handler.NewDocumentHandler(ingestor, objects, producer)
	searchHandler := handler.NewSearchHandler(searchService)
	chatHandler := handler.NewChatHandler(chatService, jwtManager)
	conversationHandler := handler.NewConversationHandler(conversationService)

	// 9. Routes
	apiV1 := r.Group("/api/v1")
	apiV1.Use(middleware.AuthMiddleware(jwtManager))
	{
		documents := apiV1.Group("/documents")
		{
			documents.POST("", documentHandler.Ingest)
			documents.POST("/async", documentHandler.IngestAsync)
		}

		search := apiV1.Group("/search")
		{
			search.GET("", searchHandler.Search)
			search.GET("/smart", searchHandler.SmartSearch)
		}

		chat := apiV1.Group("/chat")
		{
			chat.POST("/completions", chatHandler.Completions)
			chat.GET("/websocket-token", chatHandler.GetWebsocketStopToken)
		}

		apiV1.GET("/conversations", conversationHandler.GetConversation)
	}
	// The websocket carries its own token in the path.
	r.GET("/chat/:token", chatHandler.Handle)

	// 10. Serve with graceful shutdown
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%s", cfg.Server.Port),
		Handler: r,
	}

	go func() {
		log.Infof("server listening on %s", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("HTTP server failed: %s", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("shutdown signal received, stopping server...")

	cancelConsumer()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("HTTP server shutdown failed: %v", err)
	}
	log.Info("server stopped")
}

package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/gorogorosince/AIAgent-Dify-Public/db"
	"github.com/gorogorosince/AIAgent-Dify-Public/internal/config"
	"github.com/gorogorosince/AIAgent-Dify-Public/internal/logging"
	"github.com/gorogorosince/AIAgent-Dify-Public/routes"
	"github.com/gorogorosince/AIAgent-Dify-Public/utility"
)

func main() {
	migrateUp := flag.Int("migrate", -1, "apply N pending migrations (0 = all) and exit")
	migrateDown := flag.Int("migrate-down", 0, "roll back N migrations and exit")
	migrateStatus := flag.Bool("migrate-status", false, "print migration status and exit")
	flag.Parse()

	logFile, err := logging.Setup()
	if err != nil {
		log.Fatalf("[Startup] logging setup failed: %v", err)
	}
	defer logFile.Close()

	appCfg, iniCfg, err := config.Load()
	if err != nil {
		log.Fatalf("[Startup] config load failed: %v", err)
	}

	dbc, pgCfg, err := db.Init(iniCfg)
	if err != nil {
		log.Fatalf("[Startup] postgres init failed: %v", err)
	}
	defer dbc.Close()

	if *migrateStatus {
		applied, pending, err := db.MigrateStatus(dbc, pgCfg.MigrationsDir)
		if err != nil {
			log.Fatalf("[Migrate] status failed: %v", err)
		}
		fmt.Printf("applied: %v\npending: %v\n", applied, pending)
		return
	}
	if *migrateDown > 0 {
		if err := db.MigrateDown(dbc, pgCfg.MigrationsDir, *migrateDown); err != nil {
			log.Fatalf("[Migrate] down failed: %v", err)
		}
		return
	}
	if *migrateUp >= 0 {
		if err := db.MigrateUp(dbc, pgCfg.MigrationsDir, *migrateUp); err != nil {
			log.Fatalf("[Migrate] up failed: %v", err)
		}
		return
	}

	if err := appCfg.Validate(); err != nil {
		log.Fatalf("[Startup] %v", err)
	}
	if err := db.RunMigrations(dbc, pgCfg.MigrationsDir); err != nil {
		log.Fatalf("[Startup] migrations failed: %v", err)
	}

	dify := utility.NewDifyClient(appCfg.DifyAPIURL, appCfg.DifyAPIKey, appCfg.DifyResponseMode)
	states := utility.NewStateStore()

	r := gin.Default()
	routes.RegisterChatRoutes(r, dify.Send)
	routes.RegisterSlackRoutes(r, appCfg, states, dify.Send)

	// HTTP server with graceful shutdown
	apiServer := &http.Server{Addr: appCfg.APIAddr, Handler: r}
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		log.Printf("[API] Starting HTTP server on %s", appCfg.APIAddr)
		if err := apiServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("[API] Server error: %v", err)
		}
	}()
	sig := <-quit
	log.Printf("[Shutdown] Signal: %v", sig)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = apiServer.Shutdown(ctx)
}

// cmd/ingestd/main.go
//
// ingestd is the standalone sales export ingestion daemon. It watches an
// inbox directory and an optional S3-compatible bucket, rolls exports up
// into daily consumption rows and invalidates cached answers for the
// items touched. Kept separate from the API server so bulk loads cannot
// starve request handling.
package main

import (
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/joho/godotenv"

	"github.com/cafeops/replenish/internal/cache"
	"github.com/cafeops/replenish/internal/config"
	"github.com/cafeops/replenish/internal/ingest"
	"github.com/cafeops/replenish/internal/repository/postgres"
	"github.com/cafeops/replenish/internal/storage"
	"github.com/cafeops/replenish/pkg/logger"
)

func main() {
	_ = godotenv.Load()

	cfg := config.Load()
	logger.SetLevel(cfg.Server.Mode)

	db, err := postgres.NewDB(&cfg.Database)
	if err != nil {
		logger.Log.Fatal().Err(err).Msg("Failed to initialize database")
	}
	defer db.Close()

	recCache, err := cache.NewRecommendationCache(cfg.Cache)
	if err != nil {
		logger.Log.Warn().Err(err).Msg("Cache unavailable, ingest will skip invalidation")
		recCache = cache.NewNoopRecommendationCache()
	}

	var remote storage.ObjectStorage
	if cfg.Storage.Endpoint != "" {
		client, err := storage.NewMinioClient(cfg.Storage)
		if err != nil {
			logger.Log.Fatal().Err(err).Msg("Failed to initialize object storage")
		}
		remote = client
	}

	consumptionRepo := postgres.NewConsumptionRepository(db)
	ingestor := ingest.NewIngestor(consumptionRepo, recCache, remote, cfg.Storage.InboxDir, cfg.Storage.Prefix)

	r := mux.NewRouter()

	r.HandleFunc("/ingest/scan", func(w http.ResponseWriter, req *http.Request) {
		processed, err := ingestor.ScanInbox(req.Context())
		if err != nil {
			logger.Log.Error().Err(err).Msg("Inbox scan failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"processed":%d}`, processed)
	}).Methods("POST")

	r.HandleFunc("/ingest/pull", func(w http.ResponseWriter, req *http.Request) {
		processed, err := ingestor.PullRemote(req.Context())
		if err != nil {
			logger.Log.Error().Err(err).Msg("Remote pull failed")
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"processed":%d}`, processed)
	}).Methods("POST")

	r.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	}).Methods("GET")

	addr := fmt.Sprintf(":%s", cfg.Server.Port)
	logger.Log.Info().Str("addr", addr).Msg("ingestd starting")
	logger.Log.Fatal().Err(http.ListenAndServe(addr, r)).Msg("ingestd stopped")
}

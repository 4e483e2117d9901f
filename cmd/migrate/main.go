package main

import (
	"context"
	"flag"
	"log"

	"vita-be/internal/bootstrap"
	"vita-be/internal/config"
	"vita-be/internal/pkg/logger"
	"vita-be/pkg/database"
	"vita-be/pkg/vectorindex"
)

// Prepares the pgvector schema and the course collection ahead of the first
// server start, so a dimension mismatch surfaces here and not at request time.
func main() {
	collection := flag.String("collection", "", "collection to create (defaults to COLLECTION_NAME)")
	flag.Parse()

	// 1. Load Configuration
	cfg := config.Load()
	if cfg.Infra.DatabaseURL == "" {
		log.Fatal("Error: DB_CONNECTION_STRING is not set")
	}
	if *collection == "" {
		*collection = cfg.Vector.CollectionName
	}

	// 2. Connect to Database using existing GORM helpers
	db, err := database.NewGormDBFromDSN(cfg.Infra.DatabaseURL)
	if err != nil {
		log.Fatal("Error: Failed to connect to database:", err)
	}

	metric, err := vectorindex.ParseMetric(cfg.Vector.Metric)
	if err != nil {
		log.Fatal("Error: ", err)
	}
	embedder, err := bootstrap.NewEmbedder(cfg.Embedding)
	if err != nil {
		log.Fatal("Error: ", err)
	}
	sysLogger := logger.NewZapLogger(cfg.App.LogFilePath, cfg.App.Environment == "production")
	defer sysLogger.Sync()

	// 3. Extension & Tables
	log.Println("Step 1: Enabling pgvector and migrating vector tables...")
	idx, err := vectorindex.NewPgvectorIndex(db, embedder, sysLogger)
	if err != nil {
		log.Fatal("Error: ", err)
	}
	defer idx.Close()

	// 4. Collection
	log.Printf("Step 2: Creating collection %q (%s, %d dimensions)...", *collection, metric, embedder.Dimensions())
	col, err := idx.OpenOrCreate(context.Background(), *collection, metric, embedder.Dimensions())
	if err != nil {
		log.Fatal("Error: ", err)
	}
	n, err := col.Count(context.Background())
	if err != nil {
		log.Fatal("Error: ", err)
	}

	log.Printf("✅ Migration complete: %s holds %d chunks", col.Name(), n)
}

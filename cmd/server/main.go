// This Source Code Form is subject to the terms of the Mozilla Public
// License, v. 2.0. If a copy of the MPL was not distributed with this
// file, You can obtain one at https://mozilla.org/MPL/2.0/.

package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/engramlabs/engram-mcp/internal/archive"
	"github.com/engramlabs/engram-mcp/internal/checkpoint"
	"github.com/engramlabs/engram-mcp/internal/config"
	"github.com/engramlabs/engram-mcp/internal/database"
	"github.com/engramlabs/engram-mcp/internal/embeddings"
	"github.com/engramlabs/engram-mcp/internal/gate"
	"github.com/engramlabs/engram-mcp/internal/graph"
	"github.com/engramlabs/engram-mcp/internal/memory"
	"github.com/engramlabs/engram-mcp/internal/rebuild"
	"github.com/engramlabs/engram-mcp/internal/search"
	"github.com/engramlabs/engram-mcp/internal/server"
	"github.com/engramlabs/engram-mcp/internal/session"
	"github.com/engramlabs/engram-mcp/internal/tools"
	"github.com/engramlabs/engram-mcp/pkg/scheduler"
)

// Version is set at build time via ldflags
var Version = "dev"

func main() {
	// CRITICAL: MCP servers must ONLY output JSON-RPC to stdout.
	// Redirect all logging to stderr.
	log.SetOutput(os.Stderr)

	httpMode := flag.Bool("http", false, "Run in HTTP server mode (default: stdio for MCP)")
	configPath := flag.String("config", "", "Path to config file")
	port := flag.Int("port", 0, "Server port (HTTP mode only)")
	dbType := flag.String("db-type", "", "Database type (sqlite or postgres)")
	dbDir := flag.String("db-dir", "", "Directory holding the sqlite profile stores")
	dbDSN := flag.String("db-dsn", "", "Database DSN (for postgres)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Engram MCP Server\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Server Mode:\n")
		fmt.Fprintf(os.Stderr, "  %s            Start MCP server (stdio)\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s --http     Start HTTP server exposing /mcp and /health\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  DB_TYPE   Database type (sqlite or postgres)\n")
		fmt.Fprintf(os.Stderr, "  DB_DIR    Directory for sqlite profile stores\n")
		fmt.Fprintf(os.Stderr, "  DB_DSN    PostgreSQL connection string\n")
		fmt.Fprintf(os.Stderr, "  PORT      Server port (HTTP mode only)\n")
	}
	flag.Parse()

	log.Printf("Starting Engram MCP Server %s...", Version)

	cfg := loadConfig(*configPath)
	applyOverrides(cfg, *dbType, *dbDir, *dbDSN, *port)

	// The embedding chain decides which profile store this process
	// serves; stores for different {provider, model, dimension}
	// profiles never mix.
	chain := buildChain(cfg)
	profile := embeddings.ModelInfo{Provider: "none", Name: "lexical", Dimensions: 0}
	if chain != nil {
		profile = chain.Profile()
	}

	dbMgr := database.NewManager(&database.Config{
		Type:        cfg.Database.Type,
		PostgresDSN: cfg.Database.PostgresDSN,
	}, cfg.Database.Dir)
	defer dbMgr.Close()

	db, err := dbMgr.GetProfileDB(profile.Provider, profile.Name, profile.Dimensions)
	if err != nil {
		log.Fatalf("Failed to open profile store: %v", err)
	}
	log.Printf("Profile store: %s", database.ProfileStoreName(profile.Provider, profile.Name, profile.Dimensions))

	embSvc, err := embeddings.NewService(db, profile)
	if err != nil {
		log.Fatalf("Failed to initialize embedding service: %v", err)
	}

	store := memory.NewStore(db, embSvc)
	graphMgr := graph.NewManager(db)

	reranker := search.NewReranker(cfg.Search.RerankCommand,
		time.Duration(cfg.Embeddings.TimeoutSeconds)*time.Second)
	engine := search.NewEngine(store, graphMgr, chain, search.Config{
		Limit:          cfg.Search.Limit,
		CandidateLimit: cfg.Search.CandidateLimit,
		RRFK:           cfg.Search.RRFK,
		Reranker:       reranker,
		RerankTopN:     cfg.Search.RerankTopN,
	})

	sessions := session.NewManager(store, graphMgr)
	checkpoints := checkpoint.NewManager(store, cfg.Checkpoints.MaxCount)

	var archiveMirror *archive.Archive
	if cfg.Checkpoints.ArchivePath != "" {
		archiveMirror, err = archive.Open(cfg.Checkpoints.ArchivePath)
		if err != nil {
			log.Printf("Warning: checkpoint archive disabled: %v", err)
			archiveMirror = nil
		} else {
			log.Printf("Checkpoint archive: %s", cfg.Checkpoints.ArchivePath)
		}
	}

	toolCtx := &tools.ToolContext{
		Store:       store,
		Graph:       graphMgr,
		Chain:       chain,
		Engine:      engine,
		Gate:        gate.NewGate(store, chain),
		Sessions:    sessions,
		Checkpoints: checkpoints,
		Scanner:     rebuild.NewScanner(store, chain),
		Archive:     archiveMirror,
		StartedAt:   time.Now(),
	}

	sched := scheduler.NewScheduler(sessions, checkpoints,
		time.Duration(cfg.Session.SweepIntervalMinutes)*time.Minute,
		time.Duration(cfg.Session.TTLMinutes)*time.Minute,
		time.Duration(cfg.Checkpoints.MaxAgeDays)*24*time.Hour)
	sched.Start()
	defer sched.Stop()

	srv := server.NewMCPServer(Version, toolCtx)

	if *httpMode {
		addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
		log.Printf("Listening on http://%s/mcp", addr)
		if err := srv.ServeHTTP(addr); err != nil {
			log.Fatalf("HTTP server failed: %v", err)
		}
		return
	}

	log.Println("Serving MCP over stdio")
	if err := srv.ServeStdio(); err != nil {
		log.Fatalf("Stdio server failed: %v", err)
	}
}

// loadConfig loads the config file, falling back to defaults
func loadConfig(path string) *config.Config {
	if path != "" {
		cfg, err := config.LoadFromPath(path)
		if err != nil {
			log.Fatalf("Failed to load config from %s: %v", path, err)
		}
		log.Printf("Loaded configuration from %s", path)
		return cfg
	}

	cfg, err := config.Load()
	if err != nil {
		log.Printf("Warning: failed to load config: %v", err)
		log.Println("Using defaults")
		return config.DefaultConfig()
	}
	return cfg
}

// applyOverrides layers environment and CLI values over the file config.
// CLI flags win over environment variables, which win over the file.
func applyOverrides(cfg *config.Config, dbType, dbDir, dbDSN string, port int) {
	if v := os.Getenv("DB_TYPE"); v != "" {
		cfg.Database.Type = v
	}
	if v := os.Getenv("DB_DIR"); v != "" {
		cfg.Database.Dir = v
	}
	if v := os.Getenv("DB_DSN"); v != "" {
		cfg.Database.PostgresDSN = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if p, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = p
		}
	}

	if dbType != "" {
		cfg.Database.Type = dbType
	}
	if dbDir != "" {
		cfg.Database.Dir = dbDir
	}
	if dbDSN != "" {
		cfg.Database.PostgresDSN = dbDSN
	}
	if port != 0 {
		cfg.Server.Port = port
	}
}

// buildChain assembles the embedding provider chain from config. A
// missing or empty provider list means lexical-only operation.
func buildChain(cfg *config.Config) *embeddings.Chain {
	timeout := time.Duration(cfg.Embeddings.TimeoutSeconds) * time.Second

	var clients []embeddings.Client
	for _, p := range cfg.Embeddings.Providers {
		switch p.Type {
		case "openai":
			apiKey := ""
			if p.APIKeyEnv != "" {
				apiKey = os.Getenv(p.APIKeyEnv)
			}
			if apiKey == "" {
				log.Printf("Warning: skipping openai provider %s: %s is not set", p.Model, p.APIKeyEnv)
				continue
			}
			clients = append(clients, embeddings.NewOpenAIClient(p.BaseURL, apiKey, p.Model, p.Dimensions, timeout))
		case "ollama":
			clients = append(clients, embeddings.NewOllamaClient(p.BaseURL, p.Model, p.Dimensions, timeout))
		}
	}

	if len(clients) == 0 {
		log.Println("No embedding providers configured; running lexical-only")
		return nil
	}

	chain, err := embeddings.NewChain(clients, cfg.Embeddings.MaxRetries)
	if err != nil {
		log.Fatalf("Failed to build embedding chain: %v", err)
	}
	log.Printf("Embedding chain: %d provider(s), primary %s/%s (%d dims)",
		len(clients), chain.Profile().Provider, chain.Profile().Name, chain.Profile().Dimensions)
	return chain
}

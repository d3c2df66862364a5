package main

import (
	"log"
	"net/http"

	"github.com/kurobon/mergegym/internal/config"
	"github.com/kurobon/mergegym/internal/server"
	"github.com/kurobon/mergegym/internal/session"
)

func main() {
	cfg, err := config.Load(".")
	if err != nil {
		log.Fatal(err)
	}
	config.Global = cfg

	manager := session.NewManager(session.Options{
		MaxParallel:    cfg.MaxParallel,
		AnalyzeTimeout: cfg.AnalyzeTimeout,
		MarkerSize:     cfg.MarkerSize,
	})
	defer manager.Close()

	srv := server.NewServer(manager, server.GitOpener(cfg))

	log.Printf("Server listening on %s (repositories under %s)", cfg.Addr, cfg.DataRoot)
	if err := http.ListenAndServe(cfg.Addr, srv); err != nil {
		log.Fatal(err)
	}
}

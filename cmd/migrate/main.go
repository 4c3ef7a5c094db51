package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"labkeeper.org/internal/config"
	"labkeeper.org/internal/schema"
	"labkeeper.org/internal/store"
)

func main() {
	log.SetFlags(0)

	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	timeout := fs.Duration("timeout", 30*time.Second, "Overall deadline")
	cfg, err := config.ParseStore(fs, os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	if fs.NArg() == 0 {
		log.Fatal("usage: migrate [init|plan|seed]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	h, err := store.Open(cfg.Driver, cfg.DSN)
	if err != nil {
		log.Fatalf("open store: %v", err)
	}
	defer h.Close()

	guard, err := schema.New(h, schema.WithMaintenanceDB(cfg.MaintenanceDB))
	if err != nil {
		log.Fatalf("schema: %v", err)
	}

	switch fs.Arg(0) {
	case "init":
		err = guard.Init(ctx)
		if err == nil {
			fmt.Println("schema ready")
		}
	case "plan":
		if err = guard.EnsureDatabase(ctx); err != nil {
			break
		}
		var changes []schema.Change
		changes, err = guard.Plan(ctx)
		if err == nil {
			if len(changes) == 0 {
				fmt.Println("schema up to date")
			}
			for _, c := range changes {
				fmt.Println(c)
			}
		}
	case "seed":
		if err = guard.EnsureTables(ctx); err != nil {
			break
		}
		var seeded bool
		seeded, err = guard.SeedDefaultAccount(ctx)
		if err == nil {
			fmt.Printf("seeded=%t\n", seeded)
		}
	default:
		log.Fatalf("unknown command %q", fs.Arg(0))
	}
	if err != nil {
		log.Fatalf("migrate %s: %v", fs.Arg(0), err)
	}
}

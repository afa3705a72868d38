// Command migrate creates the service tables and optionally prunes expired
// refresh tokens and verification codes. Run it from cron with -prune.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/schema"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

func main() {
	prune := flag.Bool("prune", false, "delete expired refresh tokens and verification codes")
	timeout := flag.Duration("timeout", time.Minute, "overall deadline")
	flag.Parse()

	_ = godotenv.Load()

	logCfg, err := utilities.ConfigFromEnv()
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	lg, err := utilities.Init(logCfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to init logger: %v\n", err)
		os.Exit(1)
	}
	defer lg.Sync()
	sugar := lg.Sugar()

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		sugar.Fatal(err)
	}
	db, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, cancel := context.WithTimeout(context.Background(), *timeout)
	defer cancel()

	if err := schema.Ensure(ctx, db); err != nil {
		sugar.Fatalf("ensure schema: %v", err)
	}
	sugar.Info("schema up to date")

	if *prune {
		if err := schema.Prune(ctx, db, time.Now(), sugar); err != nil {
			sugar.Fatalf("prune: %v", err)
		}
	}
}

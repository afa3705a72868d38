package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/ovaphlow/pitchfork/service-auth-go/internal/identity"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/mail"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/router"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/schema"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/token"
	tokenrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/token/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/user"
	userrepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/user/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/internal/verification"
	coderepo "github.com/ovaphlow/pitchfork/service-auth-go/internal/verification/repo"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/database"
	"github.com/ovaphlow/pitchfork/service-auth-go/pkg/utilities"
)

type serverConfig struct {
	Addr string `env:"HTTP_ADDR" envDefault:"0.0.0.0:3000"`
}

func main() {
	// best-effort: without a .env file the real environment is used
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
	sugar.Info("starting service-auth-go")

	routes, err := router.ConfigFromEnv()
	if err != nil {
		sugar.Fatal(err)
	}
	tokens, err := token.ConfigFromEnv()
	if err != nil {
		sugar.Fatal(err)
	}
	if tokens.UsesDevSecret() {
		if routes.Environment == "production" {
			sugar.Fatal("JWT_SECRET must be set in production")
		}
		sugar.Warn("JWT_SECRET not set; using the development secret")
	}

	dbCfg, err := database.ConfigFromEnv()
	if err != nil {
		sugar.Fatal(err)
	}
	idCfg, err := identity.ConfigFromEnv()
	if err != nil {
		sugar.Fatal(err)
	}
	mailCfg, err := mail.ConfigFromEnv()
	if err != nil {
		sugar.Fatal(err)
	}
	var sc serverConfig
	if err := utilities.ParseEnv(&sc); err != nil {
		sugar.Fatalf("server config: %v", err)
	}

	db, err := database.Connect(dbCfg)
	if err != nil {
		sugar.Fatalf("db connect: %v", err)
	}
	defer db.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := schema.Ensure(ctx, db); err != nil {
		sugar.Fatalf("ensure schema: %v", err)
	}

	users := userrepo.NewUserRepo(db)
	issuer := token.NewIssuer(tokens, tokenrepo.NewRefreshRepo(db))
	verifier := identity.NewChain(idCfg, &http.Client{Timeout: 10 * time.Second})
	if len(verifier) == 0 {
		sugar.Warn("neither FIREBASE_PROJECT_ID nor GOOGLE_CLIENT_ID set; google login disabled")
	}
	mailer, err := mail.New(mailCfg, sugar)
	if err != nil {
		sugar.Fatal(err)
	}

	svc := user.NewUserService(users, userrepo.NewResetRepo(db), issuer, verifier, mailer, nil, sugar)
	mgr := verification.NewManager(users, coderepo.NewCodeRepo(db), mailer, verification.NewLogSMSSender(sugar), sugar)

	handler := router.RegisterRoutes(sugar, routes, router.Deps{
		Auth:         user.NewHandler(svc, sugar),
		Verification: verification.NewHandler(mgr, sugar),
		Tokens:       issuer,
	})

	srv := &http.Server{
		Addr:              sc.Addr,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		sugar.Infow("http server listening", "addr", sc.Addr, "env", routes.Environment, "prefix", routes.APIPrefix)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			sugar.Fatalf("http server failed: %v", err)
		}
	}()

	<-ctx.Done()

	sugar.Info("shutting down")

	doneCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(doneCtx); err != nil {
		sugar.Warnf("http server shutdown failed: %v", err)
	}

	sugar.Info("goodbye")
}

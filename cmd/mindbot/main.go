package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/joho/godotenv"

	"mindbot/internal/allowlist"
	"mindbot/internal/config"
	"mindbot/internal/generator"
	"mindbot/internal/jobs"
	"mindbot/internal/metrics"
	"mindbot/internal/schedule"
	"mindbot/internal/server"
	"mindbot/internal/store/sqlitestore"
	"mindbot/internal/theme"
	"mindbot/internal/xclient"
)

func main() {
	_ = godotenv.Load()
	cmd := ""
	if len(os.Args) > 1 {
		cmd = os.Args[1]
	}
	switch cmd {
	case "init":
		cmdInit()
	case "serve":
		cmdServe()
	case "post":
		cmdRunJob("post", (*jobs.Runner).RunPostTweet)
	case "reply-recent":
		cmdRunJob("reply-recent", (*jobs.Runner).RunReplyRecent)
	case "reply-mentions":
		cmdRunJob("reply-mentions", (*jobs.Runner).RunReplyMentions)
	case "allow":
		cmdAllow()
	default:
		printHelp()
	}
}

func printHelp() {
	theme.PrintBanner()
	fmt.Println("Usage: mindbot <command> [options]")
	fmt.Println("Commands:")
	fmt.Println("  init            Create a config file at ./mindbot.yaml")
	fmt.Println("  serve           Run the scheduler and HTTP facade")
	fmt.Println("  post            Run the post-tweet job once")
	fmt.Println("  reply-recent    Run the reply-to-recent job once")
	fmt.Println("  reply-mentions  Run the reply-to-mentions job once")
	fmt.Println("  allow           Add a username to the allow-list")
}

func cmdInit() {
	fs := flag.NewFlagSet("init", flag.ExitOnError)
	path := fs.String("path", "./mindbot.yaml", "path to write config")
	_ = fs.Parse(os.Args[2:])
	cfg := config.Default()
	if err := config.Save(*path, cfg); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	abs, _ := filepath.Abs(*path)
	theme.PrintBanner()
	fmt.Println("Config written to:", abs)
}

func buildRunner(cfgPath string) (*jobs.Runner, *allowlist.Store, *sqlitestore.DB, config.Config, error) {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return nil, nil, nil, cfg, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, nil, nil, cfg, err
	}
	client := xclient.NewHTTPClient(cfg.Credentials.BearerToken).
		WithOAuth1(cfg.Credentials.ConsumerKey, cfg.Credentials.ConsumerSecret,
			cfg.Credentials.AccessToken, cfg.Credentials.AccessSecret)
	gen := generator.NewClient(cfg.Generator.BaseURL)
	allow := allowlist.NewStore(cfg.Allowlist.Path)
	var db *sqlitestore.DB
	if cfg.Storage.DBPath != "" {
		db, err = sqlitestore.Open(cfg.Storage.DBPath)
		if err != nil {
			return nil, nil, nil, cfg, err
		}
	}
	return jobs.NewRunner(client, gen, allow, db, cfg), allow, db, cfg, nil
}

func cmdRunJob(name string, f func(*jobs.Runner, context.Context) (jobs.Result, error)) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	cfgPath := fs.String("config", "./mindbot.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	runner, _, db, _, err := buildRunner(*cfgPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	res, err := f(runner, context.Background())
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	b, _ := json.MarshalIndent(res, "", "  ")
	fmt.Println(string(b))
}

func cmdAllow() {
	fs := flag.NewFlagSet("allow", flag.ExitOnError)
	cfgPath := fs.String("config", "./mindbot.yaml", "config path")
	username := fs.String("username", "", "username to add")
	_ = fs.Parse(os.Args[2:])
	cfg, err := config.Load(*cfgPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	store := allowlist.NewStore(cfg.Allowlist.Path)
	if err := store.Add(*username); err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	fmt.Println("added:", *username)
}

func cmdServe() {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfgPath := fs.String("config", "./mindbot.yaml", "config path")
	_ = fs.Parse(os.Args[2:])
	runner, allow, db, cfg, err := buildRunner(*cfgPath)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	if db != nil {
		defer db.Close()
	}
	theme.PrintBanner()
	metrics.StartServer(cfg.Server.MetricsAddr)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cr, err := schedule.Start(ctx, runner, cfg.Schedule)
	if err != nil {
		fmt.Println("error:", err)
		os.Exit(1)
	}
	defer cr.Stop()

	srv := server.New(runner, allow, db)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Run(cfg.Server.Addr) }()

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err := <-errCh:
		fmt.Println("server error:", err)
		os.Exit(1)
	case <-sig:
		fmt.Println("shutting down")
	}
}

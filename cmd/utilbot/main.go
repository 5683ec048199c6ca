package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"golang.org/x/sync/errgroup"

	"github.com/joebot/utilbot/internal/auth"
	"github.com/joebot/utilbot/internal/bus"
	"github.com/joebot/utilbot/internal/cache"
	"github.com/joebot/utilbot/internal/channel"
	"github.com/joebot/utilbot/internal/cli"
	"github.com/joebot/utilbot/internal/config"
	"github.com/joebot/utilbot/internal/juxtapose"
	"github.com/joebot/utilbot/internal/logging"
	"github.com/joebot/utilbot/internal/preview"
	"github.com/joebot/utilbot/internal/resolve"
	"github.com/joebot/utilbot/internal/web"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(0)
	}

	var err error
	switch cmd, args := os.Args[1], os.Args[2:]; cmd {
	case "gateway":
		err = cmdGateway(args)
	case "serve":
		err = cmdServe(args)
	case "status":
		err = cmdStatus(args)
	case "onboard":
		err = cmdOnboard(args)
	case "version", "--version", "-v":
		fmt.Println(cli.TitleStyle.Render(fmt.Sprintf("  %s utilbot v%s", cli.Logo, cli.Version)))
	case "help", "--help", "-h":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", cmd)
		printUsage()
		os.Exit(1)
	}

	if err != nil && !errors.Is(err, pflag.ErrHelp) {
		fmt.Fprintln(os.Stderr, "  "+cli.ErrStyle.Render("Error: "+err.Error()))
		os.Exit(1)
	}
}

func printUsage() {
	dim := cli.DimStyle.Render
	fmt.Println()
	fmt.Println(cli.Banner("") + dim(" · Discord utilities"))
	fmt.Println()
	fmt.Println("  " + cli.BoldStyle.Render("Usage"))
	fmt.Println()
	fmt.Printf("    utilbot %-10s %s\n", "gateway", dim("Run the Discord bot and the redemption endpoint"))
	fmt.Printf("    utilbot %-10s %s\n", "serve", dim("Run only the redemption endpoint"))
	fmt.Printf("    utilbot %-10s %s\n", "status", dim("Show configuration"))
	fmt.Printf("    utilbot %-10s %s\n", "onboard", dim("Initialize setup"))
	fmt.Printf("    utilbot %-10s %s\n", "version", dim("Show version"))
	fmt.Println()
	fmt.Println("  " + cli.BoldStyle.Render("Flags"))
	fmt.Println()
	fmt.Printf("    %-22s %s\n", "-c, --config PATH", dim("Config file (default "+config.ConfigPath()+")"))
	fmt.Printf("    %-22s %s\n", "    --addr ADDR", dim("Redemption listen address (gateway, serve)"))
	fmt.Printf("    %-22s %s\n", "    --socket PATH", dim("Redemption UNIX socket (gateway, serve)"))
	fmt.Printf("    %-22s %s\n", "    --log-level LEVEL", dim("debug, info, warn or error"))
	fmt.Println()
}

// --- flags ---

type flags struct {
	config   string
	addr     string
	socket   string
	logLevel string
}

func parseFlags(name string, args []string, listener bool) (*flags, error) {
	f := &flags{}
	fs := pflag.NewFlagSet(name, pflag.ContinueOnError)
	fs.StringVarP(&f.config, "config", "c", config.ConfigPath(), "config file")
	fs.StringVar(&f.logLevel, "log-level", "", "log level")
	if listener {
		fs.StringVar(&f.addr, "addr", "", "redemption listen address")
		fs.StringVar(&f.socket, "socket", "", "redemption UNIX socket")
	}
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	return f, nil
}

// loadConfig reads the config file, applies flag overrides and installs
// the logger.
func loadConfig(f *flags) (*config.Config, error) {
	cfg, err := config.LoadFrom(f.config)
	if err != nil {
		return nil, err
	}
	if f.addr != "" {
		cfg.HTTP.Addr = f.addr
		cfg.HTTP.UnixSocket = ""
	}
	if f.socket != "" {
		cfg.HTTP.UnixSocket = f.socket
	}
	if f.logLevel != "" {
		cfg.Log.Level = f.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	logging.Setup(os.Stderr, cfg.Log.Level, cfg.Log.Color)
	return cfg, nil
}

// --- shared wiring ---

func openCache(ctx context.Context, cfg *config.Config) (cache.Cache, func(), error) {
	if cfg.Cache.Backend == config.BackendMemory {
		mem := cache.NewMemory()
		go mem.RunJanitor(ctx, cache.DefaultSweepInterval)
		return mem, func() {}, nil
	}
	rc, err := cache.Dial(ctx, cfg.Cache.RedisURL, cfg.CacheTimeout())
	if err != nil {
		return nil, nil, err
	}
	return rc, func() { rc.Close() }, nil
}

func newAuthenticator(cfg *config.Config) *auth.Authenticator {
	return auth.NewAuthenticator(auth.DeriveKey(cfg.Juxtapose.KeyMaterial))
}

func newServer(cfg *config.Config, a *auth.Authenticator, c cache.Cache, source resolve.MessageSource) *web.Server {
	resolver := resolve.New(resolve.Config{
		Authenticator: a,
		Cache:         c,
		Source:        source,
		Timeout:       cfg.LookupTimeout(),
	})
	return web.NewServer(resolver, web.Options{
		AllowOrigins: cfg.HTTP.AllowOrigins,
		Addr:         cfg.HTTP.Addr,
		UnixSocket:   cfg.HTTP.UnixSocket,
	})
}

func listenAddr(cfg *config.Config) string {
	if cfg.HTTP.UnixSocket != "" {
		return "unix:" + cfg.HTTP.UnixSocket
	}
	return cfg.HTTP.Addr
}

// --- gateway command ---

func cmdGateway(args []string) error {
	f, err := parseFlags("gateway", args, true)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	fmt.Println()
	fmt.Println(cli.Banner("Gateway"))
	fmt.Println()

	store, closeStore, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()
	fmt.Println("  " + cli.OkStyle.Render("✓") + " Cache " + cli.DimStyle.Render(cfg.Cache.Backend))

	authenticator := newAuthenticator(cfg)
	issuer, err := juxtapose.NewIssuer(authenticator, store, cfg.Juxtapose.BaseURL)
	if err != nil {
		return err
	}
	command := juxtapose.NewCommand(issuer, juxtapose.NewFetcher(cfg.FetchTimeout()))

	msgBus := bus.NewMessageBus()
	discord, err := channel.NewDiscord(cfg.Discord, msgBus, channel.DiscordOptions{
		Command: command,
		Inbound: cfg.Preview.Enabled,
	})
	if err != nil {
		return err
	}
	if err := discord.LoadSelf(ctx); err != nil {
		return err
	}
	msgBus.Subscribe(discord.Name(), discord.Send)
	fmt.Println("  " + cli.OkStyle.Render("✓") + " Discord " + cli.DimStyle.Render("/"+juxtapose.CommandName))

	var previews *preview.Service
	if cfg.Preview.Enabled {
		previews, err = newPreviewService(cfg, msgBus)
		if err != nil {
			return err
		}
		fmt.Println("  " + cli.OkStyle.Render("✓") + " File previews")
	} else {
		fmt.Println("  " + cli.DimStyle.Render("✗") + " File previews " + cli.DimStyle.Render("(not enabled)"))
	}

	srv := newServer(cfg, authenticator, store, discord)
	ln, err := srv.Listen()
	if err != nil {
		return err
	}
	fmt.Println("  " + cli.OkStyle.Render("✓") + " Redemption " + cli.DimStyle.Render(listenAddr(cfg)))
	fmt.Println()
	fmt.Println(cli.DimStyle.Render("  Press Ctrl+C to stop"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		msgBus.DispatchOutbound(gctx)
		return nil
	})
	if previews != nil {
		g.Go(func() error {
			previews.Run(gctx)
			return nil
		})
	}
	g.Go(func() error { return discord.Start(gctx) })
	g.Go(func() error { return srv.Serve(gctx, ln) })

	err = g.Wait()
	fmt.Println("\n  Shutting down...")
	return err
}

func newPreviewService(cfg *config.Config, msgBus *bus.MessageBus) (*preview.Service, error) {
	client := &http.Client{Timeout: cfg.PreviewTimeout()}
	github, err := preview.NewGitHub(client, cfg.Preview.RawBaseURL, cfg.Preview.MaxFileBytes)
	if err != nil {
		return nil, err
	}
	sources := map[preview.Kind]preview.Source{
		preview.KindGitHubFile: github,
		preview.KindGist:       preview.NewGist(client, cfg.Preview.MaxFileBytes),
	}
	return preview.NewService(msgBus, sources, cfg.Preview.MaxLinks), nil
}

// --- serve command ---

// cmdServe runs the redemption endpoint without a gateway connection.
// Messages are read through REST only.
func cmdServe(args []string) error {
	f, err := parseFlags("serve", args, true)
	if err != nil {
		return err
	}
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	store, closeStore, err := openCache(ctx, cfg)
	if err != nil {
		return err
	}
	defer closeStore()

	discord, err := channel.NewDiscord(cfg.Discord, bus.NewMessageBus(), channel.DiscordOptions{})
	if err != nil {
		return err
	}
	if err := discord.LoadSelf(ctx); err != nil {
		return err
	}

	srv := newServer(cfg, newAuthenticator(cfg), store, discord)
	ln, err := srv.Listen()
	if err != nil {
		return err
	}
	return srv.Serve(ctx, ln)
}

// --- status command ---

func cmdStatus(args []string) error {
	f, err := parseFlags("status", args, false)
	if err != nil {
		return err
	}
	cfg, err := config.LoadFrom(f.config)
	if err != nil {
		return err
	}
	cli.RunStatus(context.Background(), os.Stdout, cfg, cli.StatusOptions{
		ConfigPath: f.config,
		PingCache: func(ctx context.Context) error {
			rc, err := cache.Dial(ctx, cfg.Cache.RedisURL, cfg.CacheTimeout())
			if err != nil {
				return err
			}
			return rc.Close()
		},
	})
	return nil
}

// --- onboard command ---

func cmdOnboard(args []string) error {
	f, err := parseFlags("onboard", args, false)
	if err != nil {
		return err
	}
	return cli.RunOnboard(f.config)
}

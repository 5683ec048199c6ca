package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/joebot/utilbot/internal/config"
)

// StatusOptions carries what RunStatus cannot read from the config itself.
type StatusOptions struct {
	ConfigPath string
	// PingCache checks the cache backend. Nil skips the check.
	PingCache func(ctx context.Context) error
}

// RunStatus displays the current configuration status with styled output.
func RunStatus(ctx context.Context, w io.Writer, cfg *config.Config, opts StatusOptions) {
	row := func(name string, ok bool, detail string) {
		fmt.Fprintf(w, "    %s  %-14s %s\n", StatusBadge(ok), name, DimStyle.Render(detail))
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, Banner("Status"))
	fmt.Fprintln(w)

	fmt.Fprintf(w, "  %-12s %s  %s\n", "Config", StatusBadge(fileExists(opts.ConfigPath)), DimStyle.Render(opts.ConfigPath))
	if err := cfg.Validate(); err != nil {
		fmt.Fprintln(w, "  "+WarnStyle.Render(err.Error()))
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  "+BoldStyle.Render("Discord"))
	row("Bot token", cfg.Discord.Token != "", secretDetail(cfg.Discord.Token, config.EnvBotToken))
	row("Allow list", true, allowDetail(cfg.Discord.AllowFrom))
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  "+BoldStyle.Render("Juxtapose"))
	row("Key material", cfg.Juxtapose.KeyMaterial != "", secretDetail(cfg.Juxtapose.KeyMaterial, config.EnvKeyMaterial))
	row("Viewer", cfg.Juxtapose.BaseURL != "", cfg.Juxtapose.BaseURL)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  "+BoldStyle.Render("Redemption"))
	if cfg.HTTP.UnixSocket != "" {
		row("Listen", true, "unix:"+cfg.HTTP.UnixSocket)
	} else {
		row("Listen", cfg.HTTP.Addr != "", cfg.HTTP.Addr)
	}
	switch {
	case cfg.Cache.Backend == config.BackendMemory:
		row("Cache", true, "in-process memory")
	case opts.PingCache == nil:
		row("Cache", true, cfg.Cache.RedisURL)
	default:
		if err := opts.PingCache(ctx); err != nil {
			row("Cache", false, cfg.Cache.RedisURL+" ("+err.Error()+")")
		} else {
			row("Cache", true, cfg.Cache.RedisURL)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "  "+BoldStyle.Render("File previews"))
	if cfg.Preview.Enabled {
		row("Enabled", true, fmt.Sprintf("up to %d links per message", cfg.Preview.MaxLinks))
	} else {
		row("Enabled", false, "disabled")
	}
	fmt.Fprintln(w)
}

func secretDetail(value, env string) string {
	if value == "" {
		return "not set (config or " + env + ")"
	}
	return "set"
}

func allowDetail(ids []string) string {
	if len(ids) == 0 {
		return "everyone"
	}
	return fmt.Sprintf("%d users", len(ids))
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

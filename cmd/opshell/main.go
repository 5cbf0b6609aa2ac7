// Command opshell is an interactive console over the op runtime. It loads
// the built-in extensions, freezes a catalog, and lets you dispatch ops by
// name with JSON arguments. On a TTY it runs a full-screen picker; piped
// input gets a line console; -script runs a Lua file instead.
package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/term"

	"github.com/wippyai/script-runtime/luabind"
	"github.com/wippyai/script-runtime/ops"
)

func main() {
	var (
		configPath = flag.String("config", "", "Path to opshell.yaml")
		scriptPath = flag.String("script", "", "Lua file to run instead of the console")
		logLevel   = flag.String("log-level", "", "Override the config log level (debug, info, warn, error)")
		plain      = flag.Bool("plain", false, "Line console even on a TTY")
	)
	flag.Parse()

	if err := run(*configPath, *scriptPath, *logLevel, *plain); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, scriptPath, logLevel string, plain bool) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}

	interactive := scriptPath == "" && !plain && term.IsTerminal(int(os.Stdin.Fd()))

	logger, err := buildLogger(cfg.LogLevel, interactive)
	if err != nil {
		return err
	}
	defer logger.Sync()
	ops.SetLogger(logger)
	luabind.SetLogger(logger)

	cat, err := buildCatalog(cfg.Extensions)
	if err != nil {
		return err
	}

	if scriptPath != "" {
		return runScript(cfg, cat, scriptPath)
	}
	if interactive {
		return runInteractive(cfg, cat)
	}
	return runPlain(cfg, cat)
}

// buildLogger constructs the process logger. The alt-screen TUI owns the
// terminal, so interactive mode keeps logging quiet.
func buildLogger(level string, interactive bool) (*zap.Logger, error) {
	if interactive {
		return zap.NewNop(), nil
	}
	lvl, err := zapcore.ParseLevel(level)
	if err != nil {
		return nil, fmt.Errorf("log level %q: %w", level, err)
	}
	zc := zap.NewDevelopmentConfig()
	zc.Level = zap.NewAtomicLevelAt(lvl)
	return zc.Build()
}

// runScript executes a Lua file against the catalog and exits. Resources the
// script left open surface as the returned error.
func runScript(cfg Config, cat *ops.Catalog, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read script: %w", err)
	}

	b, err := luabind.New(luabind.Config{
		Catalog:       cat,
		ArenaCapacity: cfg.ArenaCapacity,
		DeferredBatch: cfg.DeferredBatch,
	})
	if err != nil {
		return err
	}

	if err := b.Run(context.Background(), string(src)); err != nil {
		b.Close()
		return err
	}
	return b.Close()
}

// runPlain is the line console: one op call or one :command per line.
func runPlain(cfg Config, cat *ops.Catalog) error {
	sh, err := newShell(cfg, cat)
	if err != nil {
		return err
	}

	fmt.Printf("opshell: %d ops from %d extension(s). :help for commands.\n",
		cat.Len(), len(cat.Extensions()))

	in := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("ops> ")
		if !in.Scan() {
			break
		}
		line := strings.TrimSpace(in.Text())
		if line == "" {
			continue
		}
		if strings.HasPrefix(line, ":") {
			if line == ":quit" || line == ":q" {
				break
			}
			fmt.Println(sh.command(line))
			continue
		}
		key, rawArgs, _ := strings.Cut(line, " ")
		fmt.Println(sh.call(key, rawArgs))
	}
	if err := in.Err(); err != nil {
		sh.close()
		return err
	}

	if err := sh.close(); err != nil {
		fmt.Printf("warning: %v\n", err)
	}
	return nil
}

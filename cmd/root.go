package cmd

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"emperror.dev/errors"
	"github.com/NYTimes/logrotate"
	"github.com/apex/log"
	"github.com/apex/log/handlers/multi"
	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/pterodactyl/originfs/config"
	"github.com/pterodactyl/originfs/internal/notify"
	"github.com/pterodactyl/originfs/loggers/cli"
	"github.com/pterodactyl/originfs/metrics"
	"github.com/pterodactyl/originfs/pool"
	"github.com/pterodactyl/originfs/router"
	"github.com/pterodactyl/originfs/rpc"
	"github.com/pterodactyl/originfs/storage"
	"github.com/pterodactyl/originfs/system"
	"github.com/pterodactyl/originfs/tree"
)

var (
	configPath  = config.DefaultLocation
	debug       = false
	rootDir     = ""
	showVersion = false
)

var rootCommand = &cobra.Command{
	Use:   "originfs",
	Short: "Serves a sandboxed origin file system with exclusive per-file access",
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return initConfiguration()
	},
	Run: rootCmdRun,
}

func init() {
	rootCommand.PersistentFlags().StringVar(&configPath, "config", config.DefaultLocation, "set the location for the configuration file")
	rootCommand.PersistentFlags().BoolVar(&debug, "debug", false, "pass in order to run originfs in debug mode")
	rootCommand.PersistentFlags().StringVar(&rootDir, "root", "", "override the directory backing the origin")
	rootCommand.Flags().BoolVar(&showVersion, "version", false, "show the version and exit")

	rootCommand.AddCommand(lsCommand, catCommand, writeCommand, mkdirCommand, cpCommand, mvCommand, rmCommand)
}

// Execute calls cobra to handle cli commands
func Execute() {
	if err := rootCommand.Execute(); err != nil {
		log.WithField("error", err).Fatal("failed to execute command")
	}
}

// initConfiguration loads the configuration file and applies any overrides
// passed on the command line. A missing file at the default location is not
// an error, the defaults are used instead.
func initConfiguration() error {
	p := configPath
	if !strings.HasPrefix(p, "/") {
		d, err := os.Getwd()
		if err != nil {
			return err
		}
		p = path.Clean(path.Join(d, configPath))
	}

	if s, err := os.Stat(p); err != nil {
		if !errors.Is(err, os.ErrNotExist) || configPath != config.DefaultLocation {
			return errors.WithMessage(err, "cmd: could not read configuration file")
		}
		c, err := config.NewAtPath(p)
		if err != nil {
			return err
		}
		config.Set(c)
	} else if s.IsDir() {
		return errors.New("cmd: cannot use directory as configuration file path")
	} else if err := config.FromFile(p); err != nil {
		return err
	}

	config.Update(func(c *config.Configuration) {
		if debug {
			c.Debug = true
		}
		if rootDir != "" {
			c.Storage.Root = rootDir
		}
	})
	return configureLogging(config.Get())
}

// Configures the global logger so that it can be called from any location in
// the code without having to pass around a logger instance.
func configureLogging(c *config.Configuration) error {
	if c.Debug {
		log.SetLevel(log.DebugLevel)
	} else {
		log.SetLevel(log.InfoLevel)
	}
	if c.LogDirectory == "" {
		log.SetHandler(cli.Default)
		return nil
	}

	if err := os.MkdirAll(c.LogDirectory, 0o700); err != nil {
		return err
	}
	p := filepath.Join(c.LogDirectory, "originfs.log")
	w, err := logrotate.NewFile(p)
	if err != nil {
		return errors.WithMessage(err, "cmd: failed to open process log file")
	}
	log.SetHandler(multi.New(
		cli.Default,
		cli.New(w.File, false),
	))
	log.WithField("path", p).Debug("writing log files to disk")
	return nil
}

// originStack is everything needed to serve the origin. The pool is
// constructed once per process and shared by every tree operation.
type originStack struct {
	store *storage.Store
	pool  *pool.Pool
	tree  *tree.Tree
}

func openStack(c *config.Configuration) (*originStack, error) {
	codec, err := rpc.CodecByName(c.Pool.Codec)
	if err != nil {
		return nil, err
	}
	s, err := storage.New(c.Storage.Root, c.Storage.UseOpenat2)
	if err != nil {
		return nil, errors.WithMessage(err, "cmd: failed to open origin")
	}
	p := pool.New(s, pool.Options{Capacity: c.Pool.Capacity, Codec: codec})
	t := tree.New(s, p, tree.Options{
		ChunkSize:       c.Tree.ChunkSize,
		CopyConcurrency: c.Tree.CopyConcurrency,
		CallTimeout:     c.Pool.CallTimeout,
	})
	return &originStack{store: s, pool: p, tree: t}, nil
}

// Close stops every worker and releases the origin directory.
func (o *originStack) Close() {
	if err := o.pool.Close(); err != nil {
		log.WithField("error", err).Warn("failed to close worker pool cleanly")
	}
	if err := o.store.Close(); err != nil {
		log.WithField("error", err).Warn("failed to close origin")
	}
}

func rootCmdRun(cmd *cobra.Command, _ []string) {
	if showVersion {
		fmt.Println(system.Version)
		os.Exit(0)
	}

	c := config.Get()
	log.WithField("path", c.Path()).Info("loaded configuration")
	if c.Debug {
		log.Debug("running in debug mode")
	}

	stack, err := openStack(c)
	if err != nil {
		log.WithField("error", err).Fatal("failed to initialize origin")
	}
	defer stack.Close()
	log.WithFields(log.Fields{
		"root":     c.Storage.Root,
		"capacity": c.Pool.Capacity,
		"codec":    c.Pool.Codec,
	}).Info("origin is ready")

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	metrics.Initialize(ctx.Done())

	s := &http.Server{
		Addr:    fmt.Sprintf("%s:%d", c.Api.Host, c.Api.Port),
		Handler: router.Configure(stack.tree),
	}

	log.WithFields(log.Fields{
		"host_address": c.Api.Host,
		"host_port":    c.Api.Port,
	}).Info("configuring internal webserver")

	l, err := net.Listen("tcp", s.Addr)
	if err != nil {
		log.WithField("error", err).Fatal("failed to configure HTTP server")
	}

	go func() {
		<-ctx.Done()
		log.Info("received shutdown signal, stopping webserver")
		if err := notify.Stopping(); err != nil {
			log.WithField("error", err).Warn("failed to notify service manager of shutdown")
		}
		sctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := s.Shutdown(sctx); err != nil {
			log.WithField("error", err).Warn("failed to shut down webserver cleanly")
		}
	}()

	fmt.Println(color.New(color.FgCyan, color.Bold).Sprintf("originfs is listening on %s", l.Addr()))
	if err := notify.Ready(); err != nil {
		log.WithField("error", err).Warn("failed to notify service manager of readiness")
	}
	_ = notify.Status("serving " + c.Storage.Root)
	if err := s.Serve(l); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.WithField("error", err).Error("webserver exited unexpectedly")
	}
}

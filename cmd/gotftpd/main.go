// Command gotftpd serves files from a directory over TFTP.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	tftp "github.com/sangoma/gotftp"
	"github.com/sangoma/gotftp/internal/accesslog"
	"github.com/sangoma/gotftp/internal/config"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		logrus.WithError(err).Fatal("gotftpd exited")
	}
}

func newRootCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gotftpd",
		Short: "Serve files over TFTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Default()
			if configPath != "" {
				loaded, err := config.Load(configPath)
				if err != nil {
					return err
				}
				cfg = loaded
			}
			return run(cmd.Context(), cfg)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "", "path to gotftpd.yaml")
	return cmd
}

func run(ctx context.Context, cfg config.Config) error {
	log := logrus.StandardLogger()
	reg := prometheus.NewRegistry()
	metrics := tftp.NewMetrics(reg)

	root, err := filepath.Abs(cfg.Root)
	if err != nil {
		return err
	}

	read := func(ctx context.Context, req *tftp.Request) (tftp.Response, error) {
		path, err := resolvePath(root, req.Filename)
		if err != nil {
			return nil, err
		}
		return tftp.NewFileResponse(path), nil
	}

	var write tftp.WriteHandler
	if cfg.AllowWrite {
		write = func(ctx context.Context, req *tftp.Request) error {
			path, err := resolvePath(root, req.Filename)
			if err != nil {
				return err
			}
			body, err := req.ReadAll()
			if err != nil {
				return err
			}
			return os.WriteFile(path, body, 0o644)
		}
	}

	server := tftp.NewServer(read, write,
		tftp.WithRetransmitInterval(cfg.RetransmitInterval),
		tftp.WithShutdownGrace(cfg.ShutdownGrace),
		tftp.WithDally(cfg.Dally),
		tftp.WithMetrics(metrics),
		tftp.WithAccessLog(accesslog.New(log)),
		tftp.WithLogger(log),
	)

	if cfg.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
		go func() {
			if err := http.ListenAndServe(cfg.MetricsAddr, mux); err != nil {
				log.WithError(err).Warn("metrics listener stopped")
			}
		}()
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errCh := make(chan error, 1)
	go func() { errCh <- server.ListenAndServe(runCtx, cfg.ListenAddr) }()

	select {
	case <-runCtx.Done():
		shutdownCtx := context.Background()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		return err
	}
}

// resolvePath confines name under root: ".." segments cannot climb
// above root and an absolute path is taken relative to root, matching a
// TFTP server's obligation never to answer a request outside its
// configured tree.
func resolvePath(root, name string) (string, error) {
	clean := filepath.Clean("/" + strings.ReplaceAll(name, "\\", "/"))
	path := filepath.Join(root, clean)
	if !strings.HasPrefix(path, root) {
		return "", tftp.ErrAccessViolation
	}
	return path, nil
}

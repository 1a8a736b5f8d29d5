package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"strconv"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"routerctl/internal/detect"
	"routerctl/internal/discovery"
	"routerctl/internal/dispatch"
	"routerctl/internal/handler"
	"routerctl/internal/hub"
	"routerctl/internal/mcp"
	"routerctl/internal/watcher"
)

const shutdownTimeout = 10 * time.Second

// closeServer drops every open session
func closeServer(srv *dispatch.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	srv.Close(ctx)
}

func runServe(c *cli.Context) error {
	cfg := configFrom(c)
	listen := c.String("listen")
	if listen == "" {
		listen = cfg.Listen
	}

	ctx, cancel := context.WithCancel(c.Context)
	defer cancel()

	events := hub.New()
	go events.Run(ctx)

	srv := dispatch.NewServer(cfg, dispatch.WithObserver(func(e dispatch.Event) {
		events.Broadcast(e)
	}))
	defer closeServer(srv)

	if c.Bool("watch") {
		s := settingsFrom(c)
		w := watcher.New(func(path string) {
			reloaded, _, err := s.load()
			if err != nil {
				log.WithError(err).WithField("path", path).Warn("Keeping the previous configuration")
				return
			}
			srv.Reload(reloaded)
		}, s.configPath, s.envFile)
		go func() {
			if err := w.Watch(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Warn("Configuration watcher stopped")
			}
		}()
	}

	server := &http.Server{
		Addr:              listen,
		Handler:           handler.Routes(srv, srv.Metrics().Handler(), events),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.WithField("listen", listen).Info("Starting HTTP server")
		if err := server.ListenAndServe(); err != http.ErrServerClosed {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return errors.Wrap(err, "HTTP server failed")
	case <-ctx.Done():
	}

	log.Info("Shutting down HTTP server")
	// Event streams end with the hub, so Shutdown does not wait on them.
	cancel()
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return errors.Wrap(err, "HTTP server shutdown failed")
	}
	return nil
}

func runMCP(c *cli.Context) error {
	srv := dispatch.NewServer(configFrom(c))
	defer closeServer(srv)

	log.Info("Serving tools on stdio")
	err := mcp.NewServer(srv, "routerctl", Version).Serve(c.Context, os.Stdin, c.App.Writer)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

func runDetect(c *cli.Context) error {
	cfg := configFrom(c)
	address := c.Args().First()
	if address == "" {
		address = cfg.Router.Address
	}
	if address == "" {
		gw, err := discovery.DefaultGateway()
		if err != nil {
			return errors.WithMessage(err, "an address is required: routerctl detect <ip>")
		}
		log.WithField("gateway", gw).Info("Probing the default gateway")
		address = gw
	}

	d := detect.New(detect.Options{
		Timeout:  cfg.Timeouts.Probe.Duration(),
		Parallel: cfg.ParallelDetection(),
	})
	defer d.Close()

	result := d.Detect(c.Context, address)
	out := c.App.Writer
	if c.Bool("verbose") {
		fmt.Fprintln(out, "Tests:")
		for _, key := range result.Order {
			fmt.Fprintf(out, "  %s: %t\n", key, result.Tests[key])
		}
	}
	if !result.Detected() {
		return errors.Errorf("could not detect the router type at %s", address)
	}

	fmt.Fprintf(out, "Detected %s router at %s\n\n", result.Vendor, address)
	fmt.Fprintln(out, "Add these lines to your .env file:")
	fmt.Fprintf(out, "ROUTER_TYPE=%s\n", result.Vendor)
	fmt.Fprintf(out, "ROUTER_IP=%s\n", address)
	return nil
}

func runCheck(c *cli.Context) error {
	cfg := configFrom(c)
	if !cfg.HasCredentials() {
		return errors.New("no router configured: set ROUTER_IP and ROUTER_USERNAME")
	}
	out := c.App.Writer
	address := cfg.Router.Address
	fmt.Fprintf(out, "Checking router at %s (type %s)\n", address, cfg.Router.Type)

	if net.ParseIP(address) != nil {
		hosts, err := discovery.NewSweeper(nil,
			discovery.WithNmap(false),
			discovery.WithPorts(cfg.Discovery.Ports...),
			discovery.WithTimeout(cfg.Discovery.Timeout.Duration()),
		).Discover(c.Context, address)
		if err != nil {
			return err
		}
		if len(hosts) == 0 {
			return errors.Errorf("%s does not answer on ports %s", address, joinPorts(cfg.Discovery.Ports))
		}
		fmt.Fprintf(out, "Reachable on ports %s\n", joinPorts(hosts[0].OpenPorts))
	}

	srv := dispatch.NewServer(cfg)
	defer closeServer(srv)

	for _, step := range []string{"connect_router", "get_system_info", "disconnect_router"} {
		res := srv.Call(c.Context, step, dispatch.Args{"ip": address})
		fmt.Fprintln(out, res.Text)
		if !res.Success {
			return errors.Errorf("connection check failed at %s", step)
		}
	}
	fmt.Fprintln(out, "Connection check passed")
	return nil
}

func runCall(c *cli.Context) error {
	if c.NArg() == 0 {
		return errors.New("an operation is required: routerctl call <operation> [key=value ...]")
	}
	args, err := dispatch.ParseAssignments(c.Args().Tail())
	if err != nil {
		return err
	}

	srv := dispatch.NewServer(configFrom(c))
	defer closeServer(srv)

	res := srv.Call(c.Context, c.Args().First(), args)
	fmt.Fprintln(c.App.Writer, res.Text)
	if !res.Success {
		return errors.Errorf("%s failed", c.Args().First())
	}
	return nil
}

func runDiscover(c *cli.Context) error {
	cfg := configFrom(c)
	cidr := c.Args().First()
	if cidr == "" {
		subnet, err := discovery.LocalSubnet()
		if err != nil {
			return errors.WithMessage(err, "a subnet is required: routerctl discover <cidr>")
		}
		log.WithField("subnet", subnet).Info("Sweeping the local subnet")
		cidr = subnet
	}

	d := detect.New(detect.Options{
		Timeout:  cfg.Timeouts.Probe.Duration(),
		Parallel: cfg.ParallelDetection(),
	})
	defer d.Close()

	hosts, err := discovery.NewSweeper(d,
		discovery.WithPorts(cfg.Discovery.Ports...),
		discovery.WithTimeout(cfg.Discovery.Timeout.Duration()),
		discovery.WithConcurrency(cfg.Discovery.Concurrency),
	).Discover(c.Context, cidr)
	if err != nil {
		return err
	}

	return printHosts(c.App.Writer, hosts)
}

func printHosts(out io.Writer, hosts []discovery.Host) error {
	if len(hosts) == 0 {
		_, err := fmt.Fprintln(out, "No hosts with an open web port found.")
		return err
	}

	tw := tabwriter.NewWriter(out, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "IP\tHOSTNAME\tMAC\tPORTS\tVENDOR")
	for _, h := range hosts {
		vendor := string(h.Vendor)
		if vendor == "" {
			vendor = "unknown"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n",
			h.IP, orDash(h.Hostname), orDash(h.MACAddress), joinPorts(h.OpenPorts), vendor)
	}
	return tw.Flush()
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}


// Command poolproxy is a TCP forwarding proxy keeping a pool of reusable
// backend connections. It mainly exists as a complete consumer of the
// connect/pool/transport packages.
package main

import (
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/One-com/gone/daemon"
	"github.com/One-com/gone/daemon/srv"
	"github.com/One-com/gone/log"
	"github.com/One-com/gone/log/syslog"
	"github.com/One-com/gone/metric"
	"github.com/One-com/gone/metric/sink/statsd"
	"github.com/One-com/gone/sd"
	"github.com/One-com/gone/signals"
	flag "github.com/spf13/pflag"

	"github.com/PlumpMath/async-connect/connect"
	"github.com/PlumpMath/async-connect/pool"
	"github.com/PlumpMath/async-connect/transport/tcp"
)

func serverLogFunc(level int, message string) {
	log.Log(syslog.Priority(level), message)
}

func main() {
	fs := flag.NewFlagSet("poolproxy", flag.ExitOnError)
	configFile := fs.String("config", "", "Path to YAML config file")
	fs.String("listen", "", "Address to accept clients on")
	fs.String("backend-host", "", "Backend host to forward to")
	fs.Int("backend-port", 0, "Backend port to forward to")
	fs.Duration("idle-timeout", 0, "Idle timeout for pooled backend connections")
	fs.String("statsd", "", "statsd UDP address for metrics")
	fs.Parse(os.Args[1:])

	cfg, err := loadConfig(fs, *configFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	log.SetLevel(syslog.LOG_INFO)
	daemon.SetLogger(serverLogFunc)

	signals.RunSignalHandler(signals.Mappings{
		syscall.SIGINT:  func() { daemon.Exit(false) },
		syscall.SIGTERM: func() { sd.Notify(0, "STOPPING=1"); daemon.Exit(true) },
		syscall.SIGHUP:  func() { sd.Notify(0, "RELOADING=1"); daemon.Reload() },
		syscall.SIGTTIN: func() { log.IncLevel(); log.ALERT(fmt.Sprintf("Log level: %d", log.Level())) },
		syscall.SIGTTOU: func() { log.DecLevel(); log.ALERT(fmt.Sprintf("Log level: %d", log.Level())) },
	})

	var mc *metric.Client
	if cfg.Statsd.Addr != "" {
		sink, err := statsd.New(
			statsd.Peer(cfg.Statsd.Addr),
			statsd.Prefix(cfg.Statsd.Prefix),
			statsd.Buffer(1432))
		if err != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		mc = metric.NewClient(sink, metric.FlushInterval(10*time.Second))
	}

	tr := tcp.New()

	opts := []connect.Option{connect.IdleTimeout(cfg.IdleTimeout)}
	if mc != nil {
		opts = append(opts, connect.Metrics(mc))
	}
	factory := connect.New(tr, opts...)

	backend := pool.AddrKey{Host: cfg.Backend.Host, Port: cfg.Backend.Port}

	configure := daemon.ConfigureFunc(func() ([]srv.Server, []daemon.CleanupFunc, error) {
		servers := []srv.Server{newProxyServer(cfg.Listen, backend, factory)}
		return servers, nil, nil
	})

	log.Println("Starting poolproxy", "PID", os.Getpid())

	err = daemon.Run(
		daemon.InstantiateServers(configure),
		daemon.SdNotifyOnReady(true, "Ready and proxying"),
	)
	if err != nil {
		log.ERROR("poolproxy exited with error", "error", err)
	}

	tr.Close()
	sd.Notify(sd.NotifyUnsetEnv, "STATUS=Terminated")
	log.Println("Halted")
}

// Command inpagectl connects a provider to a remote wallet process, prints
// the events it publishes and optionally issues one request.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	inpage "github.com/filegrind/inpage-go"
	"github.com/filegrind/inpage-go/config"
	"github.com/filegrind/inpage-go/jsonrpc"
	"github.com/filegrind/inpage-go/mux"
	"github.com/filegrind/inpage-go/transport"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config (defaults built in)")
	url := flag.String("url", "", "websocket URL of the remote (overrides config)")
	tcpAddr := flag.String("tcp", "", "dial a length-prefixed TCP remote instead of a websocket")
	method := flag.String("method", "", "RPC method to call once connected")
	params := flag.String("params", "", "JSON params for -method")
	timeout := flag.Duration("timeout", 10*time.Second, "dial and request timeout")
	watch := flag.Bool("watch", false, "keep printing events until interrupted")
	metricsAddr := flag.String("metrics-addr", "", "serve prometheus metrics on this address")
	flag.Parse()

	cfg := config.Default()
	if *configPath != "" {
		var err error
		if cfg, err = config.Load(*configPath); err != nil {
			fatalf("load config: %v", err)
		}
	} else {
		config.ApplyEnvOverrides(&cfg)
	}
	if *url != "" {
		cfg.Remote.URL = *url
	}

	log, err := config.NewLogger(cfg.Log)
	if err != nil {
		fatalf("logger: %v", err)
	}
	defer func() { _ = log.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	t, err := dial(ctx, cfg, *tcpAddr, *timeout)
	if err != nil {
		fatalf("dial: %v", err)
	}

	opts := []inpage.Option{inpage.WithConfig(cfg), inpage.WithLogger(log)}
	if *metricsAddr != "" {
		reg := prometheus.NewRegistry()
		opts = append(opts, inpage.WithRegisterer(reg))
		go serveMetrics(*metricsAddr, reg, log)
	}

	p, err := inpage.New(t, opts...)
	if err != nil {
		fatalf("provider: %v", err)
	}
	defer func() { _ = p.Close() }()

	printEvents(p)
	p.Start()

	if *method != "" {
		if err := call(ctx, p, *method, *params, *timeout); err != nil {
			fmt.Fprintf(os.Stderr, "%s failed: %v\n", *method, err)
			if !*watch {
				os.Exit(1)
			}
		}
	}

	if !*watch {
		return
	}
	waitErr := make(chan error, 1)
	go func() { waitErr <- p.Wait() }()
	select {
	case <-ctx.Done():
	case err := <-waitErr:
		if err != nil {
			fatalf("connection: %v", err)
		}
	}
}

func dial(ctx context.Context, cfg config.Config, tcpAddr string, timeout time.Duration) (mux.Transport, error) {
	dialCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if tcpAddr != "" {
		var d net.Dialer
		conn, err := d.DialContext(dialCtx, "tcp", tcpAddr)
		if err != nil {
			return nil, err
		}
		return transport.NewStream(conn, cfg.Limits.MaxFrame), nil
	}
	return transport.DialWebSocket(dialCtx, cfg.Remote.URL, nil, cfg.Limits.MaxFrame)
}

func call(ctx context.Context, p *inpage.Provider, method, params string, timeout time.Duration) error {
	var raw interface{}
	if strings.TrimSpace(params) != "" {
		raw = json.RawMessage(params)
		if !json.Valid(raw.(json.RawMessage)) {
			return errors.New("-params is not valid JSON")
		}
	}

	callCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	result, err := p.Request(callCtx, method, raw)
	if err != nil {
		var perr *inpage.Error
		if errors.As(err, &perr) {
			return fmt.Errorf("%s (kind=%s code=%d)", perr.Message, perr.Kind, perr.Code)
		}
		return err
	}
	fmt.Printf("%s => %s\n", method, result)
	return nil
}

func printEvents(p *inpage.Provider) {
	p.OnConnect(func(info inpage.ConnectInfo) {
		fmt.Println("connect")
	})
	p.OnClose(func(info inpage.CloseInfo) {
		fmt.Printf("close code=%d reason=%q\n", info.Code, info.Reason)
	})
	p.OnChainChanged(func(chainID string) {
		fmt.Printf("chainChanged %s\n", chainID)
	})
	p.OnNetworkChanged(func(version string) {
		fmt.Printf("networkChanged %s\n", version)
	})
	p.OnAccountsChanged(func(accounts []string) {
		fmt.Printf("accountsChanged %v\n", accounts)
	})
	p.OnNotification(func(n *jsonrpc.Notification) {
		fmt.Printf("notification %s %s\n", n.Method, n.Payload())
	})
	p.OnError(func(err error) {
		fmt.Fprintf(os.Stderr, "error %v\n", err)
	})
}

func serveMetrics(addr string, reg *prometheus.Registry, log *zap.Logger) {
	handler := http.NewServeMux()
	handler.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("metrics server stopped", zap.Error(err))
	}
}

func fatalf(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "inpagectl: "+format+"\n", args...)
	os.Exit(1)
}

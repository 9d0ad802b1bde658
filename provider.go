// Package inpage is a client-side wallet provider. It exposes a JSON-RPC
// request and event interface to its host while forwarding every request over
// one multiplexed transport to a privileged remote process.
//
// A Provider opens three logical channels on the transport: the RPC channel,
// a one-way channel of pushed configuration snapshots and an ignored channel
// kept for compatibility with remotes that still open it.
package inpage

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/filegrind/inpage-go/config"
	"github.com/filegrind/inpage-go/engine"
	"github.com/filegrind/inpage-go/events"
	"github.com/filegrind/inpage-go/jsonrpc"
	"github.com/filegrind/inpage-go/mux"
	"github.com/filegrind/inpage-go/rpcstream"
	"github.com/filegrind/inpage-go/state"
)

// ErrNotStarted is returned by Wait before Start has been called.
var ErrNotStarted = errors.New("inpage: provider not started")

// Provider is the public surface handed to the host.
type Provider struct {
	cfg config.Config
	log *zap.Logger

	mux        *mux.Mux
	rpcChannel *mux.Channel
	cfgChannel *mux.Channel

	rpc    *rpcstream.Stream
	remap  *engine.IDRemapper
	engine *engine.Engine

	state      *state.State
	events     *events.Registry
	dispatch   *events.Queue
	configSync *state.ConfigSync
	reconciler *state.Reconciler
	lifecycle  *lifecycle

	nextID atomic.Uint64

	runMu   sync.Mutex
	started bool
	closing bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error

	closeOnce sync.Once
	closeErr  error

	experimentalOnce sync.Once
}

// New builds a provider over t. Listeners can be attached before Start,
// which announces the connection and begins processing inbound traffic.
func New(t mux.Transport, opts ...Option) (*Provider, error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	if err := o.cfg.Validate(); err != nil {
		return nil, validationError(jsonrpc.CodeInvalidParams, err.Error())
	}

	p := &Provider{
		cfg:    o.cfg,
		log:    o.log,
		state:  state.New(),
		events: events.NewRegistry(),
		done:   make(chan struct{}),
	}
	p.dispatch = events.NewQueue(p.events)

	var reg prometheus.Registerer
	if o.reg != nil || o.cfg.Metrics.Enabled {
		reg = o.reg
		if reg == nil {
			reg = prometheus.DefaultRegisterer
		}
	}

	var rpcMetrics *engine.Metrics
	muxOpts := []mux.Option{mux.WithLogger(o.log.Named("mux")), mux.WithLimits(o.cfg.Limits)}
	if reg != nil {
		muxMetrics, err := mux.NewMetrics(reg, o.cfg.Metrics.Namespace)
		if err != nil {
			return nil, err
		}
		if rpcMetrics, err = engine.NewMetrics(reg, o.cfg.Metrics.Namespace); err != nil {
			return nil, err
		}
		muxOpts = append(muxOpts, mux.WithMetrics(muxMetrics))
	}
	p.mux = mux.New(t, muxOpts...)

	var err error
	if p.rpcChannel, err = p.mux.CreateChannel(o.cfg.Channels.RPC); err != nil {
		return nil, err
	}
	if p.cfgChannel, err = p.mux.CreateChannel(o.cfg.Channels.Config); err != nil {
		return nil, err
	}
	for _, name := range o.cfg.Channels.Ignored {
		p.mux.IgnoreChannel(name)
	}

	p.rpc = rpcstream.New(p.rpcChannel, o.log.Named("rpc"))
	p.rpc.OnResponse(p.handleResponse)
	p.rpc.OnNotification(p.handleNotification)
	p.rpc.OnProtocolError(p.handleProtocolError)

	p.configSync = state.NewConfigSync(p.state, p.dispatch, o.log.Named("config"))
	p.reconciler = state.NewReconciler(p.state, p.dispatch, o.log.Named("accounts"))
	p.lifecycle = &lifecycle{state: p.state, pub: p.dispatch, log: o.log}

	p.remap = engine.NewIDRemapper(o.idGen)
	chain := []engine.Middleware{
		engine.Recovery(o.log),
		engine.Logging(o.log.Named("engine")),
	}
	if rpcMetrics != nil {
		chain = append(chain, rpcMetrics.Middleware())
	}
	chain = append(chain,
		p.remap.Middleware(),
		engine.ErrorNormalization(o.log.Named("engine")),
	)
	chain = append(chain, o.middleware...)
	p.engine = engine.New(p.rpc.Handle, chain...)

	return p, nil
}

// Start announces the connection and starts processing the transport. Only
// the first call has any effect, and none after Close.
//
// Listeners run on one event goroutine in the order events were produced.
// They may call back into the provider, including Request and Close.
func (p *Provider) Start() {
	p.runMu.Lock()
	defer p.runMu.Unlock()
	if p.closing {
		p.log.Debug("start after close ignored")
		return
	}
	if p.started {
		return
	}
	p.started = true

	go p.dispatch.Run()
	p.lifecycle.connect()

	ctx, cancel := context.WithCancel(context.Background())
	p.cancel = cancel
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		err := p.mux.Run()
		p.lifecycle.disconnect(p.mux.Err())
		return err
	})
	g.Go(func() error {
		err := p.rpc.Run(gctx)
		p.lifecycle.disconnect(err)
		return nil
	})
	g.Go(func() error {
		_ = p.configSync.Run(gctx, p.cfgChannel)
		return nil
	})
	if p.cfg.Provider.FetchAccountsOnStart {
		g.Go(func() error {
			if _, err := p.Request(gctx, "eth_accounts", nil); err != nil {
				p.log.Debug("initial accounts query failed", zap.Error(err))
			}
			return nil
		})
	}

	go func() {
		err := g.Wait()
		p.lifecycle.disconnect(p.mux.Err())
		p.dispatch.Close()
		p.runErr = err
		close(p.done)
	}()
}

// Wait blocks until every processing loop has stopped and every queued event
// has been delivered, then returns the first transport failure. It must not
// be called from a listener.
func (p *Provider) Wait() error {
	p.runMu.Lock()
	started := p.started
	p.runMu.Unlock()
	if !started {
		return ErrNotStarted
	}
	<-p.done
	<-p.dispatch.Done()
	return p.runErr
}

// Close shuts the transport down. Pending requests are rejected and the
// close event fires if the provider was connected. Close does not wait for
// listeners, so it is safe to call from one.
func (p *Provider) Close() error {
	p.closeOnce.Do(func() {
		p.runMu.Lock()
		p.closing = true
		started := p.started
		p.runMu.Unlock()

		err := p.mux.Close()
		if started {
			p.cancel()
			<-p.done
			err = multierr.Append(err, p.runErr)
		} else {
			p.dispatch.Close()
		}
		p.closeErr = err
	})
	return p.closeErr
}

// Request calls method with params and returns the raw result. Remote errors
// are returned as *Error with KindRemote.
func (p *Provider) Request(ctx context.Context, method string, params interface{}) (json.RawMessage, error) {
	req, err := jsonrpc.NewRequest(p.newID(), method, params)
	if err != nil {
		return nil, validationError(jsonrpc.CodeInvalidParams, err.Error())
	}
	resp, err := p.Send(ctx, req)
	if err != nil {
		return nil, err
	}
	if resp.Error != nil {
		return nil, remoteError(resp.Error)
	}
	return resp.Result, nil
}

// Send forwards a full request and returns the full response. Remote errors
// stay inside the response.
func (p *Provider) Send(ctx context.Context, req *jsonrpc.Request) (*jsonrpc.Response, error) {
	if req == nil {
		return nil, validationError(jsonrpc.CodeInvalidRequest, "request is nil")
	}
	if req.JSONRPC == "" || jsonrpc.IsNullID(req.ID) {
		req = req.Clone()
		if req.JSONRPC == "" {
			req.JSONRPC = jsonrpc.Version
		}
		if jsonrpc.IsNullID(req.ID) {
			req.ID = p.newID()
		}
	}
	resp, err := p.engine.Handle(ctx, req)
	if err != nil {
		return nil, classify(err)
	}
	return resp, nil
}

// SendJSON validates and forwards an encoded request. Invalid input fails
// with KindLocalValidation before anything is sent.
func (p *Provider) SendJSON(ctx context.Context, data []byte) (*jsonrpc.Response, error) {
	if err := jsonrpc.ValidateRequest(data); err != nil {
		return nil, classify(err)
	}
	var req jsonrpc.Request
	if err := json.Unmarshal(data, &req); err != nil {
		return nil, validationError(jsonrpc.CodeParseError, err.Error())
	}
	return p.Send(ctx, &req)
}

// RequestAccounts returns the exposed accounts, asking for the eth_accounts
// permission when none are exposed yet.
func (p *Provider) RequestAccounts(ctx context.Context) ([]string, error) {
	accounts, err := p.queryAccounts(ctx)
	if err != nil || len(accounts) > 0 {
		return accounts, err
	}
	if _, err := p.RequestPermissions(ctx, map[string]interface{}{"eth_accounts": struct{}{}}); err != nil {
		return nil, err
	}
	return p.queryAccounts(ctx)
}

// RequestPermissions calls wallet_requestPermissions with perms.
func (p *Provider) RequestPermissions(ctx context.Context, perms interface{}) (json.RawMessage, error) {
	return p.Request(ctx, "wallet_requestPermissions", []interface{}{perms})
}

func (p *Provider) queryAccounts(ctx context.Context) ([]string, error) {
	raw, err := p.Request(ctx, "eth_accounts", nil)
	if err != nil {
		return nil, err
	}
	var accounts []string
	if err := json.Unmarshal(raw, &accounts); err != nil {
		return nil, &Error{Kind: KindProtocol, Code: jsonrpc.CodeInternal, Message: "eth_accounts result is not a list", Err: err}
	}
	return accounts, nil
}

// handleResponse feeds account query results to the reconciler. It runs on
// the RPC reading goroutine, so responses and pushed account changes apply in
// wire order. A remote error counts as an empty list.
func (p *Provider) handleResponse(method string, resp *jsonrpc.Response) {
	if method != "eth_accounts" && method != "eth_requestAccounts" {
		return
	}
	if resp.Error != nil {
		p.reconciler.Reconcile(nil)
		return
	}
	p.reconciler.ReconcileRaw(resp.Result)
}

func (p *Provider) handleNotification(n *jsonrpc.Notification) {
	if n.Method == "wallet_accountsChanged" {
		p.reconciler.ReconcileRaw(n.Payload())
		return
	}
	p.dispatch.Emit(events.Notification, n)
}

func (p *Provider) handleProtocolError(err error) {
	p.dispatch.Emit(events.Error, classify(err))
}

func (p *Provider) newID() json.RawMessage {
	return json.RawMessage(strconv.FormatUint(p.nextID.Add(1), 10))
}

// On registers fn for event and returns a func that removes it.
func (p *Provider) On(event string, fn events.Handler) func() {
	return p.events.On(event, fn)
}

// Once registers fn for the next emission of event.
func (p *Provider) Once(event string, fn events.Handler) func() {
	return p.events.Once(event, fn)
}

// ListenerCount returns the number of listeners for event.
func (p *Provider) ListenerCount(event string) int {
	return p.events.ListenerCount(event)
}

// OnConnect registers fn for the connect event.
func (p *Provider) OnConnect(fn func(ConnectInfo)) func() {
	return p.events.On(events.Connect, func(args ...interface{}) { fn(args[0].(ConnectInfo)) })
}

// OnClose registers fn for the close event.
func (p *Provider) OnClose(fn func(CloseInfo)) func() {
	return p.events.On(events.Close, func(args ...interface{}) { fn(args[0].(CloseInfo)) })
}

// OnAccountsChanged registers fn for accountsChanged.
func (p *Provider) OnAccountsChanged(fn func([]string)) func() {
	return p.events.On(events.AccountsChanged, func(args ...interface{}) { fn(args[0].([]string)) })
}

// OnChainChanged registers fn for chainChanged.
func (p *Provider) OnChainChanged(fn func(chainID string)) func() {
	return p.events.On(events.ChainChanged, func(args ...interface{}) { fn(args[0].(string)) })
}

// OnNetworkChanged registers fn for networkChanged.
func (p *Provider) OnNetworkChanged(fn func(networkVersion string)) func() {
	return p.events.On(events.NetworkChanged, func(args ...interface{}) { fn(args[0].(string)) })
}

// OnNotification registers fn for notifications other than account changes.
func (p *Provider) OnNotification(fn func(*jsonrpc.Notification)) func() {
	return p.events.On(events.Notification, func(args ...interface{}) { fn(args[0].(*jsonrpc.Notification)) })
}

// OnError registers fn for protocol errors that have no caller to report to.
func (p *Provider) OnError(fn func(error)) func() {
	return p.events.On(events.Error, func(args ...interface{}) { fn(args[0].(error)) })
}

// SelectedAddress returns the first exposed account.
func (p *Provider) SelectedAddress() (string, bool) { return p.state.SelectedAddress() }

// ChainID returns the last chain id pushed by the remote.
func (p *Provider) ChainID() (string, bool) { return p.state.ChainID() }

// NetworkVersion returns the last network version pushed by the remote.
func (p *Provider) NetworkVersion() (string, bool) { return p.state.NetworkVersion() }

// IsConnected reports whether the provider is between connect and close.
func (p *Provider) IsConnected() bool { return p.state.IsConnected() }

// IsUnlocked reports the last unlock status pushed by the remote.
func (p *Provider) IsUnlocked() bool { return p.state.IsUnlocked() }

// Accounts returns the cached accounts.
func (p *Provider) Accounts() []string { return p.state.Accounts() }

// InFlight reports how many requests are awaiting a response.
func (p *Provider) InFlight() int { return p.remap.InFlight() }

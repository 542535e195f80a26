// Package detector drives an Xspress control server: it mirrors the server's
// configuration into a parameter tree, forwards writes as configure commands
// and runs the multi-process reconfiguration sequence.
package detector

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/user"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/danmuck/xspressctl/internal/paramtree"
	"github.com/danmuck/xspressctl/internal/protocol"
	"github.com/danmuck/xspressctl/internal/protocol/session"
	"github.com/danmuck/xspressctl/internal/rpc"
	"github.com/danmuck/xspressctl/internal/scheduler"
	"github.com/danmuck/xspressctl/internal/transport"
)

// Config is the controller wiring. Zero fields take DefaultConfig values.
type Config struct {
	Endpoint        string
	NumProcessMCA   int
	NumProcessList  int
	PollInterval    time.Duration
	MinPollInterval time.Duration
	SettleMCA       time.Duration
	SettleList      time.Duration

	WorkerHost        string
	ReceiverBasePort  int
	ProcessorBasePort int
	WorkerPortStep    int

	Session session.Config
	Dial    transport.Dialer
}

func DefaultConfig() Config {
	return Config{
		Endpoint:          "127.0.0.1:12000",
		NumProcessMCA:     NumProcessMCA,
		NumProcessList:    NumProcessList,
		PollInterval:      scheduler.DefaultInterval,
		MinPollInterval:   scheduler.DefaultMinInterval,
		SettleMCA:         time.Second,
		SettleList:        time.Second,
		WorkerHost:        "127.0.0.1",
		ReceiverBasePort:  10000,
		ProcessorBasePort: 10004,
		WorkerPortStep:    10,
		Session:           session.DefaultConfig(),
		Dial:              transport.DialZMQConn,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.Endpoint == "" {
		c.Endpoint = d.Endpoint
	}
	if c.NumProcessMCA <= 0 {
		c.NumProcessMCA = d.NumProcessMCA
	}
	if c.NumProcessList <= 0 {
		c.NumProcessList = d.NumProcessList
	}
	if c.PollInterval <= 0 {
		c.PollInterval = d.PollInterval
	}
	if c.MinPollInterval <= 0 {
		c.MinPollInterval = d.MinPollInterval
	}
	if c.SettleMCA < 0 {
		c.SettleMCA = 0
	}
	if c.SettleList < 0 {
		c.SettleList = 0
	}
	if c.WorkerHost == "" {
		c.WorkerHost = d.WorkerHost
	}
	if c.ReceiverBasePort <= 0 {
		c.ReceiverBasePort = d.ReceiverBasePort
	}
	if c.ProcessorBasePort <= 0 {
		c.ProcessorBasePort = d.ProcessorBasePort
	}
	if c.WorkerPortStep <= 0 {
		c.WorkerPortStep = d.WorkerPortStep
	}
	if c.Session.RequestTimeout <= 0 {
		c.Session = d.Session
	}
	if c.Dial == nil {
		c.Dial = d.Dial
	}
	return c
}

// ConfigureParams is the detector topology handed to Configure.
type ConfigureParams struct {
	NumCards     int
	NumTF        int
	BaseIP       string
	MaxChannels  int
	MaxSpectra   int
	SettingsPath string
	RunFlags     int
	Debug        int
	DAQEndpoints []string
}

// Controller is safe for concurrent use.
type Controller struct {
	cfg       Config
	logger    zerolog.Logger
	control   *rpc.Client
	sched     *scheduler.PeriodicJob
	tree      *paramtree.Tree
	startTime time.Time
	username  string

	mu                  sync.RWMutex
	ctrlEndpoint        string
	mode                string
	acquisitionComplete bool
	mcaChannels         int
	maxSpectra          int
	useResgrades        bool
	triggerMode         TriggerMode
	configRaw           map[string]any
	configuration       *configuration
	receivers           []*rpc.Client
	processors          []*rpc.Client

	unknownMu    sync.Mutex
	unknownPaths map[string]struct{}
}

// New dials the control endpoint and builds the parameter tree. Polling
// starts on Configure.
func New(cfg Config, logger zerolog.Logger) (*Controller, error) {
	cfg = cfg.withDefaults()
	endpoint, err := transport.NormalizeEndpoint(cfg.Endpoint)
	if err != nil {
		return nil, err
	}
	logger = logger.With().Str("component", "detector").Logger()
	conn, err := cfg.Dial(endpoint, logger)
	if err != nil {
		return nil, fmt.Errorf("detector: dial control %s: %w", endpoint, err)
	}
	c := &Controller{
		cfg:          cfg,
		logger:       logger,
		control:      rpc.NewClient(conn, cfg.Session, logger),
		startTime:    time.Now(),
		username:     currentUser(),
		ctrlEndpoint: endpoint,
		configRaw:    map[string]any{},
		unknownPaths: map[string]struct{}{},
	}
	c.sched = scheduler.NewPeriodicJob("read_config", func(ctx context.Context) error {
		_, err := c.ReadConfig(ctx)
		return err
	}, cfg.PollInterval, cfg.MinPollInterval, logger)
	c.sched.SetGate(c.control.Connected)

	if c.tree, err = paramtree.New(c.buildTree()); err != nil {
		_ = c.control.Close()
		return nil, err
	}
	return c, nil
}

func currentUser() string {
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return os.Getenv("USER")
}

// Tree exposes the parameter namespace.
func (c *Controller) Tree() *paramtree.Tree { return c.tree }

func (c *Controller) Connected() bool { return c.control.Connected() }

// WaitTillConnected blocks until the control connection is up or timeout
// elapses.
func (c *Controller) WaitTillConnected(ctx context.Context, timeout time.Duration) error {
	return c.control.WaitTillConnected(ctx, timeout)
}

// Scheduler exposes the configuration poller.
func (c *Controller) Scheduler() *scheduler.PeriodicJob { return c.sched }

func (c *Controller) Mode() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mode
}

func (c *Controller) AcquisitionComplete() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.acquisitionComplete
}

func (c *Controller) MCAChannels() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mcaChannels
}

// ConfigRaw returns the last configuration snapshot received from the server.
func (c *Controller) ConfigRaw() map[string]any {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.configRaw
}

// Configure records the topology, rebuilds the worker pools and starts
// polling. Calling it again re-arms the initial configuration message.
func (c *Controller) Configure(p ConfigureParams) error {
	size := max(c.cfg.NumProcessMCA, c.cfg.NumProcessList)
	receivers, err := c.dialPool(c.cfg.ReceiverBasePort, size, "receiver")
	if err != nil {
		return err
	}
	processors, err := c.dialPool(c.cfg.ProcessorBasePort, size, "processor")
	if err != nil {
		closePool(receivers)
		return err
	}

	c.mu.Lock()
	oldReceivers, oldProcessors := c.receivers, c.processors
	c.mcaChannels = p.MaxChannels
	c.maxSpectra = p.MaxSpectra
	c.configuration = newConfiguration(p)
	c.receivers, c.processors = receivers, processors
	c.mu.Unlock()
	closePool(oldReceivers)
	closePool(oldProcessors)

	if err := c.tree.Set(GroupConfig, map[string]any{
		KeyMaxChannels: p.MaxChannels,
		KeyRunFlags:    p.RunFlags,
	}); err != nil {
		return err
	}

	c.logger.Info().
		Int("num_cards", p.NumCards).
		Int("max_channels", p.MaxChannels).
		Int("max_spectra", p.MaxSpectra).
		Int("workers", size).
		Msg("configured")
	c.sched.Start()
	return nil
}

func (c *Controller) setup() (*configuration, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.configuration == nil {
		return nil, ErrNotConfigured
	}
	return c.configuration, nil
}

func (c *Controller) pools() ([]*rpc.Client, []*rpc.Client) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.receivers, c.processors
}

// send issues msg on the control connection and fails on NACK.
func (c *Controller) send(ctx context.Context, msg protocol.Message, timeout time.Duration) (protocol.Message, error) {
	return c.control.Call(ctx, msg, timeout)
}

// put sends one key under group as a configure command.
func (c *Controller) put(ctx context.Context, group, key string, value any) (protocol.Message, error) {
	if !c.control.Connected() {
		return protocol.Message{}, fmt.Errorf("%w: control server %s; check that it is running", rpc.ErrNotConnected, c.control.Endpoint())
	}
	return c.send(ctx, groupMessage(group, map[string]any{key: value}), 0)
}

// Reset resends the initial configuration, plus the DAQ enable in mca mode.
func (c *Controller) Reset(ctx context.Context) (protocol.Message, error) {
	conf, err := c.setup()
	if err != nil {
		return protocol.Message{}, err
	}
	resp, err := c.send(ctx, conf.initial, 0)
	if err != nil {
		return resp, fmt.Errorf("detector: reset: %w", err)
	}
	if c.Mode() == ModeMCA {
		if resp, err = c.send(ctx, conf.daq, 0); err != nil {
			return resp, fmt.Errorf("detector: reset daq: %w", err)
		}
	}
	return resp, nil
}

func (c *Controller) settle(ctx context.Context, mode string) error {
	d := c.cfg.SettleMCA
	if mode == ModeList {
		d = c.cfg.SettleList
	}
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (c *Controller) guardIdle() error {
	if !c.AcquisitionComplete() {
		return fmt.Errorf("%w: cannot reconfigure while acquiring", ErrInvalidOperation)
	}
	return nil
}

// Reconfigure tears down and rebuilds the acquisition chain for the current
// mode. It is rejected without any RPC while an acquisition is running; the
// first failing step aborts the sequence.
func (c *Controller) Reconfigure(ctx context.Context) (protocol.Message, error) {
	if err := c.guardIdle(); err != nil {
		return protocol.Message{}, err
	}
	mode := c.Mode()
	if mode != ModeMCA && mode != ModeList {
		return protocol.Message{}, fmt.Errorf("%w: unknown mode %q", ErrInvalidOperation, mode)
	}
	conf, err := c.setup()
	if err != nil {
		return protocol.Message{}, err
	}
	receivers, processors := c.pools()
	log := c.logger.With().Str("mode", mode).Logger()
	log.Info().Msg("reconfigure started")

	step := func(name string, err error) error {
		if err != nil {
			log.Error().Err(err).Str("step", name).Msg("reconfigure aborted")
			return fmt.Errorf("detector: reconfigure %s: %w", name, err)
		}
		log.Debug().Str("step", name).Msg("reconfigure step done")
		return nil
	}

	if _, err := c.Reset(ctx); err != nil {
		return protocol.Message{}, step("reset", err)
	}
	if err := step("settle", c.settle(ctx, mode)); err != nil {
		return protocol.Message{}, err
	}
	if _, err := c.send(ctx, conf.next(), 0); err != nil {
		return protocol.Message{}, step("configuration", err)
	}
	if _, err := c.put(ctx, GroupCommand, CmdDisconnect, 1); err != nil {
		return protocol.Message{}, step("disconnect", err)
	}
	chans := c.MCAChannels()
	if mode == ModeList {
		chans++
	}
	if _, err := c.put(ctx, GroupConfig, KeyMaxChannels, chans); err != nil {
		return protocol.Message{}, step("max_channels", err)
	}
	if err := c.tree.Set(PathMaxChannels, chans); err != nil {
		log.Warn().Err(err).Int("max_channels", chans).Msg("local max_channels not updated")
	}

	rxConfigs, err := c.receiverConfigs(mode)
	if err == nil {
		err = c.fanOut(ctx, receivers, rxConfigs, "receiver")
	}
	if err := step("receivers", err); err != nil {
		return protocol.Message{}, err
	}
	pxConfigs, err := c.processorConfigs(mode)
	if err == nil {
		err = c.fanOut(ctx, processors, pxConfigs, "processor")
	}
	if err := step("processors", err); err != nil {
		return protocol.Message{}, err
	}
	if err := step("settle", c.settle(ctx, mode)); err != nil {
		return protocol.Message{}, err
	}
	resp, err := c.Connect(ctx)
	if err != nil {
		return resp, step("connect", err)
	}
	if mode == ModeMCA {
		if resp, err = c.send(ctx, conf.daq, 0); err != nil {
			return resp, step("daq", err)
		}
	}
	log.Info().Msg("reconfigure complete")
	return resp, nil
}

// Connect asks the control server to connect to the hardware.
func (c *Controller) Connect(ctx context.Context) (protocol.Message, error) {
	msg := groupMessage(GroupCommand, map[string]any{CmdConnect: 1})
	return c.send(ctx, msg, c.cfg.Session.ConnectTimeout)
}

// Acquire starts or stops an acquisition. Starting clears the
// acquisition-complete flag before the command is sent and restores it if
// the command fails.
func (c *Controller) Acquire(ctx context.Context, start bool) (protocol.Message, error) {
	if !start {
		return c.put(ctx, GroupCommand, CmdStop, 1)
	}
	c.mu.Lock()
	prev := c.acquisitionComplete
	c.acquisitionComplete = false
	c.mu.Unlock()
	resp, err := c.put(ctx, GroupCommand, CmdStart, 1)
	if err != nil {
		c.mu.Lock()
		c.acquisitionComplete = prev
		c.mu.Unlock()
	}
	return resp, err
}

// SetMode selects mca for 0 and list for anything else.
func (c *Controller) SetMode(ctx context.Context, value int) (protocol.Message, error) {
	mode := ModeList
	if value == 0 {
		mode = ModeMCA
	}
	return c.put(ctx, GroupConfig, KeyMode, mode)
}

// SetExposure validates seconds against the instrument range before sending.
func (c *Controller) SetExposure(ctx context.Context, seconds float64) (any, error) {
	return c.tree.Put(ctx, PathExposureTime, seconds)
}

// ReadConfig fetches the server's full configuration and mirrors it into the
// tree. Paths the tree does not know are logged once and skipped.
func (c *Controller) ReadConfig(ctx context.Context) (protocol.Message, error) {
	resp, err := c.control.SendRecv(ctx, requestMessage(), 0, rpc.Quiet())
	if err != nil {
		return resp, err
	}
	if err := rpc.CheckAck(resp); err != nil {
		return resp, err
	}
	c.mu.Lock()
	c.configRaw = resp.Params
	c.mu.Unlock()
	c.mirror("", resp.Params)
	return resp, nil
}

func (c *Controller) mirror(path string, value any) {
	if m, ok := value.(map[string]any); ok {
		for k, v := range m {
			c.mirror(strings.TrimPrefix(path+"/"+k, "/"), v)
		}
		return
	}
	if err := c.tree.Set(path, value); err != nil {
		c.unknownMu.Lock()
		_, seen := c.unknownPaths[path]
		c.unknownPaths[path] = struct{}{}
		c.unknownMu.Unlock()
		event := c.logger.Warn()
		if seen {
			event = c.logger.Trace()
		}
		event.Err(err).Str("path", path).Msg("skipping remote parameter")
	}
}

// Get reads a path from the local mirror.
func (c *Controller) Get(path string) (any, error) {
	return c.tree.Get(path)
}

// PutSingle writes one parameter.
func (c *Controller) PutSingle(ctx context.Context, path string, data any) (any, error) {
	resp, err := c.tree.Put(ctx, path, data)
	if err != nil {
		return nil, err
	}
	return render(resp), nil
}

// PutArray writes one element of a list parameter; path ends in the index.
func (c *Controller) PutArray(ctx context.Context, path string, data any) (any, error) {
	trimmed := strings.Trim(path, "/")
	idx := strings.LastIndex(trimmed, "/")
	if _, err := strconv.Atoi(trimmed[idx+1:]); err != nil || idx < 0 {
		return nil, fmt.Errorf("%w: %q has no element index", paramtree.ErrPathNotFound, path)
	}
	resp, err := c.tree.Put(ctx, trimmed, data)
	if err != nil {
		return nil, err
	}
	return render(resp), nil
}

func render(resp any) any {
	switch r := resp.(type) {
	case protocol.Message:
		return r.Map()
	case nil:
		return map[string]any{}
	default:
		return r
	}
}

// Close stops polling and closes every connection. In-flight requests are
// left to time out.
func (c *Controller) Close(ctx context.Context) error {
	stopErr := c.sched.Stop(ctx)
	c.mu.Lock()
	receivers, processors := c.receivers, c.processors
	c.receivers, c.processors = nil, nil
	c.mu.Unlock()
	closePool(receivers)
	closePool(processors)
	return errors.Join(stopErr, c.control.Close())
}

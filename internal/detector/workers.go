package detector

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/danmuck/xspressctl/internal/protocol"
	"github.com/danmuck/xspressctl/internal/rpc"
	"github.com/danmuck/xspressctl/internal/transport"
)

// Fixed receiver and processor layout for mca mode.
const (
	mcaReceiverBasePort = 15150
	mcaDatasetBins      = 4096
	listRecvBufferSize  = 30000000
)

func (c *Controller) dialPool(basePort, size int, role string) ([]*rpc.Client, error) {
	pool := make([]*rpc.Client, 0, size)
	for i := 0; i < size; i++ {
		endpoint := transport.Endpoint(c.cfg.WorkerHost, basePort+c.cfg.WorkerPortStep*i)
		logger := c.logger.With().Str("worker", role).Int("index", i).Logger()
		conn, err := c.cfg.Dial(endpoint, logger)
		if err != nil {
			closePool(pool)
			return nil, fmt.Errorf("detector: dial %s %d: %w", role, i, err)
		}
		pool = append(pool, rpc.NewClient(conn, c.cfg.Session, logger))
	}
	return pool, nil
}

func closePool(pool []*rpc.Client) {
	for _, client := range pool {
		_ = client.Close()
	}
}

func (c *Controller) numChanPerProcessList() int {
	if c.cfg.NumProcessList <= 0 {
		return 0
	}
	return nearestMultOf5Up(c.MCAChannels()) / c.cfg.NumProcessList
}

func (c *Controller) numChanPerProcessMCA() int {
	if c.cfg.NumProcessMCA <= 0 {
		return 0
	}
	return c.MCAChannels() / c.cfg.NumProcessMCA
}

func joinPorts(ports []int) string {
	parts := make([]string, len(ports))
	for i, p := range ports {
		parts[i] = strconv.Itoa(p)
	}
	return strings.Join(parts, ",")
}

// receiverConfigs returns one configure payload per receiver process.
func (c *Controller) receiverConfigs(mode string) ([]map[string]any, error) {
	switch mode {
	case ModeList:
		var endpoints []ReceiverEndpoint
		if c.cfg.NumProcessList == 1 {
			endpoints = []ReceiverEndpoint{ConfigForSingleProcess()}
		} else {
			var err error
			endpoints, err = ListModeIPPortGen(c.numChanPerProcessList(), c.cfg.NumProcessList)
			if err != nil {
				return nil, err
			}
		}
		configs := make([]map[string]any, len(endpoints))
		for i, e := range endpoints {
			configs[i] = map[string]any{
				"rx_ports":            joinPorts(e.Ports),
				"rx_type":             "udp",
				"decoder_type":        "XspressListMode",
				"rx_address":          e.IP,
				"rx_recv_buffer_size": listRecvBufferSize,
			}
		}
		return configs, nil
	case ModeMCA:
		configs := make([]map[string]any, c.cfg.NumProcessMCA)
		for i := range configs {
			configs[i] = map[string]any{
				"rx_ports":     fmt.Sprintf("%d,", mcaReceiverBasePort+i),
				"rx_type":      "zmq",
				"decoder_type": "Xspress",
				"rx_address":   "127.0.0.1",
			}
		}
		return configs, nil
	}
	return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidOperation, mode)
}

// processorConfigs returns one configure payload per processor process. In
// mca mode every channel gets its own dataset on the process that owns it.
func (c *Controller) processorConfigs(mode string) ([]map[string]any, error) {
	switch mode {
	case ModeList:
		configs := make([]map[string]any, c.cfg.NumProcessList)
		for i := range configs {
			configs[i] = map[string]any{"execute": map[string]any{"index": ModeList}}
		}
		return configs, nil
	case ModeMCA:
		datasets := make([]map[string]any, c.cfg.NumProcessMCA)
		configs := make([]map[string]any, c.cfg.NumProcessMCA)
		for i := range configs {
			datasets[i] = map[string]any{}
			configs[i] = map[string]any{
				"execute": map[string]any{"index": ModeMCA},
				"hdf":     map[string]any{"dataset": datasets[i]},
			}
		}
		perProcess := c.numChanPerProcessMCA()
		channels := c.MCAChannels()
		if channels > 0 && perProcess == 0 {
			return nil, fmt.Errorf("%w: %d channels across %d processes", ErrInvalidOperation, channels, c.cfg.NumProcessMCA)
		}
		for ch := 0; ch < channels; ch++ {
			idx := ch / perProcess
			if idx >= len(datasets) {
				return nil, fmt.Errorf("%w: %d channels do not split evenly across %d processes", ErrInvalidOperation, channels, c.cfg.NumProcessMCA)
			}
			datasets[idx][fmt.Sprintf("mca_%d", ch)] = map[string]any{
				"dims":   []any{1, mcaDatasetBins},
				"chunks": []any{1, 1, mcaDatasetBins},
			}
		}
		return configs, nil
	}
	return nil, fmt.Errorf("%w: unknown mode %q", ErrInvalidOperation, mode)
}

// fanOut sends configs[i] to pool[i] concurrently and joins before returning.
// The first failure cancels the rest.
func (c *Controller) fanOut(ctx context.Context, pool []*rpc.Client, configs []map[string]any, role string) error {
	if len(configs) > len(pool) {
		return fmt.Errorf("%w: %d %s configs for %d clients", ErrInvalidOperation, len(configs), role, len(pool))
	}
	g, gctx := errgroup.WithContext(ctx)
	for i, params := range configs {
		client := pool[i]
		g.Go(func() error {
			if err := client.WaitTillConnected(gctx, c.cfg.Session.WorkerConnectTimeout); err != nil {
				return fmt.Errorf("%s %d: %w", role, i, err)
			}
			msg := protocol.NewCommand(protocol.ValueConfigure)
			msg.SetParams(params)
			if _, err := client.Call(gctx, msg, 0); err != nil {
				return fmt.Errorf("%s %d: %w", role, i, err)
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	c.logger.Info().Str("role", role).Int("workers", len(configs)).Msg("workers configured")
	return nil
}

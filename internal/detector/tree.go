package detector

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/rs/zerolog"

	"github.com/danmuck/xspressctl/internal/paramtree"
)

const (
	apiVersion      = "0.1"
	startTimeLayout = "January 02, 2006 15:04:05"
	bytesPerPoint   = 4
	manufacturer    = "Quantum Detectors"
	model           = "Xspress 3"
)

// remote returns a putter that sends value under group/key.
func (c *Controller) remote(group, key string) paramtree.Putter {
	return func(ctx context.Context, value any) (any, error) {
		return c.put(ctx, group, key, value)
	}
}

// remoteCommit is remote followed by commit of the sent value once the
// server acknowledges it.
func (c *Controller) remoteCommit(group, key string, commit func(any) error) paramtree.Putter {
	put := c.remote(group, key)
	return func(ctx context.Context, value any) (any, error) {
		resp, err := put(ctx, value)
		if err != nil {
			return resp, err
		}
		return resp, commit(value)
	}
}

func validTriggerMode(value any) error {
	if _, err := ParseTriggerMode(value); err != nil {
		return fmt.Errorf("%w: %w", paramtree.ErrValidation, err)
	}
	return nil
}

func (c *Controller) setTriggerMode(value any) error {
	m, err := ParseTriggerMode(value)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.triggerMode = m
	c.mu.Unlock()
	return nil
}

func (c *Controller) sensor() (height, width int) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.mcaChannels, c.maxSpectra
}

// validLogLevel accepts zerolog levels from trace (-1) to disabled (7).
func validLogLevel(value any) error {
	if i, ok := value.(int); ok && i >= int(zerolog.TraceLevel) && i <= int(zerolog.Disabled) {
		return nil
	}
	return fmt.Errorf("%w: log level %v", paramtree.ErrValidation, value)
}

func (c *Controller) buildTree() map[string]any {
	setMCAChannels := func(v any) error {
		c.mu.Lock()
		c.mcaChannels = v.(int)
		c.mu.Unlock()
		return nil
	}
	setMaxSpectra := func(v any) error {
		c.mu.Lock()
		c.maxSpectra = v.(int)
		c.mu.Unlock()
		return nil
	}
	setUseResgrades := func(v any) error {
		c.mu.Lock()
		c.useResgrades = v.(bool)
		c.mu.Unlock()
		return nil
	}

	config := map[string]any{
		KeyModeControl: paramtree.NewWriteOnly(paramtree.KindInt, func(ctx context.Context, v any) (any, error) {
			return c.SetMode(ctx, v.(int))
		}),
		KeyMode: paramtree.NewVirtual(paramtree.KindString,
			func() any { return c.Mode() },
			func(v any) error {
				c.mu.Lock()
				c.mode = v.(string)
				c.mu.Unlock()
				return nil
			},
			nil, paramtree.OneOf("", ModeMCA, ModeList)),
		KeyNumCards:    paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyNumCards)),
		KeyNumTF:       paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyNumTF)),
		KeyBaseIP:      paramtree.NewValue(paramtree.KindString, "", c.remote(GroupConfig, KeyBaseIP)),
		KeyMaxChannels: paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyMaxChannels)),
		KeyMCAChannels: paramtree.NewVirtual(paramtree.KindInt,
			func() any { return c.MCAChannels() },
			setMCAChannels,
			c.remoteCommit(GroupConfig, KeyMCAChannels, setMCAChannels)),
		KeyMaxSpectra: paramtree.NewVirtual(paramtree.KindInt,
			func() any {
				_, width := c.sensor()
				return width
			},
			setMaxSpectra,
			c.remoteCommit(GroupConfig, KeyMaxSpectra, setMaxSpectra)),
		KeyUseResgrades: paramtree.NewVirtual(paramtree.KindBool,
			func() any {
				c.mu.RLock()
				defer c.mu.RUnlock()
				return c.useResgrades
			},
			setUseResgrades,
			c.remoteCommit(GroupConfig, KeyUseResgrades, setUseResgrades)),
		KeyDebug:        paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyDebug)),
		KeyConfigPath:   paramtree.NewValue(paramtree.KindString, "", c.remote(GroupConfig, KeyConfigPath)),
		KeySavePath:     paramtree.NewValue(paramtree.KindString, "", c.remote(GroupConfig, KeySavePath)),
		KeyRunFlags:     paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyRunFlags)),
		KeyDTCEnergy:    paramtree.NewValue(paramtree.KindFloat, 0.0, c.remote(GroupConfig, KeyDTCEnergy)),
		KeyTriggerMode: paramtree.NewVirtual(paramtree.KindAny,
			func() any {
				c.mu.RLock()
				defer c.mu.RUnlock()
				return int(c.triggerMode)
			},
			c.setTriggerMode,
			func(ctx context.Context, v any) (any, error) {
				m, _ := ParseTriggerMode(v)
				resp, err := c.put(ctx, GroupConfig, KeyTriggerMode, int(m))
				if err != nil {
					return resp, err
				}
				return resp, c.setTriggerMode(m)
			}, validTriggerMode),
		KeyInvertF0:     paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyInvertF0)),
		KeyInvertVeto:   paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyInvertVeto)),
		KeyDebounce:     paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupConfig, KeyDebounce)),
		KeyExposureTime: paramtree.NewValue(paramtree.KindFloat, 1.0, c.remote(GroupConfig, KeyExposureTime), paramtree.Bound(ExposureLowerLimit, ExposureUpperLimit)),
		KeyNumImages:    paramtree.NewValue(paramtree.KindInt, 1, c.remote(GroupConfig, KeyNumImages), paramtree.IsPositive),
	}
	for _, key := range scaLists {
		config[key] = paramtree.NewList(paramtree.KindNumberList, nil, c.remote(GroupConfig, key))
	}
	for _, key := range dtcLists {
		config[key] = paramtree.NewList(paramtree.KindList, nil, nil)
	}

	status := map[string]any{
		"sensor": map[string]any{
			"height": paramtree.NewReadOnly(paramtree.KindInt, func() any {
				height, _ := c.sensor()
				return height
			}),
			"width": paramtree.NewReadOnly(paramtree.KindInt, func() any {
				_, width := c.sensor()
				return width
			}),
			"bytes": paramtree.NewReadOnly(paramtree.KindInt, func() any {
				height, width := c.sensor()
				return height * width * bytesPerPoint
			}),
		},
		"manufacturer": paramtree.Const(paramtree.KindString, manufacturer),
		"model":        paramtree.Const(paramtree.KindString, model),
		"acquisition_complete": paramtree.NewVirtual(paramtree.KindBool,
			func() any { return c.AcquisitionComplete() },
			func(v any) error {
				c.mu.Lock()
				c.acquisitionComplete = v.(bool)
				c.mu.Unlock()
				return nil
			}, nil),
		"frames_acquired":    paramtree.NewMirror(paramtree.KindInt, 0),
		"error":              paramtree.NewMirror(paramtree.KindString, ""),
		"state":              paramtree.NewMirror(paramtree.KindString, ""),
		"connected":          paramtree.NewMirror(paramtree.KindBool, false),
		"reconnect_required": paramtree.NewMirror(paramtree.KindBool, false),
	}
	for _, key := range statusLists {
		status[key] = paramtree.NewList(paramtree.KindList, nil, nil)
	}

	command := map[string]any{
		CmdConnect: paramtree.NewWriteOnly(paramtree.KindAny, func(ctx context.Context, _ any) (any, error) {
			return c.Connect(ctx)
		}),
		CmdStartAcquisition: paramtree.NewWriteOnly(paramtree.KindAny, func(ctx context.Context, _ any) (any, error) {
			return c.Acquire(ctx, true)
		}),
		CmdStopAcquisition: paramtree.NewWriteOnly(paramtree.KindAny, func(ctx context.Context, _ any) (any, error) {
			return c.Acquire(ctx, false)
		}),
		CmdReconfigure: paramtree.NewWriteOnly(paramtree.KindAny, func(ctx context.Context, _ any) (any, error) {
			return c.Reconfigure(ctx)
		}, paramtree.Guard(c.guardIdle)),
	}
	for _, key := range []string{CmdDisconnect, CmdSave, CmdRestore, CmdStart, CmdStop, CmdTrigger} {
		command[key] = paramtree.NewWriteOnly(paramtree.KindAny, c.remote(GroupCommand, key))
	}

	version := map[string]any{}
	for _, key := range []string{"full", "major", "minor", "patch", "short"} {
		version[key] = paramtree.NewMirror(paramtree.KindAny, "")
	}

	return map[string]any{
		TreeAPI: paramtree.NewMirror(paramtree.KindString, apiVersion),
		GroupApp: map[string]any{
			KeyAppDebug: paramtree.NewValue(paramtree.KindInt, 0, c.remote(GroupApp, KeyAppDebug)),
			KeyAppCtrlEndpoint: paramtree.NewVirtual(paramtree.KindString,
				func() any {
					c.mu.RLock()
					defer c.mu.RUnlock()
					return c.ctrlEndpoint
				},
				func(v any) error {
					c.mu.Lock()
					c.ctrlEndpoint = v.(string)
					c.mu.Unlock()
					return nil
				},
				c.remote(GroupApp, KeyAppCtrlEndpoint)),
			KeyAppShutdown: paramtree.NewWriteOnly(paramtree.KindAny, c.remote(GroupApp, KeyAppShutdown)),
		},
		GroupDAQ: map[string]any{
			KeyDAQEnabled:   paramtree.NewValue(paramtree.KindBool, false, c.remote(GroupDAQ, KeyDAQEnabled)),
			KeyDAQEndpoints: paramtree.NewList(paramtree.KindStringList, nil, nil),
		},
		TreeRequestConfiguration: paramtree.NewWriteOnly(paramtree.KindAny, func(ctx context.Context, _ any) (any, error) {
			return c.ReadConfig(ctx)
		}),
		TreeAdapter: map[string]any{
			"start_time": paramtree.Const(paramtree.KindString, c.startTime.Format(startTimeLayout)),
			"up_time": paramtree.NewReadOnly(paramtree.KindString, func() any {
				return strings.TrimSpace(humanize.RelTime(c.startTime, time.Now(), "", ""))
			}),
			"connected": paramtree.NewReadOnly(paramtree.KindBool, func() any { return c.Connected() }),
			"username":  paramtree.Const(paramtree.KindString, c.username),
			"scan": paramtree.NewVirtual(paramtree.KindFloat,
				func() any { return c.sched.Interval().Seconds() },
				nil,
				func(_ context.Context, v any) (any, error) {
					d := c.sched.SetInterval(time.Duration(v.(float64) * float64(time.Second)))
					return d.Seconds(), nil
				}, paramtree.IsPositive),
			"config_raw": paramtree.NewReadOnly(paramtree.KindObject, func() any { return c.ConfigRaw() }),
			"debug_level": paramtree.NewVirtual(paramtree.KindInt,
				func() any { return int(zerolog.GlobalLevel()) },
				nil,
				func(_ context.Context, v any) (any, error) {
					zerolog.SetGlobalLevel(zerolog.Level(v.(int)))
					return v, nil
				}, validLogLevel),
			"update": paramtree.NewWriteOnly(paramtree.KindBool, func(_ context.Context, v any) (any, error) {
				if v.(bool) {
					c.sched.Start()
				} else {
					_ = c.sched.Stop(context.Background())
				}
				return c.sched.Running(), nil
			}),
			"reset": paramtree.NewWriteOnly(paramtree.KindAny, func(ctx context.Context, _ any) (any, error) {
				return c.Reset(ctx)
			}),
		},
		TreeStatus:   status,
		GroupConfig:  config,
		GroupCommand: command,
		TreeVersion:  map[string]any{"xspress-detector": version},
		TreeProcess: map[string]any{
			"num_mca":  paramtree.Const(paramtree.KindInt, c.cfg.NumProcessMCA),
			"num_list": paramtree.Const(paramtree.KindInt, c.cfg.NumProcessList),
			"num_chan_mca": paramtree.NewReadOnly(paramtree.KindInt, func() any {
				return c.numChanPerProcessMCA()
			}),
			"num_chan_list": paramtree.NewReadOnly(paramtree.KindInt, func() any {
				return c.numChanPerProcessList()
			}),
		},
	}
}

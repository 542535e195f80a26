package detector

import (
	"sync"

	"github.com/danmuck/xspressctl/internal/protocol"
)

// groupMessage builds a configure command carrying params under group.
func groupMessage(group string, params map[string]any) protocol.Message {
	msg := protocol.NewCommand(protocol.ValueConfigure)
	msg.SetParam(group, params)
	return msg
}

func requestMessage() protocol.Message {
	return protocol.NewCommand(protocol.ValueRequestConfiguration)
}

// configuration holds the three setup messages built by Configure. The first
// call to next returns the full initial message; later calls return the
// reduced re-configuration message.
type configuration struct {
	initial  protocol.Message
	reconfig protocol.Message
	daq      protocol.Message

	once sync.Once
}

func newConfiguration(p ConfigureParams) *configuration {
	endpoints := make([]any, len(p.DAQEndpoints))
	for i, e := range p.DAQEndpoints {
		endpoints[i] = e
	}
	return &configuration{
		initial: groupMessage(GroupConfig, map[string]any{
			KeyNumCards:    p.NumCards,
			KeyNumTF:       p.NumTF,
			KeyBaseIP:      p.BaseIP,
			KeyMaxChannels: p.MaxChannels,
			KeyMCAChannels: p.MaxChannels,
			KeyMaxSpectra:  p.MaxSpectra,
			KeyConfigPath:  p.SettingsPath,
			KeyDebug:       p.Debug,
		}),
		reconfig: groupMessage(GroupConfig, map[string]any{
			KeyNumCards:   p.NumCards,
			KeyBaseIP:     p.BaseIP,
			KeyMaxSpectra: p.MaxSpectra,
		}),
		daq: groupMessage(GroupDAQ, map[string]any{
			KeyDAQEndpoints: endpoints,
			KeyDAQEnabled:   true,
		}),
	}
}

func (c *configuration) next() protocol.Message {
	msg := c.reconfig
	c.once.Do(func() { msg = c.initial })
	return msg
}

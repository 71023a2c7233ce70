package history

// Channel names a rolling metric series.
type Channel string

const (
	ChannelCPU     Channel = "cpu"
	ChannelRAM     Channel = "ram"
	ChannelNetDown Channel = "net_down"
	ChannelNetUp   Channel = "net_up"
)

// Channels groups the per-metric buffers fed once per refresh cycle.
type Channels struct {
	CPU     *Buffer[float64]
	RAM     *Buffer[float64]
	NetDown *Buffer[float64]
	NetUp   *Buffer[float64]
}

// NewChannels allocates one buffer of the given capacity per channel.
func NewChannels(capacity int) *Channels {
	return &Channels{
		CPU:     NewBuffer[float64](capacity),
		RAM:     NewBuffer[float64](capacity),
		NetDown: NewBuffer[float64](capacity),
		NetUp:   NewBuffer[float64](capacity),
	}
}

// Window is a point-in-time copy of every channel.
type Window struct {
	CPU     []float64 `json:"cpu"`
	RAM     []float64 `json:"ram"`
	NetDown []float64 `json:"net_down"`
	NetUp   []float64 `json:"net_up"`
}

// Window copies all channels. Each channel is copied under its own lock, so
// the channels may be one push apart if a sample lands mid-copy.
func (c *Channels) Window() Window {
	return Window{
		CPU:     c.CPU.Values(),
		RAM:     c.RAM.Values(),
		NetDown: c.NetDown.Values(),
		NetUp:   c.NetUp.Values(),
	}
}

// Get returns the buffer for a named channel, or nil if unknown.
func (c *Channels) Get(ch Channel) *Buffer[float64] {
	switch ch {
	case ChannelCPU:
		return c.CPU
	case ChannelRAM:
		return c.RAM
	case ChannelNetDown:
		return c.NetDown
	case ChannelNetUp:
		return c.NetUp
	default:
		return nil
	}
}

package dispatch

import "sync"

const (
	DefaultChannelID   = "ride-requests"
	DefaultChannelName = "Ride requests"
)

// Channel is the process-wide notification channel every dispatcher tags
// its payloads with.
type Channel struct {
	ID         string `json:"id"`
	Name       string `json:"name"`
	Importance string `json:"importance"`
}

var (
	channelOnce sync.Once
	channelMu   sync.RWMutex
	channel     Channel
	channelSet  bool
)

// InitChannel registers the notification channel. Only the first call in a
// process has an effect; later calls are no-ops that return the channel
// registered first.
func InitChannel(c Channel) Channel {
	channelOnce.Do(func() {
		if c.ID == "" {
			c.ID = DefaultChannelID
		}
		if c.Name == "" {
			c.Name = DefaultChannelName
		}
		if c.Importance == "" {
			c.Importance = "high"
		}
		channelMu.Lock()
		channel = c
		channelSet = true
		channelMu.Unlock()
	})
	return CurrentChannel()
}

// CurrentChannel returns the registered channel, or the zero Channel before
// InitChannel has run.
func CurrentChannel() Channel {
	channelMu.RLock()
	defer channelMu.RUnlock()
	return channel
}

// ChannelReady reports whether InitChannel has run.
func ChannelReady() bool {
	channelMu.RLock()
	defer channelMu.RUnlock()
	return channelSet
}

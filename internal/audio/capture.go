// Package audio captures microphone input as fixed-size blocks ready for a
// VAD session.
package audio

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gordonklaus/portaudio"
)

// Block is one fixed-length run of mono float32 samples from a source.
type Block struct {
	Samples   []float32
	Source    string
	Timestamp int64
}

// Capturer reads the best available microphone in blockSize chunks. When the
// consumer falls behind, blocks are dropped rather than queued.
type Capturer struct {
	sampleRate   int
	blockSize    int
	excludedDevs []string
	outCh        chan Block

	mu      sync.Mutex
	running bool
	device  *deviceCapture
	dropped atomic.Int64
}

type deviceCapture struct {
	stream   *portaudio.Stream
	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// NewCapturer initialises PortAudio. bufferBlocks sizes the output channel.
func NewCapturer(sampleRate, blockSize, bufferBlocks int, excludedDevices []string) (*Capturer, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, err
	}
	return &Capturer{
		sampleRate:   sampleRate,
		blockSize:    blockSize,
		excludedDevs: excludedDevices,
		outCh:        make(chan Block, bufferBlocks),
	}, nil
}

// Output returns the channel of captured blocks. It is closed by Stop.
func (c *Capturer) Output() <-chan Block { return c.outCh }

// Dropped returns how many blocks were discarded because Output was full.
func (c *Capturer) Dropped() int64 { return c.dropped.Load() }

// Start opens the preferred input device and begins reading.
func (c *Capturer) Start(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.running {
		return nil
	}

	devices, err := portaudio.Devices()
	if err != nil {
		return err
	}
	names := make([]string, 0, len(devices))
	inputs := make(map[string]*portaudio.DeviceInfo, len(devices))
	for _, dev := range devices {
		if dev.MaxInputChannels < 1 {
			continue
		}
		names = append(names, dev.Name)
		inputs[dev.Name] = dev
	}

	var dev *portaudio.DeviceInfo
	if name, ok := pickMicrophone(names, c.excludedDevs); ok {
		dev = inputs[name]
	} else if dev, err = portaudio.DefaultInputDevice(); err != nil {
		return err
	}

	dc, err := c.open(ctx, dev)
	if err != nil {
		return err
	}
	c.device = dc
	c.running = true
	slog.Info("started audio capture", "device", dev.Name, "sample_rate", c.sampleRate, "block_size", c.blockSize)
	return nil
}

func (c *Capturer) open(ctx context.Context, dev *portaudio.DeviceInfo) (*deviceCapture, error) {
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(c.sampleRate),
		FramesPerBuffer: c.blockSize,
	}

	buf := make([]float32, c.blockSize)
	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		return nil, err
	}
	if err := stream.Start(); err != nil {
		stream.Close()
		return nil, err
	}

	devCtx, cancel := context.WithCancel(ctx)
	dc := &deviceCapture{stream: stream, cancel: cancel, done: make(chan struct{})}
	deviceID := dev.Name

	go func() {
		defer close(dc.done)
		for devCtx.Err() == nil {
			if err := stream.Read(); err != nil {
				slog.Debug("audio read error", "device", deviceID, "error", err)
				return
			}
			c.emit(Block{
				Samples:   append([]float32(nil), buf...),
				Source:    deviceID,
				Timestamp: time.Now().UnixNano(),
			})
		}
	}()
	return dc, nil
}

func (c *Capturer) emit(b Block) {
	select {
	case c.outCh <- b:
	default:
		if n := c.dropped.Add(1); n == 1 || n%100 == 0 {
			slog.Warn("audio buffer full, dropping blocks", "device", b.Source, "dropped", n)
		}
	}
}

func (d *deviceCapture) stop() {
	d.stopOnce.Do(func() {
		d.cancel()
		_ = d.stream.Stop()
		<-d.done
		_ = d.stream.Close()
	})
}

// Stop closes the device, closes Output and releases PortAudio.
func (c *Capturer) Stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.running {
		return
	}
	c.device.stop()
	c.device = nil
	c.running = false
	close(c.outCh)
	_ = portaudio.Terminate()
}

var (
	loopbackKeywords = []string{"blackhole", "vb-cable", "loopback", "monitor", "soundflower"}
	micKeywords      = []string{"microphone", "input", "mic", "built-in"}
	preferredMics    = []string{"macbook", "built-in"}
)

// pickMicrophone chooses the best microphone from device names: loopback and
// excluded devices are skipped, built-in microphones win.
func pickMicrophone(names, excluded []string) (string, bool) {
	best := ""
	for _, name := range names {
		if containsAny(name, excluded) || containsAny(name, loopbackKeywords) || !containsAny(name, micKeywords) {
			continue
		}
		if best == "" || (containsAny(name, preferredMics) && !containsAny(best, preferredMics)) {
			best = name
		}
	}
	return best, best != ""
}

func containsAny(s string, keywords []string) bool {
	s = strings.ToLower(s)
	for _, kw := range keywords {
		if strings.Contains(s, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}

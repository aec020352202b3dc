package torrent

import (
	"errors"
	"io/ioutil"
	"os"
	"time"

	"github.com/mitchellh/go-homedir"
	"gopkg.in/yaml.v2"
)

// Speed limits are in KB/s. Non-zero limits below minSpeedLimit are raised to it and
// limits above speedLimitStep are rounded down to a multiple of it.
const (
	minSpeedLimit  = 16
	speedLimitStep = 512
)

// Config for Session.
type Config struct {
	// Database file to save resume data.
	Database string `yaml:"database"`
	// DataDir is where files are downloaded.
	DataDir string `yaml:"data-dir"`
	// New torrents will be listened at selected port in this range.
	PortBegin uint16 `yaml:"port-begin"`
	PortEnd   uint16 `yaml:"port-end"`

	// Number of tasks downloading at the same time. Others wait in the queue.
	MaxConcurrentTasks int `yaml:"max-concurrent-tasks"`
	// Global speed limits in KB/s, 0 for unlimited.
	SpeedLimitDownload int64 `yaml:"speed-limit-download"`
	SpeedLimitUpload   int64 `yaml:"speed-limit-upload"`
	// Speed limits of each task in KB/s, 0 for unlimited.
	TaskSpeedLimitDownload int64 `yaml:"task-speed-limit-download"`
	TaskSpeedLimitUpload   int64 `yaml:"task-speed-limit-upload"`
	// Memory for staging blocks of pieces that are not verified yet, in MB.
	MemoryBufferSize int64 `yaml:"memory-buffer-size"`
	// Send a notification when a task completes.
	NotifyOnComplete bool `yaml:"notify-on-complete"`
	// Keep uploading after a task completes until it is paused.
	Seed bool `yaml:"seed"`

	// Enables the DHT node and announces torrents to it.
	DHTEnabled bool `yaml:"dht-enabled"`
	// DHT node will listen on this IP.
	DHTAddress string `yaml:"dht-address"`
	// DHT node will listen on this UDP port.
	DHTPort uint16 `yaml:"dht-port"`
	// DHT announce interval.
	DHTAnnounceInterval time.Duration `yaml:"dht-announce-interval"`
	// Minimum announce interval when asking more peers from DHT.
	DHTMinAnnounceInterval time.Duration `yaml:"dht-min-announce-interval"`

	// Announce torrents to the local network and accept announcements of others.
	LSDEnabled bool `yaml:"lsd-enabled"`
	// Exchange peer addresses with connected peers.
	PEXEnabled bool `yaml:"pex-enabled"`

	// Number of peer addresses to request in announce request.
	TrackerNumWant int `yaml:"tracker-num-want"`
	// Time to wait for announcing stopped event.
	TrackerStopTimeout time.Duration `yaml:"tracker-stop-timeout"`
	// When the client needs new peer addresses to connect, it asks to the tracker.
	// To prevent spamming the tracker an interval is set to wait before the next announce.
	TrackerMinAnnounceInterval time.Duration `yaml:"tracker-min-announce-interval"`
	// Total time to wait for response to be read from HTTP trackers.
	TrackerHTTPTimeout time.Duration `yaml:"tracker-http-timeout"`
	// User agent sent when communicating with HTTP trackers.
	TrackerHTTPUserAgent string `yaml:"tracker-http-user-agent"`
	// Max number of bytes in a tracker response.
	TrackerHTTPMaxResponseSize int64 `yaml:"tracker-http-max-response-size"`
	// Timeout for resolving tracker host names.
	DNSResolveTimeout time.Duration `yaml:"dns-resolve-timeout"`
	// First retransmission interval of UDP tracker requests.
	UDPTrackerRetransmit time.Duration `yaml:"udp-tracker-retransmit"`

	// Number of peer connections kept for a task.
	MaxPeers int `yaml:"max-peers"`
	// Max number of outgoing connections being dialed at the same time.
	MaxPeerDial int `yaml:"max-peer-dial"`
	// Max number of incoming connections.
	MaxPeerAccept int `yaml:"max-peer-accept"`
	// Max number of peer addresses kept for dialing.
	MaxPeerAddresses int `yaml:"max-peer-addresses"`
	// Time to wait for TCP connection to open.
	PeerConnectTimeout time.Duration `yaml:"peer-connect-timeout"`
	// Time to wait for BitTorrent handshake to complete.
	PeerHandshakeTimeout time.Duration `yaml:"peer-handshake-timeout"`
	// Connection is closed if no bytes are received from the peer for this duration.
	PeerReadTimeout time.Duration `yaml:"peer-read-timeout"`
	// Keepalive message is sent after this duration of inactivity.
	PeerKeepAlivePeriod time.Duration `yaml:"peer-keep-alive-period"`
	// A failed address is not dialed again before this duration.
	PeerRetryAfter time.Duration `yaml:"peer-retry-after"`

	// Number of peers that are unchoked by their speed.
	UnchokedPeers int `yaml:"unchoked-peers"`
	// Number of random peers that are unchoked every 30 seconds.
	OptimisticUnchokedPeers int `yaml:"optimistic-unchoked-peers"`
	// Max number of blocks requested from a peer but not received yet.
	RequestQueueLength int `yaml:"request-queue-length"`
	// Max number of blocks requested by a peer that are not sent yet.
	MaxRequestsIn int `yaml:"max-requests-in"`
	// A request is sent again after this duration, and failed after twice of it.
	RequestTimeout time.Duration `yaml:"request-timeout"`
	// Max number of peers a block is requested from in endgame mode.
	EndgameMaxDuplicateDownloads int `yaml:"endgame-max-duplicate-downloads"`
	// A peer contributing to this many corrupt pieces is disconnected and not dialed again.
	MaxHashFailures int `yaml:"max-hash-failures"`

	// Bitfield is saved to the database at this interval while downloading.
	BitfieldWriteInterval time.Duration `yaml:"bitfield-write-interval"`
	// Transfer stats are saved to the database at this interval.
	StatsWriteInterval time.Duration `yaml:"stats-write-interval"`
	// Max size of a torrent file.
	MaxTorrentSize int64 `yaml:"max-torrent-size"`
}

// DefaultConfig for Session.
var DefaultConfig = Config{
	Database:           "~/.swarmget/resume.db",
	DataDir:            "~/swarmget-downloads",
	PortBegin:          50000,
	PortEnd:            60000,
	MaxConcurrentTasks: 3,
	MemoryBufferSize:   64,
	NotifyOnComplete:   true,

	DHTEnabled:             true,
	DHTAddress:             "0.0.0.0",
	DHTPort:                7246,
	DHTAnnounceInterval:    30 * time.Minute,
	DHTMinAnnounceInterval: time.Minute,
	LSDEnabled:             true,
	PEXEnabled:             true,

	TrackerNumWant:             200,
	TrackerStopTimeout:         5 * time.Second,
	TrackerMinAnnounceInterval: time.Minute,
	TrackerHTTPTimeout:         10 * time.Second,
	TrackerHTTPUserAgent:       "swarmget/" + Version,
	TrackerHTTPMaxResponseSize: 2 << 20,
	DNSResolveTimeout:          5 * time.Second,
	UDPTrackerRetransmit:       15 * time.Second,

	MaxPeers:             80,
	MaxPeerDial:          40,
	MaxPeerAccept:        40,
	MaxPeerAddresses:     2000,
	PeerConnectTimeout:   5 * time.Second,
	PeerHandshakeTimeout: 10 * time.Second,
	PeerReadTimeout:      2 * time.Minute,
	PeerKeepAlivePeriod:  time.Minute,
	PeerRetryAfter:       10 * time.Minute,

	UnchokedPeers:                3,
	OptimisticUnchokedPeers:      1,
	RequestQueueLength:           50,
	MaxRequestsIn:                250,
	RequestTimeout:               20 * time.Second,
	EndgameMaxDuplicateDownloads: 2,
	MaxHashFailures:              3,

	BitfieldWriteInterval: 30 * time.Second,
	StatsWriteInterval:    30 * time.Second,
	MaxTorrentSize:        10 << 20,
}

// LoadConfig reads the YAML file at filename over DefaultConfig.
// A missing file is not an error.
func LoadConfig(filename string) (*Config, error) {
	c := DefaultConfig
	filename, err := homedir.Expand(filename)
	if err != nil {
		return nil, err
	}
	b, err := ioutil.ReadFile(filename) // nolint: gosec
	if os.IsNotExist(err) {
		return &c, nil
	}
	if err != nil {
		return nil, err
	}
	if err = yaml.Unmarshal(b, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// Sanitize clamps values to their allowed ranges.
func (c *Config) Sanitize() {
	if c.MaxConcurrentTasks <= 0 {
		c.MaxConcurrentTasks = 1
	}
	c.SpeedLimitDownload = sanitizeSpeedLimit(c.SpeedLimitDownload)
	c.SpeedLimitUpload = sanitizeSpeedLimit(c.SpeedLimitUpload)
	c.TaskSpeedLimitDownload = sanitizeSpeedLimit(c.TaskSpeedLimitDownload)
	c.TaskSpeedLimitUpload = sanitizeSpeedLimit(c.TaskSpeedLimitUpload)
	if c.MemoryBufferSize <= 0 {
		c.MemoryBufferSize = DefaultConfig.MemoryBufferSize
	}
}

func sanitizeSpeedLimit(kb int64) int64 {
	switch {
	case kb <= 0:
		return 0
	case kb < minSpeedLimit:
		return minSpeedLimit
	case kb > speedLimitStep:
		return kb / speedLimitStep * speedLimitStep
	default:
		return kb
	}
}

var errInvalidPortRange = errors.New("invalid port range")

func (c *Config) validate() error {
	if c.PortBegin >= c.PortEnd {
		return errInvalidPortRange
	}
	return nil
}

// SpeedLimits are the rate limits that can be changed while the session is running, in KB/s.
type SpeedLimits struct {
	Download     int64
	Upload       int64
	TaskDownload int64
	TaskUpload   int64
}

func (c *Config) speedLimits() SpeedLimits {
	return SpeedLimits{
		Download:     c.SpeedLimitDownload,
		Upload:       c.SpeedLimitUpload,
		TaskDownload: c.TaskSpeedLimitDownload,
		TaskUpload:   c.TaskSpeedLimitUpload,
	}
}

// rate returns bytes/s and burst for a limit in KB/s.
func rate(kb int64) (int64, int64) {
	if kb <= 0 {
		return 0, 0
	}
	r := kb * 1024
	return r, r
}

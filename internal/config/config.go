package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"
)

const (
	DefaultBufferSize = 32 * 1024
	minBufferSize     = 1024
	maxBufferSize     = 1 << 20
)

type Config struct {
	Host       string        `json:"host"`
	Port       int           `json:"port"`
	PublicHost string        `json:"public_host"`
	WebRoot    string        `json:"web_root"`
	MediaExts  []string      `json:"media_exts"`
	AppAgents  []string      `json:"app_agents"`
	IndexFiles bool          `json:"index_files"`
	BufferSize int           `json:"buffer_size"`
	MaxConns   int           `json:"max_conns"`
	ListingTTL time.Duration `json:"listing_ttl"`
	DataDir    string        `json:"data_dir"`
}

func defaults() *Config {
	webRoot := "."
	if home, err := os.UserHomeDir(); err == nil {
		webRoot = filepath.Join(home, "Movies")
	}

	return &Config{
		Host:       "127.0.0.1",
		Port:       3000,
		WebRoot:    webRoot,
		MediaExts:  []string{".mp4"},
		AppAgents:  []string{"okhttp"},
		BufferSize: DefaultBufferSize,
	}
}

// Load reads the configuration from the command line and the environment.
func Load() *Config {
	config, _ := LoadFrom(flag.CommandLine, os.Args[1:])
	return config
}

// LoadFrom registers the configuration flags on fs, parses args and then
// applies environment overrides.
func LoadFrom(fs *flag.FlagSet, args []string) (*Config, error) {
	config := defaults()
	exts := strings.Join(config.MediaExts, ",")
	agents := strings.Join(config.AppAgents, ",")

	fs.StringVar(&config.Host, "host", config.Host, "Address to bind and advertise")
	fs.IntVar(&config.Port, "port", config.Port, "Port to listen on")
	fs.StringVar(&config.PublicHost, "public-host", config.PublicHost, "Host name used in listing URLs (defaults to -host)")
	fs.StringVar(&config.WebRoot, "root", config.WebRoot, "Directory to serve")
	fs.StringVar(&exts, "ext", exts, "Comma-separated media file extensions")
	fs.StringVar(&agents, "app-agents", agents, "Comma-separated User-Agent tokens that get JSON listings")
	fs.BoolVar(&config.IndexFiles, "index", config.IndexFiles, "Serve index.html/index.htm instead of listing directories")
	fs.IntVar(&config.BufferSize, "buffer", config.BufferSize, "Copy buffer size in bytes")
	fs.IntVar(&config.MaxConns, "max-conns", config.MaxConns, "Maximum simultaneous connections (0 = unlimited)")
	fs.DurationVar(&config.ListingTTL, "listing-ttl", config.ListingTTL, "How long recursive media scans are cached (0 = disabled)")
	fs.StringVar(&config.DataDir, "data-dir", config.DataDir, "Directory for access statistics (empty = disabled)")
	if err := fs.Parse(args); err != nil {
		return config, err
	}

	// Override with environment variables
	if host := os.Getenv("HOST"); host != "" {
		config.Host = host
	}
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			config.Port = p
		}
	}
	if publicHost := os.Getenv("PUBLIC_HOST"); publicHost != "" {
		config.PublicHost = publicHost
	}
	if webRoot := os.Getenv("WEB_ROOT"); webRoot != "" {
		config.WebRoot = webRoot
	}
	if e := os.Getenv("MEDIA_EXTS"); e != "" {
		exts = e
	}
	if a := os.Getenv("APP_AGENTS"); a != "" {
		agents = a
	}
	if index := os.Getenv("INDEX_FILES"); index == "true" {
		config.IndexFiles = true
	}
	if size := os.Getenv("COPY_BUFFER"); size != "" {
		if n, err := strconv.Atoi(size); err == nil {
			config.BufferSize = n
		}
	}
	if conns := os.Getenv("MAX_CONNS"); conns != "" {
		if n, err := strconv.Atoi(conns); err == nil {
			config.MaxConns = n
		}
	}
	if ttl := os.Getenv("LISTING_TTL"); ttl != "" {
		if d, err := time.ParseDuration(ttl); err == nil {
			config.ListingTTL = d
		}
	}
	if dataDir := os.Getenv("DATA_DIR"); dataDir != "" {
		config.DataDir = dataDir
	}

	config.MediaExts = splitList(exts)
	config.AppAgents = splitList(agents)
	return config, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// Addr is the address the listener binds to
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}

// BaseURL is the scheme, host and port advertised in JSON listings
func (c *Config) BaseURL() string {
	host := c.PublicHost
	if host == "" {
		host = c.Host
	}
	if host == "" || host == "0.0.0.0" || host == "::" {
		host = "localhost"
	}
	return "http://" + net.JoinHostPort(host, strconv.Itoa(c.Port))
}

func (c *Config) Validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("port must be between 1 and 65535")
	}
	if c.WebRoot == "" {
		return fmt.Errorf("web root cannot be empty")
	}
	if info, err := os.Stat(c.WebRoot); err != nil {
		return fmt.Errorf("web root %q is not accessible: %w", c.WebRoot, err)
	} else if !info.IsDir() {
		return fmt.Errorf("web root %q is not a directory", c.WebRoot)
	}
	if len(c.MediaExts) == 0 {
		return fmt.Errorf("at least one media extension is required")
	}
	if c.BufferSize < minBufferSize || c.BufferSize > maxBufferSize {
		return fmt.Errorf("buffer size must be between %d and %d bytes", minBufferSize, maxBufferSize)
	}
	if c.MaxConns < 0 {
		return fmt.Errorf("max connections cannot be negative")
	}
	if c.ListingTTL < 0 {
		return fmt.Errorf("listing TTL cannot be negative")
	}
	return nil
}

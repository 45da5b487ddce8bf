package config

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/The-Promised-Neverland/transporter/internal/protocol"
	"github.com/The-Promised-Neverland/transporter/pkg/idcommands"
	"github.com/joho/godotenv"
)

const (
	DefaultBlockSize = 1000
	DefaultMaxActive = 64
	DefaultLogFile   = "tpad.log"
	DefaultVerbosity = 1
)

// Config holds daemon configuration. Fields are unexported to prevent modification.
type Config struct {
	instanceID         string
	zmqAddr            string
	connect            bool
	serveDir           string
	noClobber          bool
	blockSize          int
	maxActive          int
	idleTimeout        time.Duration
	verbosity          int
	logFile            string
	monitorAddr        string
	stunServer         string
	watch              bool
	serviceName        string
	serviceDisplayName string
	serviceDescription string
	args               []string
}

type Option func(*Config)

func WithZMQ(addr string) Option             { return func(c *Config) { c.zmqAddr = addr } }
func WithConnect(b bool) Option              { return func(c *Config) { c.connect = b } }
func WithServeDir(dir string) Option         { return func(c *Config) { c.serveDir = dir } }
func WithNoClobber(b bool) Option            { return func(c *Config) { c.noClobber = b } }
func WithBlockSize(n int) Option             { return func(c *Config) { c.blockSize = n } }
func WithMaxActive(n int) Option             { return func(c *Config) { c.maxActive = n } }
func WithIdleTimeout(d time.Duration) Option { return func(c *Config) { c.idleTimeout = d } }
func WithVerbosity(v int) Option             { return func(c *Config) { c.verbosity = v } }
func WithLogFile(path string) Option         { return func(c *Config) { c.logFile = path } }
func WithMonitor(addr string) Option         { return func(c *Config) { c.monitorAddr = addr } }
func WithStun(server string) Option          { return func(c *Config) { c.stunServer = server } }
func WithWatch(b bool) Option                { return func(c *Config) { c.watch = b } }

// New returns the defaults with opts applied. It does not validate.
func New(opts ...Option) *Config {
	cfg := &Config{
		instanceID:         idcommands.InstanceID(),
		blockSize:          DefaultBlockSize,
		maxActive:          DefaultMaxActive,
		verbosity:          DefaultVerbosity,
		logFile:            DefaultLogFile,
		watch:              true,
		serviceName:        "tpad",
		serviceDisplayName: "Transporter Daemon",
		serviceDescription: "Serves a directory over ZeroMQ with resumable, hash verified transfers",
	}
	for _, opt := range opts {
		opt(cfg)
	}
	return cfg
}

// Load reads .env (if present), then TPAD_* variables, then args, each layer
// overriding the previous one, and validates the result.
func Load(args []string) (*Config, error) {
	cfg, err := Parse(args)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse is Load without validation, for service verbs that never serve.
func Parse(args []string) (*Config, error) {
	_ = godotenv.Load() // ignore error if .env not found

	cfg := New()
	if err := cfg.fromEnv(); err != nil {
		return nil, err
	}
	if err := cfg.fromFlags(args); err != nil {
		return nil, err
	}
	cfg.args = append([]string(nil), args...)
	return cfg, nil
}

func (c *Config) fromEnv() error {
	var errs []error
	str := func(key string, dst *string) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			*dst = v
		}
	}
	boolean := func(key string, dst *bool) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			b, err := strconv.ParseBool(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = b
		}
	}
	integer := func(key string, dst *int) {
		if v, ok := os.LookupEnv(key); ok && v != "" {
			n, err := strconv.Atoi(v)
			if err != nil {
				errs = append(errs, fmt.Errorf("%s: %w", key, err))
				return
			}
			*dst = n
		}
	}

	str("TPAD_ZMQ", &c.zmqAddr)
	boolean("TPAD_CONNECT", &c.connect)
	str("TPAD_DIR", &c.serveDir)
	boolean("TPAD_NOCLOBBER", &c.noClobber)
	integer("TPAD_BS", &c.blockSize)
	integer("TPAD_MAX_ACTIVE", &c.maxActive)
	if v := os.Getenv("TPAD_IDLE_TIMEOUT"); v != "" {
		d, err := parseDuration(v)
		if err != nil {
			errs = append(errs, fmt.Errorf("TPAD_IDLE_TIMEOUT: %w", err))
		}
		c.idleTimeout = d
	}
	integer("TPAD_VERBOSITY", &c.verbosity)
	str("TPAD_LOG_FILE", &c.logFile)
	str("TPAD_MONITOR", &c.monitorAddr)
	str("TPAD_STUN", &c.stunServer)
	boolean("TPAD_WATCH", &c.watch)
	str("SERVICE_NAME", &c.serviceName)
	str("SERVICE_DISPLAY_NAME", &c.serviceDisplayName)
	str("SERVICE_DESCRIPTION", &c.serviceDescription)
	return errors.Join(errs...)
}

// countFlag implements -v -v style repetition.
type countFlag struct{ n *int }

func (f countFlag) String() string {
	if f.n == nil {
		return "0"
	}
	return strconv.Itoa(*f.n)
}

func (f countFlag) Set(s string) error {
	if s == "true" {
		*f.n++
		return nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	*f.n = n
	return nil
}

func (f countFlag) IsBoolFlag() bool { return true }

type flagValues struct {
	idle    string
	verbose int
	quiet   bool
}

func (c *Config) flagSet(v *flagValues) *flag.FlagSet {
	fs := flag.NewFlagSet("tpad", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	v.idle = c.idleTimeout.String()

	fs.StringVar(&c.zmqAddr, "Z", c.zmqAddr, "ZeroMQ address to bind (or connect with -connect)")
	fs.BoolVar(&c.connect, "connect", c.connect, "connect the reply socket instead of binding it")
	fs.StringVar(&c.serveDir, "d", c.serveDir, "directory to serve")
	fs.BoolVar(&c.noClobber, "nc", c.noClobber, "refuse uploads over existing files")
	fs.IntVar(&c.blockSize, "BS", c.blockSize, "transfer block size")
	fs.IntVar(&c.maxActive, "max-active", c.maxActive, "number of concurrent transfer slots")
	fs.StringVar(&v.idle, "idle", v.idle, "reclaim transfers idle for this long (0 disables)")
	fs.Var(countFlag{&v.verbose}, "v", "increase verbosity (repeatable)")
	fs.BoolVar(&v.quiet, "q", false, "only log warnings and errors")
	fs.StringVar(&c.logFile, "log", c.logFile, "log file path (empty for stdout only)")
	fs.StringVar(&c.monitorAddr, "monitor", c.monitorAddr, "HTTP monitor listen address")
	fs.StringVar(&c.stunServer, "stun", c.stunServer, "STUN server used to discover the public endpoint")
	fs.BoolVar(&c.watch, "watch", c.watch, "watch the served directory for changes")
	return fs
}

// Usage prints the flag defaults.
func Usage(w io.Writer) {
	var v flagValues
	fs := New().flagSet(&v)
	fs.SetOutput(w)
	fs.PrintDefaults()
}

func (c *Config) fromFlags(args []string) error {
	var v flagValues
	fs := c.flagSet(&v)
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse flags: %w", err)
	}
	if fs.NArg() > 0 {
		return fmt.Errorf("unexpected arguments: %s", strings.Join(fs.Args(), " "))
	}
	d, err := parseDuration(v.idle)
	if err != nil {
		return fmt.Errorf("-idle: %w", err)
	}
	c.idleTimeout = d
	if v.verbose > 0 {
		c.verbosity = DefaultVerbosity + v.verbose
	}
	if v.quiet {
		c.verbosity = 0
	}
	return nil
}

// parseDuration accepts Go durations and bare seconds.
func parseDuration(s string) (time.Duration, error) {
	if n, err := strconv.Atoi(s); err == nil {
		return time.Duration(n) * time.Second, nil
	}
	return time.ParseDuration(s)
}

func (c *Config) Validate() error {
	if c.zmqAddr == "" {
		return errors.New("no ZeroMQ address given (-Z or TPAD_ZMQ)")
	}
	if c.serveDir == "" {
		return errors.New("no directory given (-d or TPAD_DIR)")
	}
	abs, err := filepath.Abs(c.serveDir)
	if err != nil {
		return fmt.Errorf("served directory: %w", err)
	}
	c.serveDir = abs
	info, err := os.Stat(c.serveDir)
	if err != nil {
		return fmt.Errorf("served directory: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("served directory %s is not a directory", c.serveDir)
	}
	if c.blockSize < 1 || c.blockSize > protocol.MaxChunkSize {
		return fmt.Errorf("block size %d out of range 1..%d", c.blockSize, protocol.MaxChunkSize)
	}
	if c.maxActive < 1 {
		return fmt.Errorf("max active transfers must be positive, got %d", c.maxActive)
	}
	if c.idleTimeout < 0 {
		return fmt.Errorf("idle timeout must not be negative, got %s", c.idleTimeout)
	}
	return nil
}

// Getter methods (immutable from outside)

func (c *Config) InstanceID() string {
	return c.instanceID
}

func (c *Config) ZMQAddr() string {
	return c.zmqAddr
}

func (c *Config) Connect() bool {
	return c.connect
}

func (c *Config) ServeDir() string {
	return c.serveDir
}

func (c *Config) NoClobber() bool {
	return c.noClobber
}

func (c *Config) BlockSize() int {
	return c.blockSize
}

func (c *Config) MaxActive() int {
	return c.maxActive
}

func (c *Config) IdleTimeout() time.Duration {
	return c.idleTimeout
}

func (c *Config) Verbosity() int {
	return c.verbosity
}

func (c *Config) LogFile() string {
	return c.logFile
}

func (c *Config) MonitorAddr() string {
	return c.monitorAddr
}

func (c *Config) StunServer() string {
	return c.stunServer
}

func (c *Config) Watch() bool {
	return c.watch
}

func (c *Config) ServiceName() string {
	return c.serviceName
}

func (c *Config) ServiceDisplayName() string {
	return c.serviceDisplayName
}

func (c *Config) ServiceDescription() string {
	return c.serviceDescription
}

// Args are the command-line flags the daemon was started with; an installed
// service is registered with the same flags. The served directory is always
// passed as -d, absolute once validated, since services start elsewhere.
func (c *Config) Args() []string {
	args := make([]string, 0, len(c.args)+2)
	for i := 0; i < len(c.args); i++ {
		a := c.args[i]
		switch {
		case a == "-d" || a == "--d":
			i++
			continue
		case strings.HasPrefix(a, "-d=") || strings.HasPrefix(a, "--d="):
			continue
		}
		args = append(args, a)
	}
	if c.serveDir != "" {
		args = append(args, "-d", c.serveDir)
	}
	return args
}

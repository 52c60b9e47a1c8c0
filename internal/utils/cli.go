package utils

import (
	"errors"
	"flag"
	"fmt"
	"strings"

	"github.com/kballard/go-shellquote"

	"github.com/0xRadioAc7iv/keycask/internal"
)

const DefaultConfigPath = "keycask.yaml"

// ServerFlags are the command line settings of the server binary. Flags
// left unset on the command line do not override the configuration file
// or the environment.
type ServerFlags struct {
	ConfigPath string

	set            map[string]bool
	dataDir        string
	port           int
	ipVersion      string
	keyDirSize     int
	keyDirMaxSize  int
	maxConnections int
	segmentSizeMB  uint64
	debugAddress   string
}

// HandleCLIInputs parses the server's command line arguments.
func HandleCLIInputs(args []string) (*ServerFlags, error) {
	f := &ServerFlags{set: make(map[string]bool)}

	fs := flag.NewFlagSet("bitcask", flag.ContinueOnError)
	fs.StringVar(&f.ConfigPath, "config", DefaultConfigPath, "Path to the YAML configuration file")
	fs.StringVar(&f.dataDir, "dir", internal.DefaultDataDir, "Directory Path to be used for this instance")
	fs.IntVar(&f.port, "port", internal.DEFAULT_PORT, "Port to use for the TCP Server")
	fs.StringVar(&f.ipVersion, "ipv", internal.DefaultIPVersion, "IP version to listen on: unspec, inet4 or inet6")
	fs.IntVar(&f.keyDirSize, "kdsize", internal.DefaultKeyDirSize, "Initial number of KeyDir buckets")
	fs.IntVar(&f.keyDirMaxSize, "kdmax", internal.DefaultKeyDirMaxSize, "Maximum number of KeyDir buckets")
	fs.IntVar(&f.maxConnections, "maxconn", internal.DefaultMaxConnections, "Maximum number of concurrent clients")
	fs.Uint64Var(&f.segmentSizeMB, "segsize", internal.DefaultMaxSegmentSize/internal.OneMegabyte, "Max Segment Size (in MB)")
	fs.StringVar(&f.debugAddress, "debug", "", "Address for the /debug/vars endpoint (disabled when empty)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}

	fs.Visit(func(fl *flag.Flag) {
		f.set[fl.Name] = true
	})

	return f, nil
}

// Apply copies every explicitly set flag into cfg.
func (f *ServerFlags) Apply(cfg *internal.Config) {
	if f.set["dir"] {
		cfg.DataDir = f.dataDir
	}
	if f.set["port"] {
		cfg.Port = f.port
	}
	if f.set["ipv"] {
		cfg.IPVersion = f.ipVersion
	}
	if f.set["kdsize"] {
		cfg.KeyDirSize = f.keyDirSize
	}
	if f.set["kdmax"] {
		cfg.KeyDirMaxSize = f.keyDirMaxSize
	}
	if f.set["maxconn"] {
		cfg.MaxConnections = f.maxConnections
	}
	if f.set["segsize"] {
		cfg.MaxSegmentSize = f.segmentSizeMB * internal.OneMegabyte
	}
	if f.set["debug"] {
		cfg.DebugAddress = f.debugAddress
	}
}

var ErrUsage = errors.New("usage: GET <key> | SET <key> <value>")

// SplitStringIntoCommandAndArguments splits one REPL line into a command
// and its arguments. Words follow shell quoting rules, so keys and values
// may contain spaces when quoted. GET takes exactly one argument and SET
// exactly two.
func SplitStringIntoCommandAndArguments(line string) (cmd, key, value string, err error) {
	words, err := shellquote.Split(line)
	if err != nil {
		return "", "", "", err
	}
	if len(words) == 0 {
		return "", "", "", ErrUsage
	}

	cmd = strings.ToLower(words[0])
	args := words[1:]

	switch cmd {
	case "get":
		if len(args) != 1 {
			return "", "", "", ErrUsage
		}
		return cmd, args[0], "", nil
	case "set":
		if len(args) != 2 {
			return "", "", "", ErrUsage
		}
		return cmd, args[0], args[1], nil
	default:
		return "", "", "", fmt.Errorf("unknown command %q: %w", words[0], ErrUsage)
	}
}

// Command nested lists and reads archives, and the archives stored inside
// them, from local files, nested: URIs, HTTP servers, S3 buckets and OCI
// registries.
//
// Usage:
//
//	nested [flags] ls       TARGET [ENTRY]
//	nested [flags] cat      TARGET [ENTRY] NAME
//	nested [flags] manifest TARGET [ENTRY]
//	nested [flags] info     TARGET [ENTRY]
//	nested [flags] channel  NESTED-URI
//	nested [flags] push     REF PATH
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"runtime/pprof"
	"strings"

	platformerrors "github.com/jmgilman/go/errors"

	"github.com/meigma/nested"
	"github.com/meigma/nested/registry"
)

// Exit codes.
const (
	exitOK       = 0
	exitError    = 1
	exitUsage    = 2
	exitNotFound = 3
	exitInvalid  = 4
)

var errUsage = errors.New("usage")

type config struct {
	runtimeVersion int
	baseVersion    int
	include        listFlag
	exclude        listFlag
	versioned      bool
	cacheDir       string
	plainHTTP      bool
	dockerConfig   bool
	s3Endpoint     string
	s3Region       string
	s3Secure       bool
	mediaType      string
	verbose        bool
	cpuProfile     string
}

// listFlag collects a repeatable, comma separated flag.
type listFlag []string

func (l *listFlag) String() string {
	return strings.Join(*l, ",")
}

func (l *listFlag) Set(v string) error {
	for _, p := range strings.Split(v, ",") {
		if p = strings.TrimSpace(p); p != "" {
			*l = append(*l, p)
		}
	}
	return nil
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	cfg, rest, err := parseFlags(args, stderr)
	if err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return exitOK
		}
		return exitUsage
	}

	level := slog.LevelWarn
	if cfg.verbose {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(stderr, &slog.HandlerOptions{Level: level}))

	if cfg.cpuProfile != "" {
		f, err := os.Create(cfg.cpuProfile)
		if err != nil {
			fmt.Fprintf(stderr, "nested: %v\n", err)
			return exitError
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			f.Close()
			fmt.Fprintf(stderr, "nested: %v\n", err)
			return exitError
		}
		defer func() {
			pprof.StopCPUProfile()
			_ = f.Close()
		}()
	}

	if len(rest) == 0 {
		usage(stderr)
		return exitUsage
	}

	client, err := newClient(cfg, logger)
	if err != nil {
		fmt.Fprintf(stderr, "nested: %v\n", err)
		return exitError
	}

	cmd := &command{cfg: cfg, client: client, logger: logger, stdout: stdout}
	if err := cmd.dispatch(ctx, rest[0], rest[1:]); err != nil {
		if errors.Is(err, errUsage) {
			usage(stderr)
			return exitUsage
		}
		fmt.Fprintf(stderr, "nested: %v\n", err)
		return exitCode(err)
	}
	return exitOK
}

func parseFlags(args []string, stderr io.Writer) (config, []string, error) {
	var cfg config
	flags := flag.NewFlagSet("nested", flag.ContinueOnError)
	flags.SetOutput(stderr)
	flags.Usage = func() { usage(stderr); flags.PrintDefaults() }

	flags.IntVar(&cfg.runtimeVersion, "runtime-version", nested.DefaultRuntimeVersion, "runtime version for multi-release resolution")
	flags.IntVar(&cfg.baseVersion, "base-version", nested.DefaultBaseVersion, "lowest version directory considered")
	flags.Var(&cfg.include, "include", "include pattern for ls (repeatable, comma separated)")
	flags.Var(&cfg.exclude, "exclude", "exclude pattern for ls (repeatable, comma separated)")
	flags.BoolVar(&cfg.versioned, "versioned", false, "ls lists entries as multi-release resolution sees them")
	flags.StringVar(&cfg.cacheDir, "cache-dir", "", "block cache directory for remote targets")
	flags.BoolVar(&cfg.plainHTTP, "registry-plain-http", false, "use plain HTTP for OCI registries")
	flags.BoolVar(&cfg.dockerConfig, "docker-config", true, "read registry credentials from the docker config")
	flags.StringVar(&cfg.s3Endpoint, "s3-endpoint", os.Getenv("NESTED_S3_ENDPOINT"), "S3 endpoint host[:port] for s3:// targets")
	flags.StringVar(&cfg.s3Region, "s3-region", os.Getenv("AWS_REGION"), "S3 region")
	flags.BoolVar(&cfg.s3Secure, "s3-secure", true, "use HTTPS for S3")
	flags.StringVar(&cfg.mediaType, "media-type", registry.MediaTypeArchive, "layer media type for push")
	flags.BoolVar(&cfg.verbose, "v", false, "debug logging")
	flags.StringVar(&cfg.cpuProfile, "cpuprofile", "", "write a CPU profile to file")

	if err := flags.Parse(args); err != nil {
		return config{}, nil, err
	}
	return cfg, flags.Args(), nil
}

func newClient(cfg config, logger *slog.Logger) (*nested.Client, error) {
	opts := []nested.Option{
		nested.WithLogger(logger),
		nested.WithReaderOptions(
			nested.WithRuntimeVersion(cfg.runtimeVersion),
			nested.WithBaseVersion(cfg.baseVersion),
		),
		nested.WithPlainHTTP(cfg.plainHTTP),
	}
	if cfg.dockerConfig {
		opts = append(opts, nested.WithDockerConfig())
	}
	if cfg.cacheDir != "" {
		opts = append(opts, nested.WithCacheDir(cfg.cacheDir))
	}
	if cfg.s3Endpoint != "" {
		opts = append(opts, nested.WithS3(nested.S3Config{
			Endpoint:  cfg.s3Endpoint,
			Region:    cfg.s3Region,
			AccessKey: os.Getenv("AWS_ACCESS_KEY_ID"),
			SecretKey: os.Getenv("AWS_SECRET_ACCESS_KEY"),
			Secure:    cfg.s3Secure,
		}))
	}
	return nested.NewClient(opts...)
}

// exitCode maps an error to the process exit code.
func exitCode(err error) int {
	switch platformerrors.GetCode(err) {
	case platformerrors.CodeNotFound:
		return exitNotFound
	case platformerrors.CodeInvalidInput:
		return exitInvalid
	}
	switch {
	case errors.Is(err, fs.ErrNotExist), errors.Is(err, registry.ErrNotFound):
		return exitNotFound
	case errors.Is(err, nested.ErrMalformedArchive),
		errors.Is(err, nested.ErrInvalidLocation),
		errors.Is(err, nested.ErrUnsupportedTarget),
		errors.Is(err, registry.ErrInvalidReference):
		return exitInvalid
	}
	return exitError
}

func usage(w io.Writer) {
	fmt.Fprint(w, `usage: nested [flags] <command> [args]

commands:
  ls       TARGET [ENTRY]        list entries
  cat      TARGET [ENTRY] NAME   write an entry to stdout
  manifest TARGET [ENTRY]        print the manifest attributes
  info     TARGET [ENTRY]        print archive details
  channel  NESTED-URI            write the raw bytes a nested: URI addresses
  push     REF PATH              publish a local archive to an OCI registry

TARGET is a path, nested:<path>/!<entry>, http(s)://, s3://bucket/key or oci://ref.
`)
}

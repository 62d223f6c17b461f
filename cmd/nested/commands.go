package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"maps"
	"path/filepath"
	"slices"
	"strings"
	"text/tabwriter"

	"github.com/meigma/nested"
	nestedcore "github.com/meigma/nested/core"
	"github.com/meigma/nested/registry"
)

type command struct {
	cfg    config
	client *nested.Client
	logger *slog.Logger
	stdout io.Writer
}

func (c *command) dispatch(ctx context.Context, name string, args []string) error {
	switch name {
	case "ls":
		return c.withReader(ctx, args, 1, 2, func(r *nested.Reader, _ []string) error {
			return c.list(r)
		})
	case "cat":
		return c.cat(ctx, args)
	case "manifest":
		return c.withReader(ctx, args, 1, 2, func(r *nested.Reader, _ []string) error {
			return c.manifest(r)
		})
	case "info":
		return c.withReader(ctx, args, 1, 2, func(r *nested.Reader, _ []string) error {
			return c.info(r)
		})
	case "channel":
		if len(args) != 1 {
			return errUsage
		}
		return c.channel(args[0])
	case "push":
		if len(args) != 2 {
			return errUsage
		}
		return c.push(ctx, args[0], args[1])
	}
	return fmt.Errorf("%w: unknown command %q", errUsage, name)
}

// withReader opens args[0], scoped to args[1] when given, and calls fn.
func (c *command) withReader(ctx context.Context, args []string, minArgs, maxArgs int, fn func(*nested.Reader, []string) error) error {
	if len(args) < minArgs || len(args) > maxArgs {
		return errUsage
	}
	entry := ""
	if len(args) > 1 {
		entry = args[1]
	}
	r, err := c.client.Open(ctx, args[0], entry)
	if err != nil {
		return err
	}
	defer func() {
		if err := r.Close(); err != nil {
			c.logger.Warn("closing reader", "error", err)
		}
	}()
	return fn(r, args)
}

func (c *command) list(r *nested.Reader) error {
	filter, err := nested.NewEntryFilter(c.cfg.include, c.cfg.exclude)
	if err != nil {
		return err
	}
	entries := r.Entries
	if c.cfg.versioned {
		entries = r.VersionedEntries
	}
	seq, err := entries()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 2, ' ', tabwriter.AlignRight)
	for e := range nested.FilterEntries(seq, filter) {
		fmt.Fprintf(tw, "%d\t%s\t%s\t %s\n",
			e.UncompressedSize, methodName(e.Method), e.Modified.Format("2006-01-02 15:04"), e.Name)
	}
	return tw.Flush()
}

func methodName(m uint16) string {
	switch m {
	case 0:
		return "stored"
	case 8:
		return "deflated"
	}
	return fmt.Sprintf("method-%d", m)
}

func (c *command) cat(ctx context.Context, args []string) error {
	if len(args) < 2 || len(args) > 3 {
		return errUsage
	}
	name := args[len(args)-1]
	return c.withReader(ctx, args[:len(args)-1], 1, 2, func(r *nested.Reader, _ []string) error {
		e, err := r.Entry(name)
		if err != nil {
			return err
		}
		rc, err := r.Open(e)
		if err != nil {
			return err
		}
		defer rc.Close()
		_, err = io.Copy(c.stdout, rc)
		return err
	})
}

func (c *command) manifest(r *nested.Reader) error {
	m, err := r.Manifest()
	if err != nil {
		return err
	}
	if m == nil {
		fmt.Fprintln(c.stdout, "no manifest")
		return nil
	}
	printAttributes(c.stdout, m.Main)
	for _, name := range slices.Sorted(maps.Keys(m.Entries)) {
		fmt.Fprintf(c.stdout, "\nName: %s\n", name)
		printAttributes(c.stdout, m.Entries[name])
	}
	return nil
}

func printAttributes(w io.Writer, attrs nestedcore.Attributes) {
	for _, k := range slices.Sorted(maps.Keys(attrs)) {
		if k == "Name" {
			continue
		}
		fmt.Fprintf(w, "%s: %s\n", k, attrs[k])
	}
}

func (c *command) info(r *nested.Reader) error {
	idx, err := r.Index()
	if err != nil {
		return err
	}
	m, err := r.Manifest()
	if err != nil {
		return err
	}

	tw := tabwriter.NewWriter(c.stdout, 0, 4, 1, ' ', 0)
	fmt.Fprintf(tw, "name:\t%s\n", r.Name())
	fmt.Fprintf(tw, "source:\t%s\n", idx.SourceID())
	fmt.Fprintf(tw, "entries:\t%d\n", idx.Len())
	if dir := idx.Directory(); dir != "" {
		fmt.Fprintf(tw, "directory:\t%s\n", dir)
	}
	rng := idx.Range()
	fmt.Fprintf(tw, "range:\t%d+%d\n", rng.Offset, rng.Length)
	fmt.Fprintf(tw, "signed:\t%t\n", idx.HasSignatureFile())
	fmt.Fprintf(tw, "multi-release:\t%t\n", m.MultiRelease())
	if m.MultiRelease() {
		versions := idx.Versions(c.cfg.baseVersion).Versions()
		parts := make([]string, len(versions))
		for i, v := range versions {
			parts[i] = fmt.Sprint(v)
		}
		fmt.Fprintf(tw, "versions:\t%s\n", strings.Join(parts, " "))
	}
	if comment := idx.Comment(); comment != "" {
		fmt.Fprintf(tw, "comment:\t%s\n", comment)
	}
	if stats := c.client.BlockCacheStats(); stats.Hits+stats.Misses > 0 {
		fmt.Fprintf(tw, "block cache:\t%d hits, %d misses\n", stats.Hits, stats.Misses)
	}
	return tw.Flush()
}

// channel copies the bytes a nested: URI addresses: the raw data of a
// stored entry, or a synthesized archive for a directory entry.
func (c *command) channel(uri string) error {
	reg := nestedcore.NewRegistry(
		nestedcore.WithLogger(c.logger),
		nestedcore.WithRuntimeVersion(c.cfg.runtimeVersion),
		nestedcore.WithBaseVersion(c.cfg.baseVersion),
	)
	defer reg.Close()

	p, err := reg.Path(uri)
	if err != nil {
		return err
	}
	ch, err := p.Open()
	if err != nil {
		return err
	}
	defer ch.Close()
	_, err = io.Copy(c.stdout, ch)
	return err
}

func (c *command) push(ctx context.Context, ref, path string) error {
	desc, err := c.client.Push(ctx, ref, path,
		registry.WithMediaType(c.cfg.mediaType),
		registry.WithTitle(filepath.Base(path)),
	)
	if err != nil {
		return err
	}
	fmt.Fprintln(c.stdout, desc.Digest.String())
	return nil
}

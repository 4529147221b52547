package main

import (
	"encoding/json"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/alecthomas/kong"
	"github.com/ulikunitz/xz"

	"github.com/fulldump/segmentdb/collection"
	"github.com/fulldump/segmentdb/datafile"
	"github.com/fulldump/segmentdb/logging"
)

var CLI struct {
	Markers MarkersCmd `cmd:"" help:"List the markers of a datafile or journal"`
	Verify  VerifyCmd  `cmd:"" help:"Check the footer digest of a sealed datafile"`
	Dump    DumpCmd    `cmd:"" help:"Write the document and remove markers of a collection as JSON lines"`
}

type MarkersCmd struct {
	Path string `arg:"" help:"Datafile path" type:"existingfile"`
}

func (c *MarkersCmd) Run(ctx *kong.Context) error {
	d, result, err := datafile.Open(c.Path, datafile.OpenOptions{})
	if err != nil {
		return err
	}
	defer d.Close()

	fmt.Fprintf(ctx.Stdout, "%-10s %-8s %-10s %-20s %s\n", "OFFSET", "SIZE", "TYPE", "TICK", "PAYLOAD")
	err = d.Iterate(func(e datafile.Entry) error {
		fmt.Fprintf(ctx.Stdout, "%-10d %-8d %-10s %-20d %d\n", e.Offset, e.Size, e.Type, e.Tick, len(e.Payload))
		return nil
	})
	if err != nil {
		return err
	}

	info := d.Info()
	fmt.Fprintf(ctx.Stdout, "\nmarkers: %d sealed: %t size: %d/%d ticks: [%d, %d]\n", result.Markers, info.Sealed, info.Size, info.Capacity, info.TickMin, info.TickMax)
	if result.TruncatedTail {
		fmt.Fprintf(ctx.Stdout, "truncated tail at %d, %d bytes discarded\n", result.TruncatedAt, result.DiscardedBytes)
	}
	return nil
}

type VerifyCmd struct {
	Path string `arg:"" help:"Datafile path" type:"existingfile"`
}

func (c *VerifyCmd) Run(ctx *kong.Context) error {
	d, _, err := datafile.Open(c.Path, datafile.OpenOptions{ExpectSealed: true})
	if err != nil {
		return err
	}
	defer d.Close()

	err = d.Verify()
	if err != nil {
		return err
	}

	fmt.Fprintf(ctx.Stdout, "%s: OK\n", c.Path)
	return nil
}

type DumpCmd struct {
	Dir    string `arg:"" help:"Collection directory" type:"existingdir"`
	From   uint64 `help:"First tick" default:"0"`
	To     uint64 `help:"Last tick" default:"0"`
	Output string `short:"o" help:"Output file, stdout when empty"`
	Xz     bool   `help:"Compress the output with xz"`
}

type dumpLine struct {
	Tick    uint64          `json:"tick"`
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

func (c *DumpCmd) Run(ctx *kong.Context) error {
	to := c.To
	if to == 0 {
		to = math.MaxUint64
	}

	col, err := collection.Open(c.Dir, collection.Config{
		Name:   strings.TrimPrefix(filepath.Base(c.Dir), "collection-"),
		Logger: logging.NewDefaultLogger(logging.LevelWarn),
	})
	if err != nil {
		return err
	}
	defer col.Close()

	var w io.Writer = ctx.Stdout
	if c.Output != "" {
		f, err := os.Create(c.Output)
		if err != nil {
			return err
		}
		defer f.Close()
		w = f
	}

	if c.Xz {
		xw, err := xz.NewWriter(w)
		if err != nil {
			return err
		}
		defer xw.Close()
		w = xw
	}

	e := json.NewEncoder(w)
	return col.Dump(c.From, to, func(entry datafile.Entry) error {
		return e.Encode(dumpLine{
			Tick:    entry.Tick,
			Type:    entry.Type.String(),
			Payload: entry.Payload,
		})
	})
}

func main() {
	ctx := kong.Parse(&CLI,
		kong.Name("dfinspect"),
		kong.Description("Inspect segmentdb datafiles and collections"),
		kong.UsageOnError(),
		kong.ConfigureHelp(kong.HelpOptions{
			Compact: true,
		}),
	)
	err := ctx.Run(ctx)
	ctx.FatalIfErrorf(err)
}

package main

import (
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"github.com/OCAP2/vcd/internal/config"
	"github.com/OCAP2/vcd/internal/storage/websocket"
	"github.com/OCAP2/vcd/pkg/core"
)

const infoShortDesc string = "Summarize a document"

func newInfoCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "info <file>",
		Short: infoShortDesc,
		Long: `Print the name, schema version, frame range, element counts and
streams of a document.

Examples:
  vcd info annotations/crossing.json.gz`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return a.runInfo(cmd.OutOrStdout(), args[0])
		},
	}
}

func (a *app) runInfo(out io.Writer, path string) error {
	b, err := a.load(path)
	if err != nil {
		return err
	}

	name := b.Name()
	if name == "" {
		name = "<unnamed>"
	}
	fmt.Fprintf(out, "Name:            %s\n", name)
	fmt.Fprintf(out, "Schema version:  %s\n", b.SchemaVersion())

	fis := b.FrameIntervals()
	if outer, ok := fis.Outer(); ok {
		fmt.Fprintf(out, "Frames:          %d (%d-%d)\n", fis.NumFrames(), outer.Start, outer.End)
	} else {
		fmt.Fprintf(out, "Frames:          0\n")
	}

	meta := b.Metadata()
	if meta.Annotator != "" {
		fmt.Fprintf(out, "Annotator:       %s\n", meta.Annotator)
	}

	fmt.Fprintln(out, "Elements:")
	for _, t := range core.ElementTypes {
		fmt.Fprintf(out, "  %-14s %d\n", t.Plural()+":", b.NumElements(t))
	}

	if streams := b.Streams(); len(streams) > 0 {
		fmt.Fprintln(out, "Streams:")
		for _, st := range streams {
			fmt.Fprintf(out, "  %s (%s) %s\n", st.Name, st.Type, st.URI)
		}
	}
	return nil
}

const frameShortDesc string = "Print the view of one frame"

func newFrameCmd(a *app) *cobra.Command {
	var static, pretty bool
	cmd := &cobra.Command{
		Use:   "frame <file> <n>",
		Short: frameShortDesc,
		Long: `Print the serialized view of frame n. By default only the data that
changes over time is printed; --static adds the static part of every element.

Examples:
  vcd frame crossing.json 12
  vcd frame crossing.json 12 --static --pretty`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			frame, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid frame number %q: %w", args[1], err)
			}
			return a.runFrame(cmd.OutOrStdout(), args[0], frame, !static, pretty)
		},
	}
	cmd.Flags().BoolVar(&static, "static", false, "Include the static part of every element")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the output")
	return cmd
}

func (a *app) runFrame(out io.Writer, path string, frame int, dynamicOnly, pretty bool) error {
	b, err := a.load(path)
	if err != nil {
		return err
	}
	data, err := b.StringifyFrame(frame, dynamicOnly, pretty)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, string(data))
	return err
}

const convertShortDesc string = "Rewrite a document"

func newConvertCmd(a *app) *cobra.Command {
	var pretty bool
	cmd := &cobra.Command{
		Use:   "convert <in> <out>",
		Short: convertShortDesc,
		Long: `Load a document and write it back out in canonical form. The output is
gzip compressed when <out> ends in .gz or document.compressOutput is set.

Examples:
  vcd convert crossing.json crossing.json.gz
  vcd convert crossing.json.gz crossing.json --pretty`,
		Args: cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if !cmd.Flags().Changed("pretty") {
				pretty = config.GetDocumentConfig().PrettyOutput
			}
			return a.runConvert(args[0], args[1], pretty)
		},
	}
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent the output")
	return cmd
}

func (a *app) runConvert(in, out string, pretty bool) error {
	b, err := a.load(in)
	if err != nil {
		return err
	}
	if err := b.Save(out, pretty); err != nil {
		return err
	}
	a.logger.Info("Document written", "path", out)
	return nil
}

const exportShortDesc string = "Write a document to the output directory"

func newExportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "export <file>",
		Short: exportShortDesc,
		Long: `Load a document and write it to document.outputDir, named after the
document.

Examples:
  VCD_DOCUMENT_OUTPUTDIR=/data/annotations vcd export crossing.json`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			b, err := a.load(args[0])
			if err != nil {
				return err
			}
			path, err := b.Export()
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), path)
			return err
		},
	}
}

const streamShortDesc string = "Stream a document to a WebSocket server"

func newStreamCmd(a *app) *cobra.Command {
	var url, secret string
	var interval time.Duration
	cmd := &cobra.Command{
		Use:   "stream <file>",
		Short: streamShortDesc,
		Long: `Load a document and publish it frame by frame to a WebSocket server.
The server must acknowledge start_document and end_document.

Examples:
  vcd stream crossing.json --url ws://localhost:5000/ingest --secret s3cret
  vcd stream crossing.json --interval 40ms`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.GetStreamConfig()
			if cmd.Flags().Changed("url") {
				cfg.URL = url
			}
			if cmd.Flags().Changed("secret") {
				cfg.Secret = secret
			}
			if cfg.URL == "" {
				return fmt.Errorf("no stream URL: set --url or stream.url")
			}
			return a.runStream(cmd.OutOrStdout(), args[0], cfg, interval)
		},
	}
	cmd.Flags().StringVar(&url, "url", "", "WebSocket URL (defaults to stream.url)")
	cmd.Flags().StringVar(&secret, "secret", "", "Shared secret (defaults to stream.secret)")
	cmd.Flags().DurationVar(&interval, "interval", 0, "Delay between frames")
	return cmd
}

func (a *app) runStream(out io.Writer, path string, cfg config.StreamConfig, interval time.Duration) error {
	doc, err := a.load(path)
	if err != nil {
		return err
	}

	b := websocket.New(cfg, doc, websocket.WithLogger(a.slog.Component("stream")))
	if err := b.Init(); err != nil {
		return err
	}
	defer b.Close()

	if err := b.StartDocument(); err != nil {
		return err
	}

	frames := doc.FrameIntervals().Frames()
	for i, frame := range frames {
		if err := b.PublishFrame(frame); err != nil {
			return err
		}
		if interval > 0 && i < len(frames)-1 {
			time.Sleep(interval)
		}
	}

	if err := b.EndDocument(); err != nil {
		return err
	}
	a.logger.Info("Document streamed", "frames", len(frames))
	_, err = fmt.Fprintf(out, "streamed %d frames\n", len(frames))
	return err
}

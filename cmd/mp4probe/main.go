// Package mp4probe is a CLI utility that demuxes an MP4/MOV file and
// prints a report of its streams, timing and sample count.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"

	"gopkg.in/yaml.v2"

	"mp4demux/pkg/demux"
)

const usage = `print stream and sample information for an mp4/mov file
example: mp4probe -debug video.mp4`

func main() {
	if err := run(); err != nil {
		log.Fatal(err)
	}
}

// options mirrors demux.Options for the optional yaml options file.
type options struct {
	EnableVideo bool `yaml:"enableVideo"`
	EnableAudio bool `yaml:"enableAudio"`
	Debug       bool `yaml:"debug"`
}

func run() error {
	optsPath := flag.String("opts", "", "yaml options file")
	debug := flag.Bool("debug", false, "enable the parse probe")
	flag.Parse()

	if flag.NArg() != 1 {
		fmt.Println(usage)
		return nil
	}

	opts := options{EnableVideo: true, EnableAudio: true}
	if *optsPath != "" {
		optsYAML, err := os.ReadFile(*optsPath)
		if err != nil {
			return fmt.Errorf("read options: %w", err)
		}
		if err := yaml.Unmarshal(optsYAML, &opts); err != nil {
			return fmt.Errorf("unmarshal options: %w", err)
		}
	}
	if *debug {
		opts.Debug = true
	}

	path := flag.Arg(0)
	buf, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read file: %w", err)
	}

	d := demux.Open(buf, demux.Options{
		EnableVideo: opts.EnableVideo,
		EnableAudio: opts.EnableAudio,
		Debug:       opts.Debug,
	})
	defer d.Close()

	if err := d.Init(); err != nil {
		return fmt.Errorf("init demuxer: %w", err)
	}

	out, err := yaml.Marshal(buildReport(d, opts.Debug))
	if err != nil {
		return fmt.Errorf("marshal report: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

type streamReport struct {
	ID           uint32  `yaml:"id"`
	Kind         string  `yaml:"kind"`
	Codec        string  `yaml:"codec"`
	CodecFourCC  string  `yaml:"codecFourcc"`
	DurationSec  float64 `yaml:"durationSec"`
	Width        uint32  `yaml:"width,omitempty"`
	Height       uint32  `yaml:"height,omitempty"`
	FrameRate    float64 `yaml:"frameRate,omitempty"`
	AvgFrameRate float64 `yaml:"avgFrameRate,omitempty"`
	SampleRate   float64 `yaml:"sampleRate,omitempty"`
	Channels     uint16  `yaml:"channels,omitempty"`
	BitDepth     uint16  `yaml:"bitDepth,omitempty"`
	AvgBitRate   uint32  `yaml:"avgBitRate,omitempty"`
}

type report struct {
	MajorBrand  string         `yaml:"majorBrand,omitempty"`
	DurationSec float64        `yaml:"durationSec"`
	TimeScale   uint32         `yaml:"timeScale"`
	SampleCount int            `yaml:"sampleCount"`
	Streams     []streamReport `yaml:"streams"`
	Warnings    []string       `yaml:"warnings,omitempty"`
	Probe       string         `yaml:"probe,omitempty"`
}

func buildReport(d *demux.Demuxer, debug bool) report {
	info := d.Info()

	rep := report{
		DurationSec: float64(info.DurationUs) / 1e6,
		TimeScale:   info.TimeScale,
		SampleCount: info.SampleCount,
	}
	if info.FileType != nil {
		rep.MajorBrand = info.FileType.MajorBrand
	}

	for _, s := range info.Streams {
		sr := streamReport{
			ID:          s.ID,
			Kind:        s.Kind.String(),
			Codec:       s.Codec,
			CodecFourCC: s.CodecFourCC,
			DurationSec: float64(s.DurationUs()) / 1e6,
			AvgBitRate:  s.AvgBitRate,
		}
		if s.Kind == demux.KindVideo {
			sr.Width = s.Width
			sr.Height = s.Height
			sr.FrameRate = s.FrameRate
			sr.AvgFrameRate = s.AvgFrameRate
		} else {
			sr.SampleRate = s.SampleRate
			sr.Channels = s.ChannelCount
			sr.BitDepth = s.BitDepth
		}
		rep.Streams = append(rep.Streams, sr)
	}

	for _, warning := range d.Warnings() {
		rep.Warnings = append(rep.Warnings, warning.Error())
	}

	if debug {
		rep.Probe = d.ProbeSnapshot().String()
	}
	return rep
}

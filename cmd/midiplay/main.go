package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"strings"
	"time"

	"gitlab.com/gomidi/midi/v2"
	_ "gitlab.com/gomidi/midi/v2/drivers/rtmididrv"

	"github.com/cbegin/midifeed-go"
	"github.com/cbegin/midifeed-go/internal/config"
	"github.com/cbegin/midifeed-go/internal/debug"
)

func main() {
	var (
		path       = flag.String("file", "", "path to a Standard MIDI File")
		configPath = flag.String("config", "", "config file (default ~/.config/midifeed/config.yaml)")
		backend    = flag.String("backend", "", "output: fm|soundfont|port")
		soundFont  = flag.String("soundfont", "", "path to an .sf2 file for the soundfont backend")
		port       = flag.String("port", "", "MIDI output name (substring) for the port backend")
		sampleRate = flag.Int("sample-rate", 0, "output sample rate")
		volume     = flag.Int("volume", -1, "master volume in percent (0-100)")
		pitch      = flag.Int("pitch", 0, "playback speed in percent")
		loop       = flag.Bool("loop", true, "loop at the song's loop point")
		loops      = flag.Int("loops", -1, "when -loop, stop after N loops (0 = loop forever)")
		fadeInMS   = flag.Int("fade-in-ms", -1, "fade in over this many milliseconds")
		debugLog   = flag.Bool("debug", false, "write a debug log to ~/.config/midifeed/debug.log")
		wavPath    = flag.String("wav", "", "render to this WAV file instead of playing")
		seconds    = flag.Float64("seconds", 0, "with -wav, stop after this many seconds")
		listPorts  = flag.Bool("list-ports", false, "list MIDI outputs and exit")
	)
	flag.Parse()
	defer midi.CloseDriver()

	if *listPorts {
		for _, name := range midifeed.PortNames() {
			fmt.Println(name)
		}
		return
	}

	cfg, err := config.Load(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "backend":
			cfg.Backend = config.BackendKind(strings.ToLower(strings.TrimSpace(*backend)))
		case "soundfont":
			cfg.SoundFont = *soundFont
			if *backend == "" {
				cfg.Backend = config.BackendSoundFont
			}
		case "port":
			cfg.Port = *port
			if *backend == "" {
				cfg.Backend = config.BackendPort
			}
		case "sample-rate":
			cfg.SampleRate = *sampleRate
		case "volume":
			cfg.Volume = *volume
		case "pitch":
			cfg.Pitch = *pitch
		case "loop":
			cfg.Loop = *loop
		case "loops":
			cfg.Loops = *loops
		case "fade-in-ms":
			cfg.FadeInMS = *fadeInMS
		case "debug":
			cfg.Debug = *debugLog
		}
	})
	if err := cfg.Validate(); err != nil {
		log.Fatal(err)
	}
	if cfg.Debug {
		if err := debug.Enable(debug.DefaultPath()); err != nil {
			log.Printf("debug log: %v", err)
		}
		defer debug.Disable()
	}
	if *path == "" {
		log.Fatal("missing -file")
	}
	data, err := os.ReadFile(*path)
	if err != nil {
		log.Fatal(err)
	}

	if *wavPath != "" {
		if err := renderWAV(cfg, data, *wavPath, *seconds); err != nil {
			log.Fatal(err)
		}
		return
	}

	pl, err := midifeed.NewPlayer(playerOptions(cfg)...)
	if err != nil {
		log.Fatal(err)
	}
	defer pl.Close()
	if err := pl.SetPitch(cfg.Pitch); err != nil {
		log.Fatal(err)
	}
	ch := pl.Watch()
	if err := pl.Play(data); err != nil {
		log.Fatal(err)
	}
	if cfg.FadeInMS > 0 {
		pl.Fade(0, cfg.Volume, time.Duration(cfg.FadeInMS)*time.Millisecond)
	} else {
		pl.SetVolume(cfg.Volume)
	}
	total, loopStart := pl.Duration()
	fmt.Printf("playing %s (%.1fs, loop point %.1fs)\n", *path, total, loopStart)

	for event := range ch {
		switch event.Kind {
		case midifeed.EventPlaybackEnded:
			fmt.Println("playback completed")
			goto done
		case midifeed.EventLoopCompleted:
			fmt.Printf("loop %d completed\n", event.Loop)
			if cfg.Loop && cfg.Loops > 0 && event.Loop >= cfg.Loops {
				pl.Stop()
			}
		}
	}
done:
	pl.Wait()
}

func playerOptions(cfg *config.Config) []midifeed.PlayerOption {
	opts := []midifeed.PlayerOption{
		midifeed.WithSampleRate(cfg.SampleRate),
		midifeed.WithLoopPlayback(cfg.Loop),
	}
	switch cfg.Backend {
	case config.BackendSoundFont:
		opts = append(opts, midifeed.WithSoundFont(cfg.SoundFont))
	case config.BackendPort:
		opts = append(opts, midifeed.WithPort(cfg.Port))
	default:
		opts = append(opts, midifeed.WithBackend(midifeed.BackendKind(cfg.Backend)))
	}
	return opts
}

func renderWAV(cfg *config.Config, data []byte, path string, seconds float64) error {
	format := midifeed.Format{SampleRate: cfg.SampleRate, Sample: midifeed.FormatS16, Channels: 2}
	var backend midifeed.Backend
	switch cfg.Backend {
	case config.BackendSoundFont:
		b, err := midifeed.NewSoundFontBackend(cfg.SoundFont, format)
		if err != nil {
			return err
		}
		backend = b
	case config.BackendFM:
		backend = midifeed.NewFMBackend(format)
	default:
		return fmt.Errorf("backend %q cannot render to a file", cfg.Backend)
	}
	opts := midifeed.RenderOptions{Seconds: seconds}
	if cfg.Loop {
		opts.Loops = cfg.Loops
	}
	if seconds > 0 && cfg.Loop {
		opts.FadeOutSeconds = min(seconds/4, 5)
	}
	pcm, err := midifeed.RenderWithOptions(data, backend, opts)
	if err != nil {
		return err
	}
	if err := os.WriteFile(path, midifeed.EncodeWAV(pcm, format), 0644); err != nil {
		return err
	}
	fmt.Printf("wrote %s (%.1fs)\n", path, float64(len(pcm)/format.BytesPerFrame())/float64(format.SampleRate))
	return nil
}

package main

import (
	"flag"
	"fmt"
	"io"
	"strconv"

	"github.com/cjeanneret/timelapser/internal/config"
)

// options holds the parsed command line. set records which flags were given
// explicitly so only those override the configuration file.
type options struct {
	units          string
	duration       int
	samples        int
	path           string
	name           string
	configPath     string
	web            webPortFlag
	mock           bool
	sleepAfterLast bool
	debugLevel     int

	set map[string]bool
}

func parseFlags(args []string, stderr io.Writer) (*options, error) {
	o := &options{web: webPortFlag{defaultPort: 8080}, set: map[string]bool{}}

	fs := flag.NewFlagSet("timelapser", flag.ContinueOnError)
	fs.SetOutput(stderr)
	fs.Usage = func() {
		fmt.Fprintln(stderr, "Usage: timelapser [-u s|m|h|d] [-d duration] [-s samples] [-p path] [-n name] [options]")
		fs.PrintDefaults()
	}

	for _, name := range []string{"u", "units"} {
		fs.StringVar(&o.units, name, "s", "unit of -duration: s, m, h or d")
	}
	for _, name := range []string{"d", "duration"} {
		fs.IntVar(&o.duration, name, 0, "total timelapse duration, in -units")
	}
	for _, name := range []string{"s", "samples"} {
		fs.IntVar(&o.samples, name, 0, "number of evenly spaced images")
	}
	for _, name := range []string{"p", "path"} {
		fs.StringVar(&o.path, name, "Images", "directory the run folders are created in")
	}
	for _, name := range []string{"n", "name"} {
		fs.StringVar(&o.name, name, "", "optional name of this timelapse (subdirectory)")
	}
	fs.StringVar(&o.configPath, "config", "", "path to a YAML or TOML config file")
	fs.Var(&o.web, "web", "start status server on port; -web= for default 8080, -web 8980 for custom port")
	fs.BoolVar(&o.mock, "mock", false, "use mock GPIO, light and camera (development on a PC)")
	fs.BoolVar(&o.sleepAfterLast, "sleep-after-last", true, "wait one interval after the last image before exiting")
	fs.IntVar(&o.debugLevel, "debug", 1, "debug level 0-4 (0=off, 1=info, 2=live, 3=verbose, 4=trace)")

	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() > 0 {
		return nil, fmt.Errorf("unexpected arguments: %v", fs.Args())
	}
	fs.Visit(func(f *flag.Flag) { o.set[canonical(f.Name)] = true })
	return o, nil
}

func canonical(name string) string {
	switch name {
	case "u":
		return "units"
	case "d":
		return "duration"
	case "s":
		return "samples"
	case "p":
		return "path"
	case "n":
		return "name"
	}
	return name
}

// apply overrides cfg with the flags given on the command line.
func (o *options) apply(cfg *config.Config) {
	if o.set["units"] {
		cfg.Timelapse.Units = o.units
	}
	if o.set["duration"] {
		cfg.Timelapse.Duration = o.duration
	}
	if o.set["samples"] {
		cfg.Timelapse.Samples = o.samples
	}
	if o.set["path"] {
		cfg.Timelapse.Path = o.path
	}
	if o.set["name"] {
		cfg.Timelapse.Name = o.name
	}
	if o.set["sleep-after-last"] {
		v := o.sleepAfterLast
		cfg.Timelapse.SleepAfterLast = &v
	}
	if o.set["debug"] {
		cfg.Defaults.DebugLevel = o.debugLevel
	}
	if o.set["web"] {
		cfg.Web.Port = o.web.port()
	}
	if o.mock {
		cfg.Defaults.MockGPIO = true
		cfg.Camera.Type = "mock"
	}
}

// webPortFlag implements flag.Value for -web: 0 = disabled, -web= or -web 8080 → 8080, -web 8980 → 8980.
type webPortFlag struct {
	val         int
	defaultPort int
}

func (w *webPortFlag) String() string {
	if w == nil || w.val == 0 {
		return "0"
	}
	return strconv.Itoa(w.val)
}

func (w *webPortFlag) Set(s string) error {
	if s == "" {
		w.val = w.defaultPort
		return nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return err
	}
	if v <= 0 || v > 65535 {
		return fmt.Errorf("port must be 1-65535, got %d", v)
	}
	w.val = v
	return nil
}

func (w *webPortFlag) port() int { return w.val }

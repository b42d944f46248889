package main

import (
	"fmt"
	"os"

	"github.com/thought-machine/go-flags"

	"github.com/elm-watch/elm-watch-go/internal/cli"
)

// version is overridden at build time via -ldflags "-X main.version=...".
var version = "dev"

var opts = struct {
	Make struct {
		Debug    bool `long:"debug" description:"Compile in debug mode"`
		Optimize bool `long:"optimize" description:"Compile in optimize mode"`
		Args     struct {
			Targets []string `positional-arg-name:"targets" description:"Target name substrings to build (default: all)"`
		} `positional-args:"true"`
	} `command:"make" description:"Compile targets once and exit"`

	Hot struct {
		Args struct {
			Targets []string `positional-arg-name:"targets" description:"Target name substrings to watch (default: all)"`
		} `positional-args:"true"`
	} `command:"hot" description:"Watch, recompile, and serve hot reloads over WebSocket"`
}{}

func main() {
	os.Exit(run(os.Args[1:]))
}

// run parses argv and dispatches to internal/cli, kept separate from
// main so it's callable with an explicit argv in tests without
// exec'ing a subprocess.
func run(argv []string) int {
	if containsHelpFlag(argv) || len(argv) == 0 {
		p := flags.NewParser(&opts, flags.HelpFlag|flags.PassDoubleDash)
		p.WriteHelp(os.Stderr)
		return 1
	}

	p := flags.NewParser(&opts, flags.PassDoubleDash)
	p.SubcommandsOptional = false
	_, err := p.ParseArgs(argv)
	if err != nil {
		if p.Active == nil {
			fmt.Fprintf(os.Stderr, "Unknown command: %s\n", argv[0])
			return 1
		}
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	if p.Active == nil {
		p.WriteHelp(os.Stderr)
		return 1
	}

	cli.Version = version
	root, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return 1
	}
	env := cli.Env{Root: root, Stdout: os.Stdout, Stderr: os.Stderr}

	switch p.Active.Name {
	case "make":
		return cli.RunMake(env, cli.MakeArgs{
			Debug:    opts.Make.Debug,
			Optimize: opts.Make.Optimize,
			Targets:  opts.Make.Args.Targets,
		})
	case "hot":
		return cli.RunHot(env, cli.HotArgs{
			Targets: opts.Hot.Args.Targets,
		})
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", p.Active.Name)
		return 1
	}
}

func containsHelpFlag(argv []string) bool {
	for _, a := range argv {
		if a == "-h" || a == "-help" || a == "--help" {
			return true
		}
	}
	return false
}

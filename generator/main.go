package main

import (
	"fmt"
	"log"
	"os"

	"github.com/jessevdk/go-flags"
)

type buildCommand struct {
	Force       bool     `short:"f" long:"force" description:"Overwrite existing output file"`
	InitBinary  string   `long:"init-binary" description:"nerves_initramfs 'init' binary location"`
	Compression string   `long:"compression" choice:"zstd" choice:"gzip" choice:"xz" choice:"lz4" choice:"none" description:"Output file compression"`
	ConfigFile  string   `short:"c" long:"config" description:"Generator configuration file path"`
	Script      string   `long:"script" description:"Configuration script added to the image as /nerves_initramfs.conf"`
	ExtraFiles  []string `long:"extra-file" description:"Extra file in form of host_path[:image_path], can be repeated"`

	WaitAttempts    int    `long:"wait-attempts" description:"Number of attempts to find the root device"`
	WaitInterval    string `long:"wait-interval" description:"Delay between the root device lookups, e.g. 10us"`
	WaitBackoff     string `long:"wait-backoff" choice:"constant" choice:"exponential" description:"Growth of the delay between lookups"`
	WaitMaxInterval string `long:"wait-max-interval" description:"Upper bound for the exponential delay"`
	LogLevel        string `long:"log-level" choice:"debug" choice:"info" choice:"warning" choice:"error" description:"init verbosity"`

	Args struct {
		Output string `positional-arg-name:"output" description:"Output image file"`
	} `positional-args:"true" required:"true"`
}

var opts struct {
	Verbose bool `short:"v" long:"verbose" description:"Enable verbose output"`

	BuildCommand buildCommand `command:"build" description:"Build initramfs image"`

	CatCommand struct {
		Args struct {
			Image string `positional-arg-name:"image" description:"Initramfs image file"`
			File  string `positional-arg-name:"file" description:"File name inside the image"`
		} `positional-args:"true" required:"true"`
	} `command:"cat" description:"Print a file from the image to stdout"`

	LsCommand struct {
		Args struct {
			Image string `positional-arg-name:"image" description:"Initramfs image file"`
		} `positional-args:"true" required:"true"`
	} `command:"ls" description:"List content of the image"`

	UnpackCommand struct {
		Args struct {
			Image     string `positional-arg-name:"image" description:"Initramfs image file"`
			OutputDir string `positional-arg-name:"output_dir" description:"Directory to unpack the image to"`
		} `positional-args:"true" required:"true"`
	} `command:"unpack" description:"Unpack the image content to a directory"`
}

func debug(format string, v ...interface{}) {
	if opts.Verbose {
		fmt.Printf(format+"\n", v...)
	}
}

func warning(format string, v ...interface{}) {
	fmt.Fprintf(os.Stderr, "Warning: "+format+"\n", v...)
}

func runBuild() error {
	conf, err := readGeneratorConfig(opts.BuildCommand.ConfigFile, &opts.BuildCommand)
	if err != nil {
		return err
	}
	return generateInitRamfs(conf)
}

func main() {
	parser := flags.NewParser(&opts, flags.Default)
	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			os.Exit(0)
		}
		os.Exit(1)
	}

	var err error
	switch parser.Active.Name {
	case "build":
		err = runBuild()
	case "cat":
		err = runCat(opts.CatCommand.Args.Image, opts.CatCommand.Args.File, os.Stdout)
	case "ls":
		err = runLs(opts.LsCommand.Args.Image, os.Stdout)
	case "unpack":
		err = runUnpack(opts.UnpackCommand.Args.Image, opts.UnpackCommand.Args.OutputDir)
	default:
		err = fmt.Errorf("unknown command %s", parser.Active.Name)
	}
	if err != nil {
		log.Fatal(err)
	}
}

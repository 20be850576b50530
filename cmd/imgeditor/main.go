/*******************************************************************************
*
* Copyright 2024 The imgeditor Authors.
*
* This file is part of imgeditor.
*
* imgeditor is free software: you can redistribute it and/or modify it under
* the terms of the GNU General Public License as published by the Free
* Software Foundation, either version 3 of the License, or (at your option)
* any later version.
*
* imgeditor is distributed in the hope that it will be useful, but WITHOUT
* ANY WARRANTY; without even the implied warranty of MERCHANTABILITY or
* FITNESS FOR A PARTICULAR PURPOSE. See the GNU General Public License for
* more details.
*
* You should have received a copy of the GNU General Public License along
* with imgeditor. If not, see <http://www.gnu.org/licenses/>.
*
*******************************************************************************/

// Command imgeditor is the firmware image inspector/(re)builder CLI: list,
// unpack, pack, peek and search the image formats registered under
// pkg/formats.
package main

import (
	"fmt"
	"os"

	flag "github.com/spf13/pflag"

	"github.com/imgeditor/imgeditor/internal/imgedit"
	"github.com/imgeditor/imgeditor/internal/vfile"

	_ "github.com/imgeditor/imgeditor/pkg/formats/allwinner/carboot"
	_ "github.com/imgeditor/imgeditor/pkg/formats/allwinner/egon"
	_ "github.com/imgeditor/imgeditor/pkg/formats/allwinner/sunximbr"
	_ "github.com/imgeditor/imgeditor/pkg/formats/allwinner/sysconfig"
	_ "github.com/imgeditor/imgeditor/pkg/formats/androidbootimg"
	_ "github.com/imgeditor/imgeditor/pkg/formats/androidsparse"
	_ "github.com/imgeditor/imgeditor/pkg/formats/ext2"
	_ "github.com/imgeditor/imgeditor/pkg/formats/fdt"
	_ "github.com/imgeditor/imgeditor/pkg/formats/gpt"
	_ "github.com/imgeditor/imgeditor/pkg/formats/mbr"
	_ "github.com/imgeditor/imgeditor/pkg/formats/tzfile"
	_ "github.com/imgeditor/imgeditor/pkg/formats/uboot/envimg"
)

// version is the imgeditor release string printed by --version.
const version = "0.1.0"

const defaultPluginPath = "/usr/local/lib/imgeditor-plugin"

func usage(ctx *imgedit.Context) {
	fmt.Fprintf(os.Stderr, "imgeditor %s: firmware image edit tools\n", version)
	fmt.Fprintf(os.Stderr, "Usage: imgeditor [OPTIONS] [outfile] [-- SUBOPTIONS]\n\n")
	fmt.Fprintf(os.Stderr, "   --offset offset     set the offset location\n")
	fmt.Fprintf(os.Stderr, "   --sector sector     set the offset location in sectors\n")
	fmt.Fprintf(os.Stderr, "   --sector-size sz    set the sector's size, default is 512\n")
	fmt.Fprintf(os.Stderr, "   --peek image        peek the binary location in image's @offset/@sector and save it\n")
	fmt.Fprintf(os.Stderr, "   --unpack image      unpack all\n")
	fmt.Fprintf(os.Stderr, "   --pack firmware-dir pack firmwares to a image file\n")
	fmt.Fprintf(os.Stderr, "   --type type         select the image type\n")
	fmt.Fprintf(os.Stderr, "-s --search            search supported images\n")
	fmt.Fprintf(os.Stderr, "-v --verbose           set the verbose mode\n")
	fmt.Fprintf(os.Stderr, "   --plugin path       set the plugin library's path. Default %s\n", defaultPluginPath)
	fmt.Fprintf(os.Stderr, "   --list-plugin       show all registered plugins\n")
	fmt.Fprintf(os.Stderr, "   --disable-plugin    disable all plugins\n")
	fmt.Fprintf(os.Stderr, "-h --help              show this message\n\n")

	fmt.Fprintf(os.Stderr, "Available image types:\n")
	for _, e := range ctx.Registry().All() {
		fmt.Fprintf(os.Stderr, "  %-20s %s\n", e.Name(), e.Descriptor())
	}
}

// options holds every flag imgeditor accepts, mirroring main.c's
// imgeditor_options[] table one-for-one.
type options struct {
	typeName       string
	offset         uint64
	sector         uint64
	sectorSize     uint64
	pluginPath     string
	disablePlugin  bool
	listPlugin     bool
	unpackFile     string
	packDir        string
	peekFile       string
	search         bool
	verbose        int
	help           bool
	showVersion    bool
}

func parseOptions(args []string) (*options, []string, error) {
	fs := flag.NewFlagSet("imgeditor", flag.ContinueOnError)
	fs.Usage = func() {}
	fs.SetOutput(discardWriter{})

	o := &options{pluginPath: defaultPluginPath, sectorSize: 512}

	fs.StringVar(&o.typeName, "type", "", "select the image type")
	fs.Uint64Var(&o.offset, "offset", 0, "set the offset location")
	fs.Uint64Var(&o.sector, "sector", 0, "set the offset location in sectors")
	fs.Uint64Var(&o.sectorSize, "sector-size", 512, "set the sector's size")
	fs.StringVar(&o.pluginPath, "plugin", defaultPluginPath, "set the plugin library's path")
	fs.BoolVar(&o.disablePlugin, "disable-plugin", false, "disable all plugins")
	fs.BoolVar(&o.listPlugin, "list-plugin", false, "show all registered plugins")
	fs.StringVar(&o.unpackFile, "unpack", "", "unpack all")
	fs.StringVar(&o.packDir, "pack", "", "pack firmwares to an image file")
	fs.StringVar(&o.peekFile, "peek", "", "peek the binary location and save it")
	fs.BoolVarP(&o.search, "search", "s", false, "search supported images")
	fs.CountVarP(&o.verbose, "verbose", "v", "set the verbose mode")
	fs.BoolVarP(&o.help, "help", "h", false, "show this message")
	fs.BoolVar(&o.showVersion, "version", false, "print the version")

	if err := fs.Parse(args); err != nil {
		return nil, nil, err
	}
	return o, fs.Args(), nil
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func main() {
	os.Exit(run(os.Args[1:]))
}

func run(argv []string) int {
	ctx := imgedit.NewContextWithDefaults()

	// args after '--' belong to the subcommand, not to imgeditor itself.
	mainArgs := argv
	var subArgs []string
	for i, a := range argv {
		if a == "--" {
			mainArgs = argv[:i]
			subArgs = argv[i+1:]
			break
		}
	}

	o, rest, err := parseOptions(mainArgs)
	if err != nil {
		usage(ctx)
		return 1
	}
	ctx.VerboseLevel = o.verbose

	if o.help {
		usage(ctx)
		return 0
	}
	if o.showVersion {
		fmt.Println(version)
		return 0
	}

	if !o.disablePlugin {
		if err := ctx.LoadPluginDir(o.pluginPath); err != nil {
			imgedit.ShowWarning(err.Error())
		}
	}

	if len(mainArgs) == 0 && len(subArgs) == 0 {
		usage(ctx)
		return 0
	}

	if o.listPlugin {
		for _, p := range ctx.Plugins() {
			fmt.Printf("%-20s %s\n", p.Path, p.Editors)
		}
		return 0
	}

	offset := int64(o.offset)
	if o.sector != 0 {
		offset = int64(o.sector * o.sectorSize)
	}

	var outFile string
	if len(rest) > 0 {
		outFile = rest[0]
	}

	if o.search {
		return runSearch(ctx, outFile, offset)
	}

	switch {
	case o.peekFile != "":
		return runPeek(ctx, o.typeName, o.peekFile, outFile, offset)
	case o.unpackFile != "":
		return runUnpack(ctx, o.typeName, o.unpackFile, outFile, offset)
	case o.packDir != "":
		return runPack(ctx, o.typeName, o.packDir, outFile)
	case outFile != "":
		return runList(ctx, o.typeName, outFile, offset)
	case o.typeName != "":
		// `imgeditor --type gpt -- xxx` runs the editor's own subcommand.
		return runMain(ctx, o.typeName, subArgs)
	default:
		usage(ctx)
		return 1
	}
}

func openInput(path string, offset int64) (*vfile.File, error) {
	return vfile.Open(path, offset)
}

func runList(ctx *imgedit.Context, typeName, path string, offset int64) int {
	fh, err := openInput(path, offset)
	if err != nil {
		imgedit.ShowError(err)
		return 1
	}
	defer fh.Close()

	if err := ctx.RunList(fh, typeName); err != nil {
		imgedit.ShowError(err)
		return 1
	}
	return 0
}

func runUnpack(ctx *imgedit.Context, typeName, path, outFile string, offset int64) int {
	fh, err := openInput(path, offset)
	if err != nil {
		imgedit.ShowError(err)
		return 1
	}
	defer fh.Close()

	out := outFile
	if out == "" {
		out = imgedit.DefaultUnpackPath(path)
	}
	if err := ctx.RunUnpack(fh, typeName, out); err != nil {
		imgedit.ShowError(err)
		return 1
	}
	return 0
}

func runPack(ctx *imgedit.Context, typeName, dir, outFile string) int {
	if outFile == "" {
		imgedit.ShowError(fmt.Errorf("%w: the output file is not selected", imgedit.ErrConfig))
		return 1
	}
	out, err := vfile.OpenForWrite(outFile)
	if err != nil {
		imgedit.ShowError(err)
		return 1
	}
	defer out.Close()

	if err := ctx.RunPack(dir, typeName, out); err != nil {
		imgedit.ShowError(err)
		return 1
	}
	return 0
}

func runPeek(ctx *imgedit.Context, typeName, path, outFile string, offset int64) int {
	if outFile == "" {
		imgedit.ShowError(fmt.Errorf("%w: the output file is not selected", imgedit.ErrConfig))
		return 1
	}
	fh, err := openInput(path, offset)
	if err != nil {
		imgedit.ShowError(err)
		return 1
	}
	defer fh.Close()

	out, err := vfile.OpenForWrite(outFile)
	if err != nil {
		imgedit.ShowError(err)
		return 1
	}
	defer out.Close()

	if err := ctx.RunPeek(fh, typeName, out); err != nil {
		imgedit.ShowError(err)
		return 1
	}
	return 0
}

func runSearch(ctx *imgedit.Context, path string, offset int64) int {
	fh, err := openInput(path, offset)
	if err != nil {
		imgedit.ShowError(err)
		return 1
	}
	defer fh.Close()

	ctx.InSearchMode = true
	hits, err := ctx.Search(fh)
	if err != nil {
		imgedit.ShowError(err)
		return 1
	}
	if len(hits) == 0 {
		imgedit.ShowError(fmt.Errorf("%w: no image found in %s", imgedit.ErrBadMagic, path))
		return 1
	}
	for _, h := range hits {
		if h.HasPart {
			fmt.Printf("0x%08x: %-20s (partition %q)\n", h.Offset, h.Name, h.Partition.Name)
		} else {
			fmt.Printf("0x%08x: %s\n", h.Offset, h.Name)
		}
	}
	return 0
}

func runMain(ctx *imgedit.Context, typeName string, subArgs []string) int {
	if err := ctx.RunMain(nil, typeName, subArgs); err != nil {
		imgedit.ShowError(err)
		return 1
	}
	return 0
}

package command

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/urfave/cli/v2"

	"runmgr/pkg/samplesheet"
)

// ErrSheetWarnings is returned by verify when the sheet has findings.
var ErrSheetWarnings = errors.New("sample sheet has warnings")

// SsmgrDeps are the seams of the ssmgr application.
type SsmgrDeps struct {
	Stdout io.Writer
	Stderr io.Writer
}

// BuildSsmgrApp returns the sample sheet tool.
func BuildSsmgrApp(deps SsmgrDeps) *cli.App {
	return &cli.App{
		Name:      "ssmgr",
		Usage:     "inspect, verify and rewrite Illumina sample sheets",
		Writer:    writerOr(deps.Stdout, os.Stdout),
		ErrWriter: writerOr(deps.Stderr, os.Stderr),
		Commands: []*cli.Command{
			{
				Name:      "show",
				Usage:     "list projects, sample counts and barcode configurations",
				ArgsUsage: "SHEET",
				Action:    withSheet(showSheet),
			},
			{
				Name:      "verify",
				Usage:     "report barcode collisions and other sheet problems",
				ArgsUsage: "SHEET",
				Action:    withSheet(verifySheet),
			},
			{
				Name:      "save",
				Usage:     "parse and write the sheet back",
				ArgsUsage: "SHEET",
				Flags:     []cli.Flag{outputFlag()},
				Action:    withSheet(saveSheet),
			},
			{
				Name:      "split",
				Usage:     "write one sheet per project (or per lane) next to SHEET",
				ArgsUsage: "SHEET",
				Flags: []cli.Flag{
					&cli.BoolFlag{Name: "by-lane", Usage: "split by lane instead of by project"},
				},
				Action: splitSheet,
			},
			{
				Name:      "distance",
				Usage:     "print the minimum barcode distance of each project",
				ArgsUsage: "SHEET [PROJECT...]",
				Action:    withSheet(barcodeDistance),
			},
			{
				Name:      "findbc",
				Usage:     "find indexes close to the given barcodes",
				ArgsUsage: "SHEET BARCODE...",
				Flags: []cli.Flag{
					&cli.IntFlag{Name: "max", Aliases: []string{"m"}, Value: 1, Usage: "maximum mismatches"},
				},
				Action: withSheet(findBarcodes),
			},
			{
				Name:      "update",
				Usage:     "replace sample indexes from a tab-separated file",
				ArgsUsage: "SHEET UPDATES",
				Flags:     []cli.Flag{outputFlag()},
				Action:    withSheet(updateBarcodes),
			},
			{
				Name:      "revcomp",
				Usage:     "reverse complement, reverse, swap or drop index columns",
				ArgsUsage: "SHEET",
				Flags: []cli.Flag{
					outputFlag(),
					&cli.BoolFlag{Name: "i7", Aliases: []string{"1"}, Usage: "reverse complement index 1"},
					&cli.BoolFlag{Name: "i5", Aliases: []string{"2"}, Usage: "reverse complement index 2"},
					&cli.BoolFlag{Name: "reverse1", Usage: "reverse index 1"},
					&cli.BoolFlag{Name: "reverse2", Usage: "reverse index 2"},
					&cli.BoolFlag{Name: "swap", Usage: "swap index 1 and index 2"},
					&cli.BoolFlag{Name: "drop-i5", Usage: "remove index 2"},
				},
				Action: withSheet(editIndexes),
			},
		},
	}
}

func outputFlag() cli.Flag {
	return &cli.StringFlag{Name: "output", Aliases: []string{"o"}, Usage: "write the sheet here instead of stdout"}
}

func withSheet(fn func(c *cli.Context, sheet *samplesheet.Sheet) error) cli.ActionFunc {
	return func(c *cli.Context) error {
		if c.NArg() < 1 {
			return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
		}
		sheet, err := samplesheet.ParseFile(c.Args().First())
		if err != nil {
			return err
		}
		return fn(c, sheet)
	}
}

func showSheet(c *cli.Context, sheet *samplesheet.Sheet) error {
	tw := newTable(c.App.Writer)
	fmt.Fprintln(tw, "PROJECT\tLANES\tSAMPLES")
	for _, name := range sheet.ProjectOrder {
		p := sheet.Projects[name]
		fmt.Fprintf(tw, "%s\t%s\t%d\n", p.Name, strings.Join(p.LaneOrder, ","), p.NumSamples())
	}
	if err := tw.Flush(); err != nil {
		return err
	}
	fmt.Fprintln(c.App.Writer)
	tw = newTable(c.App.Writer)
	fmt.Fprintln(tw, "PROJECT\tBARCODES\tMISMATCHED")
	for _, cfg := range samplesheet.BarcodeConfigurations(sheet) {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", cfg.Project, cfg.Signature, strings.Join(cfg.Mismatched, ", "))
	}
	return tw.Flush()
}

func verifySheet(c *cli.Context, sheet *samplesheet.Sheet) error {
	warnings := samplesheet.NewVerifier().Verify(sheet)
	for _, w := range warnings {
		fmt.Fprintln(c.App.ErrWriter, w.Message)
	}
	fmt.Fprintf(c.App.Writer, "%d warnings\n", len(warnings))
	if len(warnings) > 0 {
		return ErrSheetWarnings
	}
	return nil
}

func saveSheet(c *cli.Context, sheet *samplesheet.Sheet) error {
	return writeSheet(c, sheet)
}

// writeSheet saves to the --output path when given, stdout otherwise.
func writeSheet(c *cli.Context, sheet *samplesheet.Sheet) error {
	path := c.String("output")
	if path == "" {
		return sheet.Save(c.App.Writer)
	}
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := sheet.Save(f); err != nil {
		_ = f.Close()
		return err
	}
	return f.Close()
}

func splitSheet(c *cli.Context) error {
	if c.NArg() < 1 {
		return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	path := c.Args().First()
	var (
		outputs  []samplesheet.SplitOutput
		warnings []string
		err      error
	)
	if c.Bool("by-lane") {
		var sheet *samplesheet.Sheet
		sheet, err = samplesheet.ParseFile(path)
		if err != nil {
			return err
		}
		base := strings.TrimSuffix(path, filepath.Ext(path))
		outputs, err = samplesheet.SplitByLane(sheet, base, func(p string) (io.WriteCloser, error) { return os.Create(p) })
	} else {
		outputs, warnings, err = samplesheet.SplitFile(path)
	}
	for _, w := range warnings {
		fmt.Fprintln(c.App.ErrWriter, w)
	}
	for _, o := range outputs {
		fmt.Fprintf(c.App.Writer, "%s\t%s\n", o.Project, o.Path)
	}
	return err
}

func barcodeDistance(c *cli.Context, sheet *samplesheet.Sheet) error {
	names := c.Args().Tail()
	if len(names) == 0 {
		names = sheet.ProjectOrder
	}
	tw := newTable(c.App.Writer)
	fmt.Fprintln(tw, "PROJECT\tSAMPLES\tMIN DISTANCE")
	for _, name := range names {
		p, ok := sheet.Projects[name]
		if !ok {
			return fmt.Errorf("project %s not in sheet", name)
		}
		dist := "-"
		if d, ok := samplesheet.MinBarcodeDistance(p); ok {
			dist = fmt.Sprint(d)
		}
		fmt.Fprintf(tw, "%s\t%d\t%s\n", p.Name, p.NumSamples(), dist)
	}
	return tw.Flush()
}

func findBarcodes(c *cli.Context, sheet *samplesheet.Sheet) error {
	barcodes := c.Args().Tail()
	if len(barcodes) == 0 {
		return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	tw := newTable(c.App.Writer)
	for _, bc := range barcodes {
		for _, m := range samplesheet.FindSimilarBarcodes(sheet, bc, c.Int("max")) {
			fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%d\n", bc, m.Project, m.Sample, m.Index, m.Distance)
		}
	}
	return tw.Flush()
}

func updateBarcodes(c *cli.Context, sheet *samplesheet.Sheet) error {
	if c.NArg() < 2 {
		return fmt.Errorf("%s: expected %s", c.Command.Name, c.Command.ArgsUsage)
	}
	updates, err := samplesheet.ReadBarcodeUpdatesFile(c.Args().Get(1))
	if err != nil {
		return err
	}
	n := sheet.ApplyBarcodeUpdates(updates)
	fmt.Fprintf(c.App.ErrWriter, "%d samples updated\n", n)
	return writeSheet(c, sheet)
}

func editIndexes(c *cli.Context, sheet *samplesheet.Sheet) error {
	err := sheet.EditIndexes(samplesheet.IndexEdit{
		RevComp1: c.Bool("i7"),
		RevComp2: c.Bool("i5"),
		Reverse1: c.Bool("reverse1"),
		Reverse2: c.Bool("reverse2"),
		Swap:     c.Bool("swap"),
		DropI5:   c.Bool("drop-i5"),
	})
	if err != nil {
		return err
	}
	return writeSheet(c, sheet)
}

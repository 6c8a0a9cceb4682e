package command

import (
	"fmt"
	"io"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"

	"runmgr/internal/core"
	"runmgr/pkg/domain"
)

func newTable(w io.Writer) *tabwriter.Writer {
	return tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
}

func writeRunTable(w io.Writer, runs []domain.RunActivity) error {
	tw := newTable(w)
	fmt.Fprintln(tw, "ID\tRUN\tCREATED\tSTATUS\tDXU")
	for _, ra := range runs {
		fmt.Fprintf(tw, "%d\t%s\t%s\t%s\t%s\n", ra.Run.ID, ra.Run.ExperimentName, ra.Run.DateCreated, ra.Run.Status, ra.Operations.Summary())
	}
	return tw.Flush()
}

func writeOperations(w io.Writer, run domain.Run, ops domain.Operations) error {
	tw := newTable(w)
	fmt.Fprintf(tw, "Run\t%s\n", run.ExperimentName)
	fmt.Fprintf(tw, "  Download:\t%s\n", stageLine(ops.Download, ops.DownloadStart, ops.DownloadEnd))
	fmt.Fprintf(tw, "  Demux:\t%s\n", stageLine(ops.Demux, ops.DemuxStart, ops.DemuxEnd))
	fmt.Fprintf(tw, "  Upload:\t%s\n", ops.Upload)
	return tw.Flush()
}

func writeRunDetail(w io.Writer, d core.RunDetail) error {
	m := d.Run.Metadata
	sheet := d.Run.SampleSheet
	if sheet == "" {
		sheet = "(none)"
	}
	tw := newTable(w)
	fmt.Fprintf(tw, "Run:\t%s (%d)\n", d.Run.ExperimentName, d.Run.ID)
	fmt.Fprintf(tw, "Status:\t%s\n", d.Run.Status)
	fmt.Fprintf(tw, "Flowcell:\t%s\n", m.FlowcellBarcode)
	fmt.Fprintf(tw, "Lanes:\t%d\n", m.SequencingStats.NumLanes)
	fmt.Fprintf(tw, "Instrument:\t%s (%s)\n", m.InstrumentName, m.InstrumentType)
	fmt.Fprintf(tw, "Configuration:\t%s\n", m.Configuration())
	fmt.Fprintf(tw, "Sample sheet:\t%s\n", sheet)
	fmt.Fprintf(tw, "Download:\t%s\n", stageLine(d.Operations.Download, d.Operations.DownloadStart, d.Operations.DownloadEnd))
	fmt.Fprintf(tw, "Demux:\t%s\n", stageLine(d.Operations.Demux, d.Operations.DemuxStart, d.Operations.DemuxEnd))
	fmt.Fprintf(tw, "Upload:\t%s\n", d.Operations.Upload)
	if err := tw.Flush(); err != nil {
		return err
	}
	if len(d.Projects) == 0 {
		_, err := fmt.Fprintln(w, "\n(no projects yet)")
		return err
	}
	fmt.Fprintln(w)
	tw = newTable(w)
	fmt.Fprintln(tw, "PROJECT\tSTATUS\tDEMUX\tUPLOAD")
	for _, p := range d.Projects {
		demux := "N"
		if d.Demultiplexed[p.Name] {
			demux = "Y"
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", p.Name, p.Status, demux, stageLine(p.Upload, p.UploadStart, p.UploadEnd))
	}
	return tw.Flush()
}

// stageLine renders a code with the most recent of its timestamps.
func stageLine(code domain.OpCode, start, end time.Time) string {
	switch {
	case !end.IsZero() && (code == domain.OpCompleted || code == domain.OpFailed):
		return fmt.Sprintf("%s, %s", code, humanize.Time(end))
	case !start.IsZero() && code == domain.OpOngoing:
		return fmt.Sprintf("%s, since %s", code, humanize.Time(start))
	default:
		return code.String()
	}
}

package main

import (
	"fmt"
	"math"
	"sync"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pterm/pterm"

	"github.com/MuscularCrab/SolSolve/pkg/dataset"
	"github.com/MuscularCrab/SolSolve/pkg/labeler"
	"github.com/MuscularCrab/SolSolve/pkg/pipeline"
)

// spinnerObserver shows one spinner per running training stage.
type spinnerObserver struct {
	mu       sync.Mutex
	multi    *pterm.MultiPrinter
	spinners map[string]*pterm.SpinnerPrinter
}

func newSpinnerObserver() *spinnerObserver {
	o := &spinnerObserver{spinners: map[string]*pterm.SpinnerPrinter{}}
	multi := pterm.DefaultMultiPrinter
	if started, err := multi.Start(); err == nil {
		o.multi = started
	}
	return o
}

func (o *spinnerObserver) StageStarted(name string) {
	o.mu.Lock()
	defer o.mu.Unlock()
	printer := pterm.DefaultSpinner.WithRemoveWhenDone(false)
	if o.multi != nil {
		printer = printer.WithWriter(o.multi.NewWriter())
	}
	spinner, err := printer.Start("training " + name)
	if err != nil {
		return
	}
	o.spinners[name] = spinner
}

func (o *spinnerObserver) StageFinished(r pipeline.StageResult) {
	o.mu.Lock()
	defer o.mu.Unlock()
	spinner, ok := o.spinners[r.Name]
	if !ok {
		// skipped stages never started
		pterm.Warning.Printfln("%s skipped: %v", r.Name, r.Err)
		return
	}
	delete(o.spinners, r.Name)
	elapsed := r.Duration.Round(time.Second)
	switch r.State {
	case pipeline.StageCompleted:
		spinner.Success(fmt.Sprintf("%s done (%s)", r.Name, elapsed))
	default:
		spinner.Fail(fmt.Sprintf("%s failed after %s: %v", r.Name, elapsed, r.Err))
	}
}

// Stop ends any spinner still running and the shared printer.
func (o *spinnerObserver) Stop() {
	o.mu.Lock()
	defer o.mu.Unlock()
	for name, s := range o.spinners {
		_ = s.Stop()
		delete(o.spinners, name)
	}
	if o.multi != nil {
		_, _ = o.multi.Stop()
	}
}

func stageTable(res *pipeline.Result) string {
	t := table.NewWriter()
	t.SetTitle("Training stages")
	t.AppendHeader(table.Row{"Stage", "State", "Duration", "Error"})
	for _, name := range res.Order {
		s := res.Stages[name]
		errText := ""
		if s.Err != nil {
			errText = s.Err.Error()
		}
		t.AppendRow(table.Row{s.Name, string(s.State), s.Duration.Round(time.Second).String(), errText})
	}
	return t.Render()
}

func modelTable(models []pipeline.ModelFile) string {
	t := table.NewWriter()
	t.SetTitle("Models")
	t.AppendHeader(table.Row{"File", "Size"})
	for _, m := range models {
		t.AppendRow(table.Row{m.Name, m.HumanSize()})
	}
	return t.Render()
}

func distributionTable(name string, d dataset.Distribution) string {
	t := table.NewWriter()
	t.SetTitle(fmt.Sprintf("%s (%s)", name, d.Dir))
	t.AppendHeader(table.Row{"Class", "Images"})
	for _, c := range d.Classes {
		t.AppendRow(table.Row{c.Label, c.Count})
	}
	for _, c := range d.Unknown {
		t.AppendRow(table.Row{c.Label + " (unknown)", c.Count})
	}
	t.AppendFooter(table.Row{"Total", d.Total()})
	switch ratio := d.ImbalanceRatio(); {
	case math.IsInf(ratio, 1):
		t.AppendFooter(table.Row{"Imbalance", "empty class"})
	default:
		t.AppendFooter(table.Row{"Imbalance", fmt.Sprintf("%.1fx", ratio)})
	}
	return t.Render()
}

func verifyTable(r dataset.VerifyReport) string {
	t := table.NewWriter()
	t.SetTitle("Detection data")
	t.AppendHeader(table.Row{"Split", "Images", "Labeled", "Objects", "Unlabeled", "Invalid"})
	for _, row := range []struct {
		name string
		s    dataset.SplitCheck
	}{{"train", r.Train}, {"val", r.Val}} {
		t.AppendRow(table.Row{row.name, row.s.Images, row.s.Labeled, row.s.Objects, len(row.s.Unlabeled), len(row.s.Invalid)})
	}
	return t.Render()
}

func sortTable(r labeler.Report) string {
	t := table.NewWriter()
	t.SetTitle("Sorted crops")
	t.AppendHeader(table.Row{"Image", "Answer", "Confidence", "Folder"})
	for _, d := range r.Decisions {
		t.AppendRow(table.Row{d.Asset.Name(), d.Suggestion.Label, fmt.Sprintf("%.2f", d.Suggestion.Confidence), d.Folder()})
	}
	t.AppendFooter(table.Row{"", "", "Failed", len(r.Failures)})
	return t.Render()
}

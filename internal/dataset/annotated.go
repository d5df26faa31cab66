package dataset

import (
	"bytes"
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strings"
	"sync"

	"github.com/banshee-data/winrate/internal/fsutil"
	"github.com/banshee-data/winrate/internal/votes"
)

// annotatedColumns is the header the long-format export must carry.
var annotatedColumns = []string{"task", "model_a", "model_b", "rater", "vote", "gold"}

// Annotated reads a long-format CSV export with one vote per line:
// task,model_a,model_b,rater,vote,gold. The file is parsed once on first use.
type Annotated struct {
	fs   fsutil.FileSystem
	path string

	once  sync.Once
	table *Table
	err   error
}

// NewAnnotated returns a source reading path through fs.
func NewAnnotated(fs fsutil.FileSystem, path string) *Annotated {
	return &Annotated{fs: fs, path: path}
}

func (a *Annotated) Name() string { return "Annotated" }

func (a *Annotated) load() (*Table, error) {
	a.once.Do(func() {
		data, err := a.fs.ReadFile(a.path)
		if err != nil {
			a.err = fmt.Errorf("read annotations: %w", err)
			return
		}
		a.table, a.err = ParseAnnotations(bytes.NewReader(data))
		if a.err != nil {
			a.err = fmt.Errorf("%s: %w", a.path, a.err)
		}
	})
	return a.table, a.err
}

func (a *Annotated) Generators(context.Context) ([]string, error) {
	t, err := a.load()
	if err != nil {
		return nil, err
	}
	return t.Generators(), nil
}

func (a *Annotated) Build(_ context.Context, req Request) (*votes.Matrix, *votes.Matrix, error) {
	t, err := a.load()
	if err != nil {
		return nil, nil, err
	}
	return assemble(t, req)
}

// ParseAnnotations reads the long-format CSV. Column order follows the
// header; extra columns are ignored.
func ParseAnnotations(r io.Reader) (*Table, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read header: %w", err)
	}
	pos := make(map[string]int, len(header))
	for i, h := range header {
		pos[strings.ToLower(strings.TrimSpace(h))] = i
	}
	for _, c := range annotatedColumns {
		if _, ok := pos[c]; !ok {
			return nil, fmt.Errorf("missing column %q", c)
		}
	}

	var rows []Annotation
	for line := 2; ; line++ {
		rec, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		field := func(name string) string {
			if i := pos[name]; i < len(rec) {
				return strings.TrimSpace(rec[i])
			}
			return ""
		}
		v, err := votes.ParseVote(field("vote"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		gold, err := votes.ParseLabel(field("gold"))
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		ann := Annotation{
			Task:   field("task"),
			ModelA: field("model_a"),
			ModelB: field("model_b"),
			Rater:  field("rater"),
			Vote:   v,
			Gold:   gold,
		}
		if ann.Task == "" || ann.ModelA == "" || ann.ModelB == "" || ann.Rater == "" {
			return nil, fmt.Errorf("line %d: task, models and rater are required", line)
		}
		rows = append(rows, ann)
	}
	return NewTable(rows), nil
}

package mask

import (
	"fmt"
	"io"

	"github.com/google/pprof/profile"
)

// WriteHeapProfile walks the collector's intrusive allgc list (§4.5)
// and emits a pprof-format heap profile, one "inuse_objects" sample
// bucketed per value tag (table, string, closure, userdata, thread).
// Embedders use this the way the teacher's pack uses
// runtime/pprof.WriteHeapProfile: a point-in-time snapshot written to
// any io.Writer, not wired into the VM's own execution path.
func (gs *GlobalState) WriteHeapProfile(w io.Writer) error {
	counts := make(map[Tag]int64)
	for o := gs.gc.allgc; o != nil; o = o.header().next {
		counts[o.header().tag]++
	}

	p := &profile.Profile{
		SampleType: []*profile.ValueType{{Type: "objects", Unit: "count"}},
		PeriodType: &profile.ValueType{Type: "heap", Unit: "objects"},
		Period:     1,
	}
	var nextID uint64 = 1
	for tag, n := range counts {
		fn := &profile.Function{ID: nextID, Name: fmt.Sprintf("mask.%s", tagProfileName(tag))}
		loc := &profile.Location{ID: nextID, Line: []profile.Line{{Function: fn, Line: 1}}}
		p.Function = append(p.Function, fn)
		p.Location = append(p.Location, loc)
		p.Sample = append(p.Sample, &profile.Sample{
			Location: []*profile.Location{loc},
			Value:    []int64{n},
		})
		nextID++
	}
	return p.Write(w)
}

// tagProfileName gives internal-only tags (upvalue, prototype) a
// readable profile label instead of Tag.String()'s "no value", since
// a heap profile benefits from distinguishing them where a value's
// own Type() query does not need to (§3).
func tagProfileName(t Tag) string {
	switch t {
	case tagUpvalue:
		return "upvalue"
	case tagPrototype:
		return "prototype"
	default:
		return t.String()
	}
}

package profiler

import (
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/google/pprof/profile"

	"github.com/psantana5/fluentd-launcher/internal/report"
)

type siteTotals struct {
	allocBytes   int64
	allocObjects int64
	inuseBytes   int64
	inuseObjects int64
}

// fillSites aggregates samples by leaf allocation site and by package
func fillSites(rep *report.Report, p *profile.Profile, topN int) {
	idx := map[string]int{"alloc_space": -1, "alloc_objects": -1, "inuse_space": -1, "inuse_objects": -1}
	for i, st := range p.SampleType {
		if _, ok := idx[st.Type]; ok {
			idx[st.Type] = i
		}
	}
	if idx["alloc_space"] < 0 || idx["alloc_objects"] < 0 {
		rep.AddNote("heap profile has no allocation sample types")
		return
	}

	value := func(s *profile.Sample, key string) int64 {
		i := idx[key]
		if i < 0 || i >= len(s.Value) {
			return 0
		}
		return s.Value[i]
	}

	bySite := make(map[string]*siteTotals)
	byPkg := make(map[string]*siteTotals)
	var total siteTotals

	for _, s := range p.Sample {
		t := siteTotals{
			allocBytes:   value(s, "alloc_space"),
			allocObjects: value(s, "alloc_objects"),
			inuseBytes:   value(s, "inuse_space"),
			inuseObjects: value(s, "inuse_objects"),
		}
		if t.allocBytes <= 0 && t.allocObjects <= 0 && t.inuseBytes <= 0 {
			continue
		}

		name, fn := leaf(s)
		add(bySite, name, t)
		add(byPkg, packageOf(fn), t)

		total.allocBytes += max(t.allocBytes, 0)
		total.allocObjects += max(t.allocObjects, 0)
		total.inuseBytes += max(t.inuseBytes, 0)
	}

	rep.AllocatedBytes = top(bySite, topN, total.allocBytes,
		func(t *siteTotals) (int64, int64) { return t.allocBytes, t.allocObjects }, true)
	rep.AllocatedObjects = top(bySite, topN, total.allocObjects,
		func(t *siteTotals) (int64, int64) { return t.allocBytes, t.allocObjects }, false)
	rep.RetainedBytes = top(bySite, topN, total.inuseBytes,
		func(t *siteTotals) (int64, int64) { return t.inuseBytes, t.inuseObjects }, true)
	rep.ByPackage = top(byPkg, topN, total.allocBytes,
		func(t *siteTotals) (int64, int64) { return t.allocBytes, t.allocObjects }, true)
}

func add(m map[string]*siteTotals, key string, t siteTotals) {
	cur, ok := m[key]
	if !ok {
		cur = &siteTotals{}
		m[key] = cur
	}
	cur.allocBytes += t.allocBytes
	cur.allocObjects += t.allocObjects
	cur.inuseBytes += t.inuseBytes
	cur.inuseObjects += t.inuseObjects
}

// leaf returns "func (file:line)" for the innermost non-runtime frame
func leaf(s *profile.Sample) (string, string) {
	var first *profile.Line
	for _, loc := range s.Location {
		for i := range loc.Line {
			line := &loc.Line[i]
			if line.Function == nil {
				continue
			}
			if first == nil {
				first = line
			}
			if !strings.HasPrefix(line.Function.Name, "runtime.") {
				return describe(line), line.Function.Name
			}
		}
	}
	if first == nil {
		return "(unknown)", ""
	}
	return describe(first), first.Function.Name
}

func describe(line *profile.Line) string {
	if line.Function.Filename == "" {
		return line.Function.Name
	}
	return fmt.Sprintf("%s (%s:%d)", line.Function.Name, filepath.Base(line.Function.Filename), line.Line)
}

// packageOf maps "github.com/a/b.(*T).M" to "github.com/a/b"
func packageOf(fn string) string {
	if fn == "" {
		return "(unknown)"
	}
	slash := strings.LastIndex(fn, "/")
	if dot := strings.Index(fn[slash+1:], "."); dot >= 0 {
		return fn[:slash+1+dot]
	}
	return fn
}

func top(m map[string]*siteTotals, n int, total int64, pick func(*siteTotals) (int64, int64), byBytes bool) []report.Site {
	sites := make([]report.Site, 0, len(m))
	for name, t := range m {
		b, o := pick(t)
		key := b
		if !byBytes {
			key = o
		}
		if key <= 0 {
			continue
		}

		pct := 0.0
		if total > 0 {
			pct = float64(key) / float64(total) * 100
		}
		sites = append(sites, report.Site{Name: name, Bytes: b, Objects: o, Pct: pct})
	}

	sort.Slice(sites, func(i, j int) bool {
		ki, kj := sites[i].Bytes, sites[j].Bytes
		if !byBytes {
			ki, kj = sites[i].Objects, sites[j].Objects
		}
		if ki != kj {
			return ki > kj
		}
		return sites[i].Name < sites[j].Name
	})

	if n > 0 && len(sites) > n {
		sites = sites[:n]
	}
	return sites
}

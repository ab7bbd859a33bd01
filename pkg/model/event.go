package model

import (
	"path/filepath"
	"strings"
)

// Op is the set of steps a deployment event reports.
type Op uint32

const (
	Bind Op = 1 << iota
	Unbind
	Reload
	Fail
)

var opNames = []struct {
	op   Op
	name string
}{
	{Unbind, "unbind"},
	{Bind, "bind"},
	{Reload, "reload"},
	{Fail, "failed"},
}

// Event reports a deployment step on one datasource, or on a whole file when
// Name equals File.
type Event struct {
	Name string
	File string
	Op   Op
}

// String renders the steps in the order they happen, e.g. "bind+reload".
func (op Op) String() string {
	names := make([]string, 0, len(opNames))
	for _, n := range opNames {
		if op&n.op != 0 {
			names = append(names, n.name)
		}
	}
	if len(names) == 0 {
		return "none"
	}
	return strings.Join(names, "+")
}

func (op Op) Has(h Op) bool { return op&h == h }

func (e Event) Failed() bool { return e.Op&Fail != 0 }

// String renders "<name> <op> (<file base>)"; file-level events omit the name.
func (e Event) String() string {
	file := filepath.Base(e.File)
	if e.Name == "" || e.Name == e.File {
		return e.Op.String() + " " + file
	}
	return e.Name + " " + e.Op.String() + " (" + file + ")"
}

package resolver

import "fmt"

// Target is a named deployment environment.
type Target string

const (
	TargetProd Target = "prod"
	TargetDev  Target = "dev"
)

// Location identifies a remote object in the store.
type Location struct {
	Project string
	Bucket  string
	Key     string
}

// Overrides carries an explicit project/bucket/key triple. All three fields
// must be set together; a partial override is rejected.
type Overrides struct {
	Project string
	Bucket  string
	Key     string
}

func (o Overrides) Empty() bool {
	return o.Project == "" && o.Bucket == "" && o.Key == ""
}

func (o Overrides) Complete() bool {
	return o.Project != "" && o.Bucket != "" && o.Key != ""
}

// InvalidTargetError reports a target that is not in the environment table,
// or an override triple that is only partially specified.
type InvalidTargetError struct {
	Target  Target
	Message string
}

func (e *InvalidTargetError) Error() string {
	return fmt.Sprintf("invalid target %q: %s", string(e.Target), e.Message)
}

// Table maps target names to object locations.
type Table map[Target]Location

// DefaultTable is the built-in environment table.
func DefaultTable() Table {
	return Table{
		TargetProd: {Bucket: "xai-cfg", Key: "siblings.json"},
		TargetDev:  {Bucket: "xai-cfg", Key: "siblings-dev.json"},
	}
}

// Resolve maps a target plus optional overrides to a concrete Location.
// A complete override wins verbatim regardless of target. Otherwise the
// target is looked up in the table; unknown targets fail before any I/O
// happens. Pure function, no side effects.
func Resolve(target Target, ov Overrides, table Table) (Location, error) {
	if ov.Complete() {
		return Location{Project: ov.Project, Bucket: ov.Bucket, Key: ov.Key}, nil
	}
	if !ov.Empty() {
		return Location{}, &InvalidTargetError{
			Target:  target,
			Message: "overrides must specify project, bucket and key together",
		}
	}
	if table == nil {
		table = DefaultTable()
	}
	loc, ok := table[target]
	if !ok {
		return Location{}, &InvalidTargetError{
			Target:  target,
			Message: fmt.Sprintf("not a configured environment (known: %v)", knownTargets(table)),
		}
	}
	return loc, nil
}

func knownTargets(table Table) []string {
	names := make([]string, 0, len(table))
	for _, t := range []Target{TargetProd, TargetDev} {
		if _, ok := table[t]; ok {
			names = append(names, string(t))
		}
	}
	for t := range table {
		if t != TargetProd && t != TargetDev {
			names = append(names, string(t))
		}
	}
	return names
}

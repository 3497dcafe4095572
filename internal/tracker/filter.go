package tracker

import "fmt"

type Filter uint8

const (
	FilterAll Filter = iota
	FilterModified
)

// FilterFor maps the CLI "modified only" flag to a Filter.
func FilterFor(modifiedOnly bool) Filter {
	if modifiedOnly {
		return FilterModified
	}
	return FilterAll
}

func (f Filter) String() string {
	switch f {
	case FilterAll:
		return "all"
	case FilterModified:
		return "modified"
	default:
		return fmt.Sprintf("Filter(%d)", uint8(f))
	}
}

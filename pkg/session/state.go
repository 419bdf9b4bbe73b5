package session

import "fmt"

// Phase is the lifecycle step of a view session.
type Phase int

const (
	Loading Phase = iota
	Done
	Failed
)

func (p Phase) String() string {
	switch p {
	case Loading:
		return "loading"
	case Done:
		return "done"
	case Failed:
		return "error"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// LoaderState is the view-level progress indicator. It lives beside the widget
// data, never inside it. Err is set only in the Failed phase.
type LoaderState struct {
	Phase Phase
	Err   error
}

func (s LoaderState) String() string {
	if s.Phase == Failed && s.Err != nil {
		return fmt.Sprintf("error(%v)", s.Err)
	}
	return s.Phase.String()
}

// Terminal reports whether no further transition can happen.
func (s LoaderState) Terminal() bool {
	return s.Phase != Loading
}

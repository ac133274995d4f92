package observe

import "github.com/jzx17/taskpool/pkg/types"

type multi []types.Observer

// Multi fans every event out to each non-nil observer in order
func Multi(observers ...types.Observer) types.Observer {
	out := make(multi, 0, len(observers))
	for _, o := range observers {
		if o != nil {
			out = append(out, o)
		}
	}
	return out
}

func (m multi) Observe(e types.Event) {
	for _, o := range m {
		o.Observe(e)
	}
}

package client

// CallState is the lifecycle of one client call.
type CallState int

const (
	StateIdle CallState = iota
	StatePreparing
	StateSending
	StateSucceeded
	StateFailed
)

func (s CallState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StatePreparing:
		return "preparing"
	case StateSending:
		return "sending"
	case StateSucceeded:
		return "succeeded"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// StateHook observes call state transitions. It is called synchronously on
// the calling goroutine and must not block.
type StateHook func(op string, s CallState)

// call tracks one operation through its states.
type call struct {
	op    string
	hook  StateHook
	state CallState
}

func (c *Client) begin(op string) *call {
	return &call{op: op, hook: c.hook, state: StateIdle}
}

func (k *call) to(s CallState) {
	k.state = s
	if k.hook != nil {
		k.hook(k.op, s)
	}
}

// fail moves the call to Failed and returns err.
func (k *call) fail(err *Error) error {
	k.to(StateFailed)
	return err
}

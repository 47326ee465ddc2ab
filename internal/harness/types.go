package harness

// TraceEvent records the observable result of one step. Unset fields are
// omitted so each op only shows what it produced.
type TraceEvent struct {
	Step            int            `json:"step"`
	Op              string         `json:"op"`
	Thread          string         `json:"thread,omitempty"`
	Outcome         string         `json:"outcome,omitempty"`
	Repeat          int            `json:"repeat,omitempty"`
	ExpectedVersion *uint32        `json:"expected_version,omitempty"`
	ActualVersion   *uint32        `json:"actual_version,omitempty"`
	Version         *uint32        `json:"version,omitempty"`
	Found           *bool          `json:"found,omitempty"`
	MessageCount    *int           `json:"message_count,omitempty"`
	RepliesCount    *int           `json:"replies_count,omitempty"`
	CreatedAt       string         `json:"created_at,omitempty"`
	LastMessage     *TraceMessage  `json:"last_message,omitempty"`
	Messages        []TraceMessage `json:"messages,omitempty"`
	Threads         []string       `json:"threads,omitempty"`
}

// TraceMessage is a projected message without its random id.
type TraceMessage struct {
	Number    int    `json:"number"`
	Content   string `json:"content"`
	CreatedAt string `json:"created_at"`
}

// Result is the outcome of a scenario execution.
type Result struct {
	// Pass is true when every step met its expected outcome and every
	// consistency check held.
	Pass bool `json:"pass"`

	Trace []TraceEvent `json:"trace"`

	Errors []string `json:"errors,omitempty"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:   true,
		Trace:  []TraceEvent{},
		Errors: []string{},
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

func (r *Result) addTrace(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}

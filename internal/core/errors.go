package core

import "fmt"

// RetrievalError aborts a request: the journal candidate set could not be
// produced. Never carries partial results.
type RetrievalError struct {
	Stage string // "date", "title_search", "semantic_search"
	Err   error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval failed at %s stage: %v", e.Stage, e.Err)
}

func (e *RetrievalError) Unwrap() error { return e.Err }

// SynthesisError aborts a request: the final answer could not be produced or
// parsed.
type SynthesisError struct {
	Op  string // "generate", "parse"
	Err error
}

func (e *SynthesisError) Error() string {
	return fmt.Sprintf("synthesis failed during %s: %v", e.Op, e.Err)
}

func (e *SynthesisError) Unwrap() error { return e.Err }

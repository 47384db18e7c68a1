// Package verify audits a generated answer against its evidence with three
// independent agents: E checks numbers, V checks factual support and L
// checks trend claims against metric history.
package verify

import "unicode/utf8"

// Agent identifies a verification agent.
type Agent string

const (
	AgentEarnings  Agent = "E"
	AgentValidity  Agent = "V"
	AgentLongevity Agent = "L"
)

// Status is an agent's verdict.
type Status string

const (
	StatusPass Status = "PASS"
	StatusFail Status = "FAIL"
)

// Result is one agent's verdict. A FAIL carries the agent's fixed penalty;
// a PASS carries none.
type Result struct {
	Agent      Agent   `json:"agent"`
	Status     Status  `json:"status"`
	Details    string  `json:"details"`
	Correction string  `json:"correction,omitempty"`
	Penalty    float64 `json:"penalty"`
}

// Passed reports whether the verdict is PASS.
func (r Result) Passed() bool { return r.Status == StatusPass }

func pass(agent Agent, details string) Result {
	return Result{Agent: agent, Status: StatusPass, Details: details}
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}

// Package chaoserrors defines the error taxonomy for the chaos pipeline.
// Data-path errors never propagate to the interceptor; they are recorded on
// the flow and counted. Only initialization and graceful-shutdown failures
// are terminal.
package chaoserrors

import (
	"errors"
	"fmt"
	"strings"
)

// Code identifies an error class in events and scorecard counters.
type Code string

const (
	CodePlanLoad         Code = "plan_load"
	CodeClassifier       Code = "classifier"
	CodeStrategy         Code = "strategy"
	CodeUpstream         Code = "upstream"
	CodeTapeMiss         Code = "tape_miss"
	CodeTapeIO           Code = "tape_io"
	CodeControlPlaneAuth Code = "control_plane_auth"
)

// Sentinel errors for errors.Is checks on wrapped failures.
var (
	ErrClassifier       = errors.New("classifier error")
	ErrStrategy         = errors.New("strategy error")
	ErrUpstream         = errors.New("upstream error")
	ErrTapeMiss         = errors.New("tape miss")
	ErrTapeIO           = errors.New("tape i/o error")
	ErrControlPlaneAuth = errors.New("control plane auth error")
)

// PlanLoadError reports every validation failure in a plan at once.
// Fatal at initial load, non-fatal on reload (the installed plan stays).
type PlanLoadError struct {
	Path     string
	Messages []string
}

func (e *PlanLoadError) Error() string {
	return fmt.Sprintf("plan load failed (%s): %s", e.Path, strings.Join(e.Messages, "; "))
}

// Code returns the error code for PlanLoadError.
func (e *PlanLoadError) Code() Code { return CodePlanLoad }

// StrategyError wraps a strategy's internal failure. The strategy is
// skipped; the pipeline continues.
type StrategyError struct {
	Strategy string
	Err      error
}

func (e *StrategyError) Error() string {
	return fmt.Sprintf("strategy %s: %v", e.Strategy, e.Err)
}

func (e *StrategyError) Unwrap() error { return ErrStrategy }

// TapeIOError wraps recorder/player I/O failures. Fatal during RECORD
// flush, non-fatal during append.
type TapeIOError struct {
	Op   string
	Path string
	Err  error
}

func (e *TapeIOError) Error() string {
	return fmt.Sprintf("tape %s %s: %v", e.Op, e.Path, e.Err)
}

func (e *TapeIOError) Unwrap() error { return ErrTapeIO }

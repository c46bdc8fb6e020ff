package formulary

import (
	"github.com/bianoble/formulary/internal/engine"
	"github.com/bianoble/formulary/internal/fetch"
	"github.com/bianoble/formulary/internal/formula"
	"github.com/bianoble/formulary/internal/ledger"
	"github.com/bianoble/formulary/internal/resolve"
)

// Type aliases re-export internal types as the public API.
// Users import "github.com/bianoble/formulary/pkg/formulary" and use
// formulary.InstallResult, formulary.CheckResult, etc.

type InstallOptions = engine.InstallOptions
type InstallResult = engine.InstallResult
type UninstallResult = engine.UninstallResult
type FormulaAction = engine.FormulaAction
type FormulaError = engine.FormulaError
type DependentsError = engine.DependentsError
type DriftEntry = engine.DriftEntry
type CheckResult = engine.CheckResult
type FormulaStatus = engine.FormulaStatus
type InfoResult = engine.InfoResult

type Plan = resolve.Plan
type PlanStep = resolve.Step

type FetchResult = fetch.PlanResult
type HTTPClient = fetch.HTTPClient

type Formula = formula.Record
type InstalledRecord = ledger.Record

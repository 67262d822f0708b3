// Package arbitration detects disagreements between agent outputs and
// resolves them.
//
// The Detector delegates semantic judgment to an Analyst (an LLM-backed
// reasoning capability) and applies severity filtering and
// classification on top. The Resolver computes a ResolutionOutcome from
// detected conflicts using one of six strategies, then writes the result
// to a Ledger; ledger failures never fail an arbitration.
package arbitration

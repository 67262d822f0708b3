// Package oracle is the LLM-backed reasoning capability behind the
// dialogue and arbitration engines. It implements dialogue.TurnGenerator
// and arbitration.Analyst on top of an OpenAI-compatible chat API.
//
// Every call carries a mandatory timeout and a single retry for
// transient failures; structured answers are requested as JSON and
// validated before they reach the engines.
package oracle

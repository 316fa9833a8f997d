// Package sandbox provides best-effort script execution for the playground.
//
// The sandbox package runs JavaScript, TypeScript and Vue single-file
// component text in an embedded ECMAScript engine (goja). Each execution is
// validated against a length ceiling, an ordered deny-list of patterns and a
// syntax check, then runs inside a scope that exposes only allow-listed
// globals while the shared host console is intercepted. Runs race a timeout
// and every outcome is reported through an ExecutionResult.
//
// This is a soft filter, not an isolation boundary. It is unsuitable for
// untrusted multi-tenant input: the deny-list matches text, the scope only
// shadows names, and memory figures are estimates.
//
// TypeScript and Vue input is reduced to plain script by the best-effort
// text reducers in reduce.go, whose failure modes are documented there.
//
// Usage:
//
//	executor := sandbox.NewExecutor(logger, sandbox.Options{Timeout: time.Second})
//	result := executor.Execute(ctx, sandbox.ExecuteRequest{
//	    Code:     "console.log(1 + 1)",
//	    Language: sandbox.LanguageJavaScript,
//	})
package sandbox

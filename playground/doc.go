// Package playground keeps the state of an interactive code playground on
// top of a sandbox executor.
//
// A Session records the last result or error, derives display metrics,
// accumulates console output and keeps a bounded execution log. It also
// offers the static helpers behind the editor: Validate for quick checks and
// Format for naive re-indentation.
//
// Usage:
//
//	session := playground.New(logger, executor, executor.Executor(), playground.DefaultOptions())
//	result := session.Execute(ctx, `console.log("hi")`, "javascript", nil)
//	fmt.Println(session.Metrics().OutputSize)
package playground

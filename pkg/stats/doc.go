// Package stats tracks proxd's run-time statistics and renders them for the
// stats endpoint.
//
// There are two pieces. Store holds the five connection counters behind a
// single mutex; request-handling code reports lifecycle transitions with
// Store.Update and readers take consistent copies with Store.Snapshot.
// Renderer turns a snapshot into a stats page: it picks a template by
// matching the client's Accept preference against an ordered format
// registry, falls back to a configured single template, and finally to a
// built-in minimal page, so a stats request always gets some valid answer.
//
// Only a failure to transmit the chosen response surfaces as an error; a
// missing or unreadable template silently degrades to the built-in page.
package stats

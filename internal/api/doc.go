// Package api exposes the marketplace over REST: wallet login, jobs, offers,
// battles, escrow, reviews and the public leaderboard. Routing uses gorilla/mux,
// errors are rendered as JSON with a status derived from their kind.
package api

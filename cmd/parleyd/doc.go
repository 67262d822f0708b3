// Command parleyd runs the multi-agent dialogue coordination service:
// session management, turn scheduling, interruption handling, and
// AI-moderated conflict arbitration behind an HTTP API.
package main

// Package bootapi is the one HTTP surface genesis-compute exposes (§6):
// GET /v1/boots/{uuid} for iPXE script requests, and POST
// /v1/agents/{uuid}/register for the core agent's content-hashed
// registration payload, plus /metrics, /health, /ready and /live for
// operational visibility. Everything else named in §3 is reached only
// through direct store writes (CLI/manifest apply), never a general REST
// API.
package bootapi
